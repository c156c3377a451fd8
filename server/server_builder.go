package server

import "log/slog"

// ServerBuilderOption is a functional option for configuring a Server via NewServer.
type ServerBuilderOption func(*Server)

// WithLogger sets the request logger. A nil logger keeps the no-op default.
//
// Parameters:
//   - logger: the logger to use
//
// Returns:
//   - ServerBuilderOption: option function to apply
func WithLogger(logger *slog.Logger) ServerBuilderOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxBodyBytes limits the size of an uploaded asset.
//
// Parameters:
//   - n: the limit in bytes
//
// Returns:
//   - ServerBuilderOption: option function to apply
func WithMaxBodyBytes(n int64) ServerBuilderOption {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithMaxDimension limits the width and height of a render.
//
// Parameters:
//   - n: the largest accepted width or height in pixels
//
// Returns:
//   - ServerBuilderOption: option function to apply
func WithMaxDimension(n uint32) ServerBuilderOption {
	return func(s *Server) {
		if n > 0 {
			s.maxDimension = n
		}
	}
}

// WithMaxInFlight limits how many render requests are served at once. Requests over the
// limit are rejected with 503 instead of queueing their buffers.
//
// Parameters:
//   - n: the number of concurrent renders
//
// Returns:
//   - ServerBuilderOption: option function to apply
func WithMaxInFlight(n int) ServerBuilderOption {
	return func(s *Server) {
		if n > 0 {
			s.inFlight = make(chan struct{}, n)
		}
	}
}
