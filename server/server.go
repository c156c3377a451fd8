// Package server exposes a render context over HTTP.
//
//	POST /v1/render?width=W&height=H   body: glTF JSON or GLB   -> image/png
//	GET  /v1/stats                                            -> render statistics
//	GET  /healthz
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Carmen-Shannon/gltf2image/api"
	"github.com/Carmen-Shannon/gltf2image/common"
	"github.com/Carmen-Shannon/gltf2image/engine/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	defaultMaxBodyBytes = 64 << 20
	defaultMaxDimension = 4096
	defaultMaxInFlight  = 4
)

// Server serves renders from one api.Context. Requests render one at a time in arrival order.
// At most maxInFlight requests hold an asset and output buffer at once; the rest get 503.
type Server struct {
	ctx    *api.Context
	logger *slog.Logger

	maxBodyBytes int64
	maxDimension uint32
	inFlight     chan struct{}
}

// ErrorEnvelope is the JSON body of every error response.
type ErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewServer creates a Server rendering on ctx. The server does not own ctx.
//
// Parameters:
//   - ctx: the render context
//   - options: functional options for server configuration
//
// Returns:
//   - *Server: the new server
func NewServer(ctx *api.Context, options ...ServerBuilderOption) *Server {
	s := &Server{
		ctx:          ctx,
		logger:       logging.Nop(),
		maxBodyBytes: defaultMaxBodyBytes,
		maxDimension: defaultMaxDimension,
		inFlight:     make(chan struct{}, defaultMaxInFlight),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with request ID, panic recovery and request logging.
//
// Returns:
//   - http.Handler: the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/render", s.render)
		r.Get("/stats", s.stats)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctx.Stats())
}

func (s *Server) render(w http.ResponseWriter, r *http.Request) {
	width, err := s.dimension(r, "width")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	height, err := s.dimension(r, "height")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	select {
	case s.inFlight <- struct{}{}:
		defer func() { <-s.inFlight }()
	default:
		w.Header().Set("Retry-After", "1")
		writeErr(w, http.StatusServiceUnavailable, "BUSY", "too many renders in flight")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErr(w, http.StatusRequestEntityTooLarge, "VALIDATION_ERROR", "asset exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
			return
		}
		writeErr(w, http.StatusBadRequest, "VALIDATION_ERROR", "failed to read body")
		return
	}

	log := s.logger.With("request_id", middleware.GetReqID(r.Context()))

	asset, res := s.ctx.LoadAsset(data)
	if res != api.Success {
		writeResult(w, res)
		return
	}
	defer func() {
		if res := s.ctx.DestroyAsset(asset); res != api.Success {
			log.Warn("failed to destroy asset", "result", res.String())
		}
	}()

	out := make([]byte, common.RGBABufferSize(width, height))
	if res := s.ctx.RenderSync(width, height, []api.AssetHandle{asset}, out); res != api.Success {
		writeResult(w, res)
		return
	}

	var buf bytes.Buffer
	if err := common.EncodePNG(&buf, width, height, out); err != nil {
		log.Error("failed to encode png", "err", err)
		writeErr(w, http.StatusInternalServerError, api.UnknownError.String(), "failed to encode image")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// dimension parses a required positive size query parameter.
func (s *Server) dimension(r *http.Request, name string) (uint32, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, errors.New(name + " is required")
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || v == 0 {
		return 0, errors.New(name + " must be a positive integer")
	}
	if v > uint64(s.maxDimension) {
		return 0, errors.New(name + " must not exceed " + strconv.FormatUint(uint64(s.maxDimension), 10))
	}
	return uint32(v), nil
}

// logRequests echoes the request ID and logs every request when it completes, at a level
// matching its status.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		w.Header().Set(middleware.RequestIDHeader, middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		logFn := s.logger.Info
		if status >= 500 {
			logFn = s.logger.Error
		} else if status >= 400 {
			logFn = s.logger.Warn
		}
		logFn("request completed",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"size", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// StatusForResult maps a non-success result to an HTTP status. Caller-correctable
// failures are 422, the rest 500.
//
// Parameters:
//   - r: the result
//
// Returns:
//   - int: the HTTP status code
func StatusForResult(r api.Result) int {
	switch {
	case r == api.Success:
		return http.StatusOK
	case r.IsValidationFailure():
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeResult(w http.ResponseWriter, r api.Result) {
	writeErr(w, StatusForResult(r), r.String(), r.Err().Error())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErr(w http.ResponseWriter, status int, code, msg string) {
	var env ErrorEnvelope
	env.Error.Code = code
	env.Error.Message = msg
	writeJSON(w, status, env)
}
