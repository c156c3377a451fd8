package engine

import "errors"

var (
	// ErrWrongThread is returned when a render context is used from a thread other than its owner.
	// The context is left unmodified and stays usable.
	ErrWrongThread = errors.New("render context used from a thread other than its owner")

	// ErrCouldNotLoadAsset wraps every asset load failure.
	ErrCouldNotLoadAsset = errors.New("could not load asset")

	// ErrNoCamerasFound is returned when none of the assets of a render carries a camera.
	ErrNoCamerasFound = errors.New("no cameras found")

	// ErrTooManyCameras is returned when the assets of a render carry more than one camera.
	ErrTooManyCameras = errors.New("too many cameras")

	// ErrPixelBufferWrongSize is returned when the output buffer is not exactly width*height*4 bytes.
	ErrPixelBufferWrongSize = errors.New("pixel buffer has the wrong size")

	// ErrInvalidDimensions is returned for a zero width or height.
	ErrInvalidDimensions = errors.New("render width and height must be non-zero")

	// ErrRenderPanicked wraps a panic recovered while rendering.
	ErrRenderPanicked = errors.New("render panicked")

	// ErrContextClosed is returned by every call made after Close.
	ErrContextClosed = errors.New("render context closed")
)

// failureLabel names the outcome of a render for the profiler, or "" on success.
func failureLabel(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrWrongThread):
		return "WrongThread"
	case errors.Is(err, ErrPixelBufferWrongSize):
		return "PixelBufferWrongSize"
	case errors.Is(err, ErrNoCamerasFound):
		return "NoCamerasFound"
	case errors.Is(err, ErrTooManyCameras):
		return "TooManyCameras"
	case errors.Is(err, ErrInvalidDimensions):
		return "InvalidDimensions"
	case errors.Is(err, ErrRenderPanicked):
		return "Panicked"
	default:
		return "Unknown"
	}
}
