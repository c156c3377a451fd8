// Package api is the boundary of the module: every operation returns a Result from a small,
// stable set of codes, and no error value or panic crosses it.
package api

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/gltf2image/engine"
)

// Result is the outcome of an api operation. The numeric values are stable.
type Result int

const (
	Success                       Result = 0
	UnknownError                  Result = 1
	InvalidSceneCouldNotLoadAsset Result = 2
	InvalidSceneNoCamerasFound    Result = 3
	InvalidSceneTooManyCameras    Result = 4
	WrongThread                   Result = 5
	PixelBufferWrongSize          Result = 6
)

// ErrUnknown is the error form of UnknownError.
var ErrUnknown = errors.New("unknown error")

// String returns the name of the result code.
func (r Result) String() string {
	switch r {
	case Success:
		return "Success"
	case UnknownError:
		return "UnknownError"
	case InvalidSceneCouldNotLoadAsset:
		return "InvalidScene_CouldNotLoadAsset"
	case InvalidSceneNoCamerasFound:
		return "InvalidScene_NoCamerasFound"
	case InvalidSceneTooManyCameras:
		return "InvalidScene_TooManyCameras"
	case WrongThread:
		return "WrongThread"
	case PixelBufferWrongSize:
		return "PixelBufferWrongSize"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Err returns nil for Success and the matching engine sentinel otherwise, so results can be
// checked with errors.Is by Go callers.
//
// Returns:
//   - error: the error form of the result
func (r Result) Err() error {
	switch r {
	case Success:
		return nil
	case InvalidSceneCouldNotLoadAsset:
		return engine.ErrCouldNotLoadAsset
	case InvalidSceneNoCamerasFound:
		return engine.ErrNoCamerasFound
	case InvalidSceneTooManyCameras:
		return engine.ErrTooManyCameras
	case WrongThread:
		return engine.ErrWrongThread
	case PixelBufferWrongSize:
		return engine.ErrPixelBufferWrongSize
	default:
		return ErrUnknown
	}
}

// IsValidationFailure reports whether the caller can fix the request and try again.
//
// Returns:
//   - bool: true for the InvalidScene codes and PixelBufferWrongSize
func (r Result) IsValidationFailure() bool {
	switch r {
	case InvalidSceneCouldNotLoadAsset, InvalidSceneNoCamerasFound, InvalidSceneTooManyCameras, PixelBufferWrongSize:
		return true
	default:
		return false
	}
}

// ResultFromError maps an error onto the closed set of result codes. Unrecognized errors
// become UnknownError.
//
// Parameters:
//   - err: the error to classify
//
// Returns:
//   - Result: the matching code
func ResultFromError(err error) Result {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, engine.ErrWrongThread):
		return WrongThread
	case errors.Is(err, engine.ErrPixelBufferWrongSize):
		return PixelBufferWrongSize
	case errors.Is(err, engine.ErrCouldNotLoadAsset):
		return InvalidSceneCouldNotLoadAsset
	case errors.Is(err, engine.ErrNoCamerasFound):
		return InvalidSceneNoCamerasFound
	case errors.Is(err, engine.ErrTooManyCameras):
		return InvalidSceneTooManyCameras
	default:
		return UnknownError
	}
}
