//go:build !linux && !windows

package workqueue

import (
	"bytes"
	"runtime"
	"strconv"
)

// CurrentThreadID returns an identifier for the caller's execution context.
// Without a portable thread ID syscall the goroutine ID is used instead. The worker
// goroutine never unlocks its OS thread, so the two identities coincide for it.
//
// Returns:
//   - uint64: the goroutine ID of the caller
func CurrentThreadID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// "goroutine 123 [running]: ..."
	field := bytes.Fields(buf[:n])
	if len(field) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(field[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
