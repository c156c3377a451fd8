//go:build linux

package workqueue

import "golang.org/x/sys/unix"

// CurrentThreadID returns the kernel ID of the OS thread executing the caller.
// The value is only stable for goroutines locked with runtime.LockOSThread.
//
// Returns:
//   - uint64: the OS thread ID
func CurrentThreadID() uint64 {
	return uint64(unix.Gettid())
}
