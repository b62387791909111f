//go:build !linux

package kernel

import (
	"runtime"
)

// ElevateHelper pins the calling goroutine to an OS thread. Priority
// elevation is Linux-only.
func ElevateHelper() {
	runtime.LockOSThread()
}
