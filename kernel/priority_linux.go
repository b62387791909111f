//go:build linux

package kernel

import (
	"runtime"

	"golang.org/x/sys/unix"

	db "osal/debug"
)

// ElevateHelper pins the calling goroutine to an OS thread and raises
// that thread's priority. Timebase helpers call this so that tick
// servicing preempts ordinary tasks the way it would under a real-time
// kernel. Raising priority usually needs privileges; failure is
// logged and ignored.
func ElevateHelper() {
	runtime.LockOSThread()
	tid := unix.Gettid()
	if err := unix.Setpriority(unix.PRIO_PROCESS, tid, -2); err != nil {
		db.DPrintf(db.KERNEL, "Setpriority tid %v err %v", tid, err)
	}
}
