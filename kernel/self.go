// Package kernel binds the OSAL to its host kernel, which for this
// implementation is the Go runtime: goroutine<->task identity, tick
// arithmetic, delays, and best-effort scheduling hints.
package kernel

import (
	"sync"

	"github.com/petermattis/goid"

	op "osal/osalp"
)

//
// Goroutines have no ambient identity, so every task and timebase
// helper registers itself here keyed by its goroutine. Self returns
// IdUndefined for goroutines that never registered, which is how API
// guards distinguish application context from helper context.
//

var mu sync.Mutex
var selves = make(map[int64]op.Tid)

func Register(id op.Tid) {
	mu.Lock()
	defer mu.Unlock()
	selves[goid.Get()] = id
}

func Unregister() {
	mu.Lock()
	defer mu.Unlock()
	delete(selves, goid.Get())
}

func Self() op.Tid {
	mu.Lock()
	defer mu.Unlock()
	return selves[goid.Get()]
}
