// Demo: a timebase driving a periodic timer that reports through the
// buffered console.
package main

import (
	"sync/atomic"

	"osal/common"
	"osal/console"
	db "osal/debug"
	"osal/kernel"
	op "osal/osalp"
	"osal/timebase"
)

func main() {
	if err := common.Init(); err != nil {
		db.DFatalf("Init: %v", err)
	}

	tb, err := timebase.Create("demo", nil)
	if err != nil {
		db.DFatalf("TimeBaseCreate: %v", err)
	}
	// 100 ms period.
	if err := timebase.Set(tb, 100_000, 100_000); err != nil {
		db.DFatalf("TimeBaseSet: %v", err)
	}

	var fires atomic.Uint32
	_, err = timebase.TimerAdd("demo-timer", tb, 1, 1, func(id op.Tid, arg interface{}) {
		console.Printf("tick %d on %v\n", fires.Add(1), id)
	}, nil)
	if err != nil {
		db.DFatalf("TimerAdd: %v", err)
	}

	kernel.Delay(1050)

	free, err := timebase.GetFreeRun(tb)
	if err != nil {
		db.DFatalf("GetFreeRun: %v", err)
	}
	console.Printf("freerun %d fires %d\n", free, fires.Load())

	if err := common.DeleteAllObjects(); err != nil {
		db.DFatalf("teardown: %v", err)
	}
}
