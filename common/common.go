// Package common ties the OSAL together: global initialization and
// whole-process teardown.
package common

import (
	"fmt"

	"osal/binsem"
	"osal/config"
	"osal/console"
	"osal/countsem"
	db "osal/debug"
	"osal/file"
	"osal/idmap"
	"osal/kernel"
	"osal/mutex"
	op "osal/osalp"
	"osal/oserr"
	"osal/queue"
	"osal/task"
	"osal/timebase"
)

// Init validates the configuration, sizes every class table, and
// brings up the default console. Must complete before any other OSAL
// call.
func Init() error {
	if err := config.Conf.Validate(); err != nil {
		return err
	}
	if err := idmap.Init(); err != nil {
		return err
	}
	inits := []func() error{
		task.Init, queue.Init, binsem.Init, countsem.Init,
		mutex.Init, file.Init, timebase.Init, console.Init,
	}
	for _, fn := range inits {
		if err := fn(); err != nil {
			return err
		}
	}
	id, err := console.Create("console", nil)
	if err != nil {
		return err
	}
	console.SetDefault(id)
	db.DPrintf(db.COMMON, "Init complete")
	return nil
}

// cleanUpObject routes an object to its class's delete operation.
// MODULE and FILESYS have no primitives in this build and can never
// appear in the table.
func cleanUpObject(id op.Tid) {
	var err error
	switch id.Class() {
	case op.CLASS_TASK:
		err = task.Delete(id)
	case op.CLASS_QUEUE:
		err = queue.Delete(id)
	case op.CLASS_BINSEM:
		err = binsem.Delete(id)
	case op.CLASS_COUNTSEM:
		err = countsem.Delete(id)
	case op.CLASS_MUTEX:
		err = mutex.Delete(id)
	case op.CLASS_STREAM:
		err = file.Close(id)
	case op.CLASS_DIR:
		err = file.DirClose(id)
	case op.CLASS_TIMEBASE:
		err = timebase.Delete(id)
	case op.CLASS_TIMECB:
		err = timebase.TimerDelete(id)
	case op.CLASS_CONSOLE:
		err = console.Delete(id)
	}
	if err != nil {
		db.DPrintf(db.COMMON, "cleanup %v: %v", id, err)
	}
}

// DeleteAllObjects tears down every object in the table. Objects can
// hold references to their siblings, so the sweep repeats, up to five
// passes with a short delay between them, until a pass finds nothing.
// Anything still present after that is leaked and reported rather than
// risking an unbounded wait.
func DeleteAllObjects() error {
	try := 0
	for {
		count := 0
		try++
		idmap.ForEach(op.CLASS_UNDEFINED, op.IdUndefined, func(id op.Tid) {
			count++
			cleanUpObject(id)
		})
		if count == 0 || try > 4 {
			break
		}
		kernel.Delay(5)
	}

	remaining := 0
	idmap.ForEach(op.CLASS_UNDEFINED, op.IdUndefined, func(id op.Tid) {
		remaining++
	})
	if remaining > 0 {
		db.DPrintf(db.ALWAYS, "DeleteAllObjects: %d objects leaked after %d passes", remaining, try)
		return oserr.NewErr(oserr.TErrError, fmt.Sprintf("%d objects remain", remaining))
	}
	return nil
}

// ForEachObject exposes the filtered table iteration: classFilter of
// CLASS_UNDEFINED selects all classes, creator of IdUndefined all
// creators. fn may re-enter the OSAL.
func ForEachObject(classFilter op.Tclass, creator op.Tid, fn func(op.Tid)) {
	idmap.ForEach(classFilter, creator, fn)
}

// IdentifyObject reports the class of an arbitrary ID without touching
// the table.
func IdentifyObject(id op.Tid) op.Tclass {
	if !id.IsDefined() {
		return op.CLASS_UNDEFINED
	}
	return id.Class()
}
