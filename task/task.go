// Package task implements OSAL tasks on top of goroutines. The Go
// runtime cannot forcibly kill a goroutine, so Delete is cooperative:
// it cancels the task's context and reclaims the table slot; a
// well-behaved task entry watches its context.
package task

import (
	"context"
	"runtime"

	"osal/config"
	db "osal/debug"
	"osal/idmap"
	"osal/kernel"
	op "osal/osalp"
	"osal/oserr"
)

type taskRecord struct {
	name     string
	priority int
	cancel   context.CancelFunc
	done     chan struct{}
}

var tbl []taskRecord

func Init() error {
	tbl = make([]taskRecord, config.Conf.Tables.MAX_TASKS)
	return nil
}

// Create spawns a goroutine running entry and registers it as an OSAL
// task. The goroutine identity is registered before entry runs, so
// kernel.Self works immediately inside the task. A task whose entry
// returns without calling Exit has its slot reclaimed on the way out.
func Create(name string, priority int, entry func(ctx context.Context)) (op.Tid, error) {
	if name == "" || entry == nil {
		return op.IdUndefined, oserr.NewErr(oserr.TErrInvalidPointer, name)
	}
	idx, _, err := idmap.AllocateNew(op.CLASS_TASK, name)
	if err != nil {
		return op.IdUndefined, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &tbl[idx]
	t.name = name
	t.priority = priority
	t.cancel = cancel
	t.done = make(chan struct{})

	id, err := idmap.FinalizeNew(nil, op.CLASS_TASK, idx)
	if err != nil {
		cancel()
		return op.IdUndefined, err
	}

	// Captured locally: by the time the goroutine unwinds, the slot may
	// already belong to a successor task.
	done := t.done
	go func() {
		kernel.Register(id)
		defer kernel.Unregister()
		defer close(done)
		defer reclaim(id, idx)
		entry(ctx)
	}()
	db.DPrintf(db.TASK, "Create %q prio %d -> %v", name, priority, id)
	return id, nil
}

// reclaim frees the slot when a task finishes on its own. A slot
// already retired by Delete yields a stale ID here, which is the
// normal shutdown race and ignored.
func reclaim(id op.Tid, idx int) {
	if _, _, err := idmap.GetById(idmap.LockExclusive, op.CLASS_TASK, id); err != nil {
		return
	}
	if tbl[idx].cancel != nil {
		tbl[idx].cancel()
	}
	idmap.FinalizeDelete(nil, op.CLASS_TASK, idx)
}

// Delete cancels a task's context and frees its slot. It does not
// wait for the goroutine to unwind.
func Delete(id op.Tid) error {
	idx, _, err := idmap.GetById(idmap.LockExclusive, op.CLASS_TASK, id)
	if err != nil {
		return err
	}
	if tbl[idx].cancel != nil {
		tbl[idx].cancel()
	}
	db.DPrintf(db.TASK, "Delete %v", id)
	return idmap.FinalizeDelete(nil, op.CLASS_TASK, idx)
}

// Exit terminates the calling task. Goexit unwinds the goroutine's
// deferred frames, which includes the slot reclaim installed by
// Create.
func Exit() {
	runtime.Goexit()
}

// Delay suspends the calling task for ms milliseconds.
func Delay(ms uint32) {
	kernel.Delay(ms)
}

// GetId returns the caller's task ID, or IdUndefined for goroutines
// not registered with the OSAL.
func GetId() op.Tid {
	return kernel.Self()
}

func GetIdByName(name string) (op.Tid, error) {
	if name == "" {
		return op.IdUndefined, oserr.NewErr(oserr.TErrInvalidPointer, "name")
	}
	return idmap.FindByName(op.CLASS_TASK, name)
}

// Prop is the information returned by GetInfo.
type Prop struct {
	Name     string
	Creator  op.Tid
	Priority int
}

func GetInfo(id op.Tid) (Prop, error) {
	idx, rec, err := idmap.GetById(idmap.LockGlobal, op.CLASS_TASK, id)
	if err != nil {
		return Prop{}, err
	}
	p := Prop{
		Name:     rec.NameEntry,
		Creator:  rec.Creator,
		Priority: tbl[idx].priority,
	}
	idmap.Unlock(op.CLASS_TASK)
	return p, nil
}
