// Package mutex implements OSAL mutex semaphores with ownership
// tracking: only the task that took a mutex may give it back.
package mutex

import (
	"sync"
	"sync/atomic"

	"osal/config"
	db "osal/debug"
	"osal/idmap"
	"osal/kernel"
	op "osal/osalp"
	"osal/oserr"
)

type mutexRecord struct {
	mu    sync.Mutex
	owner atomic.Uint32
}

// Records are per-incarnation pointers: deleting a held mutex must not
// poison the slot's successor with a locked sync.Mutex.
var tbl []*mutexRecord

func Init() error {
	tbl = make([]*mutexRecord, config.Conf.Tables.MAX_MUTEXES)
	return nil
}

func Create(name string) (op.Tid, error) {
	if name == "" {
		return op.IdUndefined, oserr.NewErr(oserr.TErrInvalidPointer, "name")
	}
	idx, _, err := idmap.AllocateNew(op.CLASS_MUTEX, name)
	if err != nil {
		return op.IdUndefined, err
	}
	tbl[idx] = &mutexRecord{}
	tbl[idx].owner.Store(uint32(op.IdUndefined))
	id, err := idmap.FinalizeNew(nil, op.CLASS_MUTEX, idx)
	if err == nil {
		db.DPrintf(db.MUTEX, "Create %q -> %v", name, id)
	}
	return id, err
}

// Delete frees the mutex slot. Deleting a held mutex leaves the holder
// with a dangling lock; like the underlying kernels, this is the
// caller's mistake to avoid.
func Delete(id op.Tid) error {
	idx, _, err := idmap.GetById(idmap.LockExclusive, op.CLASS_MUTEX, id)
	if err != nil {
		return err
	}
	db.DPrintf(db.MUTEX, "Delete %v", id)
	return idmap.FinalizeDelete(nil, op.CLASS_MUTEX, idx)
}

// Take acquires the mutex, pending until it is free. Not recursive.
func Take(id op.Tid) error {
	idx, _, err := idmap.GetById(idmap.LockNone, op.CLASS_MUTEX, id)
	if err != nil {
		return err
	}
	m := tbl[idx]
	m.mu.Lock()
	m.owner.Store(uint32(kernel.Self()))
	return nil
}

// Give releases the mutex. A give from a task that does not hold it is
// a semaphore failure.
func Give(id op.Tid) error {
	idx, _, err := idmap.GetById(idmap.LockNone, op.CLASS_MUTEX, id)
	if err != nil {
		return err
	}
	m := tbl[idx]
	if op.Tid(m.owner.Load()) != kernel.Self() {
		return oserr.NewErr(oserr.TErrSemFailure, id)
	}
	m.owner.Store(uint32(op.IdUndefined))
	m.mu.Unlock()
	return nil
}

func GetIdByName(name string) (op.Tid, error) {
	if name == "" {
		return op.IdUndefined, oserr.NewErr(oserr.TErrInvalidPointer, "name")
	}
	return idmap.FindByName(op.CLASS_MUTEX, name)
}

// Prop is the information returned by GetInfo.
type Prop struct {
	Name    string
	Creator op.Tid
	Owner   op.Tid
}

func GetInfo(id op.Tid) (Prop, error) {
	idx, rec, err := idmap.GetById(idmap.LockGlobal, op.CLASS_MUTEX, id)
	if err != nil {
		return Prop{}, err
	}
	p := Prop{
		Name:    rec.NameEntry,
		Creator: rec.Creator,
		Owner:   op.Tid(tbl[idx].owner.Load()),
	}
	idmap.Unlock(op.CLASS_MUTEX)
	return p, nil
}
