// Package idmap implements the process-wide object table: one
// fixed-size array of records per resource class, keyed by opaque IDs
// with per-slot generation counters, guarded by one mutex per class.
//
// Every primitive's create path runs AllocateNew -> (populate its own
// table entry, call the platform) -> FinalizeNew with the class lock
// held throughout; every delete path runs GetById(LockExclusive) ->
// (platform delete) -> FinalizeDelete. Only this package transitions a
// record between free, reserved, active and deleted.
package idmap

import (
	"sync"
	"sync/atomic"

	"osal/config"
	db "osal/debug"
	op "osal/osalp"
	"osal/oserr"
)

// Flag bits in Record.Flags.
const (
	exclReqFlag uint16 = 0x0001
)

type TlockMode int

const (
	// LockNone validates the ID and returns with no lock held. The
	// caller gets no protection against a concurrent delete; used on
	// hot paths whose underlying primitive is itself synchronized.
	LockNone TlockMode = iota
	// LockGlobal leaves the class locked; the caller must Unlock.
	LockGlobal
	// LockExclusive waits until the record's refcount drains to zero,
	// then leaves the class locked. Used by delete paths.
	LockExclusive
	// LockRefcount increments the refcount and unlocks. Released via
	// RefcountDecr.
	LockRefcount
)

// Record is the per-slot bookkeeping common to all classes. All fields
// except activeId are guarded by the owning class lock; activeId is
// atomic because timebase helpers re-check it while holding only their
// per-timebase lock.
type Record struct {
	activeId  atomic.Uint32
	NameEntry string
	Creator   op.Tid
	RefCount  uint16
	Flags     uint16
}

func (r *Record) ActiveId() op.Tid {
	return op.Tid(r.activeId.Load())
}

func (r *Record) setActiveId(id op.Tid) {
	r.activeId.Store(uint32(id))
}

func (r *Record) reset() {
	r.setActiveId(op.IdUndefined)
	r.NameEntry = ""
	r.Creator = op.IdUndefined
	r.RefCount = 0
	r.Flags = 0
}

type classTable struct {
	mu sync.Mutex
	// Signaled when a refcount drains to zero and an exclusive waiter
	// is pending.
	excl *sync.Cond
	recs []Record
	// Hidden per-slot serial counter; advances by the class capacity
	// on each reuse so that serial mod capacity stays equal to the
	// slot index.
	serial []uint32
}

var tables [op.CLASS_MAX]*classTable

// Init sizes the class tables from the configuration. Called once by
// common.Init; calling it again discards all records, so teardown must
// come first.
func Init() error {
	for cl := op.CLASS_TASK; cl < op.CLASS_MAX; cl++ {
		n := config.Conf.Capacity(cl)
		if n <= 0 {
			return oserr.NewErr(oserr.TErrError, cl)
		}
		ct := &classTable{
			recs:   make([]Record, n),
			serial: make([]uint32, n),
		}
		for i := range ct.serial {
			ct.serial[i] = uint32(i)
		}
		ct.excl = sync.NewCond(&ct.mu)
		tables[cl] = ct
	}
	db.DPrintf(db.IDMAP, "Init %d classes", op.CLASS_MAX-1)
	return nil
}

func table(c op.Tclass) (*classTable, error) {
	if c <= op.CLASS_UNDEFINED || c >= op.CLASS_MAX || tables[c] == nil {
		return nil, oserr.NewErr(oserr.TErrInvalidId, c)
	}
	return tables[c], nil
}

// Lock acquires the global lock for a class. Exposed for callers that
// obtained a record in LockGlobal or LockExclusive mode.
func Lock(c op.Tclass) {
	if ct, err := table(c); err == nil {
		ct.mu.Lock()
	}
}

// Unlock releases the global lock for a class. Valid from any task; it
// is not recursive.
func Unlock(c op.Tclass) {
	if ct, err := table(c); err == nil {
		ct.mu.Unlock()
	}
}

// ArrayIndex validates that id belongs to class c and converts it to a
// slot index.
func ArrayIndex(c op.Tclass, id op.Tid) (int, error) {
	ct, err := table(c)
	if err != nil {
		return -1, err
	}
	if !id.IsDefined() || id.Class() != c {
		return -1, oserr.NewErr(oserr.TErrInvalidId, id)
	}
	return int(id.Serial() % uint32(len(ct.recs))), nil
}

// Slot returns the record at a raw table index. Mutation requires the
// class lock; unlocked callers may only use the atomic ActiveId
// accessor and must treat everything else as possibly stale.
func Slot(c op.Tclass, idx int) *Record {
	ct, err := table(c)
	if err != nil || idx < 0 || idx >= len(ct.recs) {
		return nil
	}
	return &ct.recs[idx]
}

// Capacity reports the table size for a class.
func Capacity(c op.Tclass) int {
	ct, err := table(c)
	if err != nil {
		return 0
	}
	return len(ct.recs)
}
