// Package timebase implements timebases and the timer callbacks that
// subscribe to them. A timebase is a tick source plus a dedicated
// helper goroutine; timer callbacks form a circular list anchored at
// the owning timebase and are serviced by the helper on every tick.
//
// Timebase records and timer records live in this one package because
// the callback ring and the per-timebase lock are shared between them,
// the same way the original keeps both tables visible to the tick
// servicing loop.
package timebase

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

// Numeric tick arguments must stay below this bound.
const maxTickArg = 1_000_000_000

type tbRecord struct {
	// Per-timebase nested lock; acquired after the class lock, never
	// before it. Callbacks run with only this lock held.
	mu sync.Mutex

	name            string
	nominalStart    uint32
	nominalInterval uint32
	accuracyUsec    uint32
	externalSync    op.TimerSync
	freerun         atomic.Uint32

	// Ring anchor: local TIMECB index of one callback, or -1.
	firstCb int

	// Timer slots unlinked from inside a callback; the helper releases
	// them after it drops mu.
	pendingFree []int

	// Tick-source channels for internally synced timebases. Written
	// once in Create before the ID is published; done is closed by
	// Delete once the ID has been retired.
	cfgCh chan tickCfg
	done  chan struct{}
}

// tickCfg carries a TimeBaseSet reconfiguration to the helper's
// internal tick source. Times are in microseconds.
type tickCfg struct {
	start    uint32
	interval uint32
}

type cbRecord struct {
	name          string
	owner         op.Tid
	ownerIdx      int
	nextRef       int
	waitTime      int32
	intervalTime  int32
	backlogResets uint32
	callback      op.TimerCallback
	arg           interface{}
}

func (c *cbRecord) reset() {
	*c = cbRecord{nextRef: -1}
}

var tbTbl []tbRecord
var cbTbl []cbRecord

// Init sizes the timebase and timer tables. Called by common.Init
// after idmap.Init; any helpers from a previous incarnation must have
// been shut down by teardown first.
func Init() error {
	tbTbl = make([]tbRecord, config.Conf.Tables.MAX_TIMEBASES)
	for i := range tbTbl {
		tbTbl[i].firstCb = -1
	}
	cbTbl = make([]cbRecord, config.Conf.Tables.MAX_TIMERS)
	for i := range cbTbl {
		cbTbl[i].nextRef = -1
	}
	return nil
}

// helperContext reports whether the calling goroutine is a timebase
// helper, i.e. a timer callback is running. The operations that check
// it reject such calls, which prevents deadlock on the locks the
// helper already holds; TimerDelete handles that context separately.
func helperContext() bool {
	return kernel.Self().Class() == op.CLASS_TIMEBASE
}

// Create allocates a timebase and spawns its helper goroutine. A nil
// externalSync means the timebase is internally synchronized: an OS
// timer configured by Set generates the ticks. The helper learns its
// final ID through a one-shot channel because the ID is not assigned
// until FinalizeNew publishes the slot.
func Create(name string, externalSync op.TimerSync) (op.Tid, error) {
	if name == "" {
		return op.IdUndefined, oserr.NewErr(oserr.TErrInvalidPointer, "name")
	}
	if helperContext() {
		return op.IdUndefined, oserr.NewErr(oserr.TErrIncorrectObjState, name)
	}
	idx, _, err := idmap.AllocateNew(op.CLASS_TIMEBASE, name)
	if err != nil {
		return op.IdUndefined, err
	}
	tb := &tbTbl[idx]
	tb.name = name
	tb.nominalStart = 0
	tb.nominalInterval = 0
	tb.externalSync = externalSync
	if externalSync == nil {
		tb.accuracyUsec = uint32(config.Conf.Clock.MICROSEC_PER_TICK)
	} else {
		tb.accuracyUsec = 0
	}
	tb.freerun.Store(0)
	tb.firstCb = -1
	tb.pendingFree = nil
	tb.cfgCh = make(chan tickCfg, 1)
	tb.done = make(chan struct{})

	idCh := make(chan op.Tid, 1)
	go helper(idx, idCh)

	id, err := idmap.FinalizeNew(nil, op.CLASS_TIMEBASE, idx)
	if err != nil {
		close(idCh)
		return op.IdUndefined, err
	}
	idCh <- id
	db.DPrintf(db.TIMEBASE, "Create %q -> %v", name, id)
	return id, nil
}

// Set configures the start and interval times of a timebase. For an
// internally synced timebase the times are in microseconds and
// reconfigure the OS timer; for an externally synced timebase only the
// nominal values are recorded. The per-timebase lock is taken so that
// no ticks are in flight while the configuration changes.
func Set(id op.Tid, start, interval uint32) error {
	if start >= maxTickArg || interval >= maxTickArg {
		return oserr.NewErr(oserr.TErrTimerInvalidArgs, id)
	}
	if helperContext() {
		return oserr.NewErr(oserr.TErrIncorrectObjState, id)
	}
	idx, _, err := idmap.GetById(idmap.LockGlobal, op.CLASS_TIMEBASE, id)
	if err != nil {
		return err
	}
	tb := &tbTbl[idx]
	tb.mu.Lock()
	if tb.externalSync == nil {
		tb.pushCfg(tickCfg{start: start, interval: interval})
	}
	tb.nominalStart = start
	tb.nominalInterval = interval
	tb.mu.Unlock()
	idmap.Unlock(op.CLASS_TIMEBASE)
	db.DPrintf(db.TIMEBASE, "Set %v start %v interval %v", id, start, interval)
	return nil
}

// pushCfg replaces any pending configuration with cfg.
func (tb *tbRecord) pushCfg(cfg tickCfg) {
	for {
		select {
		case tb.cfgCh <- cfg:
			return
		default:
			select {
			case <-tb.cfgCh:
			default:
			}
		}
	}
}

// Delete tears down a timebase. The exclusive get drains any
// refcounted readers; closing done stops the internal tick source and
// wakes the helper, which notices the retired ID at its next lock
// acquisition and exits.
func Delete(id op.Tid) error {
	if helperContext() {
		return oserr.NewErr(oserr.TErrIncorrectObjState, id)
	}
	idx, _, err := idmap.GetById(idmap.LockExclusive, op.CLASS_TIMEBASE, id)
	if err != nil {
		return err
	}
	done := tbTbl[idx].done
	db.DPrintf(db.TIMEBASE, "Delete %v", id)
	err = idmap.FinalizeDelete(nil, op.CLASS_TIMEBASE, idx)
	// Closed only after the ID is retired, so the woken helper cannot
	// see the old ID still published.
	close(done)
	return err
}

// GetIdByName resolves a timebase name to its ID.
func GetIdByName(name string) (op.Tid, error) {
	if name == "" {
		return op.IdUndefined, oserr.NewErr(oserr.TErrInvalidPointer, "name")
	}
	if helperContext() {
		return op.IdUndefined, oserr.NewErr(oserr.TErrIncorrectObjState, name)
	}
	return idmap.FindByName(op.CLASS_TIMEBASE, name)
}

// Prop is the information returned by GetInfo.
type Prop struct {
	Name            string
	Creator         op.Tid
	NominalStart    uint32
	NominalInterval uint32
	Freerun         uint32
	AccuracyUsec    uint32
}

func GetInfo(id op.Tid) (Prop, error) {
	if helperContext() {
		return Prop{}, oserr.NewErr(oserr.TErrIncorrectObjState, id)
	}
	idx, rec, err := idmap.GetById(idmap.LockGlobal, op.CLASS_TIMEBASE, id)
	if err != nil {
		return Prop{}, err
	}
	tb := &tbTbl[idx]
	p := Prop{
		Name:            rec.NameEntry,
		Creator:         rec.Creator,
		NominalStart:    tb.nominalStart,
		NominalInterval: tb.nominalInterval,
		Freerun:         tb.freerun.Load(),
		AccuracyUsec:    tb.accuracyUsec,
	}
	idmap.Unlock(op.CLASS_TIMEBASE)
	return p, nil
}

// GetFreeRun reads the monotonically increasing tick counter of a
// timebase. Deliberately lock-free: callers poll this on hot paths,
// and a racing delete at worst yields a stale count after the ID
// check.
func GetFreeRun(id op.Tid) (uint32, error) {
	idx, _, err := idmap.GetById(idmap.LockNone, op.CLASS_TIMEBASE, id)
	if err != nil {
		return 0, err
	}
	return tbTbl[idx].freerun.Load(), nil
}
