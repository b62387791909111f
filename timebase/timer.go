package timebase

import (
	db "osal/debug"
	"osal/idmap"
	"osal/kernel"
	op "osal/osalp"
	"osal/oserr"
)

//
// Timer callbacks. Each is owned by one timebase and linked into that
// timebase's circular ring. wait_time counts down by the elapsed ticks
// on every helper pass; interval_time of zero makes the timer
// one-shot.
//

// TimerAdd subscribes a callback to a timebase. initialTicks is the
// countdown to the first dispatch; intervalTicks of zero gives a
// one-shot. The new slot is spliced into the ring behind the anchor
// while the TIMECB class lock is still held from allocation.
func TimerAdd(name string, tbId op.Tid, intervalTicks, initialTicks uint32, callback op.TimerCallback, arg interface{}) (op.Tid, error) {
	if name == "" || callback == nil {
		return op.IdUndefined, oserr.NewErr(oserr.TErrInvalidPointer, name)
	}
	if intervalTicks >= maxTickArg || initialTicks >= maxTickArg {
		return op.IdUndefined, oserr.NewErr(oserr.TErrTimerInvalidArgs, name)
	}
	if helperContext() {
		return op.IdUndefined, oserr.NewErr(oserr.TErrIncorrectObjState, name)
	}
	tbIdx, _, err := idmap.GetById(idmap.LockNone, op.CLASS_TIMEBASE, tbId)
	if err != nil {
		return op.IdUndefined, err
	}

	idx, _, err := idmap.AllocateNew(op.CLASS_TIMECB, name)
	if err != nil {
		return op.IdUndefined, err
	}
	cb := &cbTbl[idx]
	cb.name = name
	cb.owner = tbId
	cb.ownerIdx = tbIdx
	cb.nextRef = -1
	cb.waitTime = int32(initialTicks)
	cb.intervalTime = int32(intervalTicks)
	cb.backlogResets = 0
	cb.callback = callback
	cb.arg = arg

	tb := &tbTbl[tbIdx]
	tb.mu.Lock()
	var opErr error
	if idmap.Slot(op.CLASS_TIMEBASE, tbIdx).ActiveId() != tbId {
		// The timebase was deleted between the lookup and the splice.
		opErr = oserr.NewErr(oserr.TErrInvalidId, tbId)
	} else if tb.firstCb < 0 {
		tb.firstCb = idx
		cb.nextRef = idx
	} else {
		anchor := &cbTbl[tb.firstCb]
		cb.nextRef = anchor.nextRef
		anchor.nextRef = idx
	}
	tb.mu.Unlock()

	if opErr != nil {
		cb.reset()
	}
	id, err := idmap.FinalizeNew(opErr, op.CLASS_TIMECB, idx)
	if err == nil {
		db.DPrintf(db.TIMER, "TimerAdd %q -> %v on %v", name, id, tbId)
	}
	return id, err
}

// TimerSet re-arms a timer. Setting a positive start with a zero
// interval restores one-shot eligibility; both values zero would leave
// a timer that can never fire and is rejected.
func TimerSet(id op.Tid, startTicks, intervalTicks uint32) error {
	if startTicks >= maxTickArg || intervalTicks >= maxTickArg {
		return oserr.NewErr(oserr.TErrTimerInvalidArgs, id)
	}
	if startTicks == 0 && intervalTicks == 0 {
		return oserr.NewErr(oserr.TErrTimerInvalidArgs, id)
	}
	if helperContext() {
		return oserr.NewErr(oserr.TErrIncorrectObjState, id)
	}
	idx, _, err := idmap.GetById(idmap.LockGlobal, op.CLASS_TIMECB, id)
	if err != nil {
		return err
	}
	cb := &cbTbl[idx]
	tb := &tbTbl[cb.ownerIdx]
	tb.mu.Lock()
	cb.waitTime = int32(startTicks)
	cb.intervalTime = int32(intervalTicks)
	tb.mu.Unlock()
	idmap.Unlock(op.CLASS_TIMECB)
	db.DPrintf(db.TIMER, "TimerSet %v start %v interval %v", id, startTicks, intervalTicks)
	return nil
}

// TimerDelete removes a timer from its timebase's ring and frees its
// slot.
//
// A timer callback may delete timers on its own timebase, itself
// included. In that case the caller is the helper goroutine and
// already holds the per-timebase lock, so the slot is unlinked in
// place and its release is deferred to the helper; taking the class
// lock here would invert the class-before-timebase lock order.
func TimerDelete(id op.Tid) error {
	self := kernel.Self()
	if self.Class() == op.CLASS_TIMEBASE {
		idx, err := idmap.ArrayIndex(op.CLASS_TIMECB, id)
		if err != nil {
			return err
		}
		if idmap.Slot(op.CLASS_TIMECB, idx).ActiveId() != id {
			return oserr.NewErr(oserr.TErrInvalidId, id)
		}
		cb := &cbTbl[idx]
		if cb.owner != self {
			// Another timebase's ring; its lock is not held here.
			return oserr.NewErr(oserr.TErrIncorrectObjState, id)
		}
		tb := &tbTbl[cb.ownerIdx]
		tb.unlink(idx)
		cb.callback = nil
		tb.pendingFree = append(tb.pendingFree, idx)
		db.DPrintf(db.TIMER, "TimerDelete %v (from callback)", id)
		return nil
	}

	idx, _, err := idmap.GetById(idmap.LockExclusive, op.CLASS_TIMECB, id)
	if err != nil {
		return err
	}
	cb := &cbTbl[idx]
	tb := &tbTbl[cb.ownerIdx]
	tb.mu.Lock()
	tb.unlink(idx)
	tb.mu.Unlock()
	cb.reset()
	db.DPrintf(db.TIMER, "TimerDelete %v", id)
	return idmap.FinalizeDelete(nil, op.CLASS_TIMECB, idx)
}

// unlink removes slot idx from the ring. Caller holds tb.mu. The
// slot's own nextRef is left intact so that a ring walk holding a
// stale reference can still traverse past it.
func (tb *tbRecord) unlink(idx int) {
	if tb.firstCb < 0 {
		return
	}
	pred := tb.firstCb
	for n := 0; n < len(cbTbl); n++ {
		if cbTbl[pred].nextRef == idx {
			break
		}
		pred = cbTbl[pred].nextRef
		if pred < 0 {
			return
		}
	}
	if cbTbl[pred].nextRef != idx {
		return
	}
	if pred == idx {
		tb.firstCb = -1
	} else {
		cbTbl[pred].nextRef = cbTbl[idx].nextRef
		if tb.firstCb == idx {
			tb.firstCb = cbTbl[idx].nextRef
		}
	}
}

// TimerGetIdByName resolves a timer name to its ID.
func TimerGetIdByName(name string) (op.Tid, error) {
	if name == "" {
		return op.IdUndefined, oserr.NewErr(oserr.TErrInvalidPointer, "name")
	}
	return idmap.FindByName(op.CLASS_TIMECB, name)
}

// TimerProp is the information returned by TimerGetInfo.
type TimerProp struct {
	Name          string
	Creator       op.Tid
	Timebase      op.Tid
	WaitTicks     int32
	IntervalTicks int32
	BacklogResets uint32
}

func TimerGetInfo(id op.Tid) (TimerProp, error) {
	idx, rec, err := idmap.GetById(idmap.LockGlobal, op.CLASS_TIMECB, id)
	if err != nil {
		return TimerProp{}, err
	}
	cb := &cbTbl[idx]
	tb := &tbTbl[cb.ownerIdx]
	tb.mu.Lock()
	p := TimerProp{
		Name:          rec.NameEntry,
		Creator:       rec.Creator,
		Timebase:      cb.owner,
		WaitTicks:     cb.waitTime,
		IntervalTicks: cb.intervalTime,
		BacklogResets: cb.backlogResets,
	}
	tb.mu.Unlock()
	idmap.Unlock(op.CLASS_TIMECB)
	return p, nil
}
