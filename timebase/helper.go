package timebase

import (
	"math"
	"time"

	db "osal/debug"
	"osal/idmap"
	"osal/kernel"
	op "osal/osalp"
)

// Limit on consecutive zero-tick returns from the sync function before
// the helper starts yielding the CPU.
const spinLimit = 4

// tickSource is the internal synchronization for a timebase with no
// external sync function. Its mutable state is local to the helper
// goroutine; only the channels are shared, and those are fixed for the
// lifetime of one timebase incarnation.
type tickSource struct {
	cfgCh  chan tickCfg
	done   chan struct{}
	timer  *time.Timer
	period time.Duration
}

// sync pends until the next tick, a reconfiguration, or deletion. The
// nonzero return on the done path is deliberate: the helper proceeds
// to its lock acquisition, where the retired ID is detected.
func (ts *tickSource) sync(idx int) uint32 {
	for {
		var fire <-chan time.Time
		if ts.timer != nil {
			fire = ts.timer.C
		}
		select {
		case <-ts.done:
			return 1
		case cfg := <-ts.cfgCh:
			if ts.timer != nil {
				ts.timer.Stop()
				ts.timer = nil
			}
			start := time.Duration(cfg.start) * time.Microsecond
			ts.period = time.Duration(cfg.interval) * time.Microsecond
			if start == 0 {
				start = ts.period
			}
			if start > 0 {
				ts.timer = time.NewTimer(start)
			}
		case <-fire:
			if ts.period > 0 {
				ts.timer.Reset(ts.period)
			} else {
				ts.timer = nil
			}
			return 1
		}
	}
}

// helper is the per-timebase servicing loop, one goroutine per
// timebase, started by Create. It blocks until Create publishes the
// final ID (the channel closes instead if creation was rolled back),
// registers that ID as its task identity so API guards can recognize
// helper context, and then pulls ticks and services the callback ring
// until the timebase is deleted.
func helper(idx int, idCh chan op.Tid) {
	tbId, ok := <-idCh
	if !ok {
		return
	}
	kernel.Register(tbId)
	defer kernel.Unregister()
	kernel.ElevateHelper()

	_, rec, err := idmap.GetById(idmap.LockGlobal, op.CLASS_TIMEBASE, tbId)
	if err != nil {
		return
	}
	tb := &tbTbl[idx]
	syncf := tb.externalSync
	if syncf == nil {
		ts := &tickSource{cfgCh: tb.cfgCh, done: tb.done}
		syncf = ts.sync
	}
	idmap.Unlock(op.CLASS_TIMEBASE)

	spin := 0
	for {
		tick := syncf(idx)

		// A zero return means the wait was interrupted with no tick
		// information. Occasional zeros are tolerated, but since this
		// goroutine runs at elevated priority, persistent zeros must
		// not become a busy loop.
		if tick != 0 {
			spin = 0
		} else if spin < spinLimit {
			spin++
		} else {
			kernel.Delay(10)
			if spin == spinLimit {
				spin++
				db.DPrintf(db.ALWAYS, "WARNING: timebase %q sync spin loop detected", tb.name)
			}
		}

		tb.mu.Lock()

		// The sync wait happens outside the per-timebase lock, so a
		// delete can land while we are blocked. The retired ID is the
		// deletion handshake.
		if rec.ActiveId() != tbId {
			tb.mu.Unlock()
			break
		}

		if tick != 0 {
			tb.freerun.Add(tick)
			if tb.firstCb >= 0 {
				tb.serviceRing(tick)
			}
		}

		free := tb.pendingFree
		tb.pendingFree = nil
		tb.mu.Unlock()

		// Slots unlinked by self-deleting callbacks are released here,
		// after the per-timebase lock is dropped, preserving the
		// class-lock-before-timebase-lock order.
		for _, ci := range free {
			releaseTimerSlot(ci)
		}
	}
	db.DPrintf(db.TIMEBASE, "helper %v exiting", tbId)
}

// serviceRing walks the callback ring once, charging tick elapsed
// ticks to every subscribed callback. Caller holds tb.mu.
//
// For each callback the pre-decrement wait time decides dispatch
// eligibility: only a positive-to-nonpositive transition fires, which
// gives one-shot behavior when interval_time is zero. A periodic
// callback that fell more than one interval behind has its debt
// clamped to exactly one interval, counted in backlog_resets, and
// receives at most a single catch-up dispatch instead of a burst.
//
// next is saved before the callback runs because the callback may
// delete its own timer; the seen set bounds the walk even when the
// ring is relinked underneath it.
func (tb *tbRecord) serviceRing(tick uint32) {
	seen := make([]bool, len(cbTbl))
	start := tb.firstCb
	cur := start
	for cur >= 0 && !seen[cur] {
		seen[cur] = true
		cb := &cbTbl[cur]
		next := cb.nextRef
		if cb.callback != nil {
			tb.serviceOne(cur, cb, tick)
		}
		if next == start || next < 0 {
			break
		}
		cur = next
	}
}

func (tb *tbRecord) serviceOne(idx int, cb *cbRecord, tick uint32) {
	pub := idmap.Slot(op.CLASS_TIMECB, idx).ActiveId()
	saved := cb.waitTime
	cb.waitTime -= int32(tick)

	// An armed periodic timer starved for more than one interval gets
	// exactly one dispatch and a debt of exactly one interval, instead
	// of a catch-up burst.
	if cb.intervalTime > 0 && saved > 0 && cb.waitTime < -cb.intervalTime {
		if cb.backlogResets != math.MaxUint32 {
			cb.backlogResets++
		}
		cb.waitTime = -cb.intervalTime
		cb.callback(pub, cb.arg)
		return
	}

	for cb.waitTime <= 0 {
		cb.waitTime += cb.intervalTime
		// Bound the accumulated lag to one interval; this is what lets
		// a callback interval shorter than the timebase interval avoid
		// piling up forever.
		if cb.intervalTime > 0 && cb.waitTime < -cb.intervalTime {
			if cb.backlogResets != math.MaxUint32 {
				cb.backlogResets++
			}
			cb.waitTime = -cb.intervalTime
		}
		if saved > 0 {
			cb.callback(pub, cb.arg)
			if cb.callback == nil {
				// The callback deleted this timer.
				return
			}
		}
		if cb.intervalTime <= 0 {
			return
		}
	}
}

// releaseTimerSlot returns a ring-unlinked timer slot to the free
// pool. Runs on the helper with no locks held.
func releaseTimerSlot(idx int) {
	rec := idmap.Slot(op.CLASS_TIMECB, idx)
	if rec == nil {
		return
	}
	id := rec.ActiveId()
	if !id.IsDefined() {
		return
	}
	if _, _, err := idmap.GetById(idmap.LockExclusive, op.CLASS_TIMECB, id); err != nil {
		return
	}
	cbTbl[idx].reset()
	idmap.FinalizeDelete(nil, op.CLASS_TIMECB, idx)
	db.DPrintf(db.TIMER, "released self-deleted timer slot %d", idx)
}
