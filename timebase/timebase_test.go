package timebase_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	db "osal/debug"
	op "osal/osalp"
	"osal/oserr"
	"osal/test"
	"osal/timebase"
)

// tickFeeder drives an externally synced timebase deterministically.
// Each Feed unblocks exactly one helper iteration; because the helper
// only returns to the sync function after fully servicing the previous
// tick, Feed(n+1) returning means tick n has been processed.
type tickFeeder struct {
	ch chan uint32
}

func newFeeder() *tickFeeder {
	return &tickFeeder{ch: make(chan uint32)}
}

func (f *tickFeeder) sync(idx int) uint32 {
	return <-f.ch
}

func (f *tickFeeder) Feed(tick uint32) {
	f.ch <- tick
}

// Flush pushes a zero tick through, guaranteeing every previously fed
// tick has been serviced.
func (f *tickFeeder) Flush() {
	f.ch <- 0
}

func TestPeriodicFires(t *testing.T) {
	ts := test.NewTstate(t)
	defer ts.Shutdown()

	f := newFeeder()
	tb, err := timebase.Create("T", f.sync)
	require.Nil(t, err)

	var fires atomic.Uint32
	id, err := timebase.TimerAdd("periodic", tb, 10, 10, func(op.Tid, interface{}) {
		fires.Add(1)
	}, nil)
	require.Nil(t, err)

	for i := 0; i < 30; i++ {
		f.Feed(1)
	}
	f.Flush()

	assert.Equal(t, uint32(3), fires.Load(), "one fire per 10 ticks")

	free, err := timebase.GetFreeRun(tb)
	require.Nil(t, err)
	assert.Equal(t, uint32(30), free)

	p, err := timebase.TimerGetInfo(id)
	require.Nil(t, err)
	assert.Equal(t, uint32(0), p.BacklogResets)
}

func TestBacklogClamp(t *testing.T) {
	ts := test.NewTstate(t)
	defer ts.Shutdown()

	f := newFeeder()
	tb, err := timebase.Create("T", f.sync)
	require.Nil(t, err)

	var fires atomic.Uint32
	id, err := timebase.TimerAdd("lagger", tb, 10, 10, func(op.Tid, interface{}) {
		fires.Add(1)
	}, nil)
	require.Nil(t, err)

	// One tick 2.5 intervals long: the catch-up burst is clamped to a
	// single dispatch and the debt to exactly one interval.
	f.Feed(25)
	f.Flush()

	assert.Equal(t, uint32(1), fires.Load())
	p, err := timebase.TimerGetInfo(id)
	require.Nil(t, err)
	assert.Equal(t, uint32(1), p.BacklogResets)
	assert.Equal(t, int32(-10), p.WaitTicks)
}

func TestBacklogRecovery(t *testing.T) {
	ts := test.NewTstate(t)
	defer ts.Shutdown()

	f := newFeeder()
	tb, err := timebase.Create("T", f.sync)
	require.Nil(t, err)

	var fires atomic.Uint32
	_, err = timebase.TimerAdd("lagger", tb, 10, 10, func(op.Tid, interface{}) {
		fires.Add(1)
	}, nil)
	require.Nil(t, err)

	f.Feed(30) // 3 intervals behind: clamped, one fire
	f.Flush()
	require.Equal(t, uint32(1), fires.Load())

	// Normal ticking resumes; the timer must keep its period instead
	// of staying wedged at the clamp.
	for i := 0; i < 40; i++ {
		f.Feed(1)
	}
	f.Flush()
	assert.Greater(t, fires.Load(), uint32(2), "periodic timer recovered after clamp")
}

func TestOneShot(t *testing.T) {
	ts := test.NewTstate(t)
	defer ts.Shutdown()

	f := newFeeder()
	tb, err := timebase.Create("T", f.sync)
	require.Nil(t, err)

	var fires atomic.Uint32
	id, err := timebase.TimerAdd("oneshot", tb, 0, 5, func(op.Tid, interface{}) {
		fires.Add(1)
	}, nil)
	require.Nil(t, err)

	for i := 0; i < 10; i++ {
		f.Feed(1)
	}
	f.Flush()
	assert.Equal(t, uint32(1), fires.Load(), "one-shot fires exactly once")

	// Re-arming restores one-shot eligibility.
	err = timebase.TimerSet(id, 3, 0)
	require.Nil(t, err)
	for i := 0; i < 10; i++ {
		f.Feed(1)
	}
	f.Flush()
	assert.Equal(t, uint32(2), fires.Load(), "fires once more after TimerSet")
}

func TestFreerunMonotonic(t *testing.T) {
	ts := test.NewTstate(t)
	defer ts.Shutdown()

	f := newFeeder()
	tb, err := timebase.Create("T", f.sync)
	require.Nil(t, err)

	last := uint32(0)
	for i := 0; i < 20; i++ {
		f.Feed(uint32(i%3 + 1))
		f.Flush()
		free, err := timebase.GetFreeRun(tb)
		require.Nil(t, err)
		assert.GreaterOrEqual(t, free, last)
		last = free
	}
}

func TestDeleteDuringCallback(t *testing.T) {
	ts := test.NewTstate(t)
	defer ts.Shutdown()

	f := newFeeder()
	tb, err := timebase.Create("T", f.sync)
	require.Nil(t, err)

	var selfFires, otherFires atomic.Uint32
	var selfId op.Tid
	selfId, err = timebase.TimerAdd("suicide", tb, 0, 1, func(id op.Tid, arg interface{}) {
		selfFires.Add(1)
		assert.Nil(t, timebase.TimerDelete(id), "self delete from callback")
	}, nil)
	require.Nil(t, err)
	_, err = timebase.TimerAdd("bystander", tb, 0, 1, func(op.Tid, interface{}) {
		otherFires.Add(1)
	}, nil)
	require.Nil(t, err)

	f.Feed(1)
	f.Flush()

	assert.Equal(t, uint32(1), selfFires.Load())
	assert.Equal(t, uint32(1), otherFires.Load(), "ring traversal completed past the deleted slot")

	// The slot release is deferred to the helper; after the flush it
	// has happened and the ID is stale.
	_, err = timebase.TimerGetInfo(selfId)
	assert.True(t, oserr.IsErrCode(err, oserr.TErrInvalidId), "deleted timer gone: %v", err)

	f.Feed(10)
	f.Flush()
	assert.Equal(t, uint32(1), selfFires.Load(), "deleted timer never revisited")
}

func TestCancellation(t *testing.T) {
	ts := test.NewTstate(t)
	defer ts.Shutdown()

	f := newFeeder()
	tb, err := timebase.Create("T", f.sync)
	require.Nil(t, err)

	var fires atomic.Uint32
	_, err = timebase.TimerAdd("never", tb, 1, 1, func(op.Tid, interface{}) {
		fires.Add(1)
	}, nil)
	require.Nil(t, err)

	// Let the helper reach its loop, then delete while it waits in the
	// sync function.
	f.Flush()
	err = timebase.Delete(tb)
	require.Nil(t, err)

	// The next wake terminates the helper before any callback runs. A
	// helper that saw the retired ID between ticks has already exited
	// and takes no further wake.
	select {
	case f.ch <- 1:
	case <-time.After(100 * time.Millisecond):
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, uint32(0), fires.Load(), "no callback after delete")

	_, err = timebase.GetFreeRun(tb)
	assert.True(t, oserr.IsErrCode(err, oserr.TErrInvalidId))
}

func TestSpinLimit(t *testing.T) {
	ts := test.NewTstate(t)
	defer ts.Shutdown()

	var calls atomic.Uint32
	block := make(chan struct{})
	sync := func(idx int) uint32 {
		n := calls.Add(1)
		if n <= 8 {
			return 0
		}
		<-block
		return 0
	}

	start := time.Now()
	tb, err := timebase.Create("spinner", sync)
	require.Nil(t, err)

	// Zero returns 5 through 8 each cost a 10ms yield; the helper must
	// not busy-loop on a degenerate sync function.
	for calls.Load() < 9 {
		time.Sleep(time.Millisecond)
	}
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond, "spin recovery yields")

	close(block)
	err = timebase.Delete(tb)
	assert.Nil(t, err)
	time.Sleep(20 * time.Millisecond)
}

func TestHelperContextRejected(t *testing.T) {
	ts := test.NewTstate(t)
	defer ts.Shutdown()

	f := newFeeder()
	tb, err := timebase.Create("T", f.sync)
	require.Nil(t, err)

	errs := make(chan error, 3)
	_, err = timebase.TimerAdd("meddler", tb, 0, 1, func(op.Tid, interface{}) {
		errs <- timebase.Set(tb, 1, 1)
		errs <- timebase.Delete(tb)
		_, e := timebase.Create("nested", nil)
		errs <- e
	}, nil)
	require.Nil(t, err)

	f.Feed(1)
	f.Flush()

	for i := 0; i < 3; i++ {
		e := <-errs
		assert.True(t, oserr.IsErrCode(e, oserr.TErrIncorrectObjState),
			"timebase API from callback: %v", e)
	}
}

func TestInternalTimebase(t *testing.T) {
	ts := test.NewTstate(t)
	defer ts.Shutdown()

	tb, err := timebase.Create("internal", nil)
	require.Nil(t, err)

	var samplesLog sampleLog
	_, err = timebase.TimerAdd("sampler", tb, 1, 1, func(op.Tid, interface{}) {
		samplesLog.add(time.Now())
	}, nil)
	require.Nil(t, err)

	// 5 ms period.
	err = timebase.Set(tb, 5_000, 5_000)
	require.Nil(t, err)

	time.Sleep(200 * time.Millisecond)

	free, err := timebase.GetFreeRun(tb)
	require.Nil(t, err)
	assert.Greater(t, free, uint32(5), "internal tick source runs")

	samples := samplesLog.get()
	require.Greater(t, len(samples), 5)
	periods := make([]float64, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		periods = append(periods, float64(samples[i].Sub(samples[i-1]).Microseconds()))
	}
	mean, err := stats.Mean(periods)
	require.Nil(t, err)
	sd, _ := stats.StandardDeviation(periods)
	db.DPrintf(db.TEST, "internal timebase period mean %.0fus sd %.0fus", mean, sd)
	// Generous bounds; scheduling jitter is expected, systematic drift
	// is not.
	assert.Greater(t, mean, float64(2_000))
	assert.Less(t, mean, float64(100_000))
}

func TestTimerArgValidation(t *testing.T) {
	ts := test.NewTstate(t)
	defer ts.Shutdown()

	f := newFeeder()
	tb, err := timebase.Create("T", f.sync)
	require.Nil(t, err)

	_, err = timebase.TimerAdd("big", tb, 1_000_000_000, 1, func(op.Tid, interface{}) {}, nil)
	assert.True(t, oserr.IsErrCode(err, oserr.TErrTimerInvalidArgs))

	_, err = timebase.TimerAdd("nilcb", tb, 1, 1, nil, nil)
	assert.True(t, oserr.IsErrCode(err, oserr.TErrInvalidPointer))

	err = timebase.Set(tb, 1_000_000_000, 0)
	assert.True(t, oserr.IsErrCode(err, oserr.TErrTimerInvalidArgs))

	stale := op.Compose(op.CLASS_TIMEBASE, 12345)
	_, err = timebase.TimerAdd("orphan", stale, 1, 1, func(op.Tid, interface{}) {}, nil)
	assert.True(t, oserr.IsErrCode(err, oserr.TErrInvalidId))
}

func TestTimerNames(t *testing.T) {
	ts := test.NewTstate(t)
	defer ts.Shutdown()

	f := newFeeder()
	tb, err := timebase.Create("named", f.sync)
	require.Nil(t, err)

	id, err := timebase.TimerAdd("lookup-me", tb, 1, 1, func(op.Tid, interface{}) {}, nil)
	require.Nil(t, err)

	got, err := timebase.TimerGetIdByName("lookup-me")
	require.Nil(t, err)
	assert.Equal(t, id, got)

	tbGot, err := timebase.GetIdByName("named")
	require.Nil(t, err)
	assert.Equal(t, tb, tbGot)

	_, err = timebase.TimerGetIdByName("nobody")
	assert.True(t, oserr.IsErrCode(err, oserr.TErrNameNotFound))

	_, err = timebase.TimerAdd("lookup-me", tb, 1, 1, func(op.Tid, interface{}) {}, nil)
	assert.True(t, oserr.IsErrCode(err, oserr.TErrNameTaken))
}

// sampleLog is a small synchronized timestamp collector for callbacks.
type sampleLog struct {
	mu      sync.Mutex
	samples []time.Time
}

func (c *sampleLog) add(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, t)
}

func (c *sampleLog) get() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Time{}, c.samples...)
}
