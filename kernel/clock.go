package kernel

import (
	"math"
	"time"

	"osal/config"
	"osal/oserr"
)

// Milli2Ticks converts a millisecond count to OS ticks, rounding up.
// The intermediate math is 64-bit unconditionally so that large
// millisecond values cannot wrap before the range check.
func Milli2Ticks(ms uint32) (int, error) {
	n := (uint64(ms)*uint64(config.Conf.Clock.TICKS_PER_SECOND) + 999) / 1000
	if n > math.MaxInt32 {
		return 0, oserr.NewErr(oserr.TErrError, ms)
	}
	return int(n), nil
}

// TickInterval is the duration of one OS tick.
func TickInterval() time.Duration {
	return time.Duration(config.Conf.Clock.MICROSEC_PER_TICK) * time.Microsecond
}

// Delay suspends the calling task for at least ms milliseconds.
func Delay(ms uint32) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}
