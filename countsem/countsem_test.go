package countsem_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osal/config"
	"osal/countsem"
	"osal/oserr"
	"osal/test"
)

func TestCounting(t *testing.T) {
	ts := test.NewTstate(t)
	defer ts.Shutdown()

	id, err := countsem.Create("c", 2)
	require.Nil(t, err)

	require.Nil(t, countsem.Take(id))
	require.Nil(t, countsem.Take(id))
	err = countsem.TimedWait(id, 0)
	assert.True(t, oserr.IsErrCode(err, oserr.TErrSemTimeout))

	require.Nil(t, countsem.Give(id))
	require.Nil(t, countsem.Take(id))
}

func TestGiveOverflow(t *testing.T) {
	ts := test.NewTstate(t)
	defer ts.Shutdown()

	max := config.Conf.Limits.MAX_COUNT_SEM_VALUE
	id, err := countsem.Create("c", max)
	require.Nil(t, err)

	err = countsem.Give(id)
	assert.True(t, oserr.IsErrCode(err, oserr.TErrSemFailure), "give past the maximum")
}

func TestBlockedTake(t *testing.T) {
	ts := test.NewTstate(t)
	defer ts.Shutdown()

	id, err := countsem.Create("c", 0)
	require.Nil(t, err)

	done := make(chan bool)
	go func() {
		assert.Nil(t, countsem.Take(id))
		done <- true
	}()

	select {
	case <-done:
		t.Fatal("take should block at zero")
	case <-time.After(20 * time.Millisecond):
	}
	require.Nil(t, countsem.Give(id))
	<-done
}

func TestGetInfo(t *testing.T) {
	ts := test.NewTstate(t)
	defer ts.Shutdown()

	id, err := countsem.Create("c", 3)
	require.Nil(t, err)
	p, err := countsem.GetInfo(id)
	require.Nil(t, err)
	assert.Equal(t, 3, p.Value)

	got, err := countsem.GetIdByName("c")
	require.Nil(t, err)
	assert.Equal(t, id, got)
}
