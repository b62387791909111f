// Package test provides the shared harness for OSAL tests: fresh
// configuration and tables per test, teardown through the normal
// object sweep.
package test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osal/common"
	"osal/config"
)

type Tstate struct {
	T *testing.T
}

func NewTstate(t *testing.T) *Tstate {
	config.Reset()
	err := common.Init()
	require.Nil(t, err, "Init")
	return &Tstate{T: t}
}

func (ts *Tstate) Shutdown() {
	err := common.DeleteAllObjects()
	assert.Nil(ts.T, err, "DeleteAllObjects")
}
