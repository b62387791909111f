// Package countsem implements counting semaphores as buffered
// channels of tokens.
package countsem

import (
	"time"

	"osal/config"
	db "osal/debug"
	"osal/idmap"
	op "osal/osalp"
	"osal/oserr"
)

type semRecord struct {
	sem chan struct{}
}

var tbl []semRecord

func Init() error {
	tbl = make([]semRecord, config.Conf.Tables.MAX_COUNT_SEMS)
	return nil
}

// Create allocates a counting semaphore with the given initial value.
// The value may not exceed the configured maximum.
func Create(name string, initial int) (op.Tid, error) {
	if name == "" {
		return op.IdUndefined, oserr.NewErr(oserr.TErrInvalidPointer, "name")
	}
	max := config.Conf.Limits.MAX_COUNT_SEM_VALUE
	if initial < 0 || initial > max {
		return op.IdUndefined, oserr.NewErr(oserr.TErrSemFailure, name)
	}
	idx, _, err := idmap.AllocateNew(op.CLASS_COUNTSEM, name)
	if err != nil {
		return op.IdUndefined, err
	}
	s := &tbl[idx]
	s.sem = make(chan struct{}, max)
	for i := 0; i < initial; i++ {
		s.sem <- struct{}{}
	}
	id, err := idmap.FinalizeNew(nil, op.CLASS_COUNTSEM, idx)
	if err == nil {
		db.DPrintf(db.COUNTSEM, "Create %q initial %d -> %v", name, initial, id)
	}
	return id, err
}

func Delete(id op.Tid) error {
	idx, _, err := idmap.GetById(idmap.LockExclusive, op.CLASS_COUNTSEM, id)
	if err != nil {
		return err
	}
	db.DPrintf(db.COUNTSEM, "Delete %v", id)
	return idmap.FinalizeDelete(nil, op.CLASS_COUNTSEM, idx)
}

// Give increments the semaphore; exceeding the configured maximum is a
// semaphore failure.
func Give(id op.Tid) error {
	idx, _, err := idmap.GetById(idmap.LockNone, op.CLASS_COUNTSEM, id)
	if err != nil {
		return err
	}
	select {
	case tbl[idx].sem <- struct{}{}:
		return nil
	default:
		return oserr.NewErr(oserr.TErrSemFailure, id)
	}
}

// Take pends until a token is available.
func Take(id op.Tid) error {
	idx, _, err := idmap.GetById(idmap.LockNone, op.CLASS_COUNTSEM, id)
	if err != nil {
		return err
	}
	<-tbl[idx].sem
	return nil
}

// TimedWait is Take with a millisecond bound; zero polls.
func TimedWait(id op.Tid, ms uint32) error {
	idx, _, err := idmap.GetById(idmap.LockNone, op.CLASS_COUNTSEM, id)
	if err != nil {
		return err
	}
	s := &tbl[idx]
	select {
	case <-s.sem:
		return nil
	default:
	}
	if ms == 0 {
		return oserr.NewErr(oserr.TErrSemTimeout, id)
	}
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-s.sem:
		return nil
	case <-t.C:
		return oserr.NewErr(oserr.TErrSemTimeout, id)
	}
}

func GetIdByName(name string) (op.Tid, error) {
	if name == "" {
		return op.IdUndefined, oserr.NewErr(oserr.TErrInvalidPointer, "name")
	}
	return idmap.FindByName(op.CLASS_COUNTSEM, name)
}

// Prop is the information returned by GetInfo.
type Prop struct {
	Name    string
	Creator op.Tid
	Value   int
}

func GetInfo(id op.Tid) (Prop, error) {
	idx, rec, err := idmap.GetById(idmap.LockGlobal, op.CLASS_COUNTSEM, id)
	if err != nil {
		return Prop{}, err
	}
	p := Prop{
		Name:    rec.NameEntry,
		Creator: rec.Creator,
		Value:   len(tbl[idx].sem),
	}
	idmap.Unlock(op.CLASS_COUNTSEM)
	return p, nil
}
