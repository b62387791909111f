// Package binsem implements binary semaphores. The value is a
// one-slot channel; Give saturates at one pending token, and Flush
// wakes every waiter without leaving a token behind.
package binsem

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
	// Closed by Flush and replaced; every waiter selecting on the old
	// channel returns success.
	flush chan struct{}
}

var tbl []semRecord

func Init() error {
	tbl = make([]semRecord, config.Conf.Tables.MAX_BIN_SEMS)
	return nil
}

// Create allocates a binary semaphore with initial value 0 or 1.
func Create(name string, initial int) (op.Tid, error) {
	if name == "" {
		return op.IdUndefined, oserr.NewErr(oserr.TErrInvalidPointer, "name")
	}
	if initial < 0 || initial > 1 {
		return op.IdUndefined, oserr.NewErr(oserr.TErrSemFailure, name)
	}
	idx, _, err := idmap.AllocateNew(op.CLASS_BINSEM, name)
	if err != nil {
		return op.IdUndefined, err
	}
	s := &tbl[idx]
	s.sem = make(chan struct{}, 1)
	s.flush = make(chan struct{})
	if initial == 1 {
		s.sem <- struct{}{}
	}
	id, err := idmap.FinalizeNew(nil, op.CLASS_BINSEM, idx)
	if err == nil {
		db.DPrintf(db.BINSEM, "Create %q initial %d -> %v", name, initial, id)
	}
	return id, err
}

func Delete(id op.Tid) error {
	idx, _, err := idmap.GetById(idmap.LockExclusive, op.CLASS_BINSEM, id)
	if err != nil {
		return err
	}
	db.DPrintf(db.BINSEM, "Delete %v", id)
	return idmap.FinalizeDelete(nil, op.CLASS_BINSEM, idx)
}

// Give posts the semaphore. Giving an already-full binary semaphore is
// not an error; the value saturates.
func Give(id op.Tid) error {
	idx, _, err := idmap.GetById(idmap.LockNone, op.CLASS_BINSEM, id)
	if err != nil {
		return err
	}
	select {
	case tbl[idx].sem <- struct{}{}:
	default:
	}
	return nil
}

// Take pends until the semaphore is given or flushed.
func Take(id op.Tid) error {
	return timedTake(id, -1)
}

// TimedWait is Take with a millisecond bound; zero polls.
func TimedWait(id op.Tid, ms uint32) error {
	return timedTake(id, int64(ms))
}

func timedTake(id op.Tid, ms int64) error {
	idx, _, err := idmap.GetById(idmap.LockNone, op.CLASS_BINSEM, id)
	if err != nil {
		return err
	}
	s := &tbl[idx]
	flush := s.flush
	if ms < 0 {
		select {
		case <-s.sem:
		case <-flush:
		}
		return nil
	}
	var timeout <-chan time.Time
	if ms > 0 {
		t := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-s.sem:
		return nil
	case <-flush:
		return nil
	default:
	}
	if ms == 0 {
		return oserr.NewErr(oserr.TErrSemTimeout, id)
	}
	select {
	case <-s.sem:
		return nil
	case <-flush:
		return nil
	case <-timeout:
		return oserr.NewErr(oserr.TErrSemTimeout, id)
	}
}

// Flush releases every task pending on the semaphore without changing
// its value.
func Flush(id op.Tid) error {
	idx, _, err := idmap.GetById(idmap.LockGlobal, op.CLASS_BINSEM, id)
	if err != nil {
		return err
	}
	s := &tbl[idx]
	close(s.flush)
	s.flush = make(chan struct{})
	idmap.Unlock(op.CLASS_BINSEM)
	db.DPrintf(db.BINSEM, "Flush %v", id)
	return nil
}

func GetIdByName(name string) (op.Tid, error) {
	if name == "" {
		return op.IdUndefined, oserr.NewErr(oserr.TErrInvalidPointer, "name")
	}
	return idmap.FindByName(op.CLASS_BINSEM, name)
}

// Prop is the information returned by GetInfo.
type Prop struct {
	Name    string
	Creator op.Tid
	Value   int
}

func GetInfo(id op.Tid) (Prop, error) {
	idx, rec, err := idmap.GetById(idmap.LockGlobal, op.CLASS_BINSEM, id)
	if err != nil {
		return Prop{}, err
	}
	p := Prop{
		Name:    rec.NameEntry,
		Creator: rec.Creator,
		Value:   len(tbl[idx].sem),
	}
	idmap.Unlock(op.CLASS_BINSEM)
	return p, nil
}
