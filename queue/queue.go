// Package queue implements OSAL message queues as buffered channels.
// Messages are fixed-maximum-size byte strings copied on Put.
package queue

import (
	"time"

	"osal/config"
	db "osal/debug"
	"osal/idmap"
	op "osal/osalp"
	"osal/oserr"
)

type queueRecord struct {
	ch      chan []byte
	depth   int
	maxSize int
}

var tbl []queueRecord

func Init() error {
	tbl = make([]queueRecord, config.Conf.Tables.MAX_QUEUES)
	return nil
}

// Create allocates a message queue holding up to depth messages of at
// most maxSize bytes each.
func Create(name string, depth, maxSize int) (op.Tid, error) {
	if name == "" {
		return op.IdUndefined, oserr.NewErr(oserr.TErrInvalidPointer, "name")
	}
	if depth <= 0 || depth > config.Conf.Limits.MAX_QUEUE_DEPTH || maxSize <= 0 {
		return op.IdUndefined, oserr.NewErr(oserr.TErrQueueInvalidSize, name)
	}
	idx, _, err := idmap.AllocateNew(op.CLASS_QUEUE, name)
	if err != nil {
		return op.IdUndefined, err
	}
	tbl[idx] = queueRecord{
		ch:      make(chan []byte, depth),
		depth:   depth,
		maxSize: maxSize,
	}
	id, err := idmap.FinalizeNew(nil, op.CLASS_QUEUE, idx)
	if err == nil {
		db.DPrintf(db.QUEUE, "Create %q depth %d maxSize %d -> %v", name, depth, maxSize, id)
	}
	return id, err
}

// Delete frees the queue. Tasks blocked in Get keep blocking until
// their timeout expires; the channel itself is left for the collector.
func Delete(id op.Tid) error {
	idx, _, err := idmap.GetById(idmap.LockExclusive, op.CLASS_QUEUE, id)
	if err != nil {
		return err
	}
	db.DPrintf(db.QUEUE, "Delete %v", id)
	return idmap.FinalizeDelete(nil, op.CLASS_QUEUE, idx)
}

// Put enqueues a copy of data without blocking; a full queue yields
// TErrQueueFull.
func Put(id op.Tid, data []byte) error {
	if data == nil {
		return oserr.NewErr(oserr.TErrInvalidPointer, id)
	}
	idx, _, err := idmap.GetById(idmap.LockNone, op.CLASS_QUEUE, id)
	if err != nil {
		return err
	}
	q := &tbl[idx]
	if len(data) > q.maxSize {
		return oserr.NewErr(oserr.TErrQueueInvalidSize, id)
	}
	msg := make([]byte, len(data))
	copy(msg, data)
	select {
	case q.ch <- msg:
		return nil
	default:
		return oserr.NewErr(oserr.TErrQueueFull, id)
	}
}

// Get dequeues the next message. timeoutMs is op.Pend to block
// indefinitely, op.Check to poll, or a positive millisecond bound.
func Get(id op.Tid, timeoutMs int32) ([]byte, error) {
	idx, _, err := idmap.GetById(idmap.LockNone, op.CLASS_QUEUE, id)
	if err != nil {
		return nil, err
	}
	q := &tbl[idx]
	switch {
	case timeoutMs == op.Pend:
		return <-q.ch, nil
	case timeoutMs == op.Check:
		select {
		case msg := <-q.ch:
			return msg, nil
		default:
			return nil, oserr.NewErr(oserr.TErrQueueEmpty, id)
		}
	default:
		select {
		case msg := <-q.ch:
			return msg, nil
		case <-time.After(time.Duration(timeoutMs) * time.Millisecond):
			return nil, oserr.NewErr(oserr.TErrQueueTimeout, id)
		}
	}
}

func GetIdByName(name string) (op.Tid, error) {
	if name == "" {
		return op.IdUndefined, oserr.NewErr(oserr.TErrInvalidPointer, "name")
	}
	return idmap.FindByName(op.CLASS_QUEUE, name)
}

// Prop is the information returned by GetInfo.
type Prop struct {
	Name    string
	Creator op.Tid
	Depth   int
	MaxSize int
	Used    int
}

func GetInfo(id op.Tid) (Prop, error) {
	idx, rec, err := idmap.GetById(idmap.LockGlobal, op.CLASS_QUEUE, id)
	if err != nil {
		return Prop{}, err
	}
	q := &tbl[idx]
	p := Prop{
		Name:    rec.NameEntry,
		Creator: rec.Creator,
		Depth:   q.depth,
		MaxSize: q.maxSize,
		Used:    len(q.ch),
	}
	idmap.Unlock(op.CLASS_QUEUE)
	return p, nil
}
