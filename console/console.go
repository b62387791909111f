// Package console implements the buffered OSAL console. Writes are
// queued and drained to the output by a background flusher goroutine,
// so that Printf from a high-priority task never blocks on the actual
// device. Overflow drops the message and counts it.
package console

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"osal/config"
	db "osal/debug"
	"osal/idmap"
	op "osal/osalp"
	"osal/oserr"
)

type consoleRecord struct {
	name    string
	out     io.Writer
	buf     chan []byte
	done    chan struct{}
	flushed chan struct{}
	dropped atomic.Uint64
}

var tbl []consoleRecord

// The console Printf writes to, set up by common.Init.
var defaultId op.Tid

func Init() error {
	tbl = make([]consoleRecord, config.Conf.Tables.MAX_CONSOLES)
	return nil
}

// Create allocates a console writing to out (nil means stdout) and
// starts its flusher.
func Create(name string, out io.Writer) (op.Tid, error) {
	if name == "" {
		return op.IdUndefined, oserr.NewErr(oserr.TErrInvalidPointer, "name")
	}
	if out == nil {
		out = os.Stdout
	}
	idx, _, err := idmap.AllocateNew(op.CLASS_CONSOLE, name)
	if err != nil {
		return op.IdUndefined, err
	}
	c := &tbl[idx]
	c.name = name
	c.out = out
	c.buf = make(chan []byte, config.Conf.Limits.CONSOLE_BUF_DEPTH)
	c.done = make(chan struct{})
	c.flushed = make(chan struct{})
	c.dropped.Store(0)
	go c.flusher(c.buf, c.done, c.flushed)
	id, err := idmap.FinalizeNew(nil, op.CLASS_CONSOLE, idx)
	if err != nil {
		close(c.done)
		return op.IdUndefined, err
	}
	db.DPrintf(db.CONSOLE, "Create %q -> %v", name, id)
	return id, nil
}

// flusher drains buffered output until the console is deleted, then
// writes out anything still queued.
func (c *consoleRecord) flusher(buf chan []byte, done, flushed chan struct{}) {
	defer close(flushed)
	for {
		select {
		case msg := <-buf:
			c.out.Write(msg)
		case <-done:
			for {
				select {
				case msg := <-buf:
					c.out.Write(msg)
				default:
					return
				}
			}
		}
	}
}

// Delete stops the flusher after draining the buffer and frees the
// slot.
func Delete(id op.Tid) error {
	idx, _, err := idmap.GetById(idmap.LockExclusive, op.CLASS_CONSOLE, id)
	if err != nil {
		return err
	}
	c := &tbl[idx]
	close(c.done)
	<-c.flushed
	if id == defaultId {
		defaultId = op.IdUndefined
	}
	db.DPrintf(db.CONSOLE, "Delete %v", id)
	return idmap.FinalizeDelete(nil, op.CLASS_CONSOLE, idx)
}

// Write queues b on the console. A full buffer drops the write and
// counts it rather than blocking the caller.
func Write(id op.Tid, b []byte) error {
	idx, _, err := idmap.GetById(idmap.LockNone, op.CLASS_CONSOLE, id)
	if err != nil {
		return err
	}
	c := &tbl[idx]
	msg := make([]byte, len(b))
	copy(msg, b)
	select {
	case c.buf <- msg:
		return nil
	default:
		c.dropped.Add(1)
		return nil
	}
}

// SetDefault nominates the console used by Printf.
func SetDefault(id op.Tid) {
	defaultId = id
}

// Printf formats to the default console; it is a no-op before
// common.Init has brought one up.
func Printf(format string, v ...interface{}) {
	if defaultId == op.IdUndefined {
		return
	}
	Write(defaultId, []byte(fmt.Sprintf(format, v...)))
}

// Dropped reports how many writes the console has discarded on
// overflow.
func Dropped(id op.Tid) (uint64, error) {
	idx, _, err := idmap.GetById(idmap.LockNone, op.CLASS_CONSOLE, id)
	if err != nil {
		return 0, err
	}
	return tbl[idx].dropped.Load(), nil
}

func GetIdByName(name string) (op.Tid, error) {
	if name == "" {
		return op.IdUndefined, oserr.NewErr(oserr.TErrInvalidPointer, "name")
	}
	return idmap.FindByName(op.CLASS_CONSOLE, name)
}
