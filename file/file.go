// Package file implements OSAL file and directory handles (the STREAM
// and DIR classes) over the host filesystem. Handles are anonymous
// table entries: the same path may be open any number of times, so
// uniqueness applies to IDs, not names. Path translation of mounted
// volumes is out of scope; paths are host paths.
package file

import (
	"io"
	"os"

	"osal/config"
	db "osal/debug"
	"osal/idmap"
	op "osal/osalp"
	"osal/oserr"
)

// Access modes for Open.
const (
	ReadOnly  = os.O_RDONLY
	WriteOnly = os.O_WRONLY
	ReadWrite = os.O_RDWR
)

type streamRecord struct {
	path string
	f    *os.File
}

type dirRecord struct {
	path string
	f    *os.File
}

var streams []streamRecord
var dirs []dirRecord

func Init() error {
	streams = make([]streamRecord, config.Conf.Tables.MAX_STREAMS)
	dirs = make([]dirRecord, config.Conf.Tables.MAX_DIRS)
	return nil
}

// Open opens path with the given access flags, optionally creating it.
func Open(path string, flags int, create bool, perm os.FileMode) (op.Tid, error) {
	if path == "" {
		return op.IdUndefined, oserr.NewErr(oserr.TErrInvalidPointer, "path")
	}
	if create {
		flags |= os.O_CREATE
	}
	idx, _, err := idmap.AllocateNew(op.CLASS_STREAM, "")
	if err != nil {
		return op.IdUndefined, err
	}
	var opErr error
	f, oerr := os.OpenFile(path, flags, perm)
	if oerr != nil {
		db.DPrintf(db.FILE, "Open %q: %v", path, oerr)
		opErr = oserr.NewErr(oserr.TErrError, path)
	} else {
		streams[idx] = streamRecord{path: path, f: f}
	}
	return idmap.FinalizeNew(opErr, op.CLASS_STREAM, idx)
}

// Close closes a stream and frees its handle.
func Close(id op.Tid) error {
	idx, _, err := idmap.GetById(idmap.LockExclusive, op.CLASS_STREAM, id)
	if err != nil {
		return err
	}
	var opErr error
	if cerr := streams[idx].f.Close(); cerr != nil {
		// A failed close leaves the handle allocated, mirroring the
		// create/delete contract: the slot frees only on success.
		opErr = oserr.NewErr(oserr.TErrError, streams[idx].path)
	} else {
		streams[idx] = streamRecord{}
	}
	return idmap.FinalizeDelete(opErr, op.CLASS_STREAM, idx)
}

// Read reads up to len(b) bytes; zero with a nil error is end of file.
func Read(id op.Tid, b []byte) (int, error) {
	idx, _, err := idmap.GetById(idmap.LockNone, op.CLASS_STREAM, id)
	if err != nil {
		return 0, err
	}
	n, rerr := streams[idx].f.Read(b)
	if rerr != nil && rerr != io.EOF {
		return n, oserr.NewErr(oserr.TErrError, streams[idx].path)
	}
	return n, nil
}

func Write(id op.Tid, b []byte) (int, error) {
	idx, _, err := idmap.GetById(idmap.LockNone, op.CLASS_STREAM, id)
	if err != nil {
		return 0, err
	}
	n, werr := streams[idx].f.Write(b)
	if werr != nil {
		return n, oserr.NewErr(oserr.TErrError, streams[idx].path)
	}
	return n, nil
}

// Lseek repositions the stream offset; whence follows io.Seek*.
func Lseek(id op.Tid, offset int64, whence int) (int64, error) {
	idx, _, err := idmap.GetById(idmap.LockNone, op.CLASS_STREAM, id)
	if err != nil {
		return 0, err
	}
	pos, serr := streams[idx].f.Seek(offset, whence)
	if serr != nil {
		return 0, oserr.NewErr(oserr.TErrError, streams[idx].path)
	}
	return pos, nil
}

func Remove(path string) error {
	if path == "" {
		return oserr.NewErr(oserr.TErrInvalidPointer, "path")
	}
	if err := os.Remove(path); err != nil {
		return oserr.NewErr(oserr.TErrError, path)
	}
	return nil
}

func Rename(from, to string) error {
	if from == "" || to == "" {
		return oserr.NewErr(oserr.TErrInvalidPointer, "path")
	}
	if err := os.Rename(from, to); err != nil {
		return oserr.NewErr(oserr.TErrError, from)
	}
	return nil
}

func MkDir(path string, perm os.FileMode) error {
	if path == "" {
		return oserr.NewErr(oserr.TErrInvalidPointer, "path")
	}
	if err := os.Mkdir(path, perm); err != nil {
		return oserr.NewErr(oserr.TErrError, path)
	}
	return nil
}

// DirOpen opens a directory handle for DirRead iteration.
func DirOpen(path string) (op.Tid, error) {
	if path == "" {
		return op.IdUndefined, oserr.NewErr(oserr.TErrInvalidPointer, "path")
	}
	idx, _, err := idmap.AllocateNew(op.CLASS_DIR, "")
	if err != nil {
		return op.IdUndefined, err
	}
	var opErr error
	f, oerr := os.Open(path)
	if oerr != nil {
		opErr = oserr.NewErr(oserr.TErrError, path)
	} else {
		dirs[idx] = dirRecord{path: path, f: f}
	}
	return idmap.FinalizeNew(opErr, op.CLASS_DIR, idx)
}

// DirRead returns the next entry name, or "" at the end of the
// directory.
func DirRead(id op.Tid) (string, error) {
	idx, _, err := idmap.GetById(idmap.LockNone, op.CLASS_DIR, id)
	if err != nil {
		return "", err
	}
	names, rerr := dirs[idx].f.Readdirnames(1)
	if rerr == io.EOF || len(names) == 0 {
		return "", nil
	}
	if rerr != nil {
		return "", oserr.NewErr(oserr.TErrError, dirs[idx].path)
	}
	return names[0], nil
}

func DirClose(id op.Tid) error {
	idx, _, err := idmap.GetById(idmap.LockExclusive, op.CLASS_DIR, id)
	if err != nil {
		return err
	}
	var opErr error
	if cerr := dirs[idx].f.Close(); cerr != nil {
		opErr = oserr.NewErr(oserr.TErrError, dirs[idx].path)
	} else {
		dirs[idx] = dirRecord{}
	}
	return idmap.FinalizeDelete(opErr, op.CLASS_DIR, idx)
}

func DirRemove(path string) error {
	if path == "" {
		return oserr.NewErr(oserr.TErrInvalidPointer, "path")
	}
	if err := os.Remove(path); err != nil {
		return oserr.NewErr(oserr.TErrError, path)
	}
	return nil
}
