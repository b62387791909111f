package idmap

import (
	db "osal/debug"
	op "osal/osalp"
	"osal/oserr"
)

// MatchFunc is an arbitrary record predicate for GetBySearch. It runs
// with the class lock held and must not re-enter the id map.
type MatchFunc func(idx int, rec *Record) bool

// convertLock escalates a validated record to the requested lock mode.
// Called with the class lock held; id is the reference the caller
// matched on. On return the lock is held iff the mode leaves it held
// and the error is nil.
func (ct *classTable) convertLock(mode TlockMode, rec *Record, id op.Tid) error {
	switch mode {
	case LockNone:
		ct.mu.Unlock()
	case LockGlobal:
		// Leave locked.
	case LockExclusive:
		for rec.RefCount > 0 {
			rec.Flags |= exclReqFlag
			ct.excl.Wait()
			// The wait dropped the lock; the record may have been
			// deleted out from under us by a competing exclusive
			// caller.
			if rec.ActiveId() != id {
				ct.mu.Unlock()
				return oserr.NewErr(oserr.TErrInvalidId, id)
			}
		}
		rec.Flags &^= exclReqFlag
	case LockRefcount:
		rec.RefCount++
		ct.mu.Unlock()
	}
	return nil
}

// GetById locates the record for id, validating the class tag and that
// the slot still publishes exactly this ID, then applies the lock
// mode. A stale or mismatched ID yields TErrInvalidId with no side
// effects.
func GetById(mode TlockMode, c op.Tclass, id op.Tid) (int, *Record, error) {
	idx, err := ArrayIndex(c, id)
	if err != nil {
		return -1, nil, err
	}
	ct := tables[c]
	ct.mu.Lock()
	rec := &ct.recs[idx]
	if rec.ActiveId() != id {
		ct.mu.Unlock()
		return -1, nil, oserr.NewErr(oserr.TErrInvalidId, id)
	}
	if err := ct.convertLock(mode, rec, id); err != nil {
		return -1, nil, err
	}
	return idx, rec, nil
}

// GetBySearch scans the active slots of class c in index order and
// escalates the first record the predicate accepts, with the same
// lock-mode semantics as GetById.
func GetBySearch(mode TlockMode, c op.Tclass, match MatchFunc) (int, *Record, error) {
	ct, err := table(c)
	if err != nil {
		return -1, nil, err
	}
	ct.mu.Lock()
	for i := range ct.recs {
		rec := &ct.recs[i]
		id := rec.ActiveId()
		if !id.IsDefined() {
			continue
		}
		if !match(i, rec) {
			continue
		}
		if err := ct.convertLock(mode, rec, id); err != nil {
			return -1, nil, err
		}
		return i, rec, nil
	}
	ct.mu.Unlock()
	return -1, nil, oserr.NewErr(oserr.TErrNameNotFound, c)
}

// GetByName escalates the active record with the given name.
// Anonymous records never match.
func GetByName(mode TlockMode, c op.Tclass, name string) (int, *Record, error) {
	return GetBySearch(mode, c, func(i int, rec *Record) bool {
		return name != "" && rec.NameEntry == name
	})
}

// FindByName is the unlocked name lookup: it resolves a name to an ID
// without leaving anything held.
func FindByName(c op.Tclass, name string) (op.Tid, error) {
	_, rec, err := GetByName(LockGlobal, c, name)
	if err != nil {
		db.DPrintf(db.IDMAP, "FindByName %v %q: %v", c, name, err)
		return op.IdUndefined, err
	}
	id := rec.ActiveId()
	Unlock(c)
	return id, nil
}

// ForEach invokes fn for the ID of every slot matching the filters,
// without holding any lock during the calls, so fn may re-enter the id
// map. A classFilter of CLASS_UNDEFINED selects all classes; a creator
// of IdUndefined selects all creators.
func ForEach(classFilter op.Tclass, creator op.Tid, fn func(op.Tid)) {
	for c := op.CLASS_TASK; c < op.CLASS_MAX; c++ {
		if classFilter != op.CLASS_UNDEFINED && c != classFilter {
			continue
		}
		ct, err := table(c)
		if err != nil {
			continue
		}
		ids := make([]op.Tid, 0, len(ct.recs))
		ct.mu.Lock()
		for i := range ct.recs {
			rec := &ct.recs[i]
			id := rec.ActiveId()
			if !id.IsDefined() {
				continue
			}
			if creator != op.IdUndefined && rec.Creator != creator {
				continue
			}
			ids = append(ids, id)
		}
		ct.mu.Unlock()
		for _, id := range ids {
			fn(id)
		}
	}
}
