package idmap

import (
	"osal/config"
	db "osal/debug"
	"osal/kernel"
	op "osal/osalp"
	"osal/oserr"
)

// AllocateNew reserves a free slot in class c and returns its index
// and record with the class lock HELD. The caller populates its own
// per-class table entry, performs the platform create, and must then
// call FinalizeNew to publish or roll back the slot.
//
// An empty name allocates an anonymous record (streams and directory
// handles have no name); a non-empty name must be unique among the
// class's reserved and active slots.
func AllocateNew(c op.Tclass, name string) (int, *Record, error) {
	ct, err := table(c)
	if err != nil {
		return -1, nil, err
	}
	if name != "" && len(name) >= config.Conf.Limits.MAX_API_NAME {
		return -1, nil, oserr.NewErr(oserr.TErrNameTooLong, name)
	}

	ct.mu.Lock()
	if name != "" {
		for i := range ct.recs {
			if ct.recs[i].ActiveId() != op.IdUndefined && ct.recs[i].NameEntry == name {
				ct.mu.Unlock()
				db.DPrintf(db.IDMAP_ERR, "AllocateNew %v %q: name taken", c, name)
				return -1, nil, oserr.NewErr(oserr.TErrNameTaken, name)
			}
		}
	}
	for i := range ct.recs {
		rec := &ct.recs[i]
		if rec.ActiveId() == op.IdUndefined {
			rec.setActiveId(op.IdReserved)
			rec.NameEntry = name
			rec.Creator = kernel.Self()
			rec.RefCount = 0
			rec.Flags = 0
			db.DPrintf(db.IDMAP, "AllocateNew %v %q -> slot %d", c, name, i)
			return i, rec, nil
		}
	}
	ct.mu.Unlock()
	db.DPrintf(db.IDMAP_ERR, "AllocateNew %v %q: no free ids", c, name)
	return -1, nil, oserr.NewErr(oserr.TErrNoFreeIds, c)
}

// FinalizeNew completes an allocation started by AllocateNew and
// unlocks the class. If opErr is nil the slot gets a fresh serial and
// its ID is published; otherwise the slot is returned to free and
// opErr is passed through.
func FinalizeNew(opErr error, c op.Tclass, idx int) (op.Tid, error) {
	ct, err := table(c)
	if err != nil {
		return op.IdUndefined, err
	}
	rec := &ct.recs[idx]
	defer ct.mu.Unlock()

	if opErr != nil {
		db.DPrintf(db.IDMAP_ERR, "FinalizeNew %v slot %d: rollback %v", c, idx, opErr)
		rec.reset()
		return op.IdUndefined, opErr
	}

	id := op.Compose(c, ct.nextSerial(idx))
	rec.setActiveId(id)
	db.DPrintf(db.IDMAP, "FinalizeNew %v slot %d -> %v", c, idx, id)
	return id, nil
}

// nextSerial advances the hidden per-slot generation counter. Caller
// holds the class lock. The counter moves by the class capacity so the
// slot index stays stable; on 24-bit overflow it restarts at the slot
// index. Composed IDs can never collide with the sentinels because
// the class tag occupies the top byte and is always in [1, CLASS_MAX).
func (ct *classTable) nextSerial(idx int) uint32 {
	s := ct.serial[idx] + uint32(len(ct.recs))
	if s > op.SERIAL_MASK {
		s = uint32(idx)
	}
	ct.serial[idx] = s
	return s
}

// FinalizeDelete completes a delete begun with GetById(LockExclusive).
// The class lock is held on entry and released unconditionally. The
// record is cleared only when opErr is nil; a failed platform delete
// leaves the object alive.
func FinalizeDelete(opErr error, c op.Tclass, idx int) error {
	ct, err := table(c)
	if err != nil {
		return err
	}
	rec := &ct.recs[idx]
	defer ct.mu.Unlock()

	if opErr == nil {
		db.DPrintf(db.IDMAP, "FinalizeDelete %v slot %d %v", c, idx, rec.ActiveId())
		rec.reset()
	} else {
		db.DPrintf(db.IDMAP_ERR, "FinalizeDelete %v slot %d: %v", c, idx, opErr)
	}
	return opErr
}

// RefcountDecr releases a reference obtained with LockRefcount,
// saturating at zero, and wakes an exclusive waiter once the count
// drains.
func RefcountDecr(c op.Tclass, idx int) error {
	ct, err := table(c)
	if err != nil {
		return err
	}
	ct.mu.Lock()
	defer ct.mu.Unlock()
	rec := &ct.recs[idx]
	if rec.RefCount > 0 {
		rec.RefCount--
	}
	if rec.RefCount == 0 && rec.Flags&exclReqFlag != 0 {
		ct.excl.Broadcast()
	}
	return nil
}
