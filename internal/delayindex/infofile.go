// Package delayindex implements the delayed-update index group: one big
// inverted unit, two insert-side small units and two delete-side small
// units, rotated by a single persisted bit and folded together by a
// restartable merge.
package delayindex

import (
	"encoding/binary"

	"github.com/DoqueDB/sydney/internal/errs"
	"github.com/DoqueDB/sydney/internal/pagestore"
	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
)

// InfoFile is the one-page file holding the active-side bit, the merge
// proceeding state, the merge-base doc id and the list-merge cursors. All
// of it lives on a single page so every transition is a single-page
// commit.
//
// Layout: bit(4) proceeding(4) mergeBase(4) insertDone(1) expungeDone(1)
// pad(2) insKeyLen(2) expKeyLen(2) insKey expKey.
type InfoFile struct {
	file pagestore.File
	tx   *trans.Transaction

	bit        types.Side
	proceeding types.Proceeding
	mergeBase  types.DocID

	insertDone  bool
	expungeDone bool
	insertKey   string
	expungeKey  string
}

const (
	offBit         = 0
	offProceeding  = 4
	offMergeBase   = 8
	offInsertDone  = 12
	offExpungeDone = 13
	offInsKeyLen   = 16
	offExpKeyLen   = 18
	offKeys        = 20
)

// OpenInfoFile loads (or initializes) the info page.
func OpenInfoFile(f pagestore.File, tx *trans.Transaction) (*InfoFile, error) {
	i := &InfoFile{file: f, tx: tx}
	if f.MaxPageID() == types.NullPageID {
		p, err := f.Fix(tx, 0, pagestore.Write|pagestore.Allocate)
		if err != nil {
			return nil, err
		}
		p.Unfix(true)
		return i, i.persist()
	}
	p, err := f.Fix(tx, 0, pagestore.ReadOnly)
	if err != nil {
		return nil, err
	}
	d := p.Data()
	i.bit = types.Side(binary.LittleEndian.Uint32(d[offBit:]))
	i.proceeding = types.Proceeding(binary.LittleEndian.Uint32(d[offProceeding:]))
	i.mergeBase = types.DocID(binary.LittleEndian.Uint32(d[offMergeBase:]))
	i.insertDone = d[offInsertDone] != 0
	i.expungeDone = d[offExpungeDone] != 0
	il := int(binary.LittleEndian.Uint16(d[offInsKeyLen:]))
	el := int(binary.LittleEndian.Uint16(d[offExpKeyLen:]))
	if offKeys+il+el <= len(d) {
		i.insertKey = string(d[offKeys : offKeys+il])
		i.expungeKey = string(d[offKeys+il : offKeys+il+el])
	}
	p.Unfix(true)
	if i.bit != types.Side0 && i.bit != types.Side1 {
		return nil, errs.New(errs.LogItemCorrupted, "infofile.open", nil)
	}
	return i, nil
}

// persist writes the whole state as one page commit.
func (i *InfoFile) persist() error {
	p, err := i.file.Fix(i.tx, 0, pagestore.Write|pagestore.Discardable)
	if err != nil {
		return err
	}
	d := p.Data()
	binary.LittleEndian.PutUint32(d[offBit:], uint32(i.bit))
	binary.LittleEndian.PutUint32(d[offProceeding:], uint32(i.proceeding))
	binary.LittleEndian.PutUint32(d[offMergeBase:], uint32(i.mergeBase))
	d[offInsertDone] = boolByte(i.insertDone)
	d[offExpungeDone] = boolByte(i.expungeDone)
	// Cursors are best-effort: oversized keys fall back to empty, which
	// only costs a longer (still idempotent) resume.
	ins, exp := i.insertKey, i.expungeKey
	if offKeys+len(ins)+len(exp) > len(d) {
		ins, exp = "", ""
	}
	binary.LittleEndian.PutUint16(d[offInsKeyLen:], uint16(len(ins)))
	binary.LittleEndian.PutUint16(d[offExpKeyLen:], uint16(len(exp)))
	copy(d[offKeys:], ins)
	copy(d[offKeys+len(ins):], exp)
	p.Unfix(true)
	return i.file.Sync(i.tx)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Bit returns the current-side selector.
func (i *InfoFile) Bit() types.Side { return i.bit }

// Proceeding returns the persisted merge state.
func (i *InfoFile) Proceeding() types.Proceeding { return i.proceeding }

// MergeBase is the big unit's doc-id high-water captured at flip time; the
// small-to-big doc-id mapping is derived from it deterministically so a
// restarted merge reassigns identical ids.
func (i *InfoFile) MergeBase() types.DocID { return i.mergeBase }

// Flip atomically toggles the current side and enters ListMerging,
// capturing mergeBase and resetting the cursors, all in one page commit.
func (i *InfoFile) Flip(mergeBase types.DocID, insertDone, expungeDone bool) error {
	i.bit = i.bit.Other()
	i.proceeding = types.ProceedingListMerging
	i.mergeBase = mergeBase
	i.insertDone = insertDone
	i.expungeDone = expungeDone
	i.insertKey = ""
	i.expungeKey = ""
	return i.persist()
}

// Unflip aborts an unstarted merge: the bit toggles back and the state
// returns to Idle in one page commit.
func (i *InfoFile) Unflip() error {
	i.bit = i.bit.Other()
	i.proceeding = types.ProceedingIdle
	i.mergeBase = 0
	i.insertDone = false
	i.expungeDone = false
	i.insertKey = ""
	i.expungeKey = ""
	return i.persist()
}

// SetProceeding persists a merge state transition.
func (i *InfoFile) SetProceeding(p types.Proceeding) error {
	i.proceeding = p
	return i.persist()
}

// Cursors returns the persisted list-merge progress.
func (i *InfoFile) Cursors() (insertKey, expungeKey string, insertDone, expungeDone bool) {
	return i.insertKey, i.expungeKey, i.insertDone, i.expungeDone
}

// SetCursors persists list-merge progress.
func (i *InfoFile) SetCursors(insertKey, expungeKey string, insertDone, expungeDone bool) error {
	i.insertKey = insertKey
	i.expungeKey = expungeKey
	i.insertDone = insertDone
	i.expungeDone = expungeDone
	return i.persist()
}
