package inverted

import (
	"encoding/binary"

	"github.com/DoqueDB/sydney/internal/errs"
	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
	"github.com/DoqueDB/sydney/internal/vectorfile"
)

// docIDVector binds row ids to per-unit doc ids: a forward multi-vector
// keyed by row id holding (doc id, normalized length, unnormalized length)
// and a reverse vector keyed by doc id holding the row id. The last
// assigned doc id lives in the reverse file's sub-header so ids stay
// monotonic across reopen.
type docIDVector struct {
	fwd *vectorfile.MultiVectorFile
	rev *vectorfile.VectorFile
}

const (
	fldDocID = iota
	fldNormLen
	fldUnnormLen
)

func newDocIDVector(env *Env, prefix string) (*docIDVector, error) {
	ff, err := env.File(prefix + "-docvec")
	if err != nil {
		return nil, err
	}
	rf, err := env.File(prefix + "-rowvec")
	if err != nil {
		return nil, err
	}
	return &docIDVector{
		fwd: vectorfile.NewMultiVectorFile(ff, []int{4, 4, 4}),
		rev: vectorfile.NewVectorFile(rf, 4),
	}, nil
}

func (v *docIDVector) Open(tx *trans.Transaction) error {
	if err := v.fwd.Open(tx); err != nil {
		return err
	}
	return v.rev.Open(tx)
}

func (v *docIDVector) Close() error {
	if err := v.fwd.Close(); err != nil {
		return err
	}
	return v.rev.Close()
}

func (v *docIDVector) Flush() error {
	if err := v.fwd.FlushAllPages(); err != nil {
		return err
	}
	return v.rev.FlushAllPages()
}

func (v *docIDVector) Recover() error {
	if err := v.fwd.RecoverAllPages(); err != nil {
		return err
	}
	return v.rev.RecoverAllPages()
}

func (v *docIDVector) lastDocID() (types.DocID, error) {
	sh, err := v.rev.SubHeader()
	if err != nil {
		return 0, err
	}
	return types.DocID(binary.LittleEndian.Uint32(sh)), nil
}

func (v *docIDVector) setLastDocID(id types.DocID) error {
	sh, err := v.rev.SubHeader()
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(sh, uint32(id))
	v.rev.MarkSubHeaderDirty()
	return nil
}

// Assign hands out the next doc id for rowID and records both directions.
func (v *docIDVector) Assign(rowID types.RowID, normLen, unnormLen uint32) (types.DocID, error) {
	last, err := v.lastDocID()
	if err != nil {
		return types.UndefinedDocID, err
	}
	next := last + 1
	if err := v.Put(rowID, next, normLen, unnormLen); err != nil {
		return types.UndefinedDocID, err
	}
	return next, nil
}

// Put records an explicit (rowID, docID) binding, bumping the assignment
// high-water when needed; the merge fold uses this with pre-assigned ids.
func (v *docIDVector) Put(rowID types.RowID, docID types.DocID, normLen, unnormLen uint32) error {
	var d, n, u [4]byte
	binary.LittleEndian.PutUint32(d[:], uint32(docID))
	binary.LittleEndian.PutUint32(n[:], normLen)
	binary.LittleEndian.PutUint32(u[:], unnormLen)
	if err := v.fwd.Insert(uint32(rowID), [][]byte{d[:], n[:], u[:]}); err != nil {
		return err
	}
	var r [4]byte
	binary.LittleEndian.PutUint32(r[:], uint32(rowID))
	if err := v.rev.Insert(uint32(docID), r[:]); err != nil {
		return err
	}
	last, err := v.lastDocID()
	if err != nil {
		return err
	}
	if docID > last {
		return v.setLastDocID(docID)
	}
	return nil
}

// DocIDOf translates a row id; UndefinedDocID when absent. This is the
// null-check-free hot path.
func (v *docIDVector) DocIDOf(rowID types.RowID) (types.DocID, error) {
	u, err := v.fwd.GetUint32(uint32(rowID), fldDocID)
	if err != nil {
		return types.UndefinedDocID, err
	}
	// An all-null slot reads back 0xffffffff, which is the sentinel.
	return types.DocID(u), nil
}

// Contains reports whether rowID has a live doc id.
func (v *docIDVector) Contains(rowID types.RowID) (bool, error) {
	b, err := v.fwd.GetField(uint32(rowID), fldDocID)
	if err != nil {
		return false, err
	}
	return b != nil, nil
}

// RowIDOf translates a doc id; UndefinedRowID when absent.
func (v *docIDVector) RowIDOf(docID types.DocID) (types.RowID, error) {
	b, err := v.rev.Get(uint32(docID))
	if err != nil {
		return types.UndefinedRowID, err
	}
	if b == nil {
		return types.UndefinedRowID, nil
	}
	return types.RowID(binary.LittleEndian.Uint32(b)), nil
}

// Lengths returns the normalized and unnormalized document lengths.
func (v *docIDVector) Lengths(rowID types.RowID) (uint32, uint32, error) {
	nb, err := v.fwd.GetField(uint32(rowID), fldNormLen)
	if err != nil {
		return 0, 0, err
	}
	if nb == nil {
		return 0, 0, errs.New(errs.UndefinedDocumentID, "inverted.lengths", nil)
	}
	ub, err := v.fwd.GetField(uint32(rowID), fldUnnormLen)
	if err != nil {
		return 0, 0, err
	}
	var u uint32
	if ub != nil {
		u = binary.LittleEndian.Uint32(ub)
	}
	return binary.LittleEndian.Uint32(nb), u, nil
}

// Expunge removes both directions for rowID.
func (v *docIDVector) Expunge(rowID types.RowID) error {
	docID, err := v.DocIDOf(rowID)
	if err != nil {
		return err
	}
	if docID == types.UndefinedDocID {
		return nil
	}
	if err := v.fwd.Expunge(uint32(rowID)); err != nil {
		return err
	}
	return v.rev.Expunge(uint32(docID))
}

// Count is the number of live documents.
func (v *docIDVector) Count() uint32 { return v.fwd.Count() }

// ForEachRowID visits every live row id in ascending order.
func (v *docIDVector) ForEachRowID(fn func(rowID types.RowID, docID types.DocID) error) error {
	if v.fwd.Count() == 0 {
		return nil
	}
	for key := uint32(0); key <= v.fwd.MaxKey(); key++ {
		b, err := v.fwd.GetField(key, fldDocID)
		if err != nil {
			return err
		}
		if b == nil {
			continue
		}
		if err := fn(types.RowID(key), types.DocID(binary.LittleEndian.Uint32(b))); err != nil {
			return err
		}
	}
	return nil
}

// ForEachDocID visits every live doc id in ascending order.
func (v *docIDVector) ForEachDocID(fn func(docID types.DocID, rowID types.RowID) error) error {
	if v.rev.Count() == 0 {
		return nil
	}
	for key := uint32(0); key <= v.rev.MaxKey(); key++ {
		b, err := v.rev.Get(key)
		if err != nil {
			return err
		}
		if b == nil {
			continue
		}
		if err := fn(types.DocID(key), types.RowID(binary.LittleEndian.Uint32(b))); err != nil {
			return err
		}
	}
	return nil
}

// Clear wipes both vectors, resetting doc-id assignment.
func (v *docIDVector) Clear() error {
	if err := v.fwd.Clear(); err != nil {
		return err
	}
	if err := v.rev.Clear(); err != nil {
		return err
	}
	return v.setLastDocID(0)
}
