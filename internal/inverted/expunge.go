package inverted

import (
	"encoding/binary"

	"github.com/DoqueDB/sydney/internal/errs"
	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
	"github.com/DoqueDB/sydney/internal/vectorfile"
)

// BigDocRef addresses a document in a big unit: its doc id plus the unit
// number, for installations splitting the big index across units.
type BigDocRef struct {
	DocID types.DocID
	Unit  types.UnitNumber
}

// expungeIDRecordSize is sizeof(u32) + sizeof(u32), exactly: big doc id
// then unit number. All-ones means null.
const expungeIDRecordSize = 8

// ExpungeIDVectorFile maps a delete-side small doc id to the big-unit
// document it expunges.
type ExpungeIDVectorFile struct {
	vec *vectorfile.VectorFile
}

// NewExpungeIDVectorFile binds the vector stored under name in env.
func NewExpungeIDVectorFile(env *Env, name string) (*ExpungeIDVectorFile, error) {
	f, err := env.File(name)
	if err != nil {
		return nil, err
	}
	return &ExpungeIDVectorFile{vec: vectorfile.NewVectorFile(f, expungeIDRecordSize)}, nil
}

func (e *ExpungeIDVectorFile) Open(tx *trans.Transaction) error { return e.vec.Open(tx) }
func (e *ExpungeIDVectorFile) Close() error                     { return e.vec.Close() }
func (e *ExpungeIDVectorFile) Flush() error                     { return e.vec.FlushAllPages() }
func (e *ExpungeIDVectorFile) Recover() error                   { return e.vec.RecoverAllPages() }
func (e *ExpungeIDVectorFile) Clear() error                     { return e.vec.Clear() }

// Put records the translation for smallDocID.
func (e *ExpungeIDVectorFile) Put(smallDocID types.SmallDocID, ref BigDocRef) error {
	var buf [expungeIDRecordSize]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(ref.DocID))
	binary.LittleEndian.PutUint32(buf[4:], uint32(ref.Unit))
	return e.vec.Insert(uint32(smallDocID), buf[:])
}

// Get translates smallDocID; fails with UndefinedDocumentID when absent.
func (e *ExpungeIDVectorFile) Get(smallDocID types.SmallDocID) (BigDocRef, error) {
	b, err := e.vec.Get(uint32(smallDocID))
	if err != nil {
		return BigDocRef{}, err
	}
	if b == nil {
		return BigDocRef{}, errs.New(errs.UndefinedDocumentID, "expungeidvector.get", nil)
	}
	return BigDocRef{
		DocID: types.DocID(binary.LittleEndian.Uint32(b[0:])),
		Unit:  types.UnitNumber(binary.LittleEndian.Uint32(b[4:])),
	}, nil
}

// Expunge withdraws the translation, undoing a deletion.
func (e *ExpungeIDVectorFile) Expunge(smallDocID types.SmallDocID) error {
	return e.vec.Expunge(uint32(smallDocID))
}

// GetAll appends every translated big doc id to out, for verify and
// rebuild.
func (e *ExpungeIDVectorFile) GetAll(out *[]types.DocID) error {
	if e.vec.Count() == 0 {
		return nil
	}
	for key := uint32(0); key <= e.vec.MaxKey(); key++ {
		b, err := e.vec.Get(key)
		if err != nil {
			return err
		}
		if b == nil {
			continue
		}
		*out = append(*out, types.DocID(binary.LittleEndian.Uint32(b[0:])))
	}
	return nil
}

// GetAllRefs visits every live translation.
func (e *ExpungeIDVectorFile) GetAllRefs(fn func(small types.SmallDocID, ref BigDocRef) error) error {
	if e.vec.Count() == 0 {
		return nil
	}
	for key := uint32(0); key <= e.vec.MaxKey(); key++ {
		b, err := e.vec.Get(key)
		if err != nil {
			return err
		}
		if b == nil {
			continue
		}
		ref := BigDocRef{
			DocID: types.DocID(binary.LittleEndian.Uint32(b[0:])),
			Unit:  types.UnitNumber(binary.LittleEndian.Uint32(b[4:])),
		}
		if err := fn(types.SmallDocID(key), ref); err != nil {
			return err
		}
	}
	return nil
}

// MaxKey is the largest small doc id ever assigned.
func (e *ExpungeIDVectorFile) MaxKey() uint32 { return e.vec.MaxKey() }

// Count is the number of live translations.
func (e *ExpungeIDVectorFile) Count() uint32 { return e.vec.Count() }

// ExpungeUnit is a delete-side small index: an inverted unit forced to
// store neither locations nor term frequencies, plus the translation
// vector from its small doc ids to the big documents they delete.
type ExpungeUnit struct {
	*Unit
	ids *ExpungeIDVectorFile
}

// NewExpungeUnit binds the delete-side unit named name inside env.
func NewExpungeUnit(env *Env, name string, cap Capability) (*ExpungeUnit, error) {
	cap.NoLocation = true
	cap.NoTF = true
	ids, err := NewExpungeIDVectorFile(env, name+"-expid")
	if err != nil {
		return nil, err
	}
	return &ExpungeUnit{Unit: NewUnit(env, name, cap), ids: ids}, nil
}

func (e *ExpungeUnit) Open(tx *trans.Transaction) error {
	if err := e.Unit.Open(tx); err != nil {
		return err
	}
	return e.ids.Open(tx)
}

func (e *ExpungeUnit) Close() error {
	if err := e.Unit.Close(); err != nil {
		return err
	}
	return e.ids.Close()
}

func (e *ExpungeUnit) Flush() error {
	if err := e.Unit.Flush(); err != nil {
		return err
	}
	return e.ids.Flush()
}

func (e *ExpungeUnit) Recover() error {
	if err := e.Unit.Recover(); err != nil {
		return err
	}
	return e.ids.Recover()
}

// Clear empties both the index and the translation vector for the next
// merge round; the allocated file space is kept.
func (e *ExpungeUnit) Clear() error {
	if err := e.Unit.Clear(); err != nil {
		return err
	}
	return e.ids.Clear()
}

// AssignDocumentID indexes a pending deletion: the deleted document's text
// is indexed under rowID with a fresh small doc id, and the translation to
// the big document recorded.
func (e *ExpungeUnit) AssignDocumentID(tok Tokenizer, text string, langs []string, rowID types.RowID, ref BigDocRef) (types.SmallDocID, error) {
	if err := e.Unit.Insert(tok, text, langs, rowID, nil, nil); err != nil {
		return types.UndefinedSmallDocID, err
	}
	docID, err := e.Unit.DocIDOf(rowID)
	if err != nil {
		return types.UndefinedSmallDocID, err
	}
	small := types.SmallDocID(docID)
	if err := e.ids.Put(small, ref); err != nil {
		return types.UndefinedSmallDocID, err
	}
	return small, nil
}

// ConvertToBigDocumentID translates a small doc id.
func (e *ExpungeUnit) ConvertToBigDocumentID(small types.SmallDocID) (BigDocRef, error) {
	return e.ids.Get(small)
}

// ExpungeIDVector withdraws the translation for small, the undo path of a
// deletion.
func (e *ExpungeUnit) ExpungeIDVector(small types.SmallDocID) error {
	return e.ids.Expunge(small)
}

// UndoDeletion removes rowID's pending deletion entirely: postings,
// doc binding and translation.
func (e *ExpungeUnit) UndoDeletion(tok Tokenizer, text string, langs []string, rowID types.RowID) error {
	docID, err := e.Unit.DocIDOf(rowID)
	if err != nil {
		return err
	}
	if docID == types.UndefinedDocID {
		return errs.New(errs.UndefinedDocumentID, "expungeunit.undo", nil)
	}
	if err := e.Unit.Expunge(tok, text, langs, rowID); err != nil {
		return err
	}
	return e.ids.Expunge(types.SmallDocID(docID))
}

// BigDocIDs appends every pending big deletion to out.
func (e *ExpungeUnit) BigDocIDs(out *[]types.DocID) error { return e.ids.GetAll(out) }

// IDs exposes the translation vector to the merge fold.
func (e *ExpungeUnit) IDs() *ExpungeIDVectorFile { return e.ids }
