package delayindex

import (
	"sync"

	"github.com/DoqueDB/sydney/internal/errs"
	"github.com/DoqueDB/sydney/internal/inverted"
	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
	"github.com/DoqueDB/sydney/internal/vectorfile"
)

// Config carries the merge thresholds and the indexing capability.
type Config struct {
	Cap inverted.Capability

	// InsertFileThreshold triggers a merge when the current insert side's
	// file footprint reaches it; 0 disables.
	InsertFileThreshold int64
	// InsertTupleThreshold triggers on document count; 0 disables.
	InsertTupleThreshold  int
	ExpungeFileThreshold  int64
	ExpungeTupleThreshold int

	// StoreFeatures keeps each document's clustering vector in the
	// option-data file so search can cluster results.
	StoreFeatures bool
}

// File is one delayed-update logical index: the big unit, two insert-side
// and two delete-side small units, and the info file selecting the active
// bank.
type File struct {
	env *inverted.Env
	cfg Config
	tok inverted.Tokenizer

	// latch serializes writers against the flip and merge steps.
	latch sync.Mutex

	info *InfoFile
	big  *inverted.Unit
	ins  [2]*inverted.Unit
	del  [2]*inverted.ExpungeUnit

	// feat holds per-row clustering vectors, keyed by row id.
	feat *vectorfile.VariableFile

	// merge-session state, valid while proceeding != Idle
	docMap map[types.SmallDocID]types.DocID
}

// unitNumber tags where a pending deletion's target currently lives.
const (
	unitBig         types.UnitNumber = 0
	unitMergeInsert types.UnitNumber = 1
)

// Open binds the whole group inside env. A merge interrupted by a crash is
// detected here from the persisted proceeding state; call ResumeMerge to
// finish it.
func Open(env *inverted.Env, cfg Config, tx *trans.Transaction) (*File, error) {
	f := &File{env: env, cfg: cfg, tok: inverted.TokenizerFor(cfg.Cap)}

	infoStore, err := env.File("info")
	if err != nil {
		return nil, err
	}
	if f.info, err = OpenInfoFile(infoStore, tx); err != nil {
		return nil, err
	}

	f.big = inverted.NewUnit(env, "big", cfg.Cap)
	if err := f.big.Open(tx); err != nil {
		return nil, err
	}
	for i := 0; i < 2; i++ {
		f.ins[i] = inverted.NewUnit(env, insName(types.Side(i)), cfg.Cap)
		if err := f.ins[i].Open(tx); err != nil {
			return nil, err
		}
		if f.del[i], err = inverted.NewExpungeUnit(env, delName(types.Side(i)), cfg.Cap); err != nil {
			return nil, err
		}
		if err := f.del[i].Open(tx); err != nil {
			return nil, err
		}
	}
	if cfg.StoreFeatures {
		dirFile, err := env.File("feat-dir")
		if err != nil {
			return nil, err
		}
		dataFile, err := env.File("feat-data")
		if err != nil {
			return nil, err
		}
		f.feat = vectorfile.NewVariableFile(dirFile, dataFile)
		if err := f.feat.Open(tx); err != nil {
			return nil, err
		}
	}
	if f.info.Proceeding() != types.ProceedingIdle {
		if err := f.rebuildDocMap(); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func insName(s types.Side) string {
	if s == types.Side0 {
		return "ins0"
	}
	return "ins1"
}

func delName(s types.Side) string {
	if s == types.Side0 {
		return "del0"
	}
	return "del1"
}

// Side selection: the info bit names the current bank; the other bank is
// the merge bank.
func (f *File) currentInsert() *inverted.Unit      { return f.ins[f.info.Bit()] }
func (f *File) mergeInsert() *inverted.Unit        { return f.ins[f.info.Bit().Other()] }
func (f *File) currentDelete() *inverted.ExpungeUnit { return f.del[f.info.Bit()] }
func (f *File) mergeDelete() *inverted.ExpungeUnit   { return f.del[f.info.Bit().Other()] }

// Units exposes the five units in search order: big, insert-merge,
// insert-current, delete-merge, delete-current.
func (f *File) Units() (big, insMerge, insCur *inverted.Unit, delMerge, delCur *inverted.ExpungeUnit) {
	return f.big, f.mergeInsert(), f.currentInsert(), f.mergeDelete(), f.currentDelete()
}

// Info exposes the info file, read-only for callers.
func (f *File) Info() *InfoFile { return f.info }

// Tokenizer returns the group's tokenizer.
func (f *File) Tokenizer() inverted.Tokenizer { return f.tok }

// Insert indexes one document into the current insert side.
func (f *File) Insert(rowID types.RowID, text string, langs []string, sectionOffsets []uint32, features *inverted.FeatureSet) error {
	f.latch.Lock()
	defer f.latch.Unlock()
	var local inverted.FeatureSet
	fsOut := features
	if fsOut == nil && f.feat != nil {
		fsOut = &local
	}
	if err := f.currentInsert().Insert(f.tok, text, langs, rowID, sectionOffsets, fsOut); err != nil {
		return err
	}
	if f.feat != nil && fsOut != nil {
		return f.feat.Put(uint32(rowID), inverted.EncodeFeatureSet(*fsOut))
	}
	return nil
}

// Features reads the stored clustering vector for rowID; nil when feature
// storage is off or the row has none.
func (f *File) Features(rowID types.RowID) (inverted.FeatureSet, error) {
	if f.feat == nil {
		return nil, nil
	}
	blob, err := f.feat.Get(uint32(rowID))
	if err != nil || blob == nil {
		return nil, err
	}
	return inverted.DecodeFeatureSet(blob), nil
}

// NeedInsertMerge reports whether the current insert side crossed a
// configured threshold.
func (f *File) NeedInsertMerge() bool {
	f.latch.Lock()
	defer f.latch.Unlock()
	cur := f.currentInsert()
	if f.cfg.InsertTupleThreshold > 0 && int(cur.TupleCount()) >= f.cfg.InsertTupleThreshold {
		return true
	}
	if f.cfg.InsertFileThreshold > 0 && cur.FileSize() >= f.cfg.InsertFileThreshold {
		return true
	}
	return false
}

// NeedExpungeMerge is the delete-side analog.
func (f *File) NeedExpungeMerge() bool {
	f.latch.Lock()
	defer f.latch.Unlock()
	cur := f.currentDelete()
	if f.cfg.ExpungeTupleThreshold > 0 && int(cur.TupleCount()) >= f.cfg.ExpungeTupleThreshold {
		return true
	}
	if f.cfg.ExpungeFileThreshold > 0 && cur.FileSize() >= f.cfg.ExpungeFileThreshold {
		return true
	}
	return false
}

// Expunge removes rowID's document. A row still sitting in the current
// insert side is removed directly; anything else becomes a pending
// deletion in the current delete side, resolved at the next merge.
func (f *File) Expunge(rowID types.RowID, text string, langs []string) error {
	f.latch.Lock()
	defer f.latch.Unlock()

	cur := f.currentInsert()
	if ok, err := cur.Contains(rowID); err != nil {
		return err
	} else if ok {
		if err := cur.Expunge(f.tok, text, langs, rowID); err != nil {
			return err
		}
		if f.feat != nil {
			return f.feat.Expunge(uint32(rowID))
		}
		return nil
	}

	// Refuse a second pending deletion for the same row.
	for _, d := range []*inverted.ExpungeUnit{f.currentDelete(), f.mergeDelete()} {
		if ok, err := d.Contains(rowID); err != nil {
			return err
		} else if ok {
			return errs.New(errs.BadArgument, "delayindex.expunge", nil)
		}
	}

	mi := f.mergeInsert()
	if ok, err := mi.Contains(rowID); err != nil {
		return err
	} else if ok {
		docID, err := mi.DocIDOf(rowID)
		if err != nil {
			return err
		}
		_, err = f.currentDelete().AssignDocumentID(f.tok, text, langs, rowID,
			inverted.BigDocRef{DocID: docID, Unit: unitMergeInsert})
		return err
	}

	if ok, err := f.big.Contains(rowID); err != nil {
		return err
	} else if ok {
		docID, err := f.big.DocIDOf(rowID)
		if err != nil {
			return err
		}
		_, err = f.currentDelete().AssignDocumentID(f.tok, text, langs, rowID,
			inverted.BigDocRef{DocID: docID, Unit: unitBig})
		return err
	}
	return errs.New(errs.UndefinedDocumentID, "delayindex.expunge", nil)
}

// Contains reports whether rowID is visible: present in big or an insert
// side and not pending deletion.
func (f *File) Contains(rowID types.RowID) (bool, error) {
	f.latch.Lock()
	defer f.latch.Unlock()
	for _, d := range []*inverted.ExpungeUnit{f.currentDelete(), f.mergeDelete()} {
		if ok, err := d.Contains(rowID); err != nil {
			return false, err
		} else if ok {
			return false, nil
		}
	}
	for _, u := range []*inverted.Unit{f.currentInsert(), f.mergeInsert(), f.big} {
		if ok, err := u.Contains(rowID); err != nil {
			return false, err
		} else if ok {
			return true, nil
		}
	}
	return false, nil
}

// Flush persists every unit and the info file.
func (f *File) Flush() error {
	f.latch.Lock()
	defer f.latch.Unlock()
	return f.flushLocked()
}

func (f *File) flushLocked() error {
	if err := f.big.Flush(); err != nil {
		return err
	}
	for i := 0; i < 2; i++ {
		if err := f.ins[i].Flush(); err != nil {
			return err
		}
		if err := f.del[i].Flush(); err != nil {
			return err
		}
	}
	if f.feat != nil {
		return f.feat.Flush()
	}
	return nil
}

// Close flushes and releases the group.
func (f *File) Close() error { return f.Flush() }
