package delayindex

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/DoqueDB/sydney/internal/errs"
	"github.com/DoqueDB/sydney/internal/inverted"
	"github.com/DoqueDB/sydney/internal/mainfile"
	"github.com/DoqueDB/sydney/internal/trans"
	"github.com/DoqueDB/sydney/internal/types"
)

// consistentCodes is the set of row-id membership combinations a healthy
// index can exhibit across the five units, encoded as
// 16*big + 8*delMerge + 4*insMerge + 2*delCur + 1*insCur.
var consistentCodes = map[uint32]bool{
	1: true, 4: true, 6: true, 7: true,
	16: true, 18: true, 19: true,
	24: true, 25: true, 28: true, 30: true, 31: true,
}

// Verify checks each unit's internal consistency, then cross-checks row-id
// membership across all five units against the consistency table. With
// TreatmentContinue the pass records findings and keeps going; otherwise
// the first finding aborts.
func (f *File) Verify(tx *trans.Transaction, treatment types.Treatment) (*mainfile.VerifyProgress, error) {
	f.latch.Lock()
	defer f.latch.Unlock()

	progress := &mainfile.VerifyProgress{Treatment: treatment}

	units := []*inverted.Unit{
		f.big, f.mergeInsert(), f.currentInsert(),
		f.mergeDelete().Unit, f.currentDelete().Unit,
	}
	for _, u := range units {
		if tx.IsCanceledStatement() {
			return progress, errs.New(errs.Canceled, "delayindex.verify", nil)
		}
		if err := u.Verify(tx, progress); err != nil {
			return progress, err
		}
	}

	big := roaring.New()
	delMerge := roaring.New()
	insMerge := roaring.New()
	delCur := roaring.New()
	insCur := roaring.New()
	if err := f.big.RowIDs(big); err != nil {
		return progress, err
	}
	if err := f.mergeDelete().RowIDs(delMerge); err != nil {
		return progress, err
	}
	if err := f.mergeInsert().RowIDs(insMerge); err != nil {
		return progress, err
	}
	if err := f.currentDelete().RowIDs(delCur); err != nil {
		return progress, err
	}
	if err := f.currentInsert().RowIDs(insCur); err != nil {
		return progress, err
	}

	all := roaring.Or(roaring.Or(big, delMerge), roaring.Or(roaring.Or(insMerge, delCur), insCur))
	it := all.Iterator()
	for it.HasNext() {
		if tx.IsCanceledStatement() {
			return progress, errs.New(errs.Canceled, "delayindex.verify", nil)
		}
		rowID := it.Next()
		var code uint32
		if big.Contains(rowID) {
			code += 16
		}
		if delMerge.Contains(rowID) {
			code += 8
		}
		if insMerge.Contains(rowID) {
			code += 4
		}
		if delCur.Contains(rowID) {
			code += 2
		}
		if insCur.Contains(rowID) {
			code += 1
		}
		if !consistentCodes[code] {
			err := errs.New(errs.InaccurateRowid, "delayindex.verify",
				fmt.Errorf("rowid %d combination %#05b", rowID, code))
			if rerr := progress.Report(err); rerr != nil {
				return progress, rerr
			}
		}
	}
	return progress, nil
}
