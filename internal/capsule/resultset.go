package capsule

import (
	"sort"

	"github.com/DoqueDB/sydney/internal/types"
)

// ScoredRow is one fused result row.
type ScoredRow struct {
	RowID     types.RowID
	Score     float64
	ClusterID int
}

// rowsOf converts a unit result's doc ids into row-id space, dropping
// entries whose row id is gone, sorted by row id.
func rowsOf(r *unitResult) ([]ScoredRow, error) {
	out := make([]ScoredRow, 0, r.docs.GetCardinality())
	it := r.docs.Iterator()
	for it.HasNext() {
		docID := types.DocID(it.Next())
		rowID, err := r.unit.RowIDOf(docID)
		if err != nil {
			return nil, err
		}
		if rowID == types.UndefinedRowID {
			continue
		}
		out = append(out, ScoredRow{RowID: rowID, Score: r.scores[docID]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowID < out[j].RowID })
	return out, nil
}

// setUnion merges two row-id-sorted slices, adding scores on common rows:
// score addition through fusion can only raise a row's rank.
func setUnion(a, b []ScoredRow) []ScoredRow {
	out := make([]ScoredRow, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].RowID < b[j].RowID:
			out = append(out, a[i])
			i++
		case a[i].RowID > b[j].RowID:
			out = append(out, b[j])
			j++
		default:
			merged := a[i]
			merged.Score += b[j].Score
			out = append(out, merged)
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// setIntersection keeps rows present in both slices, adding scores.
func setIntersection(a, b []ScoredRow) []ScoredRow {
	var out []ScoredRow
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].RowID < b[j].RowID:
			i++
		case a[i].RowID > b[j].RowID:
			j++
		default:
			merged := a[i]
			merged.Score += b[j].Score
			out = append(out, merged)
			i++
			j++
		}
	}
	return out
}

// compose fuses per-unit results into one ordered row list.
//
// With exactly one non-empty unit the rows are sorted once in the
// requested order and truncated. Otherwise the largest unit anchors the
// fusion: all non-anchors union first, then the anchor merges in. A nil
// sort on the fusion path is rewritten to RowIDAsc; the single-unit path
// leaves SortNone unsorted.
func compose(results []*unitResult, sortOrder types.SortOrder, limit int) ([]ScoredRow, error) {
	perUnit := make([][]ScoredRow, 0, len(results))
	for _, r := range results {
		rows, err := rowsOf(r)
		if err != nil {
			return nil, err
		}
		perUnit = append(perUnit, rows)
	}

	nonEmpty := 0
	anchor := -1
	for i, rows := range perUnit {
		if len(rows) > 0 {
			nonEmpty++
			if anchor < 0 || len(rows) > len(perUnit[anchor]) {
				anchor = i
			}
		}
	}
	if nonEmpty == 0 {
		return nil, nil
	}
	if nonEmpty == 1 {
		return orderAndTruncate(perUnit[anchor], sortOrder, limit), nil
	}

	if sortOrder == types.SortNone {
		sortOrder = types.SortRowIDAsc
	}
	var fused []ScoredRow
	for i, rows := range perUnit {
		if i == anchor || len(rows) == 0 {
			continue
		}
		fused = setUnion(fused, rows)
	}
	fused = setUnion(fused, perUnit[anchor])
	return orderAndTruncate(fused, sortOrder, limit), nil
}

// orderAndTruncate applies the requested order and limit. Score-ascending
// truncation erases the leading size-limit rows: fusion can only have
// raised ranks, so the tail is the accurate end of the ordering.
func orderAndTruncate(rows []ScoredRow, sortOrder types.SortOrder, limit int) []ScoredRow {
	switch sortOrder {
	case types.SortRowIDAsc:
		sort.Slice(rows, func(i, j int) bool { return rows[i].RowID < rows[j].RowID })
	case types.SortScoreDesc:
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].Score != rows[j].Score {
				return rows[i].Score > rows[j].Score
			}
			return rows[i].RowID < rows[j].RowID
		})
	case types.SortScoreAsc:
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].Score != rows[j].Score {
				return rows[i].Score < rows[j].Score
			}
			return rows[i].RowID < rows[j].RowID
		})
	}
	if limit <= 0 || len(rows) <= limit {
		return rows
	}
	if sortOrder == types.SortScoreAsc {
		return rows[len(rows)-limit:]
	}
	return rows[:limit]
}
