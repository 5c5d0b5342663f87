// Package logical binds the inverted engine into the typed tuple world:
// it converts tuple arrays to documents, routes projections to the right
// retrieval path, computes KWIC windows, and validates field selections.
package logical

import (
	"fmt"

	"github.com/DoqueDB/sydney/internal/errs"
)

// FieldType enumerates the logical fields the index surface exposes.
type FieldType int

const (
	FieldRowID FieldType = iota
	FieldDocument
	FieldLanguage
	FieldSectionOffsets
	FieldScore
	FieldWord
	FieldWordDf
	FieldLength
	FieldCharLength
	FieldAverageLength
	FieldAverageCharLength
	FieldCluster
	FieldFeature
)

func (f FieldType) String() string {
	switch f {
	case FieldRowID:
		return "rowid"
	case FieldDocument:
		return "document"
	case FieldLanguage:
		return "language"
	case FieldSectionOffsets:
		return "section_offsets"
	case FieldScore:
		return "score"
	case FieldWord:
		return "word"
	case FieldWordDf:
		return "word_df"
	case FieldLength:
		return "length"
	case FieldCharLength:
		return "char_length"
	case FieldAverageLength:
		return "average_length"
	case FieldAverageCharLength:
		return "average_char_length"
	case FieldCluster:
		return "cluster"
	case FieldFeature:
		return "feature"
	default:
		return fmt.Sprintf("field(%d)", int(f))
	}
}

// mutexGroup is a mutually exclusive set of projected fields: selecting
// from two different groups in one projection is invalid.
type mutexGroup struct {
	name   string
	fields map[FieldType]bool
}

// The three projection groups. Score, cluster and feature ride along with
// the normal group; the word and length groups stand alone.
var fieldGroups = []mutexGroup{
	{name: "normal", fields: map[FieldType]bool{
		FieldRowID: true, FieldDocument: true, FieldLanguage: true,
		FieldSectionOffsets: true, FieldScore: true, FieldCluster: true,
		FieldFeature: true,
	}},
	{name: "word", fields: map[FieldType]bool{
		FieldWord: true, FieldWordDf: true,
	}},
	{name: "length", fields: map[FieldType]bool{
		FieldLength: true, FieldCharLength: true,
		FieldAverageLength: true, FieldAverageCharLength: true,
	}},
}

// FieldMask is a projection selection.
type FieldMask struct {
	fields []FieldType
}

// NewFieldMask validates that every selected field belongs to one group.
func NewFieldMask(fields ...FieldType) (*FieldMask, error) {
	group := -1
	for _, f := range fields {
		g := groupOf(f)
		if g < 0 {
			return nil, errs.New(errs.BadArgument, "logical.fieldmask",
				fmt.Errorf("unknown field %s", f))
		}
		if group >= 0 && g != group {
			return nil, errs.New(errs.BadArgument, "logical.fieldmask",
				fmt.Errorf("field %s from group %s conflicts with group %s",
					f, fieldGroups[g].name, fieldGroups[group].name))
		}
		group = g
	}
	return &FieldMask{fields: fields}, nil
}

func groupOf(f FieldType) int {
	for i, g := range fieldGroups {
		if g.fields[f] {
			return i
		}
	}
	return -1
}

// Has reports whether the mask selects f.
func (m *FieldMask) Has(f FieldType) bool {
	for _, x := range m.fields {
		if x == f {
			return true
		}
	}
	return false
}

// Group names the mask's projection group.
func (m *FieldMask) Group() string {
	if len(m.fields) == 0 {
		return "normal"
	}
	return fieldGroups[groupOf(m.fields[0])].name
}

// Fields returns the selected fields in order.
func (m *FieldMask) Fields() []FieldType { return m.fields }
