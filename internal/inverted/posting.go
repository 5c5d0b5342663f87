// Package inverted implements one inverted index unit: a term dictionary,
// chained posting lists split across a leaf file (short lists) and an
// overflow file (long lists), and the doc-id vectors binding row ids to
// per-unit document ids. ExpungeUnit specializes a unit for the delete
// side of a delayed index, adding the small-to-big doc-id translation
// vector.
package inverted

import (
	"encoding/binary"

	"github.com/DoqueDB/sydney/internal/errs"
	"github.com/DoqueDB/sydney/internal/types"
)

// Posting is one document hit of a term.
type Posting struct {
	DocID     types.DocID
	TF        uint32
	Locations []uint32
}

// Capability controls what a unit stores per hit.
type Capability struct {
	// WordIndex selects word tokenization instead of n-grams.
	WordIndex bool
	// NoLocation drops per-hit position arrays.
	NoLocation bool
	// NoTF drops term-frequency counters.
	NoTF bool
}

// putUvarint appends v to buf.
func putUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// encodePosting appends one posting, delta-coding the doc id against prev.
func encodePosting(buf []byte, prev types.DocID, p Posting, cap Capability) []byte {
	buf = putUvarint(buf, uint64(p.DocID-prev))
	if !cap.NoTF {
		buf = putUvarint(buf, uint64(p.TF))
	}
	if !cap.NoLocation {
		buf = putUvarint(buf, uint64(len(p.Locations)))
		last := uint32(0)
		for _, loc := range p.Locations {
			buf = putUvarint(buf, uint64(loc-last))
			last = loc
		}
	}
	return buf
}

// postingDecoder walks an encoded posting byte stream.
type postingDecoder struct {
	data []byte
	off  int
	prev types.DocID
	cap  Capability
}

func newPostingDecoder(data []byte, cap Capability) *postingDecoder {
	return &postingDecoder{data: data, cap: cap}
}

func (d *postingDecoder) uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.data[d.off:])
	if n <= 0 {
		return 0, errs.New(errs.Unexpected, "inverted.posting.decode", nil)
	}
	d.off += n
	return v, nil
}

// next decodes one posting; ok is false at end of stream.
func (d *postingDecoder) next() (Posting, bool, error) {
	if d.off >= len(d.data) {
		return Posting{}, false, nil
	}
	delta, err := d.uvarint()
	if err != nil {
		return Posting{}, false, err
	}
	p := Posting{DocID: d.prev + types.DocID(delta)}
	d.prev = p.DocID
	if !d.cap.NoTF {
		tf, err := d.uvarint()
		if err != nil {
			return Posting{}, false, err
		}
		p.TF = uint32(tf)
	}
	if !d.cap.NoLocation {
		n, err := d.uvarint()
		if err != nil {
			return Posting{}, false, err
		}
		last := uint32(0)
		p.Locations = make([]uint32, 0, n)
		for i := uint64(0); i < n; i++ {
			dl, err := d.uvarint()
			if err != nil {
				return Posting{}, false, err
			}
			last += uint32(dl)
			p.Locations = append(p.Locations, last)
		}
	}
	return p, true, nil
}

// decodeAll materializes the full list.
func decodeAll(data []byte, cap Capability) ([]Posting, error) {
	d := newPostingDecoder(data, cap)
	var out []Posting
	for {
		p, ok, err := d.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, p)
	}
}

// encodeAll re-encodes a full list from scratch.
func encodeAll(ps []Posting, cap Capability) []byte {
	var buf []byte
	prev := types.DocID(0)
	for _, p := range ps {
		buf = encodePosting(buf, prev, p, cap)
		prev = p.DocID
	}
	return buf
}
