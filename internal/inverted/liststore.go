package inverted

import (
	"encoding/binary"

	"github.com/DoqueDB/sydney/internal/mainfile"
	"github.com/DoqueDB/sydney/internal/types"
)

// Posting-list chains live in two files: short lists in the leaf file,
// long lists in the overflow file. A list head is a page id whose high bit
// tags the file. Head pages carry list metadata before the data region;
// continuation pages only the chain header.
//
// head page:         next(4) used(2) pad(2) lastDocID(4) docCount(4) data...
// continuation page: next(4) used(2) pad(2) data...

const (
	overflowTag = types.PageID(0x80000000)

	chainHeaderLen = 8
	headMetaLen    = 8
	headDataOff    = chainHeaderLen + headMetaLen
)

// listStore manages posting-list chains over the leaf and overflow files.
type listStore struct {
	leaf     *mainfile.File
	overflow *mainfile.File
}

func (s *listStore) fileOf(head types.PageID) (*mainfile.File, types.PageID) {
	if head&overflowTag != 0 {
		return s.overflow, head &^ overflowTag
	}
	return s.leaf, head
}

func tagOf(f *mainfile.File, s *listStore, id types.PageID) types.PageID {
	if f == s.overflow {
		return id | overflowTag
	}
	return id
}

type listMeta struct {
	lastDocID types.DocID
	docCount  uint32
}

func readChainHeader(d []byte) (next types.PageID, used int) {
	return types.PageID(binary.LittleEndian.Uint32(d[0:])), int(binary.LittleEndian.Uint16(d[4:]))
}

func writeChainHeader(d []byte, next types.PageID, used int) {
	binary.LittleEndian.PutUint32(d[0:], uint32(next))
	binary.LittleEndian.PutUint16(d[4:], uint16(used))
}

func readHeadMeta(d []byte) listMeta {
	return listMeta{
		lastDocID: types.DocID(binary.LittleEndian.Uint32(d[chainHeaderLen:])),
		docCount:  binary.LittleEndian.Uint32(d[chainHeaderLen+4:]),
	}
}

func writeHeadMeta(d []byte, m listMeta) {
	binary.LittleEndian.PutUint32(d[chainHeaderLen:], uint32(m.lastDocID))
	binary.LittleEndian.PutUint32(d[chainHeaderLen+4:], m.docCount)
}

// read returns the list metadata and the concatenated data bytes.
func (s *listStore) read(head types.PageID) (listMeta, []byte, error) {
	f, id := s.fileOf(head)
	var meta listMeta
	var data []byte
	first := true
	for id != types.NullPageID {
		p, err := f.AttachPhysicalPage(id, mainfile.PriorityLow)
		if err != nil {
			return meta, nil, err
		}
		d := p.Data()
		next, used := readChainHeader(d)
		off := chainHeaderLen
		if first {
			meta = readHeadMeta(d)
			off = headDataOff
			first = false
		}
		data = append(data, d[off:off+used]...)
		f.DetachPhysicalPage(p)
		id = next
	}
	return meta, data, nil
}

// create writes a brand-new list and returns its tagged head. Lists that
// fit one leaf page go to the leaf file; larger ones chain in overflow.
func (s *listStore) create(data []byte, meta listMeta) (types.PageID, error) {
	leafCap := s.leaf.Store().ContentSize() - headDataOff
	f := s.leaf
	if len(data) > leafCap {
		f = s.overflow
	}
	return s.writeChain(f, data, meta)
}

// writeChain lays data out over freshly allocated pages of f.
func (s *listStore) writeChain(f *mainfile.File, data []byte, meta listMeta) (types.PageID, error) {
	head, err := f.AllocatePhysicalPage()
	if err != nil {
		return types.NullPageID, err
	}
	content := f.Store().ContentSize()
	cap0 := content - headDataOff
	n := min(len(data), cap0)
	copy(head.Data()[headDataOff:], data[:n])
	writeHeadMeta(head.Data(), meta)
	writeChainHeader(head.Data(), types.NullPageID, n)
	head.Dirty()

	prev := head
	rest := data[n:]
	for len(rest) > 0 {
		p, err := f.AllocatePhysicalPage()
		if err != nil {
			f.DetachPhysicalPage(prev)
			return types.NullPageID, err
		}
		n := min(len(rest), content-chainHeaderLen)
		copy(p.Data()[chainHeaderLen:], rest[:n])
		writeChainHeader(p.Data(), types.NullPageID, n)
		p.Dirty()
		// Link the previous page forward.
		next, used := readChainHeader(prev.Data())
		_ = next
		writeChainHeader(prev.Data(), p.ID, used)
		prev.Dirty()
		f.DetachPhysicalPage(prev)
		prev = p
		rest = rest[n:]
	}
	f.DetachPhysicalPage(prev)
	return tagOf(f, s, head.ID), nil
}

// append adds encoded bytes at the chain tail, updating the head metadata.
// When a leaf-resident list outgrows its single page it migrates to the
// overflow file and the new tagged head is returned.
func (s *listStore) append(head types.PageID, extra []byte, meta listMeta) (types.PageID, error) {
	f, id := s.fileOf(head)
	content := f.Store().ContentSize()

	if f == s.leaf {
		p, err := f.AttachPhysicalPage(id, mainfile.PriorityMiddle)
		if err != nil {
			return head, err
		}
		_, used := readChainHeader(p.Data())
		if headDataOff+used+len(extra) <= content {
			copy(p.Data()[headDataOff+used:], extra)
			writeChainHeader(p.Data(), types.NullPageID, used+len(extra))
			writeHeadMeta(p.Data(), meta)
			p.Dirty()
			f.DetachPhysicalPage(p)
			return head, nil
		}
		// Migrate to overflow.
		old := append([]byte(nil), p.Data()[headDataOff:headDataOff+used]...)
		f.FreePhysicalPage(p)
		f.DetachPhysicalPage(p)
		return s.writeChain(s.overflow, append(old, extra...), meta)
	}

	// Overflow chain: walk to the tail, filling free space.
	p, err := f.AttachPhysicalPage(id, mainfile.PriorityMiddle)
	if err != nil {
		return head, err
	}
	writeHeadMeta(p.Data(), meta)
	p.Dirty()
	dataOff := headDataOff
	for {
		next, used := readChainHeader(p.Data())
		if next == types.NullPageID {
			free := content - dataOff - used
			n := min(len(extra), free)
			copy(p.Data()[dataOff+used:], extra[:n])
			writeChainHeader(p.Data(), types.NullPageID, used+n)
			p.Dirty()
			extra = extra[n:]
			if len(extra) == 0 {
				f.DetachPhysicalPage(p)
				return head, nil
			}
			np, err := f.AllocatePhysicalPage()
			if err != nil {
				f.DetachPhysicalPage(p)
				return head, err
			}
			writeChainHeader(p.Data(), np.ID, used+n)
			f.DetachPhysicalPage(p)
			writeChainHeader(np.Data(), types.NullPageID, 0)
			np.Dirty()
			p = np
			dataOff = chainHeaderLen
			continue
		}
		f.DetachPhysicalPage(p)
		p, err = f.AttachPhysicalPage(next, mainfile.PriorityLow)
		if err != nil {
			return head, err
		}
		dataOff = chainHeaderLen
	}
}

// rewrite replaces a list's bytes entirely, freeing the old chain.
func (s *listStore) rewrite(head types.PageID, data []byte, meta listMeta) (types.PageID, error) {
	if err := s.free(head); err != nil {
		return types.NullPageID, err
	}
	return s.create(data, meta)
}

// free releases every page of the chain into its file's free list.
func (s *listStore) free(head types.PageID) error {
	f, id := s.fileOf(head)
	for id != types.NullPageID {
		p, err := f.AttachPhysicalPage(id, mainfile.PriorityLow)
		if err != nil {
			return err
		}
		next, _ := readChainHeader(p.Data())
		f.FreePhysicalPage(p)
		f.DetachPhysicalPage(p)
		id = next
	}
	return nil
}
