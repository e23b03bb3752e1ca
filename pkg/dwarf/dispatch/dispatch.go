package dispatch

import (
	"debug/dwarf"
	"encoding/binary"
	"fmt"
)

// RootFactory creates the handler for a compilation unit, given the unit's
// root entry. Returning nil skips the unit.
type RootFactory func(cu *dwarf.Entry) RootHandler

// Dispatcher walks the DIE tree of one file.
type Dispatcher struct {
	data    *dwarf.Data
	headers []UnitHeader

	reader  *dwarf.Reader
	pending *dwarf.Entry
}

// New creates a dispatcher over data. info is the raw .debug_info section
// data was built from; its unit headers supply what debug/dwarf does not
// export (version, offset size, unit length).
func New(data *dwarf.Data, info []byte, order binary.ByteOrder) (*Dispatcher, error) {
	headers, err := ReadUnitHeaders(info, order)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{data: data, headers: headers}, nil
}

// Units returns the unit headers of the file.
func (d *Dispatcher) Units() []UnitHeader {
	return d.headers
}

// unitFor returns the header of the unit containing the DIE at off.
func (d *Dispatcher) unitFor(off dwarf.Offset) (*UnitHeader, bool) {
	for i := range d.headers {
		h := &d.headers[i]
		if uint64(off) > h.Offset && uint64(off) < h.End() {
			return h, true
		}
	}
	return nil, false
}

func (d *Dispatcher) next() (*dwarf.Entry, error) {
	if d.pending != nil {
		e := d.pending
		d.pending = nil
		return e, nil
	}
	return d.reader.Next()
}

// Walk visits every compilation unit in order, one after the other.
func (d *Dispatcher) Walk(newRoot RootFactory) error {
	d.reader = d.data.Reader()
	d.pending = nil

	for {
		cu, err := d.next()
		if err != nil {
			return err
		}
		if cu == nil {
			return nil
		}
		if cu.Tag == 0 {
			continue
		}

		hdr, ok := d.unitFor(cu.Offset)
		if !ok {
			return fmt.Errorf("no unit header covers DIE at offset %#x", cu.Offset)
		}

		root := newRoot(cu)
		if root == nil ||
			!root.StartCompilationUnit(hdr.Offset, hdr.AddressSize, hdr.OffsetSize, hdr.Length, hdr.Version) ||
			!root.StartRootDIE(uint64(cu.Offset), cu.Tag) {
			d.reader.SkipChildren()
			continue
		}

		if err := d.process(root, cu, hdr); err != nil {
			return err
		}
	}
}

// process delivers e's attributes to h, then dispatches e's children.
func (d *Dispatcher) process(h Handler, e *dwarf.Entry, unit *UnitHeader) error {
	deliver(h, e.Field)

	if !h.EndAttributes() {
		d.reader.SkipChildren()
		h.Finish()
		return nil
	}

	if e.Children {
		for {
			child, err := d.next()
			if err != nil {
				return err
			}
			if child == nil || child.Tag == 0 {
				break
			}
			// A unit may end without a terminating null entry; the entry
			// we just read then belongs to the next unit.
			if uint64(child.Offset) >= unit.End() {
				d.pending = child
				break
			}

			ch := h.FindChildHandler(uint64(child.Offset), child.Tag)
			if ch == nil {
				d.reader.SkipChildren()
				continue
			}
			if err := d.process(ch, child, unit); err != nil {
				return err
			}
		}
	}

	h.Finish()
	return nil
}
