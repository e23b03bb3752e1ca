// Package dispatch drives DIE handlers over the entries of a debug/dwarf
// Data. For every DIE it delivers the attribute events, EndAttributes,
// child lookups and Finish in tree order, descending only into subtrees a
// handler asked for.
package dispatch

import (
	"debug/dwarf"
)

// Handler receives the events of one DIE.
//
// Attribute events arrive in the order the attributes appear in the DIE.
// Then EndAttributes is called; returning false skips the DIE's children.
// FindChildHandler is called for each child and may return nil to skip that
// child's subtree. Finish is called exactly once, last.
type Handler interface {
	ProcessAttributeUnsigned(attr dwarf.Attr, class dwarf.Class, data uint64)
	ProcessAttributeSigned(attr dwarf.Attr, class dwarf.Class, data int64)
	ProcessAttributeReference(attr dwarf.Attr, class dwarf.Class, offset uint64)
	ProcessAttributeBuffer(attr dwarf.Attr, class dwarf.Class, data []byte)
	ProcessAttributeString(attr dwarf.Attr, class dwarf.Class, data string)
	EndAttributes() bool
	FindChildHandler(offset uint64, tag dwarf.Tag) Handler
	Finish()
}

// RootHandler handles a compilation unit's root DIE.
type RootHandler interface {
	Handler

	// StartCompilationUnit is called with the unit header. Returning false
	// skips the whole unit.
	StartCompilationUnit(offset uint64, addressSize, offsetSize uint8, cuLength uint64, dwarfVersion uint16) bool

	// StartRootDIE is called before the root DIE's attributes. Returning
	// false skips the whole unit.
	StartRootDIE(offset uint64, tag dwarf.Tag) bool
}

// IgnoreAttributes can be embedded by handlers that only care about a few
// attribute events.
type IgnoreAttributes struct{}

func (IgnoreAttributes) ProcessAttributeUnsigned(dwarf.Attr, dwarf.Class, uint64)  {}
func (IgnoreAttributes) ProcessAttributeSigned(dwarf.Attr, dwarf.Class, int64)     {}
func (IgnoreAttributes) ProcessAttributeReference(dwarf.Attr, dwarf.Class, uint64) {}
func (IgnoreAttributes) ProcessAttributeBuffer(dwarf.Attr, dwarf.Class, []byte)    {}
func (IgnoreAttributes) ProcessAttributeString(dwarf.Attr, dwarf.Class, string)    {}

// deliver turns the decoded fields of an entry into attribute events.
//
// debug/dwarf does not report the attribute form. Constants are decoded as
// int64 regardless of their form, so negative constants are delivered as
// signed events and all others as unsigned ones.
func deliver(h Handler, fields []dwarf.Field) {
	for _, f := range fields {
		switch v := f.Val.(type) {
		case uint64:
			h.ProcessAttributeUnsigned(f.Attr, f.Class, v)
		case int64:
			if f.Class == dwarf.ClassConstant && v < 0 {
				h.ProcessAttributeSigned(f.Attr, f.Class, v)
			} else {
				h.ProcessAttributeUnsigned(f.Attr, f.Class, uint64(v))
			}
		case bool:
			var flag uint64
			if v {
				flag = 1
			}
			h.ProcessAttributeUnsigned(f.Attr, f.Class, flag)
		case dwarf.Offset:
			h.ProcessAttributeReference(f.Attr, f.Class, uint64(v))
		case string:
			h.ProcessAttributeString(f.Attr, f.Class, v)
		case []byte:
			h.ProcessAttributeBuffer(f.Attr, f.Class, v)
		}
	}
}
