// Package dwarftest builds .debug_abbrev, .debug_info and .debug_line
// sections with arbitrary contents, so tests can run code that consumes
// debug/dwarf on DWARF they control.
package dwarftest

import (
	"bytes"
	"debug/dwarf"
	"encoding/binary"
	"fmt"
)

// Form DW_FORM_* attribute encoding
type Form uint8

const (
	FormAddr        Form = 0x01
	FormData2       Form = 0x05
	FormData4       Form = 0x06
	FormData8       Form = 0x07
	FormString      Form = 0x08
	FormBlock1      Form = 0x0a
	FormData1       Form = 0x0b
	FormFlag        Form = 0x0c
	FormSdata       Form = 0x0d
	FormUdata       Form = 0x0f
	FormRefAddr     Form = 0x10
	FormRef4        Form = 0x13
	FormSecOffset   Form = 0x17
	FormFlagPresent Form = 0x19
)

// Attr one attribute of a DIE.
type Attr struct {
	Attr dwarf.Attr
	Form Form
	Val  interface{}
}

// Row one row of a line program.
type Row struct {
	Address uint64
	File    string
	Line    int
}

// Sequence rows sharing one end_sequence, which is placed at End.
type Sequence struct {
	Rows []Row
	End  uint64
}

// Builder dwarf builder
type Builder struct {
	version uint16
	order   binary.ByteOrder

	abbrev bytes.Buffer
	info   bytes.Buffer
	line   bytes.Buffer
	code   uint64

	unitStart int
	depth     int
}

// New creates a builder whose units use the given DWARF version (2 to 5)
// and 8-byte addresses.
func New(version uint16) *Builder {
	return &Builder{version: version, order: binary.LittleEndian, unitStart: -1}
}

// StartUnit begins a new unit whose root is a DW_TAG_compile_unit DIE
// carrying attrs. It returns the root DIE's offset.
func (b *Builder) StartUnit(attrs ...Attr) dwarf.Offset {
	return b.StartUnitWithTag(dwarf.TagCompileUnit, attrs...)
}

// StartUnitWithTag is StartUnit with an arbitrary root tag.
func (b *Builder) StartUnitWithTag(tag dwarf.Tag, attrs ...Attr) dwarf.Offset {
	if b.unitStart >= 0 {
		panic("dwarftest: unit already open")
	}
	b.unitStart = b.info.Len()

	b.u32(&b.info, 0) // unit_length, patched by EndUnit
	b.u16(&b.info, b.version)
	if b.version >= 5 {
		b.info.WriteByte(0x01) // DW_UT_compile
		b.info.WriteByte(8)
		b.u32(&b.info, 0)
	} else {
		b.u32(&b.info, 0)
		b.info.WriteByte(8)
	}

	return b.Open(tag, attrs...)
}

// EndUnit closes the root DIE and finishes the unit.
func (b *Builder) EndUnit() {
	b.Close()
	if b.depth != 0 {
		panic(fmt.Sprintf("dwarftest: %d DIEs left open", b.depth))
	}
	data := b.info.Bytes()
	b.order.PutUint32(data[b.unitStart:], uint32(len(data)-b.unitStart-4))
	b.unitStart = -1
}

// Open writes a DIE that has children. Close ends its children.
func (b *Builder) Open(tag dwarf.Tag, attrs ...Attr) dwarf.Offset {
	off := b.entry(tag, true, attrs)
	b.depth++
	return off
}

// DIE writes a DIE without children.
func (b *Builder) DIE(tag dwarf.Tag, attrs ...Attr) dwarf.Offset {
	return b.entry(tag, false, attrs)
}

// Close terminates the children of the innermost open DIE.
func (b *Builder) Close() {
	if b.depth == 0 {
		panic("dwarftest: unbalanced Close")
	}
	b.info.WriteByte(0)
	b.depth--
}

func (b *Builder) entry(tag dwarf.Tag, children bool, attrs []Attr) dwarf.Offset {
	if b.unitStart < 0 {
		panic("dwarftest: no open unit")
	}

	b.code++
	uleb(&b.abbrev, b.code)
	uleb(&b.abbrev, uint64(tag))
	if children {
		b.abbrev.WriteByte(1)
	} else {
		b.abbrev.WriteByte(0)
	}
	for _, a := range attrs {
		uleb(&b.abbrev, uint64(a.Attr))
		uleb(&b.abbrev, uint64(a.Form))
	}
	b.abbrev.WriteByte(0)
	b.abbrev.WriteByte(0)

	off := dwarf.Offset(b.info.Len())
	uleb(&b.info, b.code)
	for _, a := range attrs {
		b.value(a)
	}
	return off
}

func (b *Builder) value(a Attr) {
	w := &b.info
	switch a.Form {
	case FormAddr, FormData8:
		b.u64(w, toUint(a.Val))
	case FormData1, FormFlag:
		w.WriteByte(byte(toUint(a.Val)))
	case FormData2:
		b.u16(w, uint16(toUint(a.Val)))
	case FormData4, FormSecOffset:
		b.u32(w, uint32(toUint(a.Val)))
	case FormSdata:
		sleb(w, toInt(a.Val))
	case FormUdata:
		uleb(w, toUint(a.Val))
	case FormString:
		w.WriteString(a.Val.(string))
		w.WriteByte(0)
	case FormBlock1:
		data := a.Val.([]byte)
		w.WriteByte(byte(len(data)))
		w.Write(data)
	case FormFlagPresent:
	case FormRef4:
		b.u32(w, uint32(toUint(a.Val)-uint64(b.unitStart)))
	case FormRefAddr:
		if b.version == 2 {
			b.u64(w, toUint(a.Val))
		} else {
			b.u32(w, uint32(toUint(a.Val)))
		}
	default:
		panic(fmt.Sprintf("dwarftest: unsupported form %#x", a.Form))
	}
}

// AddLineProgram appends a version 4 line program naming files and
// holding seqs to .debug_line. It returns the program's offset, the value
// for a DW_AT_stmt_list attribute.
func (b *Builder) AddLineProgram(files []string, seqs ...Sequence) uint64 {
	w := &b.line
	start := w.Len()

	b.u32(w, 0) // unit_length
	b.u16(w, 4)
	hdrLenAt := w.Len()
	b.u32(w, 0) // header_length

	hdrStart := w.Len()
	w.WriteByte(1)    // minimum_instruction_length
	w.WriteByte(1)    // maximum_operations_per_instruction
	w.WriteByte(1)    // default_is_stmt
	w.WriteByte(0xfb) // line_base = -5
	w.WriteByte(14)   // line_range
	w.WriteByte(13)   // opcode_base
	w.Write([]byte{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1})
	w.WriteByte(0) // no include_directories

	index := map[string]uint64{}
	for i, f := range files {
		w.WriteString(f)
		w.WriteByte(0)
		uleb(w, 0)
		uleb(w, 0)
		uleb(w, 0)
		index[f] = uint64(i + 1)
	}
	w.WriteByte(0)
	b.order.PutUint32(w.Bytes()[hdrLenAt:], uint32(w.Len()-hdrStart))

	for _, seq := range seqs {
		line := 1
		for _, row := range seq.Rows {
			b.setAddress(row.Address)
			w.WriteByte(0x04) // DW_LNS_set_file
			uleb(w, index[row.File])
			if delta := row.Line - line; delta != 0 {
				w.WriteByte(0x03) // DW_LNS_advance_line
				sleb(w, int64(delta))
				line = row.Line
			}
			w.WriteByte(0x01) // DW_LNS_copy
		}
		b.setAddress(seq.End)
		w.Write([]byte{0x00, 0x01, 0x01}) // DW_LNE_end_sequence
	}

	b.order.PutUint32(w.Bytes()[start:], uint32(w.Len()-start-4))
	return uint64(start)
}

func (b *Builder) setAddress(addr uint64) {
	b.line.Write([]byte{0x00, 9, 0x02}) // DW_LNE_set_address
	b.u64(&b.line, addr)
}

// Abbrev returns the .debug_abbrev section.
func (b *Builder) Abbrev() []byte {
	return append(append([]byte{}, b.abbrev.Bytes()...), 0)
}

// Info returns the .debug_info section.
func (b *Builder) Info() []byte {
	return append([]byte{}, b.info.Bytes()...)
}

// Line returns the .debug_line section.
func (b *Builder) Line() []byte {
	return append([]byte{}, b.line.Bytes()...)
}

// Sections returns the sections keyed by ELF section name.
func (b *Builder) Sections() map[string][]byte {
	return map[string][]byte{
		".debug_abbrev": b.Abbrev(),
		".debug_info":   b.Info(),
		".debug_line":   b.Line(),
	}
}

// Data parses the built sections with debug/dwarf.
func (b *Builder) Data() (*dwarf.Data, error) {
	if b.unitStart >= 0 {
		return nil, fmt.Errorf("dwarftest: unit still open")
	}
	return dwarf.New(b.Abbrev(), nil, nil, b.Info(), b.Line(), nil, nil, nil)
}

func (b *Builder) u16(w *bytes.Buffer, v uint16) {
	var buf [2]byte
	b.order.PutUint16(buf[:], v)
	w.Write(buf[:])
}

func (b *Builder) u32(w *bytes.Buffer, v uint32) {
	var buf [4]byte
	b.order.PutUint32(buf[:], v)
	w.Write(buf[:])
}

func (b *Builder) u64(w *bytes.Buffer, v uint64) {
	var buf [8]byte
	b.order.PutUint64(buf[:], v)
	w.Write(buf[:])
}

func uleb(w *bytes.Buffer, v uint64) {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		w.WriteByte(c)
		if v == 0 {
			return
		}
	}
}

func sleb(w *bytes.Buffer, v int64) {
	for {
		c := byte(v & 0x7f)
		s := byte(v & 0x40)
		v >>= 7
		if (v != -1 || s == 0) && (v != 0 || s != 0) {
			c |= 0x80
		}
		w.WriteByte(c)
		if c&0x80 == 0 {
			return
		}
	}
}

func toUint(v interface{}) uint64 {
	switch v := v.(type) {
	case uint64:
		return v
	case int:
		return uint64(v)
	case int64:
		return uint64(v)
	case uint32:
		return uint64(v)
	case dwarf.Offset:
		return uint64(v)
	case dwarf.Tag:
		return uint64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	}
	panic(fmt.Sprintf("dwarftest: cannot encode %T as unsigned", v))
}

func toInt(v interface{}) int64 {
	switch v := v.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	}
	return int64(toUint(v))
}
