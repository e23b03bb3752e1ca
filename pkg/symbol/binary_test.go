package symbol

import (
	"bytes"
	"compress/zlib"
	"context"
	"debug/dwarf"
	"debug/elf"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"

	"github.com/hitzhangjie/dumpsyms/internal/dwarftest"
	"github.com/hitzhangjie/dumpsyms/pkg/module"
)

func str(attr dwarf.Attr, s string) dwarftest.Attr {
	return dwarftest.Attr{Attr: attr, Form: dwarftest.FormString, Val: s}
}

// buildTwoUnits builds a C++ unit defining a member function declared in a
// class within a namespace, and a C unit with a function and an inlined
// instance.
func buildTwoUnits(t *testing.T) (*dwarftest.Builder, *dwarf.Data) {
	t.Helper()

	b := dwarftest.New(4)
	prog1 := b.AddLineProgram([]string{"a.cc"}, dwarftest.Sequence{
		Rows: []dwarftest.Row{
			{Address: 0x1000, File: "a.cc", Line: 10},
			{Address: 0x1010, File: "a.cc", Line: 12},
		},
		End: 0x1020,
	})
	prog2 := b.AddLineProgram([]string{"b.c", "b.h"}, dwarftest.Sequence{
		Rows: []dwarftest.Row{
			{Address: 0x2000, File: "b.c", Line: 3},
			{Address: 0x2010, File: "b.h", Line: 7},
		},
		End: 0x2018,
	})

	b.StartUnit(
		str(dwarf.AttrName, "a.cc"),
		dwarftest.Attr{Attr: dwarf.AttrStmtList, Form: dwarftest.FormSecOffset, Val: prog1},
		dwarftest.Attr{Attr: dwarf.AttrLanguage, Form: dwarftest.FormData1, Val: dwLangCPlusPlus},
	)
	b.Open(dwarf.TagNamespace, str(dwarf.AttrName, "ns"))
	b.Open(dwarf.TagClassType, str(dwarf.AttrName, "Widget"))
	decl := b.DIE(dwarf.TagSubprogram,
		str(dwarf.AttrName, "draw"),
		dwarftest.Attr{Attr: dwarf.AttrDeclaration, Form: dwarftest.FormFlagPresent},
	)
	b.DIE(dwarf.TagMember, str(dwarf.AttrName, "size"))
	b.Close()
	b.Close()
	b.DIE(dwarf.TagSubprogram,
		dwarftest.Attr{Attr: dwarf.AttrSpecification, Form: dwarftest.FormRef4, Val: decl},
		dwarftest.Attr{Attr: dwarf.AttrLowpc, Form: dwarftest.FormAddr, Val: 0x1000},
		dwarftest.Attr{Attr: dwarf.AttrHighpc, Form: dwarftest.FormData4, Val: 0x20},
	)
	b.EndUnit()

	b.StartUnit(
		str(dwarf.AttrName, "b.c"),
		dwarftest.Attr{Attr: dwarf.AttrStmtList, Form: dwarftest.FormSecOffset, Val: prog2},
		dwarftest.Attr{Attr: dwarf.AttrLanguage, Form: dwarftest.FormData1, Val: dwLangC99},
	)
	b.Open(dwarf.TagSubprogram,
		str(dwarf.AttrName, "main"),
		dwarftest.Attr{Attr: dwarf.AttrLowpc, Form: dwarftest.FormAddr, Val: 0x2000},
		dwarftest.Attr{Attr: dwarf.AttrHighpc, Form: dwarftest.FormAddr, Val: 0x2010},
	)
	b.DIE(dwarf.TagVariable, str(dwarf.AttrName, "argc"))
	b.Close()
	helper := b.DIE(dwarf.TagSubprogram,
		str(dwarf.AttrName, "helper"),
		dwarftest.Attr{Attr: dwarf.AttrInline, Form: dwarftest.FormData1, Val: dwInlInlined},
	)
	b.DIE(dwarf.TagSubprogram,
		dwarftest.Attr{Attr: dwarf.AttrAbstractOrigin, Form: dwarftest.FormRef4, Val: helper},
		dwarftest.Attr{Attr: dwarf.AttrLowpc, Form: dwarftest.FormAddr, Val: 0x2010},
		dwarftest.Attr{Attr: dwarf.AttrHighpc, Form: dwarftest.FormAddr, Val: 0x2018},
	)
	b.EndUnit()

	data, err := b.Data()
	require.NoError(t, err)
	return b, data
}

func TestReadDWARF(t *testing.T) {
	b, data := buildTwoUnits(t)

	m := module.New("a.out", "Linux", "x86_64", "0")
	fc := NewFileContext("a.out", m)
	fc.AddSection(".debug_line", b.Line())

	w := &warnings{}
	var offsets []uint64
	err := ReadDWARF(fc, data, b.Info(), binary.LittleEndian, func(cuOffset uint64) WarningReporter {
		offsets = append(offsets, cuOffset)
		return w
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.cc", "b.c"}, w.cuNames)
	require.Len(t, offsets, 2)
	assert.Zero(t, offsets[0])
	assert.Greater(t, offsets[1], offsets[0])

	f := &cuFixture{t: t, module: m, reporter: w}
	f.assertWarnings(0, 0)
	f.assertFunctionCount(3)

	f.assertFunction(0, "ns::Widget::draw", 0x1000, 0x20)
	f.assertLineCount(0, 2)
	f.assertLine(0, 0, 0x1000, 0x10, "a.cc", 10)
	f.assertLine(0, 1, 0x1010, 0x10, "a.cc", 12)

	f.assertFunction(1, "main", 0x2000, 0x10)
	f.assertLineCount(1, 1)
	f.assertLine(1, 0, 0x2000, 0x10, "b.c", 3)

	f.assertFunction(2, "helper", 0x2010, 8)
	f.assertLineCount(2, 1)
	f.assertLine(2, 0, 0x2010, 8, "b.h", 7)
}

func TestReadDWARFWithoutLineSection(t *testing.T) {
	b, data := buildTwoUnits(t)

	m := module.New("a.out", "Linux", "x86_64", "0")
	fc := NewFileContext("a.out", m)

	var tally Tally
	err := ReadDWARF(fc, data, b.Info(), binary.LittleEndian, func(uint64) WarningReporter {
		return NewCountingReporter(nil, &tally)
	})
	require.NoError(t, err)

	// functions survive without their lines
	assert.Len(t, m.Functions(), 3)
	counts := tally.Counts()
	assert.EqualValues(t, 2, counts["missing_section"])
	assert.EqualValues(t, 3, counts["uncovered_function"])
}

func buildIDNote(order binary.ByteOrder, name string, typ uint32, desc []byte) []byte {
	var buf bytes.Buffer
	var hdr [12]byte
	order.PutUint32(hdr[0:], uint32(len(name)+1))
	order.PutUint32(hdr[4:], uint32(len(desc)))
	order.PutUint32(hdr[8:], typ)
	buf.Write(hdr[:])
	buf.WriteString(name)
	buf.WriteByte(0)
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
	buf.Write(desc)
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func TestModuleIDFromBuildID(t *testing.T) {
	desc := make([]byte, 20)
	for i := range desc {
		desc[i] = byte(i)
	}
	note := append(buildIDNote(binary.LittleEndian, "GNU", 1, []byte{1, 2, 3}),
		buildIDNote(binary.LittleEndian, "GNU", 3, desc)...)

	f := &elf.File{FileHeader: elf.FileHeader{ByteOrder: binary.LittleEndian}}
	id := moduleID(f, map[string][]byte{
		".note.gnu.build-id": note,
		".text":              []byte("ignored when there is a build id"),
	})
	assert.Equal(t, "030201000504070608090A0B0C0D0E0F0", id)
}

func TestModuleIDFromText(t *testing.T) {
	f := &elf.File{FileHeader: elf.FileHeader{ByteOrder: binary.LittleEndian}}

	id1 := moduleID(f, map[string][]byte{".text": []byte("\x55\x48\x89\xe5\xc3")})
	id2 := moduleID(f, map[string][]byte{".text": []byte("\x55\x48\x89\xe5\xc3")})
	id3 := moduleID(f, map[string][]byte{".text": []byte("\x55\x48\x89\xe5\x90\xc3")})

	assert.Len(t, id1, 33)
	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)
	assert.Equal(t, strings.ToUpper(id1), id1)
	assert.NotEqual(t, strings.Repeat("0", 33), id1)

	// nothing to identify the file by
	assert.Equal(t, strings.Repeat("0", 33), moduleID(f, map[string][]byte{}))
}

func TestGNUBuildIDMalformed(t *testing.T) {
	note := buildIDNote(binary.LittleEndian, "GNU", 3, make([]byte, 16))
	_, ok := gnuBuildID(binary.LittleEndian, note[:len(note)-4])
	assert.False(t, ok)

	_, ok = gnuBuildID(binary.LittleEndian, buildIDNote(binary.LittleEndian, "Go", 3, []byte{1}))
	assert.False(t, ok)
}

func TestInflateZDebug(t *testing.T) {
	plain := bytes.Repeat([]byte("debug info "), 64)

	var z bytes.Buffer
	w := zlib.NewWriter(&z)
	_, err := w.Write(plain)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var hdr [12]byte
	copy(hdr[:], "ZLIB")
	binary.BigEndian.PutUint64(hdr[4:], uint64(len(plain)))

	out, err := inflateZDebug(append(hdr[:], z.Bytes()...))
	require.NoError(t, err)
	assert.Equal(t, plain, out)

	// not compressed
	out, err = inflateZDebug([]byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), out)

	_, err = inflateZDebug(append(hdr[:], 0xde, 0xad))
	assert.Error(t, err)
}

func TestLoadURLNotELF(t *testing.T) {
	ctx := context.Background()
	fs := afs.New()
	URL := "mem://localhost/dumpsyms/not-elf"
	require.NoError(t, fs.Upload(ctx, URL, 0644, strings.NewReader("#!/bin/sh\necho hi\n")))

	_, err := LoadURL(ctx, fs, URL, Options{})
	assert.Error(t, err)

	_, err = LoadURL(ctx, fs, "mem://localhost/dumpsyms/missing", Options{})
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/dumpsyms/a.out", Options{})
	assert.Error(t, err)
}
