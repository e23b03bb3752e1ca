// Package line reads a compilation unit's .debug_line program and turns its
// rows into module.Line records.
package line

import (
	"debug/dwarf"
	"io"

	"github.com/pkg/errors"

	"github.com/hitzhangjie/dumpsyms/pkg/module"
)

// Reader reads the line program of one compilation unit.
//
// debug/dwarf locates the program through the unit's DW_AT_stmt_list, so
// ReadProgram ignores the program bytes it is given; decoding starts from
// the unit entry.
type Reader struct {
	data *dwarf.Data
	cu   *dwarf.Entry
}

// NewReader creates a reader for the unit whose root entry is cu.
func NewReader(data *dwarf.Data, cu *dwarf.Entry) *Reader {
	return &Reader{data: data, cu: cu}
}

// ReadProgram appends the unit's lines to lines and returns the result.
//
// Each row becomes a line reaching to the next row's address. Zero-length
// rows are dropped, as are rows at address zero and rows contiguous with
// them (code whose relocations were never applied). A line that would wrap
// past the top of the address space is clipped to end there.
func (r *Reader) ReadProgram(_ []byte, m *module.Module, lines []module.Line) ([]module.Line, error) {
	lr, err := r.data.LineReader(r.cu)
	if err != nil {
		return lines, errors.Wrap(err, "open line program")
	}
	if lr == nil {
		return lines, nil
	}

	var (
		prev       dwarf.LineEntry
		havePrev   bool
		omittedEnd uint64
		files      = map[*dwarf.LineFile]module.FileID{}
		entry      dwarf.LineEntry
	)

	add := func(row *dwarf.LineEntry, length uint64) {
		if length == 0 {
			return
		}
		if row.Address+length < row.Address {
			length = -row.Address
		}
		if row.Address == 0 || row.Address == omittedEnd {
			omittedEnd = row.Address + length
			return
		}
		omittedEnd = 0

		if row.File == nil {
			return
		}
		file, ok := files[row.File]
		if !ok {
			file = m.FindFile(row.File.Name)
			files[row.File] = file
		}
		lines = append(lines, module.Line{
			Address: row.Address,
			Size:    length,
			File:    file,
			Number:  row.Line,
		})
	}

	for {
		err := lr.Next(&entry)
		if err == io.EOF {
			break
		}
		if err != nil {
			return lines, errors.Wrap(err, "read line program")
		}

		if havePrev {
			add(&prev, entry.Address-prev.Address)
		}
		if entry.EndSequence {
			havePrev = false
			continue
		}
		prev = entry
		havePrev = true
	}

	return lines, nil
}
