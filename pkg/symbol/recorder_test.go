package symbol

import (
	"github.com/hitzhangjie/dumpsyms/pkg/module"
)

// warnings records every warning a unit reports.
type warnings struct {
	cuNames               []string
	unknownSpecifications [][2]uint64
	unknownOrigins        [][2]uint64
	missingSections       []string
	badLineInfoOffsets    []uint64
	badLinePrograms       []uint64
	uncoveredFunctions    []module.Function
	uncoveredLines        []module.Line
	unnamedFunctions      []uint64
}

func (w *warnings) SetCUName(name string) {
	w.cuNames = append(w.cuNames, name)
}

func (w *warnings) UnknownSpecification(offset, target uint64) {
	w.unknownSpecifications = append(w.unknownSpecifications, [2]uint64{offset, target})
}

func (w *warnings) UnknownAbstractOrigin(offset, target uint64) {
	w.unknownOrigins = append(w.unknownOrigins, [2]uint64{offset, target})
}

func (w *warnings) MissingSection(name string) {
	w.missingSections = append(w.missingSections, name)
}

func (w *warnings) BadLineInfoOffset(offset uint64) {
	w.badLineInfoOffsets = append(w.badLineInfoOffsets, offset)
}

func (w *warnings) BadLineProgram(offset uint64, err error) {
	w.badLinePrograms = append(w.badLinePrograms, offset)
}

func (w *warnings) UncoveredFunction(fn *module.Function) {
	w.uncoveredFunctions = append(w.uncoveredFunctions, *fn)
}

func (w *warnings) UncoveredLine(line module.Line) {
	w.uncoveredLines = append(w.uncoveredLines, line)
}

func (w *warnings) UnnamedFunction(offset uint64) {
	w.unnamedFunctions = append(w.unnamedFunctions, offset)
}

// stubLineReader hands out preset lines instead of decoding a program.
type stubLineReader struct {
	lines []module.Line
	err   error

	calls   int
	program []byte
}

func (s *stubLineReader) ReadProgram(program []byte, m *module.Module, lines []module.Line) ([]module.Line, error) {
	s.calls++
	s.program = program
	return append(lines, s.lines...), s.err
}
