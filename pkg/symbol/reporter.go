package symbol

import (
	"fmt"
	"log/slog"

	"go.uber.org/atomic"

	"github.com/hitzhangjie/dumpsyms/pkg/module"
)

// WarningReporter receives the problems found in one compilation unit.
// None of them stops processing.
type WarningReporter interface {
	// SetCUName tells the reporter the name of the unit.
	SetCUName(name string)

	// UnknownSpecification: the DIE at offset has a DW_AT_specification
	// citing target, which was not recorded as a declaration before.
	UnknownSpecification(offset, target uint64)

	// UnknownAbstractOrigin: the DIE at offset has a DW_AT_abstract_origin
	// citing target, which was not recorded as inline before.
	UnknownAbstractOrigin(offset, target uint64)

	// MissingSection: the section name is absent from the file.
	MissingSection(name string)

	// BadLineInfoOffset: DW_AT_stmt_list points past .debug_line.
	BadLineInfoOffset(offset uint64)

	// BadLineProgram: the line program at offset could not be read to the
	// end; the lines read before the error are kept.
	BadLineProgram(offset uint64, err error)

	// UncoveredFunction: no line covers some of fn.
	UncoveredFunction(fn *module.Function)

	// UncoveredLine: no function covers some of line.
	UncoveredLine(line module.Line)

	// UnnamedFunction: the function DIE at offset has no name.
	UnnamedFunction(offset uint64)
}

// LogReporter writes warnings to a slog.Logger. The first warning of a
// unit is preceded by a record naming the unit. Uncovered function and
// line warnings are dropped unless enabled with SetUncoveredWarnings.
type LogReporter struct {
	logger   *slog.Logger
	filename string
	cuOffset uint64
	cuName   string
	module   *module.Module

	uncoveredWarnings     bool
	printedCUHeading      bool
	printedUnpairedHeader bool
}

// NewLogReporter creates a reporter for the unit at cuOffset of the file fc
// describes. A nil logger means slog.Default().
func NewLogReporter(logger *slog.Logger, fc *FileContext, cuOffset uint64) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{
		logger:   logger.With("file", fc.Filename(), "cu_offset", hex(cuOffset)),
		filename: fc.Filename(),
		cuOffset: cuOffset,
		module:   fc.Module(),
	}
}

// SetUncoveredWarnings turns uncovered function and line warnings on or off.
func (r *LogReporter) SetUncoveredWarnings(enabled bool) {
	r.uncoveredWarnings = enabled
}

// UncoveredWarnings reports whether uncovered warnings are on.
func (r *LogReporter) UncoveredWarnings() bool {
	return r.uncoveredWarnings
}

func (r *LogReporter) SetCUName(name string) {
	r.cuName = name
}

func (r *LogReporter) cuHeading() {
	if r.printedCUHeading {
		return
	}
	r.logger.Warn("in compilation unit", "cu_name", r.cuName)
	r.printedCUHeading = true
}

func (r *LogReporter) UnknownSpecification(offset, target uint64) {
	r.cuHeading()
	r.logger.Warn("DW_AT_specification refers to a DIE that was not marked as a declaration, or comes later in the file",
		"die", hex(offset), "target", hex(target))
}

func (r *LogReporter) UnknownAbstractOrigin(offset, target uint64) {
	r.cuHeading()
	r.logger.Warn("DW_AT_abstract_origin refers to a DIE that was not marked as inline, or comes later in the file",
		"die", hex(offset), "target", hex(target))
}

func (r *LogReporter) MissingSection(name string) {
	r.cuHeading()
	r.logger.Warn("couldn't find DWARF section", "section", name)
}

func (r *LogReporter) BadLineInfoOffset(offset uint64) {
	r.cuHeading()
	r.logger.Warn("line number data offset beyond end of section",
		"section", ".debug_line", "offset", hex(offset))
}

func (r *LogReporter) BadLineProgram(offset uint64, err error) {
	r.cuHeading()
	r.logger.Warn("malformed line number program",
		"section", ".debug_line", "offset", hex(offset), "error", err)
}

func (r *LogReporter) uncoveredHeading() {
	if r.printedUnpairedHeader {
		return
	}
	r.cuHeading()
	r.logger.Warn("skipping unpaired lines/functions")
	r.printedUnpairedHeader = true
}

func (r *LogReporter) UncoveredFunction(fn *module.Function) {
	if !r.uncoveredWarnings {
		return
	}
	r.uncoveredHeading()
	r.logger.Warn("function without lines",
		"function", fn.Name, "address", hex(fn.Address), "zero_length", fn.Size == 0)
}

func (r *LogReporter) UncoveredLine(line module.Line) {
	if !r.uncoveredWarnings {
		return
	}
	r.uncoveredHeading()

	file := fmt.Sprintf("#%d", line.File)
	if r.module != nil {
		if f := r.module.File(line.File); f != nil {
			file = f.Name
		}
	}
	r.logger.Warn("line without function",
		"line", fmt.Sprintf("%s:%d", file, line.Number), "address", hex(line.Address),
		"zero_length", line.Size == 0)
}

func (r *LogReporter) UnnamedFunction(offset uint64) {
	r.cuHeading()
	r.logger.Warn("function has no name", "die", hex(offset))
}

func hex(v uint64) string {
	return fmt.Sprintf("%#x", v)
}

// Tally counts warnings by kind. It is safe for concurrent use, so the
// units of several files processed at once can share one.
type Tally struct {
	unknownSpecification  atomic.Int64
	unknownAbstractOrigin atomic.Int64
	missingSection        atomic.Int64
	badLineInfoOffset     atomic.Int64
	badLineProgram        atomic.Int64
	uncoveredFunction     atomic.Int64
	uncoveredLine         atomic.Int64
	unnamedFunction       atomic.Int64
}

// Counts returns the number of warnings of each kind.
func (t *Tally) Counts() map[string]int64 {
	return map[string]int64{
		"unknown_specification":   t.unknownSpecification.Load(),
		"unknown_abstract_origin": t.unknownAbstractOrigin.Load(),
		"missing_section":         t.missingSection.Load(),
		"bad_line_info_offset":    t.badLineInfoOffset.Load(),
		"bad_line_program":        t.badLineProgram.Load(),
		"uncovered_function":      t.uncoveredFunction.Load(),
		"uncovered_line":          t.uncoveredLine.Load(),
		"unnamed_function":        t.unnamedFunction.Load(),
	}
}

// Total returns the number of warnings of all kinds.
func (t *Tally) Total() int64 {
	var n int64
	for _, c := range t.Counts() {
		n += c
	}
	return n
}

// CountingReporter counts every warning into a Tally and passes it on to
// the reporter it wraps, if any.
type CountingReporter struct {
	next  WarningReporter
	tally *Tally
}

// NewCountingReporter creates a reporter counting into tally. next may be
// nil.
func NewCountingReporter(next WarningReporter, tally *Tally) *CountingReporter {
	return &CountingReporter{next: next, tally: tally}
}

func (r *CountingReporter) SetCUName(name string) {
	if r.next != nil {
		r.next.SetCUName(name)
	}
}

func (r *CountingReporter) UnknownSpecification(offset, target uint64) {
	r.tally.unknownSpecification.Inc()
	if r.next != nil {
		r.next.UnknownSpecification(offset, target)
	}
}

func (r *CountingReporter) UnknownAbstractOrigin(offset, target uint64) {
	r.tally.unknownAbstractOrigin.Inc()
	if r.next != nil {
		r.next.UnknownAbstractOrigin(offset, target)
	}
}

func (r *CountingReporter) MissingSection(name string) {
	r.tally.missingSection.Inc()
	if r.next != nil {
		r.next.MissingSection(name)
	}
}

func (r *CountingReporter) BadLineInfoOffset(offset uint64) {
	r.tally.badLineInfoOffset.Inc()
	if r.next != nil {
		r.next.BadLineInfoOffset(offset)
	}
}

func (r *CountingReporter) BadLineProgram(offset uint64, err error) {
	r.tally.badLineProgram.Inc()
	if r.next != nil {
		r.next.BadLineProgram(offset, err)
	}
}

func (r *CountingReporter) UncoveredFunction(fn *module.Function) {
	r.tally.uncoveredFunction.Inc()
	if r.next != nil {
		r.next.UncoveredFunction(fn)
	}
}

func (r *CountingReporter) UncoveredLine(line module.Line) {
	r.tally.uncoveredLine.Inc()
	if r.next != nil {
		r.next.UncoveredLine(line)
	}
}

func (r *CountingReporter) UnnamedFunction(offset uint64) {
	r.tally.unnamedFunction.Inc()
	if r.next != nil {
		r.next.UnnamedFunction(offset)
	}
}
