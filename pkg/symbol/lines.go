package symbol

import (
	"sort"

	"github.com/hitzhangjie/dumpsyms/pkg/module"
)

// within reports whether address lies in [start, start+size). It is
// correct for ranges that end at the top of the address space.
func within(start, size, address uint64) bool {
	return address-start < size
}

// assignLinesToFunctions gives every function the pieces of lines that
// fall inside it. Functions and lines are peers here: a line may span
// several functions and a function several lines, so the address space is
// walked from one coverage transition to the next and every byte covered
// by both a function and a line is handed to that function.
//
// Functions with bytes no line covers, and lines with bytes no function
// covers, are reported once each. A line is not reported when its
// uncovered tail is padding between the function it was last used in and
// the next one.
func assignLinesToFunctions(functions []*module.Function, lines []module.Line, reporter WarningReporter) {
	sort.SliceStable(functions, func(i, j int) bool {
		return functions[i].Address < functions[j].Address
	})
	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].Address < lines[j].Address
	})

	var (
		// the last line any piece of which was used
		lastLineUsed = -1

		// the last function and line warned about
		lastFunctionCited = -1
		lastLineCited     = -1

		fi, li  int
		current uint64
	)

	switch {
	case len(functions) > 0 && len(lines) > 0:
		current = functions[0].Address
		if lines[0].Address < current {
			current = lines[0].Address
		}
	case len(lines) > 0:
		current = lines[0].Address
	case len(functions) > 0:
		current = functions[0].Address
	default:
		return
	}

	for fi < len(functions) || li < len(lines) {
		// At the top of each iteration, current is an address where the
		// coverage changes, and functions[fi] and lines[li] are the
		// earliest ones containing or following it.
		var (
			fn   *module.Function
			line *module.Line
			next uint64
		)
		if fi < len(functions) {
			fn = functions[fi]
		}
		if li < len(lines) {
			line = &lines[li]
		}

		inFunc := fn != nil && current >= fn.Address
		inLine := line != nil && current >= line.Address

		switch {
		case inFunc && inLine:
			funcLeft := fn.Size - (current - fn.Address)
			lineLeft := line.Size - (current - line.Address)
			// may wrap to zero, which ends the walk below
			next = current + min(funcLeft, lineLeft)

			piece := *line
			piece.Address = current
			piece.Size = next - current
			fn.Lines = append(fn.Lines, piece)
			lastLineUsed = li

		case inFunc:
			if fi != lastFunctionCited {
				reporter.UncoveredFunction(fn)
				lastFunctionCited = fi
			}
			if line != nil && within(fn.Address, fn.Size, line.Address) {
				next = line.Address
			} else {
				next = fn.Address + fn.Size
			}

		case inLine:
			// Alignment padding after a function is attributed to its last
			// line but left out of its address range.
			padding := fn != nil && li == lastLineUsed && fn.Address-line.Address == line.Size
			if li != lastLineCited && !padding {
				reporter.UncoveredLine(*line)
				lastLineCited = li
			}
			if fn != nil && within(line.Address, line.Size, fn.Address) {
				next = fn.Address
			} else {
				next = line.Address + line.Size
			}

		default:
			switch {
			case fn != nil && line != nil:
				next = min(fn.Address, line.Address)
			case fn != nil:
				next = fn.Address
			default:
				next = line.Address
			}
		}

		// An item abutting the end of the address space makes next wrap
		// to zero; nothing lies beyond it.
		if next == 0 {
			break
		}

		// Overlapping functions or lines may take several steps.
		for fi < len(functions) && next >= functions[fi].Address &&
			!within(functions[fi].Address, functions[fi].Size, next) {
			fi++
		}
		for li < len(lines) && next >= lines[li].Address &&
			!within(lines[li].Address, lines[li].Size, next) {
			li++
		}

		if next <= current {
			// current must strictly increase
			break
		}
		current = next
	}
}
