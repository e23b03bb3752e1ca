package symbol

import (
	"encoding/binary"

	"github.com/hitzhangjie/dumpsyms/pkg/dwarf/frame"
	"github.com/hitzhangjie/dumpsyms/pkg/module"
)

// CFISections holds the call frame information of a file.
type CFISections struct {
	DebugFrame  []byte
	EHFrame     []byte
	EHFrameAddr uint64
	Order       binary.ByteOrder
	PtrSize     int
}

// ReadCFI adds a stack frame entry to m for every FDE of the sections.
// Where both sections describe the same range .debug_frame wins. FDEs
// that cannot be expressed as STACK CFI records, because they use DWARF
// expressions or hold undecodable instructions, are skipped; their count
// is returned.
//
// see DWARFv4 6.4 Call Frame Information.
func ReadCFI(m *module.Module, s CFISections) (added, skipped int) {
	var fdes frame.FrameDescriptionEntries
	if len(s.DebugFrame) > 0 {
		fdes = frame.Parse(s.DebugFrame, s.Order, 0, s.PtrSize)
	}
	if len(s.EHFrame) > 0 {
		fdes = fdes.Append(frame.ParseEH(s.EHFrame, s.Order, s.EHFrameAddr, s.PtrSize))
	}

	names := frame.ArchRegisterNames(m.Arch())
	for _, fde := range fdes {
		if fde.Size() == 0 {
			continue
		}
		entry, err := stackFrameEntry(fde, names)
		if err != nil {
			skipped++
			continue
		}
		m.AddStackFrameEntry(entry)
		added++
	}
	return added, skipped
}

// stackFrameEntry renders the rows of fde: the first as the initial rules,
// each later one as the rules that differ from the row before it.
func stackFrameEntry(fde *frame.FrameDescriptionEntry, names frame.RegisterNames) (*module.StackFrameEntry, error) {
	rows, err := fde.Rows()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, frame.ErrNoCFARule
	}

	ra := fde.CIE.ReturnAddressRegister
	initial, err := rows[0].Rules(names, ra)
	if err != nil {
		return nil, err
	}

	entry := &module.StackFrameEntry{
		Address:      fde.Begin(),
		Size:         fde.Size(),
		InitialRules: initial,
		RuleChanges:  map[module.Address]module.RuleMap{},
	}

	prev := initial
	for i := 1; i < len(rows); i++ {
		rules, err := rows[i].Rules(names, ra)
		if err != nil {
			return nil, err
		}
		if changes := diffRules(prev, rules, names.Name(ra)); len(changes) > 0 {
			entry.RuleChanges[rows[i].Address] = changes
		}
		prev = rules
	}
	return entry, nil
}

// diffRules returns the rules of cur that differ from prev. A register
// whose rule was dropped gets its own value back.
func diffRules(prev, cur module.RuleMap, raName string) module.RuleMap {
	changes := module.RuleMap{}
	for reg, expr := range cur {
		if prev[reg] != expr {
			changes[reg] = expr
		}
	}
	for reg := range prev {
		if _, ok := cur[reg]; ok {
			continue
		}
		if reg == ".ra" {
			changes[reg] = raName
		} else {
			changes[reg] = reg
		}
	}
	return changes
}
