package module

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
)

// WriteMode selects which records Write emits.
type WriteMode int

const (
	// SymbolsAndCFI writes everything.
	SymbolsAndCFI WriteMode = iota
	// SymbolsOnly omits STACK CFI records.
	SymbolsOnly
	// CFIOnly writes the MODULE header and STACK CFI records only.
	CFIOnly
)

func (mode WriteMode) symbols() bool { return mode != CFIOnly }
func (mode WriteMode) cfi() bool     { return mode != SymbolsOnly }

// Write writes the module in the symbol file text format:
//
//	MODULE <os> <arch> <id> <name>
//	FILE <id> <path>
//	FUNC <addr> <size> <param_size> <name>
//	<addr> <size> <line_number> <file_id>
//	PUBLIC <addr> 0 <name>
//	STACK CFI INIT <addr> <size> [<reg>: <expr>]*
//	STACK CFI <addr> [<reg>: <expr>]*
//
// Addresses are written relative to the load address.
func (m *Module) Write(w io.Writer, mode WriteMode) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "MODULE %s %s %s %s\n", m.os, m.arch, m.id, m.name)

	if mode.symbols() {
		m.AssignSourceIds()
		m.writeFiles(bw)
		m.writeFunctions(bw)
		m.writeExterns(bw)
	}
	if mode.cfi() {
		m.writeStackFrames(bw)
	}

	return bw.Flush()
}

func (m *Module) writeFiles(w io.Writer) {
	files := make([]*File, 0, len(m.files))
	for i := range m.files {
		if m.files[i].SourceID >= 0 {
			files = append(files, &m.files[i])
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].SourceID < files[j].SourceID })
	for _, f := range files {
		fmt.Fprintf(w, "FILE %d %s\n", f.SourceID, f.Name)
	}
}

func (m *Module) writeFunctions(w io.Writer) {
	for _, fn := range m.Functions() {
		fmt.Fprintf(w, "FUNC %x %x %x %s\n",
			fn.Address-m.loadAddress, fn.Size, fn.ParameterSize, fn.Name)
		for _, ln := range fn.Lines {
			fmt.Fprintf(w, "%x %x %d %d\n",
				ln.Address-m.loadAddress, ln.Size, ln.Number, m.sourceID(ln.File))
		}
	}
}

func (m *Module) sourceID(id FileID) int {
	if f := m.File(id); f != nil {
		return f.SourceID
	}
	return -1
}

func (m *Module) writeExterns(w io.Writer) {
	for _, ext := range m.Externs() {
		fmt.Fprintf(w, "PUBLIC %x 0 %s\n", ext.Address-m.loadAddress, ext.Name)
	}
}

func (m *Module) writeStackFrames(w io.Writer) {
	for _, entry := range m.stackFrames {
		fmt.Fprintf(w, "STACK CFI INIT %x %x%s\n",
			entry.Address-m.loadAddress, entry.Size, entry.InitialRules.String())

		addrs := make([]Address, 0, len(entry.RuleChanges))
		for addr := range entry.RuleChanges {
			addrs = append(addrs, addr)
		}
		sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
		for _, addr := range addrs {
			fmt.Fprintf(w, "STACK CFI %x%s\n",
				addr-m.loadAddress, entry.RuleChanges[addr].String())
		}
	}
}

// String renders the rules ordered by register name, each preceded by a
// space: " .cfa: $rsp 8 + .ra: .cfa -8 + ^".
func (rules RuleMap) String() string {
	regs := make([]string, 0, len(rules))
	for reg := range rules {
		regs = append(regs, reg)
	}
	sort.Strings(regs)

	var sb strings.Builder
	for _, reg := range regs {
		sb.WriteString(" ")
		sb.WriteString(reg)
		sb.WriteString(": ")
		sb.WriteString(rules[reg])
	}
	return sb.String()
}
