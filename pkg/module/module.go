// Package module holds the in-memory description of one binary's debugging
// information: source files, functions with their line ranges, exported
// symbols and call frame information. A Module owns every entity it
// describes; other components refer to files by FileID.
package module

import (
	"sort"

	"github.com/hitzhangjie/dumpsyms/pkg/intern"
)

// Address is a machine address or an address range size.
type Address = uint64

// FileID identifies a File owned by a Module.
type FileID int32

// NoFile is the FileID of a line whose source file is unknown.
const NoFile FileID = -1

// File source file
type File struct {
	Name string

	// SourceID is the id written in FILE records. It is -1 until
	// AssignSourceIds finds a line that refers to the file.
	SourceID int

	name intern.Handle
}

// Line a range of machine code attributed to one source line.
type Line struct {
	Address Address
	Size    Address
	File    FileID
	Number  int
}

// End returns the first address past the line. It is zero when the line
// abuts the end of the address space.
func (l *Line) End() Address {
	return l.Address + l.Size
}

// Function function
type Function struct {
	Name          string
	Address       Address
	Size          Address
	ParameterSize Address

	// Lines sorted by address, each entirely within the function.
	Lines []Line
}

// End returns the first address past the function.
func (f *Function) End() Address {
	return f.Address + f.Size
}

// Extern exported symbol
type Extern struct {
	Address Address
	Name    string
}

// RuleMap maps a register name (or ".cfa", ".ra") to a postfix expression
// that recovers its value in the caller's frame.
type RuleMap map[string]string

// StackFrameEntry call frame information for one address range.
type StackFrameEntry struct {
	Address Address
	Size    Address

	// InitialRules hold at Address.
	InitialRules RuleMap

	// RuleChanges maps an address within the range to the rules that
	// change there.
	RuleChanges map[Address]RuleMap
}

type funcKey struct {
	address Address
	name    string
}

// Module one binary's symbols
type Module struct {
	name string
	os   string
	arch string
	id   string

	loadAddress Address

	strs       *intern.Table
	files      []File
	fileByName map[intern.Handle]FileID

	functions []*Function
	funcIndex map[funcKey]struct{}
	sorted    bool

	externs      []*Extern
	externByAddr map[Address]struct{}

	stackFrames []*StackFrameEntry
}

// New creates an empty module.
func New(name, os, arch, id string) *Module {
	return &Module{
		name:         name,
		os:           os,
		arch:         arch,
		id:           id,
		strs:         intern.New(),
		fileByName:   make(map[intern.Handle]FileID),
		funcIndex:    make(map[funcKey]struct{}),
		externByAddr: make(map[Address]struct{}),
		sorted:       true,
	}
}

func (m *Module) Name() string { return m.name }
func (m *Module) OS() string   { return m.os }
func (m *Module) Arch() string { return m.arch }
func (m *Module) ID() string   { return m.id }

// SetLoadAddress sets the address the module is loaded at. Write subtracts
// it from every address it prints.
func (m *Module) SetLoadAddress(addr Address) {
	m.loadAddress = addr
}

// LoadAddress returns the address set by SetLoadAddress.
func (m *Module) LoadAddress() Address {
	return m.loadAddress
}

// Strings returns the interning table the module keeps its file names in.
func (m *Module) Strings() *intern.Table {
	return m.strs
}

// FindFile returns the file named name, creating it if needed.
func (m *Module) FindFile(name string) FileID {
	h := m.strs.Intern(name)
	if id, ok := m.fileByName[h]; ok {
		return id
	}
	id := FileID(len(m.files))
	m.files = append(m.files, File{Name: name, SourceID: -1, name: h})
	m.fileByName[h] = id
	return id
}

// FindExistingFile returns the file named name if the module has one.
func (m *Module) FindExistingFile(name string) (FileID, bool) {
	h, ok := m.strs.Lookup(name)
	if !ok {
		return NoFile, false
	}
	id, ok := m.fileByName[h]
	return id, ok
}

// File returns the file id refers to, or nil for NoFile.
func (m *Module) File(id FileID) *File {
	if id < 0 || int(id) >= len(m.files) {
		return nil
	}
	return &m.files[id]
}

// Files returns every file the module knows about, in creation order.
func (m *Module) Files() []*File {
	files := make([]*File, len(m.files))
	for i := range m.files {
		files[i] = &m.files[i]
	}
	return files
}

// AddFunction adds fn to the module. If the module already has a function
// with the same address and name, fn is dropped and AddFunction returns
// false.
func (m *Module) AddFunction(fn *Function) bool {
	key := funcKey{address: fn.Address, name: fn.Name}
	if _, ok := m.funcIndex[key]; ok {
		return false
	}
	m.funcIndex[key] = struct{}{}
	if n := len(m.functions); n > 0 && lessFunction(fn, m.functions[n-1]) {
		m.sorted = false
	}
	m.functions = append(m.functions, fn)
	return true
}

// AddFunctions adds every function in fns, see AddFunction.
func (m *Module) AddFunctions(fns []*Function) {
	for _, fn := range fns {
		m.AddFunction(fn)
	}
}

// Functions returns the module's functions ordered by address, then name.
func (m *Module) Functions() []*Function {
	if !m.sorted {
		sort.Slice(m.functions, func(i, j int) bool {
			return lessFunction(m.functions[i], m.functions[j])
		})
		m.sorted = true
	}
	return m.functions
}

func lessFunction(a, b *Function) bool {
	if a.Address != b.Address {
		return a.Address < b.Address
	}
	return a.Name < b.Name
}

// AddExtern adds ext to the module unless an extern at the same address is
// already present, in which case the first one wins and AddExtern returns
// false.
func (m *Module) AddExtern(ext *Extern) bool {
	if _, ok := m.externByAddr[ext.Address]; ok {
		return false
	}
	m.externByAddr[ext.Address] = struct{}{}
	m.externs = append(m.externs, ext)
	return true
}

// Externs returns the module's externs ordered by address.
func (m *Module) Externs() []*Extern {
	sort.SliceStable(m.externs, func(i, j int) bool {
		return m.externs[i].Address < m.externs[j].Address
	})
	return m.externs
}

// AddStackFrameEntry adds entry to the module.
func (m *Module) AddStackFrameEntry(entry *StackFrameEntry) {
	m.stackFrames = append(m.stackFrames, entry)
}

// StackFrameEntries returns the module's CFI entries in insertion order.
func (m *Module) StackFrameEntries() []*StackFrameEntry {
	return m.stackFrames
}

// AssignSourceIds gives every file referred to by some function's line a
// dense, zero-based SourceID in name order. All other files get -1.
func (m *Module) AssignSourceIds() {
	for i := range m.files {
		m.files[i].SourceID = -1
	}
	for _, fn := range m.functions {
		for _, ln := range fn.Lines {
			if f := m.File(ln.File); f != nil {
				f.SourceID = 0
			}
		}
	}

	used := make([]*File, 0, len(m.files))
	for i := range m.files {
		if m.files[i].SourceID == 0 {
			used = append(used, &m.files[i])
		}
	}
	sort.Slice(used, func(i, j int) bool { return used[i].Name < used[j].Name })
	for i, f := range used {
		f.SourceID = i
	}
}
