// Package symbol turns the DWARF of one binary into a module.Module.
//
// A FileContext holds what every compilation unit of a file shares. For
// each unit a CUHandler receives the DIE events of the unit's tree from
// the dispatcher, builds qualified names with the help of the named-scope
// and function handlers, and when the unit ends pairs its functions with
// the unit's source lines and hands them to the module.
package symbol

import (
	"github.com/hitzhangjie/dumpsyms/pkg/intern"
	"github.com/hitzhangjie/dumpsyms/pkg/module"
)

// specification records the name pieces of a DIE marked as a declaration,
// so a later DIE citing it through DW_AT_specification can complete its
// own name.
type specification struct {
	enclosing   intern.Handle
	unqualified intern.Handle
}

// abstractOrigin records the name of a DIE carrying DW_AT_inline, for the
// inlined instances citing it through DW_AT_abstract_origin.
type abstractOrigin struct {
	name intern.Handle
}

// FileContext is the state shared by all compilation units of one file:
// the module being filled, the file's sections and the specification and
// abstract origin tables. References are resolved only backwards: a DIE
// must be recorded before it is cited.
type FileContext struct {
	filename string
	module   *module.Module
	sections map[string][]byte

	specifications map[uint64]specification
	origins        map[uint64]abstractOrigin
}

// NewFileContext creates the context for the file filename whose
// functions go to m.
func NewFileContext(filename string, m *module.Module) *FileContext {
	return &FileContext{
		filename:       filename,
		module:         m,
		sections:       map[string][]byte{},
		specifications: map[uint64]specification{},
		origins:        map[uint64]abstractOrigin{},
	}
}

// Filename returns the name of the file.
func (fc *FileContext) Filename() string {
	return fc.filename
}

// Module returns the module the file's functions go to.
func (fc *FileContext) Module() *module.Module {
	return fc.module
}

// AddSection makes the section name available to compilation units.
func (fc *FileContext) AddSection(name string, contents []byte) {
	fc.sections[name] = contents
}

// Section returns the contents of the section name.
func (fc *FileContext) Section(name string) ([]byte, bool) {
	contents, ok := fc.sections[name]
	return contents, ok
}

// ClearSections forgets every section.
func (fc *FileContext) ClearSections() {
	fc.sections = map[string][]byte{}
}

func (fc *FileContext) intern(s string) intern.Handle {
	return fc.module.Strings().Intern(s)
}

func (fc *FileContext) str(h intern.Handle) string {
	return fc.module.Strings().String(h)
}

// dieContext is what a DIE with children tells them: the qualified name
// of the scope it opens.
type dieContext struct {
	name string
}
