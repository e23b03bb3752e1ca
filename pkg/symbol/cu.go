package symbol

import (
	"debug/dwarf"

	"github.com/hitzhangjie/dumpsyms/pkg/dwarf/dispatch"
	"github.com/hitzhangjie/dumpsyms/pkg/module"
)

// PlaceholderName names functions whose DIE gives no name.
const PlaceholderName = "<name omitted>"

// LineReader turns a unit's line program into lines. program is
// .debug_line from the unit's DW_AT_stmt_list to the end of the section,
// already checked for presence and bounds. Readers that locate the
// program themselves, like line.Reader, may ignore it.
type LineReader interface {
	ReadProgram(program []byte, m *module.Module, lines []module.Line) ([]module.Line, error)
}

// cuContext is what the handlers of one compilation unit share.
type cuContext struct {
	file     *FileContext
	reporter WarningReporter
	language *language

	// functions found so far; they move to the module when the unit ends
	functions []*module.Function
}

// CUHandler handles the root DIE of a compilation unit. It is the
// dispatcher's RootHandler for the unit.
//
// see DWARFv4 3.1.1 normal and partial compilation unit entries
type CUHandler struct {
	dispatch.IgnoreAttributes

	cu         *cuContext
	lineReader LineReader
	child      dieContext

	hasSourceLineInfo bool
	sourceLineOffset  uint64
	lines             []module.Line
}

// NewCUHandler creates the handler for one compilation unit of the file fc
// describes.
func NewCUHandler(fc *FileContext, lineReader LineReader, reporter WarningReporter) *CUHandler {
	return &CUHandler{
		cu: &cuContext{
			file:     fc,
			reporter: reporter,
			language: langCPlusPlus,
		},
		lineReader: lineReader,
	}
}

// StartCompilationUnit accepts DWARF version 2 and later.
func (h *CUHandler) StartCompilationUnit(offset uint64, addressSize, offsetSize uint8, cuLength uint64, dwarfVersion uint16) bool {
	return dwarfVersion >= 2
}

// StartRootDIE accepts only DW_TAG_compile_unit roots.
func (h *CUHandler) StartRootDIE(offset uint64, tag dwarf.Tag) bool {
	return tag == dwarf.TagCompileUnit
}

func (h *CUHandler) ProcessAttributeSigned(attr dwarf.Attr, class dwarf.Class, data int64) {
	switch attr {
	case dwarf.AttrLanguage:
		h.cu.language = languageFor(uint64(data))
	}
}

func (h *CUHandler) ProcessAttributeUnsigned(attr dwarf.Attr, class dwarf.Class, data uint64) {
	switch attr {
	case dwarf.AttrStmtList:
		h.hasSourceLineInfo = true
		h.sourceLineOffset = data
	case dwarf.AttrLanguage:
		h.cu.language = languageFor(data)
	}
}

func (h *CUHandler) ProcessAttributeString(attr dwarf.Attr, class dwarf.Class, data string) {
	switch attr {
	case dwarf.AttrName:
		h.cu.reporter.SetCUName(data)
	}
}

func (h *CUHandler) EndAttributes() bool {
	return true
}

func (h *CUHandler) FindChildHandler(offset uint64, tag dwarf.Tag) dispatch.Handler {
	return findChildHandler(h.cu, &h.child, offset, tag)
}

// Finish pairs the unit's functions with its lines and moves them to the
// module. Units in languages without functions contribute nothing.
func (h *CUHandler) Finish() {
	if !h.cu.language.hasFunctions {
		return
	}

	if h.hasSourceLineInfo {
		h.readSourceLines(h.sourceLineOffset)
	}

	assignLinesToFunctions(h.cu.functions, h.lines, h.cu.reporter)

	h.cu.file.module.AddFunctions(h.cu.functions)
	h.cu.functions = nil
	h.lines = nil
}

func (h *CUHandler) readSourceLines(offset uint64) {
	section, ok := h.cu.file.Section(".debug_line")
	if !ok {
		h.cu.reporter.MissingSection(".debug_line")
		return
	}
	if offset >= uint64(len(section)) {
		h.cu.reporter.BadLineInfoOffset(offset)
		return
	}

	lines, err := h.lineReader.ReadProgram(section[offset:], h.cu.file.module, h.lines)
	if err != nil {
		h.cu.reporter.BadLineProgram(offset, err)
	}
	h.lines = lines
}

type handlerFactory func(cu *cuContext, parent *dieContext, offset uint64) dispatch.Handler

// childHandlers lists the tags worth descending into below the root and
// below named scopes. Everything else is skipped with its subtree.
var childHandlers map[dwarf.Tag]handlerFactory

func init() {
	childHandlers = map[dwarf.Tag]handlerFactory{
		dwarf.TagSubprogram: newFuncHandler,
		dwarf.TagNamespace:  newNamedScopeHandler,
		dwarf.TagClassType:  newNamedScopeHandler,
		dwarf.TagStructType: newNamedScopeHandler,
		dwarf.TagUnionType:  newNamedScopeHandler,
	}
}

func findChildHandler(cu *cuContext, parent *dieContext, offset uint64, tag dwarf.Tag) dispatch.Handler {
	newHandler, ok := childHandlers[tag]
	if !ok {
		return nil
	}
	return newHandler(cu, parent, offset)
}
