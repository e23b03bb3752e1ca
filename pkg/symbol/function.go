package symbol

import (
	"debug/dwarf"

	"github.com/hitzhangjie/dumpsyms/pkg/dwarf/dispatch"
	"github.com/hitzhangjie/dumpsyms/pkg/module"
)

// funcHandler handles a subprogram DIE. Its children are not visited.
//
// see DWARFv4 3.3 subroutine and entry point entries
type funcHandler struct {
	genericDIEHandler

	name           string
	lowPC          uint64
	highPC         uint64
	highPCIsOffset bool
	inline         bool

	origin    abstractOrigin
	hasOrigin bool
}

func newFuncHandler(cu *cuContext, parent *dieContext, offset uint64) dispatch.Handler {
	return &funcHandler{
		genericDIEHandler: genericDIEHandler{cu: cu, parent: parent, offset: offset},
	}
}

func (h *funcHandler) ProcessAttributeUnsigned(attr dwarf.Attr, class dwarf.Class, data uint64) {
	switch attr {
	case dwarf.AttrInline:
		// Any value counts, DW_INL_not_inlined included: the DIE may still
		// be cited as an abstract origin.
		h.inline = true
	case dwarf.AttrLowpc:
		h.lowPC = data
	case dwarf.AttrHighpc:
		h.highPC = data
		h.highPCIsOffset = class == dwarf.ClassConstant
	default:
		h.genericDIEHandler.ProcessAttributeUnsigned(attr, class, data)
	}
}

func (h *funcHandler) ProcessAttributeSigned(attr dwarf.Attr, class dwarf.Class, data int64) {
	switch attr {
	case dwarf.AttrInline:
		h.inline = true
	}
}

func (h *funcHandler) ProcessAttributeReference(attr dwarf.Attr, class dwarf.Class, data uint64) {
	switch attr {
	case dwarf.AttrAbstractOrigin:
		origin, ok := h.cu.file.origins[data]
		if !ok {
			h.cu.reporter.UnknownAbstractOrigin(h.offset, data)
			return
		}
		h.origin, h.hasOrigin = origin, true
	default:
		h.genericDIEHandler.ProcessAttributeReference(attr, class, data)
	}
}

func (h *funcHandler) EndAttributes() bool {
	h.name = h.computeQualifiedName()
	if h.name == "" && h.hasOrigin {
		h.name = h.cu.file.str(h.origin.name)
	}
	return true
}

// Finish emits a function if the DIE covers some bytes. Otherwise an
// inline DIE is remembered as an abstract origin.
func (h *funcHandler) Finish() {
	high := h.highPC
	if h.highPCIsOffset {
		high = h.lowPC + h.highPC
	}

	if h.lowPC < high {
		fn := &module.Function{
			Name:    h.name,
			Address: h.lowPC,
			Size:    high - h.lowPC,
		}
		if fn.Name == "" {
			h.cu.reporter.UnnamedFunction(h.offset)
			fn.Name = PlaceholderName
		}
		// A function at address zero is left over from discarded code.
		if fn.Address != 0 {
			h.cu.functions = append(h.cu.functions, fn)
		}
		return
	}

	if h.inline {
		h.cu.file.origins[h.offset] = abstractOrigin{name: h.cu.file.intern(h.name)}
	}
}
