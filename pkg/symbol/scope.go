package symbol

import (
	"debug/dwarf"

	"github.com/hitzhangjie/dumpsyms/pkg/dwarf/dispatch"
)

// genericDIEHandler holds what named scopes and functions have in common:
// the attributes that take part in building a qualified name.
type genericDIEHandler struct {
	dispatch.IgnoreAttributes

	cu     *cuContext
	parent *dieContext
	offset uint64

	declaration   bool
	spec          specification
	hasSpec       bool
	nameAttribute string
}

func (h *genericDIEHandler) ProcessAttributeUnsigned(attr dwarf.Attr, class dwarf.Class, data uint64) {
	switch attr {
	case dwarf.AttrDeclaration:
		h.declaration = data != 0
	}
}

func (h *genericDIEHandler) ProcessAttributeReference(attr dwarf.Attr, class dwarf.Class, data uint64) {
	switch attr {
	case dwarf.AttrSpecification:
		// Forward references are never resolved; declarations must come first.
		spec, ok := h.cu.file.specifications[data]
		if !ok {
			h.cu.reporter.UnknownSpecification(h.offset, data)
			return
		}
		h.spec, h.hasSpec = spec, true
	}
}

func (h *genericDIEHandler) ProcessAttributeString(attr dwarf.Attr, class dwarf.Class, data string) {
	switch attr {
	case dwarf.AttrName:
		h.nameAttribute = data
	}
}

func (h *genericDIEHandler) FindChildHandler(offset uint64, tag dwarf.Tag) dispatch.Handler {
	return nil
}

// computeQualifiedName returns the DIE's name qualified by its enclosing
// scopes, and records a specification if the DIE is a declaration.
//
// The DIE's own name wins over its specification's. The specification's
// enclosing scope wins over the DIE's parent.
func (h *genericDIEHandler) computeQualifiedName() string {
	fc := h.cu.file

	unqualified := h.nameAttribute
	if unqualified == "" && h.hasSpec {
		unqualified = fc.str(h.spec.unqualified)
	}

	enclosing := h.parent.name
	if h.hasSpec {
		enclosing = fc.str(h.spec.enclosing)
	}

	if h.declaration {
		fc.specifications[h.offset] = specification{
			enclosing:   fc.intern(enclosing),
			unqualified: fc.intern(unqualified),
		}
	}

	return h.cu.language.qualifiedName(enclosing, unqualified)
}

// namedScopeHandler handles namespaces, classes, structures and unions.
// It produces nothing itself but names the scope for its children.
type namedScopeHandler struct {
	genericDIEHandler
	child dieContext
}

func newNamedScopeHandler(cu *cuContext, parent *dieContext, offset uint64) dispatch.Handler {
	return &namedScopeHandler{
		genericDIEHandler: genericDIEHandler{cu: cu, parent: parent, offset: offset},
	}
}

func (h *namedScopeHandler) EndAttributes() bool {
	h.child.name = h.computeQualifiedName()
	return true
}

func (h *namedScopeHandler) FindChildHandler(offset uint64, tag dwarf.Tag) dispatch.Handler {
	return findChildHandler(h.cu, &h.child, offset, tag)
}

func (h *namedScopeHandler) Finish() {}
