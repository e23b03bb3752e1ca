package symbol

// DWARF language codes that change how a compilation unit is handled.
const (
	langJava          = 0x000b
	langMipsAssembler = 0x8001
)

// language describes how a source language names things.
type language struct {
	separator    string
	hasFunctions bool
}

var (
	langCPlusPlus = &language{separator: "::", hasFunctions: true}
	langJavaLike  = &language{separator: ".", hasFunctions: true}

	// DWARF has no code for assembly language in general; this is the one
	// the GNU toolchain emits.
	langAssembler = &language{separator: "::", hasFunctions: false}
)

// languageFor maps a DW_AT_language value to a language. C++ rules serve
// every language not listed.
func languageFor(code uint64) *language {
	switch code {
	case langJava:
		return langJavaLike
	case langMipsAssembler:
		return langAssembler
	default:
		return langCPlusPlus
	}
}

// qualifiedName joins name to the name of its enclosing scope. A nameless
// DIE stays nameless.
func (l *language) qualifiedName(parent, name string) string {
	if parent == "" || name == "" {
		return name
	}
	return parent + l.separator + name
}
