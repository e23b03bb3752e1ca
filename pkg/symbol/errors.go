package symbol

import "fmt"

// ErrNoDebugInfo the file carries no DWARF debugging information
type ErrNoDebugInfo struct {
	File string
}

func (err *ErrNoDebugInfo) Error() string {
	return fmt.Sprintf("%s: no DWARF debugging information", err.File)
}

// ErrUnsupportedMachine the ELF machine has no symbol file architecture
type ErrUnsupportedMachine struct {
	File    string
	Machine string
}

func (err *ErrUnsupportedMachine) Error() string {
	return fmt.Sprintf("%s: unsupported machine %s", err.File, err.Machine)
}
