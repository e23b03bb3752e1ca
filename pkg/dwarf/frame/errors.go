package frame

import (
	"errors"
	"fmt"
)

// ErrNoFDEForPC FDE for PC not found error
type ErrNoFDEForPC struct {
	PC uint64
}

func (err *ErrNoFDEForPC) Error() string {
	return fmt.Sprintf("could not find FDE for PC %#v", err.PC)
}

// ErrExpressionRule is returned when a row holds a DWARF expression rule,
// which has no STACK CFI rendering.
var ErrExpressionRule = errors.New("expression rules are not supported")

// ErrBadInstruction CFA instruction error
type ErrBadInstruction struct {
	Opcode byte
	Offset int
}

func (err *ErrBadInstruction) Error() string {
	return fmt.Sprintf("unknown or truncated CFA instruction %#x at offset %d", err.Opcode, err.Offset)
}

// ErrNoCFARule is returned when a row has no rule for the CFA.
var ErrNoCFARule = errors.New("no CFA rule")
