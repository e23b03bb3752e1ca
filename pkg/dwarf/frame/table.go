package frame

import (
	"bytes"
	"encoding/binary"

	"github.com/hitzhangjie/dumpsyms/pkg/dwarf/util"
)

// DWRule wrapper of rule defined for register values.
type DWRule struct {
	Rule       Rule
	Offset     int64
	Reg        uint64
	Expression []byte
}

// FrameContext wrapper of FDE context
type FrameContext struct {
	loc           uint64
	order         binary.ByteOrder
	address       uint64
	CFA           DWRule
	Regs          map[uint64]DWRule
	initialRegs   map[uint64]DWRule
	buf           *bytes.Buffer
	cie           *CommonInformationEntry
	RetAddrReg    uint64
	codeAlignment uint64
	dataAlignment int64

	rememberedState []rememberedState

	tracking bool
	rows     []Row
	err      error
}

type rememberedState struct {
	cfa  DWRule
	regs map[uint64]DWRule
}

// Row the rules in effect from Address up to the next row's address.
type Row struct {
	Address uint64
	CFA     DWRule
	Regs    map[uint64]DWRule
}

// Instructions used to recreate the table from the .debug_frame data.
const (
	DW_CFA_nop                          = 0x0        // No ops
	DW_CFA_set_loc                      = 0x01       // op1: address
	DW_CFA_advance_loc1                 = iota       // op1: 1-bytes delta
	DW_CFA_advance_loc2                              // op1: 2-byte delta
	DW_CFA_advance_loc4                              // op1: 4-byte delta
	DW_CFA_offset_extended                           // op1: ULEB128 register, op2: ULEB128 offset
	DW_CFA_restore_extended                          // op1: ULEB128 register
	DW_CFA_undefined                                 // op1: ULEB128 register
	DW_CFA_same_value                                // op1: ULEB128 register
	DW_CFA_register                                  // op1: ULEB128 register, op2: ULEB128 register
	DW_CFA_remember_state                            // No ops
	DW_CFA_restore_state                             // No ops
	DW_CFA_def_cfa                                   // op1: ULEB128 register, op2: ULEB128 offset
	DW_CFA_def_cfa_register                          // op1: ULEB128 register
	DW_CFA_def_cfa_offset                            // op1: ULEB128 offset
	DW_CFA_def_cfa_expression                        // op1: BLOCK
	DW_CFA_expression                                // op1: ULEB128 register, op2: BLOCK
	DW_CFA_offset_extended_sf                        // op1: ULEB128 register, op2: SLEB128 BLOCK
	DW_CFA_def_cfa_sf                                // op1: ULEB128 register, op2: SLEB128 offset
	DW_CFA_def_cfa_offset_sf                         // op1: SLEB128 offset
	DW_CFA_val_offset                                // op1: ULEB128, op2: ULEB128
	DW_CFA_val_offset_sf                             // op1: ULEB128, op2: SLEB128
	DW_CFA_val_expression                            // op1: ULEB128, op2: BLOCK
	DW_CFA_lo_user                      = 0x1c       // op1: BLOCK
	DW_CFA_hi_user                      = 0x3f       // op1: ULEB128 register, op2: BLOCK
	DW_CFA_advance_loc                  = (0x1 << 6) // High 2 bits: 0x1, low 6: delta
	DW_CFA_offset                       = (0x2 << 6) // High 2 bits: 0x2, low 6: register
	DW_CFA_restore                      = (0x3 << 6) // High 2 bits: 0x3, low 6: register
	DW_CFA_MIPS_advance_loc8            = 0x1d
	DW_CFA_GNU_window_save              = 0x2d
	DW_CFA_GNU_args_size                = 0x2e
	DW_CFA_GNU_negative_offset_extended = 0x2f
)

// Rule rule defined for register values.
type Rule byte

const (
	RuleUndefined Rule = iota
	RuleSameVal
	RuleOffset
	RuleValOffset
	RuleRegister
	RuleExpression
	RuleValExpression
	RuleArchitectural
	RuleCFA // Value is rule.Reg + rule.Offset
)

const low_6_offset = 0x3f

type instruction func(frame *FrameContext)

// Mapping from DWARF opcode to function.
var fnlookup = map[byte]instruction{
	DW_CFA_advance_loc:                  advanceloc,
	DW_CFA_offset:                       offset,
	DW_CFA_restore:                      restore,
	DW_CFA_set_loc:                      setloc,
	DW_CFA_advance_loc1:                 advanceloc1,
	DW_CFA_advance_loc2:                 advanceloc2,
	DW_CFA_advance_loc4:                 advanceloc4,
	DW_CFA_offset_extended:              offsetextended,
	DW_CFA_restore_extended:             restoreextended,
	DW_CFA_undefined:                    undefined,
	DW_CFA_same_value:                   samevalue,
	DW_CFA_register:                     register,
	DW_CFA_remember_state:               rememberstate,
	DW_CFA_restore_state:                restorestate,
	DW_CFA_def_cfa:                      defcfa,
	DW_CFA_def_cfa_register:             defcfaregister,
	DW_CFA_def_cfa_offset:               defcfaoffset,
	DW_CFA_def_cfa_expression:           defcfaexpression,
	DW_CFA_expression:                   expression,
	DW_CFA_offset_extended_sf:           offsetextendedsf,
	DW_CFA_def_cfa_sf:                   defcfasf,
	DW_CFA_def_cfa_offset_sf:            defcfaoffsetsf,
	DW_CFA_val_offset:                   valoffset,
	DW_CFA_val_offset_sf:                valoffsetsf,
	DW_CFA_val_expression:               valexpression,
	DW_CFA_lo_user:                      louser,
	DW_CFA_hi_user:                      hiuser,
	DW_CFA_MIPS_advance_loc8:            advanceloc8,
	DW_CFA_GNU_window_save:              windowsave,
	DW_CFA_GNU_args_size:                gnuargsize,
	DW_CFA_GNU_negative_offset_extended: gnunegativeoffsetextended,
}

func newFrameContext(cie *CommonInformationEntry) *FrameContext {
	initialInstructions := make([]byte, len(cie.InitialInstructions))
	copy(initialInstructions, cie.InitialInstructions)
	return &FrameContext{
		cie:           cie,
		Regs:          make(map[uint64]DWRule),
		RetAddrReg:    cie.ReturnAddressRegister,
		initialRegs:   make(map[uint64]DWRule),
		codeAlignment: cie.CodeAlignmentFactor,
		dataAlignment: cie.DataAlignmentFactor,
		buf:           bytes.NewBuffer(initialInstructions),
	}
}

func executeCIEInstructions(cie *CommonInformationEntry) *FrameContext {
	frame := newFrameContext(cie)
	frame.ExecuteDwarfProgram()
	frame.initialRegs = copyRegs(frame.Regs)
	return frame
}

// Unwind the stack to find the return address register.
func executeDwarfProgramUntilPC(fde *FrameDescriptionEntry, pc uint64) *FrameContext {
	frame := executeCIEInstructions(fde.CIE)
	frame.order = fde.order
	frame.loc = fde.Begin()
	frame.address = pc
	frame.ExecuteUntilPC(fde.Instructions)

	return frame
}

// Rows interprets the whole FDE and returns one row per address at which
// the rules may change, the first at the FDE's start address. Rows at or
// past the FDE's end are not produced.
func (fde *FrameDescriptionEntry) Rows() ([]Row, error) {
	frame := executeCIEInstructions(fde.CIE)
	if frame.err != nil {
		return nil, frame.err
	}
	frame.order = fde.order
	frame.loc = fde.Begin()
	frame.tracking = true

	frame.buf.Truncate(0)
	frame.buf.Write(fde.Instructions)
	for frame.buf.Len() > 0 && frame.loc < fde.End() && frame.err == nil {
		executeDwarfInstruction(frame)
	}
	if frame.err != nil {
		return nil, frame.err
	}
	if frame.loc < fde.End() {
		frame.snapshot()
	}

	return frame.rows, nil
}

// ExecuteDwarfProgram execute dwarf program
func (frame *FrameContext) ExecuteDwarfProgram() {
	for frame.buf.Len() > 0 && frame.err == nil {
		executeDwarfInstruction(frame)
	}
}

// ExecuteUntilPC execute dwarf instructions.
func (frame *FrameContext) ExecuteUntilPC(instructions []byte) {
	frame.buf.Truncate(0)
	frame.buf.Write(instructions)

	// We only need to execute the instructions until
	// ctx.loc > ctx.address (which is the address we
	// are currently at in the traced process).
	for frame.address >= frame.loc && frame.buf.Len() > 0 && frame.err == nil {
		executeDwarfInstruction(frame)
	}
}

// Err returns the first instruction decoding error, if any.
func (frame *FrameContext) Err() error {
	return frame.err
}

func executeDwarfInstruction(frame *FrameContext) {
	at := frame.buf.Len()
	instruction, err := frame.buf.ReadByte()
	if err != nil {
		return
	}

	if instruction == DW_CFA_nop {
		return
	}

	fn := lookupFunc(instruction, frame.buf)
	if fn == nil {
		frame.err = &ErrBadInstruction{Opcode: instruction, Offset: at}
		return
	}

	fn(frame)
}

func lookupFunc(instruction byte, buf *bytes.Buffer) instruction {
	const high_2_bits = 0xc0
	var restore bool

	// Special case the 3 opcodes that have their argument encoded in the opcode itself.
	switch instruction & high_2_bits {
	case DW_CFA_advance_loc:
		instruction = DW_CFA_advance_loc
		restore = true

	case DW_CFA_offset:
		instruction = DW_CFA_offset
		restore = true

	case DW_CFA_restore:
		instruction = DW_CFA_restore
		restore = true
	}

	if restore {
		// Restore the last byte as it actually contains the argument for the opcode.
		_ = buf.UnreadByte()
	}

	return fnlookup[instruction]
}

// advance moves the location, recording the row that ends there.
func (frame *FrameContext) advance(loc uint64) {
	if frame.tracking {
		frame.snapshot()
	}
	frame.loc = loc
}

func (frame *FrameContext) snapshot() {
	row := Row{Address: frame.loc, CFA: frame.CFA, Regs: copyRegs(frame.Regs)}
	if n := len(frame.rows); n > 0 && frame.rows[n-1].Address == frame.loc {
		frame.rows[n-1] = row
		return
	}
	frame.rows = append(frame.rows, row)
}

func copyRegs(regs map[uint64]DWRule) map[uint64]DWRule {
	c := make(map[uint64]DWRule, len(regs))
	for k, v := range regs {
		c[k] = v
	}
	return c
}

func (frame *FrameContext) uleb() uint64 {
	v, _ := util.DecodeULEB128(frame.buf)
	return v
}

func (frame *FrameContext) sleb() int64 {
	v, _ := util.DecodeSLEB128(frame.buf)
	return v
}

func (frame *FrameContext) block() []byte {
	n := frame.uleb()
	if n > uint64(frame.buf.Len()) {
		frame.err = &ErrBadInstruction{Opcode: DW_CFA_expression, Offset: frame.buf.Len()}
		return nil
	}
	return append([]byte{}, frame.buf.Next(int(n))...)
}

func (frame *FrameContext) fixed(size int) uint64 {
	v, err := util.ReadUintRaw(frame.buf, frame.order, size)
	if err != nil {
		frame.err = &ErrBadInstruction{Opcode: DW_CFA_advance_loc4, Offset: frame.buf.Len()}
	}
	return v
}

func advanceloc(frame *FrameContext) {
	b, _ := frame.buf.ReadByte()
	delta := b & low_6_offset
	frame.advance(frame.loc + uint64(delta)*frame.codeAlignment)
}

func advanceloc1(frame *FrameContext) {
	delta := frame.fixed(1)
	frame.advance(frame.loc + delta*frame.codeAlignment)
}

func advanceloc2(frame *FrameContext) {
	delta := frame.fixed(2)
	frame.advance(frame.loc + delta*frame.codeAlignment)
}

func advanceloc4(frame *FrameContext) {
	delta := frame.fixed(4)
	frame.advance(frame.loc + delta*frame.codeAlignment)
}

func advanceloc8(frame *FrameContext) {
	delta := frame.fixed(8)
	frame.advance(frame.loc + delta*frame.codeAlignment)
}

func setloc(frame *FrameContext) {
	size := frame.cie.addressSize
	if size == 0 {
		size = 8
	}
	loc := frame.fixed(size)
	frame.advance(loc + frame.cie.staticBase)
}

func offset(frame *FrameContext) {
	b, _ := frame.buf.ReadByte()
	reg := b & low_6_offset
	offset := frame.uleb()

	frame.Regs[uint64(reg)] = DWRule{Offset: int64(offset) * frame.dataAlignment, Rule: RuleOffset}
}

func restore(frame *FrameContext) {
	b, _ := frame.buf.ReadByte()
	frame.restoreReg(uint64(b & low_6_offset))
}

func restoreextended(frame *FrameContext) {
	frame.restoreReg(frame.uleb())
}

func (frame *FrameContext) restoreReg(reg uint64) {
	if r, ok := frame.initialRegs[reg]; ok {
		frame.Regs[reg] = r
		return
	}
	delete(frame.Regs, reg)
}

func offsetextended(frame *FrameContext) {
	reg := frame.uleb()
	offset := frame.uleb()

	frame.Regs[reg] = DWRule{Offset: int64(offset) * frame.dataAlignment, Rule: RuleOffset}
}

func undefined(frame *FrameContext) {
	reg := frame.uleb()
	frame.Regs[reg] = DWRule{Rule: RuleUndefined}
}

func samevalue(frame *FrameContext) {
	reg := frame.uleb()
	frame.Regs[reg] = DWRule{Rule: RuleSameVal}
}

func register(frame *FrameContext) {
	reg1 := frame.uleb()
	reg2 := frame.uleb()
	frame.Regs[reg1] = DWRule{Reg: reg2, Rule: RuleRegister}
}

func rememberstate(frame *FrameContext) {
	frame.rememberedState = append(frame.rememberedState, rememberedState{
		cfa:  frame.CFA,
		regs: copyRegs(frame.Regs),
	})
}

func restorestate(frame *FrameContext) {
	n := len(frame.rememberedState)
	if n == 0 {
		return
	}
	state := frame.rememberedState[n-1]
	frame.rememberedState = frame.rememberedState[:n-1]

	frame.CFA = state.cfa
	frame.Regs = state.regs
}

func defcfa(frame *FrameContext) {
	reg := frame.uleb()
	offset := frame.uleb()

	frame.CFA.Rule = RuleCFA
	frame.CFA.Reg = reg
	frame.CFA.Offset = int64(offset)
}

func defcfaregister(frame *FrameContext) {
	reg := frame.uleb()
	frame.CFA.Reg = reg
	frame.CFA.Rule = RuleCFA
}

func defcfaoffset(frame *FrameContext) {
	offset := frame.uleb()
	frame.CFA.Offset = int64(offset)
}

func defcfasf(frame *FrameContext) {
	reg := frame.uleb()
	offset := frame.sleb() * frame.dataAlignment

	frame.CFA.Rule = RuleCFA
	frame.CFA.Reg = reg
	frame.CFA.Offset = offset
}

func defcfaoffsetsf(frame *FrameContext) {
	offset := frame.sleb()
	offset *= frame.dataAlignment
	frame.CFA.Offset = offset
}

func defcfaexpression(frame *FrameContext) {
	expr := frame.block()

	frame.CFA.Expression = expr
	frame.CFA.Rule = RuleExpression
}

func expression(frame *FrameContext) {
	reg := frame.uleb()
	expr := frame.block()

	frame.Regs[reg] = DWRule{Rule: RuleExpression, Expression: expr}
}

func offsetextendedsf(frame *FrameContext) {
	reg := frame.uleb()
	offset := frame.sleb()

	frame.Regs[reg] = DWRule{Offset: offset * frame.dataAlignment, Rule: RuleOffset}
}

func valoffset(frame *FrameContext) {
	reg := frame.uleb()
	offset := frame.uleb()

	frame.Regs[reg] = DWRule{Offset: int64(offset) * frame.dataAlignment, Rule: RuleValOffset}
}

func valoffsetsf(frame *FrameContext) {
	reg := frame.uleb()
	offset := frame.sleb()

	frame.Regs[reg] = DWRule{Offset: offset * frame.dataAlignment, Rule: RuleValOffset}
}

func valexpression(frame *FrameContext) {
	reg := frame.uleb()
	expr := frame.block()

	frame.Regs[reg] = DWRule{Rule: RuleValExpression, Expression: expr}
}

func louser(frame *FrameContext) {
	frame.buf.Next(1)
}

func hiuser(frame *FrameContext) {
	frame.buf.Next(1)
}

func windowsave(frame *FrameContext) {}

func gnuargsize(frame *FrameContext) {
	// The argument size is only needed by exception handling runtimes.
	_ = frame.uleb()
}

func gnunegativeoffsetextended(frame *FrameContext) {
	reg := frame.uleb()
	offset := frame.uleb()

	frame.Regs[reg] = DWRule{Offset: -int64(offset) * frame.dataAlignment, Rule: RuleOffset}
}
