package frame

import (
	"fmt"
	"strconv"

	"github.com/hitzhangjie/dumpsyms/pkg/module"
)

// RegisterNames maps DWARF register numbers to the names STACK CFI
// records use for them.
type RegisterNames []string

// Name returns the name of register reg, or "$<reg>" when it has none.
func (names RegisterNames) Name(reg uint64) string {
	if reg < uint64(len(names)) && names[reg] != "" {
		return names[reg]
	}
	return "$" + strconv.FormatUint(reg, 10)
}

// ArchRegisterNames returns the register names of the architecture arch,
// spelled the way module architectures are ("x86", "x86_64", "arm",
// "arm64", "mips"). Unknown architectures get an empty table.
func ArchRegisterNames(arch string) RegisterNames {
	switch arch {
	case "x86":
		return i386Names
	case "x86_64":
		return x86_64Names
	case "arm":
		return armNames
	case "arm64":
		return arm64Names
	case "mips", "mips64":
		return mipsNames
	}
	return nil
}

var i386Names = RegisterNames{
	"$eax", "$ecx", "$edx", "$ebx", "$esp", "$ebp", "$esi", "$edi",
	"$eip", "$eflags", "$unused1",
	"$st0", "$st1", "$st2", "$st3", "$st4", "$st5", "$st6", "$st7",
	"$unused2", "$unused3",
	"$xmm0", "$xmm1", "$xmm2", "$xmm3", "$xmm4", "$xmm5", "$xmm6", "$xmm7",
	"$mm0", "$mm1", "$mm2", "$mm3", "$mm4", "$mm5", "$mm6", "$mm7",
	"$fcw", "$fsw", "$mxcsr",
	"$es", "$cs", "$ss", "$ds", "$fs", "$gs", "$unused4", "$unused5",
	"$tr", "$ldtr",
}

var x86_64Names = RegisterNames{
	"$rax", "$rdx", "$rcx", "$rbx", "$rsi", "$rdi", "$rbp", "$rsp",
	"$r8", "$r9", "$r10", "$r11", "$r12", "$r13", "$r14", "$r15",
	"$rip",
	"$xmm0", "$xmm1", "$xmm2", "$xmm3", "$xmm4", "$xmm5", "$xmm6", "$xmm7",
	"$xmm8", "$xmm9", "$xmm10", "$xmm11", "$xmm12", "$xmm13", "$xmm14", "$xmm15",
	"$st0", "$st1", "$st2", "$st3", "$st4", "$st5", "$st6", "$st7",
	"$mm0", "$mm1", "$mm2", "$mm3", "$mm4", "$mm5", "$mm6", "$mm7",
	"$rflags",
	"$es", "$cs", "$ss", "$ds", "$fs", "$gs", "$unused1", "$unused2",
	"$fs.base", "$gs.base", "$unused3", "$unused4",
	"$tr", "$ldtr", "$mxcsr", "$fcw", "$fsw",
}

var armNames = RegisterNames{
	"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7",
	"r8", "r9", "r10", "r11", "r12", "sp", "lr", "pc",
	"f0", "f1", "f2", "f3", "f4", "f5", "f6", "f7",
	"fps", "cpsr",
}

var arm64Names = RegisterNames{
	"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7",
	"x8", "x9", "x10", "x11", "x12", "x13", "x14", "x15",
	"x16", "x17", "x18", "x19", "x20", "x21", "x22", "x23",
	"x24", "x25", "x26", "x27", "x28", "x29", "x30", "sp",
}

var mipsNames = RegisterNames{
	"$zero", "$at", "$v0", "$v1", "$a0", "$a1", "$a2", "$a3",
	"$t0", "$t1", "$t2", "$t3", "$t4", "$t5", "$t6", "$t7",
	"$s0", "$s1", "$s2", "$s3", "$s4", "$s5", "$s6", "$s7",
	"$t8", "$t9", "$k0", "$k1", "$gp", "$sp", "$fp", "$ra",
}

// Rules renders the row in STACK CFI syntax. The CFA is keyed ".cfa" and
// the return address register ra is keyed ".ra"; undefined registers are
// left out. Rows holding DWARF expressions yield ErrExpressionRule.
func (r *Row) Rules(names RegisterNames, ra uint64) (module.RuleMap, error) {
	rules := module.RuleMap{}

	switch r.CFA.Rule {
	case RuleCFA:
		rules[".cfa"] = fmt.Sprintf("%s %d +", names.Name(r.CFA.Reg), r.CFA.Offset)
	case RuleExpression, RuleValExpression:
		return nil, ErrExpressionRule
	default:
		return nil, ErrNoCFARule
	}

	for reg, rule := range r.Regs {
		key := names.Name(reg)
		if reg == ra {
			key = ".ra"
		}

		switch rule.Rule {
		case RuleUndefined, RuleArchitectural:
			continue
		case RuleSameVal:
			rules[key] = names.Name(reg)
		case RuleOffset:
			rules[key] = fmt.Sprintf(".cfa %d + ^", rule.Offset)
		case RuleValOffset:
			rules[key] = fmt.Sprintf(".cfa %d +", rule.Offset)
		case RuleRegister:
			rules[key] = names.Name(rule.Reg)
		case RuleExpression, RuleValExpression:
			return nil, ErrExpressionRule
		}
	}

	return rules, nil
}
