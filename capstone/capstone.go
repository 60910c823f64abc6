// Copyright (c) 2019 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package capstone adapts github.com/bnagy/gapstone to the disassembler
// and instruction-descriptor contracts a translation cache manager needs
// for its instruction analysis facets.
package capstone

import (
	"strings"

	"github.com/bnagy/gapstone"

	"github.com/tsavola/dbicache"
)

// Engine decodes x86-64 host instructions using capstone, with detail mode
// enabled so operand and register-access information is available.
type Engine struct {
	engine gapstone.Engine
}

// NewEngine opens a capstone x86-64 engine in AT&T syntax with detail mode
// on, the way internal/isa/x86/in's test harness sets one up.
func NewEngine() (*Engine, error) {
	engine, err := gapstone.New(gapstone.CS_ARCH_X86, gapstone.CS_MODE_64)
	if err != nil {
		return nil, err
	}
	if err := engine.SetOption(gapstone.CS_OPT_SYNTAX, gapstone.CS_OPT_SYNTAX_ATT); err != nil {
		engine.Close()
		return nil, err
	}
	if err := engine.SetOption(gapstone.CS_OPT_DETAIL, gapstone.CS_OPT_ON); err != nil {
		engine.Close()
		return nil, err
	}
	return &Engine{engine: engine}, nil
}

// Close releases the underlying capstone handle.
func (e *Engine) Close() {
	e.engine.Close()
}

// Decode implements dbicache.Disassembler by decoding the single
// instruction at the front of code.
func (e *Engine) Decode(code []byte, address uint64) (dbicache.InstDescriptor, error) {
	insns, err := e.engine.Disasm(code, address, 1)
	if err != nil {
		return nil, err
	}
	if len(insns) == 0 {
		return nil, errNoInstruction
	}
	return &descriptor{insns[0]}, nil
}

var errNoInstruction = disasmError("capstone: no instruction decoded")

type disasmError string

func (e disasmError) Error() string { return string(e) }

// descriptor adapts a gapstone.Instruction to dbicache.InstDescriptor.
type descriptor struct {
	insn gapstone.Instruction
}

func (d *descriptor) Mnemonic() string { return d.insn.Mnemonic }

func (d *descriptor) Disassembly() string {
	return strings.TrimSpace(d.insn.Mnemonic + " " + d.insn.OpStr)
}

func (d *descriptor) inGroup(group uint) bool {
	for _, g := range d.insn.Groups {
		if g == group {
			return true
		}
	}
	return false
}

func (d *descriptor) IsBranch() bool {
	return d.inGroup(uint(gapstone.X86_GRP_JUMP)) || d.inGroup(uint(gapstone.X86_GRP_BRANCH_RELATIVE))
}

func (d *descriptor) IsCall() bool {
	return d.inGroup(uint(gapstone.X86_GRP_CALL))
}

func (d *descriptor) IsReturn() bool {
	return d.inGroup(uint(gapstone.X86_GRP_RET)) || d.inGroup(uint(gapstone.X86_GRP_IRET))
}

func (d *descriptor) IsCompare() bool {
	switch d.insn.Mnemonic {
	case "cmp", "cmpl", "cmpq", "cmpw", "cmpb", "test", "testl", "testq", "testw", "testb":
		return true
	default:
		return false
	}
}

func (d *descriptor) IsPredicable() bool {
	return strings.HasPrefix(d.insn.Mnemonic, "cmov") || strings.HasPrefix(d.insn.Mnemonic, "set")
}

func (d *descriptor) MayLoad() bool {
	return d.hasMemOperand()
}

// MayStore reports whether the instruction touches memory and is not a
// pure load. Capstone doesn't separate load vs. store access per operand
// in this binding's detail mode, so a memory operand outside a
// known-load-only mnemonic is conservatively treated as a possible store.
func (d *descriptor) MayStore() bool {
	if !d.hasMemOperand() {
		return false
	}
	switch {
	case strings.HasPrefix(d.insn.Mnemonic, "cmp"):
	case strings.HasPrefix(d.insn.Mnemonic, "test"):
	default:
		return true
	}
	return false
}

func (d *descriptor) hasMemOperand() bool {
	if d.insn.X86 == nil {
		return false
	}
	for _, op := range d.insn.X86.Operands {
		if op.Type == gapstone.X86_OP_MEM {
			return true
		}
	}
	return false
}

func (d *descriptor) Operands() []dbicache.OperandDescriptor {
	if d.insn.X86 == nil {
		return nil
	}
	writes := make(map[uint]bool, len(d.insn.RegsWrite))
	for _, r := range d.insn.RegsWrite {
		writes[r] = true
	}

	out := make([]dbicache.OperandDescriptor, 0, len(d.insn.X86.Operands))
	for _, op := range d.insn.X86.Operands {
		switch op.Type {
		case gapstone.X86_OP_REG:
			out = append(out, operand{kind: opReg, reg: op.Reg, write: writes[op.Reg]})
		case gapstone.X86_OP_IMM:
			out = append(out, operand{kind: opImm, imm: op.Imm})
		}
	}
	return out
}

func (d *descriptor) regList(ids []uint) []dbicache.RegisterID {
	out := make([]dbicache.RegisterID, len(ids))
	for i, id := range ids {
		out[i] = dbicache.RegisterID(id)
	}
	return out
}

// ImplicitDefs and ImplicitUses reuse capstone's whole-instruction
// regs-accessed lists. Registers already surfaced as explicit operands in
// Operands are merged back together by the caller's duplicate-operand
// merge rule, so double-counting them here is harmless.
func (d *descriptor) ImplicitDefs() []dbicache.RegisterID {
	return d.regList(d.insn.RegsWrite)
}

func (d *descriptor) ImplicitUses() []dbicache.RegisterID {
	return d.regList(d.insn.RegsRead)
}

type opKind uint8

const (
	opReg opKind = iota
	opImm
)

type operand struct {
	kind  opKind
	reg   uint
	imm   int64
	write bool
}

func (o operand) IsRegister() bool   { return o.kind == opReg }
func (o operand) Register() dbicache.RegisterID { return dbicache.RegisterID(o.reg) }
func (o operand) IsImmediate() bool  { return o.kind == opImm }
func (o operand) IsPredicate() bool  { return false }
func (o operand) Immediate() int64   { return o.imm }
func (o operand) IsWrite() bool      { return o.write }
