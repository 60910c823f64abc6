// Copyright (c) 2019 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hostreg maps x86-64 general-purpose registers, including their
// 32- and 16-bit sub-registers and the 8-bit al/ah, cl/ch, dl/dh and bl/bh,
// to the fixed machine-context slots an instrumentation engine exposes to
// its callbacks. The 8-bit spl, bpl, sil, dil and r8b..r15b are not mapped. It is the Go analogue
// of walking LLVM's MCRegisterInfo sub-register tables: a static table
// keyed by capstone's own register IDs.
package hostreg

import (
	"github.com/bnagy/gapstone"

	"github.com/tsavola/dbicache"
)

// slot describes one entry of the GPR machine context, named the way
// internal/isa/x86/regs.go names the wag compiler's own register set.
type slot struct {
	name string
	regs map[uint]subreg // capstone register id -> access shape
}

type subreg struct {
	size   uint8
	offset uint8
}

// Table is a dbicache.RegisterInfo backed by the static x86-64 GPR
// context below.
type Table struct{}

var gprSlots = []slot{
	{"rax", map[uint]subreg{
		uint(gapstone.X86_REG_RAX): {8, 0}, uint(gapstone.X86_REG_EAX): {4, 0},
		uint(gapstone.X86_REG_AX): {2, 0}, uint(gapstone.X86_REG_AL): {1, 0}, uint(gapstone.X86_REG_AH): {1, 8},
	}},
	{"rcx", map[uint]subreg{
		uint(gapstone.X86_REG_RCX): {8, 0}, uint(gapstone.X86_REG_ECX): {4, 0},
		uint(gapstone.X86_REG_CX): {2, 0}, uint(gapstone.X86_REG_CL): {1, 0}, uint(gapstone.X86_REG_CH): {1, 8},
	}},
	{"rdx", map[uint]subreg{
		uint(gapstone.X86_REG_RDX): {8, 0}, uint(gapstone.X86_REG_EDX): {4, 0},
		uint(gapstone.X86_REG_DX): {2, 0}, uint(gapstone.X86_REG_DL): {1, 0}, uint(gapstone.X86_REG_DH): {1, 8},
	}},
	{"rbx", map[uint]subreg{
		uint(gapstone.X86_REG_RBX): {8, 0}, uint(gapstone.X86_REG_EBX): {4, 0},
		uint(gapstone.X86_REG_BX): {2, 0}, uint(gapstone.X86_REG_BL): {1, 0}, uint(gapstone.X86_REG_BH): {1, 8},
	}},
	{"rsp", map[uint]subreg{
		uint(gapstone.X86_REG_RSP): {8, 0}, uint(gapstone.X86_REG_ESP): {4, 0}, uint(gapstone.X86_REG_SP): {2, 0},
	}},
	{"rbp", map[uint]subreg{
		uint(gapstone.X86_REG_RBP): {8, 0}, uint(gapstone.X86_REG_EBP): {4, 0}, uint(gapstone.X86_REG_BP): {2, 0},
	}},
	{"rsi", map[uint]subreg{
		uint(gapstone.X86_REG_RSI): {8, 0}, uint(gapstone.X86_REG_ESI): {4, 0}, uint(gapstone.X86_REG_SI): {2, 0},
	}},
	{"rdi", map[uint]subreg{
		uint(gapstone.X86_REG_RDI): {8, 0}, uint(gapstone.X86_REG_EDI): {4, 0}, uint(gapstone.X86_REG_DI): {2, 0},
	}},
	{"r8", map[uint]subreg{uint(gapstone.X86_REG_R8): {8, 0}, uint(gapstone.X86_REG_R8D): {4, 0}, uint(gapstone.X86_REG_R8W): {2, 0}}},
	{"r9", map[uint]subreg{uint(gapstone.X86_REG_R9): {8, 0}, uint(gapstone.X86_REG_R9D): {4, 0}, uint(gapstone.X86_REG_R9W): {2, 0}}},
	{"r10", map[uint]subreg{uint(gapstone.X86_REG_R10): {8, 0}, uint(gapstone.X86_REG_R10D): {4, 0}, uint(gapstone.X86_REG_R10W): {2, 0}}},
	{"r11", map[uint]subreg{uint(gapstone.X86_REG_R11): {8, 0}, uint(gapstone.X86_REG_R11D): {4, 0}, uint(gapstone.X86_REG_R11W): {2, 0}}},
	{"r12", map[uint]subreg{uint(gapstone.X86_REG_R12): {8, 0}, uint(gapstone.X86_REG_R12D): {4, 0}, uint(gapstone.X86_REG_R12W): {2, 0}}},
	{"r13", map[uint]subreg{uint(gapstone.X86_REG_R13): {8, 0}, uint(gapstone.X86_REG_R13D): {4, 0}, uint(gapstone.X86_REG_R13W): {2, 0}}},
	{"r14", map[uint]subreg{uint(gapstone.X86_REG_R14): {8, 0}, uint(gapstone.X86_REG_R14D): {4, 0}, uint(gapstone.X86_REG_R14W): {2, 0}}},
	{"r15", map[uint]subreg{uint(gapstone.X86_REG_R15): {8, 0}, uint(gapstone.X86_REG_R15D): {4, 0}, uint(gapstone.X86_REG_R15W): {2, 0}}},
}

// slotOf finds the GPR slot index and sub-register shape for a capstone
// register id, mirroring QBDI's analyseRegister loop over GPR_ID.
func slotOf(id uint) (idx int, s subreg, ok bool) {
	for i, sl := range gprSlots {
		if s, ok = sl.regs[id]; ok {
			return i, s, true
		}
	}
	return 0, subreg{}, false
}

// GPRSlot implements dbicache.RegisterInfo.
func (Table) GPRSlot(id dbicache.RegisterID) (slot int, size uint8, offset uint8, ok bool) {
	idx, s, found := slotOf(uint(id))
	if !found {
		return 0, 0, 0, false
	}
	return idx, s.size, s.offset, true
}

// Name implements dbicache.RegisterInfo.
func (Table) Name(id dbicache.RegisterID) string {
	idx, _, ok := slotOf(uint(id))
	if !ok {
		return ""
	}
	return gprSlots[idx].name
}

var _ dbicache.RegisterInfo = Table{}
