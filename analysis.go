// Copyright (c) 2019 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbicache

// AnalysisType is a bit set selecting which facets of an instruction to
// analyze. A request for a superset of a cached analysis's facets rebuilds
// it; a request for a subset returns the cached analysis unchanged.
type AnalysisType uint8

const (
	AnalysisDisassembly AnalysisType = 1 << iota
	AnalysisInstruction
	AnalysisOperands
	AnalysisSymbol
)

// RegisterID identifies a machine register in whatever numbering the
// active Disassembler/RegisterInfo pair uses.
type RegisterID uint16

// RegisterAccess describes how an operand touches a register.
type RegisterAccess uint8

const (
	AccessRead RegisterAccess = 1 << iota
	AccessWrite
)

// OperandKind classifies an operand analysis.
type OperandKind uint8

const (
	OperandInvalid OperandKind = iota
	OperandGPR
	OperandImmediate
	OperandPredicate
)

// OperandDescriptor is one operand of a decoded instruction, as supplied
// by the disassembler/register-info collaborator.
type OperandDescriptor interface {
	// IsRegister reports whether this operand names a register (as
	// opposed to an immediate or something this analysis ignores, such
	// as a memory operand).
	IsRegister() bool
	Register() RegisterID
	// IsImmediate reports whether this operand is an immediate or
	// predicate value.
	IsImmediate() bool
	IsPredicate() bool
	Immediate() int64
	// IsWrite reports whether this operand is a definition (written by
	// the instruction) as opposed to a use (read).
	IsWrite() bool
}

// InstDescriptor exposes the structural facts about a decoded instruction
// that the disassembler/register-info collaborator is required to
// provide (spec's "descriptors with implicit-def/use tables").
type InstDescriptor interface {
	Mnemonic() string
	Disassembly() string
	IsBranch() bool
	IsCall() bool
	IsReturn() bool
	IsCompare() bool
	IsPredicable() bool
	MayLoad() bool
	MayStore() bool
	Operands() []OperandDescriptor
	ImplicitDefs() []RegisterID
	ImplicitUses() []RegisterID
}

// Disassembler decodes a single instruction's worth of host or guest bytes
// starting at address.
type Disassembler interface {
	Decode(code []byte, address uint64) (InstDescriptor, error)
}

// RegisterInfo maps registers to the fixed-size general-purpose machine
// context slots an instrumentation engine exposes to instrumentation
// callbacks, resolving sub-register aliasing along the way.
type RegisterInfo interface {
	Name(id RegisterID) string
	// GPRSlot reports the machine-context slot a register (or its
	// containing register, for sub-registers) occupies, along with the
	// accessed width and bit offset within that slot. ok is false for
	// registers with no machine-context representation (e.g. vector
	// registers).
	GPRSlot(id RegisterID) (slot int, size uint8, offset uint8, ok bool)
}

// SymbolResolver resolves a host address to the nearest preceding symbol,
// the "host loader" external collaborator of spec's SYMBOL facet.
type SymbolResolver interface {
	Resolve(address uint64) (symbol string, offset uint64, module string, ok bool)
}

// InstMetadata is the external contract's carrier for a single guest
// instruction submitted to AnalyzeInstMetadata.
type InstMetadata struct {
	Address  uint64
	Size     uint8
	Bytes    []byte
	ModifyPC bool
}

// OperandAnalysis describes one (possibly merged) operand of an analyzed
// instruction.
type OperandAnalysis struct {
	Kind         OperandKind
	RegisterName string
	RegisterSlot int
	Size         uint8
	Offset       uint8
	Access       RegisterAccess
	Value        int64
}

// InstAnalysis is the requested metadata for a guest instruction: a union
// of the facets selected by Type.
type InstAnalysis struct {
	Type AnalysisType

	Disassembly string

	Address            uint64
	Size               uint8
	Mnemonic           string
	AffectsControlFlow bool
	IsBranch           bool
	IsCall             bool
	IsReturn           bool
	IsCompare          bool
	IsPredicable       bool
	MayLoad            bool
	MayStore           bool

	Operands []OperandAnalysis

	Symbol       string
	SymbolOffset uint64
	Module       string
}

// AnalyzeInstMetadata builds (or returns a cached) InstAnalysis for the
// instruction described by meta, covering the facets selected by mask. A
// nil meta yields a nil analysis with no side effect. The returned pointer
// is owned by the manager and valid until the next FlushCommit that erases
// its owning region (or, for stray instructions outside every region,
// until the next FlushCommit that has any region queued for erasure).
func (m *Manager) AnalyzeInstMetadata(meta *InstMetadata, mask AnalysisType) *InstAnalysis {
	if meta == nil {
		return nil
	}

	r := m.searchRegion(meta.Address)
	inRegion := r < len(m.regions) && m.regions[r].Covered.Contains(meta.Address)

	var cache map[uint64]*InstAnalysis
	if inRegion {
		cache = m.regions[r].AnalysisCache
	} else {
		cache = m.analysisCache
	}

	if existing, ok := cache[meta.Address]; ok {
		if existing.Type&mask == mask {
			return existing
		}
		delete(cache, meta.Address)
	}

	analysis := &InstAnalysis{Type: mask}

	var desc InstDescriptor
	if mask&(AnalysisDisassembly|AnalysisInstruction|AnalysisOperands) != 0 &&
		m.cfg.Disassembler != nil && len(meta.Bytes) > 0 {
		if d, err := m.cfg.Disassembler.Decode(meta.Bytes, meta.Address); err == nil {
			desc = d
		}
	}

	if mask&AnalysisDisassembly != 0 && desc != nil {
		analysis.Disassembly = desc.Disassembly()
	}

	if mask&AnalysisInstruction != 0 {
		analysis.Address = meta.Address
		analysis.Size = meta.Size
		analysis.AffectsControlFlow = meta.ModifyPC
		if desc != nil {
			analysis.IsBranch = desc.IsBranch()
			analysis.IsCall = desc.IsCall()
			analysis.IsReturn = desc.IsReturn()
			analysis.IsCompare = desc.IsCompare()
			analysis.IsPredicable = desc.IsPredicable()
			analysis.MayLoad = desc.MayLoad()
			analysis.MayStore = desc.MayStore()
			analysis.Mnemonic = desc.Mnemonic()
		}
	}

	if mask&AnalysisOperands != 0 && desc != nil {
		m.analyzeOperands(analysis, desc)
	}

	if mask&AnalysisSymbol != 0 && m.cfg.SymbolResolver != nil {
		if name, off, module, ok := m.cfg.SymbolResolver.Resolve(meta.Address); ok {
			analysis.Symbol = name
			analysis.SymbolOffset = off
			analysis.Module = module
		}
	}

	cache[meta.Address] = analysis
	return analysis
}

// analyzeOperands fills in analysis.Operands from desc's explicit
// operands followed by its implicit defs and uses, merging duplicate
// register operands as it goes.
func (m *Manager) analyzeOperands(analysis *InstAnalysis, desc InstDescriptor) {
	for _, op := range desc.Operands() {
		switch {
		case op.IsRegister():
			opa, ok := m.registerOperand(op.Register())
			if !ok {
				continue
			}
			if op.IsWrite() {
				opa.Access = AccessWrite
			} else {
				opa.Access = AccessRead
			}
			appendMerged(analysis, opa)

		case op.IsImmediate() || op.IsPredicate():
			kind := OperandImmediate
			if op.IsPredicate() {
				kind = OperandPredicate
			}
			analysis.Operands = append(analysis.Operands, OperandAnalysis{
				Kind:  kind,
				Value: op.Immediate(),
			})
		}
	}

	for _, id := range desc.ImplicitDefs() {
		if opa, ok := m.registerOperand(id); ok {
			opa.Access = AccessWrite
			appendMerged(analysis, opa)
		}
	}
	for _, id := range desc.ImplicitUses() {
		if opa, ok := m.registerOperand(id); ok {
			opa.Access = AccessRead
			appendMerged(analysis, opa)
		}
	}
}

// registerOperand resolves id to a GPR-slot operand analysis, if the
// active RegisterInfo maps it to one.
func (m *Manager) registerOperand(id RegisterID) (OperandAnalysis, bool) {
	if m.cfg.RegisterInfo == nil {
		return OperandAnalysis{}, false
	}
	slot, size, offset, ok := m.cfg.RegisterInfo.GPRSlot(id)
	if !ok {
		return OperandAnalysis{}, false
	}
	return OperandAnalysis{
		Kind:         OperandGPR,
		RegisterName: m.cfg.RegisterInfo.Name(id),
		RegisterSlot: slot,
		Size:         size,
		Offset:       offset,
	}, true
}

// appendMerged appends opa to analysis.Operands, merging it into an
// earlier operand of the same kind, register name, size and sub-register
// offset by OR-ing access bits, if one exists.
func appendMerged(analysis *InstAnalysis, opa OperandAnalysis) {
	for i := range analysis.Operands {
		prev := &analysis.Operands[i]
		if prev.Kind == opa.Kind &&
			prev.RegisterName == opa.RegisterName &&
			prev.Size == opa.Size &&
			prev.Offset == opa.Offset {
			prev.Access |= opa.Access
			return
		}
	}
	analysis.Operands = append(analysis.Operands, opa)
}
