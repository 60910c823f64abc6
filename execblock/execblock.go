// Copyright (c) 2019 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package execblock implements a fixed-capacity host-executable buffer: the
// unit that a translation cache manager writes translated guest code into.
//
// A Block holds one or more sequences, each a contiguous run of translated
// patches. Sequences can be split so that control may re-enter a
// previously translated block at a non-entry instruction without
// re-translating it.
package execblock

import (
	"github.com/pkg/errors"
)

// ErrFull is returned by WriteSequence when the block has no room left for
// even the first patch of the requested run. The block's state is
// unchanged when this error is returned.
var ErrFull = errors.New("execblock: buffer full")

// SeqType is a bit set describing whether a sequence covers the first
// and/or last patch of its source basic block.
type SeqType uint8

const (
	// SeqEntry marks a sequence that covers the first patch of its basic
	// block.
	SeqEntry SeqType = 1 << iota
	// SeqExit marks a sequence that covers the last patch of its basic
	// block.
	SeqExit
)

// SeqID identifies a sequence within a single Block.
type SeqID uint32

// InstID identifies a translated instruction within a single Block.
type InstID uint32

// Patch is one guest instruction's worth of rewriting directives, produced
// by the (external) patcher and consumed here as an opaque byte body.
type Patch struct {
	Address  uint64
	InstSize uint8
	Body     []byte
}

// WriteResult reports the outcome of a successful WriteSequence call.
type WriteResult struct {
	SeqID          SeqID
	PatchesWritten int
	BytesWritten   int
}

type sequence struct {
	start InstID
	end   InstID // inclusive
	typ   SeqType
}

type instRecord struct {
	address uint64
	offset  int
	length  int
	seq     SeqID
}

// Block is a fixed-capacity, host-executable buffer.
type Block struct {
	mem      []byte
	capacity int
	used     int

	sequences []sequence
	insts     []instRecord
	selected  SeqID
	closed    bool
}

// New allocates a Block with room for capacity bytes of host code.
func New(capacity int) (*Block, error) {
	mem, err := allocExecutable(capacity)
	if err != nil {
		return nil, errors.Wrap(err, "execblock: allocate")
	}
	return &Block{mem: mem, capacity: capacity}, nil
}

// Close releases the block's host memory. The block must not be used
// afterwards.
func (b *Block) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return freeExecutable(b.mem)
}

// WriteSequence writes as many of the given patches as fit into the
// block's remaining capacity, in order, as a single new sequence. It
// writes either a run starting at the first patch, or nothing: if the
// first patch alone does not fit, ErrFull is returned and the block is
// left unchanged.
func (b *Block) WriteSequence(patches []Patch, typ SeqType) (WriteResult, error) {
	if len(patches) == 0 {
		return WriteResult{}, errors.New("execblock: empty patch run")
	}

	startOffset := b.used
	startInst := InstID(len(b.insts))

	written := 0
	bytesWritten := 0
	for _, p := range patches {
		if b.used+len(p.Body) > b.capacity {
			break
		}
		copy(b.mem[b.used:], p.Body)
		b.insts = append(b.insts, instRecord{
			address: p.Address,
			offset:  b.used,
			length:  len(p.Body),
			seq:     SeqID(len(b.sequences)),
		})
		b.used += len(p.Body)
		bytesWritten += len(p.Body)
		written++
	}

	if written == 0 {
		b.used = startOffset
		return WriteResult{}, ErrFull
	}

	id := SeqID(len(b.sequences))
	b.sequences = append(b.sequences, sequence{
		start: startInst,
		end:   InstID(len(b.insts) - 1),
		typ:   typ,
	})

	return WriteResult{SeqID: id, PatchesWritten: written, BytesWritten: bytesWritten}, nil
}

// SplitSequence turns the suffix of an existing sequence starting at inst
// into its own sequence, sharing the same underlying bytes. It returns the
// new sequence's ID.
func (b *Block) SplitSequence(inst InstID) (SeqID, error) {
	old := b.insts[inst].seq
	oldSeq := b.sequences[old]
	if inst < oldSeq.start || inst > oldSeq.end {
		return 0, errors.Errorf("execblock: instruction %d not in sequence %d", inst, old)
	}

	newID := SeqID(len(b.sequences))
	newType := oldSeq.typ &^ SeqEntry // the suffix is never a basic block entry of the original block...
	// ...unless the split point is where the sequence started, in which case it inherits Entry too.
	if inst == oldSeq.start {
		newType = oldSeq.typ
	}
	b.sequences = append(b.sequences, sequence{start: inst, end: oldSeq.end, typ: newType})

	for id := inst; id <= oldSeq.end; id++ {
		b.insts[id].seq = newID
	}
	// The original sequence now only covers the prefix, and can no longer
	// be an Exit sequence since it no longer reaches the block's end.
	if inst <= oldSeq.end {
		b.sequences[old].end = inst - 1
		b.sequences[old].typ &^= SeqExit
	}

	return newID, nil
}

// SelectSeq arms the block to enter at seqID the next time it is executed.
func (b *Block) SelectSeq(id SeqID) {
	b.selected = id
}

// Selected returns the sequence armed by the last SelectSeq call.
func (b *Block) Selected() SeqID {
	return b.selected
}

// GetSeqID returns the sequence that owns the given instruction.
func (b *Block) GetSeqID(inst InstID) SeqID {
	return b.insts[inst].seq
}

// GetSeqStart returns the first instruction of a sequence.
func (b *Block) GetSeqStart(id SeqID) InstID {
	return b.sequences[id].start
}

// GetSeqEnd returns the last (inclusive) instruction of a sequence.
func (b *Block) GetSeqEnd(id SeqID) InstID {
	return b.sequences[id].end
}

// GetInstAddress returns the guest address of a translated instruction.
func (b *Block) GetInstAddress(inst InstID) uint64 {
	return b.insts[inst].address
}

// NumInsts reports how many instructions have been written to the block.
func (b *Block) NumInsts() int {
	return len(b.insts)
}

// EpilogueOffset reports the number of bytes still writable in the block.
func (b *Block) EpilogueOffset() int {
	return b.capacity - b.used
}

// OccupationRatio reports the fraction of capacity currently used.
func (b *Block) OccupationRatio() float64 {
	if b.capacity == 0 {
		return 0
	}
	return float64(b.used) / float64(b.capacity)
}

// Bytes exposes the block's underlying host memory, for disassembly or
// debugging. The caller must not retain it past the block's Close.
func (b *Block) Bytes() []byte {
	return b.mem[:b.used]
}
