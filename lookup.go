// Copyright (c) 2019 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbicache

import "github.com/tsavola/dbicache/execblock"

// GetSeqLoc resolves a guest address to a translated entry point. If addr
// is a recognized instruction that is not itself a sequence entry, the
// enclosing sequence is lazily split so that addr becomes one.
func (m *Manager) GetSeqLoc(addr uint64) (SeqLoc, bool) {
	r := m.searchRegion(addr)
	if r >= len(m.regions) || !m.regions[r].Covered.Contains(addr) {
		return SeqLoc{}, false
	}
	region := m.regions[r]

	if loc, ok := region.SequenceCache[addr]; ok {
		return loc, true
	}

	instLoc, ok := region.InstCache[addr]
	if !ok {
		return SeqLoc{}, false
	}

	block := region.Blocks[instLoc.BlockIdx]

	existingSeqID := block.GetSeqID(instLoc.InstID)
	existingBBStart := block.GetInstAddress(block.GetSeqStart(existingSeqID))
	existingBBIdx := region.SequenceCache[existingBBStart].BBIdx

	region.BBRegistry = append(region.BBRegistry, BBInfo{
		Start: addr,
		End:   region.BBRegistry[existingBBIdx].End,
	})
	newBBIdx := len(region.BBRegistry) - 1

	newSeqID, err := block.SplitSequence(instLoc.InstID)
	if err != nil {
		return SeqLoc{}, false
	}

	loc := SeqLoc{Block: block, SeqID: newSeqID, BBIdx: newBBIdx}
	region.SequenceCache[addr] = loc
	return loc, true
}

// GetExecBlock resolves addr and arms its execution buffer to enter at the
// resolved sequence.
func (m *Manager) GetExecBlock(addr uint64) (*execblock.Block, bool) {
	loc, ok := m.GetSeqLoc(addr)
	if !ok {
		return nil, false
	}
	loc.Block.SelectSeq(loc.SeqID)
	return loc.Block, true
}

// GetBBInfo returns the basic-block record for addr only if addr is a
// recognized sequence entry; unlike GetSeqLoc, this never triggers a split.
func (m *Manager) GetBBInfo(addr uint64) (BBInfo, bool) {
	r := m.searchRegion(addr)
	if r >= len(m.regions) || !m.regions[r].Covered.Contains(addr) {
		return BBInfo{}, false
	}
	region := m.regions[r]

	loc, ok := region.SequenceCache[addr]
	if !ok {
		return BBInfo{}, false
	}
	return region.BBRegistry[loc.BBIdx], true
}
