// Copyright (c) 2019 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbicache

import "github.com/tsavola/dbicache/execblock"

// WriteBasicBlock admits a basic block's patches into the cache. Patches
// must be ordered by strictly increasing address. If the block's first
// patch is already translated, this is a no-op. Patches beyond the first
// already-translated address are silently dropped (they are already
// present under a different, still-valid, cache entry).
//
// A non-nil error other than *ConfigError should not occur in normal
// operation.
func (m *Manager) WriteBasicBlock(patches []Patch) error {
	if len(patches) == 0 {
		return nil
	}

	first := patches[0]
	last := patches[len(patches)-1]

	r := m.findRegion(codeRange(patches))
	region := m.regions[r]

	patchEnd := len(patches)
	for i, p := range patches {
		if _, ok := region.SequenceCache[p.Address]; ok {
			patchEnd = i
			break
		}
	}
	if patchEnd == 0 {
		return nil
	}

	region.BBRegistry = append(region.BBRegistry, BBInfo{
		Start: first.Address,
		End:   last.Address + uint64(last.InstSize),
	})
	bbIdx := len(region.BBRegistry) - 1

	var translated, translation uint64
	patchIdx := 0

	for patchIdx < patchEnd {
		var (
			res      execblock.WriteResult
			blockIdx int
			err      error
		)

		for blockIdx = 0; ; blockIdx++ {
			if blockIdx >= len(region.Blocks) {
				var b *execblock.Block
				b, err = m.newBlock()
				if err != nil {
					return newConfigError(first.Address, "unable to allocate execution buffer: "+err.Error())
				}
				region.Blocks = append(region.Blocks, b)
			}

			seqType := SeqType(0)
			if patchIdx == 0 {
				seqType |= SeqEntry
			}
			if patchEnd == len(patches) {
				seqType |= SeqExit
			}

			res, err = region.Blocks[blockIdx].WriteSequence(patches[patchIdx:patchEnd], seqType)
			if err == nil {
				break
			}
			if !isFull(err) {
				return err
			}
			if region.Blocks[blockIdx].NumInsts() == 0 {
				// This buffer was empty and still can't fit even the
				// first patch: no amount of retrying will help.
				return newConfigError(patches[patchIdx].Address,
					"a single sequence exceeds the execution buffer capacity")
			}
		}

		block := region.Blocks[blockIdx]
		seqLoc := SeqLoc{Block: block, SeqID: res.SeqID, BBIdx: bbIdx}
		region.SequenceCache[patches[patchIdx].Address] = seqLoc

		startID := block.GetSeqStart(res.SeqID)
		endID := block.GetSeqEnd(res.SeqID)
		for id := startID; id <= endID; id++ {
			offset := int(id) - int(startID)
			region.InstCache[patches[patchIdx+offset].Address] = InstLoc{BlockIdx: blockIdx, InstID: id}
		}

		lastWritten := patches[patchIdx+res.PatchesWritten-1]
		translated += (lastWritten.Address + uint64(lastWritten.InstSize)) - patches[patchIdx].Address
		translation += uint64(res.BytesWritten)
		patchIdx += res.PatchesWritten
	}

	m.totalTranslation += translation
	m.totalTranslated += translated
	m.updateRegionStat(r, translated)

	return nil
}

// updateRegionStat refreshes a region's translated byte count and its
// remaining write budget after a WriteBasicBlock commit.
func (m *Manager) updateRegionStat(r int, translated uint64) {
	region := m.regions[r]
	region.Translated += translated
	region.Available = uint64(region.Blocks[0].EpilogueOffset())

	untranslated := region.Covered.Size() - region.Translated
	reserved := uint64(float64(untranslated) * m.GetExpansionRatio())

	if reserved >= region.Available {
		region.Available = 0
	} else {
		region.Available -= reserved
	}
}
