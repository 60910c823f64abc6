// Copyright (c) 2019 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbicache

import (
	"fmt"
	"io"

	"github.com/tsavola/dbicache/execblock"
)

// Config supplies a Manager's external collaborators and tunables.
type Config struct {
	// BlockCapacity is the byte capacity of each newly allocated
	// execution buffer.
	BlockCapacity int

	// Disassembler, RegisterInfo and SymbolResolver back the analysis
	// facets of AnalyzeInstMetadata. Any of them may be nil, in which
	// case the facets they would populate are simply left empty.
	Disassembler   Disassembler
	RegisterInfo   RegisterInfo
	SymbolResolver SymbolResolver
}

type searchHit struct {
	address uint64
	idx     int
	valid   bool
}

// Manager owns the translation cache: a set of execution regions, their
// buffers, and the maps resolving guest addresses into them.
type Manager struct {
	cfg Config

	regions   []*ExecRegion
	search    searchHit
	flushList []int

	totalTranslated  uint64 // total_translated_size
	totalTranslation uint64 // total_translation_size

	// analysisCache holds analyses for instructions outside every
	// region.
	analysisCache map[uint64]*InstAnalysis
}

// NewManager creates an empty translation cache manager.
func NewManager(cfg Config) *Manager {
	if cfg.BlockCapacity <= 0 {
		cfg.BlockCapacity = 64 * 1024
	}
	return &Manager{
		cfg:              cfg,
		totalTranslated:  1,
		totalTranslation: 1,
		analysisCache:    make(map[uint64]*InstAnalysis),
	}
}

// GetExpansionRatio returns the running estimate of host translated bytes
// per guest translated byte.
func (m *Manager) GetExpansionRatio() float64 {
	return float64(m.totalTranslation) / float64(m.totalTranslated)
}

// PrintCacheStatistics writes a human-readable summary of region and
// buffer occupation to out, in the style of a diagnostic dump.
func (m *Manager) PrintCacheStatistics(out io.Writer) {
	var meanOccupation float64
	var overflowRegions int

	fmt.Fprintf(out, "\tCache made of %d regions:\n", len(m.regions))
	for _, r := range m.regions {
		var occupation float64
		for _, b := range r.Blocks {
			occupation += b.OccupationRatio()
		}
		if len(r.Blocks) > 1 {
			overflowRegions++
		}
		if len(r.Blocks) > 0 {
			occupation /= float64(len(r.Blocks))
		}
		meanOccupation += occupation
		fmt.Fprintf(out, "\t\t[0x%x, 0x%x): %d blocks, %f occupation ratio\n",
			r.Covered.Start, r.Covered.End, len(r.Blocks), occupation)
	}
	if len(m.regions) > 0 {
		meanOccupation /= float64(len(m.regions))
	}
	fmt.Fprintf(out, "\tMean occupation ratio: %f\n", meanOccupation)
	fmt.Fprintf(out, "\tRegion overflow count: %d\n", overflowRegions)
}

// Close releases every buffer owned by every region. The manager must not
// be used afterwards.
func (m *Manager) Close() {
	for _, r := range m.regions {
		r.close()
	}
	m.regions = nil
}

// searchRegion returns the index whose Covered range contains addr, or the
// index of the last region whose Covered.Start <= addr (0 if addr precedes
// all regions or there are no regions). The result may point past the end
// only when there are no regions.
func (m *Manager) searchRegion(addr uint64) int {
	if len(m.regions) == 0 {
		return 0
	}
	if m.search.valid && m.search.address == addr {
		return m.search.idx
	}

	low, high := 0, len(m.regions)
	for low+1 != high {
		idx := (low + high) / 2
		switch {
		case m.regions[idx].Covered.Start > addr:
			high = idx
		case m.regions[idx].Covered.End <= addr:
			low = idx
		default:
			m.search = searchHit{addr, idx, true}
			return idx
		}
	}
	m.search = searchHit{addr, low, true}
	return low
}

func (m *Manager) invalidateSearchCache() {
	m.search = searchHit{}
}

func (m *Manager) newBlock() (*execblock.Block, error) {
	return execblock.New(m.cfg.BlockCapacity)
}
