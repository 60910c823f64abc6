// Copyright (c) 2019 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbicache

import "github.com/tsavola/dbicache/execblock"

// BBInfo records the guest-range endpoints of an original basic block.
type BBInfo struct {
	Start uint64
	End   uint64
}

// SeqLoc identifies the translated entry point for a guest address that is
// itself a basic-block entry, or a later instruction promoted to a split
// entry.
type SeqLoc struct {
	Block *execblock.Block
	SeqID execblock.SeqID
	BBIdx int
}

// InstLoc identifies where in a region's buffers a particular guest
// instruction sits.
type InstLoc struct {
	BlockIdx int
	InstID   execblock.InstID
}

// ExecRegion is the unit of cache organization: a guest-address range and
// the buffers translating it.
type ExecRegion struct {
	Covered    GuestRange
	Translated uint64
	Available  uint64

	Blocks []*execblock.Block

	SequenceCache map[uint64]SeqLoc
	InstCache     map[uint64]InstLoc
	BBRegistry    []BBInfo

	AnalysisCache map[uint64]*InstAnalysis
}

func newRegion(covered GuestRange) *ExecRegion {
	return &ExecRegion{
		Covered:       covered,
		SequenceCache: make(map[uint64]SeqLoc),
		InstCache:     make(map[uint64]InstLoc),
		AnalysisCache: make(map[uint64]*InstAnalysis),
	}
}

// close releases every buffer owned by the region. Cached analyses need no
// explicit release in Go; they are dropped with the map.
func (r *ExecRegion) close() {
	for _, b := range r.Blocks {
		b.Close()
	}
}
