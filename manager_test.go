// Copyright (c) 2019 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbicache

import (
	"testing"
)

func syntheticPatches(base uint64, n int) []Patch {
	patches := make([]Patch, n)
	for i := 0; i < n; i++ {
		patches[i] = Patch{
			Address:  base + uint64(i),
			InstSize: 1,
			Body:     []byte{0x90},
		}
	}
	return patches
}

func newTestManager() *Manager {
	return NewManager(Config{BlockCapacity: 4096})
}

// A cold basic block is admitted and becomes resolvable at its entry.
func TestWriteBasicBlockColdTranslate(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	if err := m.WriteBasicBlock(syntheticPatches(0x1000, 4)); err != nil {
		t.Fatalf("WriteBasicBlock: %v", err)
	}

	loc, ok := m.GetSeqLoc(0x1000)
	if !ok {
		t.Fatal("GetSeqLoc(entry) = not found")
	}
	if loc.Block == nil {
		t.Fatal("SeqLoc.Block is nil")
	}
	if got := loc.Block.GetInstAddress(loc.Block.GetSeqStart(loc.SeqID)); got != 0x1000 {
		t.Errorf("resolved sequence starts at 0x%x, want 0x1000", got)
	}
}

// Entering a translated sequence mid-way lazily splits it, producing a
// distinct sequence whose start is the entry address.
func TestGetSeqLocSplitsOnMidSequenceEntry(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	if err := m.WriteBasicBlock(syntheticPatches(0x2000, 4)); err != nil {
		t.Fatalf("WriteBasicBlock: %v", err)
	}

	entryLoc, ok := m.GetSeqLoc(0x2000)
	if !ok {
		t.Fatal("GetSeqLoc(entry) = not found")
	}

	midLoc, ok := m.GetSeqLoc(0x2002)
	if !ok {
		t.Fatal("GetSeqLoc(mid) = not found")
	}
	if midLoc.SeqID == entryLoc.SeqID {
		t.Error("mid-sequence entry did not produce a new sequence")
	}
	if got := midLoc.Block.GetInstAddress(midLoc.Block.GetSeqStart(midLoc.SeqID)); got != 0x2002 {
		t.Errorf("split sequence starts at 0x%x, want 0x2002", got)
	}

	// The split point is now itself resolvable without further splitting.
	again, ok := m.GetSeqLoc(0x2002)
	if !ok || again.SeqID != midLoc.SeqID {
		t.Error("repeated GetSeqLoc at a split point should return the same sequence")
	}
}

// Re-admitting a basic block whose entry is already translated is a no-op.
func TestWriteBasicBlockDuplicateAdmission(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	patches := syntheticPatches(0x3000, 4)
	if err := m.WriteBasicBlock(patches); err != nil {
		t.Fatalf("first WriteBasicBlock: %v", err)
	}

	before := m.regions[0].Blocks[0].NumInsts()

	if err := m.WriteBasicBlock(patches); err != nil {
		t.Fatalf("second WriteBasicBlock: %v", err)
	}

	after := m.regions[0].Blocks[0].NumInsts()
	if before != after {
		t.Errorf("duplicate admission wrote %d new instructions, want 0", after-before)
	}
}

// A basic block within reach of an existing region extends it rather than
// starting a new one.
func TestFindRegionExtendsNearbyRegion(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	if err := m.WriteBasicBlock(syntheticPatches(0x1000, 4)); err != nil {
		t.Fatalf("first WriteBasicBlock: %v", err)
	}
	if len(m.regions) != 1 {
		t.Fatalf("len(regions) = %d, want 1", len(m.regions))
	}

	// A small gap (well inside a fresh region's write budget) should
	// extend the existing region instead of allocating a new one.
	if err := m.WriteBasicBlock(syntheticPatches(0x1010, 4)); err != nil {
		t.Fatalf("second WriteBasicBlock: %v", err)
	}
	if len(m.regions) != 1 {
		t.Fatalf("len(regions) = %d after nearby block, want 1 (region should extend)", len(m.regions))
	}
	if got := m.regions[0].Covered.End; got != 0x1014 {
		t.Errorf("region.Covered.End = 0x%x, want 0x1014", got)
	}
}

// A basic block far from any existing region starts a new, disjoint one.
func TestFindRegionCreatesDisjointRegion(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	if err := m.WriteBasicBlock(syntheticPatches(0x1000, 4)); err != nil {
		t.Fatalf("first WriteBasicBlock: %v", err)
	}
	if err := m.WriteBasicBlock(syntheticPatches(0x1000000, 4)); err != nil {
		t.Fatalf("second WriteBasicBlock: %v", err)
	}

	if len(m.regions) != 2 {
		t.Fatalf("len(regions) = %d, want 2", len(m.regions))
	}
	if m.regions[0].Covered.Start > m.regions[1].Covered.Start {
		t.Error("regions are not kept sorted by start address")
	}
}

// Invalidating a range removes its region only once FlushCommit runs.
func TestClearCacheRangeDefersUntilFlushCommit(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	if err := m.WriteBasicBlock(syntheticPatches(0x4000, 4)); err != nil {
		t.Fatalf("WriteBasicBlock: %v", err)
	}

	m.ClearCacheRange(GuestRange{Start: 0x4000, End: 0x4004})

	if _, ok := m.GetSeqLoc(0x4000); !ok {
		t.Error("lookup should still succeed before FlushCommit")
	}

	m.FlushCommit()

	if _, ok := m.GetSeqLoc(0x4000); ok {
		t.Error("lookup should fail after FlushCommit erases the region")
	}
	if len(m.regions) != 0 {
		t.Errorf("len(regions) = %d after FlushCommit, want 0", len(m.regions))
	}
}

func TestWriteBasicBlockEmptyIsNoop(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	if err := m.WriteBasicBlock(nil); err != nil {
		t.Fatalf("WriteBasicBlock(nil) = %v, want nil", err)
	}
	if len(m.regions) != 0 {
		t.Errorf("len(regions) = %d, want 0", len(m.regions))
	}
}

func TestWriteBasicBlockConfigErrorOnOversizedSequence(t *testing.T) {
	m := NewManager(Config{BlockCapacity: 2})
	defer m.Close()

	// A single 3-byte patch cannot fit even an empty 2-byte buffer.
	err := m.WriteBasicBlock([]Patch{{Address: 0x5000, InstSize: 1, Body: []byte{0x90, 0x90, 0x90}}})
	if err == nil {
		t.Fatal("expected a ConfigError for a sequence exceeding buffer capacity")
	}
	if _, ok := err.(*ConfigError); !ok {
		t.Errorf("err = %T, want *ConfigError", err)
	}
}

func TestManagerCloseReleasesBuffers(t *testing.T) {
	m := newTestManager()
	if err := m.WriteBasicBlock(syntheticPatches(0x6000, 4)); err != nil {
		t.Fatalf("WriteBasicBlock: %v", err)
	}
	block := m.regions[0].Blocks[0]

	m.Close()

	if len(m.regions) != 0 {
		t.Errorf("len(regions) = %d after Close, want 0", len(m.regions))
	}
	if err := block.Close(); err != nil {
		t.Errorf("closing an already-closed block: %v", err)
	}
}

func TestGetSeqLocMissOutsideEveryRegion(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	if err := m.WriteBasicBlock(syntheticPatches(0x1000, 4)); err != nil {
		t.Fatalf("WriteBasicBlock: %v", err)
	}
	if _, ok := m.GetSeqLoc(0xdeadbeef); ok {
		t.Error("GetSeqLoc should miss an address outside every region")
	}
}

func TestGetBBInfoNeverSplits(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	if err := m.WriteBasicBlock(syntheticPatches(0x7000, 4)); err != nil {
		t.Fatalf("WriteBasicBlock: %v", err)
	}

	if _, ok := m.GetBBInfo(0x7002); ok {
		t.Error("GetBBInfo should not resolve a non-entry address")
	}
	info, ok := m.GetBBInfo(0x7000)
	if !ok {
		t.Fatal("GetBBInfo(entry) = not found")
	}
	if info.Start != 0x7000 || info.End != 0x7004 {
		t.Errorf("GetBBInfo = %+v, want {0x7000 0x7004}", info)
	}

	// Splitting via GetSeqLoc must not disturb the original basic block's
	// registry entry.
	if _, ok := m.GetSeqLoc(0x7002); !ok {
		t.Fatal("GetSeqLoc(mid) = not found")
	}
	if info, ok := m.GetBBInfo(0x7000); !ok || info.Start != 0x7000 {
		t.Error("original basic block entry should remain resolvable after a split")
	}
}

func TestGetExecBlockArmsSelectedSequence(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	if err := m.WriteBasicBlock(syntheticPatches(0x8000, 4)); err != nil {
		t.Fatalf("WriteBasicBlock: %v", err)
	}

	block, ok := m.GetExecBlock(0x8000)
	if !ok {
		t.Fatal("GetExecBlock = not found")
	}
	loc, _ := m.GetSeqLoc(0x8000)
	if block.Selected() != loc.SeqID {
		t.Errorf("Selected() = %d, want %d", block.Selected(), loc.SeqID)
	}
}
