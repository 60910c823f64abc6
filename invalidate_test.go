// Copyright (c) 2019 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbicache

import "testing"

func TestClearCacheAllErasesImmediately(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	if err := m.WriteBasicBlock(syntheticPatches(0x1000, 4)); err != nil {
		t.Fatalf("WriteBasicBlock: %v", err)
	}
	if err := m.WriteBasicBlock(syntheticPatches(0x1000000, 4)); err != nil {
		t.Fatalf("WriteBasicBlock: %v", err)
	}

	m.ClearCacheAll()

	if len(m.regions) != 0 {
		t.Fatalf("len(regions) = %d after ClearCacheAll, want 0", len(m.regions))
	}
	if _, ok := m.GetSeqLoc(0x1000); ok {
		t.Error("lookup should fail immediately after ClearCacheAll")
	}
}

func TestClearCacheRangeSetResetsExpansionRatio(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	// Two host bytes per one guest byte of InstSize inflates the
	// expansion ratio away from its initial value of 1.
	patches := []Patch{
		{Address: 0x1000, InstSize: 1, Body: []byte{0x90, 0x90}},
		{Address: 0x1001, InstSize: 1, Body: []byte{0x90, 0x90}},
	}
	if err := m.WriteBasicBlock(patches); err != nil {
		t.Fatalf("WriteBasicBlock: %v", err)
	}
	if got := m.GetExpansionRatio(); got == 1 {
		t.Fatalf("GetExpansionRatio() = %f, want > 1 before reset", got)
	}

	m.ClearCacheRangeSet(NewRangeSet(GuestRange{Start: 0x1000, End: 0x1002}))
	m.FlushCommit()

	if got := m.GetExpansionRatio(); got != 1 {
		t.Errorf("GetExpansionRatio() = %f after reset, want 1", got)
	}
}

func TestFlushCommitDedupsOverlappingRanges(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	if err := m.WriteBasicBlock(syntheticPatches(0x1000, 4)); err != nil {
		t.Fatalf("WriteBasicBlock: %v", err)
	}

	// Two overlapping clears queue the same region index twice.
	m.ClearCacheRange(GuestRange{Start: 0x1000, End: 0x1002})
	m.ClearCacheRange(GuestRange{Start: 0x1002, End: 0x1004})

	if len(m.flushList) != 2 {
		t.Fatalf("len(flushList) = %d, want 2 before commit", len(m.flushList))
	}

	m.FlushCommit()

	if len(m.regions) != 0 {
		t.Fatalf("len(regions) = %d after FlushCommit, want 0", len(m.regions))
	}
}

func TestFlushCommitIsNoopWhenNothingQueued(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	if err := m.WriteBasicBlock(syntheticPatches(0x1000, 4)); err != nil {
		t.Fatalf("WriteBasicBlock: %v", err)
	}

	m.FlushCommit()

	if len(m.regions) != 1 {
		t.Errorf("len(regions) = %d after no-op FlushCommit, want 1", len(m.regions))
	}
}

func TestClearCacheRangeIgnoresNonOverlappingRegion(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	if err := m.WriteBasicBlock(syntheticPatches(0x1000, 4)); err != nil {
		t.Fatalf("WriteBasicBlock: %v", err)
	}

	m.ClearCacheRange(GuestRange{Start: 0x5000, End: 0x6000})
	m.FlushCommit()

	if len(m.regions) != 1 {
		t.Errorf("len(regions) = %d after clearing an unrelated range, want 1", len(m.regions))
	}
}

func TestDedupSortedDesc(t *testing.T) {
	got := dedupSortedDesc([]int{5, 5, 3, 3, 3, 1})
	want := []int{5, 3, 1}
	if len(got) != len(want) {
		t.Fatalf("dedupSortedDesc = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dedupSortedDesc = %v, want %v", got, want)
		}
	}
}
