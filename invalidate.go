// Copyright (c) 2019 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbicache

import "sort"

// ClearCacheRange marks every region overlapping r for erasure. No map is
// mutated until FlushCommit runs; lookups may still hit a region queued
// for erasure until then.
func (m *Manager) ClearCacheRange(r GuestRange) {
	for i, region := range m.regions {
		if region.Covered.Overlaps(r) {
			m.flushList = append(m.flushList, i)
		}
	}
}

// ClearCacheRangeSet applies ClearCacheRange to every range in the set,
// then resets the expansion-ratio counters (this call typically follows an
// instrumentation or guest-memory-map change wide enough to invalidate the
// running estimate).
func (m *Manager) ClearCacheRangeSet(set RangeSet) {
	for _, r := range set.Ranges() {
		m.ClearCacheRange(r)
	}
	m.totalTranslated = 1
	m.totalTranslation = 1
}

// ClearCacheAll erases every region immediately, bypassing the deferred
// flush list.
func (m *Manager) ClearCacheAll() {
	for len(m.regions) > 0 {
		m.eraseRegion(len(m.regions) - 1)
	}
}

// FlushCommit erases every region queued by ClearCacheRange/
// ClearCacheRangeSet, drops the manager-wide analysis cache, and resets
// the region-index one-slot cache. It is a no-op if nothing is queued.
func (m *Manager) FlushCommit() {
	if len(m.flushList) == 0 {
		return
	}

	sort.Sort(sort.Reverse(sort.IntSlice(m.flushList)))
	m.flushList = dedupSortedDesc(m.flushList)

	for _, r := range m.flushList {
		m.eraseRegion(r)
	}
	m.flushList = m.flushList[:0]

	m.analysisCache = make(map[uint64]*InstAnalysis)
	m.invalidateSearchCache()
}

// eraseRegion destroys all buffers and cached analyses owned by
// regions[r], then removes the slot. Indices above r shift down by one.
func (m *Manager) eraseRegion(r int) {
	m.regions[r].close()
	m.regions = append(m.regions[:r], m.regions[r+1:]...)
}

// dedupSortedDesc removes adjacent duplicates from a slice sorted in
// descending order.
func dedupSortedDesc(s []int) []int {
	if len(s) == 0 {
		return s
	}
	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
