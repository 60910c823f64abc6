// Copyright (c) 2019 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbicache

// findRegion returns the index of the region that should host a basic
// block spanning code, creating or extending a region as necessary. The
// heuristic considers at most three candidates starting at the
// binary-search anchor for code.Start; see spec's open questions.
func (m *Manager) findRegion(code GuestRange) int {
	low := m.searchRegion(code.Start)

	bestRegion := len(m.regions)
	bestCost := ^uint64(0)

	limit := low + 3
	if limit > len(m.regions) {
		limit = len(m.regions)
	}
	for i := low; i < limit; i++ {
		r := m.regions[i]

		if r.Covered.ContainsRange(code) {
			m.search = searchHit{code.Start, i, true}
			return i
		}

		var cost uint64
		if r.Covered.End < code.End {
			cost += code.End - r.Covered.End
		}
		if r.Covered.Start > code.Start {
			cost += r.Covered.Start - code.Start
		}

		ratio := m.GetExpansionRatio()
		if uint64(float64(cost)*ratio) < r.Available && cost < bestCost {
			bestCost = cost
			bestRegion = i
		}
	}

	if bestRegion != len(m.regions) {
		r := m.regions[bestRegion]
		if r.Covered.End < code.End {
			r.Covered.End = code.End
		}
		if r.Covered.Start > code.Start {
			r.Covered.Start = code.Start
		}
		m.search = searchHit{code.Start, bestRegion, true}
		return bestRegion
	}

	insert := low
	for ; insert < len(m.regions); insert++ {
		if m.regions[insert].Covered.Start > code.Start {
			break
		}
	}

	region := newRegion(code)
	m.regions = append(m.regions, nil)
	copy(m.regions[insert+1:], m.regions[insert:])
	m.regions[insert] = region

	m.search = searchHit{code.Start, insert, true}
	return insert
}
