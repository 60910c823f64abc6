// Copyright (c) 2019 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbicache

import "github.com/tsavola/dbicache/execblock"

// Patch is one guest instruction's worth of rewriting directives, handed to
// the manager by the (external) patcher. See execblock.Patch.
type Patch = execblock.Patch

// SeqType is a bit set describing whether a sequence covers the first
// and/or last patch of its source basic block. See execblock.SeqType.
type SeqType = execblock.SeqType

const (
	SeqEntry = execblock.SeqEntry
	SeqExit  = execblock.SeqExit
)

// codeRange returns the guest range covered by an ordered, non-empty list
// of patches: [first.Address, last.Address+last.InstSize).
func codeRange(patches []Patch) GuestRange {
	first := patches[0]
	last := patches[len(patches)-1]
	return GuestRange{
		Start: first.Address,
		End:   last.Address + uint64(last.InstSize),
	}
}
