// Copyright (c) 2019 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbicache

import (
	"fmt"

	"golang.org/x/xerrors"

	"github.com/tsavola/dbicache/execblock"
)

// ConfigError indicates that a single sequence is larger than any
// execution buffer's capacity, so it can never be written regardless of
// how many buffers are allocated. This is a caller-provided configuration
// problem (block capacity too small, or a single basic block absurdly
// large), not a runtime condition the cache manager can recover from on
// its own.
type ConfigError struct {
	Address uint64
	reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("dbicache: fatal configuration at 0x%x: %s", e.Address, e.reason)
}

func newConfigError(addr uint64, reason string) error {
	return &ConfigError{Address: addr, reason: reason}
}

// isFull reports whether err is (or wraps) execblock.ErrFull.
func isFull(err error) bool {
	return xerrors.Is(err, execblock.ErrFull)
}
