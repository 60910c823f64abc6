// Copyright (c) 2019 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dbicache implements the translation cache of a dynamic binary
// instrumentation engine: it owns the host code buffers holding translated
// guest code, maps guest addresses to the location of their translated
// counterparts, decides which buffer a newly translated basic block lands
// in, splits already-translated sequences when control enters them at a
// non-entry instruction, invalidates translations when guest memory
// changes, and produces cached per-instruction analyses.
//
// The package assumes single-threaded use under a caller-held lock; it does
// no internal locking of its own.
package dbicache
