// Copyright (c) 2019 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hostsym resolves host addresses to the nearest preceding symbol
// in the current process's own ELF image, the Go equivalent of the host
// loader's dladdr() that the original SYMBOL facet relies on.
package hostsym

import (
	"debug/elf"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/tsavola/dbicache"
)

type symbol struct {
	name  string
	value uint64
}

// Resolver implements dbicache.SymbolResolver over the running binary's
// own ELF symbol table. It is safe for concurrent use; the manager itself
// serializes calls, but multiple managers may share one Resolver.
type Resolver struct {
	once    sync.Once
	symbols []symbol
	module  string
	loadErr error
}

// NewResolver returns a Resolver that lazily loads its symbol table from
// path (typically "/proc/self/exe") on first Resolve call. An empty path
// defaults to the current executable, via os.Executable.
func NewResolver(path string) *Resolver {
	return &Resolver{module: path}
}

func (r *Resolver) load() {
	path := r.module
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			r.loadErr = err
			return
		}
		path = exe
	}

	f, err := elf.Open(path)
	if err != nil {
		r.loadErr = err
		return
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil {
		// No symbol table (stripped binary): leave the resolver with an
		// empty table rather than failing every lookup.
		syms = nil
	}

	r.symbols = make([]symbol, 0, len(syms))
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 {
			continue
		}
		r.symbols = append(r.symbols, symbol{name: s.Name, value: s.Value})
	}
	sort.Slice(r.symbols, func(i, j int) bool { return r.symbols[i].value < r.symbols[j].value })

	r.module = filepath.Base(path)
}

// Resolve implements dbicache.SymbolResolver: it finds the nearest symbol
// at or below address and reports the byte offset into it.
func (r *Resolver) Resolve(address uint64) (name string, offset uint64, module string, ok bool) {
	r.once.Do(r.load)
	if r.loadErr != nil || len(r.symbols) == 0 {
		return "", 0, "", false
	}

	i := sort.Search(len(r.symbols), func(i int) bool { return r.symbols[i].value > address }) - 1
	if i < 0 {
		return "", 0, "", false
	}

	sym := r.symbols[i]
	return sym.name, address - sym.value, r.module, true
}

var _ dbicache.SymbolResolver = (*Resolver)(nil)
