// Copyright (c) 2019 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Program dbiview feeds synthetic basic blocks through a translation
// cache manager and prints its resulting cache statistics, in the spirit
// of the wag compiler's own wasys inspection tool.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/tsavola/dbicache"
	"github.com/tsavola/dbicache/capstone"
	"github.com/tsavola/dbicache/execblock"
	"github.com/tsavola/dbicache/hostreg"
	"github.com/tsavola/dbicache/hostsym"
)

var (
	verbose       = flag.Bool("verbose", false, "log each admitted basic block")
	blockCapacity = flag.Int("block-capacity", 4096, "byte capacity of each execution buffer")
	numBlocks     = flag.Int("blocks", 8, "number of synthetic basic blocks to translate")
	lookupAddr    = flag.Uint64("lookup", 0, "guest address to resolve after translation")
)

// syntheticBasicBlock builds a run of single-byte NOP patches (host opcode
// 0x90) starting at base, standing in for a real patcher's output.
func syntheticBasicBlock(base uint64, n int) []execblock.Patch {
	patches := make([]execblock.Patch, n)
	for i := 0; i < n; i++ {
		patches[i] = execblock.Patch{
			Address:  base + uint64(i),
			InstSize: 1,
			Body:     []byte{0x90},
		}
	}
	return patches
}

func main() {
	flag.Parse()

	engine, err := capstone.NewEngine()
	if err != nil {
		log.Fatalf("capstone: %v", err)
	}
	defer engine.Close()

	mgr := dbicache.NewManager(dbicache.Config{
		BlockCapacity:  *blockCapacity,
		Disassembler:   engine,
		RegisterInfo:   hostreg.Table{},
		SymbolResolver: hostsym.NewResolver(""),
	})
	defer mgr.Close()

	addr := uint64(0x1000)
	for i := 0; i < *numBlocks; i++ {
		bb := syntheticBasicBlock(addr, 4)
		if *verbose {
			log.Printf("writing basic block at 0x%x (%d patches)", addr, len(bb))
		}
		if err := mgr.WriteBasicBlock(bb); err != nil {
			log.Fatalf("write basic block at 0x%x: %v", addr, err)
		}
		addr += 4
	}

	if *lookupAddr != 0 {
		if loc, ok := mgr.GetSeqLoc(*lookupAddr); ok {
			fmt.Printf("0x%x -> seq %d bb %d\n", *lookupAddr, loc.SeqID, loc.BBIdx)
		} else {
			fmt.Printf("0x%x: cache miss\n", *lookupAddr)
		}
	}

	fmt.Printf("expansion ratio: %f\n", mgr.GetExpansionRatio())
	mgr.PrintCacheStatistics(os.Stdout)
}
