// Copyright (c) 2019 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux || darwin || freebsd || netbsd || openbsd
// +build linux darwin freebsd netbsd openbsd

package execblock

import (
	"golang.org/x/sys/unix"
)

// allocExecutable mmaps an anonymous, private region with read, write and
// execute permission. A size of zero or less is replaced by one page.
func allocExecutable(size int) ([]byte, error) {
	if size <= 0 {
		size = unix.Getpagesize()
	}
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, unix.MAP_PRIVATE|unix.MAP_ANON)
}

func freeExecutable(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	return unix.Munmap(mem)
}
