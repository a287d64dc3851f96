//go:build linux && !no_mmap

package carve

import "golang.org/x/sys/unix"

// adviseSequential hints that the mapping is read mostly front to back.
// Failure only costs read-ahead, so it is ignored.
func adviseSequential(b []byte) {
	_ = unix.Madvise(b, unix.MADV_SEQUENTIAL)
}
