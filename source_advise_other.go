//go:build !linux && !no_mmap

package carve

func adviseSequential([]byte) {}
