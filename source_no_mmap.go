//go:build no_mmap

package carve

import "os"

// Open reads the file at path into memory and returns a Source over it.
func Open(path string) (*Source, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewSource(b), nil
}
