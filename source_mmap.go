//go:build !no_mmap

package carve

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// Open maps the file at path read-only and returns a Source over it.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() == 0 {
		return NewSource(nil), nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", path, err)
	}
	adviseSequential(m)

	s := NewSource(m)
	s.close = m.Unmap
	return s, nil
}
