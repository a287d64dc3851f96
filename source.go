package carve

import (
	"bytes"
	"encoding/binary"
)

var (
	le = binary.LittleEndian
	be = binary.BigEndian
)

// Source is random access to the bytes of an input, restricted to an
// active window [begin, end). Reads outside the window fail with a
// *BoundsError instead of returning data.
type Source struct {
	data  []byte
	begin int64
	end   int64
	close func() error
}

// NewSource returns a Source over b with the window spanning all of b.
func NewSource(b []byte) *Source {
	return &Source{data: b, end: int64(len(b))}
}

// Size returns the total number of bytes.
func (s *Source) Size() int64 { return int64(len(s.data)) }

// SetWindow restricts reads to [begin, end). Slices returned earlier stay valid.
func (s *Source) SetWindow(begin, end int64) {
	s.begin = max(begin, 0)
	s.end = min(end, s.Size())
}

// Window returns the active bounds.
func (s *Source) Window() (begin, end int64) { return s.begin, s.end }

// Read returns the n bytes at off. The slice aliases the source and must
// not be modified.
func (s *Source) Read(off, n int64) ([]byte, error) {
	if off < s.begin || n < 0 || off+n > s.end || off+n < off {
		return nil, &BoundsError{Off: off, N: n, Begin: s.begin, End: s.end}
	}
	return s.data[off : off+n], nil
}

// Index returns the offset of the first match of p starting at or after
// from that lies entirely inside the window, and the matching alternative.
func (s *Source) Index(p *Pattern, from int64) (int64, int, bool) {
	return newPatternFinder(p).find(s.data, max(from, s.begin), s.end)
}

// IndexBytes returns the offset of the first occurrence of needle at or
// after from inside the window, or -1.
func (s *Source) IndexBytes(needle []byte, from int64) int64 {
	from = max(from, s.begin)
	if from >= s.end {
		return -1
	}
	i := bytes.Index(s.data[from:s.end], needle)
	if i < 0 {
		return -1
	}
	return from + int64(i)
}

// Close releases the underlying mapping, if any.
func (s *Source) Close() error {
	if s.close == nil {
		return nil
	}
	err := s.close()
	s.close = nil
	s.data = nil
	return err
}
