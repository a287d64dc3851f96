package bmff

import "errors"

// maxDepth limits the reader/writer nesting stack.
const maxDepth = 16

var (
	// ErrShortBox is returned when a box payload is smaller than the
	// fields it must hold.
	ErrShortBox = errors.New("bmff: box too short")

	// ErrBoxSize is returned when a size field is smaller than the box
	// header or runs past the enclosing box.
	ErrBoxSize = errors.New("bmff: bad box size")

	// ErrTooDeep is returned by Enter past maxDepth nesting levels.
	ErrTooDeep = errors.New("bmff: boxes nested too deep")
)

// readerFrame stores parent state when entering a container box.
type readerFrame struct {
	end    int // parent's iteration end boundary
	boxEnd int // position to resume after exiting this container
}

// Reader iterates over the boxes of a buffer. Every read is checked
// against the buffer and the enclosing box: a malformed size stops the
// iteration and is reported by Err.
type Reader struct {
	buf []byte
	pos int // next position to parse from
	end int // iteration end boundary

	// Current box state
	boxType   BoxType
	boxStart  int
	boxEnd    int
	dataStart int

	// Full box fields
	version uint8
	flags   uint32

	stack [maxDepth]readerFrame
	depth int
	err   error
}

// NewReader creates a Reader for the given buffer.
func NewReader(buf []byte) Reader {
	return Reader{
		buf: buf,
		end: len(buf),
	}
}

// Err returns the error that stopped the iteration, if any.
func (r *Reader) Err() error { return r.err }

// Next advances to the next sibling box. It returns false at the end of
// the enclosing box or on error.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}
	if r.boxEnd > r.pos {
		r.pos = r.boxEnd
	}
	if r.pos >= r.end {
		return false
	}
	if r.end-r.pos < 8 {
		r.err = ErrBoxSize
		return false
	}

	r.boxStart = r.pos
	size := uint64(be.Uint32(r.buf[r.pos:]))
	copy(r.boxType[:], r.buf[r.pos+4:r.pos+8])
	ptr := r.pos + 8

	switch size {
	case 1:
		if r.end-r.pos < 16 {
			r.err = ErrBoxSize
			return false
		}
		size = be.Uint64(r.buf[ptr:])
		ptr += 8
	case 0:
		// box extends to the end of its container
		size = uint64(r.end - r.pos)
	}

	if size < uint64(ptr-r.pos) || size > uint64(r.end-r.pos) {
		r.err = ErrBoxSize
		return false
	}
	r.boxEnd = r.boxStart + int(size)

	r.version, r.flags = 0, 0
	if IsFullBox(r.boxType) {
		if r.boxEnd-ptr < 4 {
			r.err = ErrShortBox
			return false
		}
		vf := be.Uint32(r.buf[ptr:])
		r.version = uint8(vf >> 24)
		r.flags = vf & 0x00ffffff
		ptr += 4
	}

	r.dataStart = ptr
	return true
}

// Type returns the current box's type.
func (r *Reader) Type() BoxType { return r.boxType }

// Version returns the version field for full boxes.
func (r *Reader) Version() uint8 { return r.version }

// Flags returns the flags field for full boxes.
func (r *Reader) Flags() uint32 { return r.flags }

// Offset returns the byte offset of the current box's start in the buffer.
func (r *Reader) Offset() int { return r.boxStart }

// Data returns the current box's payload, after the full box fields.
// The slice aliases the buffer.
func (r *Reader) Data() []byte {
	return r.buf[r.dataStart:r.boxEnd]
}

// Depth returns the current nesting depth (0 at top level).
func (r *Reader) Depth() int { return r.depth }

// Enter descends into the current box to iterate its children. skip is
// the number of payload bytes before the first child: the entry count of
// stsd, or the fixed header of a sample entry (78 bytes for visual
// entries, 28 for audio ones).
func (r *Reader) Enter(skip int) bool {
	if r.err != nil {
		return false
	}
	if r.depth == maxDepth {
		r.err = ErrTooDeep
		return false
	}
	if skip > r.boxEnd-r.dataStart {
		r.err = ErrShortBox
		return false
	}
	r.stack[r.depth] = readerFrame{
		end:    r.end,
		boxEnd: r.boxEnd,
	}
	r.depth++
	r.end = r.boxEnd
	r.pos = r.dataStart + skip
	r.boxEnd = r.pos // prevent Next from skipping
	return true
}

// Exit returns to the parent level. The next call to Next advances to
// the sibling of the box that was entered.
func (r *Reader) Exit() {
	if r.depth == 0 {
		return
	}
	r.depth--
	f := r.stack[r.depth]
	r.end = f.end
	r.pos = f.boxEnd
	r.boxEnd = f.boxEnd
}

// need returns the payload if it holds at least n bytes.
func (r *Reader) need(n int) ([]byte, error) {
	data := r.Data()
	if len(data) < n {
		return nil, ErrShortBox
	}
	return data, nil
}

// Mvhd holds the fields of a movie header.
type Mvhd struct {
	CreationTime     uint64
	ModificationTime uint64
	Timescale        uint32
	Duration         uint64
	Rate             uint32 // 16.16 fixed point
	Volume           uint16 // 8.8 fixed point
	NextTrackID      uint32
}

// ReadMvhd parses the current mvhd box.
func (r *Reader) ReadMvhd() (Mvhd, error) {
	var m Mvhd
	if r.Version() == 1 {
		// v1: ctime(8)+mtime(8)+timescale(4)+duration(8)+rate(4)+volume(2)+reserved(10)+matrix(36)+predefined(24)+nextTrackId(4) = 108
		data, err := r.need(108)
		if err != nil {
			return m, err
		}
		m.CreationTime = be.Uint64(data[0:8])
		m.ModificationTime = be.Uint64(data[8:16])
		m.Timescale = be.Uint32(data[16:20])
		m.Duration = be.Uint64(data[20:28])
		m.Rate = be.Uint32(data[28:32])
		m.Volume = be.Uint16(data[32:34])
		m.NextTrackID = be.Uint32(data[104:108])
		return m, nil
	}
	// v0: ctime(4)+mtime(4)+timescale(4)+duration(4)+rate(4)+volume(2)+reserved(10)+matrix(36)+predefined(24)+nextTrackId(4) = 96
	data, err := r.need(96)
	if err != nil {
		return m, err
	}
	m.CreationTime = uint64(be.Uint32(data[0:4]))
	m.ModificationTime = uint64(be.Uint32(data[4:8]))
	m.Timescale = be.Uint32(data[8:12])
	m.Duration = uint64(be.Uint32(data[12:16]))
	m.Rate = be.Uint32(data[16:20])
	m.Volume = be.Uint16(data[20:22])
	m.NextTrackID = be.Uint32(data[92:96])
	return m, nil
}

// Tkhd holds the fields of a track header. Width and height are 16.16
// fixed-point values.
type Tkhd struct {
	TrackID       uint32
	Duration      uint64
	Width, Height uint32
}

// ReadTkhd parses the current tkhd box.
func (r *Reader) ReadTkhd() (Tkhd, error) {
	var t Tkhd
	if r.Version() == 1 {
		// v1: ctime(8)+mtime(8)+trackId(4)+reserved(4)+duration(8)
		// +reserved(8)+layer(2)+altGroup(2)+volume(2)+reserved(2)+matrix(36)+width(4)+height(4)
		data, err := r.need(92)
		if err != nil {
			return t, err
		}
		t.TrackID = be.Uint32(data[16:20])
		t.Duration = be.Uint64(data[24:32])
		t.Width = be.Uint32(data[84:88])
		t.Height = be.Uint32(data[88:92])
		return t, nil
	}
	// v0: ctime(4)+mtime(4)+trackId(4)+reserved(4)+duration(4), then as v1
	data, err := r.need(80)
	if err != nil {
		return t, err
	}
	t.TrackID = be.Uint32(data[8:12])
	t.Duration = uint64(be.Uint32(data[16:20]))
	t.Width = be.Uint32(data[72:76])
	t.Height = be.Uint32(data[76:80])
	return t, nil
}

// Mdhd holds the fields of a media header.
type Mdhd struct {
	Timescale uint32
	Duration  uint64
	Language  string // ISO-639-2/T code
}

// ReadMdhd parses the current mdhd box.
func (r *Reader) ReadMdhd() (Mdhd, error) {
	var m Mdhd
	var lang uint16
	if r.Version() == 1 {
		// v1: ctime(8)+mtime(8)+timescale(4)+duration(8)+lang(2)+quality(2)
		data, err := r.need(30)
		if err != nil {
			return m, err
		}
		m.Timescale = be.Uint32(data[16:20])
		m.Duration = be.Uint64(data[20:28])
		lang = be.Uint16(data[28:30])
	} else {
		// v0: ctime(4)+mtime(4)+timescale(4)+duration(4)+lang(2)+quality(2)
		data, err := r.need(18)
		if err != nil {
			return m, err
		}
		m.Timescale = be.Uint32(data[8:12])
		m.Duration = uint64(be.Uint32(data[12:16]))
		lang = be.Uint16(data[16:18])
	}
	m.Language = language(lang)
	return m, nil
}

// language unpacks three 5-bit letters offset by 0x60.
func language(v uint16) string {
	if v == 0 {
		return ""
	}
	b := [3]byte{
		byte(v>>10&0x1f) + 0x60,
		byte(v>>5&0x1f) + 0x60,
		byte(v&0x1f) + 0x60,
	}
	for _, c := range b {
		if c < 'a' || c > 'z' {
			return ""
		}
	}
	return string(b[:])
}

// ReadHdlr returns the handler type and name of the current hdlr box.
func (r *Reader) ReadHdlr() (handler, name string, err error) {
	data, err := r.need(8)
	if err != nil {
		return "", "", err
	}
	handler = string(data[4:8])
	// predefined(4)+handler(4)+reserved(12)+name
	if len(data) > 20 {
		end := 20
		for end < len(data) && data[end] != 0 {
			end++
		}
		name = string(data[20:end])
	}
	return handler, name, nil
}
