package bmff

import (
	"encoding/binary"
	"math"
)

var be = binary.BigEndian

const uint32Max = math.MaxUint32

// StszIter iterates over sample sizes in an stsz box.
type StszIter struct {
	buf        []byte
	sampleSize uint32
	count      uint32
	index      uint32
}

// NewStszIter creates an iterator from stsz box data. A count larger than
// the table held by data is cut to the table.
func NewStszIter(data []byte) StszIter {
	if len(data) < 8 {
		return StszIter{}
	}
	it := StszIter{
		buf:        data,
		sampleSize: be.Uint32(data[0:4]),
		count:      be.Uint32(data[4:8]),
	}
	if it.sampleSize == 0 {
		it.count = min(it.count, uint32((len(data)-8)/4))
	}
	return it
}

// Count returns the total number of samples.
func (it *StszIter) Count() uint32 { return it.count }

// Next returns the next sample size. Returns (0, false) when done.
func (it *StszIter) Next() (uint32, bool) {
	if it.index >= it.count {
		return 0, false
	}
	size := it.sampleSize
	if size == 0 {
		size = be.Uint32(it.buf[8+int(it.index)*4:])
	}
	it.index++
	return size, true
}

// Total returns the sum of the remaining sample sizes.
func (it *StszIter) Total() uint64 {
	var n uint64
	for size, ok := it.Next(); ok; size, ok = it.Next() {
		n += uint64(size)
	}
	return n
}

// Uint32Iter iterates over a counted table of uint32 values, as found in
// stco and stss boxes.
type Uint32Iter struct {
	buf   []byte
	count uint32
	index uint32
}

// NewUint32Iter creates an iterator from box data starting with the count.
func NewUint32Iter(data []byte) Uint32Iter {
	if len(data) < 4 {
		return Uint32Iter{}
	}
	return Uint32Iter{
		buf:   data,
		count: min(be.Uint32(data[0:4]), uint32((len(data)-4)/4)),
	}
}

// Count returns the total number of entries.
func (it *Uint32Iter) Count() uint32 { return it.count }

// Next returns the next entry. Returns (0, false) when done.
func (it *Uint32Iter) Next() (uint32, bool) {
	if it.index >= it.count {
		return 0, false
	}
	v := be.Uint32(it.buf[4+int(it.index)*4:])
	it.index++
	return v, true
}

// Co64Iter iterates over uint64 chunk offsets in a co64 box.
type Co64Iter struct {
	buf   []byte
	count uint32
	index uint32
}

// NewCo64Iter creates an iterator from co64 box data.
func NewCo64Iter(data []byte) Co64Iter {
	if len(data) < 4 {
		return Co64Iter{}
	}
	return Co64Iter{
		buf:   data,
		count: min(be.Uint32(data[0:4]), uint32((len(data)-4)/8)),
	}
}

// Count returns the total number of entries.
func (it *Co64Iter) Count() uint32 { return it.count }

// Next returns the next chunk offset. Returns (0, false) when done.
func (it *Co64Iter) Next() (uint64, bool) {
	if it.index >= it.count {
		return 0, false
	}
	v := be.Uint64(it.buf[4+int(it.index)*8:])
	it.index++
	return v, true
}

// FtypInfo holds parsed fields from an ftyp box.
type FtypInfo struct {
	MajorBrand   [4]byte
	MinorVersion uint32
	Compatible   [][4]byte
}

// Brands returns the compatible brands as strings.
func (f FtypInfo) Brands() []string {
	out := make([]string, len(f.Compatible))
	for i, b := range f.Compatible {
		out[i] = string(b[:])
	}
	return out
}

// ReadFtyp parses ftyp box data.
func ReadFtyp(data []byte) (FtypInfo, error) {
	if len(data) < 8 {
		return FtypInfo{}, ErrShortBox
	}
	f := FtypInfo{
		MinorVersion: be.Uint32(data[4:8]),
	}
	copy(f.MajorBrand[:], data[0:4])
	for i := 8; i+4 <= len(data); i += 4 {
		var b [4]byte
		copy(b[:], data[i:i+4])
		f.Compatible = append(f.Compatible, b)
	}
	return f, nil
}

// VisualSampleEntry holds parsed fields from a visual sample entry (e.g. avc1).
type VisualSampleEntry struct {
	Width          uint16
	Height         uint16
	FrameCount     uint16
	CompressorName string
	Depth          uint16
}

// visualEntrySize is the size of the fixed visual sample entry fields;
// child boxes (e.g. avcC) follow.
const visualEntrySize = 78

// ReadVisualSampleEntry parses a visual sample entry from box data.
func ReadVisualSampleEntry(data []byte) (VisualSampleEntry, error) {
	if len(data) < visualEntrySize {
		return VisualSampleEntry{}, ErrShortBox
	}
	nameLen := min(int(data[42]), 31)
	return VisualSampleEntry{
		Width:          be.Uint16(data[24:26]),
		Height:         be.Uint16(data[26:28]),
		FrameCount:     be.Uint16(data[40:42]),
		CompressorName: string(data[43 : 43+nameLen]),
		Depth:          be.Uint16(data[74:76]),
	}, nil
}

// AudioSampleEntry holds parsed fields from an audio sample entry (e.g. mp4a).
type AudioSampleEntry struct {
	ChannelCount uint16
	SampleSize   uint16
	SampleRate   uint32 // 16.16 fixed point
}

// audioEntrySize is the size of the fixed audio sample entry fields;
// child boxes (e.g. esds) follow.
const audioEntrySize = 28

// ReadAudioSampleEntry parses an audio sample entry from box data.
func ReadAudioSampleEntry(data []byte) (AudioSampleEntry, error) {
	if len(data) < audioEntrySize {
		return AudioSampleEntry{}, ErrShortBox
	}
	return AudioSampleEntry{
		ChannelCount: be.Uint16(data[16:18]),
		SampleSize:   be.Uint16(data[18:20]),
		SampleRate:   be.Uint32(data[24:28]),
	}, nil
}

// ReadAvcC extracts the profile, compatibility and level bytes from avcC
// box data as 6 hex digits, like "64001f".
func ReadAvcC(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	var buf [6]byte
	for i, b := range data[1:4] {
		buf[2*i] = hexDigit(b >> 4)
		buf[2*i+1] = hexDigit(b & 0x0f)
	}
	return string(buf[:])
}

const hexChars = "0123456789abcdef"

// hexDigit returns the lowercase hex character for a 4-bit nibble.
func hexDigit(b byte) byte {
	return hexChars[b&0x0f]
}
