package formats_test

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/tetsuo/carve/internal/bmff"
)

// Byte builders for the smallest valid files of every format.

var (
	le = binary.LittleEndian
	be = binary.BigEndian
)

func cat(parts ...[]byte) []byte { return bytes.Join(parts, nil) }

func zeros(n int) []byte { return make([]byte, n) }

func fill(b byte, n int) []byte { return bytes.Repeat([]byte{b}, n) }

func str(s string) []byte { return []byte(s) }

func u16le(v uint16) []byte { return binary.LittleEndian.AppendUint16(nil, v) }
func u32le(v uint32) []byte { return binary.LittleEndian.AppendUint32(nil, v) }
func u64le(v uint64) []byte { return binary.LittleEndian.AppendUint64(nil, v) }
func u16be(v uint16) []byte { return binary.BigEndian.AppendUint16(nil, v) }
func u32be(v uint32) []byte { return binary.BigEndian.AppendUint32(nil, v) }

// padded returns s NUL-padded to n bytes.
func padded(s string, n int) []byte { return append([]byte(s), zeros(n-len(s))...) }

func wavFile() []byte {
	return cat(
		str("RIFF"), u32le(40), str("WAVE"),
		str("fmt "), u32le(16), u16le(1), u16le(2), u32le(44100), u32le(176400), u16le(4), u16le(16),
		str("data"), u32le(4), []byte{1, 2, 3, 4},
	)
}

// EBML header declaring a matroska document.
func ebmlHeader() []byte {
	return cat([]byte{0x1a, 0x45, 0xdf, 0xa3, 0x8f, 0x42, 0x86, 0x81, 0x01, 0x42, 0x82, 0x88}, str("matroska"))
}

// Info element with a timecode scale of 1ms and a muxing app.
func ebmlInfo() []byte {
	return cat([]byte{0x15, 0x49, 0xa9, 0x66, 0x8e, 0x2a, 0xd7, 0xb1, 0x83, 0x0f, 0x42, 0x40, 0x4d, 0x80, 0x84}, str("test"))
}

func mkvFile() []byte {
	return cat(ebmlHeader(), []byte{0x18, 0x53, 0x80, 0x67, 0x93}, ebmlInfo())
}

// mkvLive has a segment and a cluster of unknown size.
func mkvLive() []byte {
	return cat(
		ebmlHeader(),
		[]byte{0x18, 0x53, 0x80, 0x67, 0xff},
		ebmlInfo(),
		[]byte{0x1f, 0x43, 0xb6, 0x75, 0xff},
		[]byte{0xe7, 0x81, 0x00},
		[]byte{0xa3, 0x84, 0x01, 0x02, 0x03, 0x04},
	)
}

func writeTrak(w *bmff.Writer) {
	w.StartBox(bmff.TypeTrak)
	w.WriteTkhd(1, 3000, 320, 240)
	w.StartBox(bmff.TypeMdia)
	w.WriteMdhd(1000, 3000, "eng")
	w.WriteHdlr(bmff.HandlerVideo, "VideoHandler")
	w.StartBox(bmff.TypeMinf)
	w.WriteVmhd()
	w.WriteDinf()
	w.StartBox(bmff.TypeStbl)
	w.StartStsd(1)
	w.StartVisualSampleEntry(bmff.TypeAvc1, 320, 240, "test")
	w.WriteAvcC(0x64, 0x00, 0x1f)
	w.EndBox()
	w.EndBox()
	w.WriteStsz(0, []uint32{100, 200, 300})
	w.WriteStco([]uint32{48})
	w.WriteStss([]uint32{1})
	w.EndBox()
	w.EndBox()
	w.EndBox()
	w.EndBox()
}

func mp4File() []byte {
	w := bmff.NewWriter(nil)
	w.WriteFtyp("isom", 512, "isom", "avc1")
	w.StartBox(bmff.TypeMoov)
	w.WriteMvhd(bmff.Mvhd{Timescale: 1000, Duration: 3000, Rate: 0x10000, Volume: 0x100, NextTrackID: 2})
	writeTrak(w)
	w.EndBox()
	w.WriteBox(bmff.TypeMdat, str("frame data"))
	return w.Bytes()
}

func oggPage(typ byte, serial, seq uint32, payload []byte) []byte {
	return cat(
		str("OggS\x00"), []byte{typ}, zeros(8), u32le(serial), u32le(seq), zeros(4),
		[]byte{1, byte(len(payload))}, payload,
	)
}

func oggFile() []byte {
	return cat(
		oggPage(2, 1, 0, cat(str("\x01vorbis"), fill(0x20, 23))),
		oggPage(0, 1, 1, fill(0x41, 10)),
		oggPage(4, 1, 2, fill(0x42, 5)),
	)
}

const (
	asfHeaderGUID = "\x30\x26\xb2\x75\x8e\x66\xcf\x11\xa6\xd9\x00\xaa\x00\x62\xce\x6c"
	asfDataGUID   = "\x36\x26\xb2\x75\x8e\x66\xcf\x11\xa6\xd9\x00\xaa\x00\x62\xce\x6c"
)

func asfFile() []byte {
	return cat(
		str(asfHeaderGUID), u64le(30), u32le(0), []byte{1, 2},
		str(asfDataGUID), u64le(50), fill(0x55, 26),
	)
}

func mpgFile() []byte {
	return cat(str("\x00\x00\x01\xba\x21\x00\x01\x00\x01\x80"), str("video payload"), str("\x00\x00\x01\xb7\x00\x00\x01\xb9"))
}

func m2vFile() []byte {
	return cat(str("\x00\x00\x01\xba\x44\x00\x04\x00\x14\x01"), str("video payload"), str("\x00\x00\x01\xb9"))
}

// flacStream returns a 44.1 kHz 16-bit stream made of a STREAMINFO block
// and frames.
func flacStream(channels byte, totalSamples uint32, frames ...[]byte) []byte {
	info := cat(
		u16be(4096), u16be(4096), zeros(3), zeros(3),
		[]byte{0x0a, 0xc4, 0x40 | (channels-1)<<1, 0xf0}, u32be(totalSamples), zeros(16),
	)
	return cat(str("fLaC"), []byte{0x80, 0x00, 0x00, 0x22}, info, cat(frames...))
}

// flacFile is a mono 16-bit stream of two 16-sample frames: one CONSTANT
// subframe, then one FIXED subframe with Rice coded residuals.
func flacFile() []byte {
	constant := []byte{0xff, 0xf8, 0x60, 0x08, 0x00, 0x0f, 0xaa, 0x00, 0x12, 0x34, 0xbb, 0xcc}
	fixed := []byte{0xff, 0xf8, 0x60, 0x08, 0x01, 0x0f, 0xaa, 0x12, 0x00, 0x00, 0x00, 0x3f, 0xff, 0x80, 0xbb, 0xcc}
	return flacStream(1, 32, constant, fixed)
}

// bitWriter packs values most significant bit first.
type bitWriter struct {
	buf []byte
	n   int
}

func (w *bitWriter) write(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		if w.n%8 == 0 {
			w.buf = append(w.buf, 0)
		}
		if v>>uint(i)&1 != 0 {
			w.buf[len(w.buf)-1] |= 0x80 >> (w.n % 8)
		}
		w.n++
	}
}

// unary writes zeros 0 bits, then a 1 bit.
func (w *bitWriter) unary(zeros int) {
	w.write(0, zeros)
	w.write(1, 1)
}

// flacFrameOf returns a 16-bit frame of blockSize samples, at most 256,
// whose subframes are written by sub. CRCs are left zero.
func flacFrameOf(assignment byte, blockSize int, sub func(w *bitWriter)) []byte {
	w := &bitWriter{}
	sub(w)
	header := []byte{0xff, 0xf8, 0x60, assignment<<4 | 4<<1, 0x00, byte(blockSize - 1), 0x00}
	return cat(header, w.buf, zeros(2))
}

// mp3Frames returns n MPEG-1 layer 3 frames at 128 kbit/s and 44.1 kHz:
// 417 bytes and 26 ms each.
func mp3Frames(n int) []byte {
	return bytes.Repeat(cat([]byte{0xff, 0xfb, 0x90, 0x00}, zeros(413)), n)
}

func id3v2Tag() []byte {
	return cat(str("ID3\x03\x00\x00\x00\x00\x00\x10"), str("TIT2"), u32be(6), zeros(2), str("\x00Title"))
}

func id3v1Tag() []byte {
	return cat(str("TAG"), padded("Song", 30), padded("Artist", 30), padded("", 30), str("2024"), padded("", 30), []byte{17})
}

func mp3File() []byte {
	return cat(id3v2Tag(), mp3Frames(40), id3v1Tag())
}

func bmpFile() []byte {
	return cat(
		str("BM"), u32le(70), zeros(4), u32le(54),
		u32le(40), u32le(2), u32le(2), u16le(1), u16le(24), u32le(0), u32le(16),
		u32le(2835), u32le(2835), u32le(0), u32le(0),
		fill(0x7f, 16),
	)
}

func icoFile(kind uint16) []byte {
	return cat(
		zeros(2), u16le(kind), u16le(1),
		[]byte{16, 16, 0, 0}, u16le(1), u16le(32), u32le(40), u32le(22),
		fill(0x33, 40),
	)
}

func jpegSegments() (head, tail []byte) {
	jfif := cat([]byte{0xff, 0xe0, 0x00, 0x10}, str("JFIF\x00"), []byte{1, 1, 1, 0, 72, 0, 72, 0, 0})
	dqt := cat([]byte{0xff, 0xdb, 0x00, 0x43, 0x00}, fill(1, 64))
	sof := []byte{0xff, 0xc0, 0x00, 0x0b, 8, 0x00, 0x01, 0x00, 0x01, 1, 1, 0x11, 0}
	dht := cat([]byte{0xff, 0xc4, 0x00, 0x14, 0x00, 1}, zeros(15), []byte{0})
	sos := []byte{0xff, 0xda, 0x00, 0x08, 1, 1, 0x00, 0, 63, 0}
	entropy := []byte{0x12, 0x34, 0xff, 0x00, 0x56}
	return cat([]byte{0xff, 0xd8}, jfif), cat(dqt, sof, dht, sos, entropy, []byte{0xff, 0xd9})
}

// jpegFile returns a 1x1 greyscale baseline JPEG, with the extra segments
// after its JFIF one.
func jpegFile(extra ...[]byte) []byte {
	head, tail := jpegSegments()
	return cat(head, cat(extra...), tail)
}

// exifSegment is an APP1 segment whose TIFF data only names the camera.
func exifSegment() []byte {
	tiff := cat(str("II*\x00"), u32le(8), u16le(1), u16le(271), u16le(2), u32le(4), str("Cam\x00"), u32le(0))
	return cat([]byte{0xff, 0xe1, 0x00, 0x22}, str("Exif\x00\x00"), tiff)
}

// tiffFile returns a 4x2 8-bit greyscale TIFF in one strip.
func tiffFile(order binary.AppendByteOrder) []byte {
	u16 := func(v uint16) []byte { return order.AppendUint16(nil, v) }
	u32 := func(v uint32) []byte { return order.AppendUint32(nil, v) }
	entry := func(tag, typ uint16, value uint32) []byte {
		if typ == 3 {
			return cat(u16(tag), u16(typ), u32(1), u16(uint16(value)), zeros(2))
		}
		return cat(u16(tag), u16(typ), u32(1), u32(value))
	}
	magic := str("II*\x00")
	if order == binary.BigEndian {
		magic = str("MM\x00*")
	}
	return cat(
		magic, u32(8), u16(5),
		entry(256, 4, 4), entry(257, 4, 2), entry(258, 3, 8), entry(273, 4, 74), entry(279, 4, 8),
		u32(0), fill(0x55, 8),
	)
}

// cabFile holds one 5-byte file stored in one folder of one data block.
func cabFile() []byte {
	return cat(
		str("MSCF"), zeros(4), u32le(79), zeros(4), u32le(44), zeros(4),
		[]byte{3, 1}, u16le(1), u16le(1), u16le(0), u16le(0x1234), u16le(0),
		u32le(66), u16le(1), u16le(0),
		u32le(5), u32le(0), u16le(0), u16le(0x5a21), u16le(0x6000), u16le(0x20), str("a.txt\x00"),
		u32le(0), u16le(5), u16le(5), str("hello"),
	)
}

// cfbfFile returns a compound file of three 512-byte sectors: the
// allocation table, then a two-sector chain holding a Word token.
func cfbfFile() []byte {
	header := cat(
		str("\xd0\xcf\x11\xe0\xa1\xb1\x1a\xe1"), zeros(16),
		u16le(0x3e), u16le(3), []byte{0xfe, 0xff}, u16le(9), u16le(6), zeros(6),
		u32le(0), u32le(1), u32le(1), u32le(0), u32le(4096),
		u32le(0xfffffffe), u32le(0), u32le(0xfffffffe), u32le(0),
		u32le(0), fill(0xff, 432),
	)
	sat := cat(u32le(0xfffffffd), u32le(2), u32le(0xfffffffe), fill(0xff, 500))
	return cat(header, sat, zeros(512), padded("MSWordDoc", 512))
}

func dosStub() []byte { return cat(str("MZ"), zeros(58), u32le(64)) }

// peFile returns a 32-bit Windows GUI executable with one .text section.
func peFile() []byte {
	coff := cat(str("PE\x00\x00"), u16le(0x014c), u16le(1), u32le(0), u32le(0), u32le(0), u16le(224), u16le(0x0102))
	opt := cat(
		u16le(0x10b), []byte{14, 0}, zeros(24),
		u32le(0x400000), u32le(0x1000), u32le(512), u16le(4), u16le(0), zeros(8),
		u32le(0), u32le(0x2000), u32le(512), u32le(0), u16le(2), u16le(0), zeros(20),
		u32le(16), zeros(128),
	)
	section := cat(str(".text\x00\x00\x00"), u32le(0x100), u32le(0x1000), u32le(512), u32le(512), zeros(16))
	headers := cat(dosStub(), coff, opt, section)
	return cat(headers, zeros(512-len(headers)), fill(0x90, 512))
}

// neFile returns a 16-bit executable with no segment nor resource.
func neFile() []byte {
	header := cat(
		str("NE"), []byte{5, 10}, u16le(0x4d), u16le(2), u32le(0), u16le(0), zeros(14),
		u16le(0), u16le(0), u16le(0), u16le(0x40), u16le(0x40), u16le(0x44), u16le(0x4c), u16le(0x4c),
		u32le(0), u16le(0), u16le(4), zeros(12),
	)
	return cat(
		dosStub(), header,
		u16le(4), u16le(0), // resource table
		[]byte{4}, str("TEST"), u16le(0), []byte{0}, // resident names
		[]byte{0},    // imported names
		[]byte{0, 0}, // entry table
	)
}

func textFile() []byte {
	var b strings.Builder
	for i := 1; b.Len() < 600; i++ {
		fmt.Fprintf(&b, "This is line %d of a plain text file.\n", i)
	}
	return []byte(b.String())
}

func srtFile() []byte {
	var b strings.Builder
	for i := 1; b.Len() < 600; i++ {
		fmt.Fprintf(&b, "%d\r\n00:00:%02d,000 --> 00:00:%02d,500\r\nSubtitle number %d\r\n\r\n", i, i, i, i)
	}
	return []byte(b.String())
}

func rtfFile() []byte {
	var b strings.Builder
	b.WriteString("{\\rtf1\\ansi\\deff0\n")
	for i := 1; b.Len() < 600; i++ {
		fmt.Fprintf(&b, "\\par Paragraph %d of a rich text document.\n", i)
	}
	b.WriteString("}\n")
	return []byte(b.String())
}

func utf16le(b []byte) []byte {
	out := make([]byte, 0, 2*len(b))
	for _, c := range b {
		out = append(out, c, 0)
	}
	return out
}
