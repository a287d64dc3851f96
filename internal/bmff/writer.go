package bmff

// Writer encodes boxes into a growing byte buffer.
type Writer struct {
	buf   []byte
	stack [maxDepth]int // start offsets of the open boxes
	depth int
}

// NewWriter creates a Writer appending to buf.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf[:0]}
}

// Bytes returns the written data.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written.
func (w *Writer) Len() int { return len(w.buf) }

// Write appends raw bytes. Implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *Writer) putUint8(v byte)    { w.buf = append(w.buf, v) }
func (w *Writer) putUint16(v uint16) { w.buf = be.AppendUint16(w.buf, v) }
func (w *Writer) putUint32(v uint32) { w.buf = be.AppendUint32(w.buf, v) }
func (w *Writer) putUint64(v uint64) { w.buf = be.AppendUint64(w.buf, v) }
func (w *Writer) putZeros(n int)     { w.buf = append(w.buf, make([]byte, n)...) }
func (w *Writer) putBytes(p []byte)  { w.buf = append(w.buf, p...) }

// putFixedString writes a fixed-length string field with null padding.
func (w *Writer) putFixedString(s string, length int) {
	n := min(len(s), length)
	w.buf = append(w.buf, s[:n]...)
	w.putZeros(length - n)
}

// StartBox begins a new box. Write content, then call EndBox.
func (w *Writer) StartBox(t BoxType) {
	w.stack[w.depth] = len(w.buf)
	w.depth++
	w.putUint32(0) // placeholder size
	w.putBytes(t[:])
}

// StartFullBox begins a new full box with version and flags.
func (w *Writer) StartFullBox(t BoxType, version uint8, flags uint32) {
	w.StartBox(t)
	w.putUint32(uint32(version)<<24 | flags&0x00ffffff)
}

// EndBox finishes the current box by backpatching its size.
func (w *Writer) EndBox() {
	w.depth--
	start := w.stack[w.depth]
	be.PutUint32(w.buf[start:], uint32(len(w.buf)-start))
}

// WriteBox writes a complete box holding payload.
func (w *Writer) WriteBox(t BoxType, payload []byte) {
	w.StartBox(t)
	w.putBytes(payload)
	w.EndBox()
}

// WriteLargeBox writes a box with a 64-bit size field.
func (w *Writer) WriteLargeBox(t BoxType, payload []byte) {
	w.putUint32(1)
	w.putBytes(t[:])
	w.putUint64(uint64(16 + len(payload)))
	w.putBytes(payload)
}

// WriteFtyp writes a complete ftyp box.
func (w *Writer) WriteFtyp(brand string, brandVersion uint32, compat ...string) {
	w.StartBox(TypeFtyp)
	w.putFixedString(brand, 4)
	w.putUint32(brandVersion)
	for _, c := range compat {
		w.putFixedString(c, 4)
	}
	w.EndBox()
}

// WriteMvhd writes a complete mvhd box. Version 1 is used when the
// duration does not fit 32 bits.
func (w *Writer) WriteMvhd(m Mvhd) {
	if m.Duration > uint32Max {
		w.StartFullBox(TypeMvhd, 1, 0)
		w.putUint64(m.CreationTime)
		w.putUint64(m.ModificationTime)
		w.putUint32(m.Timescale)
		w.putUint64(m.Duration)
	} else {
		w.StartFullBox(TypeMvhd, 0, 0)
		w.putUint32(uint32(m.CreationTime))
		w.putUint32(uint32(m.ModificationTime))
		w.putUint32(m.Timescale)
		w.putUint32(uint32(m.Duration))
	}
	w.putUint32(m.Rate)
	w.putUint16(m.Volume)
	w.putZeros(10) // reserved
	w.putMatrix()
	w.putZeros(24) // predefined
	w.putUint32(m.NextTrackID)
	w.EndBox()
}

// putMatrix writes the identity transformation matrix.
func (w *Writer) putMatrix() {
	w.putUint32(0x00010000)
	w.putZeros(12)
	w.putUint32(0x00010000)
	w.putZeros(12)
	w.putUint32(0x40000000)
}

// WriteTkhd writes a complete tkhd box. Width and height are in pixels.
func (w *Writer) WriteTkhd(trackID uint32, duration uint64, width, height uint32) {
	const enabled = 1
	if duration > uint32Max {
		w.StartFullBox(TypeTkhd, 1, enabled)
		w.putZeros(16) // creation and modification time
		w.putUint32(trackID)
		w.putUint32(0) // reserved
		w.putUint64(duration)
	} else {
		w.StartFullBox(TypeTkhd, 0, enabled)
		w.putZeros(8)
		w.putUint32(trackID)
		w.putUint32(0)
		w.putUint32(uint32(duration))
	}
	w.putZeros(8)  // reserved
	w.putUint16(0) // layer
	w.putUint16(0) // alternate group
	w.putUint16(0) // volume
	w.putUint16(0) // reserved
	w.putMatrix()
	w.putUint32(width << 16)
	w.putUint32(height << 16)
	w.EndBox()
}

// WriteMdhd writes a complete mdhd box. language is an ISO-639-2/T code.
func (w *Writer) WriteMdhd(timescale uint32, duration uint64, language string) {
	var lang uint16
	if len(language) == 3 {
		lang = uint16(language[0]-0x60)<<10 | uint16(language[1]-0x60)<<5 | uint16(language[2]-0x60)
	}
	w.StartFullBox(TypeMdhd, 0, 0)
	w.putZeros(8)
	w.putUint32(timescale)
	w.putUint32(uint32(duration))
	w.putUint16(lang)
	w.putUint16(0) // quality
	w.EndBox()
}

// WriteHdlr writes a complete hdlr box.
func (w *Writer) WriteHdlr(handler, name string) {
	w.StartFullBox(TypeHdlr, 0, 0)
	w.putUint32(0) // predefined
	w.putFixedString(handler, 4)
	w.putZeros(12) // reserved
	w.putBytes([]byte(name))
	w.putUint8(0)
	w.EndBox()
}

// WriteVmhd writes a complete vmhd box.
func (w *Writer) WriteVmhd() {
	w.StartFullBox(TypeVmhd, 0, 1)
	w.putZeros(8) // graphicsmode + opcolor
	w.EndBox()
}

// WriteSmhd writes a complete smhd box.
func (w *Writer) WriteSmhd() {
	w.StartFullBox(TypeSmhd, 0, 0)
	w.putZeros(4) // balance + reserved
	w.EndBox()
}

// WriteDinf writes a dinf box holding a dref with a single self-reference.
func (w *Writer) WriteDinf() {
	w.StartBox(TypeDinf)
	w.StartFullBox(TypeDref, 0, 0)
	w.putUint32(1)
	w.StartFullBox(TypeURL, 0, 1)
	w.EndBox()
	w.EndBox()
	w.EndBox()
}

// StartStsd begins an stsd box announcing count sample entries.
func (w *Writer) StartStsd(count uint32) {
	w.StartFullBox(TypeStsd, 0, 0)
	w.putUint32(count)
}

// StartVisualSampleEntry begins a visual sample entry box. Children such
// as avcC follow; EndBox closes it.
func (w *Writer) StartVisualSampleEntry(t BoxType, width, height uint16, compressor string) {
	w.StartBox(t)
	w.putZeros(6)           // reserved
	w.putUint16(1)          // data reference index
	w.putZeros(16)          // predefined + reserved
	w.putUint16(width)      // width
	w.putUint16(height)     // height
	w.putUint32(0x00480000) // hresolution 72 dpi
	w.putUint32(0x00480000) // vresolution 72 dpi
	w.putZeros(4)           // reserved
	w.putUint16(1)          // frame count
	w.putUint8(byte(min(len(compressor), 31)))
	w.putFixedString(compressor, 31)
	w.putUint16(0x0018) // depth
	w.putUint16(0xffff) // predefined = -1
}

// StartAudioSampleEntry begins an audio sample entry box. Children such
// as esds follow; EndBox closes it.
func (w *Writer) StartAudioSampleEntry(t BoxType, channels, sampleSize uint16, sampleRate uint32) {
	w.StartBox(t)
	w.putZeros(6)  // reserved
	w.putUint16(1) // data reference index
	w.putZeros(8)  // reserved
	w.putUint16(channels)
	w.putUint16(sampleSize)
	w.putZeros(4) // predefined + reserved
	w.putUint32(sampleRate << 16)
}

// WriteAvcC writes an avcC box with no parameter sets.
func (w *Writer) WriteAvcC(profile, compat, level byte) {
	w.StartBox(TypeAvcC)
	w.putBytes([]byte{1, profile, compat, level, 0xff, 0xe0, 0})
	w.EndBox()
}

// WriteEsds writes an esds box for the given object type indication and
// audio object type.
func (w *Writer) WriteEsds(oti, audioObjectType byte) {
	w.StartFullBox(TypeEsds, 0, 0)
	w.putBytes([]byte{0x03, 25, 0, 1, 0})   // ES_Descriptor, ES_ID 1, no flags
	w.putBytes([]byte{0x04, 17, oti, 0x15}) // DecoderConfigDescriptor, audio stream
	w.putZeros(11)                          // buffer size, max and avg bitrate
	w.putBytes([]byte{0x05, 2, audioObjectType << 3, 0x10})
	w.putBytes([]byte{0x06, 1, 2}) // SLConfigDescriptor
	w.EndBox()
}

// WriteStsz writes a complete stsz box.
func (w *Writer) WriteStsz(sampleSize uint32, entries []uint32) {
	w.StartFullBox(TypeStsz, 0, 0)
	w.putUint32(sampleSize)
	w.putUint32(uint32(len(entries)))
	if sampleSize == 0 {
		for _, e := range entries {
			w.putUint32(e)
		}
	}
	w.EndBox()
}

// WriteStco writes a complete stco box.
func (w *Writer) WriteStco(entries []uint32) {
	w.writeUint32Table(TypeStco, entries)
}

// WriteStss writes a complete stss box.
func (w *Writer) WriteStss(entries []uint32) {
	w.writeUint32Table(TypeStss, entries)
}

func (w *Writer) writeUint32Table(t BoxType, entries []uint32) {
	w.StartFullBox(t, 0, 0)
	w.putUint32(uint32(len(entries)))
	for _, e := range entries {
		w.putUint32(e)
	}
	w.EndBox()
}

// WriteCo64 writes a complete co64 box.
func (w *Writer) WriteCo64(entries []uint64) {
	w.StartFullBox(TypeCo64, 0, 0)
	w.putUint32(uint32(len(entries)))
	for _, e := range entries {
		w.putUint64(e)
	}
	w.EndBox()
}
