package formats

import (
	"math"
	"math/bits"

	"github.com/tetsuo/carve"
)

// EBML decodes Matroska and WebM files.
type EBML struct{}

var ebmlPattern = carve.Literal("\x1a\x45\xdf\xa3")

func (EBML) Signature() (*carve.Pattern, carve.ScanOptions) {
	return ebmlPattern, carve.ScanOptions{Step: 4}
}

const (
	ebmlVersionID     = 0x4286
	ebmlDocTypeID     = 0x4282
	ebmlDocTypeVerID  = 0x4287
	ebmlSegmentID     = 0x18538067
	ebmlInfoID        = 0x1549a966
	ebmlClusterID     = 0x1f43b675
	ebmlTimecodeScale = 0x2ad7b1
	ebmlDurationID    = 0x4489
	ebmlMuxingAppID   = 0x4d80
	ebmlWritingAppID  = 0x5741
	ebmlTitleID       = 0x7ba9
)

var ebmlDocTypes = map[string]string{
	"matroska": "mkv",
	"webm":     "webm",
}

// ebmlTopLevel lists the children of a Segment.
var ebmlTopLevel = map[uint32]bool{
	0x114d9b74: true, // SeekHead
	0x1549a966: true, // Info
	0x1654ae6b: true, // Tracks
	0x1f43b675: true, // Cluster
	0x1c53bb6b: true, // Cues
	0x1941a469: true, // Attachments
	0x1043a770: true, // Chapters
	0x1254c367: true, // Tags
	0xec:       true, // Void
	0xbf:       true, // CRC-32
}

// ebmlClusterChildren lists the children of a Cluster.
var ebmlClusterChildren = map[uint32]bool{
	0xe7:   true, // Timecode
	0x5854: true, // SilentTracks
	0xa7:   true, // Position
	0xab:   true, // PrevSize
	0xa3:   true, // SimpleBlock
	0xa0:   true, // BlockGroup
	0xaf:   true, // EncryptedBlock
	0xec:   true, // Void
	0xbf:   true, // CRC-32
}

// ebmlElement is an element header.
type ebmlElement struct {
	ID      uint32
	Offset  int64
	Data    int64
	Size    int64
	Unknown bool // the size has all its bits set: the element runs until its parent ends
}

func (e ebmlElement) End() int64 { return e.Data + e.Size }

// ebmlVint reads a variable size integer at off and returns its value and
// length. unknown reports the reserved all-ones value.
func ebmlVint(c *carve.Context, off int64) (v uint64, n int64, unknown bool, err error) {
	first, err := c.U8(off)
	if err != nil {
		return 0, 0, false, err
	}
	if first == 0 {
		return 0, 0, false, c.Invalid(off, "variable size integer longer than 8 bytes")
	}
	n = int64(bits.LeadingZeros8(first)) + 1
	b, err := c.Bytes(off, n)
	if err != nil {
		return 0, 0, false, err
	}
	v = uint64(first & (0xff >> n))
	for _, x := range b[1:] {
		v = v<<8 | uint64(x)
	}
	return v, n, v == 1<<(7*n)-1, nil
}

// ebmlID reads an element ID at off, marker bits included.
func ebmlID(c *carve.Context, off int64) (uint32, int64, error) {
	first, err := c.U8(off)
	if err != nil {
		return 0, 0, err
	}
	n := int64(bits.LeadingZeros8(first)) + 1
	if first == 0 || n > 4 {
		return 0, 0, c.Invalid(off, "invalid element ID %#x", first)
	}
	b, err := c.Bytes(off, n)
	if err != nil {
		return 0, 0, err
	}
	var id uint32
	for _, x := range b {
		id = id<<8 | uint32(x)
	}
	return id, n, nil
}

func ebmlReadElement(c *carve.Context, off int64) (ebmlElement, error) {
	id, n, err := ebmlID(c, off)
	if err != nil {
		return ebmlElement{}, err
	}
	size, m, unknown, err := ebmlVint(c, off+n)
	if err != nil {
		return ebmlElement{}, err
	}
	e := ebmlElement{ID: id, Offset: off, Data: off + n + m, Unknown: unknown}
	if !unknown {
		if size > math.MaxInt64/4 {
			return e, c.Invalid(off, "element %#x has invalid size %d", id, size)
		}
		e.Size = int64(size)
	}
	return e, nil
}

// ebmlUint decodes a big-endian unsigned element value.
func ebmlUint(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

func (EBML) Decode(c *carve.Context, off int64) (int64, error) {
	header, err := ebmlReadElement(c, off)
	if err != nil {
		return 0, err
	}
	if header.Unknown {
		return 0, c.Invalid(off, "EBML header without size")
	}
	cursor := header.Data
	if err := c.Progress(cursor); err != nil {
		return 0, err
	}

	var docType string
	for cursor < header.End() {
		e, err := ebmlReadElement(c, cursor)
		if err != nil {
			return 0, err
		}
		if e.Unknown {
			return 0, c.Invalid(cursor, "header element %#x without size", e.ID)
		}
		switch e.ID {
		case ebmlDocTypeID, ebmlVersionID, ebmlDocTypeVerID:
			b, err := c.Bytes(e.Data, e.Size)
			if err != nil {
				return 0, err
			}
			switch e.ID {
			case ebmlDocTypeID:
				docType = cString(b)
			case ebmlVersionID:
				c.Meta("ebml_version", ebmlUint(b))
			case ebmlDocTypeVerID:
				c.Meta("doc_type_version", ebmlUint(b))
			}
		}
		cursor = e.End()
		if err := c.Progress(cursor); err != nil {
			return 0, err
		}
	}
	if docType == "" {
		return 0, c.Invalid(off, "missing DocType")
	}
	ext, ok := ebmlDocTypes[docType]
	if !ok {
		return 0, c.Invalid(off, "unknown DocType %q", docType)
	}
	c.Meta("doc_type", docType)

	cursor = header.End()
	id, _, err := ebmlID(c, cursor)
	if err != nil {
		return 0, err
	}
	if id != ebmlSegmentID {
		return 0, c.Invalid(cursor, "expected Segment, got element %#x", id)
	}
	c.Relevant(ext)
	seg, err := ebmlReadElement(c, cursor)
	if err != nil {
		return 0, err
	}
	if seg.Unknown {
		return ebmlLive(c, seg.Data)
	}
	ebmlSegmentInfo(c, seg.Data, min(seg.End(), c.End))
	if err := c.Progress(seg.End()); err != nil {
		return 0, err
	}
	return seg.End(), nil
}

// ebmlLive walks the children of a Segment of unknown size, as written
// by live encoders. The segment ends at the first element that cannot be
// one of its children.
func ebmlLive(c *carve.Context, cursor int64) (int64, error) {
	for cursor < c.End {
		id, _, err := ebmlID(c, cursor)
		if err != nil || !ebmlTopLevel[id] {
			return cursor, nil
		}
		e, err := ebmlReadElement(c, cursor)
		if err != nil {
			return 0, err
		}
		switch {
		case e.Unknown && e.ID == ebmlClusterID:
			if cursor, err = ebmlCluster(c, e.Data); err != nil {
				return 0, err
			}
		case e.Unknown:
			return 0, c.NotSupported(cursor, "element %#x of unknown size", e.ID)
		default:
			if e.ID == ebmlInfoID && e.End() <= c.End {
				ebmlInfo(c, e)
			}
			cursor = e.End()
		}
		if err := c.Progress(cursor); err != nil {
			return 0, err
		}
	}
	return cursor, nil
}

// ebmlCluster skips the children of a Cluster of unknown size and returns
// where the next top-level element starts.
func ebmlCluster(c *carve.Context, cursor int64) (int64, error) {
	for cursor < c.End {
		id, _, err := ebmlID(c, cursor)
		if err != nil || !ebmlClusterChildren[id] {
			return cursor, nil
		}
		e, err := ebmlReadElement(c, cursor)
		if err != nil {
			return 0, err
		}
		if e.Unknown {
			return 0, c.NotSupported(cursor, "cluster child %#x of unknown size", e.ID)
		}
		cursor = e.End()
		if err := c.Progress(cursor); err != nil {
			return 0, err
		}
	}
	return cursor, nil
}

// ebmlSegmentInfo looks for the Info element among the children of a
// sized Segment. The children are not validated: the segment size alone
// delimits the file.
func ebmlSegmentInfo(c *carve.Context, cursor, end int64) {
	for cursor < end {
		e, err := ebmlReadElement(c, cursor)
		if err != nil || e.Unknown || e.End() > end {
			return
		}
		if e.ID == ebmlInfoID {
			ebmlInfo(c, e)
			return
		}
		cursor = e.End()
	}
}

// ebmlInfo records the fields of an Info element as metadata.
func ebmlInfo(c *carve.Context, info ebmlElement) {
	for cursor := info.Data; cursor < info.End(); {
		e, err := ebmlReadElement(c, cursor)
		if err != nil || e.Unknown || e.End() > info.End() {
			return
		}
		b, err := c.Bytes(e.Data, e.Size)
		if err != nil {
			return
		}
		switch e.ID {
		case ebmlTimecodeScale:
			c.Meta("timecode_scale", ebmlUint(b))
		case ebmlDurationID:
			switch len(b) {
			case 4:
				c.Meta("duration", float64(math.Float32frombits(be.Uint32(b))))
			case 8:
				c.Meta("duration", math.Float64frombits(be.Uint64(b)))
			}
		case ebmlMuxingAppID:
			c.Meta("muxing_app", cString(b))
		case ebmlWritingAppID:
			c.Meta("writing_app", cString(b))
		case ebmlTitleID:
			c.Meta("title", cString(b))
		}
		cursor = e.End()
	}
}
