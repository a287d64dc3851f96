package formats

import (
	"bytes"
	"errors"

	"github.com/tetsuo/carve"
)

// JPEG decodes JPEG/JFIF/Exif images marker by marker.
type JPEG struct{}

var jpegPattern = carve.Literal("\xff\xd8\xff")

func (JPEG) Signature() (*carve.Pattern, carve.ScanOptions) {
	return jpegPattern, carve.ScanOptions{}
}

// Markers.
const (
	jpegSOI  = 0xd8
	jpegEOI  = 0xd9
	jpegSOS  = 0xda
	jpegDQT  = 0xdb
	jpegDHT  = 0xc4
	jpegJPG  = 0xc8
	jpegDAC  = 0xcc
	jpegAPP0 = 0xe0
	jpegAPP1 = 0xe1
)

// jpegSOF reports whether m starts a frame.
func jpegSOF(m byte) bool {
	return m >= 0xc0 && m <= 0xcf && m != jpegDHT && m != jpegJPG && m != jpegDAC
}

// jpegState tracks what the markers seen so far defined.
type jpegState struct {
	quantTables map[byte]bool
	sof, sos    bool
}

func (JPEG) Decode(c *carve.Context, off int64) (int64, error) {
	st := jpegState{quantTables: map[byte]bool{}}
	segments := 0
	cursor := off + 2
	for {
		marker, err := c.Bytes(cursor, 2)
		if err != nil {
			return 0, err
		}
		if marker[0] != 0xff {
			return 0, c.Invalid(cursor, "expected a marker, got %#x", marker[0])
		}
		m := marker[1]
		if m < 0xc0 {
			return 0, c.Invalid(cursor, "invalid marker %#x", m)
		}
		segments++

		if m == jpegSOI || m == jpegEOI {
			cursor += 2
			if err := c.Progress(cursor); err != nil {
				return 0, err
			}
			if m == jpegEOI {
				break
			}
			continue
		}

		size16, err := c.U16(cursor+2, be)
		if err != nil {
			return 0, err
		}
		size := int64(size16)
		if err := st.segment(c, m, cursor, size); err != nil {
			return 0, err
		}

		if m == jpegSOS {
			c.Relevant("jpg", "thm")
			if cursor, err = jpegEntropy(c, cursor+2+size); err != nil {
				return 0, err
			}
		} else {
			cursor += 2 + size
		}
		if err := c.Progress(cursor); err != nil {
			return 0, err
		}
	}
	c.Meta("nbr_segments", segments)
	return cursor, nil
}

// segment validates the marker segment at cursor; size counts the length
// field and the payload.
func (st *jpegState) segment(c *carve.Context, m byte, cursor, size int64) error {
	end := cursor + 2 + size
	switch {
	case m == jpegAPP0:
		return jpegAPP0Segment(c, cursor, size)

	case m == jpegAPP1:
		if !c.Equal(cursor+4, "Exif\x00\x00") {
			return nil
		}
		tiff := c.Nested(cursor+10, end)
		tiffEnd, err := decodeTIFF(tiff, cursor+10, true)
		switch {
		case errors.Is(err, carve.ErrCancelled):
			return err
		case err != nil:
			return c.Invalid(cursor, "invalid Exif TIFF data: %v", err)
		case tiffEnd > tiff.End:
			return c.Invalid(cursor, "Exif TIFF data ends at %d past its segment end %d", tiffEnd, tiff.End)
		}
		c.Meta("exif_metadata", tiff.Metadata())
		c.Relevant("jpg", "thm")

	case jpegSOF(m):
		if st.sof {
			return c.Invalid(cursor, "several frames")
		}
		if st.sos {
			return c.Invalid(cursor, "frame after scan")
		}
		st.sof = true
		r := c.AtBE(cursor + 4)
		precision := r.U8()
		height, width := r.U16(), r.U16()
		ncomp := r.U8()
		comps := r.Bytes(3 * int64(ncomp))
		if err := r.Err(); err != nil {
			return err
		}
		if precision != 8 && precision != 12 {
			return c.Invalid(cursor, "invalid sample precision %d", precision)
		}
		c.Meta("image_height", height)
		c.Meta("image_width", width)
		if ncomp == 0 {
			return c.Invalid(cursor, "no component")
		}
		for i := 0; i < len(comps); i += 3 {
			sampling := comps[i+1]
			if sampling>>4 == 0 || sampling&0x0f == 0 {
				return c.Invalid(cursor, "invalid sampling factors %#x", sampling)
			}
			if !st.quantTables[comps[i+2]] {
				return c.Invalid(cursor, "undefined quantization table %d", comps[i+2])
			}
		}

	case m == jpegDHT:
		for at := cursor + 4; at < end; {
			table, err := c.Bytes(at, 17)
			if err != nil {
				return err
			}
			if table[0]>>4 > 1 {
				return c.Invalid(at, "unknown Huffman table class %d", table[0]>>4)
			}
			n := int64(0)
			for _, count := range table[1:] {
				n += int64(count)
			}
			at += 17 + n
			if at > end {
				return c.Invalid(at, "Huffman table ends past its segment end %d", end)
			}
		}

	case m == jpegSOS:
		if len(st.quantTables) == 0 {
			return c.Invalid(cursor, "scan without quantization table")
		}
		if !st.sof {
			return c.Invalid(cursor, "scan without frame")
		}
		st.sos = true
		ncomp, err := c.U8(cursor + 4)
		if err != nil {
			return err
		}
		if ncomp == 0 {
			return c.Invalid(cursor, "scan without component")
		}

	case m == jpegDQT:
		for at := cursor + 4; at < end; {
			b, err := c.U8(at)
			if err != nil {
				return err
			}
			id := b & 0x0f
			if st.quantTables[id] {
				return c.Invalid(at, "quantization table %d defined twice", id)
			}
			st.quantTables[id] = true
			if b>>4 == 0 {
				at += 1 + 64
			} else {
				at += 1 + 128
			}
			if at > end {
				return c.Invalid(at, "quantization table ends past its segment end %d", end)
			}
		}

	default:
		c.Logger().Trace().Int64("offset", cursor).Uint8("marker", m).Msg("Skipping marker")
	}
	return nil
}

func jpegAPP0Segment(c *carve.Context, cursor, size int64) error {
	switch {
	case c.Equal(cursor+4, "JFIF\x00"):
		if size < 16 {
			return c.Invalid(cursor, "JFIF segment too small: %d", size)
		}
		r := c.AtBE(cursor + 9)
		major, minor, units := r.U8(), r.U8(), r.U8()
		width, height := r.U16(), r.U16()
		if err := r.Err(); err != nil {
			return err
		}
		switch {
		case units > 2:
			return c.Invalid(cursor, "invalid density units %d", units)
		case width == 0 || height == 0:
			return c.Invalid(cursor, "invalid density %dx%d", width, height)
		}
		jfif := map[string]any{
			"version_major": major,
			"version_minor": minor,
			"units":         units,
			"width":         width,
			"height":        height,
		}
		if size > 16 {
			tw, th := r.U8(), r.U8()
			if err := r.Err(); err != nil {
				return err
			}
			jfif["width_thumb"], jfif["height_thumb"] = tw, th
		}
		c.Meta("jfif_metadata", jfif)

	case c.Equal(cursor+4, "JFXX\x00"):
		code, err := c.U8(cursor + 9)
		if err != nil {
			return err
		}
		switch code {
		case 0x10, 0x11, 0x13:
		default:
			return c.Invalid(cursor, "invalid JFXX extension code %#x", code)
		}
		c.Meta("jfxx_metadata", map[string]any{"extension_code": code})
	}
	return nil
}

// jpegEntropy skips entropy-coded data from cursor and returns the offset
// of the next marker: FF followed by anything but 00, FF and RSTn.
func jpegEntropy(c *carve.Context, cursor int64) (int64, error) {
	data, err := c.Bytes(cursor, max(c.End-cursor, 0))
	if err != nil {
		return 0, err
	}
	for i := 0; ; {
		j := bytes.IndexByte(data[i:], 0xff)
		if j < 0 || i+j+1 >= len(data) {
			return 0, c.Truncated(c.End, "entropy coded data runs to the end")
		}
		i += j + 1
		switch b := data[i]; {
		case b == 0x00, b == 0xff, b >= 0xd0 && b <= 0xd7:
			continue
		}
		return cursor + int64(i) - 1, nil
	}
}
