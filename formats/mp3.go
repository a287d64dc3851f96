package formats

import (
	"errors"

	"github.com/tetsuo/carve"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// MP3 decodes MPEG audio streams along with the ID3 and APE tags around
// them.
type MP3 struct{}

var mp3Pattern = carve.MustCompile(`FF [E2-FF] [00-EF] | "ID3" | "APETAGEX"`)

func (MP3) Signature() (*carve.Pattern, carve.ScanOptions) {
	return mp3Pattern, carve.ScanOptions{ProbeSize: 8}
}

const (
	// mp3MinDuration is the audio length making a stream relevant. Frame
	// syncs are common in random data; a second of valid frames is not.
	mp3MinDuration = 1000

	// id3MaxValue bounds the length of ID3v2 values kept as metadata.
	id3MaxValue = 256
)

// mp3Bitrates gives kbit/s per bitrate index (1-14) and column: MPEG-1
// layers 1, 2 and 3, then MPEG-2/2.5 layer 1, then layers 2 and 3.
var mp3Bitrates = [14][5]int64{
	{32, 32, 32, 32, 8},
	{64, 48, 40, 48, 16},
	{96, 56, 48, 56, 24},
	{128, 64, 56, 64, 32},
	{160, 80, 64, 80, 40},
	{192, 96, 80, 96, 48},
	{224, 112, 96, 112, 56},
	{256, 128, 112, 128, 64},
	{288, 160, 128, 144, 80},
	{320, 192, 160, 160, 96},
	{352, 224, 192, 176, 112},
	{384, 256, 224, 192, 128},
	{416, 320, 256, 224, 144},
	{448, 384, 320, 256, 160},
}

// mp3SampleRates gives Hz per sample rate index and version (1, 2, 2.5).
var mp3SampleRates = [3][3]int64{
	{44100, 22050, 11025},
	{48000, 24000, 12000},
	{32000, 16000, 8000},
}

// Check rejects frame syncs whose header carries reserved values.
func (MP3) Check(c *carve.Context, off int64, alt int) bool {
	if alt != 0 {
		return true
	}
	b, err := c.Bytes(off, 4)
	if err != nil {
		return false
	}
	return b[1]&0x18 != 0x08 && b[1]&0x06 != 0 && b[2]&0x0c != 0x0c && b[3]&0x03 != 0x02
}

// mp3Frame is a decoded MPEG audio frame header.
type mp3Frame struct {
	size       int64
	durationMs int64
	bitrate    int64
	sampleRate int64
}

func mp3ReadFrame(c *carve.Context, off int64) (mp3Frame, error) {
	b, err := c.Bytes(off, 4)
	if err != nil {
		return mp3Frame{}, err
	}
	if b[0] != 0xff || b[1]&0xe0 != 0xe0 || b[2]&0xf0 == 0xf0 || b[2]&0x0c == 0x0c || b[3]&0x03 == 0x02 {
		return mp3Frame{}, c.Invalid(off, "invalid frame header %x", b)
	}
	if b[2]&0xf0 == 0 {
		return mp3Frame{}, c.Invalid(off, "free bitrate frame")
	}

	var version int
	switch (b[1] & 0x18) >> 3 {
	case 0:
		version = 3 // MPEG-2.5
	case 2:
		version = 2
	case 3:
		version = 1
	default:
		return mp3Frame{}, c.Invalid(off, "reserved version")
	}
	layer := 4 - int((b[1]&0x06)>>1)
	if layer == 4 {
		return mp3Frame{}, c.Invalid(off, "reserved layer")
	}
	column := 4
	switch {
	case version == 1:
		column = layer - 1
	case layer == 1:
		column = 3
	}
	f := mp3Frame{
		bitrate:    mp3Bitrates[b[2]>>4-1][column] * 1000,
		sampleRate: mp3SampleRates[(b[2]&0x0c)>>2][version-1],
	}
	padding := int64(b[2]&0x02) >> 1

	samples := int64(1152)
	switch {
	case layer == 1:
		samples = 384
	case layer == 3 && version != 1:
		samples = 576
	}
	if layer == 1 {
		f.size = (12*f.bitrate/f.sampleRate + padding) * 4
	} else {
		f.size = samples/8*f.bitrate/f.sampleRate + padding
	}
	f.durationMs = samples * 1000 / f.sampleRate
	return f, nil
}

func (MP3) Decode(c *carve.Context, off int64) (int64, error) {
	var (
		duration, frames int64
		first            mp3Frame
	)
	cursor := off
	for {
		var err error
		done := false
		switch {
		case c.Equal(cursor, "TAG+"):
			cursor, err = id3v1Extended(c, cursor)
		case c.Equal(cursor, "TAG"):
			cursor, err = id3v1(c, cursor)
			// ID3v1 closes the file
			done = true
		case c.Equal(cursor, "ID3"):
			cursor, err = id3v2(c, cursor)
		case c.Equal(cursor, "APETAGEX"):
			cursor, err = apeTag(c, cursor)
		default:
			if duration > 0 {
				// APEv1 tags have no header: try one before the next frame
				if end, ok, err := apeV1Tag(c, cursor); err != nil {
					return 0, err
				} else if ok {
					cursor = end
					break
				}
			}
			f, ferr := mp3ReadFrame(c, cursor)
			if ferr != nil {
				if duration >= mp3MinDuration && errors.Is(ferr, carve.ErrInvalid) {
					c.Logger().Trace().Int64("offset", cursor).Msg("End of frames")
					done = true
					break
				}
				return 0, ferr
			}
			if frames == 0 {
				first = f
			}
			frames++
			cursor += f.size
			duration += f.durationMs
			if duration >= mp3MinDuration && !c.IsRelevant() {
				c.Relevant("mp3")
			}
		}
		if err != nil {
			return 0, err
		}
		if duration >= mp3MinDuration && cursor == c.End {
			done = true
		}
		if err := c.Progress(cursor); err != nil {
			return 0, err
		}
		if done {
			break
		}
	}

	c.Metas(map[string]any{
		"duration_ms": duration,
		"nbr_frames":  frames,
		"bitrate":     first.bitrate,
		"sample_rate": first.sampleRate,
	})
	return cursor, nil
}

func id3v1(c *carve.Context, cursor int64) (int64, error) {
	b, err := c.Bytes(cursor, 128)
	if err != nil {
		return 0, err
	}
	c.Meta("id3v1_metadata", map[string]any{
		"title":    trimText(b[3:33]),
		"artist":   trimText(b[33:63]),
		"album":    trimText(b[63:93]),
		"year":     trimText(b[93:97]),
		"comments": trimText(b[97:127]),
		"genre":    b[127],
	})
	return cursor + 128, nil
}

func id3v1Extended(c *carve.Context, cursor int64) (int64, error) {
	b, err := c.Bytes(cursor, 227)
	if err != nil {
		return 0, err
	}
	c.Meta("id3v1e_metadata", map[string]any{
		"title":      trimText(b[4:64]),
		"artist":     trimText(b[64:124]),
		"album":      trimText(b[124:184]),
		"speed":      b[184],
		"genre":      trimText(b[185:215]),
		"start_time": trimText(b[215:221]),
		"end_time":   trimText(b[221:227]),
	})
	return cursor + 227, nil
}

// id3v2 skips an ID3v2 tag and records its frames.
func id3v2(c *carve.Context, cursor int64) (int64, error) {
	h, err := c.Bytes(cursor, 10)
	if err != nil {
		return 0, err
	}
	if h[3] == 0xff || h[4] == 0xff {
		return 0, c.Invalid(cursor, "invalid ID3v2 version %d.%d", h[3], h[4])
	}
	size := int64(10)
	for i, b := range h[6:10] {
		if b >= 0x80 {
			return 0, c.Invalid(cursor, "invalid ID3v2 size byte %d", i)
		}
		size += int64(b) << (7 * (3 - i))
	}
	if h[5]&0x10 != 0 {
		size += 10 // footer
	}
	end := cursor + size
	cursor += 10

	if ext, err := c.U32(cursor, be); err == nil && (ext == 6 || ext == 10) {
		r := c.AtBE(cursor + 4)
		flags, padding := r.U16(), r.U32()
		if err := r.Err(); err != nil {
			return 0, err
		}
		if flags&0x7fff != 0 {
			return 0, c.Invalid(cursor, "invalid ID3v2 extended header flags %#x", flags)
		}
		crc := flags&0x8000 != 0
		if crc != (ext == 10) {
			return 0, c.Invalid(cursor, "ID3v2 extended header of size %d with CRC flag %t", ext, crc)
		}
		c.Logger().Trace().Int64("offset", cursor).Uint32("padding", padding).Msg("ID3v2 extended header")
		cursor += 10
		if crc {
			cursor += 4
		}
	}

	frames := map[string]any{}
	for cursor < end {
		if b, err := c.U8(cursor); err != nil {
			return 0, err
		} else if b == 0 {
			break // padding
		}
		r := c.AtBE(cursor)
		id := r.String(4)
		fsize, flags := int64(r.U32()), r.U16()
		if err := r.Err(); err != nil {
			return 0, err
		}
		if flags&0x1f1f != 0 {
			return 0, c.Invalid(cursor, "invalid ID3v2 frame flags %#x", flags)
		}
		cursor += 10
		value, err := c.Bytes(cursor, min(fsize, id3MaxValue))
		if err != nil {
			return 0, err
		}
		if id[0] == 'T' {
			frames[id] = id3Text(value)
		} else {
			frames[id] = fsize
		}
		cursor += fsize
	}
	c.Meta("id3v2_metadata", frames)
	return end, nil
}

// id3Text decodes a text frame. Its first byte selects the encoding.
func id3Text(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var dec *encoding.Decoder
	switch b[0] {
	case 0:
		dec = charmap.ISO8859_1.NewDecoder()
	case 1:
		dec = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
	case 2:
		dec = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
	default:
		return trimText(b[1:])
	}
	s, err := dec.Bytes(b[1:])
	if err != nil {
		return trimText(b[1:])
	}
	return trimText(s)
}

// apeHeader is the header or footer of an APE tag.
type apeHeader struct {
	size      int64 // items and footer
	items     uint32
	hasHeader bool
	hasFooter bool
	isHeader  bool
}

func apeReadHeader(c *carve.Context, cursor int64) (apeHeader, error) {
	r := c.At(cursor + 12)
	size, items, flags, reserved := r.U32(), r.U32(), r.U32(), r.U64()
	if err := r.Err(); err != nil {
		return apeHeader{}, err
	}
	if flags&0x1ffffff8 != 0 {
		return apeHeader{}, c.Invalid(cursor, "invalid APE tag flags %#x", flags)
	}
	if reserved != 0 {
		return apeHeader{}, c.Invalid(cursor, "APE tag reserved bytes are not 0")
	}
	return apeHeader{
		size:      int64(size),
		items:     items,
		hasHeader: flags&(1<<31) != 0,
		hasFooter: flags&(1<<30) == 0,
		isHeader:  flags&(1<<29) != 0,
	}, nil
}

// apeItem reads the item at cursor and returns where the next one starts.
func apeItem(c *carve.Context, cursor int64, items map[string]any) (int64, error) {
	r := c.At(cursor)
	size, flags := int64(r.U32()), r.U32()
	if err := r.Err(); err != nil {
		return 0, err
	}
	if flags&0x1ffffff8 != 0 {
		return 0, c.Invalid(cursor, "invalid APE item flags %#x", flags)
	}
	nul := c.IndexBytes([]byte{0}, cursor+8)
	switch {
	case nul < 0:
		return 0, c.Truncated(c.End, "unterminated APE item key")
	case nul == cursor+8:
		return 0, c.Invalid(cursor, "empty APE item key")
	}
	key, err := c.Bytes(cursor+8, nul-cursor-8)
	if err != nil {
		return 0, err
	}
	value, err := c.Bytes(nul+1, size)
	if err != nil {
		return 0, err
	}
	if flags&0x06 == 0 {
		items[string(key)] = trimText(value)
	} else {
		items[string(key)] = size
	}
	return nul + 1 + size, nil
}

// apeTag skips an APEv2 tag starting with its header.
func apeTag(c *carve.Context, cursor int64) (int64, error) {
	h, err := apeReadHeader(c, cursor)
	if err != nil {
		return 0, err
	}
	if !h.hasHeader || !h.isHeader {
		return 0, c.Invalid(cursor, "APE tag header flags describe a footer")
	}
	cursor += 32
	expected := cursor + h.size
	if h.hasFooter {
		expected -= 32
	}
	items := map[string]any{}
	for range h.items {
		if cursor, err = apeItem(c, cursor, items); err != nil {
			return 0, err
		}
	}
	if cursor != expected {
		return 0, c.Invalid(cursor, "APE items end at %d, expected %d", cursor, expected)
	}
	c.Meta("apev2_metadata", items)
	if !h.hasFooter {
		return cursor, nil
	}
	if !c.Equal(cursor, "APETAGEX") {
		return 0, c.Invalid(cursor, "missing APE tag footer")
	}
	f, err := apeReadHeader(c, cursor)
	if err != nil {
		return 0, err
	}
	if !f.hasFooter || f.isHeader {
		return 0, c.Invalid(cursor, "APE tag footer flags describe a header")
	}
	return cursor + 32, nil
}

// apeV1Tag tries to read an APEv1 tag, made of items and a footer, at
// cursor. Only cancellation is returned as an error; any other failure
// means there is no tag.
func apeV1Tag(c *carve.Context, cursor int64) (int64, bool, error) {
	end, err := apeV1(c, cursor)
	switch {
	case errors.Is(err, carve.ErrCancelled):
		return 0, false, err
	case err != nil:
		return 0, false, nil
	}
	return end, true, nil
}

func apeV1(c *carve.Context, cursor int64) (int64, error) {
	items := map[string]any{}
	var n uint32
	for !c.Equal(cursor, "APETAGEX") {
		if err := c.KeepAlive(); err != nil {
			return 0, err
		}
		var err error
		if cursor, err = apeItem(c, cursor, items); err != nil {
			return 0, err
		}
		n++
	}
	f, err := apeReadHeader(c, cursor)
	if err != nil {
		return 0, err
	}
	switch {
	case !f.hasFooter || f.isHeader:
		return 0, c.Invalid(cursor, "APE tag footer flags describe a header")
	case f.items != n:
		return 0, c.Invalid(cursor, "APE tag footer counts %d items, read %d", f.items, n)
	}
	c.Logger().Trace().Int64("offset", cursor).Uint32("items", n).Msg("APEv1 tag")
	c.Meta("apev1_metadata", items)
	return cursor + 32, nil
}
