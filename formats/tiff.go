package formats

import (
	"encoding/binary"

	"github.com/tetsuo/carve"
)

// TIFF decodes TIFF images by following their IFD chain up to the end of
// the last strip or tile.
type TIFF struct{}

var tiffPattern = carve.Literal("II*\x00", "MM\x00*")

func (TIFF) Signature() (*carve.Pattern, carve.ScanOptions) {
	return tiffPattern, carve.ScanOptions{Step: 4, ProbeSize: 4}
}

func (TIFF) Decode(c *carve.Context, off int64) (int64, error) {
	return decodeTIFF(c, off, false)
}

// tiffTypeSizes gives the size of one value of each field type.
var tiffTypeSizes = map[uint16]int64{
	1:  1, // BYTE
	2:  1, // ASCII
	3:  2, // SHORT
	4:  4, // LONG
	5:  8, // RATIONAL
	6:  1, // SBYTE
	7:  1, // UNDEFINED
	8:  2, // SSHORT
	9:  4, // SLONG
	10: 8, // SRATIONAL
	11: 4, // FLOAT
	12: 8, // DOUBLE
	13: 4, // IFD
}

// tiffStrings maps ASCII tags to metadata keys.
var tiffStrings = map[uint16]string{
	269:   "document_name",
	270:   "image_description",
	271:   "make",
	272:   "model",
	285:   "page_name",
	305:   "software",
	306:   "date_time",
	315:   "artist",
	316:   "host_computer",
	337:   "target_printer",
	33432: "copyright",
	36867: "date_time_original",
	36868: "date_time_digitized",
}

// Tags pointing to more IFDs.
const (
	tiffSubIFDs  = 330
	tiffExifIFD  = 34665
	tiffGPSIFD   = 34853
	tiffInterIFD = 40965
)

var (
	tiffCompressions = map[uint32]bool{1: true, 2: true, 3: true, 4: true, 5: true, 6: true, 32773: true}
	tiffPhotometrics = map[uint32]bool{0: true, 1: true, 2: true, 3: true, 4: true, 5: true, 6: true, 8: true}
)

// tiffImage gathers the fields of one IFD needed to find where its image
// data ends.
type tiffImage struct {
	width, length uint32
	compression   uint32
	bitsPerSample []int64
	strips        []int64
	stripCounts   []int64
	tiles         []int64
	tileCounts    []int64
}

type tiffDecoder struct {
	c     *carve.Context
	off   int64
	order binary.ByteOrder

	// maxEnd is the end of the furthest structure seen, from off.
	maxEnd  int64
	pending []int64
	seen    map[int64]bool
	ifds    int
}

// decodeTIFF decodes the TIFF file at off. Exif blocks are TIFF files
// without image data; exif makes them relevant anyway.
func decodeTIFF(c *carve.Context, off int64, exif bool) (int64, error) {
	var order binary.ByteOrder
	switch {
	case c.Equal(off, "II*\x00"):
		order = le
	case c.Equal(off, "MM\x00*"):
		order = be
	default:
		return 0, c.Invalid(off, "not a TIFF header")
	}
	first, err := c.U32(off+4, order)
	if err != nil {
		return 0, err
	}
	if exif {
		c.Relevant("tif", "tiff")
	}
	d := &tiffDecoder{c: c, off: off, order: order, maxEnd: int64(first), seen: map[int64]bool{}}

	for ifd := int64(first); ifd != 0; {
		next, err := d.ifd(ifd)
		if err != nil {
			return 0, err
		}
		ifd = next
	}
	for len(d.pending) > 0 {
		ifd := d.pending[0]
		d.pending = d.pending[1:]
		if d.seen[ifd] {
			continue
		}
		if _, err := d.ifd(ifd); err != nil {
			return 0, err
		}
	}
	c.Meta("nbr_ifds", d.ifds)
	return off + d.maxEnd, nil
}

// ifd parses the IFD at ifd and returns the offset of the next one.
func (d *tiffDecoder) ifd(ifd int64) (int64, error) {
	c := d.c
	if d.seen[ifd] {
		return 0, c.Invalid(d.off+ifd, "IFD chain loops")
	}
	d.seen[ifd] = true
	d.ifds++

	cursor := d.off + ifd
	n, err := c.U16(cursor, d.order)
	if err != nil {
		return 0, err
	}
	cursor += 2
	img := tiffImage{compression: 1, bitsPerSample: []int64{1}}
	for range n {
		r := c.At(cursor)
		r.Order = d.order
		tag, typ, count, value := r.U16(), r.U16(), r.U32(), r.U32()
		if err := r.Err(); err != nil {
			return 0, err
		}
		tsize, ok := tiffTypeSizes[typ]
		if !ok {
			return 0, c.Invalid(cursor, "tag %d has invalid type %d", tag, typ)
		}
		size := tsize * int64(count)
		at := cursor + 8
		if size > 4 {
			at = d.off + int64(value)
			d.maxEnd = max(d.maxEnd, int64(value)+size)
		}
		if err := d.tag(&img, tag, typ, count, size, at); err != nil {
			return 0, err
		}
		cursor += 12
		if err := c.Progress(cursor); err != nil {
			return 0, err
		}
	}
	d.maxEnd = max(d.maxEnd, ifd+6+int64(n)*12)
	if err := d.extent(&img); err != nil {
		return 0, err
	}
	next, err := c.U32(cursor, d.order)
	if err != nil {
		return 0, err
	}
	return int64(next), nil
}

// value reads a SHORT or LONG value.
func (d *tiffDecoder) value(at int64, typ uint16) (uint32, error) {
	if typ == 3 {
		v, err := d.c.U16(at, d.order)
		return uint32(v), err
	}
	return d.c.U32(at, d.order)
}

// values reads count SHORT or LONG values.
func (d *tiffDecoder) values(at int64, typ uint16, count uint32) ([]int64, error) {
	width := int64(4)
	if typ == 3 {
		width = 2
	}
	b, err := d.c.Bytes(at, width*int64(count))
	if err != nil {
		return nil, err
	}
	out := make([]int64, count)
	for i := range out {
		if width == 2 {
			out[i] = int64(d.order.Uint16(b[2*i:]))
		} else {
			out[i] = int64(d.order.Uint32(b[4*i:]))
		}
	}
	return out, nil
}

func (d *tiffDecoder) tag(img *tiffImage, tag, typ uint16, count uint32, size, at int64) error {
	c := d.c
	if key, ok := tiffStrings[tag]; ok {
		if size == 0 {
			return nil
		}
		b, err := c.Bytes(at, size)
		if err != nil {
			return err
		}
		c.Meta(key, cString(b))
		return nil
	}

	// checked reads a single value and validates it.
	checked := func(key string, valid func(uint32) bool) (uint32, error) {
		v, err := d.value(at, typ)
		if err != nil {
			return 0, err
		}
		if !valid(v) {
			return 0, c.Invalid(at, "invalid %s %d", key, v)
		}
		c.Meta(key, v)
		return v, nil
	}
	nonZero := func(v uint32) bool { return v != 0 }
	upTo := func(n uint32) func(uint32) bool {
		return func(v uint32) bool { return v != 0 && v <= n }
	}

	var err error
	switch tag {
	case 256:
		img.width, err = checked("image_width", nonZero)
	case 257:
		img.length, err = checked("image_length", nonZero)
	case 258:
		typ = 3
		if img.bitsPerSample, err = d.values(at, typ, count); err == nil {
			c.Meta("bits_per_sample", img.bitsPerSample)
		}
	case 259:
		typ = 3
		img.compression, err = checked("compression", func(v uint32) bool { return tiffCompressions[v] })
	case 262:
		typ = 3
		_, err = checked("photometric_interpretation", func(v uint32) bool { return tiffPhotometrics[v] })
	case 264:
		typ = 3
		_, err = checked("cell_width", nonZero)
	case 265:
		typ = 3
		_, err = checked("cell_length", nonZero)
	case 266:
		typ = 3
		_, err = checked("fill_order", upTo(2))
	case 273:
		if img.strips, err = d.values(at, typ, count); err == nil {
			c.Relevant("tif", "tiff")
		}
	case 274:
		typ = 3
		_, err = checked("orientation", upTo(8))
	case 277:
		typ = 3
		_, err = checked("samples_per_pixel", nonZero)
	case 278:
		_, err = checked("rows_per_strip", nonZero)
	case 279:
		img.stripCounts, err = d.values(at, typ, count)
	case 282, 283:
		r := c.At(at)
		r.Order = d.order
		num, denom := r.U32(), r.U32()
		if err := r.Err(); err != nil {
			return err
		}
		if num == 0 || denom == 0 {
			return c.Invalid(at, "invalid resolution %d/%d", num, denom)
		}
		axis := "x"
		if tag == 283 {
			axis = "y"
		}
		c.Meta(axis+"_resolution_num", num)
		c.Meta(axis+"_resolution_denom", denom)
	case 296:
		typ = 3
		_, err = checked("resolution_unit", upTo(3))
	case 297:
		r := c.At(at)
		r.Order = d.order
		number, total := r.U16(), r.U16()
		if err := r.Err(); err != nil {
			return err
		}
		if total == 0 {
			return c.Invalid(at, "page total is 0")
		}
		c.Meta("page_number", number)
		c.Meta("page_total", total)
	case 324:
		if img.tiles, err = d.values(at, 4, count); err == nil {
			c.Relevant("tif", "tiff")
		}
	case 325:
		img.tileCounts, err = d.values(at, 4, count)
	case tiffSubIFDs, tiffExifIFD, tiffGPSIFD, tiffInterIFD:
		var ifds []int64
		if ifds, err = d.values(at, 4, count); err == nil {
			for _, ifd := range ifds {
				if ifd != 0 {
					d.pending = append(d.pending, ifd)
				}
			}
		}
	}
	return err
}

// extent extends maxEnd to the end of the image data of img.
func (d *tiffDecoder) extent(img *tiffImage) error {
	c := d.c
	if len(img.strips) == 1 && len(img.stripCounts) == 0 {
		// an uncompressed image in one strip needs no byte count
		switch {
		case img.compression != 1:
			return c.Invalid(d.off+d.maxEnd, "missing strip byte counts for compressed image")
		case img.width == 0:
			return c.Invalid(d.off+d.maxEnd, "missing image width")
		case img.length == 0:
			return c.Invalid(d.off+d.maxEnd, "missing image length")
		}
		var bits int64
		all16, all32 := true, true
		for _, b := range img.bitsPerSample {
			bits += b
			all16 = all16 && b == 16
			all32 = all32 && b == 32
		}
		pad := int64(8)
		switch {
		case all16:
			pad = 16
		case all32:
			pad = 32
		}
		row := (int64(img.width)*bits + pad - 1) / pad * pad / 8
		d.maxEnd = max(d.maxEnd, img.strips[0]+int64(img.length)*row)
		return nil
	}
	if len(img.strips) != len(img.stripCounts) {
		return c.Invalid(d.off+d.maxEnd, "%d strip offsets but %d strip byte counts", len(img.strips), len(img.stripCounts))
	}
	if len(img.tiles) != len(img.tileCounts) {
		return c.Invalid(d.off+d.maxEnd, "%d tile offsets but %d tile byte counts", len(img.tiles), len(img.tileCounts))
	}
	for i, o := range img.strips {
		d.maxEnd = max(d.maxEnd, o+img.stripCounts[i])
	}
	for i, o := range img.tiles {
		d.maxEnd = max(d.maxEnd, o+img.tileCounts[i])
	}
	return nil
}
