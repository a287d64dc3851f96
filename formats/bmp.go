package formats

import (
	"github.com/tetsuo/carve"
)

// BMP decodes Windows bitmaps.
type BMP struct{}

var bmpPattern = carve.MustCompile(`"BM" ?? ?? ?? ?? 00 00 00 00`)

func (BMP) Signature() (*carve.Pattern, carve.ScanOptions) {
	return bmpPattern, carve.ScanOptions{Step: 2, ProbeSize: 10}
}

// Compression methods.
const (
	bmpRGB       = 0
	bmpRLE8      = 1
	bmpRLE4      = 2
	bmpBitfields = 3
)

func bmpDepth(bpp uint16) bool {
	switch bpp {
	case 1, 4, 8, 16, 24, 32:
		return true
	}
	return false
}

func (BMP) Decode(c *carve.Context, off int64) (int64, error) {
	cursor := off + 14
	headerSize, err := c.U32(cursor, le)
	if err != nil {
		return 0, err
	}

	var (
		width, height int64
		bpp           uint16
		version       int
		compression   uint32
		bitmapSize    int64
	)
	r := c.At(cursor + 4)
	if headerSize == 12 {
		version = 2
		width, height = int64(int16(r.U16())), int64(int16(r.U16()))
		planes := r.U16()
		bpp = r.U16()
		if err := r.Err(); err != nil {
			return 0, err
		}
		if planes != 1 {
			return 0, c.Invalid(cursor, "%d planes", planes)
		}
		if !bmpDepth(bpp) {
			return 0, c.Invalid(cursor, "invalid depth %d", bpp)
		}
		cursor += int64(headerSize)
		if bpp <= 8 {
			cursor += 3 << bpp
		}
	} else {
		version = 3
		width, height = int64(int32(r.U32())), int64(int32(r.U32()))
		planes := r.U16()
		bpp = r.U16()
		compression = r.U32()
		bitmapSize = int64(r.U32())
		r.Skip(8) // resolution
		colors := r.U32()
		if err := r.Err(); err != nil {
			return 0, err
		}
		switch {
		case planes != 1:
			return 0, c.Invalid(cursor, "%d planes", planes)
		case !bmpDepth(bpp):
			return 0, c.Invalid(cursor, "invalid depth %d", bpp)
		case compression > bmpBitfields:
			return 0, c.Invalid(cursor, "invalid compression %d", compression)
		case compression != bmpBitfields && bpp == 16:
			return 0, c.Invalid(cursor, "compression %d with depth 16", compression)
		case bitmapSize == 0 && (compression == bmpRLE8 || compression == bmpRLE4):
			return 0, c.Invalid(cursor, "empty compressed bitmap")
		case bpp >= 16 && colors > 0:
			return 0, c.Invalid(cursor, "%d palette colors with depth %d", colors, bpp)
		}
		switch headerSize {
		case 56:
			version = 56
		case 108:
			version = 4
			cstype, err := c.U32(cursor+56, le)
			if err != nil {
				return 0, err
			}
			if cstype > 2 {
				return 0, c.Invalid(cursor, "invalid color space type %d", cstype)
			}
		}
		cursor += int64(headerSize)
		if bpp < 16 {
			cursor += 4 << bpp
		}
		if (bpp == 16 || bpp == 32) && compression == bmpBitfields && version == 3 {
			cursor += 12 // color masks
		}
	}
	if width < 0 {
		return 0, c.Invalid(off, "negative width %d", width)
	}
	// negative heights are top-down bitmaps
	height = max(height, -height)

	if err := c.Progress(cursor); err != nil {
		return 0, err
	}
	c.Relevant("bmp")
	c.Metas(map[string]any{
		"width":          width,
		"height":         height,
		"bpp":            bpp,
		"header_version": version,
		"compression":    compression,
	})

	if compression == bmpRGB || compression == bmpBitfields {
		// scanlines are padded to 4 bytes
		scanline := (width*int64(bpp) + 31) / 32 * 4
		cursor += scanline * height
	} else {
		cursor += bitmapSize
	}
	if err := c.Progress(cursor); err != nil {
		return 0, err
	}
	return cursor, nil
}
