package formats

import (
	"github.com/tetsuo/carve"
)

// ICO decodes Windows icons and cursors.
type ICO struct{}

var icoPattern = carve.MustCompile("00 00 [01-02] 00 ?? ?? ?? ?? ?? 00")

func (ICO) Signature() (*carve.Pattern, carve.ScanOptions) {
	return icoPattern, carve.ScanOptions{Step: 3, ProbeSize: 10}
}

func (ICO) Decode(c *carve.Context, off int64) (int64, error) {
	r := c.At(off + 2)
	kind := r.U16()
	count := r.U16()
	if err := r.Err(); err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, c.Invalid(off, "no image")
	}
	ext := "ico"
	if kind == 2 {
		ext = "cur"
	}

	type image struct{ offset, size int64 }
	images := make([]image, 0, count)
	cursor := off + 6
	for range count {
		entry, err := c.Bytes(cursor, 16)
		if err != nil {
			return 0, err
		}
		if entry[3] != 0 {
			return 0, c.Invalid(cursor, "invalid image entry")
		}
		images = append(images, image{
			offset: int64(le.Uint32(entry[12:])),
			size:   int64(le.Uint32(entry[8:])),
		})
		cursor += 16
	}
	if err := c.Progress(cursor); err != nil {
		return 0, err
	}
	if off+images[0].offset != cursor {
		return 0, c.Invalid(cursor, "first image at %d, expected %d", off+images[0].offset, cursor)
	}
	c.Relevant(ext)
	c.Meta("nbr_images", int(count))

	for _, img := range images {
		if off+img.offset != cursor {
			return 0, c.Invalid(cursor, "image at %d, expected %d", off+img.offset, cursor)
		}
		cursor += img.size
		if err := c.Progress(cursor); err != nil {
			return 0, err
		}
	}
	return cursor, nil
}
