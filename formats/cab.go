package formats

import (
	"github.com/tetsuo/carve"
)

// CAB decodes Microsoft cabinet archives.
type CAB struct{}

var cabPattern = carve.Literal("MSCF\x00\x00\x00\x00")

func (CAB) Signature() (*carve.Pattern, carve.ScanOptions) {
	return cabPattern, carve.ScanOptions{Step: 4}
}

// CFHEADER flags.
const (
	cabPrevCabinet = 1 << iota
	cabNextCabinet
	cabReservePresent
)

// cabString skips a NUL-terminated string at off. A string still running
// at the window end is truncated.
func cabString(c *carve.Context, off int64, what string) (int64, error) {
	i := c.IndexBytes([]byte{0}, off)
	if i < 0 {
		return 0, c.Truncated(c.End, "unterminated %s", what)
	}
	return i + 1, nil
}

func (CAB) Decode(c *carve.Context, off int64) (int64, error) {
	r := c.At(off + 8)
	size := int64(r.U32())
	reserved1 := r.U32()
	r.U32() // first CFFILE offset
	reserved2 := r.U32()
	minor, major := r.U8(), r.U8()
	nfolders := r.U16()
	nfiles := r.U16()
	flags := r.U16()
	setID := r.U16()
	index := r.U16()
	if err := r.Err(); err != nil {
		return 0, err
	}
	if reserved1 != 0 || reserved2 != 0 {
		return 0, c.Invalid(off, "invalid header reserved fields")
	}

	cursor := r.Offset()
	var folderReserve, dataReserve int64
	if flags&cabReservePresent != 0 {
		headerReserve := r.U16()
		folderReserve, dataReserve = int64(r.U8()), int64(r.U8())
		if err := r.Err(); err != nil {
			return 0, err
		}
		if headerReserve > 60000 {
			return 0, c.Invalid(cursor, "header reserve of %d bytes", headerReserve)
		}
		cursor += 4 + int64(headerReserve)
	}
	var err error
	if flags&cabPrevCabinet != 0 {
		if cursor, err = cabString(c, cursor, "previous cabinet name"); err != nil {
			return 0, err
		}
		if cursor, err = cabString(c, cursor, "previous disk name"); err != nil {
			return 0, err
		}
	}
	if flags&cabNextCabinet != 0 {
		if cursor, err = cabString(c, cursor, "next cabinet name"); err != nil {
			return 0, err
		}
		if cursor, err = cabString(c, cursor, "next disk name"); err != nil {
			return 0, err
		}
	}
	if err := c.Progress(cursor); err != nil {
		return 0, err
	}
	c.Relevant("cab", "msu")
	c.Metas(map[string]any{
		"cabinet_size":         size,
		"minor_version":        minor,
		"major_version":        major,
		"nbr_cf_folders":       nfolders,
		"nbr_cf_files":         nfiles,
		"set_id":               setID,
		"idx_cabinet":          index,
		"flag_prev_cabinet":    flags&cabPrevCabinet != 0,
		"flag_next_cabinet":    flags&cabNextCabinet != 0,
		"flag_reserve_present": flags&cabReservePresent != 0,
	})

	type folder struct {
		first  int64
		blocks uint16
	}
	folders := make([]folder, 0, nfolders)
	for range nfolders {
		r.Seek(cursor)
		first := int64(r.U32())
		blocks := r.U16()
		if err := r.Err(); err != nil {
			return 0, err
		}
		folders = append(folders, folder{first, blocks})
		cursor += 8 + folderReserve
		if err := c.Progress(cursor); err != nil {
			return 0, err
		}
	}

	for range nfiles {
		if _, err := c.Bytes(cursor, 16); err != nil {
			return 0, err
		}
		if cursor, err = cabString(c, cursor+16, "file name"); err != nil {
			return 0, err
		}
		if err := c.Progress(cursor); err != nil {
			return 0, err
		}
	}

	for _, f := range folders {
		if cursor-off != f.first {
			return 0, c.Invalid(cursor, "data blocks start at %d, expected %d", off+f.first, cursor)
		}
		for range f.blocks {
			compressed, err := c.U16(cursor+4, le)
			if err != nil {
				return 0, err
			}
			cursor += 8 + dataReserve + int64(compressed)
			if err := c.Progress(cursor); err != nil {
				return 0, err
			}
		}
	}
	if cursor-off != size {
		return 0, c.Invalid(cursor, "cabinet ends at %d, expected %d", cursor, off+size)
	}
	return cabAuthenticode(c, cursor)
}

// cabAuthenticode skips the signature appended to signed cabinets. It is
// a DER SEQUENCE padded to 8 bytes.
func cabAuthenticode(c *carve.Context, cursor int64) (int64, error) {
	if cursor+4 >= c.End || !c.Equal(cursor, "\x30") {
		return cursor, nil
	}
	form, err := c.U8(cursor + 1)
	if err != nil {
		return 0, err
	}
	var n int64
	switch form {
	case 0x82:
		size, err := c.U16(cursor+2, be)
		if err != nil {
			return 0, err
		}
		n = 4 + int64(size)
	case 0x83:
		size, err := c.Bytes(cursor+2, 3)
		if err != nil {
			return 0, err
		}
		n = 5 + (int64(size[0])<<16 | int64(size[1])<<8 | int64(size[2]))
	default:
		if form < 0x80 {
			// short form: too small to be a signature
			return cursor, nil
		}
		return 0, c.NotSupported(cursor, "signature length form %#x", form)
	}
	n = (n + 7) &^ 7
	c.Logger().Debug().Int64("offset", cursor).Int64("size", n).Msg("Found Authenticode signature")
	c.Meta("authenticode_size", n)
	return cursor + n, nil
}
