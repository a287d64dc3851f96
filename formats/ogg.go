package formats

import (
	"bytes"

	"github.com/tetsuo/carve"
)

// OGG decodes Ogg streams page by page.
type OGG struct{}

var oggPattern = carve.Literal("OggS\x00")

func (OGG) Signature() (*carve.Pattern, carve.ScanOptions) {
	return oggPattern, carve.ScanOptions{Step: 5}
}

// oggBOS flags the first page of a logical stream.
const oggBOS = 2

func (OGG) Decode(c *carve.Context, off int64) (int64, error) {
	var (
		cursor         = off
		vorbis, theora bool
		pages          int
		serials        = map[uint32]bool{}
	)
	for {
		r := c.At(cursor + 5)
		typ := r.U8()
		r.Skip(8) // granule position
		serial := r.U32()
		r.Skip(8) // sequence number and CRC
		nsegs := r.U8()
		lacing := r.Bytes(int64(nsegs))
		if err := r.Err(); err != nil {
			return 0, err
		}
		size := int64(0)
		for _, n := range lacing {
			size += int64(n)
		}
		cursor = r.Offset()
		pages++

		switch {
		case typ&oggBOS != 0:
			serials[serial] = true
			payload, err := c.Bytes(cursor, size)
			if err != nil {
				return 0, err
			}
			vorbis = vorbis || bytes.Contains(payload, []byte("vorbis"))
			theora = theora || bytes.Contains(payload, []byte("theora"))
		case !serials[serial]:
			// the stream started before this segment
			serials[serial] = true
			c.MissingPreviousData()
		}
		switch {
		case theora:
			c.Relevant("ogv", "ogg", "ogx")
		case vorbis:
			c.Relevant("oga", "ogg", "ogx")
		default:
			c.Relevant("ogg", "ogx")
		}

		cursor += size
		if err := c.Progress(cursor); err != nil {
			return 0, err
		}
		if cursor == c.End || !c.Equal(cursor, "OggS\x00") {
			break
		}
	}
	c.Meta("nbr_pages", pages)
	c.Meta("nbr_streams", len(serials))
	return cursor, nil
}
