package formats

import (
	"bytes"
	"encoding/binary"

	"github.com/tetsuo/carve"
)

// CFBF decodes Compound File Binary documents: legacy Office files and
// Thumbs.db.
type CFBF struct{}

var cfbfPattern = carve.Literal("\xd0\xcf\x11\xe0\xa1\xb1\x1a\xe1" + string(make([]byte, 16)))

func (CFBF) Signature() (*carve.Pattern, carve.ScanOptions) {
	return cfbfPattern, carve.ScanOptions{Step: 24}
}

const (
	cfbfHeaderSize = 512
	cfbfMaxRegular = 0xfffffffc // sector IDs from here on are special
)

// cfbfTokens identify the application from the content of the sectors,
// in priority order.
var cfbfTokens = []struct {
	token []byte
	ext   string
}{
	{[]byte("MSWordDoc"), "doc"},
	{[]byte("P\x00o\x00w\x00e\x00r\x00P\x00o\x00i\x00n\x00t\x00"), "pps"},
	{[]byte("Microsoft Excel"), "xls"},
	{[]byte("C\x00a\x00t\x00a\x00l\x00o\x00g\x00"), "db"},
}

func (CFBF) Decode(c *carve.Context, off int64) (int64, error) {
	var order binary.ByteOrder = le
	if c.Equal(off+28, "\xff\xfe") {
		order = be
	}
	shift, err := c.U16(off+30, order)
	if err != nil {
		return 0, err
	}
	if shift < 7 || shift > 16 {
		return 0, c.Invalid(off+30, "invalid sector shift %d", shift)
	}
	sectorSize := int64(1) << shift
	first := off + cfbfHeaderSize

	msat, err := c.Bytes(off+76, cfbfHeaderSize-76)
	if err != nil {
		return 0, err
	}
	c.Relevant("doc")
	msat = append([]byte(nil), msat...)

	// more MSAT sectors are chained through their last entry
	next, err := c.U32(off+68, order)
	if err != nil {
		return 0, err
	}
	seen := map[uint32]bool{}
	for next < cfbfMaxRegular {
		if seen[next] {
			return 0, c.Invalid(off+68, "MSAT chain loops at sector %d", next)
		}
		seen[next] = true
		sector, err := c.Bytes(first+int64(next)*sectorSize, sectorSize)
		if err != nil {
			return 0, err
		}
		msat = append(msat, sector[:sectorSize-4]...)
		next = order.Uint32(sector[sectorSize-4:])
	}

	maxSector := int64(-1)
	for i := 0; i+4 <= len(msat); i += 4 {
		id := order.Uint32(msat[i:])
		if id >= cfbfMaxRegular {
			continue
		}
		sat, err := c.Bytes(first+int64(id)*sectorSize, sectorSize)
		if err != nil {
			return 0, err
		}
		for j := 0; j < len(sat); j += 4 {
			if s := order.Uint32(sat[j:]); s < cfbfMaxRegular {
				maxSector = max(maxSector, int64(s))
			}
		}
		if err := c.KeepAlive(); err != nil {
			return 0, err
		}
	}
	sectors := maxSector + 1
	c.Metas(map[string]any{
		"msat_size":   len(msat),
		"nbr_sectors": sectors,
		"sector_size": sectorSize,
	})
	end := first + sectors*sectorSize

	if ext := cfbfExtension(c, first, min(end, c.End), sectorSize); ext != "" {
		c.Relevant(ext)
	} else {
		c.Logger().Debug().Int64("offset", off).Msg("No application token in compound file")
	}
	return end, nil
}

// cfbfExtension returns the extension of the first token found, sector by
// sector.
func cfbfExtension(c *carve.Context, from, to, sectorSize int64) string {
	for cursor := from; cursor < to; cursor += sectorSize {
		sector, err := c.Bytes(cursor, min(sectorSize, to-cursor))
		if err != nil {
			return ""
		}
		for _, t := range cfbfTokens {
			if bytes.Contains(sector, t.token) {
				return t.ext
			}
		}
	}
	return ""
}
