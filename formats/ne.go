package formats

import (
	"github.com/tetsuo/carve"
)

const (
	neHeaderSize   = 0x40
	neLibrary      = 0x8000
	neFontResource = 0x8008
	neMaxShift     = 16
)

// neHeader holds the table offsets of an NE header. They are relative to
// the NE header, except nonResident which is relative to the file.
type neHeader struct {
	flags                     uint16
	entry, entrySize          int64
	nsegments, nmodules       int64
	nonResidentSize           int64
	segments, resources       int64
	residentNames, moduleRefs int64
	importedNames             int64
	nonResident               int64
	alignShift                uint16
}

func decodeNE(c *carve.Context, off, ne int64) (int64, error) {
	r := c.At(ne + 4)
	var h neHeader
	h.entry, h.entrySize = int64(r.U16()), int64(r.U16())
	r.Skip(4) // CRC
	h.flags = r.U16()
	r.Seek(ne + 0x1c)
	h.nsegments, h.nmodules = int64(r.U16()), int64(r.U16())
	h.nonResidentSize = int64(r.U16())
	h.segments, h.resources = int64(r.U16()), int64(r.U16())
	h.residentNames, h.moduleRefs = int64(r.U16()), int64(r.U16())
	h.importedNames = int64(r.U16())
	h.nonResident = int64(r.U32())
	r.Skip(2) // movable entry points
	h.alignShift = r.U16()
	if err := r.Err(); err != nil {
		return 0, err
	}
	if h.alignShift == 0 {
		h.alignShift = 9
	}
	if h.alignShift > neMaxShift {
		return 0, c.Invalid(ne+0x32, "alignment shift %d", h.alignShift)
	}
	cursor := ne + neHeaderSize
	if err := c.Progress(cursor); err != nil {
		return 0, err
	}

	if h.segments != cursor-ne {
		return 0, c.Invalid(cursor, "segment table declared at %d", ne+h.segments)
	}
	// file extents of segments and resources, as offset: size
	extents := map[int64]int64{}
	for range h.nsegments {
		r.Seek(cursor)
		at, size := int64(r.U16()), int64(r.U16())
		if err := r.Err(); err != nil {
			return 0, err
		}
		if at > 0 {
			if size == 0 {
				size = 0x10000
			}
			extents[at<<h.alignShift] = max(extents[at<<h.alignShift], size)
		}
		cursor += 8
	}
	if err := c.Progress(cursor); err != nil {
		return 0, err
	}
	maxEnd := cursor

	// pascal extends maxEnd past the length-prefixed string at at.
	pascal := func(at int64) error {
		n, err := c.U8(at)
		if err != nil {
			return err
		}
		maxEnd = max(maxEnd, at+1+int64(n))
		return nil
	}

	if h.resources != cursor-ne {
		return 0, c.Invalid(cursor, "resource table declared at %d", ne+h.resources)
	}
	resTable := cursor
	shift, err := c.U16(cursor, le)
	if err != nil {
		return 0, err
	}
	if shift > neMaxShift {
		return 0, c.Invalid(cursor, "resource alignment shift %d", shift)
	}
	cursor += 2
	fonts, nresources := false, 0
	for {
		typeID, err := c.U16(cursor, le)
		if err != nil {
			return 0, err
		}
		cursor += 2
		if typeID == 0 {
			break
		}
		if typeID&0x8000 == 0 {
			if err := pascal(resTable + int64(typeID)); err != nil {
				return 0, err
			}
		}
		fonts = fonts || typeID == neFontResource
		r.Seek(cursor)
		count, reserved := r.U16(), r.U32()
		if err := r.Err(); err != nil {
			return 0, err
		}
		if reserved != 0 {
			return 0, c.Invalid(cursor+2, "resource type reserved field is %d", reserved)
		}
		cursor += 6
		for range count {
			r.Seek(cursor)
			at, size := int64(r.U16()), int64(r.U16())
			r.Skip(2) // flags
			id, reserved := r.U16(), r.U32()
			if err := r.Err(); err != nil {
				return 0, err
			}
			if reserved != 0 {
				return 0, c.Invalid(cursor+8, "resource reserved field is %d", reserved)
			}
			extents[at<<shift] = max(extents[at<<shift], size<<shift)
			if id&0x8000 == 0 {
				if err := pascal(resTable + int64(id)); err != nil {
					return 0, err
				}
			}
			nresources++
			cursor += 12
			if err := c.Progress(cursor); err != nil {
				return 0, err
			}
		}
	}
	maxEnd = max(maxEnd, cursor)

	var module string
	cursor, err = neNames(c, ne+h.residentNames, func(name []byte) {
		if module == "" {
			module = string(name)
		}
	})
	if err != nil {
		return 0, err
	}
	maxEnd = max(maxEnd, cursor)

	maxEnd = max(maxEnd, ne+h.moduleRefs+2*h.nmodules)

	cursor = ne + h.importedNames
	for {
		n, err := c.U8(cursor)
		if err != nil {
			return 0, err
		}
		cursor += 1 + int64(n)
		if n == 0 {
			break
		}
		if err := c.Progress(cursor); err != nil {
			return 0, err
		}
	}
	maxEnd = max(maxEnd, cursor)

	cursor = ne + h.entry
	bundle, err := c.U8(cursor)
	if err != nil {
		return 0, err
	}
	if bundle > 0 {
		return 0, c.NotSupported(cursor, "entry table with %d entries in its first bundle", bundle)
	}
	if h.entrySize < 1 {
		return 0, c.Invalid(cursor, "entry table of %d bytes", h.entrySize)
	}
	maxEnd = max(maxEnd, cursor+h.entrySize)

	if h.nonResident > 0 {
		start := off + h.nonResident
		end, err := neNames(c, start, func([]byte) {})
		if err != nil {
			return 0, err
		}
		if end-start > h.nonResidentSize {
			return 0, c.Invalid(start, "non-resident names take %d bytes, declared %d", end-start, h.nonResidentSize)
		}
		maxEnd = max(maxEnd, start+h.nonResidentSize)
	}

	for at, size := range extents {
		maxEnd = max(maxEnd, off+at+size)
	}

	switch {
	case fonts:
		c.Relevant("fon")
	case h.flags&neLibrary != 0:
		c.Relevant("dll", "exe")
	default:
		c.Relevant("exe", "dll")
	}
	c.Metas(map[string]any{
		"nbr_segments":  h.nsegments,
		"nbr_resources": nresources,
		"module_name":   module,
	})
	return maxEnd, nil
}

// neNames walks a table of length-prefixed names, each followed by a
// 2-byte ordinal, and returns its end.
func neNames(c *carve.Context, cursor int64, name func([]byte)) (int64, error) {
	for {
		n, err := c.U8(cursor)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return cursor + 1, nil
		}
		b, err := c.Bytes(cursor+1, int64(n))
		if err != nil {
			return 0, err
		}
		name(b)
		cursor += 1 + int64(n) + 2
		if err := c.Progress(cursor); err != nil {
			return 0, err
		}
	}
}
