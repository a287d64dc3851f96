package formats

import (
	"github.com/tetsuo/carve"
)

// ASF decodes Advanced Systems Format files (WMV, WMA).
type ASF struct{}

const (
	asfHeaderGUID = "\x30\x26\xb2\x75\x8e\x66\xcf\x11\xa6\xd9\x00\xaa\x00\x62\xce\x6c"
	asfDataGUID   = "\x36\x26\xb2\x75\x8e\x66\xcf\x11\xa6\xd9\x00\xaa\x00\x62\xce\x6c"

	// GUID and size
	asfObjectHeader = 24
)

// asfIndexGUIDs lists the objects that may follow the Data object.
var asfIndexGUIDs = map[string]bool{
	"\x90\x08\x00\x33\xb1\xe5\xcf\x11\x89\xf4\x00\xa0\xc9\x03\x49\xcb": true, // Simple Index
	"\xd3\x29\xe2\xd6\xda\x35\xd1\x11\x90\x34\x00\xa0\xc9\x03\x49\xbe": true, // Index
	"\xf8\x03\xb1\xfe\xad\x12\x64\x4c\x84\x0f\x2a\x1d\x2f\x7a\xd4\x8c": true, // Media Object Index
	"\xd0\x3f\xb7\x3c\x4a\x0c\x03\x48\x95\x3d\xed\xf7\xb6\x22\x8f\x0c": true, // Timecode Index
}

var asfPattern = carve.Literal(asfHeaderGUID)

func (ASF) Signature() (*carve.Pattern, carve.ScanOptions) {
	return asfPattern, carve.ScanOptions{Step: 16}
}

// asfObject reads the size of the object at off.
func asfObject(c *carve.Context, off int64) (int64, error) {
	size, err := c.U64(off+16, le)
	if err != nil {
		return 0, err
	}
	if size < asfObjectHeader || size > 1<<62 {
		return 0, c.Invalid(off, "object has invalid size %d", size)
	}
	return int64(size), nil
}

func (ASF) Decode(c *carve.Context, off int64) (int64, error) {
	size, err := asfObject(c, off)
	if err != nil {
		return 0, err
	}
	objects, err := c.U32(off+asfObjectHeader, le)
	if err != nil {
		return 0, err
	}
	cursor := off + size
	if err := c.Progress(cursor); err != nil {
		return 0, err
	}
	if !c.Equal(cursor, asfDataGUID) {
		return 0, c.Invalid(cursor, "missing data object")
	}
	c.Relevant("asf")
	c.Metas(map[string]any{
		"header_size":        size,
		"nbr_header_objects": objects,
	})
	if size, err = asfObject(c, cursor); err != nil {
		return 0, err
	}
	c.Meta("data_size", size)
	cursor += size
	if err := c.Progress(cursor); err != nil {
		return 0, err
	}

	for cursor < c.End {
		guid, err := c.Bytes(cursor, 16)
		if err != nil || !asfIndexGUIDs[string(guid)] {
			break
		}
		if size, err = asfObject(c, cursor); err != nil {
			return 0, err
		}
		cursor += size
		if err := c.Progress(cursor); err != nil {
			return 0, err
		}
	}
	return cursor, nil
}
