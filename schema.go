package carve

import "strings"

// Schema describes the records allowed inside a container record of a
// chunked format (MP4 boxes, RIFF chunks). A nil *Schema is a leaf: its
// payload is skipped without looking inside.
type Schema struct {
	// Children maps the tags allowed inside the container to their schema.
	Children map[string]*Schema

	// HeaderExtra is the number of payload bytes before the first child.
	HeaderExtra int64

	// CountAt and CountLen, when CountLen is not zero, locate a big-endian count of
	// the direct children: CountLen bytes at CountAt from the payload start.
	CountAt, CountLen int64

	// IgnoreUnknown accepts children with unknown tags, skipping them.
	IgnoreUnknown bool

	// TrailingPad is the number of zero bytes that may end the container
	// after its last child.
	TrailingPad int64
}

// Container returns a schema accepting the given children.
func Container(children map[string]*Schema) *Schema {
	return &Schema{Children: children}
}

// Record is the header of one record, as read by a Framing.
type Record struct {
	Tag    string
	Offset int64 // record start
	Data   int64 // payload start
	Size   int64 // payload size, -1 when the record has no size field
	ToEnd  bool  // the size field says the record runs to the end of its container
}

// End returns the offset just past the payload. It is only meaningful
// for records with a size.
func (r Record) End() int64 { return r.Data + r.Size }

// Framing reads record headers of one format. parent is the schema of the
// container the record is read in.
type Framing interface {
	Header(c *Context, off int64, parent *Schema) (Record, error)
}

// Visit is called for every record, before its children are walked. It
// returns where the walk continues inside the payload, usually rec.Data,
// or stop to end the whole walk at the start of rec.
type Visit func(path []string, rec Record, limit int64) (next int64, stop bool, err error)

// Walker interprets a Schema tree over a Source.
type Walker struct {
	C       *Context
	Framing Framing

	// Common lists records allowed in every container.
	Common map[string]*Schema

	// EarlyBounds checks that a record fits its container before visiting it.
	EarlyBounds bool

	// Pad is the alignment of payload sizes; zero bytes padding a record
	// to it are skipped (RIFF pads to 2).
	Pad int64

	Visit Visit
}

// WalkResult summarizes a walk.
type WalkResult struct {
	End     int64 // where the walk stopped
	Records int   // records seen, at every depth
	Stopped bool  // a visit asked to stop
	ToEnd   bool  // a record runs to the end of the data; End is meaningless
}

// Walk parses records from off using schema as the root container. The
// root has no size: it ends where an unknown tag is met, at c.End, or
// where a visit stops it.
func (w *Walker) Walk(off int64, schema *Schema) (WalkResult, error) {
	return w.walk(off, schema, nil, -1)
}

func (w *Walker) lookup(s *Schema, tag string) (*Schema, bool) {
	if child, ok := s.Children[tag]; ok {
		return child, true
	}
	child, ok := w.Common[tag]
	return child, ok
}

func (w *Walker) walk(cursor int64, s *Schema, path []string, limit int64) (WalkResult, error) {
	c := w.C
	var res WalkResult
	max := limit
	if limit < 0 {
		max = c.End
	}

	expected := int64(-1)
	if s.CountLen > 0 {
		b, err := c.Bytes(cursor+s.CountAt, s.CountLen)
		if err != nil {
			return res, err
		}
		expected = 0
		for _, v := range b {
			expected = expected<<8 | int64(v)
		}
	}
	cursor += s.HeaderExtra

	direct := int64(0)
	for cursor < max {
		rec, err := w.Framing.Header(c, cursor, s)
		if err != nil {
			return res, err
		}
		child, known := w.lookup(s, rec.Tag)
		if !known && !s.IgnoreUnknown {
			if limit < 0 {
				res.End = cursor
				return res, nil
			}
			return res, c.Truncated(cursor, "unknown record %q in %s before its container ends at %d", rec.Tag, strings.Join(path, "/"), max)
		}
		sub := append(path[:len(path):len(path)], rec.Tag)

		if w.EarlyBounds && rec.Size >= 0 && rec.End() > max {
			return res, c.Truncated(cursor, "record %s ends at %d past its container end %d", strings.Join(sub, "/"), rec.End(), max)
		}

		next, stop, err := w.Visit(sub, rec, max)
		if err != nil {
			return res, err
		}
		if stop {
			res.End, res.Stopped = rec.Offset, true
			return res, nil
		}
		res.Records++
		direct++
		if rec.ToEnd {
			res.ToEnd = true
			return res, nil
		}
		if rec.Size >= 0 && next > rec.End() {
			return res, c.Invalid(cursor, "record %s parsed past its size (%d > %d)", strings.Join(sub, "/"), next, rec.End())
		}
		if next > max {
			return res, c.Invalid(cursor, "record %s parsed past its container (%d > %d)", strings.Join(sub, "/"), next, max)
		}
		cursor = next

		if child != nil && (rec.Size < 0 || cursor < rec.End()) {
			childMax := max
			if rec.Size >= 0 {
				childMax = rec.End()
			}
			r, err := w.walk(cursor, child, sub, childMax)
			res.Records += r.Records
			if err != nil {
				return res, err
			}
			if r.Stopped || r.ToEnd {
				r.Records = res.Records
				return r, nil
			}
			if rec.Size >= 0 && r.End != rec.End() {
				return res, c.Invalid(r.End, "record %s children end at %d instead of %d", strings.Join(sub, "/"), r.End, rec.End())
			}
			cursor = r.End
		}

		if rec.Size >= 0 {
			if rec.End() > max {
				return res, c.Truncated(cursor, "record %s ends at %d past its container end %d", strings.Join(sub, "/"), rec.End(), max)
			}
			cursor = rec.End()
			if w.Pad > 1 && rec.Size%w.Pad != 0 {
				n := w.Pad - rec.Size%w.Pad
				if cursor+n <= max && c.Equal(cursor, strings.Repeat("\x00", int(n))) {
					cursor += n
				}
			}
		}

		if s.TrailingPad > 0 && cursor == max-s.TrailingPad && c.Equal(cursor, strings.Repeat("\x00", int(s.TrailingPad))) {
			cursor = max
		}
		if err := c.Progress(cursor); err != nil {
			return res, err
		}
	}

	if expected >= 0 && direct != expected {
		return res, c.Invalid(cursor, "%s has %d children, expected %d", strings.Join(path, "/"), direct, expected)
	}
	res.End = cursor
	return res, nil
}
