package carve

import (
	"encoding/binary"
	"fmt"

	"github.com/rs/zerolog"
)

// Context is the state of one decode attempt at one candidate offset. A
// decoder reads through it, reports what it learns, and fails through the
// error constructors. A fresh Context is made for every candidate.
type Context struct {
	src *Source
	log zerolog.Logger

	// Begin and End bound the bytes this decode may read.
	Begin, End int64

	cancelled func() bool

	exts        []string
	meta        map[string]any
	missingPrev bool

	lastProgress int64
	progressed   bool
}

func newContext(s *Scan) *Context {
	return &Context{
		src:       s.src,
		log:       s.log,
		Begin:     s.Begin,
		End:       s.End,
		cancelled: s.cancelled,
		meta:      map[string]any{},
	}
}

// NewContext returns a Context over the window of src. It is meant for
// decoding a region directly, outside of a scan.
func NewContext(src *Source) *Context {
	begin, end := src.Window()
	return &Context{
		src:       src,
		log:       zerolog.Nop(),
		Begin:     begin,
		End:       end,
		cancelled: func() bool { return false },
		meta:      map[string]any{},
	}
}

// Nested returns a Context for decoding an embedded structure occupying
// [begin, end). It shares the source and cancellation, but has its own
// relevance, metadata and progress.
func (c *Context) Nested(begin, end int64) *Context {
	return &Context{
		src:       c.src,
		log:       c.log,
		Begin:     begin,
		End:       min(end, c.End),
		cancelled: c.cancelled,
		meta:      map[string]any{},
	}
}

// Logger returns the logger of the running scan.
func (c *Context) Logger() *zerolog.Logger { return &c.log }

// Relevant commits the decode to the given extensions, most likely first.
// From then on, failures produce truncated segments instead of no segment.
// Calling it again replaces the extensions.
func (c *Context) Relevant(exts ...string) {
	c.exts = append(c.exts[:0], exts...)
}

// IsRelevant reports whether Relevant was called.
func (c *Context) IsRelevant() bool { return len(c.exts) > 0 }

// Extensions returns the extensions given to Relevant.
func (c *Context) Extensions() []string { return c.exts }

// MissingPreviousData marks the segment as depending on unseen earlier data.
func (c *Context) MissingPreviousData() { c.missingPrev = true }

// Meta records a metadata value for the segment.
func (c *Context) Meta(key string, value any) { c.meta[key] = value }

// Metas records several metadata values.
func (c *Context) Metas(values map[string]any) {
	for k, v := range values {
		c.meta[k] = v
	}
}

// Metadata returns the values recorded so far.
func (c *Context) Metadata() map[string]any { return c.meta }

// Progress records that everything before off is decoded. It fails when
// off is past the window end, or when the analysis was cancelled.
func (c *Context) Progress(off int64) error {
	c.lastProgress = off
	c.progressed = true
	if off > c.End {
		return c.Truncated(off, "progress is past window end %d", c.End)
	}
	if c.cancelled() {
		return ErrCancelled
	}
	return nil
}

// KeepAlive returns ErrCancelled once the analysis is cancelled. Long
// loops that do not move the decoded offset call it instead of Progress.
func (c *Context) KeepAlive() error {
	if c.cancelled() {
		return ErrCancelled
	}
	return nil
}

// LastProgress returns the last offset given to Progress.
func (c *Context) LastProgress() (int64, bool) { return c.lastProgress, c.progressed }

// Invalid returns an error rejecting the data at off.
func (c *Context) Invalid(off int64, format string, args ...any) error {
	return &DecodeError{Outcome: OutcomeInvalid, Offset: off, Msg: fmt.Sprintf(format, args...)}
}

// Truncated returns an error stating that data at off continues past the window.
func (c *Context) Truncated(off int64, format string, args ...any) error {
	return &DecodeError{Outcome: OutcomeTruncated, Offset: off, Msg: fmt.Sprintf(format, args...)}
}

// NotSupported returns an error for a structure the decoder cannot delimit.
func (c *Context) NotSupported(off int64, format string, args ...any) error {
	return &DecodeError{Outcome: OutcomeNotSupported, Offset: off, Msg: fmt.Sprintf(format, args...)}
}

// Bytes returns the n bytes at off.
func (c *Context) Bytes(off, n int64) ([]byte, error) {
	if off < c.Begin || n < 0 || off+n > c.End {
		return nil, &BoundsError{Off: off, N: n, Begin: c.Begin, End: c.End}
	}
	return c.src.Read(off, n)
}

// Has reports whether the n bytes at off are readable.
func (c *Context) Has(off, n int64) bool {
	_, err := c.Bytes(off, n)
	return err == nil
}

// Equal reports whether the bytes at off are exactly b. Unreadable bytes
// compare unequal.
func (c *Context) Equal(off int64, b string) bool {
	got, err := c.Bytes(off, int64(len(b)))
	return err == nil && string(got) == b
}

// IndexBytes returns the first occurrence of needle in [from, End), or -1.
func (c *Context) IndexBytes(needle []byte, from int64) int64 {
	i := c.src.IndexBytes(needle, from)
	if i < 0 || i+int64(len(needle)) > c.End {
		return -1
	}
	return i
}

// U8 reads one byte at off.
func (c *Context) U8(off int64) (uint8, error) {
	b, err := c.Bytes(off, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U16 reads a 16-bit value at off.
func (c *Context) U16(off int64, order binary.ByteOrder) (uint16, error) {
	b, err := c.Bytes(off, 2)
	if err != nil {
		return 0, err
	}
	return order.Uint16(b), nil
}

// U32 reads a 32-bit value at off.
func (c *Context) U32(off int64, order binary.ByteOrder) (uint32, error) {
	b, err := c.Bytes(off, 4)
	if err != nil {
		return 0, err
	}
	return order.Uint32(b), nil
}

// U64 reads a 64-bit value at off.
func (c *Context) U64(off int64, order binary.ByteOrder) (uint64, error) {
	b, err := c.Bytes(off, 8)
	if err != nil {
		return 0, err
	}
	return order.Uint64(b), nil
}

// At returns a little-endian Cursor positioned at off.
func (c *Context) At(off int64) *Cursor {
	return &Cursor{c: c, Order: le, off: off}
}

// AtBE returns a big-endian Cursor positioned at off.
func (c *Context) AtBE(off int64) *Cursor {
	return &Cursor{c: c, Order: be, off: off}
}

// Cursor reads consecutive fields. The first failed read is kept in Err
// and turns every later read into a no-op returning zero.
type Cursor struct {
	c     *Context
	Order binary.ByteOrder
	off   int64
	err   error
}

// Offset returns the position of the next read.
func (r *Cursor) Offset() int64 { return r.off }

// Err returns the first read error.
func (r *Cursor) Err() error { return r.err }

// Seek moves to off.
func (r *Cursor) Seek(off int64) *Cursor {
	r.off = off
	return r
}

// Skip advances by n bytes without reading them.
func (r *Cursor) Skip(n int64) {
	if r.err == nil {
		r.off += n
	}
}

// Bytes reads n bytes.
func (r *Cursor) Bytes(n int64) []byte {
	if r.err != nil {
		return nil
	}
	b, err := r.c.Bytes(r.off, n)
	if err != nil {
		r.err = err
		return nil
	}
	r.off += n
	return b
}

// String reads n bytes as a string.
func (r *Cursor) String(n int64) string { return string(r.Bytes(n)) }

// U8 reads one byte.
func (r *Cursor) U8() uint8 {
	if b := r.Bytes(1); b != nil {
		return b[0]
	}
	return 0
}

// U16 reads a 16-bit integer in the cursor byte order.
func (r *Cursor) U16() uint16 {
	if b := r.Bytes(2); b != nil {
		return r.Order.Uint16(b)
	}
	return 0
}

// U24BE reads a 24-bit big-endian integer.
func (r *Cursor) U24BE() uint32 {
	if b := r.Bytes(3); b != nil {
		return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	}
	return 0
}

// U32 reads a 32-bit integer in the cursor byte order.
func (r *Cursor) U32() uint32 {
	if b := r.Bytes(4); b != nil {
		return r.Order.Uint32(b)
	}
	return 0
}

// U64 reads a 64-bit integer in the cursor byte order.
func (r *Cursor) U64() uint64 {
	if b := r.Bytes(8); b != nil {
		return r.Order.Uint64(b)
	}
	return 0
}

// U16BE reads a 16-bit big-endian integer.
func (r *Cursor) U16BE() uint16 {
	if b := r.Bytes(2); b != nil {
		return be.Uint16(b)
	}
	return 0
}

// U32BE reads a 32-bit big-endian integer.
func (r *Cursor) U32BE() uint32 {
	if b := r.Bytes(4); b != nil {
		return be.Uint32(b)
	}
	return 0
}

// U64BE reads a 64-bit big-endian integer.
func (r *Cursor) U64BE() uint64 {
	if b := r.Bytes(8); b != nil {
		return be.Uint64(b)
	}
	return 0
}
