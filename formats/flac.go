package formats

import (
	"math/bits"

	"github.com/tetsuo/carve"
)

// FLAC decodes FLAC streams: metadata blocks, then every frame down to
// the residual bits, since frames carry no length.
type FLAC struct{}

var flacPattern = carve.Literal("fLaC")

func (FLAC) Signature() (*carve.Pattern, carve.ScanOptions) {
	return flacPattern, carve.ScanOptions{Step: 4}
}

const (
	flacStreamInfo   = 0
	flacMaxBlockType = 6
)

// flacInfo holds the STREAMINFO fields.
type flacInfo struct {
	minBlockSize, maxBlockSize uint16
	sampleRate                 uint32
	channels                   uint8
	bitsPerSample              int64
	totalSamples               uint64
}

func (FLAC) Decode(c *carve.Context, off int64) (int64, error) {
	var (
		info   *flacInfo
		blocks int
	)
	cursor := off + 4
	for last := false; !last; {
		r := c.AtBE(cursor)
		h := r.U8()
		size := int64(r.U24BE())
		if err := r.Err(); err != nil {
			return 0, err
		}
		last = h&0x80 != 0
		typ := h & 0x7f
		if typ > flacMaxBlockType {
			return 0, c.Invalid(cursor, "invalid metadata block type %d", typ)
		}
		if typ == flacStreamInfo {
			b, err := c.Bytes(cursor+4, 18)
			if err != nil {
				return 0, err
			}
			info = &flacInfo{
				minBlockSize:  be.Uint16(b[0:]),
				maxBlockSize:  be.Uint16(b[2:]),
				sampleRate:    uint32(b[10])<<12 | uint32(b[11])<<4 | uint32(b[12])>>4,
				channels:      (b[12]>>1)&0x07 + 1,
				bitsPerSample: int64(b[12]&0x01)<<4 | int64(b[13]>>4) + 1,
				totalSamples:  uint64(b[13]&0x0f)<<32 | uint64(be.Uint32(b[14:])),
			}
		}
		blocks++
		cursor += 4 + size
		if err := c.Progress(cursor); err != nil {
			return 0, err
		}
	}
	if info == nil {
		return 0, c.Invalid(off, "missing STREAMINFO block")
	}
	c.Relevant("flac")
	c.Metas(map[string]any{
		"min_block_size":      info.minBlockSize,
		"max_block_size":      info.maxBlockSize,
		"sample_rate":         info.sampleRate,
		"channels":            info.channels,
		"bits_per_sample":     info.bitsPerSample,
		"total_samples":       info.totalSamples,
		"nbr_metadata_blocks": blocks,
	})

	data, err := c.Bytes(cursor, max(c.End-cursor, 0))
	if err != nil {
		return 0, err
	}
	r := &flacBits{c: c, data: data, base: cursor}
	for cursor < c.End && flacSync(c, cursor) {
		if cursor, err = flacFrame(c, r, cursor, info.bitsPerSample); err != nil {
			return 0, err
		}
		if err := c.Progress(cursor); err != nil {
			return 0, err
		}
	}
	return cursor, nil
}

func flacSync(c *carve.Context, off int64) bool {
	b, err := c.Bytes(off, 2)
	return err == nil && b[0] == 0xff && b[1]&0xfe == 0xf8
}

// flacCodedLen returns the length of the UTF-8 style coded number whose
// first byte is b.
func flacCodedLen(b byte) (int, bool) {
	switch n := bits.LeadingZeros8(^b); {
	case n == 0:
		return 1, true
	case n == 1, n > 7:
		return 0, false
	default:
		return n, true
	}
}

// flacFrame decodes the frame at cursor and returns its end.
func flacFrame(c *carve.Context, r *flacBits, cursor, streamBPS int64) (int64, error) {
	h, err := c.Bytes(cursor, 5)
	if err != nil {
		return 0, err
	}
	switch {
	case h[2]&0xf0 == 0:
		return 0, c.Invalid(cursor, "reserved block size code")
	case h[2]&0x0f == 0x0f:
		return 0, c.Invalid(cursor, "invalid sample rate code")
	case h[3] >= 0xb0:
		return 0, c.Invalid(cursor, "reserved channel assignment %d", h[3]>>4)
	case h[3]&0x0e == 0x06, h[3]&0x0e == 0x0e:
		return 0, c.Invalid(cursor, "reserved sample size code")
	case h[3]&0x01 != 0:
		return 0, c.Invalid(cursor, "reserved frame header bit set")
	}
	n, ok := flacCodedLen(h[4])
	if !ok || (h[1]&0x01 == 0 && n >= 7) {
		return 0, c.Invalid(cursor, "invalid coded frame number %#x", h[4])
	}
	at := cursor + 4 + int64(n)

	var blockSize int64
	switch code := h[2] >> 4; {
	case code == 1:
		blockSize = 192
	case code <= 5:
		blockSize = 576 << (code - 2)
	case code == 6:
		v, err := c.U8(at)
		if err != nil {
			return 0, err
		}
		blockSize = int64(v) + 1
		at++
	case code == 7:
		v, err := c.U16(at, be)
		if err != nil {
			return 0, err
		}
		blockSize = int64(v) + 1
		at += 2
	default:
		blockSize = 256 << (code - 8)
	}
	switch h[2] & 0x0f {
	case 12:
		at++
	case 13, 14:
		at += 2
	}
	at++ // CRC-8

	// side channels carry one more bit per sample
	var side [2]int64
	channels := int(h[3]>>4) + 1
	switch channels {
	case 9, 11:
		side[1] = 1
	case 10:
		side[0] = 1
	}
	if channels > 8 {
		channels = 2
	}
	var bps int64
	switch (h[3] & 0x0e) >> 1 {
	case 0:
		bps = streamBPS
	case 1:
		bps = 8
	case 2:
		bps = 12
	case 4:
		bps = 16
	case 5:
		bps = 20
	case 6:
		bps = 24
	}
	if err := c.Progress(at); err != nil {
		return 0, err
	}

	r.seek(at)
	for ch := range channels {
		sbps := bps
		if ch < len(side) {
			sbps += side[ch]
		}
		if err := flacSubframe(c, r, sbps, blockSize); err != nil {
			return 0, err
		}
	}
	// byte alignment, then CRC-16
	return r.aligned() + 2, nil
}

func flacSubframe(c *carve.Context, r *flacBits, bps, blockSize int64) error {
	start := r.offset()
	h, err := r.read(8)
	if err != nil {
		return err
	}
	if h&0x80 != 0 {
		return c.Invalid(start, "subframe padding bit set")
	}
	if h&0x01 != 0 {
		wasted, err := r.unary()
		if err != nil {
			return err
		}
		bps -= wasted + 1
		if bps <= 0 {
			return c.Invalid(start, "%d wasted bits per sample", wasted+1)
		}
	}

	switch t := h >> 1 & 0x3f; {
	case t == 0x00: // CONSTANT
		r.skip(bps)
	case t == 0x01: // VERBATIM
		r.skip(bps * blockSize)
	case t&0x38 == 0x08: // FIXED
		order := int64(t & 0x07)
		if order > 4 {
			return c.Invalid(start, "invalid fixed predictor order %d", order)
		}
		r.skip(bps * order)
		if err := flacResidual(c, r, blockSize, order); err != nil {
			return err
		}
	case t&0x20 != 0: // LPC
		order := int64(t&0x1f) + 1
		r.skip(bps * order)
		precision, err := r.read(4)
		if err != nil {
			return err
		}
		if precision == 0x0f {
			return c.Invalid(start, "invalid LPC coefficient precision")
		}
		r.skip(5 + int64(precision+1)*order) // shift, coefficients
		if err := flacResidual(c, r, blockSize, order); err != nil {
			return err
		}
	default:
		return c.Invalid(start, "reserved subframe type %#x", t)
	}
	return c.Progress(r.offset())
}

func flacResidual(c *carve.Context, r *flacBits, blockSize, order int64) error {
	start := r.offset()
	method, err := r.read(2)
	if err != nil {
		return err
	}
	if method > 1 {
		return c.Invalid(start, "reserved residual coding method %d", method)
	}
	paramBits := uint(4 + method)
	escape := uint32(1)<<paramBits - 1
	partitionOrder, err := r.read(4)
	if err != nil {
		return err
	}
	perPartition := blockSize >> partitionOrder
	if perPartition < order {
		return c.Invalid(start, "partition order %d too high for %d samples", partitionOrder, blockSize)
	}
	for i := range int64(1) << partitionOrder {
		param, err := r.read(paramBits)
		if err != nil {
			return err
		}
		samples := perPartition
		if i == 0 {
			samples -= order
		}
		if param == escape {
			n, err := r.read(5)
			if err != nil {
				return err
			}
			r.skip(samples * int64(n))
			continue
		}
		for range samples {
			if _, err := r.unary(); err != nil {
				return err
			}
			r.skip(int64(param))
		}
	}
	return nil
}

// flacBits reads a bit stream from data, which starts at offset base.
// Reads past data fail as truncated.
type flacBits struct {
	c    *carve.Context
	data []byte
	base int64
	pos  int64 // in bits
}

func (r *flacBits) seek(off int64) { r.pos = (off - r.base) * 8 }

func (r *flacBits) skip(n int64) { r.pos += n }

// offset returns the offset of the byte holding the next bit.
func (r *flacBits) offset() int64 { return r.base + r.pos/8 }

// aligned returns the offset of the next byte boundary.
func (r *flacBits) aligned() int64 { return r.base + (r.pos+7)/8 }

func (r *flacBits) truncated() error {
	return r.c.Truncated(r.offset(), "frame runs past the window end")
}

// read reads n bits, n at most 32, most significant first.
func (r *flacBits) read(n uint) (uint32, error) {
	var v uint32
	for n > 0 {
		i := r.pos >> 3
		if i >= int64(len(r.data)) {
			return 0, r.truncated()
		}
		avail := 8 - uint(r.pos&7)
		take := min(avail, n)
		v = v<<take | uint32(r.data[i])>>(avail-take)&(1<<take-1)
		n -= take
		r.pos += int64(take)
	}
	return v, nil
}

// unary counts the zero bits up to the next set bit and consumes both.
func (r *flacBits) unary() (int64, error) {
	var zeros int64
	for {
		i := r.pos >> 3
		if i >= int64(len(r.data)) {
			return 0, r.truncated()
		}
		shift := r.pos & 7
		b := r.data[i] << shift
		if b == 0 {
			zeros += 8 - shift
			r.pos += 8 - shift
			continue
		}
		z := int64(bits.LeadingZeros8(b))
		zeros += z
		r.pos += z + 1
		return zeros, nil
	}
}
