package formats

import (
	"github.com/tetsuo/carve"
)

// endCoded decodes MPEG streams delimited by their start pack header and
// their end code. The stream itself is not parsed.
type endCoded struct {
	begin, end []byte
	ext        string
}

func (d endCoded) Decode(c *carve.Context, off int64) (int64, error) {
	c.Relevant(d.ext)
	i := c.IndexBytes(d.end, off+int64(len(d.begin)))
	if i < 0 {
		return 0, c.Truncated(c.End, "missing end code")
	}
	c.Logger().Debug().Int64("offset", i).Msg("Found end code")
	return i + int64(len(d.end)), nil
}

var (
	mpgVideo = endCoded{
		begin: []byte("\x00\x00\x01\xba\x21\x00\x01\x00\x01\x80"),
		end:   []byte("\x00\x00\x01\xb7\x00\x00\x01\xb9"), // sequence end, program end
		ext:   "mpg",
	}
	m2vVideo = endCoded{
		begin: []byte("\x00\x00\x01\xba\x44\x00\x04\x00\x14\x01"),
		end:   []byte("\x00\x00\x01\xb9"),
		ext:   "m2v",
	}
	mpgPattern = carve.Literal(string(mpgVideo.begin))
	m2vPattern = carve.Literal(string(m2vVideo.begin))
)

// MPGVideo decodes MPEG-1 program streams.
type MPGVideo struct{}

func (MPGVideo) Signature() (*carve.Pattern, carve.ScanOptions) {
	return mpgPattern, carve.ScanOptions{Step: 10}
}

func (MPGVideo) Decode(c *carve.Context, off int64) (int64, error) {
	return mpgVideo.Decode(c, off)
}

// M2V decodes MPEG-2 program streams.
type M2V struct{}

func (M2V) Signature() (*carve.Pattern, carve.ScanOptions) {
	return m2vPattern, carve.ScanOptions{Step: 10}
}

func (M2V) Decode(c *carve.Context, off int64) (int64, error) {
	return m2vVideo.Decode(c, off)
}
