package formats

import (
	"bytes"
	"regexp"

	"github.com/tetsuo/carve"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// Text finds runs of text around newlines: plain text, SubRip subtitles
// and RTF documents, in ASCII-compatible encodings or UTF-16.
type Text struct{}

const textMinSize = 512

var (
	srtIndex = regexp.MustCompile(`^\d+$`)
	srtTime  = regexp.MustCompile(`^\d\d:\d\d:\d\d,\d\d\d --> \d\d:\d\d:\d\d,\d\d\d$`)
	rtfStart = regexp.MustCompile(`^\{\\rtf`)
)

// textByte reports whether b belongs to a text run. distance counts the
// bytes from the newline the run was found from; NULs at odd distances
// are the high bytes of UTF-16 characters.
func textByte(b byte, distance int64, newline bool) bool {
	switch {
	case b >= 32 && b != 127:
		return true
	case b == '\t', b == '\r':
		return true
	case b == '\n':
		return newline
	case b == 0:
		return distance%2 == 1
	}
	return false
}

func (Text) FindSegments(s *carve.Scan) error {
	window, err := s.Source().Read(s.Begin, s.End-s.Begin)
	if err != nil {
		return err
	}
	at := func(off int64) byte { return window[off-s.Begin] }

	cursor := s.Begin
	for cursor < s.End {
		if err := s.KeepAlive(); err != nil {
			return err
		}
		i := bytes.IndexByte(window[cursor-s.Begin:], '\n')
		if i < 0 {
			s.Logger().Debug().Int64("offset", cursor).Msg("No more text")
			return nil
		}
		nl := cursor + int64(i)

		begin := nl - 1
		for d := int64(1); begin >= s.Begin && textByte(at(begin), d, false); d++ {
			begin--
		}
		begin++
		end := nl + 1
		for d := int64(1); end < s.End && textByte(at(end), d, true); d++ {
			end++
		}

		seg, ok := sniffText(window[begin-s.Begin : end-s.Begin])
		if ok {
			seg.Begin, seg.End = begin, end
			if err := s.Found(seg); err != nil {
				return err
			}
		} else {
			s.Logger().Debug().Int64("offset", begin).Int64("size", end-begin).Msg("Text run too short")
		}
		cursor = end + 1
	}
	return nil
}

// sniffText classifies a text run. It reports false for runs too short to
// be a text file.
func sniffText(text []byte) (carve.Segment, bool) {
	enc := "ascii"
	var dec *encoding.Decoder
	if len(text) > 1 {
		switch {
		case text[0] == 0:
			enc, dec = "utf-16be", unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
		case text[1] == 0:
			enc, dec = "utf-16le", unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
		}
	}
	if dec == nil && len(text) < textMinSize || dec != nil && len(text) < 2*textMinSize {
		return carve.Segment{}, false
	}
	if dec != nil {
		if b, err := dec.Bytes(text); err == nil {
			text = b
		}
	}

	lines := bytes.Split(text, []byte("\r\n"))
	if len(lines) == 1 {
		lines = bytes.Split(text, []byte("\n"))
	}
	ext := "txt"
	switch {
	case len(lines) > 1 && srtIndex.Match(lines[0]) && srtTime.Match(lines[1]):
		ext = "srt"
	case rtfStart.Match(lines[0]):
		ext = "rtf"
	}
	return carve.Segment{
		Extensions: []string{ext},
		Metadata: map[string]any{
			"encoding":  enc,
			"nbr_lines": len(lines),
		},
	}, true
}
