// Package carve partitions a binary blob into segments of recognized file formats.
//
// An Analyzer runs a list of format decoders, in priority order, over the parts of
// a Source that no earlier decoder claimed. Every byte of the input ends up in
// exactly one Segment; bytes nobody recognized are labeled "unknown".
package carve

import (
	"fmt"
	"strings"
)

// Unknown is the extension of segments not attributed to any decoder.
const Unknown = "unknown"

// Segment is a contiguous byte range of the input attributed to a format.
type Segment struct {
	Begin int64 // first byte
	End   int64 // one past the last byte

	// Extensions lists candidate file extensions, most likely first.
	Extensions []string

	// Truncated reports that the format expected more data after End.
	Truncated bool

	// MissingPreviousData reports that the segment depends on data before
	// Begin that was not observed.
	MissingPreviousData bool

	Metadata map[string]any
}

func unknownSegment(begin, end int64) Segment {
	return Segment{Begin: begin, End: end, Extensions: []string{Unknown}}
}

// IsUnknown reports whether the segment was not attributed to any decoder.
func (s Segment) IsUnknown() bool {
	return len(s.Extensions) == 1 && s.Extensions[0] == Unknown
}

// Len returns the segment size in bytes.
func (s Segment) Len() int64 { return s.End - s.Begin }

// Extension returns the most likely extension.
func (s Segment) Extension() string {
	if len(s.Extensions) == 0 {
		return Unknown
	}
	return s.Extensions[0]
}

func (s Segment) String() string {
	var flags string
	if s.Truncated {
		flags += " truncated"
	}
	if s.MissingPreviousData {
		flags += " missing-previous"
	}
	return fmt.Sprintf("[%s %d..%d%s]", strings.Join(s.Extensions, ","), s.Begin, s.End, flags)
}
