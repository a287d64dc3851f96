package carve

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tetsuo/carve/internal/metrics"
)

// Scan is one run of one decoder over one window of a Source.
type Scan struct {
	src  *Source
	log  zerolog.Logger
	name string

	// Begin and End bound the window being scanned.
	Begin, End int64

	cancelled func() bool
	decoded   func(n int64)
	found     []Segment
}

// NewScan returns a scan of the current window of src by the decoder
// called name. Analyzer builds its scans the same way, with its own
// cancellation flag and progress counter.
func NewScan(src *Source, name string, log zerolog.Logger) *Scan {
	begin, end := src.Window()
	return &Scan{
		src:       src,
		log:       log.With().Str("decoder", name).Logger(),
		name:      name,
		Begin:     begin,
		End:       end,
		cancelled: func() bool { return false },
		decoded:   func(int64) {},
	}
}

// Source returns the scanned source.
func (s *Scan) Source() *Source { return s.src }

// Logger returns the logger of the scan.
func (s *Scan) Logger() *zerolog.Logger { return &s.log }

// Segments returns the segments found so far, in the order they were found.
func (s *Scan) Segments() []Segment { return s.found }

// KeepAlive returns ErrCancelled once the analysis is cancelled.
func (s *Scan) KeepAlive() error {
	if s.cancelled() {
		return ErrCancelled
	}
	return nil
}

// Found records a segment. A segment ending past the window is cut at the
// window end and marked truncated.
func (s *Scan) Found(seg Segment) error {
	if seg.Begin < s.Begin {
		return fmt.Errorf("segment begin %d is before window begin %d", seg.Begin, s.Begin)
	}
	if seg.End > s.End {
		s.log.Debug().Int64("end", seg.End).Int64("window_end", s.End).Msg("Segment ends past the window, marking truncated")
		seg.End = s.End
		seg.Truncated = true
	}
	if seg.End <= seg.Begin {
		return fmt.Errorf("empty segment [%d,%d)", seg.Begin, seg.End)
	}
	if len(s.found) > 0 && seg.Begin < s.found[len(s.found)-1].End {
		return fmt.Errorf("segment [%d,%d) overlaps the previous one", seg.Begin, seg.End)
	}
	s.found = append(s.found, seg)
	s.decoded(seg.Len())
	metrics.ObserveSegment(s.name, seg.Len(), seg.Truncated)
	s.log.Debug().Stringer("segment", seg).Msg("Found segment")
	return nil
}

// patternScanner runs a Decoder at every match of its start pattern.
type patternScanner struct {
	d     Decoder
	check Checker
}

// Patterns returns a Finder that runs d at every match of its start pattern.
func Patterns(d Decoder) Finder {
	p := &patternScanner{d: d}
	p.check, _ = d.(Checker)
	return p
}

func (p *patternScanner) FindSegments(s *Scan) error {
	pat, opts := p.d.Signature()
	opts = opts.WithDefaults()
	finder := newPatternFinder(pat)

	cursor := s.Begin
	floor := s.Begin // no candidate may start before this
	for cursor < s.End {
		match, alt, ok := finder.find(s.src.data, cursor, s.End)
		if !ok {
			s.log.Debug().Int64("offset", cursor).Msg("No more pattern")
			return nil
		}
		candidate := match - opts.PatternOffset
		if candidate < floor {
			cursor = match + opts.Step
			continue
		}

		s.log.Debug().Int64("offset", candidate).Int("alt", alt).Msg("Found begin pattern")
		end, ok, err := p.try(s, candidate, alt)
		if err != nil {
			return err
		}
		if !ok {
			cursor = match + opts.Step
			continue
		}
		floor = end
		cursor = max(end, cursor+1)
	}
	return nil
}

// try decodes one candidate. It reports whether a segment was found and
// where it ends. Errors returned are the ones that must stop the scan.
func (p *patternScanner) try(s *Scan, off int64, alt int) (int64, bool, error) {
	metrics.DecodeAttempts.WithLabelValues(s.name).Inc()
	c := newContext(s)
	if p.check != nil && !p.check.Check(c, off, alt) {
		s.log.Debug().Int64("offset", off).Msg("Pattern rejected by check")
		return 0, false, nil
	}

	end, err := p.d.Decode(c, off)
	truncated := false
	if errors.Is(err, ErrOutOfBoundsBefore) {
		s.log.Error().Err(err).Int64("offset", off).Msg("Decoder read before its window")
		return 0, false, nil
	}
	if err != nil {
		if !recoverable(err) {
			return 0, false, err
		}
		var de *DecodeError
		if errors.As(err, &de) && de.Outcome != OutcomeTruncated {
			if de.Outcome == OutcomeNotSupported {
				metrics.DecodeUnsupported.WithLabelValues(s.name).Inc()
				s.log.Info().Err(err).Int64("offset", off).Msg("Unsupported structure")
			} else {
				s.log.Debug().Err(err).Int64("offset", off).Msg("Invalid data")
			}
			last, progressed := c.LastProgress()
			if !c.IsRelevant() || !progressed {
				return 0, false, nil
			}
			end = last
		} else {
			s.log.Debug().Err(err).Int64("offset", off).Msg("Truncated data")
			if !c.IsRelevant() {
				return 0, false, nil
			}
			end = s.End
		}
		truncated = true
	}
	if !c.IsRelevant() {
		s.log.Debug().Int64("offset", off).Msg("Decoded without relevant data")
		return 0, false, nil
	}
	if end > s.End {
		end, truncated = s.End, true
	}
	if end <= off {
		return 0, false, nil
	}

	err = s.Found(Segment{
		Begin:               off,
		End:                 end,
		Extensions:          append([]string(nil), c.exts...),
		Truncated:           truncated,
		MissingPreviousData: c.missingPrev,
		Metadata:            c.meta,
	})
	if err != nil {
		return 0, false, err
	}
	return end, true, nil
}
