package carve

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tetsuo/carve/internal/metrics"
)

// Analyzer splits inputs into segments by running the decoders of a
// Registry in order over the bytes still unknown.
//
// Cancel and Progress may be called from any goroutine. Segments itself
// must not be called concurrently on the same Analyzer.
type Analyzer struct {
	reg   Registry
	names []string
	log   zerolog.Logger

	cancelled atomic.Bool
	total     atomic.Int64
	decoded   atomic.Int64
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(a *Analyzer) { a.log = log }
}

// WithDecoders runs only the named decoders, in the given order.
func WithDecoders(names ...string) Option {
	return func(a *Analyzer) {
		if len(names) > 0 {
			a.names = names
		}
	}
}

// New returns an Analyzer using the decoders of reg.
func New(reg Registry, opts ...Option) *Analyzer {
	a := &Analyzer{
		reg:   reg,
		names: reg.Names(),
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Cancel stops the running and any later analysis. It is safe to call
// more than once.
func (a *Analyzer) Cancel() { a.cancelled.Store(true) }

// Progress returns the size of the input being analyzed and the number of
// bytes attributed to a format so far.
func (a *Analyzer) Progress() (total, decoded int64) {
	return a.total.Load(), a.decoded.Load()
}

// GetSegments opens the file at path and returns its segments.
func (a *Analyzer) GetSegments(path string) ([]Segment, error) {
	src, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()

	log := a.log.With().Str("file", path).Logger()
	log.Debug().Int64("size", src.Size()).Msg("Analyzing")
	segs, err := a.segments(src, log)
	if err == nil {
		metrics.FilesScanned.Inc()
	}
	return segs, err
}

// Segments returns the segments of src. On cancellation or failure it
// returns the segments assembled so far along with the error.
func (a *Analyzer) Segments(src *Source) ([]Segment, error) {
	return a.segments(src, a.log)
}

func (a *Analyzer) segments(src *Source, log zerolog.Logger) ([]Segment, error) {
	a.total.Store(src.Size())
	a.decoded.Store(0)
	if src.Size() == 0 {
		return nil, nil
	}

	segs := []Segment{unknownSegment(0, src.Size())}
	for _, name := range a.names {
		finder, err := a.reg.Finder(name)
		if err != nil {
			return segs, fmt.Errorf("decoder %s: %w", name, err)
		}
		start := time.Now()
		segs, err = a.pass(src, name, finder, segs, log)
		metrics.ObservePass(name, start)
		if err != nil {
			return segs, err
		}
	}
	return segs, nil
}

// pass runs one decoder over every unknown segment of segs and returns
// the new list.
func (a *Analyzer) pass(src *Source, name string, finder Finder, segs []Segment, log zerolog.Logger) ([]Segment, error) {
	split := make([]Segment, 0, len(segs))
	for i, seg := range segs {
		if !seg.IsUnknown() {
			split = append(split, seg)
			continue
		}

		src.SetWindow(seg.Begin, seg.End)
		scan := &Scan{
			src:       src,
			log:       log.With().Str("decoder", name).Logger(),
			name:      name,
			Begin:     seg.Begin,
			End:       seg.End,
			cancelled: a.cancelled.Load,
			decoded:   func(n int64) { a.decoded.Add(n) },
		}
		scan.log.Debug().Int64("begin", seg.Begin).Int64("end", seg.End).Msg("Scanning unknown segment")

		err := finder.FindSegments(scan)
		switch {
		case err == nil:
		case errors.Is(err, ErrOutOfBoundsBefore):
			scan.log.Error().Err(err).Int64("begin", seg.Begin).Int64("end", seg.End).Msg("Decoder read before its window")
		default:
			split = append(split, splitUnknown(seg, scan.found)...)
			split = append(split, segs[i+1:]...)
			return mergeUnknown(split), err
		}
		split = append(split, splitUnknown(seg, scan.found)...)
	}
	return mergeUnknown(split), nil
}

// splitUnknown replaces the unknown segment seg by found, filling the
// gaps with unknown segments.
func splitUnknown(seg Segment, found []Segment) []Segment {
	if len(found) == 0 {
		return []Segment{seg}
	}
	out := make([]Segment, 0, 2*len(found)+1)
	last := seg.Begin
	for _, f := range found {
		if f.Begin > last {
			out = append(out, unknownSegment(last, f.Begin))
		}
		out = append(out, f)
		last = f.End
	}
	if seg.End > last {
		out = append(out, unknownSegment(last, seg.End))
	}
	return out
}

// mergeUnknown coalesces runs of consecutive unknown segments.
func mergeUnknown(segs []Segment) []Segment {
	out := segs[:0]
	for _, seg := range segs {
		if n := len(out); n > 0 && seg.IsUnknown() && out[n-1].IsUnknown() {
			out[n-1].End = seg.End
			continue
		}
		out = append(out, seg)
	}
	return out
}
