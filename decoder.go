package carve

import "fmt"

// ScanOptions tune how a pattern scan moves through a window.
type ScanOptions struct {
	// ProbeSize is the longest pattern the scan may have to match at one
	// position. Zero means 32.
	ProbeSize int

	// Step is how far past a rejected candidate the scan resumes. Zero means 1.
	Step int64

	// PatternOffset is the distance from the start of a segment to its
	// pattern (MP4 box types follow a 4-byte size).
	PatternOffset int64
}

// WithDefaults returns o with zero fields replaced by their defaults.
func (o ScanOptions) WithDefaults() ScanOptions {
	if o.ProbeSize == 0 {
		o.ProbeSize = 32
	}
	if o.Step == 0 {
		o.Step = 1
	}
	return o
}

// Decoder recognizes one format family starting at pattern matches.
type Decoder interface {
	// Signature returns the start pattern and scan tuning.
	Signature() (*Pattern, ScanOptions)

	// Decode parses the format starting at off and returns its end offset.
	// It must call c.Relevant once the data is known to be of its format.
	Decode(c *Context, off int64) (int64, error)
}

// Checker is implemented by decoders that can cheaply reject a pattern
// match before decoding. alt is the pattern alternative that matched.
type Checker interface {
	Check(c *Context, off int64, alt int) bool
}

// Finder finds segments in the window of a scan, reporting each through
// Scan.Found. Pattern decoders become Finders through Patterns.
type Finder interface {
	FindSegments(s *Scan) error
}

// Registry provides decoders by name, and the order to run them in.
type Registry interface {
	Names() []string
	Finder(name string) (Finder, error)
}

// Validate checks that the signature of d is usable.
func Validate(d Decoder) error {
	p, opts := d.Signature()
	opts = opts.WithDefaults()
	if p == nil || p.Alternatives() == 0 {
		return fmt.Errorf("decoder %T has no start pattern", d)
	}
	if p.Len() > opts.ProbeSize {
		return fmt.Errorf("decoder %T: pattern %v is longer than probe size %d", d, p, opts.ProbeSize)
	}
	if opts.Step < 0 || opts.PatternOffset < 0 {
		return fmt.Errorf("decoder %T: negative step or pattern offset", d)
	}
	return nil
}
