package carve

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// byteClass matches a single byte in [lo, hi].
type byteClass struct {
	lo, hi byte
}

func (c byteClass) match(b byte) bool { return b >= c.lo && b <= c.hi }

func (c byteClass) exact() bool { return c.lo == c.hi }

// alternative is one fixed-length byte sequence of a Pattern.
type alternative struct {
	classes []byteClass
	prefix  []byte // leading exact bytes, used to skip ahead quickly
}

func newAlternative(classes []byteClass) alternative {
	a := alternative{classes: classes}
	for _, c := range classes {
		if !c.exact() {
			break
		}
		a.prefix = append(a.prefix, c.lo)
	}
	return a
}

func (a *alternative) matchAt(b []byte) bool {
	if len(b) < len(a.classes) {
		return false
	}
	for i, c := range a.classes {
		if !c.match(b[i]) {
			return false
		}
	}
	return true
}

// index returns the first position in b where a matches completely, or -1.
func (a *alternative) index(b []byte) int {
	n := len(a.classes)
	if n == 0 || len(b) < n {
		return -1
	}
	if len(a.prefix) == n {
		return bytes.Index(b, a.prefix)
	}
	pos := 0
	for pos+n <= len(b) {
		if len(a.prefix) > 0 {
			i := bytes.Index(b[pos:], a.prefix)
			if i < 0 {
				return -1
			}
			pos += i
			if pos+n > len(b) {
				return -1
			}
		}
		if a.matchAt(b[pos:]) {
			return pos
		}
		pos++
	}
	return -1
}

// Pattern is a set of alternative fixed-length byte sequences marking the
// possible start of a format. Bytes of a sequence may be exact values,
// ranges or wildcards.
type Pattern struct {
	alts []alternative
	text string
}

// Literal returns a pattern matching the given byte strings.
func Literal(seqs ...string) *Pattern {
	p := &Pattern{}
	var names []string
	for _, s := range seqs {
		classes := make([]byteClass, len(s))
		for i := 0; i < len(s); i++ {
			classes[i] = byteClass{s[i], s[i]}
		}
		p.alts = append(p.alts, newAlternative(classes))
		names = append(names, strconv.Quote(s))
	}
	p.text = strings.Join(names, " | ")
	return p
}

// Compile parses a pattern expression. Alternatives are separated by "|";
// each alternative is a space-separated list of tokens:
//
//	FF        exact byte in hex
//	??        any byte
//	[E2-FF]   inclusive byte range
//	"RIFF"    ASCII bytes
func Compile(expr string) (*Pattern, error) {
	p := &Pattern{text: expr}
	for _, part := range strings.Split(expr, "|") {
		classes, err := compileAlternative(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", expr, err)
		}
		p.alts = append(p.alts, newAlternative(classes))
	}
	return p, nil
}

// MustCompile is like Compile but panics on error. It is meant for
// package-level pattern tables.
func MustCompile(expr string) *Pattern {
	p, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return p
}

func compileAlternative(s string) ([]byteClass, error) {
	var classes []byteClass
	for len(s) > 0 {
		switch {
		case s[0] == ' ':
			s = s[1:]
		case s[0] == '"':
			end := strings.IndexByte(s[1:], '"')
			if end < 0 {
				return nil, fmt.Errorf("unterminated string")
			}
			for _, b := range []byte(s[1 : 1+end]) {
				classes = append(classes, byteClass{b, b})
			}
			s = s[end+2:]
		case s[0] == '[':
			end := strings.IndexByte(s, ']')
			if end < 0 || end != 6 || s[3] != '-' {
				return nil, fmt.Errorf("bad range %q", s)
			}
			lo, err := strconv.ParseUint(s[1:3], 16, 8)
			if err != nil {
				return nil, err
			}
			hi, err := strconv.ParseUint(s[4:6], 16, 8)
			if err != nil {
				return nil, err
			}
			if lo > hi {
				return nil, fmt.Errorf("empty range %q", s[:7])
			}
			classes = append(classes, byteClass{byte(lo), byte(hi)})
			s = s[7:]
		case strings.HasPrefix(s, "??"):
			classes = append(classes, byteClass{0x00, 0xff})
			s = s[2:]
		default:
			if len(s) < 2 {
				return nil, fmt.Errorf("bad token %q", s)
			}
			v, err := strconv.ParseUint(s[:2], 16, 8)
			if err != nil {
				return nil, fmt.Errorf("bad token %q", s[:2])
			}
			classes = append(classes, byteClass{byte(v), byte(v)})
			s = s[2:]
		}
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("empty alternative")
	}
	return classes, nil
}

// Len returns the length of the longest alternative.
func (p *Pattern) Len() int {
	n := 0
	for _, a := range p.alts {
		n = max(n, len(a.classes))
	}
	return n
}

// Alternatives returns the number of alternatives.
func (p *Pattern) Alternatives() int { return len(p.alts) }

// Match reports which alternative matches at the start of b, or -1.
func (p *Pattern) Match(b []byte) int {
	for i := range p.alts {
		if p.alts[i].matchAt(b) {
			return i
		}
	}
	return -1
}

func (p *Pattern) String() string { return p.text }

// patternFinder remembers the next match of every alternative, so a scan
// moving forward never searches the same bytes twice.
type patternFinder struct {
	p    *Pattern
	next []int64 // per alternative: next match offset, -1 when exhausted
	from []int64 // per alternative: offset next was searched from
}

func newPatternFinder(p *Pattern) *patternFinder {
	f := &patternFinder{
		p:    p,
		next: make([]int64, len(p.alts)),
		from: make([]int64, len(p.alts)),
	}
	for i := range f.from {
		f.from[i] = -1
	}
	return f
}

// find returns the earliest match at or after from in data[:end], and the
// index of the alternative that matched. Ties go to the first alternative.
func (f *patternFinder) find(data []byte, from, end int64) (int64, int, bool) {
	best, bestAlt := int64(-1), -1
	for i := range f.p.alts {
		if f.from[i] < 0 || from < f.from[i] || (f.next[i] >= 0 && f.next[i] < from) {
			f.from[i] = from
			f.next[i] = -1
			if from < end {
				if j := f.p.alts[i].index(data[from:end]); j >= 0 {
					f.next[i] = from + int64(j)
				}
			}
		}
		if n := f.next[i]; n >= 0 && (best < 0 || n < best) {
			best, bestAlt = n, i
		}
	}
	return best, bestAlt, best >= 0
}
