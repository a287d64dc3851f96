package carve_test

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetsuo/carve"
	"github.com/tetsuo/carve/internal/logging"
)

// blob is "BLOB", a 32-bit little-endian payload size, then the payload.
type blob struct{}

func (blob) Signature() (*carve.Pattern, carve.ScanOptions) {
	return carve.Literal("BLOB"), carve.ScanOptions{}
}

func (blob) Decode(c *carve.Context, off int64) (int64, error) {
	n, err := c.U32(off+4, binary.LittleEndian)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, c.Invalid(off+4, "empty blob")
	}
	c.Relevant("blob")
	c.Meta("size", n)
	end := off + 8 + int64(n)
	if err := c.Progress(end); err != nil {
		return 0, err
	}
	return end, nil
}

func blobBytes(payload string) []byte {
	b := []byte("BLOB")
	b = binary.LittleEndian.AppendUint32(b, uint32(len(payload)))
	return append(b, payload...)
}

// boxed is blob under another name and signature.
type boxed struct{ blob }

func (boxed) Signature() (*carve.Pattern, carve.ScanOptions) {
	return carve.Literal("BOXX"), carve.ScanOptions{}
}

func (b boxed) Decode(c *carve.Context, off int64) (int64, error) {
	end, err := b.blob.Decode(c, off)
	if c.IsRelevant() {
		c.Relevant("box")
	}
	return end, err
}

func boxBytes(payload []byte) []byte {
	b := []byte("BOXX")
	b = binary.LittleEndian.AppendUint32(b, uint32(len(payload)))
	return append(b, payload...)
}

// partial commits, progresses six bytes, then rejects what follows.
type partial struct{}

func (partial) Signature() (*carve.Pattern, carve.ScanOptions) {
	return carve.Literal("PART"), carve.ScanOptions{}
}

func (partial) Decode(c *carve.Context, off int64) (int64, error) {
	c.Relevant("part")
	if err := c.Progress(off + 6); err != nil {
		return 0, err
	}
	return 0, c.Invalid(off+6, "bad tail")
}

// backward reads the byte before its window when its magic is followed
// by '<'.
type backward struct{}

func (backward) Signature() (*carve.Pattern, carve.ScanOptions) {
	return carve.Literal("BACK"), carve.ScanOptions{}
}

func (backward) Decode(c *carve.Context, off int64) (int64, error) {
	if c.Equal(off+4, "<") {
		if _, err := c.U8(c.Begin - 1); err != nil {
			return 0, err
		}
	}
	c.Relevant("back")
	return off + 4, nil
}

// empty commits but claims no byte.
type empty struct{}

func (empty) Signature() (*carve.Pattern, carve.ScanOptions) {
	return carve.Literal("NULL"), carve.ScanOptions{}
}

func (empty) Decode(c *carve.Context, off int64) (int64, error) {
	c.Relevant("null")
	return off, nil
}

// spin keeps a decode alive until the analysis is cancelled.
type spin struct{ started chan struct{} }

func (spin) Signature() (*carve.Pattern, carve.ScanOptions) {
	return carve.Literal("SPIN"), carve.ScanOptions{}
}

func (s spin) Decode(c *carve.Context, off int64) (int64, error) {
	close(s.started)
	for {
		if err := c.KeepAlive(); err != nil {
			return 0, err
		}
		runtime.Gosched()
	}
}

// registry serves pattern decoders in insertion order.
type registry struct {
	names    []string
	decoders map[string]carve.Decoder
}

func newRegistry(pairs ...any) *registry {
	r := &registry{decoders: map[string]carve.Decoder{}}
	for i := 0; i < len(pairs); i += 2 {
		name := pairs[i].(string)
		r.names = append(r.names, name)
		r.decoders[name] = pairs[i+1].(carve.Decoder)
	}
	return r
}

func (r *registry) Names() []string { return r.names }

func (r *registry) Finder(name string) (carve.Finder, error) {
	d, ok := r.decoders[name]
	if !ok {
		return nil, fmt.Errorf("unknown decoder %q", name)
	}
	return carve.Patterns(d), nil
}

func analyze(t *testing.T, reg carve.Registry, data []byte, opts ...carve.Option) []carve.Segment {
	t.Helper()
	opts = append([]carve.Option{carve.WithLogger(logging.NewTestLogger(t))}, opts...)
	segs, err := carve.New(reg, opts...).Segments(carve.NewSource(data))
	require.NoError(t, err)
	requirePartition(t, segs, int64(len(data)))
	return segs
}

// requirePartition checks that segs cover [0, size) without gap nor
// overlap, and that no two unknown segments are adjacent.
func requirePartition(t *testing.T, segs []carve.Segment, size int64) {
	t.Helper()
	var last int64
	for i, seg := range segs {
		require.Equal(t, last, seg.Begin, "segment %d", i)
		require.Greater(t, seg.End, seg.Begin, "segment %d", i)
		if i > 0 {
			require.False(t, seg.IsUnknown() && segs[i-1].IsUnknown(), "adjacent unknown segments at %d", i)
		}
		last = seg.End
	}
	require.Equal(t, size, last)
}

func join(parts ...[]byte) []byte { return bytes.Join(parts, nil) }

func garbage(n int) []byte { return bytes.Repeat([]byte{0x01}, n) }

func TestAnalyzerPartition(t *testing.T) {
	reg := newRegistry("blob", blob{})
	data := join(garbage(10), blobBytes("twenty bytes payload"), garbage(5), blobBytes("abc"))
	segs := analyze(t, reg, data)

	require.Len(t, segs, 4)
	assert.True(t, segs[0].IsUnknown())
	assert.Equal(t, []string{"blob"}, segs[1].Extensions)
	assert.EqualValues(t, 10, segs[1].Begin)
	assert.EqualValues(t, 38, segs[1].End)
	assert.EqualValues(t, 20, segs[1].Metadata["size"])
	assert.True(t, segs[2].IsUnknown())
	assert.EqualValues(t, 43, segs[3].Begin)
	assert.False(t, segs[3].Truncated)
}

func TestAnalyzerEmpty(t *testing.T) {
	segs, err := carve.New(newRegistry("blob", blob{})).Segments(carve.NewSource(nil))
	require.NoError(t, err)
	assert.Empty(t, segs)
}

func TestAnalyzerGarbagePadding(t *testing.T) {
	reg := newRegistry("blob", blob{})
	file := blobBytes("payload")
	ref := analyze(t, reg, file)
	require.Len(t, ref, 1)

	cases := []struct {
		name          string
		before, after int
	}{
		{"Before", 1024, 0},
		{"After", 0, 1024},
		{"Both", 1024, 1024},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			segs := analyze(t, reg, join(garbage(c.before), file, garbage(c.after)))
			var found []carve.Segment
			for _, seg := range segs {
				if !seg.IsUnknown() {
					found = append(found, seg)
				}
			}
			require.Len(t, found, 1)
			assert.EqualValues(t, c.before, found[0].Begin)
			assert.Equal(t, ref[0].Len(), found[0].Len())
			assert.Equal(t, ref[0].Extensions, found[0].Extensions)
			assert.Equal(t, ref[0].Metadata, found[0].Metadata)
		})
	}
}

func TestAnalyzerDuplication(t *testing.T) {
	file := blobBytes("payload")
	segs := analyze(t, newRegistry("blob", blob{}), join(file, file))
	require.Len(t, segs, 2)
	assert.Equal(t, segs[0].Len(), segs[1].Len())
	assert.Equal(t, segs[0].Metadata, segs[1].Metadata)
}

func TestAnalyzerTruncated(t *testing.T) {
	file := blobBytes("0123456789")
	segs := analyze(t, newRegistry("blob", blob{}), file[:12])
	require.Len(t, segs, 1)
	assert.True(t, segs[0].Truncated)
	assert.EqualValues(t, 12, segs[0].End)
	assert.EqualValues(t, 10, segs[0].Metadata["size"], "metadata read before the cut")

	segs = analyze(t, newRegistry("blob", blob{}), file[:6])
	require.Len(t, segs, 1)
	assert.True(t, segs[0].IsUnknown(), "header cut before the decoder committed")
}

func TestAnalyzerPriority(t *testing.T) {
	data := boxBytes(blobBytes("abcd"))

	segs := analyze(t, newRegistry("box", boxed{}, "blob", blob{}), data)
	require.Len(t, segs, 1)
	assert.Equal(t, []string{"box"}, segs[0].Extensions)
	assert.False(t, segs[0].Truncated)

	segs = analyze(t, newRegistry("box", boxed{}, "blob", blob{}), data, carve.WithDecoders("blob", "box"))
	require.Len(t, segs, 2)
	assert.Equal(t, []string{"box"}, segs[0].Extensions)
	assert.True(t, segs[0].Truncated, "the embedded blob was carved out first")
	assert.Equal(t, []string{"blob"}, segs[1].Extensions)
}

func TestAnalyzerInvalidAfterRelevant(t *testing.T) {
	segs := analyze(t, newRegistry("part", partial{}), []byte("PART0123456789"))
	require.Len(t, segs, 2)
	assert.Equal(t, []string{"part"}, segs[0].Extensions)
	assert.EqualValues(t, 6, segs[0].End)
	assert.True(t, segs[0].Truncated)
	assert.True(t, segs[1].IsUnknown())
}

func TestAnalyzerOutOfBoundsBefore(t *testing.T) {
	data := join(blobBytes("abcd"), []byte("BACK<"), garbage(3))
	segs := analyze(t, newRegistry("blob", blob{}, "back", backward{}), data)
	require.Len(t, segs, 2)
	assert.Equal(t, []string{"blob"}, segs[0].Extensions)
	assert.True(t, segs[1].IsUnknown())

	t.Run("LaterCandidate", func(t *testing.T) {
		// the failing candidate does not end the scan of its window
		data := join([]byte("BACK<"), garbage(3), []byte("BACK"), garbage(2))
		segs := analyze(t, newRegistry("back", backward{}), data)
		require.Len(t, segs, 3, "%v", segs)
		assert.True(t, segs[0].IsUnknown())
		assert.Equal(t, []string{"back"}, segs[1].Extensions)
		assert.EqualValues(t, 8, segs[1].Begin)
		assert.EqualValues(t, 12, segs[1].End)
		assert.True(t, segs[2].IsUnknown())
	})
}

func TestAnalyzerTermination(t *testing.T) {
	data := bytes.Repeat([]byte("NULL"), 256)
	segs := analyze(t, newRegistry("null", empty{}), data)
	require.Len(t, segs, 1)
	assert.True(t, segs[0].IsUnknown())
}

func TestAnalyzerUnknownDecoder(t *testing.T) {
	a := carve.New(newRegistry("blob", blob{}), carve.WithDecoders("nope"))
	_, err := a.Segments(carve.NewSource([]byte("data")))
	require.Error(t, err)
}

func TestAnalyzerProgress(t *testing.T) {
	data := join(garbage(8), blobBytes("abcd"))
	a := carve.New(newRegistry("blob", blob{}))
	_, err := a.Segments(carve.NewSource(data))
	require.NoError(t, err)
	total, decoded := a.Progress()
	assert.EqualValues(t, len(data), total)
	assert.EqualValues(t, 12, decoded)
}

func TestAnalyzerCancel(t *testing.T) {
	d := spin{started: make(chan struct{})}
	a := carve.New(newRegistry("spin", d))
	data := join(garbage(16), []byte("SPIN"), garbage(16))

	type result struct {
		segs []carve.Segment
		err  error
	}
	done := make(chan result, 1)
	go func() {
		segs, err := a.Segments(carve.NewSource(data))
		done <- result{segs, err}
	}()

	select {
	case <-d.started:
	case <-time.After(5 * time.Second):
		t.Fatal("decoder did not start")
	}
	a.Cancel()

	select {
	case r := <-done:
		require.ErrorIs(t, r.err, carve.ErrCancelled)
		requirePartition(t, r.segs, int64(len(data)))
	case <-time.After(5 * time.Second):
		t.Fatal("analysis did not stop")
	}
}

func TestGetSegments(t *testing.T) {
	data := join(garbage(3), blobBytes("file"))
	path := filepath.Join(t.TempDir(), "input.bin")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	segs, err := carve.New(newRegistry("blob", blob{})).GetSegments(path)
	require.NoError(t, err)
	requirePartition(t, segs, int64(len(data)))
	require.Len(t, segs, 2)
	assert.Equal(t, "[blob 3..15]", segs[1].String())

	_, err = carve.New(newRegistry("blob", blob{})).GetSegments(filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSegment(t *testing.T) {
	seg := carve.Segment{Begin: 4, End: 10, Extensions: []string{"dll", "exe"}, Truncated: true}
	assert.EqualValues(t, 6, seg.Len())
	assert.Equal(t, "dll", seg.Extension())
	assert.False(t, seg.IsUnknown())
	assert.Equal(t, "[dll,exe 4..10 truncated]", seg.String())
	assert.Equal(t, carve.Unknown, carve.Segment{}.Extension())
}
