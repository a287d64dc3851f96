package carve_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetsuo/carve"
)

func TestContextBounds(t *testing.T) {
	src := carve.NewSource([]byte("0123456789abcdef"))
	src.SetWindow(4, 12)
	c := carve.NewContext(src)
	assert.EqualValues(t, 4, c.Begin)
	assert.EqualValues(t, 12, c.End)

	b, err := c.Bytes(4, 8)
	require.NoError(t, err)
	assert.Equal(t, "456789ab", string(b))

	_, err = c.Bytes(3, 2)
	require.ErrorIs(t, err, carve.ErrOutOfBoundsBefore)
	_, err = c.Bytes(10, 4)
	require.ErrorIs(t, err, carve.ErrOutOfBoundsAfter)
	var be *carve.BoundsError
	require.ErrorAs(t, err, &be)
	assert.False(t, be.Before())

	assert.True(t, c.Equal(8, "89"))
	assert.False(t, c.Equal(11, "bc"))
	assert.EqualValues(t, 10, c.IndexBytes([]byte("ab"), 4))
	assert.EqualValues(t, -1, c.IndexBytes([]byte("bc"), 4))
	assert.EqualValues(t, -1, c.IndexBytes([]byte("23"), 4))
}

func TestContextNested(t *testing.T) {
	c := carve.NewContext(carve.NewSource(make([]byte, 32)))
	c.Relevant("outer")
	n := c.Nested(8, 64)
	assert.EqualValues(t, 8, n.Begin)
	assert.EqualValues(t, 32, n.End)
	assert.False(t, n.IsRelevant())
	n.Meta("k", 1)
	assert.Empty(t, c.Metadata())
}

func TestContextProgress(t *testing.T) {
	c := carve.NewContext(carve.NewSource(make([]byte, 16)))
	_, ok := c.LastProgress()
	assert.False(t, ok)

	require.NoError(t, c.Progress(16))
	err := c.Progress(17)
	require.ErrorIs(t, err, carve.ErrTruncated)
	last, ok := c.LastProgress()
	assert.True(t, ok)
	assert.EqualValues(t, 17, last)
}

func TestDecodeErrors(t *testing.T) {
	c := carve.NewContext(carve.NewSource(nil))
	cases := []struct {
		err      error
		sentinel error
		outcome  carve.Outcome
	}{
		{c.Invalid(3, "bad %s", "magic"), carve.ErrInvalid, carve.OutcomeInvalid},
		{c.Truncated(4, "short"), carve.ErrTruncated, carve.OutcomeTruncated},
		{c.NotSupported(5, "v%d", 2), carve.ErrNotSupported, carve.OutcomeNotSupported},
	}
	for _, tc := range cases {
		t.Run(tc.outcome.String(), func(t *testing.T) {
			require.ErrorIs(t, tc.err, tc.sentinel)
			var de *carve.DecodeError
			require.ErrorAs(t, tc.err, &de)
			assert.Equal(t, tc.outcome, de.Outcome)
		})
	}
	assert.Equal(t, "@3 invalid: bad magic", cases[0].err.Error())
}

func TestCursor(t *testing.T) {
	c := carve.NewContext(carve.NewSource([]byte{
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09,
	}))

	r := c.At(0)
	assert.EqualValues(t, 0x0201, r.U16())
	assert.EqualValues(t, 0x03, r.U8())
	assert.EqualValues(t, 0x07060504, r.U32())
	assert.EqualValues(t, 7, r.Offset())
	assert.EqualValues(t, 0, r.U32(), "past the end")
	require.ErrorIs(t, r.Err(), carve.ErrOutOfBoundsAfter)
	assert.EqualValues(t, 0, r.Seek(0).U8(), "errors are sticky")

	r = c.AtBE(1)
	assert.EqualValues(t, 0x020304, r.U24BE())
	r.Skip(1)
	assert.EqualValues(t, 0x0607, r.U16())
	assert.Equal(t, "\x08\x09", r.String(2))
	require.NoError(t, r.Err())

	v, err := c.U32(1, binary.BigEndian)
	require.NoError(t, err)
	assert.EqualValues(t, 0x02030405, v)
	_, err = c.U64(2, binary.LittleEndian)
	require.ErrorIs(t, err, carve.ErrOutOfBoundsAfter)
}
