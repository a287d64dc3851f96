package bmff_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetsuo/carve/internal/bmff"
)

func writeVideoTrak(w *bmff.Writer) {
	w.StartBox(bmff.TypeTrak)
	w.WriteTkhd(1, 3000, 320, 240)
	w.StartBox(bmff.TypeMdia)
	w.WriteMdhd(1000, 3000, "eng")
	w.WriteHdlr(bmff.HandlerVideo, "VideoHandler")
	w.StartBox(bmff.TypeMinf)
	w.WriteVmhd()
	w.WriteDinf()
	w.StartBox(bmff.TypeStbl)
	w.StartStsd(1)
	w.StartVisualSampleEntry(bmff.TypeAvc1, 320, 240, "test")
	w.WriteAvcC(0x64, 0x00, 0x1f)
	w.EndBox()
	w.EndBox()
	w.WriteStsz(0, []uint32{100, 200, 300})
	w.WriteStco([]uint32{48})
	w.WriteStss([]uint32{1})
	w.EndBox()
	w.EndBox()
	w.EndBox()
	w.EndBox()
}

func writeAudioTrak(w *bmff.Writer) {
	w.StartBox(bmff.TypeTrak)
	w.WriteTkhd(2, 3000, 0, 0)
	w.StartBox(bmff.TypeMdia)
	w.WriteMdhd(44100, 132300, "und")
	w.WriteHdlr(bmff.HandlerSound, "SoundHandler")
	w.StartBox(bmff.TypeMinf)
	w.WriteSmhd()
	w.WriteDinf()
	w.StartBox(bmff.TypeStbl)
	w.StartStsd(1)
	w.StartAudioSampleEntry(bmff.TypeMp4a, 2, 16, 44100)
	w.WriteEsds(0x40, 2)
	w.EndBox()
	w.EndBox()
	w.WriteStsz(512, []uint32{0, 0})
	w.WriteCo64([]uint64{1 << 33})
	w.EndBox()
	w.EndBox()
	w.EndBox()
	w.EndBox()
}

// trakPayload returns the payload of the single trak box written by fn.
func trakPayload(t *testing.T, fn func(*bmff.Writer)) []byte {
	t.Helper()
	w := bmff.NewWriter(nil)
	fn(w)
	r := bmff.NewReader(w.Bytes())
	require.True(t, r.Next())
	require.Equal(t, bmff.TypeTrak, r.Type())
	return r.Data()
}

func TestReadTrack(t *testing.T) {
	t.Run("Video", func(t *testing.T) {
		track, err := bmff.ReadTrack(trakPayload(t, writeVideoTrak))
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"id":           uint32(1),
			"handler":      "vide",
			"codec":        "avc1.64001f",
			"timescale":    uint32(1000),
			"duration":     uint64(3000),
			"language":     "eng",
			"width":        uint32(320),
			"height":       uint32(240),
			"sample_count": uint32(3),
			"sample_bytes": uint64(600),
			"chunk_count":  uint32(1),
			"sync_samples": uint32(1),
		}, track.Fields())
	})

	t.Run("Audio", func(t *testing.T) {
		track, err := bmff.ReadTrack(trakPayload(t, writeAudioTrak))
		require.NoError(t, err)
		assert.Equal(t, "mp4a.40.2", track.Codec)
		assert.EqualValues(t, 2, track.Channels)
		assert.EqualValues(t, 44100, track.SampleRate)
		assert.EqualValues(t, 2, track.SampleCount)
		assert.EqualValues(t, 1024, track.SampleBytes)
		assert.EqualValues(t, 1, track.ChunkCount)
		assert.Equal(t, "und", track.Language)
		assert.Zero(t, track.Width)
	})
}

func TestReaderNesting(t *testing.T) {
	w := bmff.NewWriter(nil)
	w.WriteFtyp("isom", 512, "isom", "mp41")
	w.StartBox(bmff.TypeMoov)
	w.WriteMvhd(bmff.Mvhd{Timescale: 1000, Duration: 1 << 33, Rate: 0x10000, Volume: 0x100, NextTrackID: 2})
	w.EndBox()
	w.WriteLargeBox(bmff.TypeMdat, []byte("payload"))

	r := bmff.NewReader(w.Bytes())
	var types []string
	for r.Next() {
		types = append(types, r.Type().String())
		switch r.Type() {
		case bmff.TypeFtyp:
			info, err := bmff.ReadFtyp(r.Data())
			require.NoError(t, err)
			assert.Equal(t, "isom", string(info.MajorBrand[:]))
			assert.EqualValues(t, 512, info.MinorVersion)
			assert.Equal(t, []string{"isom", "mp41"}, info.Brands())
		case bmff.TypeMoov:
			require.True(t, r.Enter(0))
			require.True(t, r.Next())
			assert.Equal(t, 1, r.Depth())
			assert.EqualValues(t, 1, r.Version())
			m, err := r.ReadMvhd()
			require.NoError(t, err)
			assert.EqualValues(t, 1<<33, m.Duration)
			assert.EqualValues(t, 2, m.NextTrackID)
			assert.False(t, r.Next())
			r.Exit()
		case bmff.TypeMdat:
			assert.Equal(t, "payload", string(r.Data()))
		}
	}
	require.NoError(t, r.Err())
	assert.Equal(t, []string{"ftyp", "moov", "mdat"}, types)
}

func TestReaderErrors(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		err  error
	}{
		{"ShortHeader", []byte{0, 0, 0}, bmff.ErrBoxSize},
		{"SizeBelowHeader", []byte{0, 0, 0, 4, 'f', 'r', 'e', 'e'}, bmff.ErrBoxSize},
		{"SizePastEnd", []byte{0, 0, 0, 16, 'f', 'r', 'e', 'e'}, bmff.ErrBoxSize},
		{"FullBoxWithoutVersion", []byte{0, 0, 0, 8, 'm', 'v', 'h', 'd'}, bmff.ErrShortBox},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := bmff.NewReader(c.data)
			assert.False(t, r.Next())
			require.ErrorIs(t, r.Err(), c.err)
		})
	}
}

func TestIterators(t *testing.T) {
	it := bmff.NewStszIter([]byte{0, 0, 0, 0, 0, 0, 0, 5, 0, 0, 0, 7})
	assert.EqualValues(t, 1, it.Count(), "count cut to the table")
	assert.EqualValues(t, 7, it.Total())

	u := bmff.NewUint32Iter([]byte{0, 0, 0, 2, 0, 0, 0, 1, 0, 0, 0, 9})
	assert.EqualValues(t, 2, u.Count())
	v, ok := u.Next()
	assert.True(t, ok)
	assert.EqualValues(t, 1, v)
	v, _ = u.Next()
	assert.EqualValues(t, 9, v)
	_, ok = u.Next()
	assert.False(t, ok)
}

func TestReadEsdsCodec(t *testing.T) {
	assert.Equal(t, "", bmff.ReadEsdsCodec(nil))
	assert.Equal(t, "", bmff.ReadEsdsCodec([]byte{0x04, 0x00}))
}
