package formats_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCAB(t *testing.T) {
	seg := single(t, "CAB", cabFile())
	assert.Equal(t, map[string]any{
		"cabinet_size":         int64(79),
		"minor_version":        uint8(3),
		"major_version":        uint8(1),
		"nbr_cf_folders":       uint16(1),
		"nbr_cf_files":         uint16(1),
		"set_id":               uint16(0x1234),
		"idx_cabinet":          uint16(0),
		"flag_prev_cabinet":    false,
		"flag_next_cabinet":    false,
		"flag_reserve_present": false,
	}, seg.Metadata)

	t.Run("SizeMismatch", func(t *testing.T) {
		data := cabFile()
		le.PutUint32(data[8:], 80)
		seg := single(t, "CAB", data)
		assert.True(t, seg.Truncated)
		assert.EqualValues(t, 79, seg.End)
	})

	t.Run("Truncated", func(t *testing.T) {
		data := cabFile()
		seg := single(t, "CAB", data[:70])
		assert.True(t, seg.Truncated)
		assert.Equal(t, []string{"cab", "msu"}, seg.Extensions)
	})

	t.Run("CutInFileName", func(t *testing.T) {
		seg := single(t, "CAB", cabFile()[:60])
		assert.True(t, seg.Truncated)
		assert.EqualValues(t, 60, seg.End)
	})

	t.Run("ReservedField", func(t *testing.T) {
		data := cabFile()
		data[12] = 1
		assert.Empty(t, known(analyze(t, "CAB", data)))
	})
}

func TestCFBF(t *testing.T) {
	seg := single(t, "CFBF", cfbfFile())
	assert.Equal(t, map[string]any{
		"msat_size":   436,
		"nbr_sectors": int64(3),
		"sector_size": int64(512),
	}, seg.Metadata)

	t.Run("Excel", func(t *testing.T) {
		data := cfbfFile()
		copy(data[1536:], "Microsoft Excel\x00")
		seg := single(t, "CFBF", data)
		assert.Equal(t, []string{"xls"}, seg.Extensions)
	})

	t.Run("Truncated", func(t *testing.T) {
		data := cfbfFile()
		seg := single(t, "CFBF", data[:1500])
		assert.True(t, seg.Truncated)
		assert.Equal(t, []string{"doc"}, seg.Extensions)
	})

	t.Run("InvalidSectorShift", func(t *testing.T) {
		data := cfbfFile()
		le.PutUint16(data[30:], 20)
		assert.Empty(t, known(analyze(t, "CFBF", data)))
	})
}

func TestPE(t *testing.T) {
	const (
		coff     = 64 + 4
		optional = coff + 20
	)

	t.Run("Metadata", func(t *testing.T) {
		seg := single(t, "EXE", peFile())
		for key, want := range map[string]any{
			"machine_type":   "i386",
			"nbr_sections":   uint16(1),
			"linker_version": "14.0",
			"os_version":     "4.0",
			"mode_pe32":      true,
			"subsystem":      uint16(2),
			"headers_size":   uint32(512),
		} {
			assert.Equal(t, want, seg.Metadata[key], key)
		}
	})

	for name, tc := range map[string]struct {
		patch func([]byte)
		exts  []string
	}{
		"DLL": {
			patch: func(b []byte) { le.PutUint16(b[coff+18:], 0x2102) },
			exts:  []string{"dll", "drv", "ocx"},
		},
		"Driver": {
			patch: func(b []byte) {
				le.PutUint16(b[coff+18:], 0x2102)
				le.PutUint16(b[optional+68:], 1)
			},
			exts: []string{"drv"},
		},
		"Native": {
			patch: func(b []byte) { le.PutUint16(b[optional+68:], 1) },
			exts:  []string{"sys"},
		},
		"ActiveX": {
			patch: func(b []byte) {
				le.PutUint16(b[coff+18:], 0x2102)
				copy(b[600:], "DllRegisterServer")
			},
			exts: []string{"ocx"},
		},
	} {
		t.Run(name, func(t *testing.T) {
			data := peFile()
			tc.patch(data)
			seg := single(t, "EXE", data)
			assert.Equal(t, tc.exts, seg.Extensions)
			assert.EqualValues(t, 1024, seg.End)
		})
	}

	t.Run("UnknownMachine", func(t *testing.T) {
		data := peFile()
		le.PutUint16(data[coff:], 0x1234)
		assert.Empty(t, known(analyze(t, "EXE", data)))
	})

	t.Run("MissingSection", func(t *testing.T) {
		data := peFile()
		seg := single(t, "EXE", data[:800])
		assert.True(t, seg.Truncated)
		assert.Equal(t, "i386", seg.Metadata["machine_type"])
	})
}

func TestNE(t *testing.T) {
	const ne = 64

	t.Run("Metadata", func(t *testing.T) {
		seg := single(t, "EXE", neFile())
		assert.Equal(t, map[string]any{
			"module_name":   "TEST",
			"nbr_segments":  int64(0),
			"nbr_resources": 0,
		}, seg.Metadata)
	})

	t.Run("Library", func(t *testing.T) {
		data := neFile()
		le.PutUint16(data[ne+12:], 0x8000)
		seg := single(t, "EXE", data)
		assert.Equal(t, []string{"dll", "exe"}, seg.Extensions)
	})

	t.Run("EntryBundle", func(t *testing.T) {
		data := neFile()
		data[ne+0x4d] = 1
		assert.Empty(t, known(analyze(t, "EXE", data)))
	})

	t.Run("NoHeader", func(t *testing.T) {
		data := neFile()
		copy(data[ne:], "XX")
		assert.Empty(t, known(analyze(t, "EXE", data)))
	})
}

func TestText(t *testing.T) {
	t.Run("Plain", func(t *testing.T) {
		data := textFile()
		seg := single(t, "Text", data)
		assert.Equal(t, map[string]any{
			"encoding":  "ascii",
			"nbr_lines": bytes.Count(data, []byte("\n")) + 1,
		}, seg.Metadata)
	})

	t.Run("SubRip", func(t *testing.T) {
		seg := single(t, "Text", srtFile())
		assert.Equal(t, []string{"srt"}, seg.Extensions)
	})

	t.Run("RTF", func(t *testing.T) {
		seg := single(t, "Text", rtfFile())
		assert.Equal(t, []string{"rtf"}, seg.Extensions)
	})

	t.Run("UTF16", func(t *testing.T) {
		data := textFile()
		seg := single(t, "Text", utf16le(data))
		assert.Equal(t, []string{"txt"}, seg.Extensions)
		assert.Equal(t, "utf-16le", seg.Metadata["encoding"])
		assert.Equal(t, bytes.Count(data, []byte("\n"))+1, seg.Metadata["nbr_lines"])
	})

	t.Run("TooShort", func(t *testing.T) {
		segs := analyze(t, "Text", textFile()[:400])
		assert.Empty(t, known(segs))
	})

	t.Run("Binary", func(t *testing.T) {
		// a control byte splits the run in two halves too short to count
		data := textFile()
		data[300] = 0x02
		segs := analyze(t, "Text", data)
		require.Len(t, segs, 1)
		assert.True(t, segs[0].IsUnknown())
	})
}
