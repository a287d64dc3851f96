package formats_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBMP(t *testing.T) {
	seg := single(t, "BMP", bmpFile())
	assert.Equal(t, map[string]any{
		"width":          int64(2),
		"height":         int64(2),
		"bpp":            uint16(24),
		"header_version": 3,
		"compression":    uint32(0),
	}, seg.Metadata)

	t.Run("TopDown", func(t *testing.T) {
		data := bmpFile()
		le.PutUint32(data[22:], uint32(0xfffffffe)) // height -2
		seg := single(t, "BMP", data)
		assert.Equal(t, int64(2), seg.Metadata["height"])
	})

	t.Run("InvalidDepth", func(t *testing.T) {
		data := bmpFile()
		le.PutUint16(data[28:], 7)
		assert.Empty(t, known(analyze(t, "BMP", data)))
	})

	t.Run("Truncated", func(t *testing.T) {
		data := bmpFile()
		seg := single(t, "BMP", data[:60])
		assert.True(t, seg.Truncated)
		assert.Equal(t, int64(2), seg.Metadata["width"])
	})
}

func TestICO(t *testing.T) {
	t.Run("Icon", func(t *testing.T) {
		seg := single(t, "ICO", icoFile(1))
		assert.Equal(t, []string{"ico"}, seg.Extensions)
		assert.Equal(t, 1, seg.Metadata["nbr_images"])
	})

	t.Run("Cursor", func(t *testing.T) {
		seg := single(t, "ICO", icoFile(2))
		assert.Equal(t, []string{"cur"}, seg.Extensions)
	})

	t.Run("MisplacedImage", func(t *testing.T) {
		data := icoFile(1)
		le.PutUint32(data[18:], 30)
		assert.Empty(t, known(analyze(t, "ICO", data)))
	})
}

func TestJPEG(t *testing.T) {
	t.Run("JFIF", func(t *testing.T) {
		seg := single(t, "JPEG", jpegFile())
		assert.Equal(t, 6, seg.Metadata["nbr_segments"])
		assert.Equal(t, uint16(1), seg.Metadata["image_width"])
		assert.Equal(t, uint16(1), seg.Metadata["image_height"])
		assert.Equal(t, map[string]any{
			"version_major": uint8(1),
			"version_minor": uint8(1),
			"units":         uint8(1),
			"width":         uint16(72),
			"height":        uint16(72),
		}, seg.Metadata["jfif_metadata"])
	})

	t.Run("Exif", func(t *testing.T) {
		seg := single(t, "JPEG", jpegFile(exifSegment()))
		assert.Equal(t, []string{"jpg", "thm"}, seg.Extensions)
		assert.Equal(t, 7, seg.Metadata["nbr_segments"])
		assert.Equal(t, map[string]any{
			"make":     "Cam",
			"nbr_ifds": 1,
		}, seg.Metadata["exif_metadata"])
	})

	t.Run("ExifHidesTIFF", func(t *testing.T) {
		data := jpegFile(exifSegment())
		segs := analyze(t, "", data)
		require.Len(t, segs, 1)
		assert.Equal(t, []string{"jpg", "thm"}, segs[0].Extensions)
	})

	t.Run("MissingEOI", func(t *testing.T) {
		data := jpegFile()
		seg := single(t, "JPEG", data[:len(data)-2])
		assert.True(t, seg.Truncated)
	})

	t.Run("UndefinedQuantizationTable", func(t *testing.T) {
		head, tail := jpegSegments()
		tail[69+12] = 1 // table of the only component
		assert.Empty(t, known(analyze(t, "JPEG", cat(head, tail))))
	})
}

func TestTIFF(t *testing.T) {
	for name, order := range map[string]binary.AppendByteOrder{"LittleEndian": le, "BigEndian": be} {
		t.Run(name, func(t *testing.T) {
			seg := single(t, "TIFF", tiffFile(order))
			assert.Equal(t, []string{"tif", "tiff"}, seg.Extensions)
			assert.Equal(t, map[string]any{
				"image_width":     uint32(4),
				"image_length":    uint32(2),
				"bits_per_sample": []int64{8},
				"nbr_ifds":        1,
			}, seg.Metadata)
		})
	}

	t.Run("UncompressedStrip", func(t *testing.T) {
		// without byte counts, the strip size follows from the dimensions
		data := tiffFile(le)
		le.PutUint16(data[58:], 999) // hide the byte counts tag
		seg := single(t, "TIFF", data)
		assert.EqualValues(t, 82, seg.End)
	})

	t.Run("Loop", func(t *testing.T) {
		data := tiffFile(le)
		le.PutUint32(data[70:], 8)
		segs := analyze(t, "TIFF", data)
		require.Len(t, segs, 2, "%v", segs)
		assert.True(t, segs[0].Truncated)
		assert.EqualValues(t, 70, segs[0].End)
		assert.True(t, segs[1].IsUnknown())
	})

	t.Run("StripPastEnd", func(t *testing.T) {
		data := tiffFile(le)
		seg := single(t, "TIFF", data[:78])
		assert.True(t, seg.Truncated)
	})
}
