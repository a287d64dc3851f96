// Package formats holds the format decoders and the registry listing them
// in the order an Analyzer must run them.
package formats

import (
	"fmt"

	"github.com/tetsuo/carve"
)

// Names lists the decoders in priority order. A format that can embed
// another one comes first, so it claims its embedded data before the inner
// decoder carves it away.
var Names = []string{
	"CFBF",      // DOC, XLS, PPT, Thumbs.db
	"ASF",       // WMV, WMA
	"EXE",       // EXE, DLL, OCX, OBJ, DRV, SYS, FON
	"CAB",       // CAB, MSU; self-extractors append one to an EXE
	"MPG_Video", // MPEG program streams
	"M2V",
	"EBML", // MKV, WEBM
	"MP4",  // MP4, MOV, 3GP, M4A and the other ISO brands
	"OGG",
	"RIFF", // AVI, WAV, ANI
	"FLAC",
	"BMP",
	"ICO", // ICO, CUR
	"Text",
	"JPEG", // carries Exif TIFF
	"TIFF",
	"MP3",
}

// decoders maps names to factories. Decoders are stateless, so every
// factory returns a fresh value only for symmetry with Finders that are not.
var decoders = map[string]func() carve.Finder{
	"CFBF":      func() carve.Finder { return carve.Patterns(CFBF{}) },
	"ASF":       func() carve.Finder { return carve.Patterns(ASF{}) },
	"EXE":       func() carve.Finder { return carve.Patterns(EXE{}) },
	"CAB":       func() carve.Finder { return carve.Patterns(CAB{}) },
	"MPG_Video": func() carve.Finder { return carve.Patterns(MPGVideo{}) },
	"M2V":       func() carve.Finder { return carve.Patterns(M2V{}) },
	"EBML":      func() carve.Finder { return carve.Patterns(EBML{}) },
	"MP4":       func() carve.Finder { return carve.Patterns(MP4{}) },
	"OGG":       func() carve.Finder { return carve.Patterns(OGG{}) },
	"RIFF":      func() carve.Finder { return carve.Patterns(RIFF{}) },
	"FLAC":      func() carve.Finder { return carve.Patterns(FLAC{}) },
	"BMP":       func() carve.Finder { return carve.Patterns(BMP{}) },
	"ICO":       func() carve.Finder { return carve.Patterns(ICO{}) },
	"Text":      func() carve.Finder { return Text{} },
	"JPEG":      func() carve.Finder { return carve.Patterns(JPEG{}) },
	"TIFF":      func() carve.Finder { return carve.Patterns(TIFF{}) },
	"MP3":       func() carve.Finder { return carve.Patterns(MP3{}) },
}

// Decoder returns the pattern decoder registered as name, or nil for
// unknown names and for finders that do not scan patterns.
func Decoder(name string) carve.Decoder {
	switch name {
	case "CFBF":
		return CFBF{}
	case "ASF":
		return ASF{}
	case "EXE":
		return EXE{}
	case "CAB":
		return CAB{}
	case "MPG_Video":
		return MPGVideo{}
	case "M2V":
		return M2V{}
	case "EBML":
		return EBML{}
	case "MP4":
		return MP4{}
	case "OGG":
		return OGG{}
	case "RIFF":
		return RIFF{}
	case "FLAC":
		return FLAC{}
	case "BMP":
		return BMP{}
	case "ICO":
		return ICO{}
	case "JPEG":
		return JPEG{}
	case "TIFF":
		return TIFF{}
	case "MP3":
		return MP3{}
	}
	return nil
}

// Registry serves the decoders of this package.
type Registry struct{}

// Default is the registry of all decoders in priority order.
var Default carve.Registry = Registry{}

// Names returns a copy of Names.
func (Registry) Names() []string {
	return append([]string(nil), Names...)
}

// Finder returns a new Finder for the decoder called name.
func (Registry) Finder(name string) (carve.Finder, error) {
	f, ok := decoders[name]
	if !ok {
		return nil, fmt.Errorf("unknown decoder %q", name)
	}
	return f(), nil
}

// Known reports whether name is a registered decoder.
func Known(name string) bool {
	_, ok := decoders[name]
	return ok
}
