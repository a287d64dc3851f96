package formats

import (
	"fmt"
	"maps"
	"slices"

	"github.com/tetsuo/carve"
)

// EXE decodes MS-DOS stubs followed by a PE or NE executable.
type EXE struct{}

// exePattern is the MS-DOS header of a PE or NE file up to e_lfanew.
var exePattern = carve.MustCompile(`"MZ" ?? ?? ?? ?? 00 00 ?? 00 ?? 00 ?? ?? 00 00 ?? ?? 00 00 00 00 00 00 ?? 00 ?? 00 00 00 ?? ?? ?? ?? 00 00 00 00 00 00 00 00 00 00 00 00 00 00 ?? ?? ?? ?? 00 00 00 00 00 00 00 00`)

func (EXE) Signature() (*carve.Pattern, carve.ScanOptions) {
	return exePattern, carve.ScanOptions{Step: 60, ProbeSize: 60}
}

func (EXE) Decode(c *carve.Context, off int64) (int64, error) {
	lfanew, err := c.U32(off+60, le)
	if err != nil {
		return 0, err
	}
	cursor := off + int64(lfanew)
	if err := c.Progress(cursor); err != nil {
		return 0, err
	}
	switch {
	case c.Equal(cursor, "PE\x00\x00"):
		return decodePE(c, off, cursor)
	case c.Equal(cursor, "NE"):
		return decodeNE(c, off, cursor)
	}
	return 0, c.Invalid(cursor, "no PE nor NE header")
}

// peMachines names the known COFF machine types.
var peMachines = map[uint16]string{
	0x0000: "unknown",
	0x014c: "i386",
	0x0166: "r4000",
	0x0169: "wcemipsv2",
	0x01a2: "sh3",
	0x01a3: "sh3dsp",
	0x01a6: "sh4",
	0x01a8: "sh5",
	0x01c0: "arm",
	0x01c2: "thumb",
	0x01c4: "armnt",
	0x01d3: "am33",
	0x01f0: "powerpc",
	0x01f1: "powerpcfp",
	0x0200: "ia64",
	0x0266: "mips16",
	0x0366: "mipsfpu",
	0x0466: "mipsfpu16",
	0x0ebc: "ebc",
	0x8664: "amd64",
	0x9041: "m32r",
	0xaa64: "arm64",
}

const (
	peDLL            = 0x2000
	peReservedChars  = 0x0050
	peReservedDLL    = 0x100f
	peNative         = 1
	peSectionHeader  = 40
	peSymbolSize     = 18
	peLineNumberSize = 6
)

// peOptional holds what the optional header tells about the file layout.
type peOptional struct {
	fileAlignment        int64
	headersSize          int64
	subsystem            uint16
	certOffset, certSize int64
}

func decodePE(c *carve.Context, off, pe int64) (int64, error) {
	r := c.At(pe + 4)
	machine := r.U16()
	nsections := r.U16()
	r.Skip(4) // timestamp
	symbols, nsymbols := int64(r.U32()), int64(r.U32())
	optSize := int64(r.U16())
	chars := r.U16()
	if err := r.Err(); err != nil {
		return 0, err
	}
	name, ok := peMachines[machine]
	if !ok {
		return 0, c.Invalid(pe+4, "unknown machine type %#04x", machine)
	}
	if chars&peReservedChars != 0 {
		return 0, c.Invalid(pe+22, "reserved characteristics %#04x", chars)
	}

	kind := "exe"
	switch {
	case chars&peDLL == 0:
		c.Relevant("exe", "sys")
	case optSize == 0:
		kind = "obj"
		c.Relevant("obj")
	default:
		kind = "dll"
		c.Relevant("dll", "drv", "ocx")
	}
	c.Metas(map[string]any{
		"machine_type":         name,
		"nbr_sections":         nsections,
		"symbol_table_offset":  symbols,
		"nbr_symbols":          nsymbols,
		"optional_header_size": optSize,
		"characteristics":      chars,
	})
	cursor := pe + 24
	if err := c.Progress(cursor); err != nil {
		return 0, err
	}

	var opt peOptional
	if optSize > 0 {
		var err error
		if opt, err = peReadOptional(c, cursor, optSize); err != nil {
			return 0, err
		}
		if opt.subsystem == peNative {
			switch kind {
			case "dll":
				kind = "drv"
				c.Relevant("drv")
			case "exe":
				kind = "sys"
				c.Relevant("sys")
			}
		}
		cursor += optSize
	}

	sections := map[int64]int64{}
	lines := map[int64]int64{}
	textSection := int64(-1)
	for range nsections {
		r.Seek(cursor)
		secName := r.String(8)
		r.Skip(8) // virtual size and address
		size, at := int64(r.U32()), int64(r.U32())
		r.Skip(4) // relocations
		lineAt := int64(r.U32())
		r.Skip(2) // number of relocations
		nlines := int64(r.U16())
		if err := r.Err(); err != nil {
			return 0, err
		}
		if secName == ".text\x00\x00\x00" {
			textSection = at
		}
		if size > 0 {
			sections[at] = size
		}
		if nlines > 0 {
			lines[lineAt] = nlines
		}
		cursor += peSectionHeader
		if err := c.Progress(cursor); err != nil {
			return 0, err
		}
	}

	if optSize > 0 {
		cursor = off + opt.headersSize
	}
	// tables may be laid out in any order: the file ends after the furthest
	maxEnd := cursor
	seek := func(rel int64, what string) {
		if cursor-off != rel {
			c.Logger().Debug().Int64("offset", cursor).Int64("declared", off+rel).Msgf("Realigning on %s", what)
			cursor = off + rel
		}
	}

	for _, at := range slices.Sorted(maps.Keys(sections)) {
		if a := opt.fileAlignment; a > 0 {
			if rest := (cursor - off) % a; rest > 0 {
				cursor += a - rest
			}
		}
		seek(at, "section")
		size := sections[at]
		if at == textSection && kind == "dll" {
			if i := c.IndexBytes([]byte("DllRegisterServer"), cursor); i >= 0 && i < cursor+size {
				kind = "ocx"
				c.Relevant("ocx")
			}
		}
		cursor += size
		maxEnd = max(maxEnd, cursor)
		if err := c.Progress(cursor); err != nil {
			return 0, err
		}
	}

	for _, at := range slices.Sorted(maps.Keys(lines)) {
		seek(at, "COFF line numbers")
		cursor += peLineNumberSize * lines[at]
		maxEnd = max(maxEnd, cursor)
		if err := c.Progress(cursor); err != nil {
			return 0, err
		}
	}

	if symbols > 0 {
		seek(symbols, "symbol table")
		cursor += peSymbolSize * nsymbols
		if err := c.Progress(cursor); err != nil {
			return 0, err
		}
		size, err := c.U32(cursor, le)
		if err != nil {
			return 0, err
		}
		if size < 4 {
			return 0, c.Invalid(cursor, "string table of %d bytes", size)
		}
		cursor += int64(size)
		maxEnd = max(maxEnd, cursor)
		if err := c.Progress(cursor); err != nil {
			return 0, err
		}
	}

	if opt.certOffset > 0 {
		seek(opt.certOffset, "certificate table")
		for end := off + opt.certOffset + opt.certSize; cursor < end; {
			size, err := c.U32(cursor, le)
			if err != nil {
				return 0, err
			}
			if size < 8 {
				return 0, c.Invalid(cursor, "certificate of %d bytes", size)
			}
			cursor += int64(size)
			if rest := (cursor - off) % 8; rest > 0 {
				cursor += 8 - rest
			}
			if err := c.Progress(cursor); err != nil {
				return 0, err
			}
		}
		maxEnd = max(maxEnd, cursor)
	}
	return maxEnd, nil
}

func peReadOptional(c *carve.Context, cursor, size int64) (peOptional, error) {
	r := c.At(cursor)
	magic := r.U16()
	linkerMajor, linkerMinor := r.U8(), r.U8()
	r.Seek(cursor + 36)
	fileAlignment := r.U32()
	osMajor, osMinor := r.U16(), r.U16()
	r.Skip(8) // image and subsystem versions
	win32 := r.U32()
	r.Skip(4) // image size
	headers := r.U32()
	r.Skip(4) // checksum
	subsystem, dllChars := r.U16(), r.U16()
	pe32 := magic == 0x10b
	dirs := cursor + 112
	if pe32 {
		dirs = cursor + 96
	}
	r.Seek(dirs - 4)
	nrva := int64(r.U32())
	if err := r.Err(); err != nil {
		return peOptional{}, err
	}
	switch {
	case magic != 0x10b && magic != 0x20b:
		return peOptional{}, c.Invalid(cursor, "unknown optional header magic %#04x", magic)
	case win32 != 0:
		return peOptional{}, c.Invalid(cursor+52, "Win32 version is %d", win32)
	case dllChars&peReservedDLL != 0:
		return peOptional{}, c.Invalid(cursor+70, "reserved DLL characteristics %#04x", dllChars)
	}

	opt := peOptional{
		fileAlignment: int64(fileAlignment),
		headersSize:   int64(headers),
		subsystem:     subsystem,
	}
	if nrva >= 5 {
		r.Seek(dirs + 32)
		opt.certOffset, opt.certSize = int64(r.U32()), int64(r.U32())
		if err := r.Err(); err != nil {
			return peOptional{}, err
		}
	}
	if end := dirs + 8*nrva; end != cursor+size {
		return peOptional{}, c.Invalid(end, "optional header ends at %d, declared %d", end, cursor+size)
	}
	if err := c.Progress(cursor + size); err != nil {
		return peOptional{}, err
	}
	c.Metas(map[string]any{
		"mode_pe32":                pe32,
		"linker_version":           fmt.Sprintf("%d.%d", linkerMajor, linkerMinor),
		"os_version":               fmt.Sprintf("%d.%d", osMajor, osMinor),
		"file_alignment":           fileAlignment,
		"headers_size":             headers,
		"subsystem":                subsystem,
		"dll_characteristics":      dllChars,
		"nbr_rva_and_sizes":        nrva,
		"certificate_table_offset": opt.certOffset,
		"certificate_table_size":   opt.certSize,
	})
	return opt, nil
}
