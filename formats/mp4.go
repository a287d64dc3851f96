package formats

import (
	"math"

	"github.com/tetsuo/carve"
	"github.com/tetsuo/carve/internal/bmff"
)

// MP4 decodes ISO base media files and QuickTime movies.
type MP4 struct{}

var mp4Pattern = carve.Literal("ftyp", "pnot", "mdat", "moov")

func (MP4) Signature() (*carve.Pattern, carve.ScanOptions) {
	return mp4Pattern, carve.ScanOptions{Step: 4, PatternOffset: 4}
}

// leaves returns children that are all leaf boxes.
func leaves(tags ...string) map[string]*carve.Schema {
	m := make(map[string]*carve.Schema, len(tags))
	for _, t := range tags {
		m[t] = nil
	}
	return m
}

// with adds more children to m and returns it.
func with(m map[string]*carve.Schema, more map[string]*carve.Schema) map[string]*carve.Schema {
	for k, v := range more {
		m[k] = v
	}
	return m
}

var mp4Common = leaves("free", "skip")

func mp4ItemList() *carve.Schema {
	item := carve.Container(leaves("data", "mean", "name"))
	children := map[string]*carve.Schema{}
	for _, tag := range []string{
		"\xa9nam", "\xa9cmt", "\xa9day", "\xa9ART", "\xa9trk", "\xa9alb", "\xa9com", "\xa9wrt", "\xa9too",
		"gnre", "disk", "trkn", "tmpo", "cpil", "covr", "----",
	} {
		children[tag] = item
	}
	return carve.Container(children)
}

func mp4Protection() *carve.Schema {
	return &carve.Schema{
		HeaderExtra: 6, CountAt: 4, CountLen: 2,
		Children: map[string]*carve.Schema{
			"sinf": carve.Container(leaves("frma", "imif", "schm", "schi")),
		},
	}
}

func mp4UserData() *carve.Schema {
	children := leaves(
		"cprt", "tsel", "albm", "AllF", "auth", "clsf", "coll", "dscp", "gnre", "hinf", "hnti", "kywd",
		"loci", "LOOP", "name", "perf", "ptv ", "rtng", "SelO", "tagc", "thmb", "titl", "tnam", "urat",
		"WLOC", "yrrc",
		"\xa9arg", "\xa9ark", "\xa9cok", "\xa9com", "\xa9cpy", "\xa9day", "\xa9dir",
		"\xa9ed1", "\xa9ed2", "\xa9ed3", "\xa9ed4", "\xa9ed5", "\xa9ed6", "\xa9ed7", "\xa9ed8", "\xa9ed9",
		"\xa9fmt", "\xa9inf", "\xa9isr", "\xa9lab", "\xa9lal", "\xa9mak", "\xa9mal", "\xa9nak", "\xa9nam",
		"\xa9pdk", "\xa9phg", "\xa9prd", "\xa9prf", "\xa9prk", "\xa9prl", "\xa9req", "\xa9snk", "\xa9snm",
		"\xa9src", "\xa9swf", "\xa9swk", "\xa9swr", "\xa9wrt",
		// Canon and SGI extras
		"CNCV", "CNDB", "CNFV", "CNMN", "hinv", "TAGS",
	)
	children["strk"] = carve.Container(leaves("stri", "strd"))
	children["meta"] = &carve.Schema{
		HeaderExtra: 4,
		Children: with(leaves("hdlr", "xml ", "bxml", "iloc", "pitm"), map[string]*carve.Schema{
			"ipro": mp4Protection(),
			"ilst": mp4ItemList(),
		}),
	}
	return &carve.Schema{Children: children, IgnoreUnknown: true, TrailingPad: 4}
}

func mp4Track() *carve.Schema {
	sampleTable := leaves(
		"stsd", "stts", "ctts", "cslg", "stsc", "stsz", "stz2", "stco", "co64", "stss", "stsh",
		"padb", "stdp", "sdtp", "sbgp", "sgpd", "subs", "saiz", "saio",
	)
	dataInfo := with(leaves("url ", "urn "), map[string]*carve.Schema{
		"dref": {
			HeaderExtra: 8, CountAt: 4, CountLen: 4,
			Children: leaves("url ", "urn ", "alis", "rsrc"),
		},
	})
	mediaInfo := with(leaves("vmhd", "smhd", "hmhd", "nmhd", "hint", "hdlr"), map[string]*carve.Schema{
		"dinf": carve.Container(dataInfo),
		"stbl": carve.Container(sampleTable),
	})
	return carve.Container(with(leaves("tkhd", "trgr", "clip", "load"), map[string]*carve.Schema{
		"tref": carve.Container(leaves("hint", "dpnd", "ipir", "mpod", "sync", "tmcd", "chap", "scpt", "ssrc")),
		"edts": carve.Container(leaves("elst")),
		"mdia": carve.Container(with(leaves("mdhd", "hdlr"), map[string]*carve.Schema{
			"minf": carve.Container(mediaInfo),
		})),
		"udta": mp4UserData(),
		"matt": carve.Container(leaves("kmat")),
		"imap": carve.Container(map[string]*carve.Schema{
			"\x00\x00in": {HeaderExtra: 12, Children: leaves("\x00\x00ty", "obid")},
		}),
	}))
}

// mp4Root lists the boxes accepted at the top of a file and their children.
var mp4Root = carve.Container(with(
	leaves("ftyp", "pdin", "mdat", "styp", "sidx", "ssix", "prft", "wide", "PICT", "pnot"),
	map[string]*carve.Schema{
		"moov": carve.Container(with(leaves("mvhd", "iods"), map[string]*carve.Schema{
			"trak": mp4Track(),
			"mvex": carve.Container(leaves("mehd", "trex", "leva")),
			"mdra": carve.Container(leaves("dref")),
			"cmov": carve.Container(leaves("dcom", "cmvd")),
			"rmra": carve.Container(map[string]*carve.Schema{
				"rmda": carve.Container(leaves("rdrf", "rmqu", "rmcs", "rmvc", "rmcd", "rmdr", "rmla", "rmag")),
			}),
			"clip": carve.Container(leaves("crgn")),
			"udta": mp4UserData(),
		})),
		"moof": carve.Container(map[string]*carve.Schema{
			"mfhd": nil,
			"traf": carve.Container(leaves("tfhd", "trun", "sbgp", "sgpd", "subs", "saiz", "saio", "tfdt")),
		}),
		"mfra": carve.Container(leaves("tfra", "mfro")),
		"meta": {
			HeaderExtra: 4,
			Children: with(leaves("hdlr", "iloc", "iinf", "xml ", "bxml", "pitm", "idat", "iref"), map[string]*carve.Schema{
				"dinf": carve.Container(leaves("dref")),
				"ipro": mp4Protection(),
				"fiin": carve.Container(map[string]*carve.Schema{
					"paen": carve.Container(leaves("fire", "fpar", "fecr")),
					"segr": nil,
					"gitn": nil,
				}),
			}),
		},
		"meco": carve.Container(leaves("mere")),
	},
))

// mp4Brands maps ftyp major brands to extensions.
var mp4Brands = map[string]string{
	"3g2a": "3g2", "3g2b": "3g2", "3g2c": "3g2",
	"3ge6": "3gp", "3ge7": "3gp", "3gg6": "3gp", "3gp1": "3gp", "3gp2": "3gp", "3gp3": "3gp",
	"3gp4": "3gp", "3gp5": "3gp", "3gp6": "3gp", "3gs7": "3gp", "KDDI": "3gp",
	"avc1": "mp4", "CAEP": "mp4", "caqv": "mp4", "CDes": "mp4",
	"da0a": "mp4", "da0b": "mp4", "da1a": "mp4", "da1b": "mp4", "da2a": "mp4", "da2b": "mp4",
	"da3a": "mp4", "da3b": "mp4", "dmb1": "mp4", "dmpf": "mp4", "drc1": "mp4",
	"dv1a": "mp4", "dv1b": "mp4", "dv2a": "mp4", "dv2b": "mp4", "dv3a": "mp4", "dv3b": "mp4",
	"dvr1": "mp4", "dvt1": "mp4", "isc2": "mp4", "iso2": "mp4", "isom": "mp4",
	"M4B ": "mp4", "M4P ": "mp4", "mmp4": "mp4", "mp21": "mp4", "mp41": "mp4", "mp42": "mp4",
	"mp71": "mp4", "MPPI": "mp4", "MSNV": "mp4",
	"NDAS": "mp4", "NDSC": "mp4", "NDSH": "mp4", "NDSM": "mp4", "NDSP": "mp4", "NDSS": "mp4",
	"NDXC": "mp4", "NDXH": "mp4", "NDXM": "mp4", "NDXP": "mp4", "NDXS": "mp4",
	"odcf": "mp4", "opf2": "mp4", "opx2": "mp4", "pana": "mp4", "ROSS": "mp4", "sdv ": "mp4",
	"ssc1": "mp4", "ssc2": "mp4",
	"F4V ": "f4v", "F4P ": "f4p", "F4A ": "f4a", "F4B ": "f4b",
	"JP2 ": "jp2", "JP20": "jp2", "jpm ": "jpm", "jpx ": "jpx",
	"M4A ": "m4a", "M4V ": "m4v", "M4VH": "m4v", "M4VP": "m4v",
	"mj2s": "mj2", "mjp2": "mj2",
	"mqt ": "mqv", "qt  ": "mov",
}

// boxFraming reads box headers: 32-bit size and type, with an optional
// 64-bit size when the 32-bit one is 1.
type boxFraming struct{}

func (boxFraming) Header(c *carve.Context, off int64, _ *carve.Schema) (carve.Record, error) {
	r := c.AtBE(off)
	size := uint64(r.U32())
	tag := r.String(4)
	hdr := int64(8)
	if size == 1 {
		size = r.U64()
		hdr = 16
	}
	if err := r.Err(); err != nil {
		return carve.Record{}, err
	}
	rec := carve.Record{Tag: tag, Offset: off, Data: off + hdr}
	switch {
	case size == 0:
		rec.Size, rec.ToEnd = -1, true
	case size < uint64(hdr) || size > math.MaxInt64/2:
		return rec, c.Invalid(off, "box %q has invalid size %d", tag, size)
	default:
		rec.Size = int64(size) - hdr
	}
	return rec, nil
}

func (MP4) Decode(c *carve.Context, off int64) (int64, error) {
	var (
		ftyp, mdat, deep bool
		tracks           []map[string]any
	)
	visit := func(path []string, rec carve.Record, _ int64) (int64, bool, error) {
		if !deep && len(path) > 2 {
			deep = true
			if !ftyp {
				c.Relevant("mov")
			}
		}
		switch path[len(path)-1] {
		case "mdat":
			mdat = true
			if !rec.ToEnd {
				c.Meta("mdat_size", rec.End()-rec.Offset)
			}
		case "ftyp":
			if ftyp && len(path) == 1 {
				// a second file starts here
				return 0, true, nil
			}
			data, err := c.Bytes(rec.Data, rec.Size)
			if err != nil {
				return 0, false, err
			}
			info, err := bmff.ReadFtyp(data)
			if err != nil {
				return 0, false, c.Invalid(rec.Offset, "ftyp: %v", err)
			}
			brand := string(info.MajorBrand[:])
			ext, ok := mp4Brands[brand]
			if !ok {
				return 0, false, c.Invalid(rec.Offset, "unknown ftyp brand %q", brand)
			}
			c.Relevant(ext)
			ftyp = true
			c.Metas(map[string]any{
				"brand":             brand,
				"minor_version":     info.MinorVersion,
				"compatible_brands": info.Brands(),
			})
		case "mvhd":
			box, err := c.Bytes(rec.Offset, rec.End()-rec.Offset)
			if err != nil {
				return 0, false, err
			}
			r := bmff.NewReader(box)
			if !r.Next() {
				return 0, false, c.Invalid(rec.Offset, "mvhd: %v", r.Err())
			}
			m, err := r.ReadMvhd()
			if err != nil {
				return 0, false, c.Invalid(rec.Offset, "mvhd: %v", err)
			}
			c.Metas(map[string]any{
				"creation_time":     m.CreationTime,
				"modification_time": m.ModificationTime,
				"timescale":         m.Timescale,
				"duration":          m.Duration,
				"rate":              m.Rate,
				"volume":            m.Volume,
			})
		case "trak":
			if len(path) != 2 {
				break
			}
			data, err := c.Bytes(rec.Data, rec.Size)
			if err != nil {
				return 0, false, err
			}
			t, err := bmff.ReadTrack(data)
			if err != nil {
				c.Logger().Debug().Err(err).Int64("offset", rec.Offset).Msg("Unreadable track")
				break
			}
			tracks = append(tracks, t.Fields())
		case "CNCV", "CNMN":
			data, err := c.Bytes(rec.Data, rec.Size)
			if err != nil {
				return 0, false, err
			}
			c.Meta(rec.Tag, trimText(data))
		case "\xa9fmt", "\xa9inf":
			// 16-bit length and language precede the text
			if rec.Size > 4 {
				data, err := c.Bytes(rec.Data+4, rec.Size-4)
				if err != nil {
					return 0, false, err
				}
				c.Meta(rec.Tag[1:], trimText(data))
			}
		}
		return rec.Data, false, nil
	}

	w := carve.Walker{
		C:           c,
		Framing:     boxFraming{},
		Common:      mp4Common,
		EarlyBounds: true,
		Visit:       visit,
	}
	res, err := w.Walk(off, mp4Root)
	if err != nil {
		return 0, err
	}
	if res.ToEnd {
		return 0, c.NotSupported(res.End, "box extends to the end of the data")
	}
	if !ftyp {
		c.Relevant("mov")
	}
	c.Meta("nbr_boxes", res.Records)
	if len(tracks) > 0 {
		c.Meta("track_count", len(tracks))
		c.Meta("tracks", tracks)
	}
	if !mdat {
		return 0, c.Truncated(res.End, "missing mdat box")
	}
	return res.End, nil
}
