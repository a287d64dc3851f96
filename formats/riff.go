package formats

import (
	"encoding/binary"
	"fmt"

	"github.com/tetsuo/carve"
)

// RIFF decodes RIFF and big-endian RIFX files: WAV, AVI and ANI.
type RIFF struct{}

var riffPattern = carve.Literal("RIFF", "RIFX")

func (RIFF) Signature() (*carve.Pattern, carve.ScanOptions) {
	return riffPattern, carve.ScanOptions{Step: 4, ProbeSize: 4}
}

// riffInfoTags maps INFO list chunks to metadata keys.
var riffInfoTags = map[string]string{
	"AGES": "rated",
	"CMNT": "comment",
	"CODE": "encoded_by",
	"COMM": "comments",
	"DIRC": "directory",
	"DISP": "sound_scheme_title",
	"DTIM": "date_time_original",
	"GENR": "genre",
	"IARL": "archival_location",
	"IART": "artist",
	"IAS1": "first_language",
	"IAS2": "second_language",
	"IAS3": "third_language",
	"IAS4": "fourth_language",
	"IAS5": "fifth_language",
	"IAS6": "sixth_language",
	"IAS7": "seventh_language",
	"IAS8": "eighth_language",
	"IAS9": "ninth_language",
	"IBSU": "base_url",
	"ICAS": "default_audio_stream",
	"ICDS": "costume_designer",
	"ICMS": "commissioned",
	"ICMT": "comment",
	"ICNM": "cinematographer",
	"ICNT": "country",
	"ICOP": "copyright",
	"ICRD": "date_created",
	"ICRP": "cropped",
	"IDIM": "dimensions",
	"IDPI": "dots_per_inch",
	"IDST": "distributed_by",
	"IEDT": "edited_by",
	"IENC": "encoded_by",
	"IENG": "engineer",
	"IGNR": "genre",
	"IKEY": "keywords",
	"ILGT": "lightness",
	"ILGU": "logo_url",
	"ILIU": "logo_icon_url",
	"ILNG": "language",
	"IMBI": "more_info_banner_image",
	"IMBU": "more_info_banner_url",
	"IMED": "medium",
	"IMIT": "more_info_text",
	"IMIU": "more_info_url",
	"IMUS": "music_by",
	"INAM": "title",
	"IPDS": "production_designer",
	"IPLT": "num_colors",
	"IPRD": "product",
	"IPRO": "produced_by",
	"IRIP": "ripped_by",
	"IRTD": "rating",
	"ISBJ": "subject",
	"ISFT": "software",
	"ISGN": "secondary_genre",
	"ISHP": "sharpness",
	"ISRC": "source",
	"ISRF": "source_form",
	"ISTD": "production_studio",
	"ISTR": "starring",
	"ITCH": "technician",
	"IWMU": "watermark_url",
	"IWRI": "written_by",
	"LANG": "language",
	"LOCA": "location",
	"PRT1": "part",
	"PRT2": "number_of_parts",
	"RATE": "rate",
	"STAR": "starring",
	"STAT": "statistics",
	"TAPE": "tape_name",
	"TCDO": "end_timecode",
	"TCOD": "start_timecode",
	"TITL": "title",
	"TLEN": "length",
	"TORG": "organization",
	"TRCK": "track_number",
	"TURL": "url",
	"TVER": "version",
	"VMAJ": "vegas_version_major",
	"VMIN": "vegas_version_minor",
	"YEAR": "year",
	// Exif
	"ecor": "make",
	"emdl": "model",
	"emnt": "maker_notes",
	"erel": "related_image_file",
	"etim": "time_created",
	"eucm": "user_comment",
	"ever": "exif_version",
}

// riffSized lists the chunks having a size field. The others are form
// and list types: a bare tag followed by their children.
var riffSized = map[string]bool{
	"RIFF": true, "RIFX": true, "JUNK": true, "LIST": true,
	"fmt ": true, "data": true, "fact": true,
	"idx1": true, "dmlh": true, "IDIT": true, "ISMP": true, "avih": true,
	"strd": true, "strf": true, "strh": true, "strn": true, "indx": true,
	"anih": true, "icon": true, "seq ": true, "rate": true,
}

func init() {
	for tag := range riffInfoTags {
		riffSized[tag] = true
	}
	for i := range 100 {
		riffSized[fmt.Sprintf("ix%02d", i)] = true
	}
}

func riffList() *carve.Schema {
	children := map[string]*carve.Schema{
		"INFO": carve.Container(leaves(keys(riffInfoTags)...)),
		"hdrl": carve.Container(leaves("IDIT", "ISMP", "avih")),
		"strl": carve.Container(leaves("strd", "strf", "strh", "strn", "indx")),
		"movi": nil,
		"ncdt": {IgnoreUnknown: true},
		"odml": carve.Container(leaves("dmlh")),
		"fram": carve.Container(leaves("icon")),
	}
	for i := range 100 {
		children[fmt.Sprintf("ix%02d", i)] = nil
	}
	return carve.Container(children)
}

// riffCommon lists the chunks allowed in every container.
var riffCommon = map[string]*carve.Schema{
	"JUNK": nil,
	"LIST": riffList(),
}

var riffRoot = func() *carve.Schema {
	forms := carve.Container(map[string]*carve.Schema{
		"WAVE": carve.Container(leaves("fmt ", "data", "fact")),
		"AVI ": nil,
		"idx1": nil,
		"ACON": carve.Container(leaves("anih", "seq ", "rate")),
	})
	return carve.Container(map[string]*carve.Schema{"RIFF": forms, "RIFX": forms})
}()

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// riffFraming reads chunk headers in the byte order of the file.
type riffFraming struct {
	order binary.ByteOrder
}

func (f riffFraming) Header(c *carve.Context, off int64, parent *carve.Schema) (carve.Record, error) {
	r := c.At(off)
	r.Order = f.order
	tag := r.String(4)
	if err := r.Err(); err != nil {
		return carve.Record{}, err
	}
	rec := carve.Record{Tag: tag, Offset: off, Data: off + 4, Size: -1}
	// Chunks of containers ignoring unknown tags all have a size.
	if parent.IgnoreUnknown || riffSized[tag] {
		size := r.U32()
		if err := r.Err(); err != nil {
			return carve.Record{}, err
		}
		rec.Data, rec.Size = off+8, int64(size)
	}
	return rec, nil
}

// aviStream reports whether tag is an AVI stream chunk like "00dc".
func aviStream(tag []byte) bool {
	if len(tag) != 4 || tag[0] < '0' || tag[0] > '9' || tag[1] < '0' || tag[1] > '9' {
		return false
	}
	switch string(tag[2:]) {
	case "db", "dc", "pc", "wb":
		return true
	}
	return false
}

func (RIFF) Decode(c *carve.Context, off int64) (int64, error) {
	var order binary.ByteOrder = le
	if c.Equal(off, "RIFX") {
		order = be
	}

	var (
		riff, wavData, aviData bool
		ext                    string
	)
	visit := func(path []string, rec carve.Record, limit int64) (int64, bool, error) {
		tag := path[len(path)-1]
		if key, ok := riffInfoTags[tag]; ok && rec.Size >= 0 {
			data, err := c.Bytes(rec.Data, rec.Size)
			if err != nil {
				return 0, false, err
			}
			c.Meta(key, trimText(data))
			return rec.Data, false, nil
		}
		switch tag {
		case "RIFF", "RIFX":
			if riff {
				// a second file starts here
				return 0, true, nil
			}
			riff = true
		case "WAVE":
			ext = "wav"
			c.Relevant(ext)
		case "fmt ":
			if rec.Size < 16 {
				return 0, false, c.Invalid(rec.Offset, "wave fmt chunk is too small: %d", rec.Size)
			}
			r := c.At(rec.Data)
			r.Order = order
			m := map[string]any{
				"audio_format":    r.U16(),
				"num_channels":    r.U16(),
				"sample_rate":     r.U32(),
				"byte_rate":       r.U32(),
				"block_align":     r.U16(),
				"bits_per_sample": r.U16(),
			}
			if err := r.Err(); err != nil {
				return 0, false, err
			}
			c.Metas(m)
		case "data":
			wavData = true
		case "AVI ":
			ext = "avi"
			c.Relevant(ext)
		case "movi":
			aviData = true
			return aviChunks(c, order, rec.Data, limit)
		case "IDIT":
			data, err := c.Bytes(rec.Data, rec.Size)
			if err != nil {
				return 0, false, err
			}
			c.Meta("date_time_original", trimText(data))
		case "ACON":
			ext = "ani"
			c.Relevant(ext)
		}
		return rec.Data, false, nil
	}

	w := carve.Walker{
		C:       c,
		Framing: riffFraming{order: order},
		Common:  riffCommon,
		Pad:     2,
		Visit:   visit,
	}
	res, err := w.Walk(off, riffRoot)
	if err != nil {
		return 0, err
	}
	c.Meta("nbr_elements", res.Records)
	switch {
	case ext == "wav" && !wavData:
		return 0, c.Invalid(res.End, "missing wave data")
	case ext == "avi" && !aviData:
		return 0, c.Invalid(res.End, "missing avi data")
	}
	return res.End, nil
}

// aviChunks skips the stream chunks of a movi list and returns where
// they end.
func aviChunks(c *carve.Context, order binary.ByteOrder, cursor, limit int64) (int64, bool, error) {
	for cursor < limit {
		tag, err := c.Bytes(cursor, 4)
		if err != nil || !aviStream(tag) {
			break
		}
		size, err := c.U32(cursor+4, order)
		if err != nil {
			return 0, false, err
		}
		c.Logger().Trace().Int64("offset", cursor).Str("stream", string(tag)).Uint32("size", size).Msg("AVI stream chunk")
		cursor += 8 + int64(size) + int64(size&1)
	}
	return cursor, false, nil
}
