package bmff

// Track summarizes one trak box.
type Track struct {
	ID          uint32
	Handler     string
	Codec       string
	Width       uint32 // pixels
	Height      uint32
	Channels    uint16
	SampleRate  uint32 // Hz
	Timescale   uint32
	Duration    uint64 // in Timescale units
	Language    string
	SampleCount uint32
	SampleBytes uint64
	ChunkCount  uint32
	SyncSamples uint32
}

// ReadTrack parses the payload of a trak box.
func ReadTrack(trak []byte) (Track, error) {
	var t Track
	r := NewReader(trak)
	for r.Next() {
		switch r.Type() {
		case TypeTkhd:
			h, err := r.ReadTkhd()
			if err != nil {
				return t, err
			}
			t.ID = h.TrackID
			t.Width, t.Height = h.Width>>16, h.Height>>16
		case TypeMdia:
			if r.Enter(0) {
				if err := t.readMdia(&r); err != nil {
					return t, err
				}
				r.Exit()
			}
		}
	}
	return t, r.Err()
}

func (t *Track) readMdia(r *Reader) error {
	for r.Next() {
		switch r.Type() {
		case TypeMdhd:
			m, err := r.ReadMdhd()
			if err != nil {
				return err
			}
			t.Timescale, t.Duration, t.Language = m.Timescale, m.Duration, m.Language
		case TypeHdlr:
			h, _, err := r.ReadHdlr()
			if err != nil {
				return err
			}
			t.Handler = h
		case TypeMinf:
			if r.Enter(0) {
				for r.Next() {
					if r.Type() == TypeStbl && r.Enter(0) {
						if err := t.readStbl(r); err != nil {
							return err
						}
						r.Exit()
					}
				}
				r.Exit()
			}
		}
	}
	return r.Err()
}

func (t *Track) readStbl(r *Reader) error {
	for r.Next() {
		switch r.Type() {
		case TypeStsd:
			if !r.Enter(4) {
				return r.Err()
			}
			if r.Next() {
				if err := t.readSampleEntry(r); err != nil {
					return err
				}
			}
			r.Exit()
		case TypeStsz:
			it := NewStszIter(r.Data())
			t.SampleCount = it.Count()
			t.SampleBytes = it.Total()
		case TypeStco:
			it := NewUint32Iter(r.Data())
			t.ChunkCount = it.Count()
		case TypeCo64:
			it := NewCo64Iter(r.Data())
			t.ChunkCount = it.Count()
		case TypeStss:
			it := NewUint32Iter(r.Data())
			t.SyncSamples = it.Count()
		}
	}
	return r.Err()
}

// readSampleEntry reads the first sample description; the reader is on it.
func (t *Track) readSampleEntry(r *Reader) error {
	entry := r.Type()
	t.Codec = entry.String()
	switch t.Handler {
	case HandlerVideo:
		v, err := ReadVisualSampleEntry(r.Data())
		if err != nil {
			return err
		}
		if t.Width == 0 && t.Height == 0 {
			t.Width, t.Height = uint32(v.Width), uint32(v.Height)
		}
		if (entry == TypeAvc1 || entry == TypeAvc3) && r.Enter(visualEntrySize) {
			for r.Next() {
				if r.Type() == TypeAvcC {
					if p := ReadAvcC(r.Data()); p != "" {
						t.Codec += "." + p
					}
				}
			}
			r.Exit()
		}
	case HandlerSound:
		a, err := ReadAudioSampleEntry(r.Data())
		if err != nil {
			return err
		}
		t.Channels = a.ChannelCount
		t.SampleRate = a.SampleRate >> 16
		if entry == TypeMp4a && r.Enter(audioEntrySize) {
			for r.Next() {
				if r.Type() == TypeEsds {
					if c := ReadEsdsCodec(r.Data()); c != "" {
						t.Codec += "." + c
					}
				}
			}
			r.Exit()
		}
	}
	return r.Err()
}

// Fields returns the track as metadata, leaving out unset values.
func (t Track) Fields() map[string]any {
	m := map[string]any{
		"id":           t.ID,
		"handler":      t.Handler,
		"timescale":    t.Timescale,
		"duration":     t.Duration,
		"sample_count": t.SampleCount,
		"sample_bytes": t.SampleBytes,
	}
	if t.Codec != "" {
		m["codec"] = t.Codec
	}
	if t.Language != "" {
		m["language"] = t.Language
	}
	if t.Width != 0 || t.Height != 0 {
		m["width"], m["height"] = t.Width, t.Height
	}
	if t.Channels != 0 {
		m["channels"] = t.Channels
		m["sample_rate"] = t.SampleRate
	}
	if t.ChunkCount != 0 {
		m["chunk_count"] = t.ChunkCount
	}
	if t.SyncSamples != 0 {
		m["sync_samples"] = t.SyncSamples
	}
	return m
}
