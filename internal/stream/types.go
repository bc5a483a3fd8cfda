package stream

// ContentTypeWAV is the content type of assembled audio.
const ContentTypeWAV = "audio/wav"

// Phrase is one spoken phrase with its timing in milliseconds.
// StartMs is chunk-relative as received and global after reassembly.
type Phrase struct {
	Text            string  `json:"text"`
	OriginalText    string  `json:"original_text,omitempty"`
	StartMs         float64 `json:"start_ms"`
	DurationMs      float64 `json:"duration_ms"`
	CharOffsetStart *int    `json:"char_offset_start,omitempty"`
	CharOffsetEnd   *int    `json:"char_offset_end,omitempty"`
}

// ChunkMetadata describes one synthesized chunk as emitted by the backend.
type ChunkMetadata struct {
	Version       string   `json:"version,omitempty"`
	ChunkIndex    int      `json:"chunk_index"`
	Text          string   `json:"text,omitempty"`
	Phrases       []Phrase `json:"phrases"`
	DurationMs    float64  `json:"duration_ms"`
	StartOffsetMs float64  `json:"start_offset_ms"`
}

// clone returns a deep copy so callers can rewrite timings without
// touching the decoded input.
func (m *ChunkMetadata) clone() ChunkMetadata {
	c := *m
	c.Phrases = make([]Phrase, len(m.Phrases))
	copy(c.Phrases, m.Phrases)
	return c
}

// PartKind tags the variant held by a Part.
type PartKind int

const (
	// PartMetadata carries a ChunkMetadata.
	PartMetadata PartKind = iota
	// PartAudio carries an audio payload.
	PartAudio
)

// String returns the string representation of the part kind
func (k PartKind) String() string {
	switch k {
	case PartMetadata:
		return "metadata"
	case PartAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Part is one decoded element of the synthesis stream.
type Part struct {
	Kind        PartKind
	Metadata    *ChunkMetadata // set when Kind == PartMetadata
	Audio       []byte         // set when Kind == PartAudio
	ContentType string         // audio content type, when known
}

// MetadataPart builds a metadata part.
func MetadataPart(m ChunkMetadata) Part {
	return Part{Kind: PartMetadata, Metadata: &m}
}

// AudioPart builds an audio part.
func AudioPart(b []byte) Part {
	return Part{Kind: PartAudio, Audio: b, ContentType: ContentTypeWAV}
}

// TimelineEntry is one phrase placed on the global playback timeline.
type TimelineEntry struct {
	Text        string  `json:"text"`
	StartTimeMs float64 `json:"start_time"`
	EndTimeMs   float64 `json:"end_time"`
	ChunkIndex  int     `json:"chunk_index"`
}

// AssembledAudio is one gapless playable unit built from every chunk.
type AssembledAudio struct {
	Bytes       []byte          `json:"-"`
	ContentType string          `json:"content_type"`
	Metadata    ChunkMetadata   `json:"metadata"`
	Timeline    []TimelineEntry `json:"timeline"`
}

// Result is the reassembler output. ChunkCount is 1 when Audio holds an
// assembled unit and 0 when the stream carried no audio.
type Result struct {
	ChunkCount   int
	SourceChunks int
	Audio        *AssembledAudio
}

// Empty reports whether the result carries no audio.
func (r *Result) Empty() bool {
	return r == nil || r.ChunkCount == 0 || r.Audio == nil
}
