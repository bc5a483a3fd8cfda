package stream

import (
	"errors"
	"fmt"
	"sort"
)

// ErrAudioWithoutMetadata is returned when an audio part is not preceded
// by the metadata part describing it.
var ErrAudioWithoutMetadata = errors.New("audio part without preceding metadata")

// chunk is one metadata part paired with the audio part that follows it.
type chunk struct {
	meta     ChunkMetadata
	audio    []byte
	pcmStart int
}

func (c *chunk) pcm() []byte {
	return c.audio[c.pcmStart:]
}

// Reassemble merges parts received in arrival order into one playable unit.
// Chunks are ordered by ChunkIndex, phrase timings are shifted onto a single
// timeline, and the PCM of every chunk is concatenated behind the first
// chunk's header. A stream without audio yields an empty Result.
func Reassemble(parts []Part) (*Result, error) {
	chunks, err := pairParts(parts)
	if err != nil {
		return nil, err
	}

	if len(chunks) == 0 {
		return &Result{ChunkCount: 0}, nil
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].meta.ChunkIndex < chunks[j].meta.ChunkIndex
	})

	combined := retime(chunks)
	audio := joinAudio(chunks)

	contentType := ContentTypeWAV
	if ct := firstContentType(parts); ct != "" {
		contentType = ct
	}

	return &Result{
		ChunkCount:   1,
		SourceChunks: len(chunks),
		Audio: &AssembledAudio{
			Bytes:       audio,
			ContentType: contentType,
			Metadata:    combined,
			Timeline:    BuildTimeline(combined.Phrases),
		},
	}, nil
}

// pairParts pairs each metadata part with the audio part immediately after
// it. A trailing metadata part with no audio is dropped.
func pairParts(parts []Part) ([]*chunk, error) {
	var chunks []*chunk
	var pending *ChunkMetadata

	for i, p := range parts {
		switch p.Kind {
		case PartMetadata:
			if p.Metadata == nil {
				return nil, fmt.Errorf("part %d: metadata part is empty", i)
			}
			m := p.Metadata.clone()
			pending = &m
		case PartAudio:
			if pending == nil {
				return nil, fmt.Errorf("part %d: %w", i, ErrAudioWithoutMetadata)
			}
			chunks = append(chunks, &chunk{
				meta:     *pending,
				audio:    p.Audio,
				pcmStart: FindPCMStart(p.Audio),
			})
			pending = nil
		default:
			return nil, fmt.Errorf("part %d: unknown part kind %d", i, p.Kind)
		}
	}

	return chunks, nil
}

// retime rewrites each chunk's phrases onto the global timeline and returns
// the combined metadata. chunks must already be sorted.
func retime(chunks []*chunk) ChunkMetadata {
	var cumulativeOffsetMs float64
	combined := ChunkMetadata{
		ChunkIndex:    0,
		StartOffsetMs: 0,
	}

	for _, c := range chunks {
		for i := range c.meta.Phrases {
			c.meta.Phrases[i].StartMs += cumulativeOffsetMs
		}
		c.meta.StartOffsetMs = cumulativeOffsetMs
		cumulativeOffsetMs += c.meta.DurationMs

		combined.Phrases = append(combined.Phrases, c.meta.Phrases...)
	}

	combined.DurationMs = cumulativeOffsetMs
	if combined.Phrases == nil {
		combined.Phrases = []Phrase{}
	}
	return combined
}

// joinAudio concatenates every chunk's PCM behind a header taken from the
// first chunk and patched for the combined length. When the first chunk has
// no header the payloads are concatenated as received.
func joinAudio(chunks []*chunk) []byte {
	first := chunks[0]
	if first.pcmStart == 0 {
		var out []byte
		for _, c := range chunks {
			out = append(out, c.audio...)
		}
		return out
	}

	totalPCM := 0
	for _, c := range chunks {
		totalPCM += len(c.pcm())
	}

	header := PatchHeader(first.audio[:first.pcmStart], totalPCM)
	out := make([]byte, 0, len(header)+totalPCM)
	out = append(out, header...)
	for _, c := range chunks {
		out = append(out, c.pcm()...)
	}
	return out
}

// BuildTimeline derives timeline entries from globally timed phrases.
func BuildTimeline(phrases []Phrase) []TimelineEntry {
	timeline := make([]TimelineEntry, 0, len(phrases))
	for i, p := range phrases {
		timeline = append(timeline, TimelineEntry{
			Text:        p.Text,
			StartTimeMs: p.StartMs,
			EndTimeMs:   p.StartMs + p.DurationMs,
			ChunkIndex:  i,
		})
	}
	return timeline
}

func firstContentType(parts []Part) string {
	for _, p := range parts {
		if p.Kind == PartAudio && p.ContentType != "" {
			return p.ContentType
		}
	}
	return ""
}
