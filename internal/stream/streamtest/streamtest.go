// Package streamtest builds WAV payloads and multipart synthesis bodies for
// tests, framed the way the synthesis backend frames them.
package streamtest

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/porua/porua/internal/stream"
)

// Boundary is the delimiter the backend uses for streamed responses.
const Boundary = "tts_chunk_boundary"

// SampleRate of generated WAV payloads.
const SampleRate = 24000

// ContentType returns the response content type for Body.
func ContentType() string {
	return "multipart/mixed; boundary=" + Boundary
}

// SubChunk is an extra RIFF sub-chunk placed between fmt and data.
type SubChunk struct {
	ID   string
	Data []byte
}

// WAV wraps pcm in a canonical 44-byte mono 16-bit header.
func WAV(pcm []byte) []byte {
	return WAVWithChunks(pcm)
}

// WAVWithChunks wraps pcm in a WAV header carrying the extra sub-chunks.
func WAVWithChunks(pcm []byte, extra ...SubChunk) []byte {
	var body bytes.Buffer

	fmtBody := make([]byte, 16)
	binary.LittleEndian.PutUint16(fmtBody[0:2], 1) // PCM
	binary.LittleEndian.PutUint16(fmtBody[2:4], 1) // mono
	binary.LittleEndian.PutUint32(fmtBody[4:8], SampleRate)
	binary.LittleEndian.PutUint32(fmtBody[8:12], SampleRate*2)
	binary.LittleEndian.PutUint16(fmtBody[12:14], 2)
	binary.LittleEndian.PutUint16(fmtBody[14:16], 16)

	writeSubChunk(&body, "fmt ", fmtBody)
	for _, e := range extra {
		writeSubChunk(&body, e.ID, e.Data)
	}
	writeSubChunk(&body, "data", pcm)

	var out bytes.Buffer
	out.WriteString("RIFF")
	_ = binary.Write(&out, binary.LittleEndian, uint32(4+body.Len()))
	out.WriteString("WAVE")
	out.Write(body.Bytes())
	return out.Bytes()
}

func writeSubChunk(buf *bytes.Buffer, id string, data []byte) {
	buf.WriteString(id)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
}

// Chunk is one synthesized chunk as the backend would emit it.
type Chunk struct {
	Metadata stream.ChunkMetadata
	Audio    []byte
}

// NewChunk builds a chunk with one phrase at offset 0 spanning durationMs.
func NewChunk(index int, text string, durationMs float64, pcm []byte) Chunk {
	return Chunk{
		Metadata: stream.ChunkMetadata{
			ChunkIndex: index,
			Text:       text,
			Phrases:    []stream.Phrase{{Text: text, StartMs: 0, DurationMs: durationMs}},
			DurationMs: durationMs,
		},
		Audio: WAV(pcm),
	}
}

// Parts returns the chunks as alternating metadata and audio parts.
func Parts(chunks ...Chunk) []stream.Part {
	parts := make([]stream.Part, 0, len(chunks)*2)
	for _, c := range chunks {
		parts = append(parts, stream.MetadataPart(c.Metadata), stream.AudioPart(c.Audio))
	}
	return parts
}

// Body frames the chunks as a multipart/mixed response body.
func Body(chunks ...Chunk) []byte {
	var buf bytes.Buffer
	for _, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			panic(err)
		}
		fmt.Fprintf(&buf, "\r\n--%s\r\nContent-Type: application/json\r\n\r\n%s\r\n", Boundary, meta)
		fmt.Fprintf(&buf, "\r\n--%s\r\nContent-Type: audio/wav\r\nContent-Length: %d\r\n\r\n", Boundary, len(c.Audio))
		buf.Write(c.Audio)
	}
	fmt.Fprintf(&buf, "\r\n--%s--\r\n", Boundary)
	return buf.Bytes()
}
