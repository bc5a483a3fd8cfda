package stream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	// minContainerSize is the smallest buffer treated as a structured WAV.
	// Anything shorter is raw PCM.
	minContainerSize = 44

	// riffHeaderSize covers the "RIFF" id, the total-size field and "WAVE".
	riffHeaderSize = 12

	// subChunkHeaderSize covers a sub-chunk's 4-byte id and 4-byte size.
	subChunkHeaderSize = 8

	// minHeaderSize is the shortest header that ends in a data sub-chunk:
	// the RIFF header followed directly by "data" and its size.
	minHeaderSize = riffHeaderSize + subChunkHeaderSize
)

var (
	dataChunkID = []byte("data")
	fmtChunkID  = []byte("fmt ")
)

// Errors returned by ParseFormat
var (
	ErrNoHeader      = errors.New("buffer has no RIFF header")
	ErrNoFormatChunk = errors.New("RIFF container has no fmt sub-chunk")
)

// FindPCMStart returns the byte offset at which PCM samples begin. It walks
// sub-chunks starting past the RIFF header until it finds the data marker.
// Buffers that are too short, truncated, or missing a data sub-chunk are
// treated as raw PCM and yield 0.
func FindPCMStart(buf []byte) int {
	if len(buf) < minContainerSize {
		return 0
	}

	pos := riffHeaderSize
	for pos+subChunkHeaderSize <= len(buf) {
		id := buf[pos : pos+4]
		size := binary.LittleEndian.Uint32(buf[pos+4 : pos+subChunkHeaderSize])

		if bytes.Equal(id, dataChunkID) {
			return pos + subChunkHeaderSize
		}

		next := uint64(pos) + subChunkHeaderSize + uint64(size)
		if next > uint64(len(buf)) {
			return 0
		}
		pos = int(next)
	}

	return 0
}

// PatchHeader returns a copy of header with its size fields rewritten for
// totalPCM bytes of sample data. header must end exactly where PCM begins:
// bytes 4..8 receive totalPCM+len(header)-8 and the final four bytes (the
// data sub-chunk size) receive totalPCM.
func PatchHeader(header []byte, totalPCM int) []byte {
	out := make([]byte, len(header))
	copy(out, header)

	if len(out) < minHeaderSize {
		return out
	}

	binary.LittleEndian.PutUint32(out[4:8], uint32(totalPCM+len(out)-8))
	binary.LittleEndian.PutUint32(out[len(out)-4:], uint32(totalPCM))
	return out
}

// Format describes the sample layout declared by a WAV fmt sub-chunk.
type Format struct {
	AudioFormat   uint16 // 1 for PCM
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataOffset    int // offset of the first PCM byte
	DataSize      int // PCM bytes actually present in the buffer
}

// Duration returns the playback length of the PCM data.
func (f Format) Duration() time.Duration {
	if f.ByteRate == 0 {
		return 0
	}
	return time.Duration(int64(f.DataSize) * int64(time.Second) / int64(f.ByteRate))
}

// ParseFormat reads the fmt sub-chunk and PCM location of a WAV buffer.
func ParseFormat(buf []byte) (Format, error) {
	var f Format

	if len(buf) < minContainerSize || !bytes.Equal(buf[0:4], []byte("RIFF")) || !bytes.Equal(buf[8:12], []byte("WAVE")) {
		return f, ErrNoHeader
	}

	found := false
	pos := riffHeaderSize
	for pos+subChunkHeaderSize <= len(buf) {
		id := buf[pos : pos+4]
		size := int(binary.LittleEndian.Uint32(buf[pos+4 : pos+subChunkHeaderSize]))
		body := pos + subChunkHeaderSize

		switch {
		case bytes.Equal(id, fmtChunkID):
			if size < 16 || body+16 > len(buf) {
				return f, fmt.Errorf("fmt sub-chunk too short: %d bytes", size)
			}
			f.AudioFormat = binary.LittleEndian.Uint16(buf[body : body+2])
			f.Channels = binary.LittleEndian.Uint16(buf[body+2 : body+4])
			f.SampleRate = binary.LittleEndian.Uint32(buf[body+4 : body+8])
			f.ByteRate = binary.LittleEndian.Uint32(buf[body+8 : body+12])
			f.BlockAlign = binary.LittleEndian.Uint16(buf[body+12 : body+14])
			f.BitsPerSample = binary.LittleEndian.Uint16(buf[body+14 : body+16])
			found = true
		case bytes.Equal(id, dataChunkID):
			if !found {
				return f, ErrNoFormatChunk
			}
			f.DataOffset = body
			f.DataSize = min(size, len(buf)-body)
			return f, nil
		}

		pos = body + size
	}

	if !found {
		return f, ErrNoFormatChunk
	}
	return f, fmt.Errorf("RIFF container has no data sub-chunk")
}
