package stream_test

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/porua/porua/internal/stream"
	"github.com/porua/porua/internal/stream/streamtest"
)

func TestFindPCMStart(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}

	tests := []struct {
		name string
		buf  []byte
		want int
	}{
		{
			name: "canonical header",
			buf:  streamtest.WAV(pcm),
			want: 44,
		},
		{
			name: "extra sub-chunk before data",
			buf:  streamtest.WAVWithChunks(pcm, streamtest.SubChunk{ID: "LIST", Data: make([]byte, 16)}),
			want: 68,
		},
		{
			name: "two extra sub-chunks",
			buf: streamtest.WAVWithChunks(pcm,
				streamtest.SubChunk{ID: "LIST", Data: make([]byte, 10)},
				streamtest.SubChunk{ID: "fact", Data: make([]byte, 4)},
			),
			want: 44 + 18 + 12,
		},
		{
			name: "too short for a header",
			buf:  make([]byte, 43),
			want: 0,
		},
		{
			name: "headerless payload",
			buf:  bytes.Repeat([]byte{0xff}, 64),
			want: 0,
		},
		{
			name: "sub-chunk size runs past the buffer",
			buf: func() []byte {
				b := streamtest.WAV(pcm)
				binary.LittleEndian.PutUint32(b[16:20], 1<<30)
				return b
			}(),
			want: 0,
		},
		{
			name: "no data sub-chunk",
			buf: func() []byte {
				b := streamtest.WAV(pcm)
				copy(b[36:40], "junk")
				return b
			}(),
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stream.FindPCMStart(tt.buf); got != tt.want {
				t.Errorf("FindPCMStart() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPatchHeader(t *testing.T) {
	wav := streamtest.WAV([]byte{1, 2, 3, 4})
	header := wav[:44]
	original := append([]byte(nil), header...)

	patched := stream.PatchHeader(header, 1000)

	if !bytes.Equal(header, original) {
		t.Fatal("PatchHeader modified its input")
	}
	if len(patched) != len(header) {
		t.Fatalf("patched length = %d, want %d", len(patched), len(header))
	}

	if got := binary.LittleEndian.Uint32(patched[4:8]); got != 1000+44-8 {
		t.Errorf("RIFF size = %d, want %d", got, 1000+44-8)
	}
	if got := binary.LittleEndian.Uint32(patched[40:44]); got != 1000 {
		t.Errorf("data size = %d, want 1000", got)
	}
	if !bytes.Equal(patched[8:40], header[8:40]) {
		t.Error("PatchHeader changed bytes outside the size fields")
	}
}

func TestPatchHeader_ShortHeaders(t *testing.T) {
	dataFirst := make([]byte, 20)
	copy(dataFirst[0:4], "RIFF")
	copy(dataFirst[8:12], "WAVE")
	copy(dataFirst[12:16], "data")

	tests := []struct {
		name      string
		header    []byte
		wantPatch bool
	}{
		{"data sub-chunk first", dataFirst, true},
		{"too short", dataFirst[:19], false},
		{"empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patched := stream.PatchHeader(tt.header, 100)
			if len(patched) != len(tt.header) {
				t.Fatalf("length = %d, want %d", len(patched), len(tt.header))
			}
			if !tt.wantPatch {
				if !bytes.Equal(patched, tt.header) {
					t.Error("short header should be returned unchanged")
				}
				return
			}
			if got := binary.LittleEndian.Uint32(patched[4:8]); got != 112 {
				t.Errorf("RIFF size = %d, want 112", got)
			}
			if got := binary.LittleEndian.Uint32(patched[16:20]); got != 100 {
				t.Errorf("data size = %d, want 100", got)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	pcm := make([]byte, streamtest.SampleRate*2/10) // 100ms
	wav := streamtest.WAVWithChunks(pcm, streamtest.SubChunk{ID: "LIST", Data: make([]byte, 6)})

	f, err := stream.ParseFormat(wav)
	if err != nil {
		t.Fatalf("ParseFormat failed: %v", err)
	}

	if f.AudioFormat != 1 || f.Channels != 1 || f.BitsPerSample != 16 {
		t.Errorf("unexpected format: %+v", f)
	}
	if f.SampleRate != streamtest.SampleRate {
		t.Errorf("SampleRate = %d, want %d", f.SampleRate, streamtest.SampleRate)
	}
	if f.DataOffset != 44+14 {
		t.Errorf("DataOffset = %d, want %d", f.DataOffset, 44+14)
	}
	if f.DataSize != len(pcm) {
		t.Errorf("DataSize = %d, want %d", f.DataSize, len(pcm))
	}
	if f.Duration() != 100*time.Millisecond {
		t.Errorf("Duration = %v, want 100ms", f.Duration())
	}

	if _, err := stream.ParseFormat([]byte("not a wav")); err != stream.ErrNoHeader {
		t.Errorf("expected ErrNoHeader, got %v", err)
	}
}
