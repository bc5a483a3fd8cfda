package audio

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/porua/porua/internal/stream/streamtest"
)

// Compile-time interface checks
var (
	_ Sink = (*Player)(nil)
	_ Sink = (*MockPlayer)(nil)
)

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name      string
		config    PlayerConfig
		expectErr bool
	}{
		{"default", DefaultPlayerConfig(), false},
		{"48000Hz stereo", PlayerConfig{SampleRate: 48000, Channels: 2, BitDepth: 16, BufferSize: 8192}, false},
		{"sample rate too low", PlayerConfig{SampleRate: 4000, Channels: 1, BitDepth: 16, BufferSize: 4096}, true},
		{"invalid channels", PlayerConfig{SampleRate: 44100, Channels: 3, BitDepth: 16, BufferSize: 4096}, true},
		{"invalid bit depth", PlayerConfig{SampleRate: 44100, Channels: 1, BitDepth: 24, BufferSize: 4096}, true},
		{"zero buffer", PlayerConfig{SampleRate: 44100, Channels: 1, BitDepth: 16, BufferSize: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfig(tt.config)
			if (err != nil) != tt.expectErr {
				t.Errorf("validateConfig() error = %v, expectErr %v", err, tt.expectErr)
			}
		})
	}
}

func TestConfigForWAV(t *testing.T) {
	cfg, err := ConfigForWAV(streamtest.WAV([]byte{1, 2, 3, 4}))
	if err != nil {
		t.Fatalf("ConfigForWAV failed: %v", err)
	}
	if cfg.SampleRate != streamtest.SampleRate || cfg.Channels != 1 || cfg.BitDepth != 16 {
		t.Errorf("unexpected config %+v", cfg)
	}

	if _, err := ConfigForWAV([]byte{1, 2, 3, 4}); err == nil {
		t.Error("expected an error for raw PCM")
	}
}

func TestPCM(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6}
	wav := streamtest.WAVWithChunks(pcm, streamtest.SubChunk{ID: "LIST", Data: make([]byte, 24)})

	got, err := PCM(wav)
	if err != nil {
		t.Fatalf("PCM failed: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("PCM = %v, want %v", got, pcm)
	}
}

func TestAudioStreamDuration(t *testing.T) {
	cfg := DefaultPlayerConfig()
	// One second of 24kHz mono 16-bit audio
	s := newAudioStream(make([]byte, 48000), cfg)
	if s.Duration() != time.Second {
		t.Errorf("Duration = %s, want 1s", s.Duration())
	}

	s.Close()
	s.Close()
	if s.data != nil {
		t.Error("Close should release the data")
	}
}

func TestPlayerStateString(t *testing.T) {
	tests := []struct {
		state PlayerState
		want  string
	}{
		{StateStopped, "stopped"},
		{StatePlaying, "playing"},
		{StatePaused, "paused"},
		{StateClosed, "closed"},
		{PlayerState(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestMockPlayer(t *testing.T) {
	mp := NewMockPlayer()
	wav := streamtest.WAV([]byte{1, 2, 3, 4})

	if err := mp.PlayWAV(context.Background(), wav); err != nil {
		t.Fatalf("PlayWAV failed: %v", err)
	}
	if mp.PlayCount() != 1 || !bytes.Equal(mp.Played()[0], wav) {
		t.Error("mock did not record the audio")
	}

	if err := mp.PlayWAV(context.Background(), []byte("not audio")); err == nil {
		t.Error("expected an error for invalid audio")
	}

	mp.Err = errors.New("device busy")
	if err := mp.PlayWAV(context.Background(), wav); !errors.Is(err, mp.Err) {
		t.Errorf("got %v, want the configured error", err)
	}
	mp.Err = nil

	_ = mp.Close()
	if err := mp.PlayWAV(context.Background(), wav); !errors.Is(err, ErrPlayerClosed) {
		t.Errorf("got %v, want ErrPlayerClosed", err)
	}
}

func TestMockPlayer_RealtimeCancel(t *testing.T) {
	mp := NewMockPlayer()
	mp.Realtime = true

	// Ten seconds of audio
	wav := streamtest.WAV(make([]byte, streamtest.SampleRate*2*10))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := mp.PlayWAV(ctx, wav)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want a deadline error", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancellation did not stop playback")
	}
}
