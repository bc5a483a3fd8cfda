package audio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MockPlayer implements Sink for testing purposes.
// It simulates audio playback without actually producing sound.
type MockPlayer struct {
	mu     sync.Mutex
	played [][]byte
	closed bool

	// Err is returned by PlayWAV when set.
	Err error

	// Realtime makes PlayWAV wait for the audio's duration.
	Realtime bool

	playCount atomic.Int64
}

// NewMockPlayer creates a mock player that returns immediately.
func NewMockPlayer() *MockPlayer {
	return &MockPlayer{}
}

// PlayWAV implements Sink.
func (mp *MockPlayer) PlayWAV(ctx context.Context, wav []byte) error {
	mp.mu.Lock()
	if mp.closed {
		mp.mu.Unlock()
		return ErrPlayerClosed
	}
	if mp.Err != nil {
		mp.mu.Unlock()
		return mp.Err
	}
	if _, err := ConfigForWAV(wav); err != nil {
		mp.mu.Unlock()
		return err
	}

	data := make([]byte, len(wav))
	copy(data, wav)
	mp.played = append(mp.played, data)
	mp.playCount.Add(1)
	mp.mu.Unlock()

	if !mp.Realtime {
		return ctx.Err()
	}

	cfg, _ := ConfigForWAV(wav)
	pcm, err := PCM(wav)
	if err != nil {
		return err
	}
	timer := time.NewTimer(newAudioStream(pcm, cfg).Duration())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close implements Sink.
func (mp *MockPlayer) Close() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.closed = true
	return nil
}

// Played returns copies of everything played so far.
func (mp *MockPlayer) Played() [][]byte {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	out := make([][]byte, len(mp.played))
	copy(out, mp.played)
	return out
}

// PlayCount returns the number of successful PlayWAV calls.
func (mp *MockPlayer) PlayCount() int64 {
	return mp.playCount.Load()
}
