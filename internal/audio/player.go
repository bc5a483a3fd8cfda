package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/porua/porua/internal/stream"
)

// Sink plays a complete WAV file.
type Sink interface {
	// PlayWAV blocks until playback finishes or ctx is done.
	PlayWAV(ctx context.Context, wav []byte) error
	Close() error
}

// PlayerState represents the current state of the player.
type PlayerState int32

const (
	StateStopped PlayerState = iota
	StatePlaying
	StatePaused
	StateClosed
)

func (s PlayerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrPlayerClosed is returned by players used after Close.
var ErrPlayerClosed = errors.New("player is closed")

// pollInterval is how often PlayWAV checks for the end of playback.
const pollInterval = 20 * time.Millisecond

// Player plays 16-bit PCM through oto. The oto context is created once per
// process, so a Player is bound to the format it was created with.
type Player struct {
	context *oto.Context

	// Current playback; activeStream keeps the PCM alive while oto reads it
	player       *oto.Player
	activeStream *AudioStream

	state  atomic.Int32
	volume atomic.Uint64 // volume * 1e6

	startTime time.Time

	mu      sync.RWMutex
	stateMu sync.Mutex

	config PlayerConfig
}

// AudioStream is PCM data handed to oto.
type AudioStream struct {
	data     []byte
	reader   io.ReadSeeker
	duration time.Duration

	closeOnce sync.Once
}

// PlayerConfig contains configuration for the audio player.
type PlayerConfig struct {
	SampleRate int
	Channels   int // 1 = mono, 2 = stereo
	BitDepth   int // 16 bits per sample
	BufferSize int // bytes
}

// DefaultPlayerConfig matches the synthesis backend output: 24kHz mono.
func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		SampleRate: 24000,
		Channels:   1,
		BitDepth:   16,
		BufferSize: 4096,
	}
}

// ConfigForWAV derives the player configuration from a WAV header.
func ConfigForWAV(wav []byte) (PlayerConfig, error) {
	f, err := stream.ParseFormat(wav)
	if err != nil {
		return PlayerConfig{}, fmt.Errorf("unable to read wav header: %w", err)
	}

	cfg := DefaultPlayerConfig()
	cfg.SampleRate = int(f.SampleRate)
	cfg.Channels = int(f.Channels)
	cfg.BitDepth = int(f.BitsPerSample)
	return cfg, validateConfig(cfg)
}

// NewPlayer creates a new audio player with the specified configuration.
func NewPlayer(config PlayerConfig) (*Player, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	op := &oto.NewContextOptions{
		SampleRate:   config.SampleRate,
		ChannelCount: config.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   time.Duration(config.BufferSize) * time.Second / time.Duration(config.SampleRate*config.Channels*2),
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-readyChan

	p := &Player{
		context: ctx,
		config:  config,
	}
	p.state.Store(int32(StateStopped))
	_ = p.SetVolume(1.0)

	return p, nil
}

func validateConfig(config PlayerConfig) error {
	if config.SampleRate < 8000 || config.SampleRate > 192000 {
		return fmt.Errorf("sample rate must be between 8000 and 192000 Hz, got %d", config.SampleRate)
	}

	if config.Channels != 1 && config.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", config.Channels)
	}

	if config.BitDepth != 16 {
		return fmt.Errorf("bit depth must be 16, got %d", config.BitDepth)
	}

	if config.BufferSize <= 0 {
		return errors.New("buffer size must be positive")
	}

	return nil
}

// PlayWAV plays a WAV file and waits for it to finish. The header is
// skipped by walking its sub-chunks; its format must match the player's.
func (p *Player) PlayWAV(ctx context.Context, wav []byte) error {
	cfg, err := ConfigForWAV(wav)
	if err != nil {
		return err
	}
	if cfg.SampleRate != p.config.SampleRate || cfg.Channels != p.config.Channels {
		return fmt.Errorf("audio is %dHz/%dch, player is %dHz/%dch",
			cfg.SampleRate, cfg.Channels, p.config.SampleRate, p.config.Channels)
	}

	pcm, err := PCM(wav)
	if err != nil {
		return err
	}

	if err := p.Play(pcm); err != nil {
		return err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = p.Stop()
			return ctx.Err()
		case <-ticker.C:
			if !p.playing() {
				return p.Stop()
			}
		}
	}
}

// PCM returns the sample data of a WAV file.
func PCM(wav []byte) ([]byte, error) {
	f, err := stream.ParseFormat(wav)
	if err != nil {
		return nil, fmt.Errorf("unable to read wav header: %w", err)
	}
	return wav[f.DataOffset : f.DataOffset+f.DataSize], nil
}

// Play starts playback of raw PCM and returns immediately.
func (p *Player) Play(pcm []byte) error {
	if len(pcm) == 0 {
		return errors.New("audio data is empty")
	}

	p.stateMu.Lock()
	defer p.stateMu.Unlock()

	if PlayerState(p.state.Load()) == StateClosed {
		return ErrPlayerClosed
	}

	p.stopInternal()

	s := newAudioStream(pcm, p.config)
	player := p.context.NewPlayer(s.reader)
	player.SetVolume(p.getVolume())

	p.mu.Lock()
	p.player = player
	p.activeStream = s
	p.startTime = time.Now()
	p.mu.Unlock()

	player.Play()
	p.state.Store(int32(StatePlaying))

	return nil
}

func newAudioStream(pcm []byte, config PlayerConfig) *AudioStream {
	data := make([]byte, len(pcm))
	copy(data, pcm)

	frame := config.Channels * config.BitDepth / 8
	frames := len(data) / frame

	return &AudioStream{
		data:     data,
		reader:   bytes.NewReader(data),
		duration: time.Duration(int64(frames) * int64(time.Second) / int64(config.SampleRate)),
	}
}

// playing reports whether oto is still consuming the current stream.
func (p *Player) playing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.player != nil && p.player.IsPlaying()
}

// Pause pauses the current playback.
func (p *Player) Pause() error {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()

	if s := PlayerState(p.state.Load()); s != StatePlaying {
		return fmt.Errorf("cannot pause: player is %s", s)
	}

	p.mu.Lock()
	if p.player != nil {
		p.player.Pause()
	}
	p.mu.Unlock()

	p.state.Store(int32(StatePaused))
	return nil
}

// Resume resumes paused playback.
func (p *Player) Resume() error {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()

	if s := PlayerState(p.state.Load()); s != StatePaused {
		return fmt.Errorf("cannot resume: player is %s", s)
	}

	p.mu.Lock()
	if p.player != nil {
		p.player.Play()
	}
	p.mu.Unlock()

	p.state.Store(int32(StatePlaying))
	return nil
}

// Stop stops playback and releases the stream.
func (p *Player) Stop() error {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()

	p.stopInternal()
	return nil
}

func (p *Player) stopInternal() {
	if s := PlayerState(p.state.Load()); s == StateStopped || s == StateClosed {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.player != nil {
		p.player.Pause()
		_ = p.player.Close()
		p.player = nil
	}
	if p.activeStream != nil {
		p.activeStream.Close()
		p.activeStream = nil
	}

	p.state.Store(int32(StateStopped))
}

// SetVolume sets the playback volume (0.0 to 1.0).
func (p *Player) SetVolume(volume float64) error {
	if volume < 0.0 || volume > 1.0 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %f", volume)
	}

	p.volume.Store(uint64(volume * 1000000))

	p.mu.RLock()
	if p.player != nil {
		p.player.SetVolume(volume)
	}
	p.mu.RUnlock()

	return nil
}

func (p *Player) getVolume() float64 {
	return float64(p.volume.Load()) / 1000000.0
}

// State returns the current player state.
func (p *Player) State() PlayerState {
	return PlayerState(p.state.Load())
}

// Close stops playback. The oto context itself lives until the process ends.
func (p *Player) Close() error {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()

	p.stopInternal()

	p.mu.Lock()
	p.context = nil
	p.mu.Unlock()

	p.state.Store(int32(StateClosed))
	return nil
}

// Duration returns the stream duration.
func (s *AudioStream) Duration() time.Duration {
	return s.duration
}

// Close releases the stream data.
func (s *AudioStream) Close() {
	s.closeOnce.Do(func() {
		s.data = nil
		s.reader = nil
	})
}
