package tts

import (
	"fmt"
	"strings"
)

const (
	// MaxTextLength is the largest text the backend accepts, in bytes.
	MaxTextLength = 10_000

	// MaxSpeed is the fastest speaking rate the backend accepts.
	MaxSpeed = 3.0

	// DefaultVoice is used when neither the request nor the settings name a voice.
	DefaultVoice = "bf_lily"

	// DefaultSpeed is used when neither the request nor the settings set a speed.
	DefaultSpeed = 1.0
)

// Request is one synthesis request as supplied by the caller.
type Request struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
}

// WithDefaults fills an empty voice or zero speed from the given defaults.
func (r Request) WithDefaults(voice string, speed float64) Request {
	if r.Voice == "" {
		r.Voice = voice
	}
	if r.Voice == "" {
		r.Voice = DefaultVoice
	}
	if r.Speed == 0 {
		r.Speed = speed
	}
	if r.Speed == 0 {
		r.Speed = DefaultSpeed
	}
	return r
}

// Validate checks the request against the backend's input limits.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyText
	}
	if len(r.Text) > MaxTextLength {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrTextTooLong, len(r.Text), MaxTextLength)
	}
	if r.Speed <= 0 || r.Speed > MaxSpeed {
		return fmt.Errorf("%w: got %.2f", ErrInvalidSpeed, r.Speed)
	}
	return nil
}
