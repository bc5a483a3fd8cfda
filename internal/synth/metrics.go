package synth

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/porua/porua/internal/tts"
)

// Event summarizes one finished synthesis request.
type Event struct {
	RequestID   string
	Fingerprint string
	TextLength  int
	CacheHit    bool
	Coalesced   bool
	ChunkCount  int
	AudioBytes  int
	Duration    time.Duration
	Err         error // nil on success and on cancellation
	Cancelled   bool
}

// Observer receives request and cache write outcomes.
type Observer interface {
	SynthesisFinished(ev Event)
	CacheWriteFinished(fingerprint string, err error)
}

// Observers fans events out to several observers.
type Observers []Observer

// SynthesisFinished implements Observer.
func (o Observers) SynthesisFinished(ev Event) {
	for _, obs := range o {
		obs.SynthesisFinished(ev)
	}
}

// CacheWriteFinished implements Observer.
func (o Observers) CacheWriteFinished(fingerprint string, err error) {
	for _, obs := range o {
		obs.CacheWriteFinished(fingerprint, err)
	}
}

// tracker logs the lifecycle of one request.
type tracker struct {
	logger *log.Logger
	ev     Event
	start  time.Time
}

func startTracking(logger *log.Logger, requestID string, req tts.Request) *tracker {
	t := &tracker{
		logger: logger,
		ev:     Event{RequestID: requestID, TextLength: len(req.Text)},
		start:  time.Now(),
	}

	logger.Debug("Synthesis started",
		"request", requestID,
		"textLength", len(req.Text),
		"voice", req.Voice,
		"speed", req.Speed)

	return t
}

// finish completes the event and logs it.
func (t *tracker) finish(err error) Event {
	t.ev.Duration = time.Since(t.start)

	switch {
	case err == nil:
		t.logger.Info("Synthesis completed",
			"request", t.ev.RequestID,
			"textLength", t.ev.TextLength,
			"chunks", t.ev.ChunkCount,
			"audioBytes", t.ev.AudioBytes,
			"duration", t.ev.Duration,
			"cacheHit", t.ev.CacheHit,
			"coalesced", t.ev.Coalesced,
			"bytesPerSecond", bytesPerSecond(t.ev.AudioBytes, t.ev.Duration))
	case tts.IsCancelled(err):
		t.ev.Cancelled = true
		t.logger.Debug("Synthesis cancelled",
			"request", t.ev.RequestID,
			"duration", t.ev.Duration)
	default:
		t.ev.Err = err
		t.logger.Error("Synthesis failed",
			"request", t.ev.RequestID,
			"duration", t.ev.Duration,
			"error", err)
	}

	return t.ev
}

func bytesPerSecond(bytes int, duration time.Duration) string {
	if duration == 0 {
		return "N/A"
	}
	return fmt.Sprintf("%.2f bytes/sec", float64(bytes)/duration.Seconds())
}
