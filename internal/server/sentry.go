package server

import (
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/porua/porua/internal/synth"
	"github.com/porua/porua/internal/tts"
)

// SentryReporter reports failed synthesis requests to Sentry. Cancellations
// and cache write failures are not reported.
type SentryReporter struct {
	hub *sentry.Hub
}

// NewSentryReporter reports through hub, or the current hub when nil.
func NewSentryReporter(hub *sentry.Hub) *SentryReporter {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryReporter{hub: hub}
}

// SynthesisFinished implements synth.Observer.
func (r *SentryReporter) SynthesisFinished(ev synth.Event) {
	if ev.Err == nil || ev.Cancelled {
		return
	}

	r.hub.WithScope(func(scope *sentry.Scope) {
		kind, ok := tts.KindOf(ev.Err)
		if !ok {
			kind = tts.KindInternal
		}
		scope.SetTag("kind", string(kind))
		scope.SetTag("request_id", ev.RequestID)
		scope.SetExtra("text_length", ev.TextLength)
		scope.SetExtra("duration", ev.Duration.String())
		r.hub.CaptureException(ev.Err)
	})
}

// CacheWriteFinished implements synth.Observer.
func (r *SentryReporter) CacheWriteFinished(string, error) {}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}
