package synth

import (
	"errors"
	"time"

	"github.com/porua/porua/internal/stream"
	"github.com/porua/porua/internal/tts"
)

// Stage identifies a message in the delivery sequence.
type Stage string

// Delivery stages. A successful request yields START, METADATA, AUDIO and
// COMPLETE in that order; an empty result skips METADATA and AUDIO. A failed
// request yields a single ERROR.
const (
	StageStart    Stage = "START"
	StageMetadata Stage = "METADATA"
	StageAudio    Stage = "AUDIO"
	StageComplete Stage = "COMPLETE"
	StageError    Stage = "ERROR"
)

// Message is one step of a synthesis delivery.
type Message struct {
	Stage     Stage  `json:"stage"`
	RequestID string `json:"request_id,omitempty"`

	// START
	ChunkCount  int    `json:"chunk_count"`
	ContentType string `json:"content_type,omitempty"`

	// METADATA
	Metadata *stream.ChunkMetadata `json:"metadata,omitempty"`
	Timeline []stream.TimelineEntry `json:"timeline,omitempty"`

	// AUDIO
	Audio []byte `json:"audio,omitempty"`

	// COMPLETE
	CacheHit   bool          `json:"cache_hit,omitempty"`
	DurationMs float64       `json:"duration_ms,omitempty"`
	Elapsed    time.Duration `json:"elapsed_ns,omitempty"`

	// ERROR
	Error *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo describes a failed request.
type ErrorInfo struct {
	Kind    tts.Kind `json:"kind"`
	Message string   `json:"message"`
	Status  int      `json:"status,omitempty"`
}

// Err converts the info back into a tagged error.
func (e *ErrorInfo) Err() error {
	return &tts.Error{Kind: e.Kind, Message: e.Message, Status: e.Status}
}

func errorInfo(err error) *ErrorInfo {
	var te *tts.Error
	if errors.As(err, &te) {
		return &ErrorInfo{Kind: te.Kind, Message: err.Error(), Status: te.Status}
	}
	return &ErrorInfo{Kind: tts.KindInternal, Message: err.Error()}
}
