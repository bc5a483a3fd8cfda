// Package synth runs synthesis requests end to end: cache lookup, backend
// retrieval, decoding, reassembly, staged delivery and write-behind caching.
package synth

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/porua/porua/internal/backend"
	"github.com/porua/porua/internal/cache"
	"github.com/porua/porua/internal/stream"
	"github.com/porua/porua/internal/tts"
)

// Retriever starts a streamed synthesis call.
type Retriever interface {
	Retrieve(ctx context.Context, req tts.Request) (*backend.Response, error)
}

// Decoder splits a multipart body into stream parts.
type Decoder interface {
	Decode(r io.Reader, boundary string) ([]stream.Part, error)
}

// Options configures an Orchestrator.
type Options struct {
	// Voice and Speed fill requests that leave them unset.
	Voice string
	Speed float64

	// Coalesce lets concurrent requests with the same fingerprint share one
	// backend call.
	Coalesce bool

	Fingerprinter *cache.Fingerprinter
	Observer      Observer
	Logger        *log.Logger
}

// DefaultOptions returns the options used by the CLI and server.
func DefaultOptions() Options {
	return Options{
		Voice:    tts.DefaultVoice,
		Speed:    tts.DefaultSpeed,
		Coalesce: true,
	}
}

// Orchestrator serves synthesis requests, memoizing assembled audio in an
// AudioCache. A nil cache runs every request against the backend.
type Orchestrator struct {
	retriever Retriever
	decoder   Decoder
	cache     *cache.AudioCache
	opts      Options
	logger    *log.Logger

	group  singleflight.Group
	writes sync.WaitGroup
}

// New creates an orchestrator.
func New(retriever Retriever, decoder Decoder, audioCache *cache.AudioCache, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Fingerprinter == nil {
		opts.Fingerprinter = cache.NewFingerprinter()
	}
	if decoder == nil {
		decoder = stream.MultipartDecoder{}
	}

	return &Orchestrator{
		retriever: retriever,
		decoder:   decoder,
		cache:     audioCache,
		opts:      opts,
		logger:    opts.Logger,
	}
}

// Cache returns the cache in use, or nil.
func (o *Orchestrator) Cache() *cache.AudioCache {
	return o.cache
}

// Synthesize runs req and returns the delivery channel. The channel is
// closed after COMPLETE or ERROR. If ctx is cancelled the channel is closed
// without an ERROR and no cache entry is written for the aborted retrieval.
func (o *Orchestrator) Synthesize(ctx context.Context, req tts.Request) <-chan Message {
	out := make(chan Message, 4)
	go o.run(ctx, req, out)
	return out
}

// Result is a fully collected delivery.
type Result struct {
	RequestID  string
	ChunkCount int
	CacheHit   bool
	Audio      *stream.AssembledAudio // nil when ChunkCount is 0
}

// Run synthesizes req and collects the delivery. A cancelled ctx yields an
// error of kind tts.KindCancelled.
func (o *Orchestrator) Run(ctx context.Context, req tts.Request) (*Result, error) {
	res := &Result{}
	var audio stream.AssembledAudio

	for msg := range o.Synthesize(ctx, req) {
		res.RequestID = msg.RequestID
		switch msg.Stage {
		case StageStart:
			res.ChunkCount = msg.ChunkCount
			audio.ContentType = msg.ContentType
		case StageMetadata:
			audio.Metadata = *msg.Metadata
			audio.Timeline = msg.Timeline
		case StageAudio:
			audio.Bytes = msg.Audio
		case StageComplete:
			res.CacheHit = msg.CacheHit
			if res.ChunkCount > 0 {
				res.Audio = &audio
			}
			return res, nil
		case StageError:
			return nil, msg.Error.Err()
		}
	}

	return nil, cancelled(ctx)
}

// Wait blocks until pending cache writes finish.
func (o *Orchestrator) Wait() {
	o.writes.Wait()
}

// Close waits for pending cache writes and closes the cache.
func (o *Orchestrator) Close() error {
	o.Wait()
	if o.cache == nil {
		return nil
	}
	return o.cache.Close()
}

func (o *Orchestrator) run(ctx context.Context, req tts.Request, out chan<- Message) {
	defer close(out)

	ctx, requestID := tts.EnsureRequestID(ctx)
	req = req.WithDefaults(o.opts.Voice, o.opts.Speed)
	t := startTracking(o.logger, requestID, req)

	d := delivery{ctx: ctx, out: out, requestID: requestID}
	err := o.serve(ctx, req, t, &d)
	if err != nil && !tts.IsCancelled(err) {
		d.send(Message{Stage: StageError, Error: errorInfo(err)})
	}

	ev := t.finish(err)
	if o.opts.Observer != nil {
		o.opts.Observer.SynthesisFinished(ev)
	}
}

func (o *Orchestrator) serve(ctx context.Context, req tts.Request, t *tracker, d *delivery) error {
	if err := req.Validate(); err != nil {
		return tts.NewError(tts.KindValidation, "invalid request", err)
	}

	fingerprint := o.fingerprint(req)
	t.ev.Fingerprint = fingerprint

	if o.cache != nil && fingerprint != "" {
		if entry, ok := o.cache.Lookup(fingerprint); ok {
			t.ev.CacheHit = true
			t.ev.ChunkCount = 1
			t.ev.AudioBytes = len(entry.Audio.Bytes)
			return d.deliver(entry.Audio, true, t)
		}
	}

	res, shared, err := o.produce(ctx, fingerprint, req)
	if err != nil {
		return err
	}
	t.ev.Coalesced = shared
	t.ev.ChunkCount = res.ChunkCount

	if res.Empty() {
		return d.deliverEmpty(t)
	}

	t.ev.AudioBytes = len(res.Audio.Bytes)
	return d.deliver(res.Audio, false, t)
}

// fingerprint returns the cache key for req, or "" when none is needed or
// it cannot be derived. A failure only disables caching for this request.
func (o *Orchestrator) fingerprint(req tts.Request) string {
	if o.cache == nil && !o.opts.Coalesce {
		return ""
	}

	fp, err := o.opts.Fingerprinter.Generate(req.Text, req.Voice, req.Speed)
	if err != nil {
		o.logger.Warn("Cache key generation failed", "error", err)
		return ""
	}
	return fp
}

// produce runs the retrieval pipeline, sharing it between concurrent
// requests for the same fingerprint when coalescing is on. shared reports
// whether the result came from another request's call.
func (o *Orchestrator) produce(ctx context.Context, fingerprint string, req tts.Request) (*stream.Result, bool, error) {
	if fingerprint == "" || !o.opts.Coalesce {
		res, err := o.pipeline(ctx, fingerprint, req)
		return res, false, err
	}

	for attempt := 0; ; attempt++ {
		var led bool
		ch := o.group.DoChan(fingerprint, func() (any, error) {
			led = true
			return o.pipeline(ctx, fingerprint, req)
		})

		select {
		case <-ctx.Done():
			return nil, false, cancelled(ctx)
		case r := <-ch:
			// The leading request was cancelled but this one was not
			if r.Err != nil && !led && tts.IsCancelled(r.Err) && ctx.Err() == nil && attempt == 0 {
				o.logger.Debug("Coalesced request lost its leader, retrying", "key", fingerprint)
				continue
			}
			if r.Err != nil {
				return nil, false, r.Err
			}
			if !led {
				o.logger.Debug("Coalesced synthesis", "key", fingerprint)
			}
			return r.Val.(*stream.Result), !led, nil
		}
	}
}

// pipeline retrieves, validates, decodes and reassembles one response, then
// schedules the cache write.
func (o *Orchestrator) pipeline(ctx context.Context, fingerprint string, req tts.Request) (*stream.Result, error) {
	if o.retriever == nil {
		return nil, tts.NewError(tts.KindNetwork, "no synthesis backend configured", nil)
	}

	resp, err := o.retriever.Retrieve(ctx, req)
	if err != nil {
		return nil, o.tag(ctx, err)
	}
	defer resp.Body.Close()

	boundary, err := stream.ValidateContentType(resp.ContentType)
	if err != nil {
		return nil, err
	}

	parts, err := o.decoder.Decode(resp.Body, boundary)
	if err != nil {
		return nil, o.tag(ctx, err)
	}

	res, err := stream.Reassemble(parts)
	if err != nil {
		return nil, tts.NewError(tts.KindValidation, "reassemble stream", err)
	}

	o.logger.Debug("Stream reassembled",
		"key", fingerprint,
		"chunks", res.SourceChunks,
		"empty", res.Empty())

	if !res.Empty() && o.cache != nil && fingerprint != "" {
		o.writeBehind(fingerprint, res.Audio)
	}

	return res, nil
}

// writeBehind stores audio in the background. Its outcome is only logged.
func (o *Orchestrator) writeBehind(fingerprint string, audio *stream.AssembledAudio) {
	o.writes.Add(1)
	go func() {
		defer o.writes.Done()

		err := o.cache.Store(fingerprint, audio)
		if err != nil {
			o.logger.Warn("Cache write failed", "key", fingerprint, "error", err)
		}
		if o.opts.Observer != nil {
			o.opts.Observer.CacheWriteFinished(fingerprint, err)
		}
	}()
}

// tag turns errors seen after ctx was cancelled into cancellations and
// gives untagged errors a kind.
func (o *Orchestrator) tag(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return cancelled(ctx)
	}
	if _, ok := tts.KindOf(err); ok {
		return err
	}
	return tts.NewError(tts.KindNetwork, "retrieve", err)
}

func cancelled(ctx context.Context) error {
	cause := ctx.Err()
	if cause == nil {
		cause = context.Canceled
	}
	return tts.NewError(tts.KindCancelled, "request cancelled", cause)
}

// delivery sends staged messages for one request.
type delivery struct {
	ctx       context.Context
	out       chan<- Message
	requestID string
}

// send delivers msg unless the request was cancelled.
func (d *delivery) send(msg Message) bool {
	if d.ctx.Err() != nil {
		return false
	}
	msg.RequestID = d.requestID
	select {
	case d.out <- msg:
		return true
	case <-d.ctx.Done():
		return false
	}
}

func (d *delivery) deliver(audio *stream.AssembledAudio, cacheHit bool, t *tracker) error {
	meta := audio.Metadata
	msgs := []Message{
		{Stage: StageStart, ChunkCount: 1, ContentType: audio.ContentType},
		{Stage: StageMetadata, Metadata: &meta, Timeline: audio.Timeline},
		{Stage: StageAudio, Audio: audio.Bytes},
	}
	for _, msg := range msgs {
		if !d.send(msg) {
			return cancelled(d.ctx)
		}
	}

	complete := Message{
		Stage:      StageComplete,
		CacheHit:   cacheHit,
		DurationMs: audio.Metadata.DurationMs,
		Elapsed:    time.Since(t.start),
	}
	if !d.send(complete) {
		return cancelled(d.ctx)
	}
	return nil
}

func (d *delivery) deliverEmpty(t *tracker) error {
	if !d.send(Message{Stage: StageStart, ChunkCount: 0}) {
		return cancelled(d.ctx)
	}
	if !d.send(Message{Stage: StageComplete, Elapsed: time.Since(t.start)}) {
		return cancelled(d.ctx)
	}
	return nil
}
