package synth

import (
	"bytes"
	"context"
	"crypto"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/porua/porua/internal/backend"
	"github.com/porua/porua/internal/cache"
	"github.com/porua/porua/internal/stream"
	"github.com/porua/porua/internal/stream/streamtest"
	"github.com/porua/porua/internal/tts"
)

// fakeRetriever serves a fixed body. When block is set, each call waits
// for release or for its context to end.
type fakeRetriever struct {
	contentType string
	body        []byte
	err         error

	block   bool
	release chan struct{}
	started chan struct{}

	calls atomic.Int32
}

func newFakeRetriever(chunks ...streamtest.Chunk) *fakeRetriever {
	return &fakeRetriever{
		contentType: streamtest.ContentType(),
		body:        streamtest.Body(chunks...),
		release:     make(chan struct{}),
		started:     make(chan struct{}, 16),
	}
}

func (f *fakeRetriever) Retrieve(ctx context.Context, req tts.Request) (*backend.Response, error) {
	f.calls.Add(1)
	f.started <- struct{}{}

	if f.block {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, tts.NewError(tts.KindCancelled, "send request", ctx.Err())
		}
	}

	if f.err != nil {
		return nil, f.err
	}
	return &backend.Response{
		ContentType: f.contentType,
		Body:        io.NopCloser(bytes.NewReader(f.body)),
	}, nil
}

// recordingObserver captures events.
type recordingObserver struct {
	mu          sync.Mutex
	events      []Event
	writeErrors []error
	writes      int
}

func (r *recordingObserver) SynthesisFinished(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingObserver) CacheWriteFinished(fingerprint string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	if err != nil {
		r.writeErrors = append(r.writeErrors, err)
	}
}

func threeChunks() []streamtest.Chunk {
	return []streamtest.Chunk{
		streamtest.NewChunk(2, "third", 100, []byte{5, 6}),
		streamtest.NewChunk(0, "first", 100, []byte{1, 2}),
		streamtest.NewChunk(1, "second", 100, []byte{3, 4}),
	}
}

func newTestCache(t *testing.T, store cache.Store) *cache.AudioCache {
	t.Helper()
	c, err := cache.NewAudioCache(1<<20, store, nil)
	if err != nil {
		t.Fatalf("NewAudioCache failed: %v", err)
	}
	return c
}

func collect(ch <-chan Message) []Message {
	var msgs []Message
	for msg := range ch {
		msgs = append(msgs, msg)
	}
	return msgs
}

func stages(msgs []Message) []Stage {
	out := make([]Stage, len(msgs))
	for i, m := range msgs {
		out[i] = m.Stage
	}
	return out
}

func equalStages(a, b []Stage) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSynthesize_MissDelivery(t *testing.T) {
	r := newFakeRetriever(threeChunks()...)
	o := New(r, nil, newTestCache(t, nil), DefaultOptions())
	defer o.Close()

	msgs := collect(o.Synthesize(context.Background(), tts.Request{Text: "first second third"}))

	want := []Stage{StageStart, StageMetadata, StageAudio, StageComplete}
	if got := stages(msgs); !equalStages(got, want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}

	start := msgs[0]
	if start.ChunkCount != 1 || start.ContentType != stream.ContentTypeWAV {
		t.Errorf("unexpected START: %+v", start)
	}
	if start.RequestID == "" {
		t.Error("messages should carry a request id")
	}

	timeline := msgs[1].Timeline
	wantTimeline := []stream.TimelineEntry{
		{Text: "first", StartTimeMs: 0, EndTimeMs: 100, ChunkIndex: 0},
		{Text: "second", StartTimeMs: 100, EndTimeMs: 200, ChunkIndex: 1},
		{Text: "third", StartTimeMs: 200, EndTimeMs: 300, ChunkIndex: 2},
	}
	if len(timeline) != len(wantTimeline) {
		t.Fatalf("timeline = %+v", timeline)
	}
	for i := range wantTimeline {
		if timeline[i] != wantTimeline[i] {
			t.Errorf("timeline[%d] = %+v, want %+v", i, timeline[i], wantTimeline[i])
		}
	}

	if pcm := msgs[2].Audio[44:]; !bytes.Equal(pcm, []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("PCM = %v", pcm)
	}
	if msgs[3].CacheHit {
		t.Error("first request should not be a cache hit")
	}
}

func TestSynthesize_NormalizedTextHitsCache(t *testing.T) {
	r := newFakeRetriever(threeChunks()...)
	c := newTestCache(t, nil)
	o := New(r, nil, c, DefaultOptions())
	defer o.Close()

	first, err := o.Run(context.Background(), tts.Request{Text: "Hello", Voice: "bf_lily", Speed: 1})
	if err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	o.Wait()

	second, err := o.Run(context.Background(), tts.Request{Text: " Hello ", Voice: "bf_lily", Speed: 1})
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}

	if first.CacheHit || !second.CacheHit {
		t.Errorf("cache hits = %v, %v; want false, true", first.CacheHit, second.CacheHit)
	}
	if second.ChunkCount != 1 {
		t.Errorf("hit ChunkCount = %d, want 1", second.ChunkCount)
	}
	if !bytes.Equal(first.Audio.Bytes, second.Audio.Bytes) {
		t.Error("hit delivered different audio")
	}
	if calls := r.calls.Load(); calls != 1 {
		t.Errorf("backend calls = %d, want 1", calls)
	}

	stats := c.Stats()
	if stats.Misses != 1 || stats.Hits != 1 {
		t.Errorf("misses/hits = %d/%d, want 1/1", stats.Misses, stats.Hits)
	}
}

func TestSynthesize_EmptyResult(t *testing.T) {
	r := newFakeRetriever()
	c := newTestCache(t, nil)
	o := New(r, nil, c, DefaultOptions())
	defer o.Close()

	msgs := collect(o.Synthesize(context.Background(), tts.Request{Text: "silence"}))

	want := []Stage{StageStart, StageComplete}
	if got := stages(msgs); !equalStages(got, want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}
	if msgs[0].ChunkCount != 0 {
		t.Errorf("ChunkCount = %d, want 0", msgs[0].ChunkCount)
	}

	o.Wait()
	if c.Stats().EntryCount != 0 {
		t.Error("empty result should not be cached")
	}
}

func TestSynthesize_CacheWriteFailure(t *testing.T) {
	r := newFakeRetriever(threeChunks()...)
	obs := &recordingObserver{}

	opts := DefaultOptions()
	opts.Observer = obs
	// Any persisted record overflows this quota
	o := New(r, nil, newTestCache(t, cache.NewMemoryStore(8)), opts)
	defer o.Close()

	res, err := o.Run(context.Background(), tts.Request{Text: "quota"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Audio == nil || len(res.Audio.Bytes) == 0 {
		t.Fatal("audio not delivered")
	}

	o.Wait()

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.writes != 1 || len(obs.writeErrors) != 1 {
		t.Fatalf("writes = %d, errors = %d; want 1, 1", obs.writes, len(obs.writeErrors))
	}
	if kind, _ := tts.KindOf(obs.writeErrors[0]); kind != tts.KindStorage {
		t.Errorf("write error kind = %q, want %q", kind, tts.KindStorage)
	}
	if ev := obs.events[0]; ev.Err != nil {
		t.Errorf("request should succeed, got %v", ev.Err)
	}
}

func TestSynthesize_Failures(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(r *fakeRetriever)
		req        tts.Request
		wantKind   tts.Kind
		wantStatus int
	}{
		{
			name:       "upstream status",
			setup:      func(r *fakeRetriever) { r.err = tts.UpstreamError(503, "overloaded") },
			req:        tts.Request{Text: "x"},
			wantKind:   tts.KindUpstream,
			wantStatus: 503,
		},
		{
			name:     "network",
			setup:    func(r *fakeRetriever) { r.err = tts.NewError(tts.KindNetwork, "send request", errors.New("refused")) },
			req:      tts.Request{Text: "x"},
			wantKind: tts.KindNetwork,
		},
		{
			name:     "untagged transport error",
			setup:    func(r *fakeRetriever) { r.err = errors.New("boom") },
			req:      tts.Request{Text: "x"},
			wantKind: tts.KindNetwork,
		},
		{
			name:     "not multipart",
			setup:    func(r *fakeRetriever) { r.contentType = "application/json" },
			req:      tts.Request{Text: "x"},
			wantKind: tts.KindValidation,
		},
		{
			name:     "malformed body",
			setup:    func(r *fakeRetriever) { r.body = []byte("\r\n--" + streamtest.Boundary + "\r\nContent-Type: text/plain\r\n\r\nhi") },
			req:      tts.Request{Text: "x"},
			wantKind: tts.KindValidation,
		},
		{
			name:     "blank text",
			setup:    func(r *fakeRetriever) {},
			req:      tts.Request{Text: "   "},
			wantKind: tts.KindValidation,
		},
		{
			name:     "speed out of range",
			setup:    func(r *fakeRetriever) {},
			req:      tts.Request{Text: "x", Speed: 3.5},
			wantKind: tts.KindValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newFakeRetriever(threeChunks()...)
			tt.setup(r)

			c := newTestCache(t, nil)
			o := New(r, nil, c, DefaultOptions())
			defer o.Close()

			msgs := collect(o.Synthesize(context.Background(), tt.req))
			if len(msgs) != 1 || msgs[0].Stage != StageError {
				t.Fatalf("stages = %v, want a single ERROR", stages(msgs))
			}
			info := msgs[0].Error
			if info.Kind != tt.wantKind || info.Status != tt.wantStatus {
				t.Errorf("error = %+v, want kind %q status %d", info, tt.wantKind, tt.wantStatus)
			}

			o.Wait()
			if c.Stats().EntryCount != 0 {
				t.Error("failed request should not be cached")
			}
		})
	}
}

func TestSynthesize_Cancellation(t *testing.T) {
	r := newFakeRetriever(threeChunks()...)
	r.block = true

	c := newTestCache(t, nil)
	o := New(r, nil, c, DefaultOptions())
	defer o.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := o.Synthesize(ctx, tts.Request{Text: "abort me"})

	<-r.started
	cancel()

	msgs := collect(ch)
	if len(msgs) != 0 {
		t.Errorf("cancelled request delivered %v", stages(msgs))
	}

	o.Wait()
	if c.Stats().EntryCount != 0 {
		t.Error("cancelled request should not leave a cache entry")
	}

	_, err := o.Run(ctx, tts.Request{Text: "abort me"})
	if !tts.IsCancelled(err) {
		t.Errorf("Run on cancelled ctx: got %v, want a cancellation", err)
	}
}

func TestSynthesize_Uncached(t *testing.T) {
	r := newFakeRetriever(threeChunks()...)

	opts := DefaultOptions()
	opts.Coalesce = false
	o := New(r, nil, nil, opts)
	defer o.Close()

	for i := 0; i < 2; i++ {
		res, err := o.Run(context.Background(), tts.Request{Text: "again"})
		if err != nil {
			t.Fatalf("Run %d failed: %v", i, err)
		}
		if res.CacheHit {
			t.Error("uncached orchestrator reported a hit")
		}
	}

	if calls := r.calls.Load(); calls != 2 {
		t.Errorf("backend calls = %d, want 2", calls)
	}
}

func TestSynthesize_KeyGenerationFailure(t *testing.T) {
	r := newFakeRetriever(threeChunks()...)
	c := newTestCache(t, nil)

	opts := DefaultOptions()
	opts.Fingerprinter = cache.NewFingerprinterWithHash(crypto.MD4)
	o := New(r, nil, c, opts)
	defer o.Close()

	res, err := o.Run(context.Background(), tts.Request{Text: "no key"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Audio == nil {
		t.Fatal("audio not delivered")
	}

	o.Wait()
	if c.Stats().EntryCount != 0 {
		t.Error("nothing should be cached without a key")
	}
}

func TestSynthesize_Coalescing(t *testing.T) {
	r := newFakeRetriever(threeChunks()...)
	r.block = true

	o := New(r, nil, nil, DefaultOptions())
	defer o.Close()

	const n = 5
	results := make(chan *Result, n)
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		go func() {
			res, err := o.Run(context.Background(), tts.Request{Text: "shared"})
			results <- res
			errs <- err
		}()
	}

	<-r.started
	// Let the other requests join the in-flight call
	time.Sleep(50 * time.Millisecond)
	close(r.release)

	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if res := <-results; res.Audio == nil {
			t.Fatal("audio not delivered")
		}
	}

	if calls := r.calls.Load(); calls != 1 {
		t.Errorf("backend calls = %d, want 1", calls)
	}
}

func TestSynthesize_CoalescedRetryAfterLeaderCancel(t *testing.T) {
	r := newFakeRetriever(threeChunks()...)
	r.block = true

	o := New(r, nil, nil, DefaultOptions())
	defer o.Close()

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leader := o.Synthesize(leaderCtx, tts.Request{Text: "shared"})
	<-r.started

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), tts.Request{Text: "shared"})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancelLeader()

	if msgs := collect(leader); len(msgs) != 0 {
		t.Errorf("cancelled leader delivered %v", stages(msgs))
	}

	// The follower retries as leader of a new call
	<-r.started
	close(r.release)

	if err := <-done; err != nil {
		t.Fatalf("follower failed: %v", err)
	}
	if calls := r.calls.Load(); calls != 2 {
		t.Errorf("backend calls = %d, want 2", calls)
	}
}
