package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/porua/porua/internal/backend"
	"github.com/porua/porua/internal/cache"
	"github.com/porua/porua/internal/stream/streamtest"
	"github.com/porua/porua/internal/synth"
	"github.com/porua/porua/internal/tts"
)

// echoRetriever answers every request with one chunk speaking its text.
type echoRetriever struct {
	calls int
}

func (e *echoRetriever) Retrieve(_ context.Context, req tts.Request) (*backend.Response, error) {
	e.calls++
	body := streamtest.Body(streamtest.NewChunk(0, req.Text[:5], 100, []byte{byte(e.calls), byte(e.calls)}))
	return &backend.Response{
		ContentType: streamtest.ContentType(),
		Body:        io.NopCloser(bytes.NewReader(body)),
	}, nil
}

func TestSpeak_JoinsPieces(t *testing.T) {
	r := &echoRetriever{}
	c, err := cache.NewAudioCache(1<<20, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	orch := synth.New(r, nil, c, synth.DefaultOptions())
	defer orch.Close() //nolint:errcheck

	first := "First. " + strings.Repeat("a", tts.MaxTextLength-20) + "."
	text := first + " Second piece."

	audio, hits, err := speak(context.Background(), orch, text, tts.Request{})
	if err != nil {
		t.Fatalf("speak failed: %v", err)
	}
	if r.calls != 2 || hits != 0 {
		t.Errorf("calls = %d, hits = %d; want 2, 0", r.calls, hits)
	}

	if len(audio.Timeline) != 2 {
		t.Fatalf("timeline = %+v", audio.Timeline)
	}
	if audio.Timeline[0].Text != "First" || audio.Timeline[1].Text != "Secon" || audio.Timeline[1].StartTimeMs != 100 {
		t.Errorf("unexpected timeline %+v", audio.Timeline)
	}
	if pcm := audio.Bytes[44:]; !bytes.Equal(pcm, []byte{1, 1, 2, 2}) {
		t.Errorf("PCM = %v", pcm)
	}
	if audio.Metadata.DurationMs != 200 {
		t.Errorf("DurationMs = %v, want 200", audio.Metadata.DurationMs)
	}

	orch.Wait()
	if _, hits, err = speak(context.Background(), orch, text, tts.Request{}); err != nil || hits != 2 {
		t.Errorf("second run: hits = %d, err = %v; want 2 cached pieces", hits, err)
	}
}

func TestSpeak_Empty(t *testing.T) {
	orch := synth.New(&echoRetriever{}, nil, nil, synth.DefaultOptions())
	if _, _, err := speak(context.Background(), orch, "   ", tts.Request{}); err != tts.ErrEmptyText {
		t.Errorf("got %v, want ErrEmptyText", err)
	}
}

func TestReadInput(t *testing.T) {
	dir := t.TempDir()
	md := filepath.Join(dir, "notes.md")
	txt := filepath.Join(dir, "notes.txt")
	_ = os.WriteFile(md, []byte("# Title\n\nSome *text*"), 0o600)
	_ = os.WriteFile(txt, []byte("# not markdown"), 0o600)

	tests := []struct {
		name  string
		file  string
		args  []string
		stdin string
		want  string
	}{
		{"argument", "", []string{"Hello"}, "", "Hello"},
		{"markdown file", md, nil, "", "Title. Some text."},
		{"plain file", txt, nil, "", "# not markdown"},
		{"stdin dash", "", []string{"-"}, "piped", "piped"},
		{"stdin reader", "", nil, "piped", "piped"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			speakFile = tt.file
			defer func() { speakFile = "" }()

			got, err := readInput(strings.NewReader(tt.stdin), tt.args)
			if err != nil {
				t.Fatalf("readInput failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("readInput() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriteStats(t *testing.T) {
	s := cache.Stats{TotalSizeBytes: 512, MaxSizeBytes: 1024, UsagePercent: 50, EntryCount: 2, Hits: 3, Misses: 1, HitRate: 0.75}

	var buf bytes.Buffer
	if err := writeStats(&buf, s, "json"); err != nil {
		t.Fatalf("json: %v", err)
	}
	var decoded cache.Stats
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil || decoded != s {
		t.Errorf("json round trip = %+v, %v", decoded, err)
	}

	buf.Reset()
	if err := writeStats(&buf, s, "yaml"); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if !strings.Contains(buf.String(), "entry_count: 2") {
		t.Errorf("yaml output:\n%s", buf.String())
	}

	buf.Reset()
	if err := writeStats(&buf, s, "table"); err != nil {
		t.Fatalf("table: %v", err)
	}
	for _, want := range []string{"512 B of 1.0 KiB", "50.0%", "75.0%"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("table output missing %q:\n%s", want, buf.String())
		}
	}

	if err := writeStats(&buf, s, "xml"); err == nil {
		t.Error("expected an error for an unknown format")
	}
}

func TestIsMarkdownFile(t *testing.T) {
	tests := map[string]bool{
		"README.md":     true,
		"notes.MD":      true,
		"doc.mkdn":      true,
		"notes.txt":     false,
		"no-ext":        false,
		"archive.md.gz": false,
	}
	for path, want := range tests {
		if got := isMarkdownFile(path); got != want {
			t.Errorf("isMarkdownFile(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestFormatMs(t *testing.T) {
	tests := []struct {
		ms   float64
		want string
	}{
		{0, "0s"},
		{250, "250ms"},
		{1500.4, "1.5s"},
	}
	for _, tt := range tests {
		if got := formatMs(tt.ms); got != tt.want {
			t.Errorf("formatMs(%v) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}
