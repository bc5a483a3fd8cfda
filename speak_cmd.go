package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/porua/porua/internal/audio"
	"github.com/porua/porua/internal/stream"
	"github.com/porua/porua/internal/synth"
	"github.com/porua/porua/internal/textsrc"
	"github.com/porua/porua/internal/tts"
)

var errNoAudio = errors.New("the server returned no audio")

var (
	speakOut       string
	speakTimeline  bool
	speakPlay      bool
	speakFile      string
	speakClipboard bool
	speakVoice     string
	speakSpeed     float64

	speakCmd = &cobra.Command{
		Use:   "speak [TEXT]",
		Short: "Synthesize text into a WAV file",
		Long: paragraph(fmt.Sprintf("\n%s text from an argument, a file, the clipboard or stdin. Markdown files are read as plain prose. Long text is synthesized in pieces and joined into one file.",
			keyword("Speak"))),
		Example: paragraph("porua speak \"Hello there.\"\nporua speak --file notes.md --play\necho hi | porua speak -o hi.wav"),
		Args:    cobra.MaximumNArgs(1),
		RunE:    runSpeak,
	}
)

func init() {
	speakCmd.Flags().StringVarP(&speakOut, "out", "o", "porua.wav", `output file, "-" for stdout`)
	speakCmd.Flags().BoolVarP(&speakTimeline, "timeline", "t", false, "print the phrase timeline")
	speakCmd.Flags().BoolVarP(&speakPlay, "play", "p", false, "play the audio when done")
	speakCmd.Flags().StringVarP(&speakFile, "file", "f", "", "read text from a file (markdown is stripped)")
	speakCmd.Flags().BoolVar(&speakClipboard, "clipboard", false, "read text from the clipboard")
	speakCmd.Flags().StringVar(&speakVoice, "voice", "", "voice id (see porua voices)")
	speakCmd.Flags().Float64Var(&speakSpeed, "speed", 0, "speaking rate, 0.1 to 3.0")
}

func runSpeak(cmd *cobra.Command, args []string) error {
	text, err := readInput(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	orch, err := newOrchestrator(nil)
	if err != nil {
		return err
	}
	defer orch.Close() //nolint:errcheck

	start := time.Now()
	assembled, hits, err := speak(ctx, orch, text, tts.Request{Voice: speakVoice, Speed: speakSpeed})
	if err != nil {
		return describeError(err)
	}

	if err := writeAudio(cmd.OutOrStdout(), speakOut, assembled.Bytes); err != nil {
		return err
	}

	info := cmd.ErrOrStderr()
	if speakOut != "-" {
		source := "synthesized"
		if hits > 0 {
			source = fmt.Sprintf("%d piece(s) from cache", hits)
		}
		fmt.Fprintf(info, "Wrote %s (%s, %s audio, %s, %s)\n",
			keyword(speakOut),
			humanize.Bytes(uint64(len(assembled.Bytes))),
			formatMs(assembled.Metadata.DurationMs),
			source,
			time.Since(start).Round(time.Millisecond))
	}

	if speakTimeline {
		fmt.Fprintln(info, renderTimeline(assembled.Timeline))
	}

	if speakPlay {
		return play(ctx, assembled.Bytes)
	}
	return nil
}

// speak synthesizes text in pieces the server accepts and joins them into
// one assembled unit. hits counts pieces served from the cache.
func speak(ctx context.Context, orch *synth.Orchestrator, text string, base tts.Request) (*stream.AssembledAudio, int, error) {
	pieces := textsrc.Split(text, tts.MaxTextLength)
	if len(pieces) == 0 {
		return nil, 0, tts.ErrEmptyText
	}

	var parts []stream.Part
	hits := 0
	for i, piece := range pieces {
		req := base
		req.Text = piece

		log.Debug("Synthesizing piece", "index", i, "of", len(pieces), "bytes", len(piece))
		res, err := orch.Run(ctx, req)
		if err != nil {
			return nil, hits, err
		}
		if res.CacheHit {
			hits++
		}
		if res.Audio == nil {
			continue
		}

		meta := res.Audio.Metadata
		meta.ChunkIndex = i
		parts = append(parts, stream.MetadataPart(meta), stream.AudioPart(res.Audio.Bytes))
	}

	res, err := stream.Reassemble(parts)
	if err != nil {
		return nil, hits, err
	}
	if res.Empty() {
		return nil, hits, errNoAudio
	}
	return res.Audio, hits, nil
}

// readInput picks the text source: --file, --clipboard, an argument or a
// piped stdin, in that order.
func readInput(stdin io.Reader, args []string) (string, error) {
	switch {
	case speakFile != "":
		b, err := os.ReadFile(speakFile)
		if err != nil {
			return "", fmt.Errorf("unable to read file: %w", err)
		}
		if isMarkdownFile(speakFile) {
			return textsrc.NewExtractor().Extract(b), nil
		}
		return string(b), nil

	case speakClipboard:
		s, err := clipboard.ReadAll()
		if err != nil {
			return "", fmt.Errorf("unable to read clipboard: %w", err)
		}
		return s, nil

	case len(args) == 1 && args[0] != "-":
		return args[0], nil
	}

	if f, ok := stdin.(*os.File); ok && len(args) == 0 {
		if yes, err := stdinIsPipe(f); err != nil {
			return "", err
		} else if !yes {
			return "", errors.New("nothing to speak: pass TEXT, --file, --clipboard or pipe text on stdin")
		}
	}

	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("unable to read from stdin: %w", err)
	}
	return string(b), nil
}

func stdinIsPipe(f *os.File) (bool, error) {
	stat, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("unable to open file: %w", err)
	}
	if stat.Mode()&os.ModeCharDevice == 0 || stat.Size() > 0 {
		return true, nil
	}
	return false, nil
}

func isMarkdownFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".mdown", ".mkd", ".mkdn":
		return true
	default:
		return false
	}
}

func writeAudio(stdout io.Writer, path string, data []byte) error {
	if path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("unable to write audio: %w", err)
	}
	return nil
}

func play(ctx context.Context, wav []byte) error {
	cfg, err := audio.ConfigForWAV(wav)
	if err != nil {
		return err
	}
	player, err := audio.NewPlayer(cfg)
	if err != nil {
		return fmt.Errorf("unable to open audio device: %w", err)
	}
	defer player.Close() //nolint:errcheck

	if err := player.PlayWAV(ctx, wav); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func renderTimeline(entries []stream.TimelineEntry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{formatMs(e.StartTimeMs), formatMs(e.EndTimeMs), e.Text})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Faint(true)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return lipgloss.NewStyle()
		}).
		Headers("START", "END", "PHRASE").
		Rows(rows...).
		String()
}

func formatMs(ms float64) string {
	return (time.Duration(ms * float64(time.Millisecond))).Round(time.Millisecond).String()
}

// describeError adds a hint for the failures a user can fix.
func describeError(err error) error {
	var te *tts.Error
	if !errors.As(err, &te) {
		return err
	}
	switch {
	case te.Kind == tts.KindUpstream && te.Status == 401:
		return fmt.Errorf("%w\n%s", err, faint("set PORUA_API_KEY to the server's API key"))
	case te.Kind == tts.KindNetwork:
		return fmt.Errorf("%w\n%s", err, faint(fmt.Sprintf("is the server running at %s?", cfg.ServerURL)))
	}
	return err
}
