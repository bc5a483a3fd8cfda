// Package textsrc turns markdown documents into speakable plain text.
package textsrc

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Extractor strips markdown formatting, keeping the text a listener needs.
type Extractor struct {
	skipCodeBlocks bool
	md             goldmark.Markdown
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithCodeBlocks speaks a placeholder for code blocks instead of skipping
// them silently.
func WithCodeBlocks(include bool) Option {
	return func(e *Extractor) {
		e.skipCodeBlocks = !include
	}
}

// NewExtractor creates an extractor that skips code blocks.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		skipCodeBlocks: true,
		md:             goldmark.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the plain text of a markdown document. Front matter is
// dropped and every block ends with sentence punctuation.
func (e *Extractor) Extract(markdown []byte) string {
	markdown = RemoveFrontmatter(markdown)

	reader := text.NewReader(markdown)
	doc := e.md.Parser().Parse(reader)

	var buf strings.Builder
	e.walk(doc, reader.Source(), &buf)

	return strings.Join(strings.Fields(buf.String()), " ")
}

func (e *Extractor) walk(node ast.Node, source []byte, buf *strings.Builder) {
	switch n := node.(type) {
	case *ast.CodeBlock, *ast.FencedCodeBlock:
		if !e.skipCodeBlocks {
			buf.WriteString("Code block omitted. ")
		}
		return

	case *ast.HTMLBlock, *ast.RawHTML:
		return

	case *ast.Text:
		buf.Write(n.Segment.Value(source))
		if n.SoftLineBreak() || n.HardLineBreak() {
			buf.WriteByte(' ')
		}
		return

	case *ast.String:
		buf.Write(n.Value)
		return

	case *ast.CodeSpan:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				buf.Write(t.Segment.Value(source))
			}
		}
		return

	case *ast.Heading, *ast.Paragraph, *ast.ListItem, *ast.TextBlock:
		e.walkChildren(n, source, buf)
		endSentence(buf)
		return

	case *ast.Image:
		// Alt text only
		e.walkChildren(n, source, buf)
		return

	case *ast.AutoLink:
		return

	case *ast.ThematicBreak:
		endSentence(buf)
		return
	}

	e.walkChildren(node, source, buf)
}

func (e *Extractor) walkChildren(node ast.Node, source []byte, buf *strings.Builder) {
	for c := node.FirstChild(); c != nil; c = c.NextSibling() {
		e.walk(c, source, buf)
	}
}

// endSentence terminates the text written so far unless it already ends in
// punctuation.
func endSentence(buf *strings.Builder) {
	s := strings.TrimRight(buf.String(), " ")
	if s == "" {
		return
	}
	switch s[len(s)-1] {
	case '.', '!', '?', ':', ';':
		buf.WriteString(" ")
	default:
		buf.WriteString(". ")
	}
}

// RemoveFrontmatter drops a leading YAML front matter block.
func RemoveFrontmatter(content []byte) []byte {
	if !bytes.HasPrefix(content, []byte("---\n")) && !bytes.HasPrefix(content, []byte("---\r\n")) {
		return content
	}
	rest := content[bytes.IndexByte(content, '\n')+1:]

	end := 0
	if !bytes.HasPrefix(rest, []byte("---")) {
		i := bytes.Index(rest, []byte("\n---"))
		if i < 0 {
			return content
		}
		end = i + 1
	}

	after := rest[end+3:]
	if i := bytes.IndexByte(after, '\n'); i >= 0 {
		return after[i+1:]
	}
	return nil
}

// Split breaks text into pieces of at most maxBytes, preferring sentence
// boundaries, then word boundaries. Pieces are trimmed and never empty.
func Split(s string, maxBytes int) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if maxBytes <= 0 || len(s) <= maxBytes {
		return []string{s}
	}

	var pieces []string
	for len(s) > maxBytes {
		cut := lastBoundary(s[:maxBytes+1])
		piece := strings.TrimSpace(s[:cut])
		if piece != "" {
			pieces = append(pieces, piece)
		}
		s = strings.TrimSpace(s[cut:])
	}
	if s != "" {
		pieces = append(pieces, s)
	}
	return pieces
}

// lastBoundary returns where to cut window: after its last sentence end,
// else at its last space, else at the last rune boundary.
func lastBoundary(window string) int {
	limit := len(window) - 1

	for i := limit; i > 0; i-- {
		if window[i] == ' ' && strings.ContainsRune(".!?", rune(window[i-1])) {
			return i
		}
	}
	if i := strings.LastIndexByte(window, ' '); i > 0 {
		return i
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(window[cut]) {
		cut--
	}
	if cut == 0 {
		_, size := utf8.DecodeRuneInString(window)
		return size
	}
	return cut
}
