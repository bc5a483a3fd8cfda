package textsrc

import (
	"strings"
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		markdown string
		opts     []Option
		want     string
	}{
		{
			name:     "headings paragraphs and lists",
			markdown: "# Title\n\nHello *world*. This is [a link](http://example.com).\n\n- one\n- two\n",
			want:     "Title. Hello world. This is a link. one. two.",
		},
		{
			name:     "code blocks skipped",
			markdown: "Intro\n\n```go\nx := 1\n```\n\nOutro",
			want:     "Intro. Outro.",
		},
		{
			name:     "code blocks announced",
			markdown: "Intro\n\n```go\nx := 1\n```\n\nOutro",
			opts:     []Option{WithCodeBlocks(true)},
			want:     "Intro. Code block omitted. Outro.",
		},
		{
			name:     "inline code",
			markdown: "Run `make test` now",
			want:     "Run make test now.",
		},
		{
			name:     "front matter",
			markdown: "---\ntitle: x\n---\n# Hi\n",
			want:     "Hi.",
		},
		{
			name:     "soft line breaks",
			markdown: "line one\nline two",
			want:     "line one line two.",
		},
		{
			name:     "image alt text",
			markdown: "![alt text](img.png)",
			want:     "alt text.",
		},
		{
			name:     "html blocks",
			markdown: "<div>hi</div>\n\nText",
			want:     "Text.",
		},
		{
			name:     "existing punctuation",
			markdown: "Really?\n\nYes!",
			want:     "Really? Yes!",
		},
		{
			name:     "empty",
			markdown: "",
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewExtractor(tt.opts...).Extract([]byte(tt.markdown))
			if got != tt.want {
				t.Errorf("Extract() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRemoveFrontmatter(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"---\na: 1\n---\nbody", "body"},
		{"---\n---\nbody", "body"},
		{"no front matter", "no front matter"},
		{"---\nunterminated", "---\nunterminated"},
	}

	for _, tt := range tests {
		if got := string(RemoveFrontmatter([]byte(tt.in))); got != tt.want {
			t.Errorf("RemoveFrontmatter(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want []string
	}{
		{"empty", "  ", 10, nil},
		{"fits", "short", 10, []string{"short"}},
		{"sentences", "One. Two. Three.", 10, []string{"One. Two.", "Three."}},
		{"words", "alpha beta gamma", 8, []string{"alpha", "beta", "gamma"}},
		{"no spaces", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"runes", "ééé", 3, []string{"é", "é", "é"}},
		{"unlimited", "a b c", 0, []string{"a b c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(tt.in, tt.max)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Errorf("Split(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
			for _, piece := range got {
				if tt.max > 0 && len(piece) > tt.max {
					t.Errorf("piece %q exceeds %d bytes", piece, tt.max)
				}
			}
		})
	}
}
