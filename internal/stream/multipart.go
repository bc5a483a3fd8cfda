package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"github.com/porua/porua/internal/tts"
)

// DefaultMaxPartSize bounds a single decoded part (64MB).
const DefaultMaxPartSize = 64 * 1024 * 1024

// ValidateContentType checks that contentType names a multipart container
// and returns its boundary delimiter.
func ValidateContentType(contentType string) (string, error) {
	if contentType == "" {
		return "", tts.NewError(tts.KindValidation, "response has no content type", nil)
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", tts.NewError(tts.KindValidation, fmt.Sprintf("unparseable content type %q", contentType), err)
	}

	if !strings.HasPrefix(mediaType, "multipart/") {
		return "", tts.NewError(tts.KindValidation, fmt.Sprintf("expected a multipart response, got %q", mediaType), nil)
	}

	boundary := params["boundary"]
	if boundary == "" {
		return "", tts.NewError(tts.KindValidation, "multipart response has no boundary", nil)
	}

	return boundary, nil
}

// MultipartDecoder turns a multipart synthesis body into stream parts.
type MultipartDecoder struct {
	// MaxPartSize limits each part's body; zero means DefaultMaxPartSize.
	MaxPartSize int64
}

// Decode reads every part from r. JSON parts become metadata parts and
// audio parts keep their raw bytes. Read failures from r are reported as
// network errors; anything structurally wrong is a validation error.
func (d MultipartDecoder) Decode(r io.Reader, boundary string) ([]Part, error) {
	src := &trackingReader{r: r}
	mr := multipart.NewReader(src, boundary)

	var parts []Part
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, d.classify(src, "read multipart boundary", err)
		}

		part, err := d.decodePart(p, src)
		_ = p.Close()
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", len(parts), err)
		}
		parts = append(parts, part)
	}

	return parts, nil
}

func (d MultipartDecoder) decodePart(p *multipart.Part, src *trackingReader) (Part, error) {
	limit := d.MaxPartSize
	if limit <= 0 {
		limit = DefaultMaxPartSize
	}

	contentType := p.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return Part{}, tts.NewError(tts.KindValidation, fmt.Sprintf("part has invalid content type %q", contentType), err)
	}

	body, err := io.ReadAll(io.LimitReader(p, limit+1))
	if err != nil {
		return Part{}, d.classify(src, "read part body", err)
	}
	if int64(len(body)) > limit {
		return Part{}, tts.NewError(tts.KindValidation, fmt.Sprintf("part exceeds %d bytes", limit), nil)
	}

	switch {
	case mediaType == "application/json":
		var meta ChunkMetadata
		if err := json.Unmarshal(body, &meta); err != nil {
			return Part{}, tts.NewError(tts.KindValidation, "invalid chunk metadata", err)
		}
		return Part{Kind: PartMetadata, Metadata: &meta}, nil
	case strings.HasPrefix(mediaType, "audio/"):
		return Part{Kind: PartAudio, Audio: body, ContentType: mediaType}, nil
	default:
		return Part{}, tts.NewError(tts.KindValidation, fmt.Sprintf("unexpected part type %q", mediaType), nil)
	}
}

// classify tags err as a network failure when the underlying reader failed
// and as a validation failure otherwise.
func (d MultipartDecoder) classify(src *trackingReader, op string, err error) error {
	if src.err != nil {
		var te *tts.Error
		if errors.As(src.err, &te) {
			return src.err
		}
		return tts.NewError(tts.KindNetwork, op, src.err)
	}
	return tts.NewError(tts.KindValidation, op, err)
}

// trackingReader remembers the first non-EOF error of the wrapped reader so
// transport failures can be told apart from malformed content.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}
