package cache

import (
	"crypto"
	_ "crypto/sha256" // registers crypto.SHA256
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/porua/porua/internal/tts"
)

const (
	// keySeparator joins the fingerprint components.
	keySeparator = "|"

	// digestSize is the number of digest bytes kept in a fingerprint.
	digestSize = 16
)

// Key is a parsed fingerprint.
type Key struct {
	Hash  string
	Voice string
	Speed float64
}

// String composes the fingerprint form of k.
func (k Key) String() string {
	return k.Hash + keySeparator + k.Voice + keySeparator + formatSpeed(k.Speed)
}

// Fingerprinter derives deterministic cache keys from synthesis inputs.
type Fingerprinter struct {
	hash crypto.Hash
}

// NewFingerprinter returns a Fingerprinter using SHA-256.
func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{hash: crypto.SHA256}
}

// NewFingerprinterWithHash returns a Fingerprinter using h. Generation fails
// if h is not linked into the binary.
func NewFingerprinterWithHash(h crypto.Hash) *Fingerprinter {
	return &Fingerprinter{hash: h}
}

// Generate returns "{hash}|{voice}|{speed}" where hash is the first 16 bytes
// of the digest of the normalized text in hex, and speed is rounded to one
// decimal place.
func (f *Fingerprinter) Generate(text, voiceID string, speed float64) (string, error) {
	if !f.hash.Available() {
		return "", tts.NewError(tts.KindKeyGeneration, fmt.Sprintf("digest %v unavailable", f.hash), nil)
	}
	if strings.Contains(voiceID, keySeparator) {
		return "", tts.NewError(tts.KindKeyGeneration, fmt.Sprintf("voice id %q contains %q", voiceID, keySeparator), nil)
	}
	if math.IsNaN(speed) || math.IsInf(speed, 0) {
		return "", tts.NewError(tts.KindKeyGeneration, fmt.Sprintf("speed %v is not finite", speed), nil)
	}

	normalized, err := NormalizeText(text)
	if err != nil {
		return "", tts.NewError(tts.KindKeyGeneration, "normalize text", err)
	}

	h := f.hash.New()
	h.Write([]byte(normalized))
	sum := h.Sum(nil)
	if len(sum) > digestSize {
		sum = sum[:digestSize]
	}

	return Key{
		Hash:  hex.EncodeToString(sum),
		Voice: voiceID,
		Speed: QuantizeSpeed(speed),
	}.String(), nil
}

// Parse splits a fingerprint back into its components.
func Parse(fingerprint string) (Key, error) {
	fields := strings.Split(fingerprint, keySeparator)
	if len(fields) != 3 {
		return Key{}, fmt.Errorf("fingerprint %q: want 3 fields, got %d", fingerprint, len(fields))
	}

	if _, err := hex.DecodeString(fields[0]); err != nil || fields[0] == "" {
		return Key{}, fmt.Errorf("fingerprint %q: invalid hash", fingerprint)
	}

	speed, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return Key{}, fmt.Errorf("fingerprint %q: invalid speed: %w", fingerprint, err)
	}

	return Key{Hash: fields[0], Voice: fields[1], Speed: speed}, nil
}

// invisible matches format runes such as zero-width spaces, joiners, the
// word joiner, the byte order mark and soft hyphens.
var invisible = runes.In(unicode.Cf)

// NormalizeText strips invisible format runes, applies NFC, collapses
// whitespace runs to a single space and trims the result.
func NormalizeText(text string) (string, error) {
	t := transform.Chain(runes.Remove(invisible), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(out), " "), nil
}

// QuantizeSpeed rounds speed to one decimal place.
func QuantizeSpeed(speed float64) float64 {
	return math.Round(speed*10) / 10
}

func formatSpeed(speed float64) string {
	return strconv.FormatFloat(speed, 'f', 1, 64)
}
