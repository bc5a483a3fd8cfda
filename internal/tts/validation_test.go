package tts

import (
	"errors"
	"strings"
	"testing"
)

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{
			name: "valid request",
			req:  Request{Text: "Hello world", Voice: "af_bella", Speed: 1.5},
		},
		{
			name:    "empty text",
			req:     Request{Text: "", Voice: "af_heart", Speed: 1.0},
			wantErr: ErrEmptyText,
		},
		{
			name:    "whitespace only text",
			req:     Request{Text: "   \n\t  ", Voice: "af_heart", Speed: 1.0},
			wantErr: ErrEmptyText,
		},
		{
			name:    "text exceeding max length",
			req:     Request{Text: strings.Repeat("a", MaxTextLength+1), Voice: "af_heart", Speed: 1.0},
			wantErr: ErrTextTooLong,
		},
		{
			name: "text at max length",
			req:  Request{Text: strings.Repeat("a", MaxTextLength), Voice: "af_heart", Speed: 1.0},
		},
		{
			name:    "zero speed",
			req:     Request{Text: "Test", Voice: "af_heart", Speed: 0},
			wantErr: ErrInvalidSpeed,
		},
		{
			name:    "negative speed",
			req:     Request{Text: "Test", Voice: "af_heart", Speed: -1},
			wantErr: ErrInvalidSpeed,
		},
		{
			name:    "speed above max",
			req:     Request{Text: "Test", Voice: "af_heart", Speed: 3.1},
			wantErr: ErrInvalidSpeed,
		},
		{
			name: "speed at max",
			req:  Request{Text: "Test", Voice: "af_heart", Speed: MaxSpeed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRequestWithDefaults(t *testing.T) {
	req := Request{Text: "Hello"}.WithDefaults("am_adam", 1.2)
	if req.Voice != "am_adam" {
		t.Errorf("Voice = %q, want am_adam", req.Voice)
	}
	if req.Speed != 1.2 {
		t.Errorf("Speed = %v, want 1.2", req.Speed)
	}

	req = Request{Text: "Hello"}.WithDefaults("", 0)
	if req.Voice != DefaultVoice {
		t.Errorf("Voice = %q, want %q", req.Voice, DefaultVoice)
	}
	if req.Speed != DefaultSpeed {
		t.Errorf("Speed = %v, want %v", req.Speed, DefaultSpeed)
	}

	req = Request{Text: "Hello", Voice: "af_bella", Speed: 2.0}.WithDefaults("am_adam", 1.2)
	if req.Voice != "af_bella" || req.Speed != 2.0 {
		t.Errorf("explicit values overwritten: %+v", req)
	}
}
