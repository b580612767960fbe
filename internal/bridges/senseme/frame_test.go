package senseme

import (
	"slices"
	"testing"
)

func TestDecodeFrames(t *testing.T) {
	tests := []struct {
		name       string
		leftover   string
		data       string
		wantFrames []string
		wantRest   string
	}{
		{
			name:       "single frame",
			data:       "(Bedroom;FAN;PWR;ON)",
			wantFrames: []string{"Bedroom;FAN;PWR;ON"},
		},
		{
			name:       "two frames in one read",
			data:       "(FanA;FAN;PWR;CURR;ON)(FanA;FAN;SPD;CURR;3)",
			wantFrames: []string{"FanA;FAN;PWR;CURR;ON", "FanA;FAN;SPD;CURR;3"},
		},
		{
			name:       "partial frame kept",
			data:       "(FanA;FAN;PWR;ON)(FanA;LIGHT",
			wantFrames: []string{"FanA;FAN;PWR;ON"},
			wantRest:   "(FanA;LIGHT",
		},
		{
			name:       "leftover completed",
			leftover:   "(FanA;LIGHT",
			data:       ";PWR;OFF)",
			wantFrames: []string{"FanA;LIGHT;PWR;OFF"},
		},
		{
			name:       "noise before open dropped",
			data:       "garbage(FanA;FAN;PWR;ON)\r\n",
			wantFrames: []string{"FanA;FAN;PWR;ON"},
		},
		{
			name:     "no frame",
			data:     "noise only",
			wantRest: "",
		},
		{
			name:     "empty read keeps leftover",
			leftover: "(FanA;FAN",
			data:     "",
			wantRest: "(FanA;FAN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, rest := DecodeFrames(tt.leftover, []byte(tt.data))
			if !slices.Equal(frames, tt.wantFrames) {
				t.Errorf("frames = %q, want %q", frames, tt.wantFrames)
			}
			if rest != tt.wantRest {
				t.Errorf("rest = %q, want %q", rest, tt.wantRest)
			}
		})
	}
}

// Decoding a stream must give the same frames however it is split.
func TestDecodeFrames_SplitInvariance(t *testing.T) {
	stream := "(FanA;FAN;PWR;CURR;ON)(FanA;FAN;SPD;CURR;3)xx(FanA;LIGHT;LEVEL;ACTUAL;8)"
	whole, wholeRest := DecodeFrames("", []byte(stream))

	for split := 0; split <= len(stream); split++ {
		first, rest := DecodeFrames("", []byte(stream[:split]))
		second, rest := DecodeFrames(rest, []byte(stream[split:]))
		got := append(first, second...)

		if !slices.Equal(got, whole) {
			t.Fatalf("split at %d: frames = %q, want %q", split, got, whole)
		}
		if rest != wholeRest {
			t.Fatalf("split at %d: rest = %q, want %q", split, rest, wholeRest)
		}
	}
}

func TestDecodeFrames_SplitAfter20(t *testing.T) {
	stream := "(FanA;FAN;PWR;CURR;ON)(FanA;FAN;SPD;CURR;3)"

	first, rest := DecodeFrames("", []byte(stream[:20]))
	if len(first) != 0 {
		t.Fatalf("first read frames = %q, want none", first)
	}
	second, rest := DecodeFrames(rest, []byte(stream[20:]))

	want := []string{"FanA;FAN;PWR;CURR;ON", "FanA;FAN;SPD;CURR;3"}
	if !slices.Equal(second, want) {
		t.Errorf("frames = %q, want %q", second, want)
	}
	if rest != "" {
		t.Errorf("rest = %q, want empty", rest)
	}
}

func TestEncodeRequest(t *testing.T) {
	if got := EncodeRequest("Bedroom", "FAN", "PWR", "ON"); got != "<Bedroom;FAN;PWR;ON>" {
		t.Errorf("EncodeRequest() = %q", got)
	}
}
