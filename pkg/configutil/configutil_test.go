package configutil

import "testing"

type wsSettings struct {
	URL        string `mapstructure:"url"`
	SampleRate int    `mapstructure:"sample_rate"`
}

func TestDecodeSettingsKeyNormalization(t *testing.T) {
	var out wsSettings
	err := DecodeSettings(map[string]any{
		"URL":        "wss://example.test/realtime",
		"SampleRate": "16000",
	}, &out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.URL != "wss://example.test/realtime" {
		t.Fatalf("unexpected url %q", out.URL)
	}
	if out.SampleRate != 16000 {
		t.Fatalf("expected weak typing to coerce sample rate, got %d", out.SampleRate)
	}
}

func TestValidateSettings(t *testing.T) {
	schema := Schema{Required: []string{"url"}, Optional: []string{"sample_rate"}}

	if err := ValidateSettings(map[string]any{"url": "wss://x"}, schema); err != nil {
		t.Fatalf("expected valid settings, got %v", err)
	}
	if err := ValidateSettings(map[string]any{"url": " "}, schema); err == nil {
		t.Fatalf("expected missing required key error")
	}
	if err := ValidateSettings(map[string]any{"url": "wss://x", "bogus": 1}, schema); err == nil {
		t.Fatalf("expected unknown key error")
	}
}
