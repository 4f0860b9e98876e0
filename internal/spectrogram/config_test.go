// SPDX-License-Identifier: MIT
package spectrogram

import (
	"errors"
	"math"
	"testing"

	"specstream/internal/analysis"
)

func stftConfig(window, hop int) Config {
	cfg := DefaultConfig()
	cfg.STFT.WindowSize = window
	cfg.STFT.HopLength = hop
	return cfg
}

func TestConfigColumn(t *testing.T) {
	cfg := stftConfig(1024, 256)

	tests := []struct {
		sample int
		want   int
	}{
		{-5, 0},
		{0, 0},
		{767, 0},
		{1023, 0},
		{1024, 1},
		{1279, 1},
		{1280, 2},
		{44100, 169},
	}

	for _, tt := range tests {
		if got := cfg.Column(tt.sample); got != tt.want {
			t.Errorf("Column(%d) = %d, want %d", tt.sample, got, tt.want)
		}
	}
}

func TestConfigColumnRoundTrip(t *testing.T) {
	for _, cfg := range []Config{stftConfig(1024, 256), stftConfig(512, 512), stftConfig(1000, 300)} {
		w, h := cfg.STFT.WindowSize, cfg.STFT.HopLength
		prev := -1
		for c := range 500 {
			// One hop before the end of column c's frame maps back to c.
			if got := cfg.Column(cfg.SampleIndex(c) + w - h); got != c {
				t.Fatalf("W=%d H=%d: Column(SampleIndex(%d)+W-H) = %d", w, h, c, got)
			}
			// column() is monotonic over sample indices.
			if got := cfg.Column(cfg.SampleIndex(c)); got < prev {
				t.Fatalf("W=%d H=%d: Column not monotonic at %d", w, h, c)
			} else {
				prev = got
			}
		}
		if w == h {
			for c := range 100 {
				if got := cfg.Column(cfg.SampleIndex(c)); got != c {
					t.Fatalf("W=H=%d: Column(SampleIndex(%d)) = %d", w, c, got)
				}
			}
		}
	}
}

func TestConfigFrameSpan(t *testing.T) {
	cfg := stftConfig(1024, 256)
	start, end := cfg.FrameSpan(3, 4)
	if start != 768 || end != 6*256+1024 {
		t.Errorf("FrameSpan(3, 4) = [%d, %d), want [768, %d)", start, end, 6*256+1024)
	}
	if got := cfg.ColumnHeight(); got != 513 {
		t.Errorf("ColumnHeight() = %d, want 513", got)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"Default", func(*Config) {}, false},
		{"Hop Equals Window", func(c *Config) { c.STFT.HopLength = 1024 }, false},
		{"Zero Hop", func(c *Config) { c.STFT.HopLength = 0 }, true},
		{"Window Below Hop", func(c *Config) { c.STFT.WindowSize = 128 }, true},
		{"Gofft Power Of Two", func(c *Config) { c.STFT.Backend = analysis.BackendGofft }, false},
		{"Gofft Odd Size", func(c *Config) { c.STFT.Backend = analysis.BackendGofft; c.STFT.WindowSize = 1000 }, true},
		{"Negative Start", func(c *Config) { c.StartTime = -1 }, true},
		{"NaN Start", func(c *Config) { c.StartTime = math.NaN() }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}
