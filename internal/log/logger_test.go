// SPDX-License-Identifier: MIT
package log

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
		ok   bool
	}{
		{"debug", LevelDebug, true},
		{"INFO", LevelInfo, true},
		{"warning", LevelWarn, true},
		{"Error", LevelError, true},
		{"fatal", LevelFatal, true},
		{"verbose", LevelInfo, false},
		{"", LevelInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLevel(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseLevel(%q) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(LevelInfo)
	})

	SetLevel(LevelWarn)
	if GetLevel() != LevelWarn {
		t.Fatalf("GetLevel() = %v, want %v", GetLevel(), LevelWarn)
	}

	Debugf("engine: debug %d", 1)
	Infof("engine: info %d", 2)
	Warnf("engine: warn %d", 3)
	Errorf("engine: error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Errorf("messages below WARN leaked into output:\n%s", out)
	}
	if !strings.Contains(out, "warn 3") || !strings.Contains(out, "error 4") {
		t.Errorf("expected WARN and ERROR messages, got:\n%s", out)
	}
	if !strings.Contains(out, "WARN") {
		t.Errorf("expected capitalised level in output, got:\n%s", out)
	}
}

func TestLogLevelString(t *testing.T) {
	if LevelDebug.String() != "DEBUG" || LogLevel(42).String() != "UNKNOWN" {
		t.Errorf("unexpected String() values: %s %s", LevelDebug, LogLevel(42))
	}
}
