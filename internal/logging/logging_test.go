package logging

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLogger_FiltersAndFormats(t *testing.T) {
	var buf bytes.Buffer
	l := New(log.New(&buf, "", 0), LevelInfo, "scheduler")

	l.Debugf("hidden")
	l.Infof("selected name=%s", "M42")
	l.With("orchestrator").Warnf("unsafe")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line should be filtered: %q", out)
	}
	if !strings.Contains(out, "INFO scheduler: selected name=M42") {
		t.Errorf("missing info line: %q", out)
	}
	if !strings.Contains(out, "WARN orchestrator: unsafe") {
		t.Errorf("missing warn line: %q", out)
	}
}

func TestLogger_NilAndDiscard(t *testing.T) {
	var l *Logger
	l.Errorf("no panic")
	Discard().Errorf("dropped")
}
