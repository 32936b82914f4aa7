package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"tetherctl/internal/config"
)

func TestNew_Levels(t *testing.T) {
	t.Parallel()

	l, err := New(config.LogConfig{Level: "debug", Format: "json"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !l.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("debug not enabled")
	}

	l, err = New(config.LogConfig{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("debug enabled by default")
	}
}

func TestNew_Rejects(t *testing.T) {
	t.Parallel()

	if _, err := New(config.LogConfig{Level: "loud"}); err == nil {
		t.Fatalf("expected level error")
	}
	if _, err := New(config.LogConfig{Format: "xml"}); err == nil {
		t.Fatalf("expected format error")
	}
}

func TestOrNop(t *testing.T) {
	t.Parallel()

	if OrNop(nil) == nil {
		t.Fatalf("nil logger")
	}
}
