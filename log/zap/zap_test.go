package zap

import (
	"testing"

	"github.com/unkn0wn-root/cachemux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerImplementsCachemuxLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := ZapLogger{L: zap.New(core)}
	var _ cachemux.Logger = l

	l.Error("remote tier unavailable", cachemux.Fields{"err": "ping failed"})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one logged entry, got %d", len(entries))
	}
	if entries[0].Message != "remote tier unavailable" {
		t.Fatalf("unexpected message: %q", entries[0].Message)
	}
	if entries[0].ContextMap()["err"] != "ping failed" {
		t.Fatalf("expected err field to carry through, got %v", entries[0].ContextMap())
	}
}

func TestZfOmitsFieldSliceWhenEmpty(t *testing.T) {
	if got := zf(nil); got != nil {
		t.Fatalf("expected nil fields for empty map, got %v", got)
	}
}
