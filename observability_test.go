package cachemux_test

import (
	"bytes"
	"context"
	"errors"
	stdslog "log/slog"
	"strings"
	"testing"

	cachemux "github.com/unkn0wn-root/cachemux"
	asynchook "github.com/unkn0wn-root/cachemux/hooks/async"
	slogadapter "github.com/unkn0wn-root/cachemux/log/slog"
	"github.com/unkn0wn-root/cachemux/sloghooks"
)

// TestEngineWithSlogLoggerAndAsyncSloghooks wires two of the teacher's
// observability adapters directly into a live Engine: the log/slog Logger
// adapter as EngineOptions.Logger, and sloghooks wrapped in hooks/async as
// EngineOptions.Hooks, so a real loader error flows Engine -> asynchook ->
// sloghooks -> slog rather than only ever being exercised by each package's
// own unit tests.
func TestEngineWithSlogLoggerAndAsyncSloghooks(t *testing.T) {
	var buf bytes.Buffer
	slogger := stdslog.New(stdslog.NewTextHandler(&buf, nil))

	hooks := asynchook.New(sloghooks.New(slogger, sloghooks.Options{}), 1, 16)
	defer hooks.Close()

	e, err := cachemux.New(cachemux.EngineOptions{
		Config:              cachemux.DefaultConfig(),
		Logger:              slogadapter.Logger{L: slogger},
		Hooks:               hooks,
		HealthProbeInterval: -1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Close)

	errFake := errors.New("loader exploded")
	cc := cachemux.CallContext{
		Args:       []any{"u1"},
		ParamNames: []string{"id"},
		Descriptor: &cachemux.Descriptor{
			LogicalNames:   []string{"users"},
			KeyExpr:        "#id",
			LayerMask:      cachemux.NewLayerMask(cachemux.LayerLocal),
			EvictionPolicy: cachemux.EvictionLRU,
			MaxEntries:     1000,
		},
		Loader: func(ctx context.Context) (any, error) {
			return nil, errFake
		},
	}

	if _, err := e.Invoke(context.Background(), cc); !errors.Is(err, errFake) {
		t.Fatalf("expected the loader error to propagate, got %v", err)
	}

	hooks.Close() // Close waits for the worker to drain the queue

	if !strings.Contains(buf.String(), "cachemux.loader_error") {
		t.Fatalf("expected the loader error hook to reach slog via async+sloghooks, got %q", buf.String())
	}
}
