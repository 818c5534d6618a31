package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestGet_ConcurrentFirstUse(t *testing.T) {
	defaultLogger.Store(nil)
	t.Cleanup(func() { defaultLogger.Store(nil) })

	var wg sync.WaitGroup
	loggers := make([]*slog.Logger, 16)
	for i := range loggers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			loggers[i] = Get()
			DebugContext(context.Background(), "first use")
		}(i)
	}
	wg.Wait()

	for i, l := range loggers {
		if l == nil || l != loggers[0] {
			t.Fatalf("goroutine %d saw logger %p, want %p", i, l, loggers[0])
		}
	}
}

func TestInitWithWriter_ContextFields(t *testing.T) {
	t.Cleanup(func() { defaultLogger.Store(nil) })

	var buf bytes.Buffer
	InitWithWriter(slog.LevelDebug, "text", &buf)

	ctx := WithNetwork(WithCommand(context.Background(), "cmd-1"), "net1")
	InfoContext(ctx, "polled")

	out := buf.String()
	if !strings.Contains(out, "command_id=cmd-1") || !strings.Contains(out, "network=net1") {
		t.Errorf("missing context fields in %q", out)
	}
}
