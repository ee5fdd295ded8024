package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return NewSlogLogger(slog.New(h)), &buf
}

func TestSlogLogger_Levels(t *testing.T) {
	log, buf := newTestLogger(t)
	ctx := context.Background()

	log.Debug(ctx, "blob stored", "key", "k1")
	log.Info(ctx, "record uploaded", "record_id", "r1")
	log.Warn(ctx, "orphaned blob", "key", "k2")
	log.Error(ctx, "decrypt failed", "version", 3)

	out := buf.String()
	for _, want := range []string{
		"level=DEBUG", `msg="blob stored"`, "key=k1",
		"level=INFO", `msg="record uploaded"`, "record_id=r1",
		"level=WARN", "key=k2",
		"level=ERROR", "version=3",
	} {
		assert.Contains(t, out, want)
	}
}

func TestSlogLogger_With(t *testing.T) {
	log, buf := newTestLogger(t)

	log.With("module", "records", "user_id", "u1").Info(context.Background(), "hello", "k", "v")

	out := buf.String()
	for _, want := range []string{"module=records", "user_id=u1", "k=v", "msg=hello"} {
		assert.Contains(t, out, want)
	}
}

func TestNew_Backends(t *testing.T) {
	tests := []struct {
		backend string
		msgKey  string
	}{
		{"slog", "msg"},
		{"zerolog", "message"},
		{"unknown", "msg"},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			var buf bytes.Buffer
			New(tt.backend, &buf).Info(context.Background(), "record deleted", "record_id", "r1")

			m := map[string]any{}
			require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &m))
			assert.Equal(t, "record deleted", m[tt.msgKey])
			assert.Equal(t, "r1", m["record_id"])
		})
	}
}

func TestNew_DebugSuppressedByDefault(t *testing.T) {
	var buf bytes.Buffer
	New("slog", &buf).Debug(context.Background(), "noisy")
	assert.Empty(t, buf.String())
}
