package logger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
)

// LogCapture collects JSON log records in memory so tests can assert on
// what a component reported. It is safe for concurrent writers.
type LogCapture struct {
	mu  sync.Mutex
	buf bytes.Buffer

	// Logger writes debug-level JSON records into the capture.
	Logger *slog.Logger
}

// NewLogCapture returns an empty capture. The slog default is untouched.
func NewLogCapture(t testing.TB) *LogCapture {
	t.Helper()
	c := &LogCapture{}
	c.Logger = slog.New(slog.NewJSONHandler(c, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return c
}

// Write implements io.Writer.
func (c *LogCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

// Context returns ctx carrying the capture's logger.
func (c *LogCapture) Context(ctx context.Context) context.Context {
	return WithLogger(ctx, c.Logger)
}

// Entries decodes every captured record.
func (c *LogCapture) Entries(t testing.TB) []map[string]any {
	t.Helper()
	c.mu.Lock()
	data := append([]byte(nil), c.buf.Bytes()...)
	c.mu.Unlock()

	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatalf("captured log line is not JSON: %v: %s", err, line)
		}
		out = append(out, entry)
	}
	return out
}

// Find returns the captured records whose message equals msg.
func (c *LogCapture) Find(t testing.TB, msg string) []map[string]any {
	t.Helper()
	var matched []map[string]any
	for _, e := range c.Entries(t) {
		if e["msg"] == msg {
			matched = append(matched, e)
		}
	}
	return matched
}

// Messages returns "LEVEL message" for every captured record, in order.
func (c *LogCapture) Messages(t testing.TB) []string {
	t.Helper()
	entries := c.Entries(t)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		level, _ := e["level"].(string)
		msg, _ := e["msg"].(string)
		out = append(out, level+" "+msg)
	}
	return out
}
