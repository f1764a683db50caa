//go:build dev

package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
)

const (
	devSocket  = "/tmp/mcplogd.sock"
	devAppName = "mpptrack"
)

type devEntry struct {
	App       string         `json:"app"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// socketHandler forwards records to a local mcplogd daemon. Records are
// dropped silently when no daemon is listening.
type socketHandler struct {
	level slog.Level
	attrs []slog.Attr
}

func devForwarder(level slog.Level) slog.Handler {
	return &socketHandler{level: level}
}

func (h *socketHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *socketHandler) Handle(_ context.Context, r slog.Record) error {
	conn, err := net.Dial("unix", devSocket)
	if err != nil {
		return nil
	}
	defer conn.Close()

	metadata := make(map[string]any)
	for _, a := range h.attrs {
		metadata[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		metadata[a.Key] = a.Value.Any()
		return true
	})

	data, err := json.Marshal(devEntry{
		App:       devAppName,
		Level:     strings.ToLower(r.Level.String()),
		Message:   r.Message,
		Timestamp: r.Time.UTC().Format(time.RFC3339Nano),
		Metadata:  metadata,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(conn, "%s\n", data)
	return err
}

func (h *socketHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &socketHandler{level: h.level, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
}

func (h *socketHandler) WithGroup(string) slog.Handler {
	return h
}
