package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Attribute keys the compact handler lifts out of the key=value tail and
// prints in front of the message.
const (
	SessionKey = "session"
	UnitKey    = "unit"
)

// shortSession is how many leading characters of a session id are printed.
const shortSession = 8

var levelTags = map[slog.Level]string{
	slog.LevelDebug: "[DEBUG]",
	slog.LevelInfo:  "[INFO ]",
	slog.LevelWarn:  "[WARN ]",
	slog.LevelError: "[ERROR]",
}

// CompactHandler writes one terminal line per record. The build session and
// the unit a record concerns are hoisted into a bracketed context:
//
//	[INFO ] 15:04:05 [0123abcd lib:jvm] Unit compiled | reason=expect-changed
type CompactHandler struct {
	level slog.Leveler
	mu    *sync.Mutex
	out   io.Writer

	// bound context, set through WithAttrs
	session string
	unit    string
	tail    []slog.Attr
	prefix  string
}

// NewCompactHandler creates a compact handler writing to w.
func NewCompactHandler(w io.Writer, opts *slog.HandlerOptions) *CompactHandler {
	h := &CompactHandler{level: slog.LevelInfo, mu: &sync.Mutex{}, out: w}
	if opts != nil && opts.Level != nil {
		h.level = opts.Level
	}
	return h
}

func (h *CompactHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *CompactHandler) Handle(_ context.Context, r slog.Record) error {
	session, unit := h.session, h.unit
	tail := make([]slog.Attr, 0, len(h.tail)+r.NumAttrs())
	tail = append(tail, h.tail...)
	r.Attrs(func(a slog.Attr) bool {
		if h.prefix == "" {
			switch a.Key {
			case SessionKey:
				session = a.Value.Resolve().String()
				return true
			case UnitKey:
				unit = a.Value.Resolve().String()
				return true
			}
		}
		tail = append(tail, h.qualify(a))
		return true
	})

	var sb strings.Builder
	sb.WriteString(levelTag(r.Level))
	sb.WriteByte(' ')
	sb.WriteString(r.Time.Format(time.TimeOnly))
	if label := scope(session, unit); label != "" {
		sb.WriteString(" [")
		sb.WriteString(label)
		sb.WriteByte(']')
	}
	sb.WriteByte(' ')
	sb.WriteString(r.Message)
	sep := " | "
	for _, a := range tail {
		if a.Equal(slog.Attr{}) {
			continue
		}
		sb.WriteString(sep)
		sep = " "
		writeAttr(&sb, a)
	}
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, sb.String())
	return err
}

func (h *CompactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h.clone()
	for _, a := range attrs {
		switch {
		case h.prefix == "" && a.Key == SessionKey:
			next.session = a.Value.Resolve().String()
		case h.prefix == "" && a.Key == UnitKey:
			next.unit = a.Value.Resolve().String()
		default:
			next.tail = append(next.tail, h.qualify(a))
		}
	}
	return next
}

func (h *CompactHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := h.clone()
	next.prefix = h.prefix + name + "."
	return next
}

func (h *CompactHandler) clone() *CompactHandler {
	next := *h
	next.tail = append([]slog.Attr(nil), h.tail...)
	return &next
}

func (h *CompactHandler) qualify(a slog.Attr) slog.Attr {
	if h.prefix != "" {
		a.Key = h.prefix + a.Key
	}
	return a
}

func levelTag(level slog.Level) string {
	if tag, ok := levelTags[level]; ok {
		return tag
	}
	return fmt.Sprintf("[%-5s]", level.String())
}

// scope renders the bracketed session and unit, either of which may be empty.
func scope(session, unit string) string {
	if len(session) > shortSession {
		session = session[:shortSession]
	}
	switch {
	case session == "":
		return unit
	case unit == "":
		return session
	}
	return session + " " + unit
}

func writeAttr(sb *strings.Builder, a slog.Attr) {
	sb.WriteString(a.Key)
	sb.WriteByte('=')
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		writeString(sb, v.String())
	case slog.KindDuration:
		sb.WriteString(v.Duration().Round(time.Millisecond).String())
	case slog.KindTime:
		sb.WriteString(v.Time().Format(time.RFC3339))
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			sb.WriteString(strconv.Quote(err.Error()))
			return
		}
		writeString(sb, fmt.Sprint(v.Any()))
	default:
		sb.WriteString(v.String())
	}
}

func writeString(sb *strings.Builder, s string) {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		sb.WriteString(strconv.Quote(s))
		return
	}
	sb.WriteString(s)
}
