package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type logFormat uint8

const (
	consoleLog logFormat = iota
	jsonLog
)

func parseLogFormat(s string) (logFormat, error) {
	switch s {
	case "console", "":
		return consoleLog, nil
	case "json":
		return jsonLog, nil
	default:
		return consoleLog, fmt.Errorf("unknown log format %q", s)
	}
}

func newLogger(w io.Writer, level zerolog.Level, format logFormat) zerolog.Logger {
	if format == consoleLog {
		w = zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func defaultLogLevel() string {
	if s := os.Getenv("OBJSTORE_LOG_LEVEL"); s != "" {
		return s
	}
	return "info"
}

// slogHandler forwards the database's slog records to a zerolog logger.
type slogHandler struct {
	log    zerolog.Logger
	prefix string
	attrs  []slog.Attr
}

func newSlogLogger(log zerolog.Logger) *slog.Logger {
	return slog.New(&slogHandler{log: log})
}

func zerologLevel(l slog.Level) zerolog.Level {
	switch {
	case l < slog.LevelDebug:
		return zerolog.TraceLevel
	case l < slog.LevelInfo:
		return zerolog.DebugLevel
	case l < slog.LevelWarn:
		return zerolog.InfoLevel
	case l < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func (h *slogHandler) Enabled(_ context.Context, l slog.Level) bool {
	return zerologLevel(l) >= h.log.GetLevel()
}

func (h *slogHandler) Handle(_ context.Context, r slog.Record) error {
	e := h.log.WithLevel(zerologLevel(r.Level))
	for _, a := range h.attrs {
		e = e.Interface(a.Key, a.Value.Resolve().Any())
	}
	r.Attrs(func(a slog.Attr) bool {
		e = e.Interface(h.prefix+a.Key, a.Value.Resolve().Any())
		return true
	})
	e.Msg(strings.TrimPrefix(r.Message, "objstore: "))
	return nil
}

func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = slices.Clone(h.attrs)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		c.attrs = append(c.attrs, a)
	}
	return &c
}

func (h *slogHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.prefix = h.prefix + name + "."
	return &c
}
