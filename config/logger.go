package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ggoodman/agent-jsonrpc-go/internal/logctx"
)

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return lvl, nil
}

// NewLogger builds the process logger writing to w. Session and request
// attributes carried by contexts are added to every record. When lv is
// non-nil the logger filters through it, so the level can change later with
// SetLevel.
func (l Log) NewLogger(w io.Writer, lv *slog.LevelVar) (*slog.Logger, error) {
	if lv == nil {
		lv = new(slog.LevelVar)
	}
	if err := l.SetLevel(lv); err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lv}

	var h slog.Handler
	switch strings.ToLower(l.Format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("log.format %q is not one of text, json", l.Format)
	}
	return logctx.Wrap(slog.New(h)), nil
}

// SetLevel stores the configured level in lv.
func (l Log) SetLevel(lv *slog.LevelVar) error {
	lvl, err := parseLevel(l.Level)
	if err != nil {
		return err
	}
	lv.Set(lvl)
	return nil
}
