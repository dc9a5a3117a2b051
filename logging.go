package xray

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
)

// NewLogger returns a human readable logger when w is a terminal and a
// JSON logger otherwise.
func NewLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	if isTerminal(w) {
		h := log.NewWithOptions(w, log.Options{
			Level:           log.Level(level),
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
			Prefix:          "xray",
		})
		return slog.New(h)
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
