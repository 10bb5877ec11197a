package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/op/go-logging.v1"
)

var format = logging.MustStringFormatter(
	"%{time:15:04:05.000} %{level:.4s} %{module}: %{message}",
)

// Backend is a process-wide log backend. The zero value is not usable; use
// New.
type Backend struct {
	leveled logging.LeveledBackend
	w       io.WriteCloser
}

// New creates a Backend writing to file (stderr when file is empty) at the
// given level. disable discards all output.
func New(file, level string, disable bool) (*Backend, error) {
	lvl, err := logging.LogLevel(strings.ToUpper(level))
	if err != nil {
		return nil, fmt.Errorf("logging: invalid level %q: %w", level, err)
	}

	b := new(Backend)
	var w io.Writer
	switch {
	case disable:
		w = io.Discard
	case file == "":
		w = os.Stderr
	default:
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("logging: open %s: %w", file, err)
		}
		b.w = f
		w = f
	}

	base := logging.NewLogBackend(w, "", 0)
	b.leveled = logging.AddModuleLevel(logging.NewBackendFormatter(base, format))
	b.leveled.SetLevel(lvl, "")
	return b, nil
}

// GetLogger returns a per-module logger backed by b.
func (b *Backend) GetLogger(module string) *logging.Logger {
	l := logging.MustGetLogger(module)
	l.SetBackend(b.leveled)
	return l
}

// Close releases the log file, if any.
func (b *Backend) Close() error {
	if b.w != nil {
		return b.w.Close()
	}
	return nil
}
