// Package logging builds the component loggers used across shopsync.
//
// Every component logs through a stdlib *log.Logger prefixed with its name,
// e.g. "[sync] ". Output goes to stderr, or to a size-rotated file when a
// log file is configured.
package logging

import (
	"io"
	"log"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/shopkeep/shopsync/internal/config"
)

// Factory hands out component loggers sharing one output.
type Factory struct {
	out    io.Writer
	closer io.Closer
	once   sync.Once
}

// NewFactory creates a logger factory for cfg. With verbose false and no
// log file, component output is discarded so CLI output stays clean.
func NewFactory(cfg config.LogConfig, verbose bool) *Factory {
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		var out io.Writer = rotator
		if verbose {
			out = io.MultiWriter(os.Stderr, rotator)
		}
		return &Factory{out: out, closer: rotator}
	}

	if verbose {
		return &Factory{out: os.Stderr}
	}
	return &Factory{out: io.Discard}
}

// New returns a logger for component, prefixed "[component] ".
func (f *Factory) New(component string) *log.Logger {
	return log.New(f.out, "["+component+"] ", log.LstdFlags)
}

// Writer returns the shared output.
func (f *Factory) Writer() io.Writer {
	return f.out
}

// Close closes the log file, if any.
func (f *Factory) Close() error {
	var err error
	f.once.Do(func() {
		if f.closer != nil {
			err = f.closer.Close()
		}
	})
	return err
}
