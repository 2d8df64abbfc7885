// Package logging builds the per-component loggers. Every component writes to
// its own file under the log directory and to a shared colored console.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Dir       string
	Level     slog.Leveler
	MaxSizeMB int
	Console   io.Writer // nil means os.Stdout; io.Discard silences the console
}

type Registry struct {
	opts    Options
	console slog.Handler

	mu    sync.Mutex
	files map[string]*lumberjack.Logger
}

func New(opts Options) (*Registry, error) {
	if opts.Dir == "" {
		opts.Dir = "logs"
	}
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 50
	}
	if opts.Console == nil {
		opts.Console = os.Stdout
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &Registry{
		opts:    opts,
		console: NewConsoleHandler(opts.Console, opts.Level),
		files:   make(map[string]*lumberjack.Logger),
	}, nil
}

// Writer returns the raw file sink for name, creating and truncating it on first use.
func (r *Registry) Writer(name string) io.Writer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lj, ok := r.files[name]; ok {
		return lj
	}
	path := filepath.Join(r.opts.Dir, name+".log")
	if f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644); err == nil {
		_ = f.Close()
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    r.opts.MaxSizeMB,
		MaxBackups: 3,
	}
	r.files[name] = lj
	return lj
}

// Named returns a logger that writes to <dir>/<name>.log and the console.
func (r *Registry) Named(name string) *slog.Logger {
	file := slog.NewTextHandler(r.Writer(name), &slog.HandlerOptions{Level: r.opts.Level})
	return slog.New(fanout{file, r.console}).With("component", name)
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, lj := range r.files {
		if err := lj.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s log: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, rec slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, rec.Level) {
			continue
		}
		if err := h.Handle(ctx, rec.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
