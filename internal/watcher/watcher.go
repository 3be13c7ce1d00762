// Package watcher follows a raw file while a simulator writes it and
// reports newly decoded points as they appear.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sourcegraph/conc"

	"sphyctre/internal/nutraw"
	"sphyctre/internal/waveform"
)

const (
	DefaultPollInterval = 250 * time.Millisecond
	DefaultChunkSize    = 1 << 20
)

// Options configure a Watcher
type Options struct {
	ByteOrder    nutraw.Endian
	PollInterval time.Duration // Polling runs alongside file notifications
	ChunkSize    int           // Largest read per step
	Buffer       int           // Capacity of the update channel
	NoNotify     bool          // Poll only
	Logger       *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Buffer <= 0 {
		o.Buffer = 16
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Update reports what changed since the previous update.
//
// Restarted means the file was replaced or truncated and decoding began
// again from its first header. Err is set when the file cannot be decoded;
// no further updates follow until the file is replaced.
type Update struct {
	Restarted bool
	Events    []nutraw.Event
	Offset    int64 // Bytes of the current file decoded so far
	Err       error
}

// Watcher decodes a growing raw file incrementally. Completed plots are
// kept in its store across restarts.
type Watcher struct {
	path    string
	opts    Options
	logger  *slog.Logger
	store   *waveform.Store
	updates chan Update

	file   os.FileInfo // Identity of the file being followed
	stream *nutraw.Stream
	offset int64
	failed bool
}

// New creates a watcher for path. Nothing happens until Run.
func New(path string, opts Options) *Watcher {
	opts = opts.withDefaults()
	return &Watcher{
		path:    filepath.Clean(path),
		opts:    opts,
		logger:  opts.Logger.With("path", path),
		store:   waveform.NewStore(opts.Logger),
		updates: make(chan Update, opts.Buffer),
	}
}

// Updates is closed when Run returns
func (w *Watcher) Updates() <-chan Update {
	return w.updates
}

// Store holds every plot completed so far
func (w *Watcher) Store() *waveform.Store {
	return w.store
}

// Run follows the file until ctx is cancelled. It returns nil on
// cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.updates)

	var events <-chan fsnotify.Event
	var errs <-chan error
	if !w.opts.NoNotify {
		fw, err := fsnotify.NewWatcher()
		if err != nil {
			w.logger.Warn("file notifications unavailable, polling", "error", err)
		} else {
			defer fw.Close()
			if err := fw.Add(filepath.Dir(w.path)); err != nil {
				w.logger.Warn("failed to watch directory, polling", "error", err)
			} else {
				events, errs = fw.Events, fw.Errors
			}
		}
	}

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	if err := w.check(ctx); err != nil {
		return ignoreCancel(err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Warn("file notification error", "error", err)
			continue
		case <-ticker.C:
		}
		if err := w.check(ctx); err != nil {
			return ignoreCancel(err)
		}
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// check compares the file against the one being followed and decodes
// whatever was appended
func (w *Watcher) check(ctx context.Context) error {
	f, err := os.Open(w.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.logger.Debug("failed to open raw file", "error", err)
		}
		// the simulator may be between writing a temp file and renaming it
		return nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat raw file: %w", err)
	}

	var update Update
	switch {
	case w.file == nil:
		w.reset(info)
	case !os.SameFile(w.file, info):
		w.logger.Info("raw file replaced, restarting")
		w.reset(info)
		update.Restarted = true
	case info.Size() < w.offset:
		w.logger.Info("raw file truncated, restarting", "size", info.Size(), "offset", w.offset)
		w.reset(info)
		update.Restarted = true
	}

	if !w.failed {
		events, err := w.readTail(f, info.Size())
		update.Events = events
		if err != nil {
			w.failed = true
			update.Err = err
			w.logger.Warn("failed to decode raw file", "offset", w.stream.Offset(), "error", err)
		}
	}
	update.Offset = w.stream.Offset()

	if !update.Restarted && update.Err == nil && len(update.Events) == 0 {
		return nil
	}
	select {
	case w.updates <- update:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Watcher) reset(info os.FileInfo) {
	w.file = info
	w.stream = nutraw.NewStream(w.opts.ByteOrder)
	w.offset = 0
	w.failed = false
}

// readTail feeds the bytes between the last read and size to the stream
func (w *Watcher) readTail(f *os.File, size int64) ([]nutraw.Event, error) {
	var events []nutraw.Event
	buf := make([]byte, min(int64(w.opts.ChunkSize), max(size-w.offset, 0)))
	for w.offset < size {
		n, err := f.ReadAt(buf[:min(int64(len(buf)), size-w.offset)], w.offset)
		if n > 0 {
			w.offset += int64(n)
			evs, ferr := w.stream.Feed(buf[:n])
			for _, ev := range evs {
				if ev.Kind == nutraw.EventComplete {
					w.store.Insert(ev.Plot)
					w.logger.Debug("plot complete", "plot", ev.Name, "points", ev.Plot.Rows())
				}
			}
			events = append(events, evs...)
			if ferr != nil {
				return events, ferr
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return events, fmt.Errorf("failed to read raw file: %w", err)
		}
	}
	return events, nil
}

// Watch runs a watcher on path and calls fn for every update until ctx is
// cancelled. It returns the store of completed plots.
func Watch(ctx context.Context, path string, opts Options, fn func(Update)) (*waveform.Store, error) {
	w := New(path, opts)
	var (
		wg     conc.WaitGroup
		runErr error
	)
	wg.Go(func() {
		runErr = w.Run(ctx)
	})
	for u := range w.Updates() {
		fn(u)
	}
	wg.Wait()
	return w.Store(), runErr
}
