// Package simulator runs an external circuit simulator on a deck and
// collects the raw waveform output it writes.
package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"sphyctre/internal/nutraw"
	"sphyctre/internal/waveform"
)

// Orchestrator tracks the live simulator runs it started. Runs share no
// state with each other; each owns its process and scratch directory.
type Orchestrator struct {
	fs     afero.Fs
	logger *slog.Logger

	mu      sync.Mutex
	seq     int
	handles map[string]*Handle
	order   []string
}

// NewOrchestrator creates an orchestrator working on the real filesystem
func NewOrchestrator(logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		fs:      afero.NewOsFs(),
		logger:  logger,
		handles: make(map[string]*Handle),
	}
}

// Start stages deckPath in a new scratch directory and launches the
// simulator on it. The run is stopped when ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context, deckPath string, opts Options) (*Handle, error) {
	opts = opts.withDefaults()

	o.mu.Lock()
	o.seq++
	id := fmt.Sprintf("%s-%d", strings.TrimSuffix(filepath.Base(deckPath), filepath.Ext(deckPath)), o.seq)
	o.mu.Unlock()

	logger := opts.Logger.With("run", id)
	h := &Handle{
		id:     id,
		opts:   opts,
		fs:     o.fs,
		logger: opts.Logger,
		stdout: newCapture("stdout", opts.OutputLimit, logger),
		stderr: newCapture("stderr", opts.OutputLimit, logger),
		cancel: make(chan struct{}),
	}

	if err := h.stage(deckPath); err != nil {
		return nil, multierr.Append(err, h.Close())
	}

	exe, err := resolveExecutable(o.fs, opts)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("%w: %w", ErrLaunch, err), h.Close())
	}
	args := expandArgs(opts.Args, h.deck, h.raw, h.workDir)
	if err := h.launch(ctx, exe, args); err != nil {
		return nil, multierr.Append(err, h.Close())
	}

	o.mu.Lock()
	o.handles[id] = h
	o.order = append(o.order, id)
	o.mu.Unlock()
	return h, nil
}

// stage copies the deck into a fresh scratch directory
func (h *Handle) stage(deckPath string) error {
	deck, err := afero.ReadFile(h.fs, deckPath)
	if err != nil {
		return fmt.Errorf("failed to read deck: %w", err)
	}
	dir, err := afero.TempDir(h.fs, h.opts.TempDir, "sphyctre-")
	if err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	if dir, err = filepath.Abs(dir); err != nil {
		return err
	}
	h.workDir = dir
	h.deck = filepath.Join(dir, filepath.Base(deckPath))
	if err := afero.WriteFile(h.fs, h.deck, deck, 0o644); err != nil {
		return fmt.Errorf("failed to stage deck: %w", err)
	}
	h.raw = h.opts.RawFile
	if !filepath.IsAbs(h.raw) {
		h.raw = filepath.Join(dir, h.raw)
	}
	h.state = StateCreated
	h.logger.Debug("deck staged", "run", h.id, "deck", h.deck, "workdir", dir)
	return nil
}

// Run starts the simulator, waits for it and decodes its raw file into a
// new store. The handle is disposed before Run returns.
func (o *Orchestrator) Run(ctx context.Context, deckPath string, opts Options) (*waveform.Store, error) {
	h, err := o.Start(ctx, deckPath, opts)
	if err != nil {
		return nil, err
	}
	defer o.dispose(h)

	if err := h.Wait(); err != nil {
		return nil, err
	}
	store, _, err := nutraw.ReadFile(o.fs, h.RawPath(), nutraw.ReadOptions{
		ByteOrder: h.opts.ByteOrder,
		Logger:    h.opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode simulator output: %w", err)
	}
	return store, nil
}

// RunInto is Run followed by merging the plots into store. store is left
// untouched when the run or the decode fails.
func (o *Orchestrator) RunInto(ctx context.Context, store *waveform.Store, deckPath string, opts Options) error {
	result, err := o.Run(ctx, deckPath, opts)
	if err != nil {
		return err
	}
	store.Merge(result)
	return nil
}

// BatchResult is the outcome of one deck in RunBatch
type BatchResult struct {
	Deck  string
	Store *waveform.Store
	Err   error
}

// RunBatch runs every deck with at most limit simulators at a time. Results
// are in deck order; the returned error combines the failures.
func (o *Orchestrator) RunBatch(ctx context.Context, decks []string, opts Options, limit int) ([]BatchResult, error) {
	if limit <= 0 {
		limit = 1
	}
	results := make([]BatchResult, len(decks))
	p := pool.New().WithContext(ctx).WithMaxGoroutines(limit)
	for i, deck := range decks {
		p.Go(func(ctx context.Context) error {
			store, err := o.Run(ctx, deck, opts)
			results[i] = BatchResult{Deck: deck, Store: store, Err: err}
			if err != nil {
				return fmt.Errorf("%s: %w", deck, err)
			}
			return nil
		})
	}
	return results, p.Wait()
}

// Handles returns the live handles in start order
func (o *Orchestrator) Handles() []*Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Handle, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.handles[id])
	}
	return out
}

// Reap disposes of every handle that has finished and returns how many
// were removed
func (o *Orchestrator) Reap() (int, error) {
	var (
		n    int
		errs error
	)
	for _, h := range o.Handles() {
		if !h.State().Terminal() {
			continue
		}
		errs = multierr.Append(errs, o.dispose(h))
		n++
	}
	return n, errs
}

// Shutdown cancels all live runs and disposes of every handle
func (o *Orchestrator) Shutdown() error {
	handles := o.Handles()
	if len(handles) > 0 {
		o.logger.Info("shutting down simulator runs", "count", len(handles))
	}
	var wg conc.WaitGroup
	for _, h := range handles {
		wg.Go(h.Cancel)
	}
	wg.Wait()

	var errs error
	for _, h := range handles {
		errs = multierr.Append(errs, o.dispose(h))
	}
	return errs
}

func (o *Orchestrator) dispose(h *Handle) error {
	err := h.Close()
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.handles[h.id]; !ok {
		return err
	}
	delete(o.handles, h.id)
	for i, id := range o.order {
		if id == h.id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	return err
}
