package waveform

import (
	"fmt"
	"log/slog"
	"sync"
)

// Store maps plot names to plots. Inserts are serialized; lookups may run
// concurrently with each other.
type Store struct {
	mu     sync.RWMutex
	plots  map[string]*Plot
	order  []string
	logger *slog.Logger
}

// NewStore creates an empty store. A nil logger falls back to slog.Default.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		plots:  make(map[string]*Plot),
		logger: logger,
	}
}

// Insert adds a plot, replacing any plot with the same name. The store takes
// ownership of p. It reports whether an existing plot was replaced.
func (s *Store) Insert(p *Plot) (replaced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, replaced = s.plots[p.Name]; replaced {
		s.logger.Warn("replacing plot", "plot", p.Name, "points", p.Rows())
	} else {
		s.order = append(s.order, p.Name)
	}
	s.plots[p.Name] = p
	return replaced
}

// Merge inserts a copy of every plot of other into s, in other's insertion
// order. The two stores share no data afterwards.
func (s *Store) Merge(other *Store) {
	for _, p := range other.Plots() {
		s.Insert(p.Clone())
	}
}

// Get returns the plot with the given name
func (s *Store) Get(name string) (*Plot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plots[name]
	if !ok {
		return nil, fmt.Errorf("plot %q: %w", name, ErrNotFound)
	}
	return p, nil
}

// Real returns the samples of a real variable of a plot
func (s *Store) Real(plotName, varName string) ([]float64, error) {
	p, err := s.Get(plotName)
	if err != nil {
		return nil, err
	}
	return p.Real(varName)
}

// Complex returns the samples of a complex variable of a plot
func (s *Store) Complex(plotName, varName string) ([]complex128, error) {
	p, err := s.Get(plotName)
	if err != nil {
		return nil, err
	}
	return p.ComplexData(varName)
}

// Names returns plot names in first-insertion order
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Plots returns every plot in first-insertion order
func (s *Store) Plots() []*Plot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Plot, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.plots[name])
	}
	return out
}

// Len returns the number of plots
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.plots)
}
