package tiers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"mercator-hq/saturn/pkg/admission"
)

// Store holds the current tier table and swaps it atomically on reload.
// Lookups during a reload see either the old or the new table, never a
// mix.
type Store struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	table *Table
}

// NewStore loads the tier file at path. The initial load must succeed;
// later reloads that fail keep the previous table.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	table, err := Load(path)
	if err != nil {
		return nil, err
	}

	return &Store{
		path:   path,
		logger: logger.With("component", "tiers"),
		table:  table,
	}, nil
}

// Table returns the current snapshot.
func (s *Store) Table() *Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table
}

// Reload re-reads the tier file. A broken file is rejected and the
// previous table stays in effect.
func (s *Store) Reload() error {
	table, err := Load(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.table = table
	s.mu.Unlock()

	s.logger.Info("tier table reloaded",
		"path", s.path,
		"tiers", table.Len(),
	)
	return nil
}

// ClassifyFunc names the tier a request belongs to.
type ClassifyFunc func(r *http.Request) (string, error)

// DynamicLimits adapts the store into a dynamic limit function: classify
// picks the tier, the current table supplies its expression. Reloads take
// effect on the next request with no coordination.
//
// Example:
//
//	d := admission.Declaration{
//	    DynamicLimits: store.DynamicLimits(tiers.HeaderClassifier("X-Tier", "free")),
//	}
func (s *Store) DynamicLimits(classify ClassifyFunc) admission.DynamicLimitFunc {
	return func(r *http.Request) (string, error) {
		tier, err := classify(r)
		if err != nil {
			return "", fmt.Errorf("classify tier: %w", err)
		}
		expr, ok := s.Table().Lookup(tier)
		if !ok {
			return "", fmt.Errorf("no limits for tier %q and no default", tier)
		}
		return expr, nil
	}
}

// HeaderClassifier classifies by a request header, with fallback as the
// tier for requests that do not carry it.
func HeaderClassifier(name, fallback string) ClassifyFunc {
	return func(r *http.Request) (string, error) {
		if v := strings.TrimSpace(r.Header.Get(name)); v != "" {
			return v, nil
		}
		if fallback != "" {
			return fallback, nil
		}
		return "", fmt.Errorf("request carries no %s header", name)
	}
}
