// Package blob stores small collections as whole JSON documents.
package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"manhole-inspection/internal/output"
)

// Document keys.
const (
	KeyManholes   = "manholes"
	KeyInspectors = "inspectors"
	KeyLegacy     = "manholeInspectionData"
	KeyAutoBackup = "manholeInspectionAutoBackup"
)

// ErrWrite wraps any failure to persist a document.
var ErrWrite = errors.New("blob write failed")

// Store reads and writes whole collections through a Backend.
type Store struct {
	backend Backend
	saver   output.Saver
	log     *zap.Logger
	now     func() time.Time
}

// NewStore builds a Store. saver may be nil when nothing is exported.
func NewStore(backend Backend, saver output.Saver, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{backend: backend, saver: saver, log: log, now: time.Now}
}

// SetClock replaces time.Now for export filenames.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Load returns the collection stored under key. A missing or unreadable
// document yields an empty collection; the problem is logged, not returned.
func Load[T any](ctx context.Context, s *Store, key string) []T {
	b, err := s.backend.Read(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotExist) {
			s.log.Warn("blob read failed", zap.String("key", key), zap.Error(err))
		}
		return []T{}
	}
	var out []T
	if err := json.Unmarshal(b, &out); err != nil {
		s.log.Warn("blob document unreadable", zap.String("key", key), zap.Error(err))
		return []T{}
	}
	if out == nil {
		out = []T{}
	}
	return out
}

// Save overwrites the document under key with items.
func Save[T any](ctx context.Context, s *Store, key string, items []T) error {
	if items == nil {
		items = []T{}
	}
	return s.WriteDocument(ctx, key, items)
}

// Export hands items to the Saver under a timestamped name
// (<prefix>_YYYY-MM-DD.json) and returns where it was written.
func Export[T any](s *Store, prefix string, items []T) (string, error) {
	if s.saver == nil {
		return "", fmt.Errorf("export %s: no saver configured", prefix)
	}
	if items == nil {
		items = []T{}
	}
	return output.WriteJSON(s.saver, prefix, s.now(), items)
}

// ReadDocument decodes an arbitrary document. found is false when the key
// does not exist.
func (s *Store) ReadDocument(ctx context.Context, key string, v any) (found bool, err error) {
	b, err := s.backend.Read(ctx, key)
	if errors.Is(err, ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// WriteDocument encodes v and overwrites key.
func (s *Store) WriteDocument(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrWrite, key, err)
	}
	if err := s.backend.Write(ctx, key, b); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWrite, key, err)
	}
	return nil
}

// Saver exposes the configured artifact saver.
func (s *Store) Saver() output.Saver { return s.saver }
