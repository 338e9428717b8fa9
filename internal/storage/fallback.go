package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/pfrederiksen/city-events/internal/event"
	"github.com/pfrederiksen/city-events/internal/logger"
)

// FallbackStore uses a primary store and degrades to a secondary one when
// the primary fails. A target that degraded stays on the secondary for the
// rest of the process, so a run never loads from one store and saves to the
// other.
type FallbackStore struct {
	primary   Store
	secondary Store
	log       *logger.Logger

	mu       sync.Mutex
	degraded map[string]bool
}

// NewFallbackStore creates a FallbackStore
func NewFallbackStore(primary, secondary Store, log *logger.Logger) *FallbackStore {
	if log == nil {
		log = logger.Default()
	}
	return &FallbackStore{
		primary:   primary,
		secondary: secondary,
		log:       log,
		degraded:  make(map[string]bool),
	}
}

func (s *FallbackStore) Name() string {
	return s.primary.Name() + "+" + s.secondary.Name()
}

// Degraded reports whether target has moved to the secondary store
func (s *FallbackStore) Degraded(target Target) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded[target.Name()]
}

func (s *FallbackStore) Load(ctx context.Context, target Target) (*event.Dataset, error) {
	if s.Degraded(target) {
		return s.secondary.Load(ctx, target)
	}

	dataset, err := s.primary.Load(ctx, target)
	if err == nil || !s.degrade(ctx, target, "load", err) {
		return dataset, err
	}
	return s.secondary.Load(ctx, target)
}

func (s *FallbackStore) Save(ctx context.Context, target Target, dataset *event.Dataset) error {
	if s.Degraded(target) {
		return s.secondary.Save(ctx, target, dataset)
	}

	err := s.primary.Save(ctx, target, dataset)
	if err == nil || !s.degrade(ctx, target, "save", err) {
		return err
	}
	return s.secondary.Save(ctx, target, dataset)
}

// degrade records the switch to the secondary store. Cancellation is not a
// backend failure and is returned as is.
func (s *FallbackStore) degrade(ctx context.Context, target Target, op string, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}

	s.mu.Lock()
	s.degraded[target.Name()] = true
	s.mu.Unlock()

	s.log.Warn("Primary store failed, using fallback", logger.Fields{
		"op":          op,
		"target":      target.Name(),
		"primary":     s.primary.Name(),
		"secondary":   s.secondary.Name(),
		"unavailable": errors.Is(err, ErrUnavailable),
	}, err)
	return true
}
