// Package kvstore keeps in-flight checkout state for a session across an
// ordered chain of storage tiers. Writes land in the first tier that accepts
// them and reads return the first hit, so state survives a tier going away.
package kvstore

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Provider is one storage tier. Errors mean the tier is unavailable for this
// call; they are logged and the next tier is tried.
type Provider interface {
	Name() string
	TrySet(ctx context.Context, key, value string) error
	TryGet(ctx context.Context, key string) (value string, found bool, err error)
	TryRemove(ctx context.Context, key string) error
}

// sweeper is implemented by tiers that hold expiring entries locally.
type sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type Store struct {
	providers []Provider
	prefix    string
	logger    *zap.Logger
}

// New builds a store over providers in priority order.
func New(logger *zap.Logger, providers ...Provider) *Store {
	return &Store{
		providers: providers,
		logger:    logger.With(zap.String("component", "kvstore")),
	}
}

// ForSession returns a view whose keys are namespaced to one session.
func (s *Store) ForSession(sessionID string) *Store {
	return &Store{
		providers: s.providers,
		prefix:    s.prefix + "session:" + sessionID + ":",
		logger:    s.logger.With(zap.String("session_id", sessionID)),
	}
}

// Set writes to the first tier that accepts the value. It never fails; when
// every tier rejects the write the value is lost and that is logged.
func (s *Store) Set(ctx context.Context, key, value string) {
	k := s.prefix + key
	for _, p := range s.providers {
		if err := p.TrySet(ctx, k, value); err != nil {
			s.logger.Warn("Storage tier rejected write",
				zap.String("tier", p.Name()), zap.String("key", key), zap.Error(err))
			continue
		}
		return
	}
	s.logger.Error("No storage tier accepted write", zap.String("key", key))
}

// Get returns the value from the first tier that has it.
func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	k := s.prefix + key
	for _, p := range s.providers {
		v, ok, err := p.TryGet(ctx, k)
		if err != nil {
			s.logger.Warn("Storage tier read failed",
				zap.String("tier", p.Name()), zap.String("key", key), zap.Error(err))
			continue
		}
		if ok {
			return v, true
		}
	}
	return "", false
}

// Remove deletes the key from every tier, ignoring failures.
func (s *Store) Remove(ctx context.Context, key string) {
	k := s.prefix + key
	for _, p := range s.providers {
		if err := p.TryRemove(ctx, k); err != nil {
			s.logger.Warn("Storage tier remove failed",
				zap.String("tier", p.Name()), zap.String("key", key), zap.Error(err))
		}
	}
}

// RunJanitor purges expired entries from local tiers until ctx is done.
func (s *Store) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Storage janitor stopped")
			return
		case <-ticker.C:
			for _, p := range s.providers {
				sw, ok := p.(sweeper)
				if !ok {
					continue
				}
				n, err := sw.Sweep(ctx)
				if err != nil {
					s.logger.Warn("Failed to sweep storage tier", zap.String("tier", p.Name()), zap.Error(err))
					continue
				}
				if n > 0 {
					s.logger.Debug("Swept expired entries", zap.String("tier", p.Name()), zap.Int("count", n))
				}
			}
		}
	}
}
