package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/ruteri/tee-signer-fabric/interfaces"
	"github.com/ruteri/tee-signer-fabric/metrics"
)

// Storage persists the encoded map of a single registry. storage.SealedBlob is the
// production implementation; Load returns interfaces.ErrContentNotFound when no
// state was ever saved.
type Storage interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// sealedMap is the shared core of the registries: an in-memory map guarded by a
// RWMutex whose every change is sealed to Storage before it is swapped in.
type sealedMap[K comparable, V any] struct {
	name    string
	storage Storage
	keys    keyCodec[K]
	codec   valueCodec[V]
	log     *slog.Logger

	mu       sync.RWMutex
	entries  map[K]V
	poisoned bool
}

func newSealedMap[K comparable, V any](name string, storage Storage, keys keyCodec[K], codec valueCodec[V], log *slog.Logger) *sealedMap[K, V] {
	return &sealedMap[K, V]{
		name:    name,
		storage: storage,
		keys:    keys,
		codec:   codec,
		log:     log.With(slog.String("registry", name)),
		entries: make(map[K]V),
	}
}

func (s *sealedMap[K, V]) registryError(op string, err error) error {
	return &interfaces.RegistryError{Registry: s.name, Op: op, Err: err}
}

// recoverPoison must be deferred while the write guard is held.
func (s *sealedMap[K, V]) recoverPoison(op string, err *error) {
	r := recover()
	if r == nil {
		return
	}
	s.poisoned = true
	s.log.Error("Registry poisoned by panic", slog.String("op", op), slog.Any("panic", r))
	*err = fmt.Errorf("%w: %s registry: %s: panic: %v", interfaces.ErrPoisonLock, s.name, op, r)
}

func (s *sealedMap[K, V]) init(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.poisoned {
		return interfaces.ErrPoisonLock
	}
	defer s.recoverPoison("init", &err)

	data, err := s.storage.Load(ctx)
	if errors.Is(err, interfaces.ErrContentNotFound) {
		s.log.Info("No sealed state found, sealing empty registry")
		empty := make(map[K]V)
		if err := s.storage.Save(ctx, encodeMap(empty, s.keys, s.codec)); err != nil {
			return s.registryError("init", err)
		}
		s.entries = empty
		metrics.RegistryEntries.WithLabelValues(s.name).Set(0)
		return nil
	}
	if err != nil {
		return s.registryError("init", err)
	}

	entries, err := decodeMap(data, s.keys, s.codec)
	if err != nil {
		return s.registryError("init", fmt.Errorf("failed to decode sealed state: %w", err))
	}

	s.entries = entries
	metrics.RegistryEntries.WithLabelValues(s.name).Set(float64(len(entries)))
	s.log.Info("Registry unsealed", slog.Int("entries", len(entries)))
	return nil
}

// mutate applies fn to a copy of the current map. When fn reports a change the copy
// is sealed and swapped in; if sealing fails the visible map is left untouched.
func (s *sealedMap[K, V]) mutate(ctx context.Context, op string, fn func(next map[K]V) bool) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.poisoned {
		return interfaces.ErrPoisonLock
	}
	defer s.recoverPoison(op, &err)

	next := maps.Clone(s.entries)
	if next == nil {
		next = make(map[K]V)
	}
	if !fn(next) {
		return nil
	}

	if err := s.storage.Save(ctx, encodeMap(next, s.keys, s.codec)); err != nil {
		metrics.RegistryMutations.WithLabelValues(s.name, op, "error").Inc()
		return s.registryError(op, err)
	}

	s.entries = next
	metrics.RegistryMutations.WithLabelValues(s.name, op, "ok").Inc()
	metrics.RegistryEntries.WithLabelValues(s.name).Set(float64(len(next)))
	return nil
}

func (s *sealedMap[K, V]) update(ctx context.Context, id K, value V) error {
	return s.mutate(ctx, "update", func(next map[K]V) bool {
		next[id] = value
		return true
	})
}

func (s *sealedMap[K, V]) remove(ctx context.Context, id K) error {
	return s.mutate(ctx, "remove", func(next map[K]V) bool {
		if _, ok := next[id]; !ok {
			return false
		}
		delete(next, id)
		return true
	})
}

func (s *sealedMap[K, V]) get(id K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[id]
	return v, ok
}

func (s *sealedMap[K, V]) contains(id K) bool {
	_, ok := s.get(id)
	return ok
}

// snapshot returns the keys in ascending order together with their values.
func (s *sealedMap[K, V]) snapshot() ([]K, map[K]V) {
	s.mu.RLock()
	entries := s.entries
	s.mu.RUnlock()
	// entries is never mutated after being swapped in.
	return sortedKeys(entries, s.keys), entries
}

func (s *sealedMap[K, V]) isPoisoned() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.poisoned
}
