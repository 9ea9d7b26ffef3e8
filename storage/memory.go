package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/tee-signer-fabric/interfaces"
)

// MemoryBackend keeps blobs in process memory. State does not survive a restart;
// it serves ephemeral dev nodes and tests.
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	name  string
	log   *slog.Logger
}

func NewMemoryBackend(name string, log *slog.Logger) *MemoryBackend {
	return &MemoryBackend{
		blobs: make(map[string][]byte),
		name:  name,
		log:   log,
	}
}

func (b *MemoryBackend) Fetch(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, ok := b.blobs[key]
	if !ok {
		return nil, interfaces.ErrContentNotFound
	}
	return append([]byte(nil), data...), nil
}

func (b *MemoryBackend) Store(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.blobs[key] = append([]byte(nil), data...)
	b.log.Debug("Stored content in memory", slog.String("key", key), slog.Int("size", len(data)))
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.blobs, key)
	return nil
}

func (b *MemoryBackend) Available(ctx context.Context) bool {
	return true
}

func (b *MemoryBackend) Name() string {
	return fmt.Sprintf("memory-%s", b.name)
}

func (b *MemoryBackend) LocationURI() string {
	return fmt.Sprintf("memory://%s", b.name)
}
