package registry

import (
	"context"
	"log/slog"

	"github.com/ruteri/tee-signer-fabric/interfaces"
)

// RelayerRegistry records the identities authorized to relay requests.
type RelayerRegistry struct {
	m *sealedMap[interfaces.Address32, struct{}]
}

var _ interfaces.RelayerRegistry = (*RelayerRegistry)(nil)

func NewRelayerRegistry(storage Storage, log *slog.Logger) *RelayerRegistry {
	return &RelayerRegistry{m: newSealedMap("relayer", storage, addressKey, unitCodec, log)}
}

func (r *RelayerRegistry) Init(ctx context.Context) error {
	return r.m.init(ctx)
}

func (r *RelayerRegistry) Update(ctx context.Context, id interfaces.Address32) error {
	return r.m.update(ctx, id, struct{}{})
}

func (r *RelayerRegistry) Remove(ctx context.Context, id interfaces.Address32) error {
	return r.m.remove(ctx, id)
}

func (r *RelayerRegistry) ContainsKey(id interfaces.Address32) bool {
	return r.m.contains(id)
}

func (r *RelayerRegistry) GetAll() []interfaces.Address32 {
	keys, _ := r.m.snapshot()
	return keys
}

func (r *RelayerRegistry) Poisoned() bool {
	return r.m.isPoisoned()
}
