package registry

import (
	"context"
	"log/slog"

	"github.com/ruteri/tee-signer-fabric/interfaces"
)

// SignerRegistry maps signer identities to their compressed public keys. It is the
// source of ceremony participants.
type SignerRegistry struct {
	m *sealedMap[interfaces.Address32, interfaces.PubKey]
}

var _ interfaces.SignerRegistry = (*SignerRegistry)(nil)

func NewSignerRegistry(storage Storage, log *slog.Logger) *SignerRegistry {
	return &SignerRegistry{m: newSealedMap("signer", storage, addressKey, pubKeyCodec, log)}
}

func (r *SignerRegistry) Init(ctx context.Context) error {
	return r.m.init(ctx)
}

func (r *SignerRegistry) Update(ctx context.Context, id interfaces.Address32, pubKey interfaces.PubKey) error {
	if err := r.m.update(ctx, id, pubKey); err != nil {
		return err
	}
	r.m.log.Debug("Signer updated", slog.String("id", id.String()), slog.String("pub_key", pubKey.String()))
	return nil
}

func (r *SignerRegistry) Remove(ctx context.Context, id interfaces.Address32) error {
	return r.m.remove(ctx, id)
}

func (r *SignerRegistry) ContainsKey(id interfaces.Address32) bool {
	return r.m.contains(id)
}

func (r *SignerRegistry) GetPubKey(id interfaces.Address32) (interfaces.PubKey, bool) {
	return r.m.get(id)
}

// GetAll returns every signer ordered by identity.
func (r *SignerRegistry) GetAll() []interfaces.SignerEntry {
	keys, entries := r.m.snapshot()
	out := make([]interfaces.SignerEntry, 0, len(keys))
	for _, k := range keys {
		out = append(out, interfaces.SignerEntry{ID: k, PubKey: entries[k]})
	}
	return out
}

// Poisoned reports whether a panic left the registry read-only.
func (r *SignerRegistry) Poisoned() bool {
	return r.m.isPoisoned()
}
