package registry

import (
	"context"
	"log/slog"

	"github.com/ruteri/tee-signer-fabric/interfaces"
)

// EnclaveRegistry maps enclave identities to worker URLs. Registration events
// carry a worker type; only events for the type this registry was created for
// are applied.
type EnclaveRegistry struct {
	m          *sealedMap[interfaces.Address32, string]
	workerType interfaces.WorkerType
}

var _ interfaces.EnclaveRegistry = (*EnclaveRegistry)(nil)

func NewEnclaveRegistry(storage Storage, workerType interfaces.WorkerType, log *slog.Logger) *EnclaveRegistry {
	m := newSealedMap("enclave", storage, addressKey, urlCodec, log.With(slog.String("worker_type", workerType.String())))
	return &EnclaveRegistry{m: m, workerType: workerType}
}

func (r *EnclaveRegistry) WorkerType() interfaces.WorkerType {
	return r.workerType
}

func (r *EnclaveRegistry) Init(ctx context.Context) error {
	return r.m.init(ctx)
}

func (r *EnclaveRegistry) accepts(op string, id interfaces.Address32, workerType interfaces.WorkerType) bool {
	if workerType == r.workerType {
		return true
	}
	r.m.log.Warn("Ignoring enclave event for foreign worker type",
		slog.String("op", op),
		slog.String("id", id.String()),
		slog.String("event_worker_type", workerType.String()))
	return false
}

func (r *EnclaveRegistry) Update(ctx context.Context, id interfaces.Address32, workerType interfaces.WorkerType, url string) error {
	if !r.accepts("update", id, workerType) {
		return nil
	}
	if err := r.m.update(ctx, id, url); err != nil {
		return err
	}
	r.m.log.Debug("Enclave updated", slog.String("id", id.String()), slog.String("url", url))
	return nil
}

func (r *EnclaveRegistry) Remove(ctx context.Context, id interfaces.Address32, workerType interfaces.WorkerType) error {
	if !r.accepts("remove", id, workerType) {
		return nil
	}
	return r.m.remove(ctx, id)
}

func (r *EnclaveRegistry) ContainsKey(id interfaces.Address32) bool {
	return r.m.contains(id)
}

func (r *EnclaveRegistry) GetWorkerURL(id interfaces.Address32) (string, bool) {
	return r.m.get(id)
}

func (r *EnclaveRegistry) GetAll() []interfaces.EnclaveEntry {
	keys, entries := r.m.snapshot()
	out := make([]interfaces.EnclaveEntry, 0, len(keys))
	for _, k := range keys {
		out = append(out, interfaces.EnclaveEntry{ID: k, URL: entries[k]})
	}
	return out
}

func (r *EnclaveRegistry) Poisoned() bool {
	return r.m.isPoisoned()
}
