package registry

import (
	"context"
	"log/slog"

	"github.com/ruteri/tee-signer-fabric/interfaces"
)

// ScheduledEnclaveRegistry maps sidechain block numbers to the enclave measurement
// expected from that block on. Like EnclaveRegistry it only applies events for
// its own worker type.
type ScheduledEnclaveRegistry struct {
	m          *sealedMap[uint64, interfaces.MrEnclave]
	workerType interfaces.WorkerType
}

var _ interfaces.ScheduledEnclaveRegistry = (*ScheduledEnclaveRegistry)(nil)

func NewScheduledEnclaveRegistry(storage Storage, workerType interfaces.WorkerType, log *slog.Logger) *ScheduledEnclaveRegistry {
	m := newSealedMap("scheduled_enclave", storage, blockNumberKey, mrEnclaveCodec, log.With(slog.String("worker_type", workerType.String())))
	return &ScheduledEnclaveRegistry{m: m, workerType: workerType}
}

func (r *ScheduledEnclaveRegistry) Init(ctx context.Context) error {
	return r.m.init(ctx)
}

func (r *ScheduledEnclaveRegistry) accepts(op string, sbn uint64, workerType interfaces.WorkerType) bool {
	if workerType == r.workerType {
		return true
	}
	r.m.log.Warn("Ignoring scheduled enclave event for foreign worker type",
		slog.String("op", op),
		slog.Uint64("sidechain_block_number", sbn),
		slog.String("event_worker_type", workerType.String()))
	return false
}

func (r *ScheduledEnclaveRegistry) Update(ctx context.Context, workerType interfaces.WorkerType, sbn uint64, mrenclave interfaces.MrEnclave) error {
	if !r.accepts("update", sbn, workerType) {
		return nil
	}
	if err := r.m.update(ctx, sbn, mrenclave); err != nil {
		return err
	}
	r.m.log.Debug("Scheduled enclave updated", slog.Uint64("sidechain_block_number", sbn), slog.String("mrenclave", mrenclave.String()))
	return nil
}

func (r *ScheduledEnclaveRegistry) Remove(ctx context.Context, workerType interfaces.WorkerType, sbn uint64) error {
	if !r.accepts("remove", sbn, workerType) {
		return nil
	}
	return r.m.remove(ctx, sbn)
}

func (r *ScheduledEnclaveRegistry) ContainsKey(sbn uint64) bool {
	return r.m.contains(sbn)
}

func (r *ScheduledEnclaveRegistry) GetMrEnclave(sbn uint64) (interfaces.MrEnclave, bool) {
	return r.m.get(sbn)
}

func (r *ScheduledEnclaveRegistry) ActiveAt(sbn uint64) (interfaces.MrEnclave, bool) {
	keys, entries := r.m.snapshot()
	for i := len(keys) - 1; i >= 0; i-- {
		if keys[i] <= sbn {
			return entries[keys[i]], true
		}
	}
	return interfaces.MrEnclave{}, false
}

func (r *ScheduledEnclaveRegistry) GetAll() []interfaces.ScheduledEnclaveEntry {
	keys, entries := r.m.snapshot()
	out := make([]interfaces.ScheduledEnclaveEntry, 0, len(keys))
	for _, k := range keys {
		out = append(out, interfaces.ScheduledEnclaveEntry{SidechainBlockNumber: k, MrEnclave: entries[k]})
	}
	return out
}

// Encode returns the schedule as a SCALE Vec<(u64, [u8; 32])>, which shares its
// layout with the sealed map.
func (r *ScheduledEnclaveRegistry) Encode() []byte {
	_, entries := r.m.snapshot()
	return encodeMap(entries, blockNumberKey, mrEnclaveCodec)
}

func (r *ScheduledEnclaveRegistry) Poisoned() bool {
	return r.m.isPoisoned()
}
