package interfaces

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrPoisonLock is returned by every mutation after a registry was left
	// inconsistent by a panic raised while its write guard was held.
	ErrPoisonLock = errors.New("poison lock")

	// ErrEmptyRegistry is returned when an operation needs at least one registered entry.
	ErrEmptyRegistry = errors.New("empty registry")

	// ErrInvalidPubKey is returned for signer keys that are not compressed secp256k1 points.
	ErrInvalidPubKey = errors.New("invalid signer public key")
)

// RegistryError wraps I/O and decode failures of a registry operation.
type RegistryError struct {
	Registry string
	Op       string
	Err      error
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("%s registry: %s: %v", e.Registry, e.Op, e.Err)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

// SignerEntry is one row of the signer registry.
type SignerEntry struct {
	ID     Address32 `json:"id"`
	PubKey PubKey    `json:"pub_key"`
}

// EnclaveEntry is one row of the enclave registry.
type EnclaveEntry struct {
	ID  Address32 `json:"id"`
	URL string    `json:"url"`
}

// SignerRegistryUpdater mutates the signer registry. Each call re-seals the full map.
type SignerRegistryUpdater interface {
	Init(ctx context.Context) error
	Update(ctx context.Context, id Address32, pubKey PubKey) error
	Remove(ctx context.Context, id Address32) error
}

// SignerRegistryLookup never fails; missing keys yield false or empty results.
type SignerRegistryLookup interface {
	ContainsKey(id Address32) bool
	GetAll() []SignerEntry
	GetPubKey(id Address32) (PubKey, bool)
}

type SignerRegistry interface {
	SignerRegistryUpdater
	SignerRegistryLookup
}

type RelayerRegistryUpdater interface {
	Init(ctx context.Context) error
	Update(ctx context.Context, id Address32) error
	Remove(ctx context.Context, id Address32) error
}

type RelayerRegistryLookup interface {
	ContainsKey(id Address32) bool
	GetAll() []Address32
}

type RelayerRegistry interface {
	RelayerRegistryUpdater
	RelayerRegistryLookup
}

// EnclaveRegistryUpdater mutates the enclave registry. Events for a worker type other
// than the one the registry serves are ignored and return nil.
type EnclaveRegistryUpdater interface {
	Init(ctx context.Context) error
	Update(ctx context.Context, id Address32, workerType WorkerType, url string) error
	Remove(ctx context.Context, id Address32, workerType WorkerType) error
}

type EnclaveRegistryLookup interface {
	ContainsKey(id Address32) bool
	GetAll() []EnclaveEntry
	GetWorkerURL(id Address32) (string, bool)
}

type EnclaveRegistry interface {
	EnclaveRegistryUpdater
	EnclaveRegistryLookup
}

// ScheduledEnclaveEntry schedules MrEnclave to take over from SidechainBlockNumber on.
type ScheduledEnclaveEntry struct {
	SidechainBlockNumber uint64    `json:"sidechain_block_number"`
	MrEnclave            MrEnclave `json:"mrenclave"`
}

// ScheduledEnclaveRegistryUpdater mutates the scheduled enclave registry. Like the
// enclave registry it ignores events for a foreign worker type.
type ScheduledEnclaveRegistryUpdater interface {
	Init(ctx context.Context) error
	Update(ctx context.Context, workerType WorkerType, sbn uint64, mrenclave MrEnclave) error
	Remove(ctx context.Context, workerType WorkerType, sbn uint64) error
}

type ScheduledEnclaveRegistryLookup interface {
	ContainsKey(sbn uint64) bool
	GetAll() []ScheduledEnclaveEntry
	GetMrEnclave(sbn uint64) (MrEnclave, bool)
	// ActiveAt returns the measurement scheduled at the highest block number not
	// above sbn.
	ActiveAt(sbn uint64) (MrEnclave, bool)
}

type ScheduledEnclaveRegistry interface {
	ScheduledEnclaveRegistryUpdater
	ScheduledEnclaveRegistryLookup
}
