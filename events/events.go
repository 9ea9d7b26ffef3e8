// Package events applies parentchain registration events to the trust registries.
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/tee-signer-fabric/interfaces"
	"github.com/ruteri/tee-signer-fabric/scale"
	"golang.org/x/crypto/blake2b"
)

type Kind uint8

const (
	RelayerAdded Kind = iota
	RelayerRemoved
	EnclaveAdded
	EnclaveRemoved
	BtcWalletGenerated
	ScheduledEnclaveSet
	ScheduledEnclaveRemoved
)

var kindNames = map[Kind]string{
	RelayerAdded:       "relayer_added",
	RelayerRemoved:     "relayer_removed",
	EnclaveAdded:       "enclave_added",
	EnclaveRemoved:     "enclave_removed",
	BtcWalletGenerated: "btc_wallet_generated",

	ScheduledEnclaveSet:     "scheduled_enclave_set",
	ScheduledEnclaveRemoved: "scheduled_enclave_removed",
}

var (
	ErrUnknownKind = errors.New("unknown event kind")
	ErrMissingKind = errors.New("event kind is required")
)

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Event is one registration event observed on the parentchain. Which fields are
// meaningful depends on Kind:
//
//	RelayerAdded, RelayerRemoved  ID
//	EnclaveAdded                  ID, WorkerType, URL
//	EnclaveRemoved                ID, WorkerType
//	BtcWalletGenerated            ID, PubKey
//	ScheduledEnclaveSet           WorkerType, SidechainBlockNumber, MrEnclave
//	ScheduledEnclaveRemoved       WorkerType, SidechainBlockNumber
type Event struct {
	Kind       Kind                  `json:"kind"`
	ID         interfaces.Address32  `json:"id"`
	WorkerType interfaces.WorkerType `json:"worker_type"`
	// URL is raw bytes as emitted on chain and is only accepted if it is valid UTF-8.
	URL    hexutil.Bytes `json:"url,omitempty"`
	PubKey hexutil.Bytes `json:"pub_key,omitempty"`

	SidechainBlockNumber uint64        `json:"sidechain_block_number,omitempty"`
	MrEnclave            hexutil.Bytes `json:"mrenclave,omitempty"`
}

// UnmarshalJSON rejects events without a kind, which would otherwise decode as
// the zero kind.
func (ev *Event) UnmarshalJSON(data []byte) error {
	type plain Event
	var raw struct {
		plain
		Kind *Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Kind == nil {
		return ErrMissingKind
	}
	*ev = Event(raw.plain)
	ev.Kind = *raw.Kind
	return nil
}

func NewRelayerAdded(id interfaces.Address32) Event {
	return Event{Kind: RelayerAdded, ID: id}
}

func NewRelayerRemoved(id interfaces.Address32) Event {
	return Event{Kind: RelayerRemoved, ID: id}
}

func NewEnclaveAdded(id interfaces.Address32, workerType interfaces.WorkerType, url []byte) Event {
	return Event{Kind: EnclaveAdded, ID: id, WorkerType: workerType, URL: url}
}

func NewEnclaveRemoved(id interfaces.Address32, workerType interfaces.WorkerType) Event {
	return Event{Kind: EnclaveRemoved, ID: id, WorkerType: workerType}
}

func NewBtcWalletGenerated(id interfaces.Address32, pubKey []byte) Event {
	return Event{Kind: BtcWalletGenerated, ID: id, PubKey: pubKey}
}

func NewScheduledEnclaveSet(workerType interfaces.WorkerType, sbn uint64, mrenclave interfaces.MrEnclave) Event {
	return Event{Kind: ScheduledEnclaveSet, WorkerType: workerType, SidechainBlockNumber: sbn, MrEnclave: mrenclave[:]}
}

func NewScheduledEnclaveRemoved(workerType interfaces.WorkerType, sbn uint64) Event {
	return Event{Kind: ScheduledEnclaveRemoved, WorkerType: workerType, SidechainBlockNumber: sbn}
}

// Encode returns the canonical SCALE form of the event: the kind index followed by
// the fields that kind carries.
func (ev Event) Encode() []byte {
	e := scale.NewEncoder()
	e.WriteU8(uint8(ev.Kind))
	switch ev.Kind {
	case ScheduledEnclaveSet:
		e.WriteU8(uint8(ev.WorkerType))
		e.WriteU64(ev.SidechainBlockNumber)
		e.WriteFixed(ev.MrEnclave)
		return e.Bytes()
	case ScheduledEnclaveRemoved:
		e.WriteU8(uint8(ev.WorkerType))
		e.WriteU64(ev.SidechainBlockNumber)
		return e.Bytes()
	}

	e.WriteFixed(ev.ID[:])
	switch ev.Kind {
	case EnclaveAdded:
		e.WriteU8(uint8(ev.WorkerType))
		e.WriteBytes(ev.URL)
	case EnclaveRemoved:
		e.WriteU8(uint8(ev.WorkerType))
	case BtcWalletGenerated:
		e.WriteBytes(ev.PubKey)
	}
	return e.Bytes()
}

// Hash is the blake2b-256 digest of Encode. It identifies an applied event within
// the node and is not the parentchain runtime's hash of the same event.
func (ev Event) Hash() common.Hash {
	return common.Hash(blake2b.Sum256(ev.Encode()))
}

// DecodeEvents parses a JSON array of events, as submitted to the admin API.
func DecodeEvents(data []byte) ([]Event, error) {
	var evs []Event
	if err := json.Unmarshal(data, &evs); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}
	return evs, nil
}
