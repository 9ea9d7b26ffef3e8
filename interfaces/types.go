package interfaces

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Address32 is the 32-byte identity used as the key of every trust registry and
// as the routing key of the peer connection manager.
type Address32 [32]byte

// SignerID identifies a signer enclave taking part in a ceremony.
type SignerID = Address32

// NewAddress32FromBytes copies a 32-byte slice into an identity.
func NewAddress32FromBytes(source []byte) (Address32, error) {
	if len(source) != 32 {
		return Address32{}, errors.New("invalid identity conversion from bytes: incorrect length")
	}

	var id Address32
	copy(id[:], source)
	return id, nil
}

// NewAddress32FromHex parses a 64-character hex string, with or without the 0x prefix.
func NewAddress32FromHex(source string) (Address32, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return Address32{}, errors.New("invalid identity length: hex string must be 64 characters")
	}

	idBytes, err := hex.DecodeString(clean)
	if err != nil {
		return Address32{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewAddress32FromBytes(idBytes)
}

// String returns the 0x-prefixed hex representation.
func (id Address32) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// Short returns the first 8 bytes in hex, for log attributes.
func (id Address32) Short() string {
	return hex.EncodeToString(id[:8])
}

func (id Address32) Bytes() []byte {
	return id[:]
}

// Compare orders identities by their raw bytes.
func (id Address32) Compare(other Address32) int {
	return bytes.Compare(id[:], other[:])
}

func (id Address32) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Address32) UnmarshalText(text []byte) error {
	parsed, err := NewAddress32FromHex(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// PubKey is a 33-byte compressed secp256k1 public key of a signer.
type PubKey [33]byte

// NewPubKeyFromBytes validates that source is a compressed point on secp256k1.
func NewPubKeyFromBytes(source []byte) (PubKey, error) {
	if len(source) != 33 {
		return PubKey{}, fmt.Errorf("%w: expected 33 bytes, got %d", ErrInvalidPubKey, len(source))
	}

	if _, err := crypto.DecompressPubkey(source); err != nil {
		return PubKey{}, fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
	}

	var pk PubKey
	copy(pk[:], source)
	return pk, nil
}

func NewPubKeyFromHex(source string) (PubKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(source, "0x"))
	if err != nil {
		return PubKey{}, fmt.Errorf("invalid hex format: %w", err)
	}
	return NewPubKeyFromBytes(raw)
}

func (pk PubKey) String() string {
	return "0x" + hex.EncodeToString(pk[:])
}

func (pk PubKey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

func (pk *PubKey) UnmarshalText(text []byte) error {
	parsed, err := NewPubKeyFromHex(string(text))
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

// MrEnclave is the 32-byte enclave measurement scheduled to take over at a
// sidechain block.
type MrEnclave [32]byte

func NewMrEnclaveFromBytes(source []byte) (MrEnclave, error) {
	if len(source) != 32 {
		return MrEnclave{}, errors.New("invalid mrenclave conversion from bytes: incorrect length")
	}
	var m MrEnclave
	copy(m[:], source)
	return m, nil
}

func NewMrEnclaveFromHex(source string) (MrEnclave, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(source, "0x"))
	if err != nil {
		return MrEnclave{}, fmt.Errorf("invalid hex format: %w", err)
	}
	return NewMrEnclaveFromBytes(raw)
}

func (m MrEnclave) String() string {
	return "0x" + hex.EncodeToString(m[:])
}

func (m MrEnclave) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MrEnclave) UnmarshalText(text []byte) error {
	parsed, err := NewMrEnclaveFromHex(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// WorkerType tags an enclave registration with the kind of worker that owns it.
// Registration events for all worker kinds share one on-chain stream.
type WorkerType uint8

const (
	WorkerTypeIdentity WorkerType = iota
	WorkerTypeBitAcross
	WorkerTypeOmniExecutor
)

func (wt WorkerType) String() string {
	switch wt {
	case WorkerTypeIdentity:
		return "identity"
	case WorkerTypeBitAcross:
		return "bitacross"
	case WorkerTypeOmniExecutor:
		return "omni-executor"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(wt))
	}
}

// ParseWorkerType is the inverse of WorkerType.String.
func ParseWorkerType(s string) (WorkerType, error) {
	switch strings.ToLower(s) {
	case "identity":
		return WorkerTypeIdentity, nil
	case "bitacross":
		return WorkerTypeBitAcross, nil
	case "omni-executor":
		return WorkerTypeOmniExecutor, nil
	default:
		return 0, fmt.Errorf("unknown worker type: %s", s)
	}
}

func (wt WorkerType) MarshalText() ([]byte, error) {
	return []byte(wt.String()), nil
}

func (wt *WorkerType) UnmarshalText(text []byte) error {
	parsed, err := ParseWorkerType(string(text))
	if err != nil {
		return err
	}
	*wt = parsed
	return nil
}
