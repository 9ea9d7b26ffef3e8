package kms

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	MasterKeySize  = 32
	SealingKeySize = 32

	sealingInfoPrefix = "tee-signer-fabric/sealing/v1/"

	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var ErrMasterKeyTooShort = errors.New("master key must be at least 32 bytes")

// SealingKeys derives per-blob sealing keys from the master key.
type SealingKeys struct {
	masterKey []byte
}

func NewSealingKeys(masterKey []byte) (*SealingKeys, error) {
	if len(masterKey) < MasterKeySize {
		return nil, ErrMasterKeyTooShort
	}
	return &SealingKeys{masterKey: append([]byte(nil), masterKey...)}, nil
}

// KeyFor returns the sealing key of the blob called name. The same master key and
// name always yield the same key.
func (k *SealingKeys) KeyFor(name string) ([]byte, error) {
	if name == "" {
		return nil, errors.New("empty blob name")
	}
	key := make([]byte, SealingKeySize)
	r := hkdf.New(sha256.New, k.masterKey, nil, []byte(sealingInfoPrefix+name))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive sealing key: %w", err)
	}
	return key, nil
}

func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, MasterKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// MasterKeyFromPassphrase stretches a passphrase with Argon2id. salt should be
// unique per node, for example its identity.
func MasterKeyFromPassphrase(passphrase, salt []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("empty passphrase")
	}
	if len(salt) < 16 {
		return nil, errors.New("salt must be at least 16 bytes")
	}
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, MasterKeySize), nil
}

func MasterKeyFromHex(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid master key hex: %w", err)
	}
	if len(key) < MasterKeySize {
		return nil, ErrMasterKeyTooShort
	}
	return key, nil
}
