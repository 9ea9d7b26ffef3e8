package kms

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/shamir"
)

var (
	ErrLocked          = errors.New("master key is locked - need more shares to unlock")
	ErrAlreadyUnlocked = errors.New("master key is already unlocked")
	ErrUnknownAdmin    = errors.New("unregistered admin public key")
	ErrInvalidShareSig = errors.New("invalid share signature")
)

// SplitMasterKey splits masterKey into shares of which threshold are needed to
// reconstruct it.
func SplitMasterKey(masterKey []byte, shares, threshold int) ([][]byte, error) {
	if len(masterKey) < MasterKeySize {
		return nil, ErrMasterKeyTooShort
	}
	if threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if shares < threshold {
		return nil, errors.New("total shares must be at least equal to threshold")
	}
	return shamir.Split(masterKey, shares, threshold)
}

// CombineShares reconstructs a master key. Shares below the threshold silently
// produce a wrong key; the caller detects that when unsealing fails.
func CombineShares(shares [][]byte) ([]byte, error) {
	key, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct master key: %w", err)
	}
	return key, nil
}

// SignShare signs the SHA-256 digest of share with an administrator's ECDSA key.
func SignShare(share []byte, privateKey *ecdsa.PrivateKey) ([]byte, error) {
	digest := sha256.Sum256(share)
	return ecdsa.SignASN1(rand.Reader, privateKey, digest[:])
}

// ShamirUnlocker collects administrator-signed shares until the master key can be
// reconstructed.
type ShamirUnlocker struct {
	mu             sync.RWMutex
	masterKey      []byte
	threshold      int
	receivedShares map[int][]byte
	adminPubKeys   map[string][]byte
	unlocked       chan struct{}
}

func NewShamirUnlocker(threshold int) *ShamirUnlocker {
	return &ShamirUnlocker{
		threshold:      threshold,
		receivedShares: make(map[int][]byte),
		adminPubKeys:   make(map[string][]byte),
		unlocked:       make(chan struct{}),
	}
}

func fingerprint(pubKeyPEM []byte) string {
	sum := sha256.Sum256(pubKeyPEM)
	return hex.EncodeToString(sum[:])
}

func parseAdminKey(pubKeyPEM []byte) (any, error) {
	block, _ := pem.Decode(pubKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode admin public key PEM")
	}
	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse admin public key: %w", err)
	}
	switch pubKey.(type) {
	case *ecdsa.PublicKey, ed25519.PublicKey:
		return pubKey, nil
	default:
		return nil, errors.New("admin public key is neither ECDSA nor ED25519 key")
	}
}

// RegisterAdmin allows shares signed by the key in pubKeyPEM.
func (u *ShamirUnlocker) RegisterAdmin(pubKeyPEM []byte) error {
	if _, err := parseAdminKey(pubKeyPEM); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.adminPubKeys[fingerprint(pubKeyPEM)] = append([]byte(nil), pubKeyPEM...)
	return nil
}

// SubmitShare verifies and stores one share. ECDSA admins sign the SHA-256 digest of
// the share, Ed25519 admins sign the share itself.
func (u *ShamirUnlocker) SubmitShare(shareIndex int, share, signature, adminPubKeyPEM []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.masterKey != nil {
		return ErrAlreadyUnlocked
	}

	registered, found := u.adminPubKeys[fingerprint(adminPubKeyPEM)]
	if !found || !bytes.Equal(registered, adminPubKeyPEM) {
		return ErrUnknownAdmin
	}

	pubKey, err := parseAdminKey(adminPubKeyPEM)
	if err != nil {
		return err
	}

	switch key := pubKey.(type) {
	case *ecdsa.PublicKey:
		digest := sha256.Sum256(share)
		if !ecdsa.VerifyASN1(key, digest[:], signature) {
			return ErrInvalidShareSig
		}
	case ed25519.PublicKey:
		if !ed25519.Verify(key, share, signature) {
			return ErrInvalidShareSig
		}
	}

	u.receivedShares[shareIndex] = append([]byte(nil), share...)
	return u.tryReconstruct()
}

func (u *ShamirUnlocker) tryReconstruct() error {
	if len(u.receivedShares) < u.threshold {
		return nil
	}

	shares := make([][]byte, 0, len(u.receivedShares))
	for _, share := range u.receivedShares {
		shares = append(shares, share)
	}

	masterKey, err := CombineShares(shares)
	if err != nil {
		return err
	}

	u.masterKey = masterKey
	for i := range u.receivedShares {
		wipeBytes(u.receivedShares[i])
	}
	u.receivedShares = make(map[int][]byte)
	close(u.unlocked)
	return nil
}

// ReceivedShares reports how many shares are held while locked.
func (u *ShamirUnlocker) ReceivedShares() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.receivedShares)
}

func (u *ShamirUnlocker) Threshold() int {
	return u.threshold
}

func (u *ShamirUnlocker) IsUnlocked() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.masterKey != nil
}

// Unlocked is closed once the master key was reconstructed.
func (u *ShamirUnlocker) Unlocked() <-chan struct{} {
	return u.unlocked
}

func (u *ShamirUnlocker) SealingKeys() (*SealingKeys, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.masterKey == nil {
		return nil, ErrLocked
	}
	return NewSealingKeys(u.masterKey)
}

func wipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
