package storage

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/tee-signer-fabric/interfaces"
	"golang.org/x/crypto/chacha20poly1305"
)

var sealedMagic = []byte("SFSB")

const (
	sealedVersion byte = 2
	sequenceSize       = 8
)

// SealedBlob persists one named blob through a StorageBackend, encrypted and
// authenticated with XChaCha20-Poly1305 under a key only the node can derive.
// The blob name is bound as associated data, so blobs cannot be swapped between names.
//
// Layout: magic(4) || version(1) || nonce(24) || ciphertext, where the plaintext is
// a little-endian u64 sequence number followed by the data. Every Save increments
// the sequence; on an interfaces.ReplicatedBackend, Load returns the copy with the
// highest sequence so a replica that missed writes cannot roll the state back.
type SealedBlob struct {
	backend interfaces.StorageBackend
	name    string
	key     []byte
	log     *slog.Logger

	mu  sync.Mutex
	seq uint64
}

func NewSealedBlob(backend interfaces.StorageBackend, name string, key []byte, log *slog.Logger) (*SealedBlob, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("sealing key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	if err := validateKey(name); err != nil {
		return nil, err
	}

	return &SealedBlob{
		backend: backend,
		name:    name,
		key:     append([]byte(nil), key...),
		log:     log,
	}, nil
}

func (s *SealedBlob) Name() string {
	return s.name
}

// Sequence reports the sequence number of the last loaded or saved state.
func (s *SealedBlob) Sequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

func (s *SealedBlob) fetch(ctx context.Context) ([][]byte, error) {
	if replicated, ok := s.backend.(interfaces.ReplicatedBackend); ok {
		return replicated.FetchReplicas(ctx, s.name)
	}
	sealed, err := s.backend.Fetch(ctx, s.name)
	if err != nil {
		return nil, err
	}
	return [][]byte{sealed}, nil
}

// Load fetches and unseals the blob. Returns interfaces.ErrContentNotFound if nothing
// was sealed yet and interfaces.ErrUnsealFailed if no copy authenticates. Copies
// that fail to unseal are skipped when another copy opens.
func (s *SealedBlob) Load(ctx context.Context) ([]byte, error) {
	replicas, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}

	var (
		best     []byte
		bestSeq  uint64
		opened   int
		unsealed []error
	)
	for _, sealed := range replicas {
		seq, plaintext, err := s.open(sealed)
		if err != nil {
			unsealed = append(unsealed, err)
			continue
		}
		if opened == 0 || seq > bestSeq {
			best, bestSeq = plaintext, seq
		}
		opened++
	}

	if opened == 0 {
		err := errors.Join(unsealed...)
		s.log.Error("Failed to unseal blob",
			slog.String("name", s.name),
			slog.String("backend", s.backend.Name()),
			"err", err)
		return nil, err
	}
	if opened < len(replicas) {
		s.log.Warn("Skipped replicas that failed to unseal",
			slog.String("name", s.name),
			slog.Int("skipped", len(replicas)-opened))
	}
	if len(replicas) > 1 {
		s.log.Debug("Selected newest replica",
			slog.String("name", s.name),
			slog.Uint64("sequence", bestSeq),
			slog.Int("replicas", len(replicas)))
	}

	s.mu.Lock()
	s.seq = bestSeq
	s.mu.Unlock()
	return best, nil
}

// Save seals data under the next sequence number and replaces the stored blob.
func (s *SealedBlob) Save(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.seq + 1
	sealed, err := s.seal(seq, data)
	if err != nil {
		return err
	}

	if err := s.backend.Store(ctx, s.name, sealed); err != nil {
		return fmt.Errorf("failed to store sealed blob %s: %w", s.name, err)
	}
	s.seq = seq

	s.log.Debug("Sealed blob",
		slog.String("name", s.name),
		slog.String("backend", s.backend.Name()),
		slog.Int("size", len(data)),
		slog.Uint64("sequence", seq))

	return nil
}

func (s *SealedBlob) header() []byte {
	return append(append([]byte(nil), sealedMagic...), sealedVersion)
}

func (s *SealedBlob) aad() []byte {
	return append(s.header(), []byte(s.name)...)
}

func (s *SealedBlob) seal(seq uint64, data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	plaintext := binary.LittleEndian.AppendUint64(make([]byte, 0, sequenceSize+len(data)), seq)
	plaintext = append(plaintext, data...)

	out := s.header()
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, s.aad()), nil
}

func (s *SealedBlob) open(sealed []byte) (uint64, []byte, error) {
	header := s.header()
	if len(sealed) < len(header)+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return 0, nil, fmt.Errorf("%w: blob too short", interfaces.ErrUnsealFailed)
	}
	if !bytes.Equal(sealed[:len(sealedMagic)], sealedMagic) {
		return 0, nil, fmt.Errorf("%w: bad magic", interfaces.ErrUnsealFailed)
	}
	if sealed[len(sealedMagic)] != sealedVersion {
		return 0, nil, fmt.Errorf("%w: unsupported version %d", interfaces.ErrUnsealFailed, sealed[len(sealedMagic)])
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := sealed[len(header) : len(header)+chacha20poly1305.NonceSizeX]
	ciphertext := sealed[len(header)+chacha20poly1305.NonceSizeX:]

	plaintext, err := aead.Open(nil, nonce, ciphertext, s.aad())
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", interfaces.ErrUnsealFailed, err)
	}
	if len(plaintext) < sequenceSize {
		return 0, nil, fmt.Errorf("%w: missing sequence number", interfaces.ErrUnsealFailed)
	}
	return binary.LittleEndian.Uint64(plaintext), plaintext[sequenceSize:], nil
}
