// Package peers keeps at most one live connection per peer signer and routes
// ceremony requests over it.
package peers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/ruteri/tee-signer-fabric/interfaces"
	"github.com/ruteri/tee-signer-fabric/metrics"
	"github.com/ruteri/tee-signer-fabric/rpc"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrUnknownSigner is returned by Connect when the enclave registry has no
	// worker URL for the identity.
	ErrUnknownSigner = errors.New("unknown signer")

	// ErrClientError wraps a failure of the transport factory to open a connection.
	ErrClientError = errors.New("client error")

	// ErrNotConnected is returned by Send when no connection is cached for the identity.
	ErrNotConnected = errors.New("not connected")

	// ErrSendFailed is returned by Send when the cached connection rejected the request.
	ErrSendFailed = errors.New("send failed")

	errRemovedWhileConnecting = errors.New("signer removed while connecting")
)

type Option func(*Manager)

// WithEvictOnSendFailure removes and closes a connection whose Send failed, so the
// next Connect dials again.
func WithEvictOnSendFailure() Option {
	return func(m *Manager) {
		m.evictOnSendFailure = true
	}
}

// Manager caches one interfaces.RPCClient per signer identity.
type Manager struct {
	registry interfaces.EnclaveRegistryLookup
	factory  interfaces.RPCClientFactory
	log      *slog.Logger

	evictOnSendFailure bool

	mu      sync.RWMutex
	clients map[interfaces.SignerID]interfaces.RPCClient
	// generation is bumped by Remove so a dial that raced with it is discarded.
	generation map[interfaces.SignerID]uint64

	dials singleflight.Group
}

func NewManager(registry interfaces.EnclaveRegistryLookup, factory interfaces.RPCClientFactory, log *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		registry:   registry,
		factory:    factory,
		log:        log,
		clients:    make(map[interfaces.SignerID]interfaces.RPCClient),
		generation: make(map[interfaces.SignerID]uint64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect makes sure a connection to id is cached. Concurrent calls for the same
// identity share a single dial.
func (m *Manager) Connect(ctx context.Context, id interfaces.SignerID, sink chan<- rpc.Response) error {
	if m.IsConnected(id) {
		return nil
	}

	_, err, _ := m.dials.Do(id.String(), func() (interface{}, error) {
		return nil, m.dial(ctx, id, sink)
	})
	metrics.PeerConnects.WithLabelValues(connectResult(err)).Inc()
	return err
}

func connectResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnknownSigner):
		return "unknown_signer"
	default:
		return "client_error"
	}
}

func (m *Manager) dial(ctx context.Context, id interfaces.SignerID, sink chan<- rpc.Response) error {
	m.mu.RLock()
	_, cached := m.clients[id]
	gen := m.generation[id]
	m.mu.RUnlock()
	if cached {
		return nil
	}

	url, ok := m.registry.GetWorkerURL(id)
	if !ok {
		m.log.Warn("No worker URL registered for signer", slog.String("signer", id.String()))
		return fmt.Errorf("%w: %s", ErrUnknownSigner, id)
	}

	client, err := m.factory.Create(ctx, url, sink)
	if err != nil {
		m.log.Error("Failed to connect to signer", "err", err,
			slog.String("signer", id.String()),
			slog.String("url", url))
		return fmt.Errorf("%w: %w", ErrClientError, err)
	}

	m.mu.Lock()
	if m.generation[id] != gen {
		m.mu.Unlock()
		m.log.Debug("Signer removed while connecting, discarding connection", slog.String("signer", id.String()))
		_ = client.Close()
		return fmt.Errorf("%w: %w", ErrClientError, errRemovedWhileConnecting)
	}
	m.clients[id] = client
	m.mu.Unlock()

	m.log.Info("Connected to signer", slog.String("signer", id.String()), slog.String("url", url))
	return nil
}

// Remove drops and closes the cached connection to id, if any.
func (m *Manager) Remove(id interfaces.SignerID) {
	m.mu.Lock()
	client, ok := m.clients[id]
	delete(m.clients, id)
	m.generation[id]++
	m.mu.Unlock()

	if !ok {
		return
	}
	if err := client.Close(); err != nil {
		m.log.Warn("Error closing signer connection", "err", err, slog.String("signer", id.String()))
	}
	m.log.Info("Removed signer connection", slog.String("signer", id.String()))
}

// Send hands req to the cached connection of id without waiting for delivery.
func (m *Manager) Send(id interfaces.SignerID, req *rpc.Request) error {
	m.mu.RLock()
	client, ok := m.clients[id]
	m.mu.RUnlock()
	if !ok {
		metrics.PeerSends.WithLabelValues("not_connected").Inc()
		return ErrNotConnected
	}

	if err := client.Send(req); err != nil {
		m.log.Error("Failed to send request to signer", "err", err,
			slog.String("signer", id.String()),
			slog.String("method", req.Method))
		metrics.PeerSends.WithLabelValues("error").Inc()
		if m.evictOnSendFailure {
			m.evict(id, client)
		}
		return ErrSendFailed
	}

	metrics.PeerSends.WithLabelValues("ok").Inc()
	return nil
}

// evict removes client only if it is still the cached connection of id.
func (m *Manager) evict(id interfaces.SignerID, client interfaces.RPCClient) {
	m.mu.Lock()
	if m.clients[id] != client {
		m.mu.Unlock()
		return
	}
	delete(m.clients, id)
	m.generation[id]++
	m.mu.Unlock()

	_ = client.Close()
	m.log.Info("Evicted signer connection after failed send", slog.String("signer", id.String()))
}

// Broadcast sends req to every identity in ids and reports the per-identity error,
// nil on success.
func (m *Manager) Broadcast(ids []interfaces.SignerID, req *rpc.Request) map[interfaces.SignerID]error {
	results := make(map[interfaces.SignerID]error, len(ids))
	for _, id := range ids {
		results[id] = m.Send(id, req)
	}
	return results
}

func (m *Manager) IsConnected(id interfaces.SignerID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.clients[id]
	return ok
}

// Connected lists the identities with a cached connection, ordered by identity.
func (m *Manager) Connected() []interfaces.SignerID {
	m.mu.RLock()
	ids := make([]interfaces.SignerID, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	slices.SortFunc(ids, func(a, b interfaces.SignerID) int { return a.Compare(b) })
	return ids
}

// Close closes every cached connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[interfaces.SignerID]interfaces.RPCClient)
	for id := range clients {
		m.generation[id]++
	}
	m.mu.Unlock()

	var errs []error
	for id, client := range clients {
		if err := client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
