package httpserver

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/tee-signer-fabric/api"
	"github.com/ruteri/tee-signer-fabric/api/clients"
	"github.com/ruteri/tee-signer-fabric/common"
	"github.com/ruteri/tee-signer-fabric/events"
	"github.com/ruteri/tee-signer-fabric/interfaces"
	"github.com/ruteri/tee-signer-fabric/registry"
	"github.com/ruteri/tee-signer-fabric/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPeers []interfaces.SignerID

func (p staticPeers) Connected() []interfaces.SignerID { return p }

type testNode struct {
	server   *Server
	http     *httptest.Server
	signers  *registry.SignerRegistry
	enclaves *registry.EnclaveRegistry
	relayers *registry.RelayerRegistry
	schedule *registry.ScheduledEnclaveRegistry
	adminKey *ecdsa.PrivateKey
}

func newAdminKeys(t *testing.T, ids ...string) (map[string][]byte, map[string]*ecdsa.PrivateKey) {
	t.Helper()
	pubs := make(map[string][]byte, len(ids))
	privs := make(map[string]*ecdsa.PrivateKey, len(ids))
	for _, id := range ids {
		privPEM, pubPEM, err := clients.GenerateAdminKeyPair()
		require.NoError(t, err)
		priv, err := clients.ParsePrivateKey([]byte(privPEM))
		require.NoError(t, err)
		pubs[id] = []byte(pubPEM)
		privs[id] = priv
	}
	return pubs, privs
}

func sealed(t *testing.T, backend interfaces.StorageBackend, name string) *storage.SealedBlob {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	blob, err := storage.NewSealedBlob(backend, name, key, common.DiscardLogger())
	require.NoError(t, err)
	return blob
}

// newTestNode starts an unlocked node with empty registries.
func newTestNode(t *testing.T, unlocked bool) *testNode {
	t.Helper()
	log := common.DiscardLogger()
	ctx := context.Background()

	backend := storage.NewMemoryBackend("test", log)
	n := &testNode{
		signers:  registry.NewSignerRegistry(sealed(t, backend, registry.SignerRegistryFile), log),
		enclaves: registry.NewEnclaveRegistry(sealed(t, backend, registry.EnclaveRegistryFile), interfaces.WorkerTypeBitAcross, log),
		relayers: registry.NewRelayerRegistry(sealed(t, backend, registry.RelayerRegistryFile), log),
		schedule: registry.NewScheduledEnclaveRegistry(sealed(t, backend, registry.ScheduledEnclaveRegistryFile), interfaces.WorkerTypeBitAcross, log),
	}
	require.NoError(t, n.signers.Init(ctx))
	require.NoError(t, n.enclaves.Init(ctx))
	require.NoError(t, n.relayers.Init(ctx))
	require.NoError(t, n.schedule.Init(ctx))

	pubs, privs := newAdminKeys(t, "admin1")
	n.adminKey = privs["admin1"]
	auth := NewAdminAuth(log, pubs)

	srv, err := New(&HTTPServerConfig{Log: log, GracefulShutdownDuration: time.Second}, NewAdminHandler(log, auth, nil), auth)
	require.NoError(t, err)
	n.server = srv

	if unlocked {
		srv.SetNodeHandler(NewHandler(NodeConfig{
			Self:       interfaces.SignerID{0x01},
			WorkerType: interfaces.WorkerTypeBitAcross,
			Signers:    n.signers,
			Enclaves:   n.enclaves,
			Relayers:   n.relayers,
			Scheduled:  n.schedule,
			Peers:      staticPeers{{0x02}},
			Events:     events.NewHandler(n.signers, n.relayers, n.enclaves, n.schedule, log),
		}, log))
	}

	n.http = httptest.NewServer(srv.Handler())
	t.Cleanup(n.http.Close)
	return n
}

func TestHealthEndpoints(t *testing.T) {
	n := newTestNode(t, true)

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/livez", http.StatusOK, `{"status":"alive"}`},
		{"/readyz", http.StatusOK, `{"status":"ready"}`},
		{"/drain", http.StatusOK, `{"status":"draining"}`},
		{"/drain", http.StatusOK, `{"status":"already draining"}`},
		{"/readyz", http.StatusServiceUnavailable, `{"status":"not ready"}`},
		{"/undrain", http.StatusOK, `{"status":"ready"}`},
		{"/undrain", http.StatusOK, `{"status":"already ready"}`},
		{"/readyz", http.StatusOK, `{"status":"ready"}`},
	}

	for _, tt := range tests {
		resp, err := http.Get(n.http.URL + tt.path)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, tt.status, resp.StatusCode, tt.path)
		assert.JSONEq(t, tt.body, string(body), tt.path)
	}
}

func TestNodeEndpointsWhileLocked(t *testing.T) {
	n := newTestNode(t, false)
	client := clients.NewNodeClient(n.http.URL, "admin1", n.adminKey)

	_, err := client.Signers(context.Background())
	var statusErr *clients.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)

	resp, err := http.Get(n.http.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSubmitEventsAndList(t *testing.T) {
	n := newTestNode(t, true)
	ctx := context.Background()
	client := clients.NewNodeClient(n.http.URL, "admin1", n.adminKey)

	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	pubKey := ethcrypto.CompressPubkey(&key.PublicKey)

	signer := interfaces.Address32{0xaa}
	enclave := interfaces.Address32{0xbb}
	relayer := interfaces.Address32{0xcc}

	evs := []events.Event{
		events.NewBtcWalletGenerated(signer, pubKey),
		events.NewEnclaveAdded(enclave, interfaces.WorkerTypeBitAcross, []byte("wss://enclave:2000")),
		events.NewEnclaveAdded(interfaces.Address32{0xdd}, interfaces.WorkerTypeBitAcross, []byte{0xff, 0xfe}),
		events.NewRelayerAdded(relayer),
		events.NewScheduledEnclaveSet(interfaces.WorkerTypeBitAcross, 64, interfaces.MrEnclave{0xee}),
		events.NewScheduledEnclaveSet(interfaces.WorkerTypeIdentity, 65, interfaces.MrEnclave{0xef}),
	}

	resp, err := client.SubmitEvents(ctx, evs)
	require.NoError(t, err)
	assert.Equal(t, []ethcommon.Hash{evs[0].Hash(), evs[1].Hash(), evs[3].Hash(), evs[4].Hash(), evs[5].Hash()}, resp.Applied)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0], "invalid enclave url")

	signers, err := client.Signers(ctx)
	require.NoError(t, err)
	require.Len(t, signers.Signers, 1)
	assert.Equal(t, signer, signers.Signers[0].ID)
	assert.Equal(t, pubKey, signers.Signers[0].PubKey[:])

	enclaves, err := client.Enclaves(ctx)
	require.NoError(t, err)
	assert.Equal(t, interfaces.WorkerTypeBitAcross, enclaves.WorkerType)
	assert.Equal(t, []interfaces.EnclaveEntry{{ID: enclave, URL: "wss://enclave:2000"}}, enclaves.Enclaves)

	relayers, err := client.Relayers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.Address32{relayer}, relayers.Relayers)

	scheduled, err := client.ScheduledEnclaves(ctx)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.ScheduledEnclaveEntry{{SidechainBlockNumber: 64, MrEnclave: interfaces.MrEnclave{0xee}}}, scheduled.Scheduled)

	peers, err := client.Peers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.SignerID{{0x02}}, peers.Connected)

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, api.NodeStatusResponse{
		Self:       interfaces.SignerID{0x01},
		WorkerType: interfaces.WorkerTypeBitAcross,
		Signers:    1,
		Enclaves:   1,
		Relayers:   1,
		Scheduled:  1,
		Peers:      1,
	}, *status)
}

func TestSubmitEventsRejections(t *testing.T) {
	n := newTestNode(t, true)
	ctx := context.Background()

	t.Run("every event rejected", func(t *testing.T) {
		client := clients.NewNodeClient(n.http.URL, "admin1", n.adminKey)
		_, err := client.SubmitEvents(ctx, []events.Event{events.NewBtcWalletGenerated(interfaces.Address32{1}, []byte{1, 2, 3})})
		var statusErr *clients.StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusUnprocessableEntity, statusErr.Code)
		assert.Empty(t, n.signers.GetAll())
	})

	t.Run("unknown admin", func(t *testing.T) {
		_, privs := newAdminKeys(t, "mallory")
		client := clients.NewNodeClient(n.http.URL, "mallory", privs["mallory"])
		_, err := client.SubmitEvents(ctx, []events.Event{events.NewRelayerAdded(interfaces.Address32{1})})
		var statusErr *clients.StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
		assert.Empty(t, n.relayers.GetAll())
	})

	t.Run("known admin id with a foreign key", func(t *testing.T) {
		_, privs := newAdminKeys(t, "other")
		client := clients.NewNodeClient(n.http.URL, "admin1", privs["other"])
		_, err := client.SubmitEvents(ctx, []events.Event{events.NewRelayerAdded(interfaces.Address32{1})})
		var statusErr *clients.StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
	})

	t.Run("no admin key", func(t *testing.T) {
		client := clients.NewNodeClient(n.http.URL, "", nil)
		_, err := client.SubmitEvents(ctx, nil)
		assert.True(t, errors.Is(err, clients.ErrNoAdminKey))
	})

	t.Run("event without kind", func(t *testing.T) {
		body := []byte(`[{"id":"0x0101010101010101010101010101010101010101010101010101010101010101"}]`)
		req, err := clients.CreateSignedAdminRequest(http.MethodPost, n.http.URL+api.EventsPath, body, "admin1", n.adminKey)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, string(respBody), events.ErrMissingKind.Error())
		assert.Empty(t, n.relayers.GetAll())
	})

	t.Run("malformed body", func(t *testing.T) {
		req, err := clients.CreateSignedAdminRequest(http.MethodPost, n.http.URL+api.EventsPath, []byte(`{"kind":`), "admin1", n.adminKey)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
