package httpserver

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ruteri/tee-signer-fabric/api"
	"github.com/ruteri/tee-signer-fabric/api/clients"
	"github.com/ruteri/tee-signer-fabric/common"
	"github.com/ruteri/tee-signer-fabric/events"
	"github.com/ruteri/tee-signer-fabric/interfaces"
	"github.com/ruteri/tee-signer-fabric/kms"
	"github.com/ruteri/tee-signer-fabric/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUnlockServer(t *testing.T, threshold int, admins ...string) (*AdminHandler, *httptest.Server, map[string]*clients.NodeClient, map[string]*ecdsa.PrivateKey) {
	t.Helper()
	log := common.DiscardLogger()

	pubs, privs := newAdminKeys(t, admins...)
	unlocker := kms.NewShamirUnlocker(threshold)
	for _, pub := range pubs {
		require.NoError(t, unlocker.RegisterAdmin(pub))
	}

	auth := NewAdminAuth(log, pubs)
	admin := NewAdminHandler(log, auth, unlocker)
	srv, err := New(&HTTPServerConfig{Log: log}, admin, auth)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	cs := make(map[string]*clients.NodeClient, len(admins))
	for _, id := range admins {
		cs[id] = clients.NewNodeClient(ts.URL, id, privs[id])
	}
	return admin, ts, cs, privs
}

func TestShamirUnlockFlow(t *testing.T) {
	ctx := context.Background()
	admin, _, cs, _ := newUnlockServer(t, 2, "admin1", "admin2", "admin3")

	masterKey, err := kms.GenerateMasterKey()
	require.NoError(t, err)
	shares, err := kms.SplitMasterKey(masterKey, 3, 2)
	require.NoError(t, err)

	status, err := cs["admin1"].AdminStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, api.AdminStatusResponse{State: api.UnlockStateLocked, Threshold: 2}, *status)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	unlocked := make(chan *kms.SealingKeys, 1)
	go func() {
		keys, err := admin.WaitForUnlock(waitCtx)
		assert.NoError(t, err)
		unlocked <- keys
	}()

	resp, err := cs["admin1"].SubmitShare(ctx, 0, shares[0])
	require.NoError(t, err)
	assert.Equal(t, api.UnlockStateLocked, resp.State)

	status, err = cs["admin3"].AdminStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.ReceivedShares)

	resp, err = cs["admin3"].SubmitShare(ctx, 2, shares[2])
	require.NoError(t, err)
	assert.Equal(t, api.UnlockStateUnlocked, resp.State)

	keys := <-unlocked
	require.NotNil(t, keys)
	expected, err := kms.NewSealingKeys(masterKey)
	require.NoError(t, err)
	for _, name := range registry.AllFiles {
		want, err := expected.KeyFor(name)
		require.NoError(t, err)
		got, err := keys.KeyFor(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}

	_, err = cs["admin2"].SubmitShare(ctx, 1, shares[1])
	var statusErr *clients.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusConflict, statusErr.Code)

	require.NoError(t, cs["admin2"].WaitForUnlock(ctx, 10*time.Millisecond))
}

func TestSubmitShareRejections(t *testing.T) {
	ctx := context.Background()
	_, ts, cs, privs := newUnlockServer(t, 2, "admin1", "admin2")

	shares, err := kms.SplitMasterKey(make([]byte, kms.MasterKeySize), 2, 2)
	require.NoError(t, err)

	t.Run("share signed by another admin", func(t *testing.T) {
		_, others := newAdminKeys(t, "other")
		signature, err := kms.SignShare(shares[0], others["other"])
		require.NoError(t, err)

		body, err := json.Marshal(api.AdminShareRequest{
			ShareIndex: 0,
			Share:      base64.StdEncoding.EncodeToString(shares[0]),
			Signature:  base64.StdEncoding.EncodeToString(signature),
		})
		require.NoError(t, err)

		req, err := clients.CreateSignedAdminRequest(http.MethodPost, ts.URL+api.AdminSharePath, body, "admin1", privs["admin1"])
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unsigned request", func(t *testing.T) {
		resp, err := http.Post(ts.URL+api.AdminSharePath, "application/json", strings.NewReader(`{}`))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("invalid share encoding", func(t *testing.T) {
		req, err := clients.CreateSignedAdminRequest(http.MethodPost, ts.URL+api.AdminSharePath,
			[]byte(`{"share_index":1,"share":"***","signature":""}`), "admin2", privs["admin2"])
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	status, err := cs["admin1"].AdminStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, api.UnlockStateLocked, status.State)
	assert.Zero(t, status.ReceivedShares)
}

func TestAdminStatusWithoutUnlocker(t *testing.T) {
	log := common.DiscardLogger()
	auth := NewAdminAuth(log, nil)
	admin := NewAdminHandler(log, auth, nil)

	srv, err := New(&HTTPServerConfig{Log: log}, admin, auth)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	status, err := clients.NewNodeClient(ts.URL, "", nil).AdminStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.UnlockStateUnlocked, status.State)

	_, err = admin.WaitForUnlock(context.Background())
	assert.Error(t, err)
}

func TestLoadAdminKeys(t *testing.T) {
	pubs, _ := newAdminKeys(t, "a")
	pemJSON, err := json.Marshal(string(pubs["a"]))
	require.NoError(t, err)

	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"valid", fmt.Sprintf(`{"admins":[{"id":"a","pubkey":%s}]}`, pemJSON), 1, false},
		{"empty", `{"admins":[]}`, 0, false},
		{"not json", `admins`, 0, true},
		{"missing id", fmt.Sprintf(`{"admins":[{"pubkey":%s}]}`, pemJSON), 0, true},
		{"duplicate id", fmt.Sprintf(`{"admins":[{"id":"a","pubkey":%s},{"id":"a","pubkey":%s}]}`, pemJSON, pemJSON), 0, true},
		{"bad pem", `{"admins":[{"id":"a","pubkey":"nope"}]}`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys, err := LoadAdminKeys(strings.NewReader(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, keys, tt.want)
		})
	}
}

// signedEventsRequest signs a POST of evs and returns the raw body and headers so
// the request can be sent again.
func signedEventsRequest(t *testing.T, n *testNode, at time.Time, evs ...events.Event) ([]byte, http.Header) {
	t.Helper()
	body, err := json.Marshal(evs)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, n.http.URL+api.EventsPath, bytes.NewReader(body))
	require.NoError(t, err)
	require.NoError(t, clients.SignAdminRequestAt(req, "admin1", n.adminKey, at))
	return body, req.Header.Clone()
}

func send(t *testing.T, n *testNode, body []byte, header http.Header) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, n.http.URL+api.EventsPath, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header = header.Clone()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestAdminRequestReplayIsRejected(t *testing.T) {
	n := newTestNode(t, true)
	enclave := interfaces.Address32{0xbb}

	addBody, addHeader := signedEventsRequest(t, n, time.Now(),
		events.NewEnclaveAdded(enclave, interfaces.WorkerTypeBitAcross, []byte("wss://enclave:2000")))
	require.Equal(t, http.StatusOK, send(t, n, addBody, addHeader))
	require.True(t, n.enclaves.ContainsKey(enclave))

	removeBody, removeHeader := signedEventsRequest(t, n, time.Now(),
		events.NewEnclaveRemoved(enclave, interfaces.WorkerTypeBitAcross))
	require.Equal(t, http.StatusOK, send(t, n, removeBody, removeHeader))
	require.False(t, n.enclaves.ContainsKey(enclave))

	assert.Equal(t, http.StatusUnauthorized, send(t, n, addBody, addHeader))
	assert.False(t, n.enclaves.ContainsKey(enclave))
}

func TestAdminRequestFreshness(t *testing.T) {
	n := newTestNode(t, true)
	relayer := interfaces.Address32{0xcc}

	tests := []struct {
		name     string
		at       time.Time
		mutate   func(h http.Header)
		expected int
	}{
		{name: "signed too long ago", at: time.Now().Add(-DefaultAdminRequestWindow - time.Minute), expected: http.StatusUnauthorized},
		{name: "signed in the future", at: time.Now().Add(DefaultAdminRequestWindow + time.Minute), expected: http.StatusUnauthorized},
		{name: "missing timestamp", at: time.Now(), mutate: func(h http.Header) { h.Del(api.AdminTimestampHeader) }, expected: http.StatusUnauthorized},
		{name: "missing nonce", at: time.Now(), mutate: func(h http.Header) { h.Del(api.AdminNonceHeader) }, expected: http.StatusUnauthorized},
		{name: "nonce not covered by the signature", at: time.Now(), mutate: func(h http.Header) { h.Set(api.AdminNonceHeader, "another") }, expected: http.StatusUnauthorized},
		{name: "timestamp not covered by the signature", at: time.Now(), mutate: func(h http.Header) { h.Set(api.AdminTimestampHeader, "1") }, expected: http.StatusUnauthorized},
		{name: "fresh request", at: time.Now(), expected: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, header := signedEventsRequest(t, n, tt.at, events.NewRelayerAdded(relayer))
			if tt.mutate != nil {
				tt.mutate(header)
			}
			assert.Equal(t, tt.expected, send(t, n, body, header))
		})
	}
	assert.True(t, n.relayers.ContainsKey(relayer))
}

func TestAdminNonceExpiresWithWindow(t *testing.T) {
	auth := NewAdminAuth(common.DiscardLogger(), nil, WithAdminRequestWindow(time.Minute))
	now := time.Unix(1_700_000_000, 0)

	assert.True(t, auth.remember("admin1/a", now.Add(time.Minute), now))
	assert.False(t, auth.remember("admin1/a", now.Add(time.Minute), now.Add(30*time.Second)))
	assert.True(t, auth.remember("admin2/a", now.Add(time.Minute), now))

	later := now.Add(2 * time.Minute)
	assert.True(t, auth.remember("admin1/b", later.Add(time.Minute), later))
	assert.Len(t, auth.seen, 1)
}

func TestAdminBodyLimit(t *testing.T) {
	n := newTestNode(t, true)

	body := append([]byte(`[{"kind":"relayer_added","id":"`), bytes.Repeat([]byte("0"), DefaultMaxAdminBody)...)
	body = append(body, `"}]`...)
	req, err := clients.CreateSignedAdminRequest(http.MethodPost, n.http.URL+api.EventsPath, body, "admin1", n.adminKey)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Empty(t, n.relayers.GetAll())
}
