package peers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ruteri/tee-signer-fabric/common"
	"github.com/ruteri/tee-signer-fabric/interfaces"
	"github.com/ruteri/tee-signer-fabric/registry"
	"github.com/ruteri/tee-signer-fabric/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const enclave1URL = "wss://localhost:2000"

var (
	enclave1 = interfaces.SignerID{}
	enclave2 = interfaces.SignerID{0x02}
)

func newEnclaveLookup() *registry.MockEnclaveRegistry {
	reg := new(registry.MockEnclaveRegistry)
	reg.On("GetWorkerURL", enclave1).Return(enclave1URL, true)
	reg.On("GetWorkerURL", mock.Anything).Return("", false)
	return reg
}

func testRequest() *rpc.Request {
	return rpc.NewSubmitRequest(rpc.NumberID(1), []byte{0xde, 0xad})
}

func TestConnect(t *testing.T) {
	tests := []struct {
		name        string
		id          interfaces.SignerID
		factoryErr  error
		expectedErr error
		connected   bool
		creates     int
	}{
		{name: "registered signer", id: enclave1, connected: true, creates: 1},
		{name: "unknown signer", id: enclave2, expectedErr: ErrUnknownSigner, creates: 0},
		{name: "factory failure", id: enclave1, factoryErr: errors.New("dial refused"), expectedErr: ErrClientError, creates: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := make(chan rpc.Response, 1)
			factory := new(MockRPCClientFactory)
			client := new(MockRPCClient)
			if tt.factoryErr != nil {
				factory.On("Create", mock.Anything, enclave1URL, mock.Anything).Return(nil, tt.factoryErr)
			} else {
				factory.On("Create", mock.Anything, enclave1URL, mock.Anything).Return(client, nil)
			}

			m := NewManager(newEnclaveLookup(), factory, common.DiscardLogger())
			err := m.Connect(context.Background(), tt.id, sink)

			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
			} else {
				assert.NoError(t, err)
			}
			if tt.factoryErr != nil {
				assert.ErrorIs(t, err, tt.factoryErr)
			}
			assert.Equal(t, tt.connected, m.IsConnected(tt.id))
			factory.AssertNumberOfCalls(t, "Create", tt.creates)
		})
	}
}

func TestConnectReusesCachedConnection(t *testing.T) {
	factory := new(MockRPCClientFactory)
	factory.On("Create", mock.Anything, enclave1URL, mock.Anything).Return(new(MockRPCClient), nil)

	m := NewManager(newEnclaveLookup(), factory, common.DiscardLogger())
	sink := make(chan rpc.Response)

	require.NoError(t, m.Connect(context.Background(), enclave1, sink))
	require.NoError(t, m.Connect(context.Background(), enclave1, sink))

	factory.AssertNumberOfCalls(t, "Create", 1)
	assert.Equal(t, []interfaces.SignerID{enclave1}, m.Connected())
}

func TestConcurrentConnectsShareOneDial(t *testing.T) {
	release := make(chan struct{})
	factory := new(MockRPCClientFactory)
	factory.On("Create", mock.Anything, enclave1URL, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(new(MockRPCClient), nil)

	m := NewManager(newEnclaveLookup(), factory, common.DiscardLogger())
	sink := make(chan rpc.Response)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Connect(context.Background(), enclave1, sink))
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	factory.AssertNumberOfCalls(t, "Create", 1)
	assert.True(t, m.IsConnected(enclave1))
}

func TestSend(t *testing.T) {
	t.Run("before connect", func(t *testing.T) {
		m := NewManager(newEnclaveLookup(), new(MockRPCClientFactory), common.DiscardLogger())
		assert.ErrorIs(t, m.Send(enclave1, testRequest()), ErrNotConnected)
	})

	t.Run("after connect", func(t *testing.T) {
		req := testRequest()
		client := new(MockRPCClient)
		client.On("Send", req).Return(nil)
		factory := new(MockRPCClientFactory)
		factory.On("Create", mock.Anything, enclave1URL, mock.Anything).Return(client, nil)

		m := NewManager(newEnclaveLookup(), factory, common.DiscardLogger())
		require.NoError(t, m.Connect(context.Background(), enclave1, make(chan rpc.Response)))
		require.NoError(t, m.Send(enclave1, req))
		client.AssertExpectations(t)
	})

	t.Run("after remove", func(t *testing.T) {
		client := new(MockRPCClient)
		client.On("Close").Return(nil)
		factory := new(MockRPCClientFactory)
		factory.On("Create", mock.Anything, enclave1URL, mock.Anything).Return(client, nil)

		m := NewManager(newEnclaveLookup(), factory, common.DiscardLogger())
		require.NoError(t, m.Connect(context.Background(), enclave1, make(chan rpc.Response)))
		m.Remove(enclave1)
		m.Remove(enclave1)

		assert.ErrorIs(t, m.Send(enclave1, testRequest()), ErrNotConnected)
		client.AssertNumberOfCalls(t, "Close", 1)
	})
}

func TestSendFailure(t *testing.T) {
	tests := []struct {
		name          string
		opts          []Option
		stayConnected bool
	}{
		{name: "connection kept by default", stayConnected: true},
		{name: "connection evicted when enabled", opts: []Option{WithEvictOnSendFailure()}, stayConnected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(MockRPCClient)
			client.On("Send", mock.Anything).Return(errors.New("connection closed"))
			client.On("Close").Return(nil)
			factory := new(MockRPCClientFactory)
			factory.On("Create", mock.Anything, enclave1URL, mock.Anything).Return(client, nil)

			m := NewManager(newEnclaveLookup(), factory, common.DiscardLogger(), tt.opts...)
			require.NoError(t, m.Connect(context.Background(), enclave1, make(chan rpc.Response)))

			err := m.Send(enclave1, testRequest())
			assert.ErrorIs(t, err, ErrSendFailed)
			assert.Equal(t, tt.stayConnected, m.IsConnected(enclave1))
		})
	}
}

func TestRemoveDuringConnectDiscardsConnection(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	client := new(MockRPCClient)
	client.On("Close").Return(nil)
	factory := new(MockRPCClientFactory)
	factory.On("Create", mock.Anything, enclave1URL, mock.Anything).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(client, nil)

	m := NewManager(newEnclaveLookup(), factory, common.DiscardLogger())

	errCh := make(chan error, 1)
	go func() {
		errCh <- m.Connect(context.Background(), enclave1, make(chan rpc.Response))
	}()

	<-entered
	m.Remove(enclave1)
	close(release)

	assert.ErrorIs(t, <-errCh, ErrClientError)
	assert.False(t, m.IsConnected(enclave1))
	client.AssertNumberOfCalls(t, "Close", 1)
}

func TestBroadcastAndClose(t *testing.T) {
	reg := new(registry.MockEnclaveRegistry)
	reg.On("GetWorkerURL", enclave1).Return(enclave1URL, true)
	reg.On("GetWorkerURL", enclave2).Return("wss://localhost:2001", true)

	factory := NewLoopbackFactory()
	m := NewManager(reg, factory, common.DiscardLogger())
	sink := make(chan rpc.Response, 4)

	require.NoError(t, m.Connect(context.Background(), enclave1, sink))
	require.NoError(t, m.Connect(context.Background(), enclave2, sink))
	assert.Equal(t, []interfaces.SignerID{enclave1, enclave2}, m.Connected())

	results := m.Broadcast([]interfaces.SignerID{enclave1, enclave2, {0x03}}, testRequest())
	assert.NoError(t, results[enclave1])
	assert.NoError(t, results[enclave2])
	assert.ErrorIs(t, results[interfaces.SignerID{0x03}], ErrNotConnected)

	for i := 0; i < 2; i++ {
		select {
		case resp := <-sink:
			assert.Equal(t, []byte{0xde, 0xad}, resp.Value.Value)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for loopback response")
		}
	}

	require.NoError(t, m.Close())
	assert.Empty(t, m.Connected())
	assert.Equal(t, 1, factory.Creates(enclave1URL))
}
