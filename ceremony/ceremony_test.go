package ceremony

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ruteri/tee-signer-fabric/common"
	"github.com/ruteri/tee-signer-fabric/interfaces"
	"github.com/ruteri/tee-signer-fabric/peers"
	"github.com/ruteri/tee-signer-fabric/registry"
	"github.com/ruteri/tee-signer-fabric/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	self   = interfaces.SignerID{0x01}
	peerA  = interfaces.SignerID{0x02}
	peerB  = interfaces.SignerID{0x03}
	allIDs = []interfaces.SignerID{self, peerA, peerB}
)

type mockPeerSender struct {
	mock.Mock
}

func (m *mockPeerSender) Connect(ctx context.Context, id interfaces.SignerID, sink chan<- rpc.Response) error {
	return m.Called(ctx, id, sink).Error(0)
}

func (m *mockPeerSender) Send(id interfaces.SignerID, req *rpc.Request) error {
	return m.Called(id, req).Error(0)
}

func signerLookup(ids ...interfaces.SignerID) *registry.MockSignerRegistry {
	entries := make([]interfaces.SignerEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, interfaces.SignerEntry{ID: id})
	}
	reg := new(registry.MockSignerRegistry)
	reg.On("GetAll").Return(entries)
	return reg
}

// loopbackNetwork wires a real peers.Manager to in-process clients that echo payloads.
func loopbackNetwork(t *testing.T) (*Broadcaster, *Collector, *peers.LoopbackFactory) {
	t.Helper()
	log := common.DiscardLogger()

	enclaves := new(registry.MockEnclaveRegistry)
	for _, id := range allIDs {
		enclaves.On("GetWorkerURL", id).Return(fmt.Sprintf("wss://%s:2000", id.Short()), true)
	}

	factory := peers.NewLoopbackFactory()
	manager := peers.NewManager(enclaves, factory, log)
	t.Cleanup(func() { manager.Close() })

	sink := make(chan rpc.Response, 16)
	collector := NewCollector(sink, log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go collector.Run(ctx)

	b := NewBroadcaster(BroadcasterConfig{
		Self:      self,
		Signers:   signerLookup(allIDs...),
		Peers:     manager,
		Sink:      sink,
		Collector: collector,
		Log:       log,
	})
	return b, collector, factory
}

func TestParticipants(t *testing.T) {
	t.Run("empty registry", func(t *testing.T) {
		b := NewBroadcaster(BroadcasterConfig{Self: self, Signers: signerLookup(), Log: common.DiscardLogger()})
		_, err := b.Participants()
		assert.ErrorIs(t, err, interfaces.ErrEmptyRegistry)

		_, err = b.Broadcast(context.Background(), Message{Kind: NonceShare})
		assert.ErrorIs(t, err, interfaces.ErrEmptyRegistry)
	})

	t.Run("self is skipped", func(t *testing.T) {
		b := NewBroadcaster(BroadcasterConfig{Self: self, Signers: signerLookup(allIDs...), Log: common.DiscardLogger()})
		ids, err := b.Participants()
		require.NoError(t, err)
		assert.Equal(t, []interfaces.SignerID{peerA, peerB}, ids)
	})

	t.Run("only self registered", func(t *testing.T) {
		b := NewBroadcaster(BroadcasterConfig{Self: self, Signers: signerLookup(self), Log: common.DiscardLogger()})
		ids, err := b.Participants()
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestExchange(t *testing.T) {
	b, collector, factory := loopbackNetwork(t)

	msg := Message{Kind: PartialSignatureShare, Payload: []byte("share")}
	responses, d, err := b.Exchange(context.Background(), msg, 5*time.Second)
	require.NoError(t, err)
	assert.Empty(t, d.Failed)
	require.Len(t, responses, 2)

	for _, id := range []interfaces.SignerID{peerA, peerB} {
		decoded, err := DecodeMessage(responses[id].Value)
		require.NoError(t, err)
		assert.Equal(t, msg, decoded)
	}
	assert.Zero(t, collector.Pending())

	// second round reuses the cached connections
	_, _, err = b.Exchange(context.Background(), Message{Kind: KillCeremony}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, factory.Creates(fmt.Sprintf("wss://%s:2000", peerA.Short())))
}

func TestConnectAll(t *testing.T) {
	b, _, factory := loopbackNetwork(t)

	results, err := b.ConnectAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[interfaces.SignerID]error{peerA: nil, peerB: nil}, results)
	assert.Equal(t, 1, factory.Creates(fmt.Sprintf("wss://%s:2000", peerB.Short())))
	assert.Zero(t, factory.Creates(fmt.Sprintf("wss://%s:2000", self.Short())))

	empty := NewBroadcaster(BroadcasterConfig{Self: self, Signers: signerLookup(), Log: common.DiscardLogger()})
	_, err = empty.ConnectAll(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrEmptyRegistry)
}

func TestSendToRetriesClientErrors(t *testing.T) {
	sender := new(mockPeerSender)
	sender.On("Connect", mock.Anything, peerA, mock.Anything).Return(fmt.Errorf("%w: refused", peers.ErrClientError)).Twice()
	sender.On("Connect", mock.Anything, peerA, mock.Anything).Return(nil).Once()
	sender.On("Send", peerA, mock.Anything).Return(nil).Once()

	b := NewBroadcaster(BroadcasterConfig{
		Self:                 self,
		Peers:                sender,
		ConnectRetryInterval: time.Millisecond,
		Log:                  common.DiscardLogger(),
	})

	reqID, err := b.SendTo(context.Background(), peerA, Message{Kind: NonceShare})
	require.NoError(t, err)
	assert.Equal(t, rpc.NumberID(1), reqID)
	sender.AssertExpectations(t)
}

func TestSendToDoesNotRetryUnknownSigner(t *testing.T) {
	sender := new(mockPeerSender)
	sender.On("Connect", mock.Anything, peerA, mock.Anything).Return(fmt.Errorf("%w: %s", peers.ErrUnknownSigner, peerA))

	b := NewBroadcaster(BroadcasterConfig{Self: self, Peers: sender, ConnectRetryInterval: time.Millisecond, Log: common.DiscardLogger()})

	_, err := b.SendTo(context.Background(), peerA, Message{Kind: NonceShare})
	assert.ErrorIs(t, err, peers.ErrUnknownSigner)
	sender.AssertNumberOfCalls(t, "Connect", 1)
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestBroadcastReportsPerPeerFailures(t *testing.T) {
	sender := new(mockPeerSender)
	sender.On("Connect", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	sender.On("Send", peerA, mock.Anything).Return(nil)
	sender.On("Send", peerB, mock.Anything).Return(peers.ErrSendFailed)

	collector := NewCollector(make(chan rpc.Response), common.DiscardLogger())
	b := NewBroadcaster(BroadcasterConfig{
		Self:      self,
		Signers:   signerLookup(allIDs...),
		Peers:     sender,
		Collector: collector,
		Log:       common.DiscardLogger(),
	})

	d, err := b.Broadcast(context.Background(), Message{Kind: NonceShare})
	require.NoError(t, err)
	assert.Contains(t, d.Sent, peerA)
	assert.ErrorIs(t, d.Failed[peerB], peers.ErrSendFailed)
	assert.Zero(t, collector.Tracked())
}

func TestBroadcastWithoutAwaitKeepsNoSlots(t *testing.T) {
	b, collector, _ := loopbackNetwork(t)

	for i := 0; i < 100; i++ {
		d, err := b.Broadcast(context.Background(), Message{Kind: NonceShare, Payload: []byte{byte(i)}})
		require.NoError(t, err)
		require.Len(t, d.Sent, 2)
	}
	_, err := b.SendTo(context.Background(), peerA, Message{Kind: NonceShare})
	require.NoError(t, err)

	assert.Zero(t, collector.Pending())
	assert.Zero(t, collector.Tracked())

	// an exchange after fire-and-forget traffic still collects only its own answers
	responses, _, err := b.Exchange(context.Background(), Message{Kind: KillCeremony}, 5*time.Second)
	require.NoError(t, err)
	assert.Len(t, responses, 2)
	assert.Zero(t, collector.Tracked())
}

func TestCollectorSweepsExpiredSlots(t *testing.T) {
	ttl := time.Minute
	collector := NewCollector(make(chan rpc.Response), common.DiscardLogger(), WithSlotTTL(ttl))

	collector.Track(rpc.NumberID(1))
	collector.Track(rpc.NumberID(2))
	require.Equal(t, 2, collector.Tracked())

	collector.sweep(time.Now())
	assert.Equal(t, 2, collector.Tracked())

	collector.sweep(time.Now().Add(ttl + time.Second))
	assert.Zero(t, collector.Tracked())
	assert.Zero(t, collector.Pending())
}

func TestCollectorAwait(t *testing.T) {
	sink := make(chan rpc.Response, 4)
	collector := NewCollector(sink, common.DiscardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go collector.Run(ctx)

	id1, id2 := rpc.NumberID(1), rpc.StringID("two")
	collector.Track(id1)
	collector.Track(id2)

	sink <- rpc.Response{ID: rpc.NumberID(99), Value: rpc.OkValue(nil)}
	sink <- rpc.Response{ID: id1, Value: rpc.OkValue([]byte{1})}

	t.Run("deadline returns partial results", func(t *testing.T) {
		awaitCtx, awaitCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer awaitCancel()

		results, err := collector.Await(awaitCtx, []rpc.ID{id1, id2})
		assert.ErrorIs(t, err, ErrDeadline)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, map[rpc.ID]rpc.ReturnValue{id1: rpc.OkValue([]byte{1})}, results)
		assert.Zero(t, collector.Pending())
	})

	t.Run("response arriving while waiting", func(t *testing.T) {
		id3 := rpc.NumberID(3)
		collector.Track(id3)
		go func() {
			time.Sleep(20 * time.Millisecond)
			sink <- rpc.Response{ID: id3, Value: rpc.ErrorValue("boom")}
		}()

		results, err := collector.Await(context.Background(), []rpc.ID{id3, id3})
		require.NoError(t, err)
		assert.True(t, results[id3].IsError())
	})
}

func TestMessageEncoding(t *testing.T) {
	msg := Message{Kind: PartialSignatureShare, Payload: []byte{0xaa, 0xbb}}
	assert.Equal(t, []byte{0x01, 0x08, 0xaa, 0xbb}, msg.Encode())

	decoded, err := DecodeMessage(msg.Encode())
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)

	for _, bad := range [][]byte{nil, {0x07, 0x00}, {0x00, 0x08, 0xaa}, {0x00, 0x00, 0x00}} {
		_, err := DecodeMessage(bad)
		assert.ErrorIs(t, err, ErrInvalidMessage)
	}
}

func TestInbox(t *testing.T) {
	inbox := NewInbox(1, common.DiscardLogger())
	msg := Message{Kind: NonceShare, Payload: []byte{0x01}}

	rv := inbox.HandleSubmit(context.Background(), rpc.NewSubmitRequest(rpc.NumberID(1), msg.Encode()))
	assert.False(t, rv.IsError())

	rv = inbox.HandleSubmit(context.Background(), rpc.NewSubmitRequest(rpc.NumberID(2), msg.Encode()))
	assert.True(t, rv.IsError())
	assert.Equal(t, ErrInboxFull.Error(), string(rv.Value))

	rv = inbox.HandleSubmit(context.Background(), rpc.NewSubmitRequest(rpc.NumberID(3), []byte{0x09}))
	assert.True(t, rv.IsError())

	got := <-inbox.Messages()
	assert.Equal(t, rpc.NumberID(1), got.RequestID)
	assert.Equal(t, msg, got.Message)
}
