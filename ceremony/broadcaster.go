package ceremony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ruteri/tee-signer-fabric/interfaces"
	"github.com/ruteri/tee-signer-fabric/peers"
	"github.com/ruteri/tee-signer-fabric/rpc"
	"go.uber.org/atomic"
)

// PeerSender is the part of peers.Manager the broadcaster needs.
type PeerSender interface {
	Connect(ctx context.Context, id interfaces.SignerID, sink chan<- rpc.Response) error
	Send(id interfaces.SignerID, req *rpc.Request) error
}

type BroadcasterConfig struct {
	// Self is skipped when resolving participants.
	Self    interfaces.SignerID
	Signers interfaces.SignerRegistryLookup
	Peers   PeerSender
	// Sink receives every response; Collector, when set, must read from it.
	Sink      chan<- rpc.Response
	Collector *Collector

	// ConnectRetries bounds reconnect attempts after a client error. Zero means 3.
	ConnectRetries       uint64
	ConnectRetryInterval time.Duration
	Log                  *slog.Logger
}

// Dispatch records the outcome of one fan-out.
type Dispatch struct {
	Sent   map[interfaces.SignerID]rpc.ID
	Failed map[interfaces.SignerID]error
}

func (d *Dispatch) IDs() []rpc.ID {
	ids := make([]rpc.ID, 0, len(d.Sent))
	for _, id := range d.Sent {
		ids = append(ids, id)
	}
	return ids
}

type Broadcaster struct {
	cfg    BroadcasterConfig
	nextID atomic.Uint64
	log    *slog.Logger
}

func NewBroadcaster(cfg BroadcasterConfig) *Broadcaster {
	if cfg.ConnectRetries == 0 {
		cfg.ConnectRetries = 3
	}
	if cfg.ConnectRetryInterval == 0 {
		cfg.ConnectRetryInterval = 200 * time.Millisecond
	}
	return &Broadcaster{cfg: cfg, log: cfg.Log}
}

// NextID allocates a request id unique within this process.
func (b *Broadcaster) NextID() rpc.ID {
	return rpc.NumberID(b.nextID.Inc())
}

// Participants lists the registered signers other than self.
func (b *Broadcaster) Participants() ([]interfaces.SignerID, error) {
	entries := b.cfg.Signers.GetAll()
	if len(entries) == 0 {
		return nil, interfaces.ErrEmptyRegistry
	}

	ids := make([]interfaces.SignerID, 0, len(entries))
	for _, e := range entries {
		if e.ID == b.cfg.Self {
			continue
		}
		ids = append(ids, e.ID)
	}
	return ids, nil
}

func (b *Broadcaster) connect(ctx context.Context, id interfaces.SignerID) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.cfg.ConnectRetryInterval

	op := func() error {
		err := b.cfg.Peers.Connect(ctx, id, b.cfg.Sink)
		if err != nil && !errors.Is(err, peers.ErrClientError) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		b.log.Warn("Connect to signer failed, retrying", "err", err,
			slog.String("signer", id.String()),
			slog.Duration("wait", wait))
	}

	return backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(policy, b.cfg.ConnectRetries), ctx), notify)
}

// ConnectAll opens a connection to every participant, so that the first ceremony
// round does not pay for the handshakes. The result holds one entry per participant.
func (b *Broadcaster) ConnectAll(ctx context.Context) (map[interfaces.SignerID]error, error) {
	participants, err := b.Participants()
	if err != nil {
		return nil, err
	}

	results := make(map[interfaces.SignerID]error, len(participants))
	for _, id := range participants {
		results[id] = b.connect(ctx, id)
	}
	return results, nil
}

// SendTo connects to id if needed and sends msg, returning the request id used.
// The response is not collected; use Exchange to wait for answers.
func (b *Broadcaster) SendTo(ctx context.Context, id interfaces.SignerID, msg Message) (rpc.ID, error) {
	return b.send(ctx, id, msg, false)
}

// send tracks the request id in the collector only when the caller awaits it.
func (b *Broadcaster) send(ctx context.Context, id interfaces.SignerID, msg Message, track bool) (rpc.ID, error) {
	if err := b.connect(ctx, id); err != nil {
		return rpc.ID{}, err
	}

	reqID := b.NextID()
	track = track && b.cfg.Collector != nil
	if track {
		b.cfg.Collector.Track(reqID)
	}

	if err := b.cfg.Peers.Send(id, rpc.NewSubmitRequest(reqID, msg.Encode())); err != nil {
		if track {
			b.cfg.Collector.Forget(reqID)
		}
		return rpc.ID{}, err
	}
	return reqID, nil
}

// Broadcast sends msg to every participant without collecting responses. Per-peer
// failures are reported in the Dispatch; only an empty signer registry fails the
// call as a whole.
func (b *Broadcaster) Broadcast(ctx context.Context, msg Message) (*Dispatch, error) {
	return b.broadcast(ctx, msg, false)
}

func (b *Broadcaster) broadcast(ctx context.Context, msg Message, track bool) (*Dispatch, error) {
	participants, err := b.Participants()
	if err != nil {
		return nil, err
	}

	d := &Dispatch{
		Sent:   make(map[interfaces.SignerID]rpc.ID, len(participants)),
		Failed: make(map[interfaces.SignerID]error),
	}
	for _, id := range participants {
		reqID, err := b.send(ctx, id, msg, track)
		if err != nil {
			b.log.Error("Failed to send ceremony message", "err", err,
				slog.String("signer", id.String()),
				slog.String("kind", msg.Kind.String()))
			d.Failed[id] = err
			continue
		}
		d.Sent[id] = reqID
	}

	b.log.Debug("Broadcast ceremony message",
		slog.String("kind", msg.Kind.String()),
		slog.Int("sent", len(d.Sent)),
		slog.Int("failed", len(d.Failed)))
	return d, nil
}

// Exchange broadcasts msg and waits up to timeout for the responses. Responses are
// keyed by the signer that produced them.
func (b *Broadcaster) Exchange(ctx context.Context, msg Message, timeout time.Duration) (map[interfaces.SignerID]rpc.ReturnValue, *Dispatch, error) {
	if b.cfg.Collector == nil {
		return nil, nil, errors.New("exchange requires a collector")
	}

	d, err := b.broadcast(ctx, msg, true)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	byID, err := b.cfg.Collector.Await(ctx, d.IDs())

	responses := make(map[interfaces.SignerID]rpc.ReturnValue, len(byID))
	for signer, reqID := range d.Sent {
		if rv, ok := byID[reqID]; ok {
			responses[signer] = rv
		}
	}
	if err != nil {
		return responses, d, fmt.Errorf("exchange %s: %w", msg.Kind, err)
	}
	return responses, d, nil
}
