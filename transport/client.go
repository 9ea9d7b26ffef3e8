package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ruteri/tee-signer-fabric/cryptoutils"
	"github.com/ruteri/tee-signer-fabric/interfaces"
	"github.com/ruteri/tee-signer-fabric/metrics"
	"github.com/ruteri/tee-signer-fabric/rpc"
)

var (
	// ErrConnectionClosed is returned by Send once the client was closed.
	ErrConnectionClosed = errors.New("connection closed")

	ErrInvalidURL = errors.New("invalid peer url")
)

const (
	// MaxFrameSize bounds a single inbound frame.
	MaxFrameSize = 16 << 20

	defaultHandshakeTimeout = 10 * time.Second
	closeWriteTimeout       = time.Second
)

type Config struct {
	// TLSConfig is used for wss:// peers. Nil means cryptoutils.InsecurePeerTLSConfig.
	TLSConfig        *tls.Config
	HandshakeTimeout time.Duration
	Log              *slog.Logger
}

// DirectClientFactory dials peer signers over websocket.
type DirectClientFactory struct {
	dialer *websocket.Dialer
	log    *slog.Logger
}

var _ interfaces.RPCClientFactory = (*DirectClientFactory)(nil)

func NewDirectClientFactory(cfg Config) *DirectClientFactory {
	tlsConfig := cfg.TLSConfig
	if tlsConfig == nil {
		tlsConfig = cryptoutils.InsecurePeerTLSConfig()
	}
	timeout := cfg.HandshakeTimeout
	if timeout == 0 {
		timeout = defaultHandshakeTimeout
	}

	return &DirectClientFactory{
		dialer: &websocket.Dialer{
			TLSClientConfig:  tlsConfig,
			HandshakeTimeout: timeout,
		},
		log: cfg.Log,
	}
}

// Create dials rawURL and starts the reader and writer goroutines. A failure to
// resolve, connect or complete the handshake is the only error reported.
func (f *DirectClientFactory) Create(ctx context.Context, rawURL string, sink chan<- rpc.Response) (interfaces.RPCClient, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	conn, resp, err := f.dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", u.Redacted(), err)
	}

	f.log.Debug("Connected to peer", slog.String("url", u.Redacted()))
	return newDirectClient(conn, u.Redacted(), sink, f.log), nil
}

// DirectClient is one live websocket connection to a peer.
type DirectClient struct {
	conn *websocket.Conn
	url  string
	sink chan<- rpc.Response
	log  *slog.Logger

	outbox    *mailbox[*rpc.Request]
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ interfaces.RPCClient = (*DirectClient)(nil)

func newDirectClient(conn *websocket.Conn, peerURL string, sink chan<- rpc.Response, log *slog.Logger) *DirectClient {
	conn.SetReadLimit(MaxFrameSize)

	c := &DirectClient{
		conn:   conn,
		url:    peerURL,
		sink:   sink,
		log:    log.With(slog.String("peer_url", peerURL)),
		outbox: newMailbox[*rpc.Request](),
		done:   make(chan struct{}),
	}
	metrics.TransportConnections.Inc()

	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()
	return c
}

// Send enqueues req. Requests are written in the order they were sent.
func (c *DirectClient) Send(req *rpc.Request) error {
	if req == nil {
		return errors.New("nil request")
	}
	if !c.outbox.push(req) {
		return ErrConnectionClosed
	}
	return nil
}

// Close stops both goroutines and closes the socket. Requests still queued are
// dropped.
func (c *DirectClient) Close() error {
	c.shutdown()
	c.wg.Wait()
	return nil
}

// shutdown is safe to call from the reader goroutine.
func (c *DirectClient) shutdown() {
	c.closeOnce.Do(func() {
		if dropped := c.outbox.close(); len(dropped) > 0 {
			c.log.Debug("Dropping queued requests on close", slog.Int("count", len(dropped)))
		}
		close(c.done)

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		_ = c.conn.Close()
		metrics.TransportConnections.Dec()
	})
}

func (c *DirectClient) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case <-c.outbox.ready:
		}

		for _, req := range c.outbox.drain() {
			select {
			case <-c.done:
				return
			default:
			}

			frame, err := req.Marshal()
			if err != nil {
				c.log.Error("Failed to encode request", "err", err, slog.String("id", req.ID.String()))
				metrics.TransportFrames.WithLabelValues("sent", "error").Inc()
				continue
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Error("Failed to write request", "err", err, slog.String("id", req.ID.String()))
				metrics.TransportFrames.WithLabelValues("sent", "error").Inc()
				continue
			}
			metrics.TransportFrames.WithLabelValues("sent", "ok").Inc()
		}
	}
}

func (c *DirectClient) readLoop() {
	defer c.wg.Done()

	for {
		msgType, frame, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Warn("Peer connection lost", "err", err)
				c.shutdown()
			}
			return
		}

		if msgType != websocket.TextMessage {
			c.log.Warn("Ignoring non-text frame", slog.Int("type", msgType))
			metrics.TransportFrames.WithLabelValues("received", "ignored").Inc()
			continue
		}

		resp, err := rpc.DecodeResponseFrame(frame)
		if errors.Is(err, rpc.ErrRemote) {
			// the peer rejected the request itself; the awaiting caller gets an Error status
			c.log.Debug("Peer answered with a json-rpc error", "err", err, slog.String("id", resp.ID.String()))
			resp.Value = rpc.ErrorValue(err.Error())
			err = nil
		}
		if err != nil {
			c.log.Warn("Ignoring undecodable frame", "err", err, slog.Int("size", len(frame)))
			metrics.TransportFrames.WithLabelValues("received", "malformed").Inc()
			continue
		}
		metrics.TransportFrames.WithLabelValues("received", "ok").Inc()

		select {
		case c.sink <- resp:
		case <-c.done:
			return
		}
	}
}
