// Package rpcserver serves the JSON-RPC websocket endpoint peer signers connect to.
package rpcserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ruteri/tee-signer-fabric/common"
	"github.com/ruteri/tee-signer-fabric/cryptoutils"
	"github.com/ruteri/tee-signer-fabric/metrics"
	"github.com/ruteri/tee-signer-fabric/rpc"
)

// MethodHandler answers one request. Application failures are expressed as an
// Error status in the returned value.
type MethodHandler func(ctx context.Context, req *rpc.Request) rpc.ReturnValue

type Config struct {
	ListenAddr string
	// TLSConfig nil means a freshly generated self-signed certificate.
	TLSConfig *tls.Config
	Log       *slog.Logger

	// Name and Version answer system_name and system_version. They default to
	// the module name and build version.
	Name    string
	Version string
}

type Server struct {
	cfg Config
	log *slog.Logger

	handlersMu sync.RWMutex
	handlers   map[string]MethodHandler

	upgrader websocket.Upgrader
	srv      *http.Server

	connsMu sync.Mutex
	conns   map[*websocket.Conn]struct{}
	wg      sync.WaitGroup

	listenerMu sync.Mutex
	listener   net.Listener
}

func New(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		cfg.Name = common.PackageName
	}
	if cfg.Version == "" {
		cfg.Version = common.Version
	}
	tlsConfig := cfg.TLSConfig
	if tlsConfig == nil {
		cert, err := cryptoutils.RandomCert()
		if err != nil {
			return nil, fmt.Errorf("failed to generate endpoint certificate: %w", err)
		}
		tlsConfig = cryptoutils.ServerTLSConfig(cert)
	}

	s := &Server{
		cfg:      cfg,
		log:      cfg.Log,
		handlers: make(map[string]MethodHandler),
		upgrader: websocket.Upgrader{
			// peers are not browsers
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.Handle(rpc.MethodHealth, func(context.Context, *rpc.Request) rpc.ReturnValue {
		return rpc.OkValue(nil)
	})
	s.Handle(rpc.MethodSystemName, func(context.Context, *rpc.Request) rpc.ReturnValue {
		return rpc.OkValue([]byte(s.cfg.Name))
	})
	s.Handle(rpc.MethodSystemVersion, func(context.Context, *rpc.Request) rpc.ReturnValue {
		return rpc.OkValue([]byte(s.cfg.Version))
	})
	s.Handle(rpc.MethodRPCMethods, func(context.Context, *rpc.Request) rpc.ReturnValue {
		return rpc.OkValue([]byte("methods: [" + strings.Join(s.Methods(), ", ") + "]"))
	})
	return s, nil
}

// Methods lists the registered method names in sorted order.
func (s *Server) Methods() []string {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	slices.Sort(methods)
	return methods
}

// Handle registers h for method, replacing any previous handler.
func (s *Server) Handle(method string, h MethodHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[method] = h
}

func (s *Server) handler(method string) (MethodHandler, bool) {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	h, ok := s.handlers[method]
	return h, ok
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("Websocket upgrade failed", "err", err, slog.String("remote", r.RemoteAddr))
		return
	}

	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	s.connsMu.Unlock()

	go s.serveConn(conn, r.RemoteAddr)
}

func (s *Server) serveConn(conn *websocket.Conn, remote string) {
	defer s.wg.Done()
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
		conn.Close()
	}()

	log := s.log.With(slog.String("remote", remote))
	log.Debug("Peer connected")
	conn.SetReadLimit(16 << 20)

	for {
		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("Peer connection ended", "err", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			log.Warn("Ignoring non-text frame", slog.Int("type", msgType))
			continue
		}

		out, err := s.dispatch(frame)
		if err != nil {
			log.Error("Failed to encode response", "err", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
			log.Warn("Failed to write response", "err", err)
			return
		}
	}
}

func (s *Server) dispatch(frame []byte) ([]byte, error) {
	req, err := rpc.DecodeRequestFrame(frame)
	if err != nil {
		metrics.InboundRequests.WithLabelValues("", "malformed").Inc()
		return rpc.EncodeErrorFrame(rpc.ID{}, rpc.CodeParseError, err.Error())
	}

	h, ok := s.handler(req.Method)
	if !ok {
		metrics.InboundRequests.WithLabelValues("unknown", "error").Inc()
		return rpc.EncodeErrorFrame(req.ID, rpc.CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}

	rv := h(context.Background(), req)
	status := "ok"
	if rv.IsError() {
		status = "error"
	}
	metrics.InboundRequests.WithLabelValues(req.Method, status).Inc()
	return rpc.EncodeResponseFrame(req.ID, rv)
}

// Listen binds the listening socket, so Addr is known before serving starts.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.listenerMu.Lock()
	s.listener = ln
	s.listenerMu.Unlock()
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.listener == nil {
		return s.cfg.ListenAddr
	}
	return s.listener.Addr().String()
}

func (s *Server) RunInBackground() error {
	s.listenerMu.Lock()
	ln := s.listener
	s.listenerMu.Unlock()
	if ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
		s.listenerMu.Lock()
		ln = s.listener
		s.listenerMu.Unlock()
	}

	go func() {
		s.log.Info("Starting signer RPC endpoint", "listenAddress", ln.Addr().String())
		if err := s.srv.ServeTLS(ln, "", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Signer RPC endpoint failed", "err", err)
		}
	}()
	return nil
}

// Shutdown stops accepting peers and closes every open peer connection.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)

	s.connsMu.Lock()
	for conn := range s.conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return err
}
