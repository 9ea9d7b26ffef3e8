package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ruteri/tee-signer-fabric/api"
	"github.com/ruteri/tee-signer-fabric/common"
	"github.com/ruteri/tee-signer-fabric/metrics"
	"go.uber.org/atomic"
)

type HTTPServerConfig struct {
	ListenAddr  string
	MetricsAddr string
	EnablePprof bool
	Log         *slog.Logger

	DrainDuration            time.Duration
	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
}

// Server is the ops HTTP surface of a signer node. Node endpoints answer 503 until
// SetNodeHandler is called, which happens once the registries are unsealed.
type Server struct {
	cfg     *HTTPServerConfig
	isReady atomic.Bool
	log     *slog.Logger

	srv        *http.Server
	metricsSrv *metrics.MetricsServer
	admin      *AdminHandler
	auth       *AdminAuth
	handler    atomic.Pointer[Handler]
}

func New(cfg *HTTPServerConfig, admin *AdminHandler, auth *AdminAuth) (srv *Server, err error) {
	metricsSrv, err := metrics.New(common.PackageName, cfg.MetricsAddr)
	if err != nil {
		return nil, err
	}

	srv = &Server{
		cfg:        cfg,
		log:        cfg.Log,
		metricsSrv: metricsSrv,
		admin:      admin,
		auth:       auth,
	}
	srv.isReady.Store(true)

	srv.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.getRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return srv, nil
}

// SetNodeHandler enables the node endpoints.
func (srv *Server) SetNodeHandler(h *Handler) {
	srv.handler.Store(h)
	srv.log.Info("Node API enabled")
}

func (srv *Server) getRouter() http.Handler {
	mux := chi.NewRouter()
	mux.Use(srv.httpLogger)

	mux.Get(api.NodeStatusPath, srv.node((*Handler).HandleStatus))
	mux.Get(api.SignersPath, srv.node((*Handler).HandleSigners))
	mux.Get(api.EnclavesPath, srv.node((*Handler).HandleEnclaves))
	mux.Get(api.RelayersPath, srv.node((*Handler).HandleRelayers))
	mux.Get(api.ScheduledPath, srv.node((*Handler).HandleScheduledEnclaves))
	mux.Get(api.PeersPath, srv.node((*Handler).HandlePeers))
	mux.With(srv.auth.RequireAdmin).Post(api.EventsPath, srv.node((*Handler).HandleSubmitEvents))

	if srv.admin != nil {
		mux.Mount("/api/admin", srv.admin.AdminRouter())
	}

	mux.Get("/livez", srv.handleLivenessCheck)
	mux.Get("/readyz", srv.handleReadinessCheck)
	mux.Get("/drain", srv.handleDrain)
	mux.Get("/undrain", srv.handleUndrain)

	if srv.cfg.EnablePprof {
		srv.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}
	return mux
}

func (srv *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(srv.log, next)
}

func (srv *Server) node(fn func(*Handler, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := srv.handler.Load()
		if h == nil {
			http.Error(w, "node is locked", http.StatusServiceUnavailable)
			return
		}
		fn(h, w, r)
	}
}

// Handler exposes the router, for tests and for embedding.
func (srv *Server) Handler() http.Handler {
	return srv.srv.Handler
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	writeJSON(w, code, map[string]string{"status": status})
}

func (srv *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, "alive")
}

// readyz fails while draining and while the registries are still sealed.
func (srv *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if srv.isReady.Load() && srv.handler.Load() != nil {
		writeStatus(w, http.StatusOK, "ready")
		return
	}
	writeStatus(w, http.StatusServiceUnavailable, "not ready")
}

func (srv *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if wasReady := srv.isReady.Swap(false); !wasReady {
		writeStatus(w, http.StatusOK, "already draining")
		return
	}
	srv.log.Info("Draining ops API", "duration", srv.cfg.DrainDuration)
	time.AfterFunc(srv.cfg.DrainDuration, func() {
		srv.log.Info("Drain period completed")
	})
	writeStatus(w, http.StatusOK, "draining")
}

func (srv *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if wasReady := srv.isReady.Swap(true); wasReady {
		writeStatus(w, http.StatusOK, "already ready")
		return
	}
	srv.log.Info("Ops API ready again")
	writeStatus(w, http.StatusOK, "ready")
}

// RunInBackground starts the ops API and, when configured, the metrics endpoint.
func (srv *Server) RunInBackground() {
	serve := func(name string, listen func() error) {
		go func() {
			if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srv.log.Error("Server failed", "server", name, "err", err)
			}
		}()
	}

	if srv.cfg.MetricsAddr != "" {
		srv.log.Info("Starting metrics server", "metricsAddress", srv.cfg.MetricsAddr)
		serve("metrics", srv.metricsSrv.ListenAndServe)
	}
	srv.log.Info("Starting HTTP server", "listenAddress", srv.cfg.ListenAddr)
	serve("api", srv.srv.ListenAndServe)
}

// Shutdown stops both servers, each bounded by GracefulShutdownDuration.
func (srv *Server) Shutdown() {
	stop := func(name string, shutdown func(context.Context) error) {
		ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			srv.log.Error("Graceful shutdown failed", "server", name, "err", err)
			return
		}
		srv.log.Info("Server gracefully stopped", "server", name)
	}

	stop("api", srv.srv.Shutdown)
	if srv.cfg.MetricsAddr != "" {
		stop("metrics", srv.metricsSrv.Shutdown)
	}
}
