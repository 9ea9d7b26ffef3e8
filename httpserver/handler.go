package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/tee-signer-fabric/api"
	"github.com/ruteri/tee-signer-fabric/events"
	"github.com/ruteri/tee-signer-fabric/interfaces"
)

const maxEventsBody = 1 << 20

// PeerLister reports the peers the node holds a connection to.
type PeerLister interface {
	Connected() []interfaces.SignerID
}

// EventHandler applies parentchain events to the trust registries.
type EventHandler interface {
	HandleEvents(ctx context.Context, evs []events.Event) ([]common.Hash, error)
}

// Poisonable is implemented by registries that turn read-only after a panic.
type Poisonable interface {
	Poisoned() bool
}

// NodeConfig wires the running node into the ops API.
type NodeConfig struct {
	Self       interfaces.SignerID
	WorkerType interfaces.WorkerType
	Signers    interfaces.SignerRegistryLookup
	Enclaves   interfaces.EnclaveRegistryLookup
	Relayers   interfaces.RelayerRegistryLookup
	Scheduled  interfaces.ScheduledEnclaveRegistryLookup
	Peers      PeerLister
	Events     EventHandler
}

// Handler serves the node endpoints of the ops API.
type Handler struct {
	cfg NodeConfig
	log *slog.Logger
}

func NewHandler(cfg NodeConfig, log *slog.Logger) *Handler {
	return &Handler{cfg: cfg, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) HandleSigners(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.SignersResponse{Signers: h.cfg.Signers.GetAll()})
}

func (h *Handler) HandleEnclaves(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.EnclavesResponse{
		WorkerType: h.cfg.WorkerType,
		Enclaves:   h.cfg.Enclaves.GetAll(),
	})
}

func (h *Handler) HandleRelayers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.RelayersResponse{Relayers: h.cfg.Relayers.GetAll()})
}

func (h *Handler) HandleScheduledEnclaves(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.ScheduledEnclavesResponse{
		WorkerType: h.cfg.WorkerType,
		Scheduled:  h.cfg.Scheduled.GetAll(),
	})
}

func (h *Handler) HandlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.PeersResponse{Connected: h.cfg.Peers.Connected()})
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := api.NodeStatusResponse{
		Self:       h.cfg.Self,
		WorkerType: h.cfg.WorkerType,
		Signers:    len(h.cfg.Signers.GetAll()),
		Enclaves:   len(h.cfg.Enclaves.GetAll()),
		Relayers:   len(h.cfg.Relayers.GetAll()),
		Scheduled:  len(h.cfg.Scheduled.GetAll()),
		Peers:      len(h.cfg.Peers.Connected()),
	}
	for name, reg := range map[string]any{"signer": h.cfg.Signers, "enclave": h.cfg.Enclaves, "relayer": h.cfg.Relayers, "scheduled_enclave": h.cfg.Scheduled} {
		if p, ok := reg.(Poisonable); ok && p.Poisoned() {
			resp.Poisoned = append(resp.Poisoned, name)
		}
	}
	slices.Sort(resp.Poisoned)
	writeJSON(w, http.StatusOK, resp)
}

// HandleSubmitEvents applies a JSON array of events. Rejected events do not stop
// the batch; they are listed in the response, which is 422 when nothing applied.
func (h *Handler) HandleSubmitEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventsBody))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	evs, err := events.DecodeEvents(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	adminID, _ := AdminIDFromContext(r.Context())
	h.log.Info("Applying submitted events", "adminID", adminID, slog.Int("count", len(evs)))

	applied, err := h.cfg.Events.HandleEvents(r.Context(), evs)
	resp := api.SubmitEventsResponse{Applied: applied}
	if err != nil {
		resp.Errors = splitJoined(err)
	}

	status := http.StatusOK
	if len(applied) == 0 && len(evs) > 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

func splitJoined(err error) []string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		errs := joined.Unwrap()
		out := make([]string, 0, len(errs))
		for _, e := range errs {
			out = append(out, e.Error())
		}
		return out
	}
	return strings.Split(err.Error(), "\n")
}
