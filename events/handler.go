package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/tee-signer-fabric/interfaces"
	"github.com/ruteri/tee-signer-fabric/metrics"
)

var (
	ErrInvalidURL       = errors.New("invalid enclave url")
	ErrInvalidMrEnclave = errors.New("invalid mrenclave")
)

// Handler routes events to the registry each one updates.
type Handler struct {
	signers  interfaces.SignerRegistryUpdater
	relayers interfaces.RelayerRegistryUpdater
	enclaves interfaces.EnclaveRegistryUpdater
	schedule interfaces.ScheduledEnclaveRegistryUpdater
	log      *slog.Logger

	onEnclaveRemoved func(id interfaces.Address32, workerType interfaces.WorkerType)
}

func NewHandler(signers interfaces.SignerRegistryUpdater, relayers interfaces.RelayerRegistryUpdater, enclaves interfaces.EnclaveRegistryUpdater, schedule interfaces.ScheduledEnclaveRegistryUpdater, log *slog.Logger) *Handler {
	return &Handler{
		signers:  signers,
		relayers: relayers,
		enclaves: enclaves,
		schedule: schedule,
		log:      log,
	}
}

// OnEnclaveRemoved registers fn to run after an EnclaveRemoved event was applied,
// typically to drop the cached peer connection.
func (h *Handler) OnEnclaveRemoved(fn func(id interfaces.Address32, workerType interfaces.WorkerType)) {
	h.onEnclaveRemoved = fn
}

// HandleEvents applies events in order. A failing event is logged and skipped; the
// returned hashes cover the events that were applied and the error joins every
// failure.
func (h *Handler) HandleEvents(ctx context.Context, evs []Event) ([]common.Hash, error) {
	handled := make([]common.Hash, 0, len(evs))
	var errs []error

	for _, ev := range evs {
		err := h.HandleEvent(ctx, ev)
		metrics.EventsProcessed.WithLabelValues(ev.Kind.String(), metrics.Result(err)).Inc()
		if err != nil {
			h.log.Error("Failed to handle parentchain event", "err", err,
				slog.String("kind", ev.Kind.String()),
				slog.String("id", ev.ID.String()))
			errs = append(errs, fmt.Errorf("%s %s: %w", ev.Kind, ev.ID, err))
			continue
		}
		handled = append(handled, ev.Hash())
	}

	return handled, errors.Join(errs...)
}

func (h *Handler) HandleEvent(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case RelayerAdded:
		h.log.Info("Adding relayer to registry", slog.String("id", ev.ID.String()))
		return h.relayers.Update(ctx, ev.ID)

	case RelayerRemoved:
		h.log.Info("Removing relayer from registry", slog.String("id", ev.ID.String()))
		return h.relayers.Remove(ctx, ev.ID)

	case EnclaveAdded:
		h.log.Info("Adding enclave to registry",
			slog.String("id", ev.ID.String()),
			slog.String("worker_type", ev.WorkerType.String()))
		if !utf8.Valid(ev.URL) {
			return ErrInvalidURL
		}
		return h.enclaves.Update(ctx, ev.ID, ev.WorkerType, string(ev.URL))

	case EnclaveRemoved:
		h.log.Info("Removing enclave from registry",
			slog.String("id", ev.ID.String()),
			slog.String("worker_type", ev.WorkerType.String()))
		if err := h.enclaves.Remove(ctx, ev.ID, ev.WorkerType); err != nil {
			return err
		}
		if h.onEnclaveRemoved != nil {
			h.onEnclaveRemoved(ev.ID, ev.WorkerType)
		}
		return nil

	case BtcWalletGenerated:
		h.log.Info("Saving signer to registry", slog.String("id", ev.ID.String()))
		pubKey, err := interfaces.NewPubKeyFromBytes(ev.PubKey)
		if err != nil {
			return err
		}
		return h.signers.Update(ctx, ev.ID, pubKey)

	case ScheduledEnclaveSet:
		h.log.Info("Setting scheduled enclave",
			slog.Uint64("sidechain_block_number", ev.SidechainBlockNumber),
			slog.String("worker_type", ev.WorkerType.String()))
		mrenclave, err := interfaces.NewMrEnclaveFromBytes(ev.MrEnclave)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMrEnclave, err)
		}
		return h.schedule.Update(ctx, ev.WorkerType, ev.SidechainBlockNumber, mrenclave)

	case ScheduledEnclaveRemoved:
		h.log.Info("Removing scheduled enclave",
			slog.Uint64("sidechain_block_number", ev.SidechainBlockNumber),
			slog.String("worker_type", ev.WorkerType.String()))
		return h.schedule.Remove(ctx, ev.WorkerType, ev.SidechainBlockNumber)

	default:
		return fmt.Errorf("%w: %d", ErrUnknownKind, uint8(ev.Kind))
	}
}
