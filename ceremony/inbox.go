package ceremony

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ruteri/tee-signer-fabric/rpc"
)

var ErrInboxFull = errors.New("ceremony inbox full")

// Inbound is a ceremony message received from a peer.
type Inbound struct {
	RequestID rpc.ID
	Message   Message
}

// Inbox buffers inbound ceremony messages for the signing engine.
type Inbox struct {
	ch  chan Inbound
	log *slog.Logger
}

func NewInbox(size int, log *slog.Logger) *Inbox {
	return &Inbox{ch: make(chan Inbound, size), log: log}
}

func (i *Inbox) Messages() <-chan Inbound {
	return i.ch
}

// HandleSubmit is the bitacross_submitRequest method handler. It never blocks: a
// full inbox is reported back to the sender as an error status.
func (i *Inbox) HandleSubmit(_ context.Context, req *rpc.Request) rpc.ReturnValue {
	payload, err := req.PayloadParam()
	if err != nil {
		return rpc.ErrorValue(err.Error())
	}
	msg, err := DecodeMessage(payload)
	if err != nil {
		return rpc.ErrorValue(err.Error())
	}

	select {
	case i.ch <- Inbound{RequestID: req.ID, Message: msg}:
		return rpc.OkValue(nil)
	default:
		i.log.Warn("Dropping ceremony message, inbox full", slog.String("kind", msg.Kind.String()))
		return rpc.ErrorValue(ErrInboxFull.Error())
	}
}
