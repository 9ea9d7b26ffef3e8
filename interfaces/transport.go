package interfaces

import (
	"context"

	"github.com/ruteri/tee-signer-fabric/rpc"
)

// RPCClient is a live connection to one peer signer. Responses to sent requests are
// delivered asynchronously to the sink the client was created with.
type RPCClient interface {
	// Send enqueues req for transmission and returns without waiting for the wire.
	Send(req *rpc.Request) error

	// Close tears the connection down. Calling Close more than once is allowed.
	Close() error
}

// RPCClientFactory opens connections to peer signers.
type RPCClientFactory interface {
	// Create dials url and returns a client forwarding every decoded response to
	// sink. Dial and handshake failures are the only errors reported here.
	Create(ctx context.Context, url string, sink chan<- rpc.Response) (RPCClient, error)
}
