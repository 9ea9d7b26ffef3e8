// Package transport implements the persistent websocket connection a signer node
// keeps to each peer it talks to.
//
// A DirectClient owns one socket and two goroutines. The writer drains an
// unbounded FIFO mailbox and writes every request as a text frame; the reader
// decodes response frames and forwards them to the response sink supplied at
// creation time. Send only enqueues, so a slow peer never blocks the caller.
//
// Peers are dialed over TLS without certificate verification. Signer endpoints
// present self-signed certificates and a peer URL is only ever taken from the
// enclave registry, which holds attested enclaves. Deployments that front their
// signers with a real PKI can pass their own Config.TLSConfig.
package transport
