// Package ceremony is the consumer side of the peer messaging layer: it resolves
// ceremony participants from the signer registry, fans messages out to them and
// correlates their responses.
//
// The signing state machine itself lives elsewhere. Payloads handed to this
// package are opaque; only the message kind is visible here.
package ceremony
