// Package kms manages the master key that protects the sealed registry blobs.
//
// Every registry blob is sealed with its own 32-byte key, derived from a single
// master key with HKDF-SHA256 and the blob name as context. The master key
// itself is never persisted by the node. It is supplied at startup in one of
// three ways:
//
//   - directly, as hex
//   - derived from an operator passphrase with Argon2id
//   - reconstructed from Shamir shares submitted by registered administrators
//
// # Shamir Secret Sharing
//
// SplitMasterKey splits a master key into n shares of which any t recover it.
// A ShamirUnlocker starts locked and verifies that every submitted share is
// signed by a registered administrator key (ECDSA or Ed25519). Once the
// threshold is reached the master key is rebuilt, the shares are wiped and
// the Unlocked channel is closed.
package kms
