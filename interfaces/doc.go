// Package interfaces defines the types and capability interfaces shared by the
// packages of a signer node, separating definitions from implementations.
//
// # Identities
//
// Address32 is the 32-byte identity that keys every trust registry. SignerID is
// the same type used for ceremony participants. PubKey is a compressed secp256k1
// key and WorkerType tags enclave registrations.
//
// # Registries
//
// Each registry is split into an Updater (Init, Update, Remove) and a Lookup
// (ContainsKey, GetAll, and a per-registry getter) so that consumers depend on
// the narrowest capability they need. Registry I/O and decode failures are
// reported as *RegistryError; mutations of a poisoned registry fail with
// ErrPoisonLock.
//
// # Storage
//
// StorageBackend stores opaque blobs under fixed names. Locations are URIs
// (file://, s3://, ipfs://, vault://, memory://) parsed by
// NewStorageBackendLocation and materialized by a StorageBackendFactory.
//
// # Transport
//
// RPCClientFactory dials a peer URL and binds the connection to a response
// sink; RPCClient sends framed requests over it.
package interfaces
