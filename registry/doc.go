// Package registry implements the sealed trust registries of a signer node.
//
// Four registries exist per process, each owned by the composition root:
//
//   - SignerRegistry maps a signer identity to its compressed secp256k1 public key
//   - RelayerRegistry records which relayer identities are authorized
//   - EnclaveRegistry maps an enclave identity to the URL of its worker endpoint,
//     restricted to a single worker type
//   - ScheduledEnclaveRegistry maps a sidechain block number to the MrEnclave
//     expected from that block on, with the same worker type restriction
//
// Every mutation re-encodes the whole map and hands it to a Storage capability,
// normally a storage.SealedBlob, before the new map becomes visible to readers.
// Readers always observe either the old or the new map, never a partial one.
//
// The persisted form is the SCALE encoding of a BTreeMap keyed by the 32-byte
// identity, or by the little-endian u64 block number for scheduled enclaves:
//
//	compact(len) || (key || value)*   sorted ascending by key
//
// A panic raised while a registry's write guard is held poisons that registry.
// Lookups keep serving the last complete map; every later mutation fails with
// interfaces.ErrPoisonLock.
package registry
