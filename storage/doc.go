// Package storage provides the blob stores that hold sealed registries.
//
// Every backend implements interfaces.StorageBackend: opaque blobs stored under
// a fixed name, replaced atomically, with ErrContentNotFound for absent names.
//
//   - FileBackend: one file per blob under a base directory, written through a
//     temporary file and rename, mode 0600
//   - S3Backend: objects under an optional key prefix (aws-sdk-go)
//   - VaultBackend: KV v2 secrets (hashicorp/vault/api)
//   - IPFSBackend: files in the mutable file system of an IPFS node
//   - MemoryBackend: process memory, for tests and ephemeral nodes
//   - MultiStorageBackend: writes to every replica, reads from the first that
//     has the blob
//
// # Storage URI Format
//
//	file:///var/lib/signer-node/registries
//	s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix/?region=us-west-2&endpoint=minio:9000
//	vault://[TOKEN@]vault.example.com:8200/secret/signer-node?tls=false
//	ipfs://127.0.0.1:5001/registries?timeout=30s
//	memory://name
//
// # Sealing
//
// SealedBlob binds one blob name to a backend and a 32-byte key. It encrypts
// with XChaCha20-Poly1305 and authenticates the blob name as associated data,
// so a blob copied under another name fails to open with ErrUnsealFailed.
// SealedBlob satisfies registry.Storage.
package storage
