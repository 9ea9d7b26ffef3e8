// Package cryptoutils provides the TLS material used on the signer-to-signer links.
//
// Signer nodes serve their inbound JSON-RPC endpoint with a throwaway self-signed
// certificate and dial peers without verifying the presented certificate. Peer
// authenticity is established by the enclave registry, which only ever contains
// attested enclaves, and not by a web PKI chain.
//
// # Key Functions
//
// RandomCert - Generates a self-signed ECDSA P-256 certificate
//
// ServerTLSConfig - Wraps a certificate into a server-side tls.Config
//
// InsecurePeerTLSConfig - Client-side tls.Config that skips chain verification
//
// VerifyCertificate - Checks that a PEM certificate matches a PEM private key
package cryptoutils
