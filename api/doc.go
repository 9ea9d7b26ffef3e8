/*
Package api holds the wire types and paths of a signer node's ops API.

The ops API is served by package httpserver and consumed by the node-admin CLI
through package api/clients. It exposes:

  - read-only views of the trust registries, the scheduled enclaves and the
    connected peers
  - submission of parentchain registration events (admin signed)
  - Shamir unlock of the sealing master key (admin signed shares)

Admin requests carry AdminIDHeader, AdminTimestampHeader, AdminNonceHeader and
AdminSignatureHeader. The signature is an ASN.1 ECDSA signature over
AdminRequestDigest. The node rejects timestamps outside its window and nonces it
has already accepted, and caps the body it reads before verification.
*/
package api
