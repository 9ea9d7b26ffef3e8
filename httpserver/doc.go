/*
Package httpserver serves the ops API of a signer node.

The server starts before the registries are unsealed. While the sealing master
key is locked only the health endpoints and the admin router answer; node
endpoints return 503 until SetNodeHandler is called.

# Endpoints

	GET  /livez /readyz /drain /undrain   health and load balancer draining
	GET  /api/status                      node summary
	GET  /api/registries/{signers,enclaves,relayers,scheduled-enclaves}
	GET  /api/peers                       connected peer identities
	POST /api/events                      apply parentchain events (admin signed)
	GET  /api/admin/status                locked or unlocked, share progress
	POST /api/admin/share                 submit a Shamir share (admin signed)

Admin requests are authenticated by AdminAuth: the X-Admin-ID header names a
whitelisted admin and X-Admin-Signature carries an ECDSA signature over
api.AdminRequestDigest of the method, path, X-Admin-Timestamp, X-Admin-Nonce and
body. Requests outside the timestamp window or reusing a nonce are rejected, and
the body read before verification is capped.

Metrics are served separately on the metrics address.
*/
package httpserver
