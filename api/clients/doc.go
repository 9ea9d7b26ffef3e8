/*
Package clients is the Go client of a signer node's ops API.

NodeClient covers the read-only registry and peer views, event submission and
the Shamir unlock flow. Admin calls are signed with the admin's ECDSA key via
CreateSignedAdminRequest; the node verifies them against its admin whitelist.

	key, _ := clients.ParsePrivateKey(pemBytes)
	c := clients.NewNodeClient("http://127.0.0.1:8080", "admin-1", key)
	applied, err := c.SubmitEvents(ctx, []events.Event{events.NewRelayerAdded(id)})
*/
package clients
