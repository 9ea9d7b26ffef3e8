// Command node-admin operates a signer node through its ops API.
//
// Commands:
//
//	status, signers, enclaves, relayers, peers   read-only views
//	unlock-status                                Shamir unlock progress
//	submit-event                                 apply registration events (admin signed)
//	generate-admin                               create an admin key pair
//	split-key, combine-key                       Shamir split and recovery of the sealing master key
//	submit-share                                 send this admin's share to a locked node
//
// The node's admin keys file lists every admin public key:
//
//	{"admins": [{"id": "admin1", "pubkey": "-----BEGIN PUBLIC KEY-----\n..."}]}
package main
