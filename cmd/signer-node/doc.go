// Command signer-node runs one signer of the network.
//
// Startup order:
//
//  1. open registry storage (--storage, repeatable) and optionally purge it (--clean-reset)
//  2. obtain the sealing master key from --master-key, --master-passphrase, or
//     --shamir-threshold admin shares submitted through the ops API
//  3. unseal and load the signer, enclave and relayer registries in parallel
//  4. start the peer connection manager, the ceremony broadcaster and collector
//  5. serve peer requests on --rpc-listen-addr and enable the node endpoints of
//     the ops API on --listen-addr
//
// Example, unlocking with two of three admin shares:
//
//	signer-node --self 0x01...01 --storage file:///data/registries \
//	    --shamir-threshold 2 --admin-keys-file admins.json
//	node-admin submit-share --admin-id admin1 --admin-privkey-file admin1.pem --share-file share-0.json
//	node-admin submit-share --admin-id admin2 --admin-privkey-file admin2.pem --share-file share-1.json
package main
