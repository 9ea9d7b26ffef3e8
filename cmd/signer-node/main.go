package main

import (
	"log"
	"os"

	"github.com/ruteri/tee-signer-fabric/cmd/flags"
	"github.com/urfave/cli/v2"
)

var nodeFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     "self",
		Required: true,
		Usage:    "32-byte signer identity of this node, hex encoded",
	},
	&cli.StringFlag{
		Name:  "worker-type",
		Value: "bitacross",
		Usage: "worker type whose enclave registrations this node tracks: identity, bitacross or omni-executor",
	},
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for the ops API",
	},
	&cli.StringFlag{
		Name:  "rpc-listen-addr",
		Value: "0.0.0.0:2000",
		Usage: "address to listen on for peer websocket requests",
	},
	&cli.StringFlag{
		Name:  "rpc-tls-cert",
		Usage: "PEM certificate of the peer endpoint; a self-signed certificate is generated when empty",
	},
	&cli.StringFlag{
		Name:  "rpc-tls-key",
		Usage: "PEM private key matching --rpc-tls-cert",
	},
	&cli.StringSliceFlag{
		Name:  "storage",
		Value: cli.NewStringSlice("file:///var/lib/signer-node/registries"),
		Usage: "storage location URI of the sealed registries; repeat to replicate (file://, s3://, vault://, ipfs://, memory://)",
	},
	&cli.BoolFlag{
		Name:  "clean-reset",
		Usage: "delete the sealed registries before starting",
	},
	&cli.StringFlag{
		Name:    "master-key",
		EnvVars: []string{"SIGNER_MASTER_KEY"},
		Usage:   "hex encoded sealing master key",
	},
	&cli.StringFlag{
		Name:    "master-passphrase",
		EnvVars: []string{"SIGNER_MASTER_PASSPHRASE"},
		Usage:   "derive the sealing master key from this passphrase, salted with the node identity",
	},
	&cli.IntFlag{
		Name:  "shamir-threshold",
		Usage: "wait for this many admin-submitted shares of the sealing master key",
	},
	&cli.StringFlag{
		Name:  "admin-keys-file",
		Usage: "JSON file with admin public keys; required for event submission and Shamir unlock",
	},
	&cli.DurationFlag{
		Name:  "unlock-timeout",
		Value: 0,
		Usage: "give up waiting for Shamir unlock after this long; 0 waits forever",
	},
	&cli.DurationFlag{
		Name:  "handshake-timeout",
		Value: 0,
		Usage: "websocket handshake timeout when dialing peers; 0 uses the transport default",
	},
	&cli.BoolFlag{
		Name:  "evict-on-send-failure",
		Usage: "drop a cached peer connection when a send on it fails",
	},
	&cli.IntFlag{
		Name:  "inbox-size",
		Value: 1024,
		Usage: "number of inbound ceremony messages buffered before peers are told the inbox is full",
	},
	&cli.DurationFlag{
		Name:  "peer-warmup-interval",
		Value: 0,
		Usage: "periodically connect to every registered signer; 0 disables",
	},
	flags.LogServiceFlagFn("signer-node"),
}

func main() {
	app := &cli.App{
		Name:   "signer-node",
		Usage:  "Run a signer node: sealed trust registries, peer messaging and the ops API",
		Flags:  append(nodeFlags, flags.CommonFlags...),
		Action: runNode,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
