package main

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ruteri/tee-signer-fabric/api/clients"
	"github.com/ruteri/tee-signer-fabric/events"
	"github.com/ruteri/tee-signer-fabric/interfaces"
	"github.com/ruteri/tee-signer-fabric/kms"
	"github.com/urfave/cli/v2"
)

var flagNodeURL = &cli.StringFlag{
	Name:  "node-url",
	Value: "http://127.0.0.1:8080",
	Usage: "base URL of the signer node ops API",
}
var flagAdminID = &cli.StringFlag{
	Name:  "admin-id",
	Usage: "admin identifier as listed in the node's admin keys file",
}
var flagAdminPrivkey = &cli.StringFlag{
	Name:  "admin-privkey-file",
	Value: "admin-private.pem",
	Usage: "path to the admin ECDSA private key",
}
var flagAdminPubkey = &cli.StringFlag{
	Name:  "admin-pubkey-file",
	Value: "admin-public.pem",
	Usage: "path to the admin public key",
}
var flagTimeout = &cli.DurationFlag{
	Name:  "timeout",
	Value: 30 * time.Second,
	Usage: "request timeout",
}

type shareFile struct {
	Index int    `json:"index"`
	Share string `json:"share"` // base64 encoded
}

func readOnlyClient(cCtx *cli.Context) *clients.NodeClient {
	return clients.NewNodeClient(cCtx.String(flagNodeURL.Name), "", nil, cCtx.Duration(flagTimeout.Name))
}

func adminClient(cCtx *cli.Context) (*clients.NodeClient, error) {
	adminID := cCtx.String(flagAdminID.Name)
	if adminID == "" {
		return nil, errors.New("--admin-id is required")
	}
	keyPEM, err := os.ReadFile(cCtx.String(flagAdminPrivkey.Name))
	if err != nil {
		return nil, err
	}
	key, err := clients.ParsePrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}
	return clients.NewNodeClient(cCtx.String(flagNodeURL.Name), adminID, key, cCtx.Duration(flagTimeout.Name)), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func listCommand(name, usage string, fetch func(context.Context, *clients.NodeClient) (any, error)) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: []cli.Flag{flagNodeURL, flagTimeout},
		Action: func(cCtx *cli.Context) error {
			resp, err := fetch(cCtx.Context, readOnlyClient(cCtx))
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

// eventFromFlags builds a single event from the submit-event flags.
func eventFromFlags(cCtx *cli.Context) (events.Event, error) {
	kind, err := events.ParseKind(cCtx.String("kind"))
	if err != nil {
		return events.Event{}, err
	}
	workerType, err := interfaces.ParseWorkerType(cCtx.String("worker-type"))
	if err != nil {
		return events.Event{}, err
	}

	switch kind {
	case events.ScheduledEnclaveSet:
		mrenclave, err := interfaces.NewMrEnclaveFromHex(cCtx.String("mrenclave"))
		if err != nil {
			return events.Event{}, fmt.Errorf("invalid --mrenclave: %w", err)
		}
		return events.NewScheduledEnclaveSet(workerType, cCtx.Uint64("sidechain-block-number"), mrenclave), nil
	case events.ScheduledEnclaveRemoved:
		return events.NewScheduledEnclaveRemoved(workerType, cCtx.Uint64("sidechain-block-number")), nil
	}

	id, err := interfaces.NewAddress32FromHex(cCtx.String("id"))
	if err != nil {
		return events.Event{}, fmt.Errorf("invalid --id: %w", err)
	}

	switch kind {
	case events.RelayerAdded:
		return events.NewRelayerAdded(id), nil
	case events.RelayerRemoved:
		return events.NewRelayerRemoved(id), nil
	case events.EnclaveAdded:
		if cCtx.String("url") == "" {
			return events.Event{}, errors.New("--url is required for enclave_added")
		}
		return events.NewEnclaveAdded(id, workerType, []byte(cCtx.String("url"))), nil
	case events.EnclaveRemoved:
		return events.NewEnclaveRemoved(id, workerType), nil
	case events.BtcWalletGenerated:
		pubKey, err := hex.DecodeString(strings.TrimPrefix(cCtx.String("pubkey"), "0x"))
		if err != nil {
			return events.Event{}, fmt.Errorf("invalid --pubkey: %w", err)
		}
		return events.NewBtcWalletGenerated(id, pubKey), nil
	default:
		return events.Event{}, fmt.Errorf("%w: %s", events.ErrUnknownKind, kind)
	}
}

func main() {
	app := &cli.App{
		Name:           "node-admin",
		Usage:          "Operate a signer node through its ops API",
		DefaultCommand: "status",
		Commands: []*cli.Command{
			listCommand("status", "show the node summary", func(ctx context.Context, c *clients.NodeClient) (any, error) {
				return c.Status(ctx)
			}),
			listCommand("signers", "list the signer registry", func(ctx context.Context, c *clients.NodeClient) (any, error) {
				return c.Signers(ctx)
			}),
			listCommand("enclaves", "list the enclave registry", func(ctx context.Context, c *clients.NodeClient) (any, error) {
				return c.Enclaves(ctx)
			}),
			listCommand("relayers", "list the relayer registry", func(ctx context.Context, c *clients.NodeClient) (any, error) {
				return c.Relayers(ctx)
			}),
			listCommand("scheduled-enclaves", "list the scheduled enclave registry", func(ctx context.Context, c *clients.NodeClient) (any, error) {
				return c.ScheduledEnclaves(ctx)
			}),
			listCommand("peers", "list connected peers", func(ctx context.Context, c *clients.NodeClient) (any, error) {
				return c.Peers(ctx)
			}),
			listCommand("unlock-status", "show whether the sealing master key is unlocked", func(ctx context.Context, c *clients.NodeClient) (any, error) {
				return c.AdminStatus(ctx)
			}),
			{
				Name:  "submit-event",
				Usage: "apply parentchain registration events",
				Flags: []cli.Flag{
					flagNodeURL, flagAdminID, flagAdminPrivkey, flagTimeout,
					&cli.StringFlag{Name: "file", Usage: "JSON array of events; other event flags are ignored"},
					&cli.StringFlag{Name: "kind", Usage: "relayer_added, relayer_removed, enclave_added, enclave_removed, btc_wallet_generated, scheduled_enclave_set or scheduled_enclave_removed"},
					&cli.StringFlag{Name: "id", Usage: "32-byte identity, hex encoded"},
					&cli.StringFlag{Name: "worker-type", Value: "bitacross", Usage: "worker type of enclave events"},
					&cli.StringFlag{Name: "url", Usage: "worker URL of enclave_added"},
					&cli.StringFlag{Name: "pubkey", Usage: "compressed secp256k1 key of btc_wallet_generated, hex encoded"},
					&cli.Uint64Flag{Name: "sidechain-block-number", Usage: "block number of scheduled enclave events"},
					&cli.StringFlag{Name: "mrenclave", Usage: "32-byte measurement of scheduled_enclave_set, hex encoded"},
				},
				Action: func(cCtx *cli.Context) error {
					var evs []events.Event
					if path := cCtx.String("file"); path != "" {
						data, err := os.ReadFile(path)
						if err != nil {
							return err
						}
						if evs, err = events.DecodeEvents(data); err != nil {
							return err
						}
					} else {
						ev, err := eventFromFlags(cCtx)
						if err != nil {
							return err
						}
						evs = []events.Event{ev}
					}

					c, err := adminClient(cCtx)
					if err != nil {
						return err
					}
					resp, err := c.SubmitEvents(cCtx.Context, evs)
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
			{
				Name:  "generate-admin",
				Usage: "generate an admin key pair",
				Flags: []cli.Flag{flagAdminPrivkey, flagAdminPubkey},
				Action: func(cCtx *cli.Context) error {
					privPEM, pubPEM, err := clients.GenerateAdminKeyPair()
					if err != nil {
						return err
					}
					if err := os.WriteFile(cCtx.String(flagAdminPrivkey.Name), []byte(privPEM), 0600); err != nil {
						return err
					}
					return os.WriteFile(cCtx.String(flagAdminPubkey.Name), []byte(pubPEM), 0644)
				},
			},
			{
				Name:  "split-key",
				Usage: "split a sealing master key into Shamir shares, one JSON file per share",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "master-key", EnvVars: []string{"SIGNER_MASTER_KEY"}, Usage: "hex encoded master key; a fresh key is generated when empty"},
					&cli.IntFlag{Name: "shares", Value: 3},
					&cli.IntFlag{Name: "threshold", Value: 2},
					&cli.StringFlag{Name: "out-prefix", Value: "share-", Usage: "share files are written to <prefix><index>.json"},
				},
				Action: func(cCtx *cli.Context) error {
					var masterKey []byte
					var err error
					if hexKey := cCtx.String("master-key"); hexKey != "" {
						masterKey, err = kms.MasterKeyFromHex(hexKey)
					} else {
						masterKey, err = kms.GenerateMasterKey()
						if err == nil {
							fmt.Fprintf(os.Stderr, "generated master key %s\n", hex.EncodeToString(masterKey))
						}
					}
					if err != nil {
						return err
					}

					shares, err := kms.SplitMasterKey(masterKey, cCtx.Int("shares"), cCtx.Int("threshold"))
					if err != nil {
						return err
					}
					for i, share := range shares {
						data, err := json.Marshal(shareFile{Index: i, Share: base64.StdEncoding.EncodeToString(share)})
						if err != nil {
							return err
						}
						path := fmt.Sprintf("%s%d.json", cCtx.String("out-prefix"), i)
						if err := os.WriteFile(path, data, 0600); err != nil {
							return err
						}
						fmt.Println(path)
					}
					return nil
				},
			},
			{
				Name:      "combine-key",
				Usage:     "reconstruct a sealing master key from share files",
				ArgsUsage: "<share file>...",
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() < 2 {
						return errors.New("at least two share files are required")
					}
					shares := make([][]byte, 0, cCtx.NArg())
					for _, path := range cCtx.Args().Slice() {
						sf, err := readShareFile(path)
						if err != nil {
							return err
						}
						share, err := base64.StdEncoding.DecodeString(sf.Share)
						if err != nil {
							return fmt.Errorf("%s: %w", path, err)
						}
						shares = append(shares, share)
					}
					masterKey, err := kms.CombineShares(shares)
					if err != nil {
						return err
					}
					fmt.Println(hex.EncodeToString(masterKey))
					return nil
				},
			},
			{
				Name:  "submit-share",
				Usage: "submit this admin's share to a locked node",
				Flags: []cli.Flag{
					flagNodeURL, flagAdminID, flagAdminPrivkey, flagTimeout,
					&cli.StringFlag{Name: "share-file", Value: "share-0.json"},
					&cli.BoolFlag{Name: "wait", Usage: "wait until the node reports unlocked"},
				},
				Action: func(cCtx *cli.Context) error {
					sf, err := readShareFile(cCtx.String("share-file"))
					if err != nil {
						return err
					}
					share, err := base64.StdEncoding.DecodeString(sf.Share)
					if err != nil {
						return err
					}

					c, err := adminClient(cCtx)
					if err != nil {
						return err
					}
					resp, err := c.SubmitShare(cCtx.Context, sf.Index, share)
					if err != nil {
						return err
					}
					if err := printJSON(resp); err != nil {
						return err
					}
					if cCtx.Bool("wait") {
						return c.WaitForUnlock(cCtx.Context, time.Second)
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func readShareFile(path string) (shareFile, error) {
	var sf shareFile
	data, err := os.ReadFile(path)
	if err != nil {
		return sf, err
	}
	if err := json.Unmarshal(data, &sf); err != nil {
		return sf, fmt.Errorf("%s: %w", path, err)
	}
	return sf, nil
}
