package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/tee-signer-fabric/ceremony"
	"github.com/ruteri/tee-signer-fabric/cmd/flags"
	"github.com/ruteri/tee-signer-fabric/cryptoutils"
	"github.com/ruteri/tee-signer-fabric/events"
	"github.com/ruteri/tee-signer-fabric/httpserver"
	"github.com/ruteri/tee-signer-fabric/interfaces"
	"github.com/ruteri/tee-signer-fabric/kms"
	"github.com/ruteri/tee-signer-fabric/peers"
	"github.com/ruteri/tee-signer-fabric/registry"
	"github.com/ruteri/tee-signer-fabric/rpc"
	"github.com/ruteri/tee-signer-fabric/rpcserver"
	"github.com/ruteri/tee-signer-fabric/storage"
	"github.com/ruteri/tee-signer-fabric/transport"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const responseSinkSize = 256

type registries struct {
	signers  *registry.SignerRegistry
	enclaves *registry.EnclaveRegistry
	relayers *registry.RelayerRegistry
	schedule *registry.ScheduledEnclaveRegistry
}

func runNode(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	self, err := interfaces.NewAddress32FromHex(cCtx.String("self"))
	if err != nil {
		return fmt.Errorf("invalid --self: %w", err)
	}
	workerType, err := interfaces.ParseWorkerType(cCtx.String("worker-type"))
	if err != nil {
		return err
	}
	logger = logger.With(slog.String("self", self.Short()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := openStorage(cCtx, logger)
	if err != nil {
		return err
	}
	if cCtx.Bool("clean-reset") {
		logger.Warn("Clean reset requested, deleting sealed registries", "backend", backend.Name())
		if err := registry.Purge(ctx, backend); err != nil {
			return err
		}
	}

	adminKeys, err := loadAdminKeys(cCtx, logger)
	if err != nil {
		return err
	}
	auth := httpserver.NewAdminAuth(logger, adminKeys)

	sealingKeys, unlocker, err := masterKeySource(cCtx, self, adminKeys)
	if err != nil {
		return err
	}

	admin := httpserver.NewAdminHandler(logger, auth, unlocker)
	opsServer, err := httpserver.New(flags.ConfigureServer(cCtx, logger, cCtx.String("listen-addr")), admin, auth)
	if err != nil {
		logger.Error("Failed to create ops server", "err", err)
		return err
	}
	opsServer.RunInBackground()
	defer opsServer.Shutdown()

	if sealingKeys == nil {
		logger.Info("Waiting for Shamir unlock of the sealing master key",
			slog.Int("threshold", unlocker.Threshold()),
			slog.Int("admins", len(adminKeys)))
		waitCtx := ctx
		if timeout := cCtx.Duration("unlock-timeout"); timeout > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		sealingKeys, err = admin.WaitForUnlock(waitCtx)
		if err != nil {
			logger.Error("Sealing master key was not unlocked", "err", err)
			return err
		}
		logger.Info("Sealing master key unlocked")
	}

	regs, err := openRegistries(ctx, backend, sealingKeys, workerType, logger)
	if err != nil {
		return err
	}

	clientFactory := transport.NewDirectClientFactory(transport.Config{
		HandshakeTimeout: cCtx.Duration("handshake-timeout"),
		Log:              logger,
	})
	var managerOpts []peers.Option
	if cCtx.Bool("evict-on-send-failure") {
		managerOpts = append(managerOpts, peers.WithEvictOnSendFailure())
	}
	manager := peers.NewManager(regs.enclaves, clientFactory, logger, managerOpts...)
	defer manager.Close()

	sink := make(chan rpc.Response, responseSinkSize)
	collector := ceremony.NewCollector(sink, logger)
	go collector.Run(ctx)

	broadcaster := ceremony.NewBroadcaster(ceremony.BroadcasterConfig{
		Self:      self,
		Signers:   regs.signers,
		Peers:     manager,
		Sink:      sink,
		Collector: collector,
		Log:       logger,
	})

	eventHandler := events.NewHandler(regs.signers, regs.relayers, regs.enclaves, regs.schedule, logger)
	eventHandler.OnEnclaveRemoved(func(id interfaces.Address32, removed interfaces.WorkerType) {
		if removed == workerType {
			manager.Remove(id)
		}
	})

	inbox := ceremony.NewInbox(cCtx.Int("inbox-size"), logger)
	go consumeInbox(ctx, inbox, logger)

	rpcTLS, err := peerEndpointTLS(cCtx)
	if err != nil {
		return err
	}
	rpcServer, err := rpcserver.New(rpcserver.Config{
		ListenAddr: cCtx.String("rpc-listen-addr"),
		TLSConfig:  rpcTLS,
		Log:        logger,
	})
	if err != nil {
		return err
	}
	rpcServer.Handle(rpc.MethodSubmitRequest, inbox.HandleSubmit)
	rpcServer.Handle(rpc.MethodGetScheduledEnclave, func(context.Context, *rpc.Request) rpc.ReturnValue {
		return rpc.OkValue(regs.schedule.Encode())
	})
	if err := rpcServer.RunInBackground(); err != nil {
		logger.Error("Failed to start signer RPC endpoint", "err", err)
		return err
	}

	opsServer.SetNodeHandler(httpserver.NewHandler(httpserver.NodeConfig{
		Self:       self,
		WorkerType: workerType,
		Signers:    regs.signers,
		Enclaves:   regs.enclaves,
		Relayers:   regs.relayers,
		Scheduled:  regs.schedule,
		Peers:      manager,
		Events:     eventHandler,
	}, logger))

	if interval := cCtx.Duration("peer-warmup-interval"); interval > 0 {
		go warmPeers(ctx, broadcaster, interval, logger)
	}

	logger.Info("Signer node is running",
		slog.String("workerType", workerType.String()),
		slog.String("rpcAddress", rpcServer.Addr()))
	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cCtx.Duration(flags.ShutdownTimeoutFlag.Name))
	defer cancel()
	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Signer RPC endpoint shutdown failed", "err", err)
	}
	return nil
}

func openStorage(cCtx *cli.Context, logger *slog.Logger) (interfaces.StorageBackend, error) {
	uris := cCtx.StringSlice("storage")
	locations := make([]interfaces.StorageBackendLocation, 0, len(uris))
	for _, uri := range uris {
		loc, err := interfaces.NewStorageBackendLocation(uri)
		if err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}

	backend, err := storage.NewStorageBackendFactory(logger).CreateMultiBackend(locations)
	if err != nil {
		logger.Error("Failed to open registry storage", "err", err)
		return nil, err
	}
	if !backend.Available(cCtx.Context) {
		logger.Warn("Registry storage is not reachable yet", "backend", backend.Name())
	}
	return backend, nil
}

func loadAdminKeys(cCtx *cli.Context, logger *slog.Logger) (map[string][]byte, error) {
	path := cCtx.String("admin-keys-file")
	if path == "" {
		logger.Warn("No admin keys configured, event submission is disabled")
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	keys, err := httpserver.LoadAdminKeys(f)
	if err != nil {
		return nil, err
	}
	logger.Info("Admin keys loaded", slog.Int("count", len(keys)))
	return keys, nil
}

// masterKeySource returns the sealing keys right away, or an unlocker that yields
// them once enough admins submitted their shares. Exactly one source must be set.
func masterKeySource(cCtx *cli.Context, self interfaces.SignerID, adminKeys map[string][]byte) (*kms.SealingKeys, *kms.ShamirUnlocker, error) {
	hexKey := cCtx.String("master-key")
	passphrase := cCtx.String("master-passphrase")
	threshold := cCtx.Int("shamir-threshold")

	set := 0
	for _, ok := range []bool{hexKey != "", passphrase != "", threshold > 0} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, nil, errors.New("exactly one of --master-key, --master-passphrase and --shamir-threshold is required")
	}

	var masterKey []byte
	var err error
	switch {
	case hexKey != "":
		masterKey, err = kms.MasterKeyFromHex(hexKey)
	case passphrase != "":
		masterKey, err = kms.MasterKeyFromPassphrase([]byte(passphrase), self.Bytes())
	default:
		if threshold < 2 {
			return nil, nil, errors.New("--shamir-threshold must be at least 2")
		}
		if len(adminKeys) < threshold {
			return nil, nil, fmt.Errorf("%d admins configured, fewer than the threshold %d", len(adminKeys), threshold)
		}
		unlocker := kms.NewShamirUnlocker(threshold)
		for id, pubKey := range adminKeys {
			if err := unlocker.RegisterAdmin(pubKey); err != nil {
				return nil, nil, fmt.Errorf("admin %s: %w", id, err)
			}
		}
		return nil, unlocker, nil
	}
	if err != nil {
		return nil, nil, err
	}

	keys, err := kms.NewSealingKeys(masterKey)
	return keys, nil, err
}

func openRegistries(ctx context.Context, backend interfaces.StorageBackend, keys *kms.SealingKeys, workerType interfaces.WorkerType, logger *slog.Logger) (*registries, error) {
	blob := func(name string) (*storage.SealedBlob, error) {
		key, err := keys.KeyFor(name)
		if err != nil {
			return nil, err
		}
		return storage.NewSealedBlob(backend, name, key, logger)
	}

	signerBlob, err := blob(registry.SignerRegistryFile)
	if err != nil {
		return nil, err
	}
	enclaveBlob, err := blob(registry.EnclaveRegistryFile)
	if err != nil {
		return nil, err
	}
	relayerBlob, err := blob(registry.RelayerRegistryFile)
	if err != nil {
		return nil, err
	}
	scheduleBlob, err := blob(registry.ScheduledEnclaveRegistryFile)
	if err != nil {
		return nil, err
	}

	regs := &registries{
		signers:  registry.NewSignerRegistry(signerBlob, logger),
		enclaves: registry.NewEnclaveRegistry(enclaveBlob, workerType, logger),
		relayers: registry.NewRelayerRegistry(relayerBlob, logger),
		schedule: registry.NewScheduledEnclaveRegistry(scheduleBlob, workerType, logger),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return regs.signers.Init(gctx) })
	g.Go(func() error { return regs.enclaves.Init(gctx) })
	g.Go(func() error { return regs.relayers.Init(gctx) })
	g.Go(func() error { return regs.schedule.Init(gctx) })
	if err := g.Wait(); err != nil {
		logger.Error("Failed to load sealed registries", "err", err)
		return nil, err
	}

	logger.Info("Registries loaded",
		slog.Int("signers", len(regs.signers.GetAll())),
		slog.Int("enclaves", len(regs.enclaves.GetAll())),
		slog.Int("relayers", len(regs.relayers.GetAll())),
		slog.Int("scheduledEnclaves", len(regs.schedule.GetAll())))
	return regs, nil
}

func peerEndpointTLS(cCtx *cli.Context) (*tls.Config, error) {
	certFile, keyFile := cCtx.String("rpc-tls-cert"), cCtx.String("rpc-tls-key")
	if certFile == "" && keyFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load peer endpoint certificate: %w", err)
	}
	return cryptoutils.ServerTLSConfig(cert), nil
}

// consumeInbox hands inbound ceremony messages to the signing engine. The engine
// runs outside this process, so messages are only logged here.
func consumeInbox(ctx context.Context, inbox *ceremony.Inbox, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-inbox.Messages():
			logger.Debug("Ceremony message received",
				slog.String("kind", in.Message.Kind.String()),
				slog.String("requestID", in.RequestID.String()),
				slog.Int("payloadSize", len(in.Message.Payload)))
		}
	}
}

func warmPeers(ctx context.Context, b *ceremony.Broadcaster, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		results, err := b.ConnectAll(ctx)
		switch {
		case errors.Is(err, interfaces.ErrEmptyRegistry):
			logger.Debug("No signers registered yet")
		case err != nil:
			logger.Error("Peer warmup failed", "err", err)
		default:
			for id, err := range results {
				if err != nil {
					logger.Warn("Peer unreachable", "err", err, slog.String("signer", id.String()))
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
