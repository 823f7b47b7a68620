package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/satnamapp/federation-guardian-backend/common"
	"github.com/satnamapp/federation-guardian-backend/consensus"
	"github.com/satnamapp/federation-guardian-backend/httpserver"
	"github.com/satnamapp/federation-guardian-backend/interfaces"
	"github.com/satnamapp/federation-guardian-backend/notification"
	"github.com/satnamapp/federation-guardian-backend/ratelimit"
	"github.com/satnamapp/federation-guardian-backend/recovery"
	"github.com/satnamapp/federation-guardian-backend/roster"
	"github.com/satnamapp/federation-guardian-backend/settlement"
	"github.com/satnamapp/federation-guardian-backend/shardvault"
	"github.com/satnamapp/federation-guardian-backend/sigverify"
	"github.com/satnamapp/federation-guardian-backend/storage"
)

var flags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for API",
	},
	&cli.StringFlag{
		Name:  "metrics-addr",
		Value: "127.0.0.1:8090",
		Usage: "address to listen on for Prometheus metrics",
	},
	&cli.StringSliceFlag{
		Name:  "relay",
		Usage: "notification relay endpoint URL (repeatable)",
	},
	&cli.StringFlag{
		Name:  "relay-discovery-domain",
		Usage: "federation domain to discover additional relays for via DNS TXT",
	},
	&cli.StringFlag{
		Name:  "relay-discovery-resolver",
		Value: "1.1.1.1:53",
		Usage: "DNS resolver address for relay discovery",
	},
	&cli.StringFlag{
		Name:  "sender-id",
		Usage: "64-char hex guardian ID this instance signs notifications as",
	},
	&cli.StringFlag{
		Name:  "rpc-addr",
		Value: "http://127.0.0.1:8545",
		Usage: "address to connect to RPC for the on-chain roster",
	},
	&cli.StringFlag{
		Name:  "roster-contract",
		Usage: "guardian registry contract address; omit to use --guardian flags",
	},
	&cli.StringSliceFlag{
		Name:  "guardian",
		Usage: "static roster entry as guardianHex:role (repeatable, requires --group-id)",
	},
	&cli.StringFlag{
		Name:  "group-id",
		Usage: "64-char hex group ID the static roster belongs to",
	},
	&cli.StringSliceFlag{
		Name:  "storage-uri",
		Value: cli.NewStringSlice("file:///var/lib/federation-guardian/shards"),
		Usage: "shard storage backend URI (repeatable; multiple URIs replicate)",
	},
	&cli.StringFlag{
		Name:  "inner-secret-hex",
		Usage: "hex-encoded 32-byte inner layer encryption secret (required)",
	},
	&cli.StringFlag{
		Name:  "outer-secret-hex",
		Usage: "hex-encoded 32-byte outer layer encryption secret (required)",
	},
	&cli.StringSliceFlag{
		Name:  "card",
		Usage: "card directory entry as cardRef:ownerHex (repeatable)",
	},
	&cli.StringFlag{
		Name:  "settlement-url",
		Usage: "settlement rail base URL; enables spending and liquidity executors",
	},
	&cli.StringFlag{
		Name:  "recovery-pickup-uri",
		Usage: "storage URI for rewrapped recovery secrets; enables the recovery executor",
	},
	&cli.StringSliceFlag{
		Name:  "federation-peer-key",
		Usage: "peer federation key as keyID:hexEd25519Pubkey (repeatable)",
	},
	&cli.IntFlag{
		Name:  "rate-limit",
		Value: 20,
		Usage: "requests per window per client IP",
	},
	&cli.Int64Flag{
		Name:  "rate-window-seconds",
		Value: 60,
		Usage: "rate limit window in seconds",
	},
	&cli.BoolFlag{
		Name:  "log-json",
		Value: false,
		Usage: "log in JSON format",
	},
	&cli.BoolFlag{
		Name:  "log-debug",
		Value: false,
		Usage: "log debug messages",
	},
	&cli.BoolFlag{
		Name:  "log-uid",
		Value: false,
		Usage: "generate a uuid and add to all log messages",
	},
	&cli.StringFlag{
		Name:  "log-service",
		Value: "federation-guardian",
		Usage: "add 'service' tag to logs",
	},
	&cli.BoolFlag{
		Name:  "pprof",
		Value: false,
		Usage: "enable pprof debug endpoint",
	},
	&cli.Int64Flag{
		Name:  "drain-seconds",
		Value: 45,
		Usage: "seconds to wait in drain HTTP request",
	},
}

func main() {
	app := &cli.App{
		Name:   "federation-server",
		Usage:  "Serve the guardian consensus API",
		Flags:  flags,
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool("log-debug"),
		JSON:    cCtx.Bool("log-json"),
		Service: cCtx.String("log-service"),
		Version: common.Version,
	})
	if cCtx.Bool("log-uid") {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}

	dispatcher, err := setupDispatcher(cCtx, logger)
	if err != nil {
		return err
	}

	rosterClient, err := setupRoster(cCtx, logger)
	if err != nil {
		return err
	}

	vault, factory, err := setupVault(cCtx, logger)
	if err != nil {
		return err
	}

	store := consensus.NewMemoryStore()
	manager := consensus.NewManager(store, rosterClient, dispatcher, nil, nil, logger)

	if err := setupExecutors(cCtx, logger, manager, vault, factory); err != nil {
		return err
	}

	peerKeys, err := parsePeerKeys(cCtx.StringSlice("federation-peer-key"))
	if err != nil {
		return err
	}

	limiter := ratelimit.New(ratelimit.Config{
		Limit:  cCtx.Int("rate-limit"),
		Window: time.Duration(cCtx.Int64("rate-window-seconds")) * time.Second,
	}, nil, logger)

	handler := httpserver.NewHandler(manager, vault, sigverify.New(nil), peerKeys, logger)

	cfg := &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String("listen-addr"),
		MetricsAddr:              cCtx.String("metrics-addr"),
		Log:                      logger,
		EnablePprof:              cCtx.Bool("pprof"),
		DrainDuration:            time.Duration(cCtx.Int64("drain-seconds")) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}

	server, err := httpserver.New(cfg, handler, limiter)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	logger.Info("Starting server")
	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")

	server.Shutdown()
	logger.Info("Server shutdown complete")
	return nil
}

func setupDispatcher(cCtx *cli.Context, logger *slog.Logger) (*notification.Dispatcher, error) {
	endpoints := cCtx.StringSlice("relay")

	if domain := cCtx.String("relay-discovery-domain"); domain != "" {
		discovered, err := notification.DiscoverRelays(domain, cCtx.String("relay-discovery-resolver"), logger)
		if err != nil {
			logger.Warn("Relay discovery failed, using configured relays only", "err", err)
		} else {
			endpoints = append(endpoints, discovered...)
		}
	}

	relays := make([]interfaces.RelayTransport, 0, len(endpoints))
	for _, endpoint := range endpoints {
		relays = append(relays, notification.NewHTTPRelay(endpoint, &http.Client{}))
	}
	logger.Info("Relay set configured", "relays", len(relays))

	var senderID interfaces.GuardianID
	if raw := cCtx.String("sender-id"); raw != "" {
		var err error
		senderID, err = interfaces.NewGuardianIDFromHex(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid sender-id: %w", err)
		}
	}

	publisher := notification.NewPublisher(relays, logger)
	encoders := []notification.ProtocolEncoder{
		&notification.GiftWrapEncoder{SenderID: senderID},
		&notification.DirectEncoder{SenderID: senderID},
	}
	return notification.NewDispatcher(encoders, publisher, logger), nil
}

func setupRoster(cCtx *cli.Context, logger *slog.Logger) (interfaces.RosterClient, error) {
	if contract := cCtx.String("roster-contract"); contract != "" {
		rpcAddress := cCtx.String("rpc-addr")
		logger.Info("Connecting to Ethereum RPC", "address", rpcAddress)
		ethClient, err := ethclient.Dial(rpcAddress)
		if err != nil {
			logger.Error("Failed to dial RPC", "err", err)
			return nil, err
		}
		return roster.NewOnchainRosterClient(ethClient, ethcommon.HexToAddress(contract))
	}

	specs := cCtx.StringSlice("guardian")
	if len(specs) == 0 {
		return nil, errors.New("either --roster-contract or --guardian flags are required")
	}

	group, err := interfaces.NewGroupIDFromHex(cCtx.String("group-id"))
	if err != nil {
		return nil, fmt.Errorf("invalid group-id: %w", err)
	}

	static := roster.NewStaticRoster()
	for _, spec := range specs {
		member, err := roster.ParseMemberSpec(spec)
		if err != nil {
			return nil, err
		}
		static.AddMember(group, member)
	}
	logger.Info("Static roster configured", "group", group.String(), "members", len(specs))
	return static, nil
}

func setupVault(cCtx *cli.Context, logger *slog.Logger) (*shardvault.Vault, *storage.Factory, error) {
	innerSecret, err := hex.DecodeString(cCtx.String("inner-secret-hex"))
	if err != nil || len(innerSecret) != 32 {
		return nil, nil, errors.New("inner-secret-hex must be 64 hex chars (32 bytes)")
	}
	outerSecret, err := hex.DecodeString(cCtx.String("outer-secret-hex"))
	if err != nil || len(outerSecret) != 32 {
		return nil, nil, errors.New("outer-secret-hex must be 64 hex chars (32 bytes)")
	}

	cipher, err := shardvault.NewCipher(innerSecret, outerSecret)
	if err != nil {
		return nil, nil, err
	}

	factory := storage.NewFactory(logger)
	locations := make([]interfaces.ShardBackendLocation, 0)
	for _, raw := range cCtx.StringSlice("storage-uri") {
		location, err := interfaces.NewShardBackendLocation(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid storage-uri %q: %w", raw, err)
		}
		locations = append(locations, location)
	}

	backend, err := factory.ReplicatedBackendFrom(locations)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Shard storage configured", "backend", backend.Name())

	cards := shardvault.NewMemoryDirectory()
	for _, spec := range cCtx.StringSlice("card") {
		parts := strings.SplitN(spec, ":", 2)
		if len(parts) != 2 {
			return nil, nil, fmt.Errorf("malformed card spec %q, want cardRef:ownerHex", spec)
		}
		owner, err := interfaces.NewOwnerRefFromHex(parts[1])
		if err != nil {
			return nil, nil, fmt.Errorf("malformed owner in card spec %q: %w", spec, err)
		}
		cards.AddCard(&shardvault.Card{Ref: parts[0], Owner: owner, HashAvailable: true})
	}

	return shardvault.New(cipher, backend, cards, nil, logger), factory, nil
}

func setupExecutors(cCtx *cli.Context, logger *slog.Logger, manager *consensus.Manager, vault *shardvault.Vault, factory *storage.Factory) error {
	if railURL := cCtx.String("settlement-url"); railURL != "" {
		client := settlement.NewClient(railURL, nil)
		manager.RegisterExecutor(interfaces.SpendingRequest, settlement.NewSpendingExecutor(client, logger))
		manager.RegisterExecutor(interfaces.LiquidityReleaseRequest, settlement.NewLiquidityExecutor(client, logger))
		logger.Info("Settlement executors enabled", "rail", railURL)
	}

	if pickupURI := cCtx.String("recovery-pickup-uri"); pickupURI != "" {
		location, err := interfaces.NewShardBackendLocation(pickupURI)
		if err != nil {
			return fmt.Errorf("invalid recovery-pickup-uri: %w", err)
		}
		backend, err := factory.BackendFor(location)
		if err != nil {
			return err
		}

		sink := recovery.NewRewrapSink(backend, nil, logger)
		executor := recovery.NewExecutor(vault, sink, logger)
		manager.RegisterExecutor(interfaces.KeyRecoveryRequest, executor)
		manager.RegisterExecutor(interfaces.AccountRestorationRequest, executor)
		logger.Info("Recovery executor enabled", "pickup", backend.Name())
	}

	return nil
}

func parsePeerKeys(specs []string) (httpserver.StaticKeyDirectory, error) {
	keys := make(httpserver.StaticKeyDirectory, len(specs))
	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed peer key spec %q, want keyID:hexPubkey", spec)
		}

		raw, err := hex.DecodeString(parts[1])
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("peer key %q must be %d hex-encoded bytes", parts[0], ed25519.PublicKeySize)
		}
		keys[parts[0]] = ed25519.PublicKey(raw)
	}
	return keys, nil
}
