package cmd

import (
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/KendoTarakate/skin/adapter"
	"github.com/KendoTarakate/skin/adapter/redis"
	"github.com/KendoTarakate/skin/adapter/webhook"
	"github.com/KendoTarakate/skin/cli/config"
	"github.com/KendoTarakate/skin/discovery"
	"github.com/KendoTarakate/skin/log"
	"github.com/KendoTarakate/skin/metrics"
	"github.com/KendoTarakate/skin/session"
	"github.com/KendoTarakate/skin/store"
)

// DefaultListen is the session server's default listen address.
const DefaultListen = ":7420"

// ServeCommand returns the serve command, which runs the session server.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the session server",
		Flags: []cli.Flag{
			ConfigFlag,
			&cli.StringFlag{Name: "listen", Aliases: []string{"l"}, Usage: "Listen address (default " + DefaultListen + ")"},
			&cli.StringFlag{Name: "storage", Usage: "Record storage: memory, fs, s3, lode-memory"},
			&cli.StringFlag{Name: "storage-path", Usage: "fs root directory or s3 bucket/prefix"},
			&cli.IntFlag{Name: "chunk-size", Usage: "Bytes per chunk for outgoing transfers"},
			&cli.IntFlag{Name: "max-dimension", Usage: "Reject uploads with a larger side"},
			&cli.DurationFlag{Name: "join-replay-delay", Usage: "Delay before replaying stored skins to a joiner"},
			&cli.BoolFlag{Name: "keep-on-leave", Usage: "Keep a participant's skin after it disconnects"},
			&cli.StringFlag{Name: "advertise", Usage: "Advertise on mDNS under this instance name"},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	applyServeFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	nodeID := uuid.NewString()
	logger := log.NewLogger(log.NodeMeta{NodeID: nodeID, Role: log.RoleServer, Name: cfg.Server.Advertise})
	defer func() { _ = logger.Sync() }()

	backend := cfg.Storage.Backend
	if backend == "" {
		backend = store.BackendMemory
	}
	m := metrics.NewCollector(string(log.RoleServer), backend, nodeID)

	ctx, stop := signalContext(c.Context)
	defer stop()

	st, err := store.Open(ctx, store.Options{
		Backend:      backend,
		Path:         cfg.Storage.Path,
		Region:       cfg.Storage.Region,
		Endpoint:     cfg.Storage.Endpoint,
		UsePathStyle: cfg.Storage.S3PathStyle,
		Logger:       logger,
		Metrics:      m,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("open storage: %v", err), exitFailure)
	}
	defer func() { _ = st.Close() }()

	notifier, err := openNotifier(cfg.Adapter)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	if notifier != nil {
		defer func() { _ = notifier.Close() }()
	}

	hub := session.NewHub(session.Config{
		ChunkSize:       cfg.Server.ChunkSize,
		IdleTimeout:     cfg.Server.TransferTimeout.Duration,
		JanitorInterval: cfg.Server.JanitorInterval.Duration,
		JoinReplayDelay: cfg.Server.JoinReplayDelay.Duration,
		Parallel:        cfg.Server.Parallel,
		KeepOnLeave:     cfg.Server.KeepOnLeave,
		MaxDimension:    cfg.Server.MaxDimension,
		Store:           st,
		Logger:          logger,
		Metrics:         m,
		Notifier:        notifier,
	})

	listen := cfg.Server.Listen
	if listen == "" {
		listen = DefaultListen
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return cli.Exit(fmt.Sprintf("listen: %v", err), exitFailure)
	}
	logger.Sugar().Infof("skinsync server %s on %s (storage %s)", nodeID, ln.Addr(), backend)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Serve(gctx, ln) })
	if name := cfg.Server.Advertise; name != "" {
		port := ln.Addr().(*net.TCPAddr).Port
		g.Go(func() error {
			return discovery.Advertise(gctx, name, port, discovery.DefaultPath, logger)
		})
	}
	return g.Wait()
}

// applyServeFlags overlays explicitly set flags onto cfg.
func applyServeFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("listen") {
		cfg.Server.Listen = c.String("listen")
	}
	if c.IsSet("storage") {
		cfg.Storage.Backend = c.String("storage")
	}
	if c.IsSet("storage-path") {
		cfg.Storage.Path = c.String("storage-path")
	}
	if c.IsSet("chunk-size") {
		cfg.Server.ChunkSize = c.Int("chunk-size")
	}
	if c.IsSet("max-dimension") {
		cfg.Server.MaxDimension = c.Int("max-dimension")
	}
	if c.IsSet("join-replay-delay") {
		cfg.Server.JoinReplayDelay.Duration = c.Duration("join-replay-delay")
	}
	if c.IsSet("keep-on-leave") {
		cfg.Server.KeepOnLeave = c.Bool("keep-on-leave")
	}
	if c.IsSet("advertise") {
		cfg.Server.Advertise = c.String("advertise")
	}
}

// openNotifier builds the configured event adapter, or nil when none is set.
func openNotifier(cfg config.AdapterConfig) (adapter.Adapter, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "redis":
		rc := redis.Config{
			URL:       cfg.URL,
			Channel:   cfg.Channel,
			LatestKey: cfg.LatestKey,
			Timeout:   cfg.Timeout.Duration,
			Retries:   retriesOr(cfg.Retries, redis.DefaultRetries),
		}
		return redis.New(rc)
	case "webhook":
		wc := webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Secret:  cfg.Secret,
			Timeout: cfg.Timeout.Duration,
			Retries: retriesOr(cfg.Retries, webhook.DefaultRetries),
		}
		return webhook.New(wc)
	default:
		return nil, fmt.Errorf("unknown adapter type %q", cfg.Type)
	}
}

func retriesOr(n *int, def int) int {
	if n == nil {
		return def
	}
	return *n
}
