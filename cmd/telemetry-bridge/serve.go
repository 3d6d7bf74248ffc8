package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/telemetry-bridge/internal/config"
	"github.com/sweeney/telemetry-bridge/internal/control"
	"github.com/sweeney/telemetry-bridge/internal/logging"
	"github.com/sweeney/telemetry-bridge/internal/logic"
	"github.com/sweeney/telemetry-bridge/internal/metrics"
	"github.com/sweeney/telemetry-bridge/internal/mqtt"
	"github.com/sweeney/telemetry-bridge/internal/query"
	"github.com/sweeney/telemetry-bridge/internal/statecache"
	"github.com/sweeney/telemetry-bridge/internal/status"
	"github.com/sweeney/telemetry-bridge/internal/store"
	"github.com/sweeney/telemetry-bridge/internal/web"
	"github.com/sweeney/telemetry-bridge/internal/ws"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge",
	Long: `Connects to the MQTT broker, applies the threshold rule to every
temperature reading, stores readings and serves the history API, the
health endpoint and the websocket push channel.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.String("broker", "", "MQTT broker URL (default tcp://localhost:1883)")
	f.String("port", "", "HTTP listen port or address (default 3000)")
	f.String("store", "", "reading store driver: postgres or memory")
	f.String("database-url", "", "PostgreSQL connection URL")
	f.String("redis-addr", "", "Redis address for the control state snapshot (empty disables)")
	f.Float64("threshold", 0, "threshold used when no saved state exists (default 30)")

	mustBind("mqtt.broker", f.Lookup("broker"))
	mustBind("http.port", f.Lookup("port"))
	mustBind("store.driver", f.Lookup("store"))
	mustBind("store.url", f.Lookup("database-url"))
	mustBind("redis.addr", f.Lookup("redis-addr"))
	mustBind("control.default_threshold", f.Lookup("threshold"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "telemetry-bridge")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

// bridgeClient is the MQTT surface runBridge drives.
type bridgeClient interface {
	mqtt.Publisher
	mqtt.Subscriber
	mqtt.ConnectionStatus
	Connect() error
	Close() error
}

// components are the external connections runBridge wires together.
// Cache may be nil.
type components struct {
	Client bridgeClient
	Store  store.Store
	Cache  *statecache.Cache
}

// serve opens the real connections and runs the bridge until ctx is done.
func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	st, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	var cache *statecache.Cache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		cache = statecache.New(rdb, statecache.Options{Key: cfg.Redis.Key, Logger: logger.Named("statecache")})
	}

	client := mqtt.NewClient(mqtt.Options{
		Broker:     cfg.MQTT.Broker,
		ClientID:   cfg.MQTT.ClientID,
		Username:   cfg.MQTT.Username,
		Password:   cfg.MQTT.Password,
		BufferSize: cfg.MQTT.BufferSize,
		Logger:     logger.Named("mqtt"),
	})

	ln, err := net.Listen("tcp", cfg.HTTP.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTP.Addr(), err)
	}

	return runBridge(ctx, cfg, logger, components{Client: client, Store: st, Cache: cache}, ln)
}

// openStore connects the configured reading store. A store that cannot be
// reached at startup is fatal.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("using in-memory reading store; history is lost on restart")
		return store.NewMemory(), nil
	case "postgres":
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pg, err := store.OpenPostgres(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// restoreState rebuilds the Control State: the Redis snapshot wins, then
// the latest stored reading under the default threshold, then a fresh
// state.
func restoreState(ctx context.Context, cache *statecache.Cache, q store.Querier, threshold float64, logger *zap.Logger) logic.State {
	if cache != nil {
		s, err := cache.Load(ctx)
		if err != nil {
			logger.Warn("control state snapshot unavailable", zap.Error(err))
		} else if s != nil {
			logger.Info("control state restored from snapshot", zap.Float64("threshold", s.Threshold))
			return *s
		}
	}

	state := logic.NewState(threshold)
	r, err := q.Latest(ctx)
	if err != nil {
		logger.Warn("latest reading unavailable", zap.Error(err))
		return state
	}
	if r != nil {
		state.Led = r.Led
		if r.Temperature != nil {
			state.Temperature = logic.Float(*r.Temperature)
		}
		logger.Info("control state restored from latest reading", zap.Time("at", r.Timestamp))
	}
	return state
}

// runBridge wires the control core to its collaborators and serves on ln
// until ctx is done. It owns ln; the components are closed by the caller
// except Client, which it disconnects.
func runBridge(ctx context.Context, cfg config.Config, logger *zap.Logger, c components, ln net.Listener) error {
	reg := metrics.NewRegistry()
	m := metrics.New("bridge", reg)

	writer := store.NewWriter(c.Store, store.WriterOptions{
		QueueSize: cfg.Store.QueueSize,
		Timeout:   cfg.Store.WriteTimeout,
		Metrics:   m,
		Logger:    logger.Named("writer"),
	})
	defer writer.Close()

	hub := ws.NewHub(m, logger.Named("ws"))

	opts := control.Options{
		Threshold: cfg.Control.DefaultThreshold,
		Metrics:   m,
		Logger:    logger.Named("control"),
	}
	probes := status.Probes{MQTT: c.Client, Store: c.Store}
	if c.Cache != nil {
		opts.Snapshots = c.Cache
		probes.Cache = c.Cache
	}
	core := control.New(mqtt.NewActuator(c.Client, cfg.Topics.Command), hub, writer, opts)

	restoreCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	core.Restore(restoreState(restoreCtx, c.Cache, c.Store, cfg.Control.DefaultThreshold, logger))
	cancel()

	c.Client.Handle(cfg.Topics.Temperature, core.HandleTemperature)
	c.Client.Handle(cfg.Topics.Led, core.HandleLed)
	if err := c.Client.Connect(); err != nil {
		ln.Close()
		return fmt.Errorf("connect mqtt: %w", err)
	}
	defer c.Client.Close()

	tracker := status.NewTracker(time.Now(), logger.Named("status"))
	srv := web.New(ln.Addr().String(), web.Deps{
		Query: query.New(c.Store, query.Options{
			Timeout: cfg.Store.QueryTimeout,
			Metrics: m,
		}),
		State:   core,
		Tracker: tracker,
		WS:      hub.Handler(core),
		Metrics: metrics.Handler(reg),
		Logger:  logger.Named("http"),
	})

	logger.Info("bridge started",
		zap.String("broker", cfg.MQTT.Broker),
		zap.String("http", ln.Addr().String()),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("redis", c.Cache != nil),
		zap.Float64("threshold", core.State().Threshold))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		hub.Close()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		return tracker.Monitor(gctx, cfg.HTTP.StatusInterval, probes)
	})
	if c.Cache != nil {
		g.Go(func() error {
			return c.Cache.Run(gctx)
		})
	}
	return g.Wait()
}
