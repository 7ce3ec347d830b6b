// cmd/roomd/serve.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/FairForge/roomd/internal/api"
	"github.com/FairForge/roomd/internal/auth"
	"github.com/FairForge/roomd/internal/config"
	"github.com/FairForge/roomd/internal/database"
	"github.com/FairForge/roomd/internal/ha"
	"github.com/FairForge/roomd/internal/ledger"
	"github.com/FairForge/roomd/internal/replication"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var serveFlags = []string{"role", "listen", "sync-listen", "health-listen", "backup-addr", "primary-health-addr", "store", "rooms", "labs"}

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a primary or backup allocation server",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(v, cmd.Flags(), serveFlags...)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger, err := newLogger(cfg.Server.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return serve(cmd.Context(), cfg, logger)
		},
	}

	flags := cmd.Flags()
	flags.String("role", "", "primary or backup")
	flags.String("listen", "", "allocation listener address (default :5555)")
	flags.String("sync-listen", "", "replication listener address, backup only (default :5556)")
	flags.String("health-listen", "", "health listener address (default :5557)")
	flags.String("backup-addr", "", "backup replication address; empty disables replication")
	flags.String("primary-health-addr", "", "primary health address watched by the backup")
	flags.String("store", "", "record store: memory or postgres")
	flags.Int("rooms", 0, "total rooms (default 450)")
	flags.Int("labs", 0, "total labs (default 140)")

	return cmd
}

// auxServer is a health or sync listener
type auxServer struct {
	srv *http.Server
	ln  net.Listener
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ledger.Store, func(), error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pg, err := database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := pg.Ping(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		logger.Info("using postgres record store",
			zap.String("host", cfg.Database.Postgres.Host),
			zap.String("database", cfg.Database.Postgres.Database),
		)
		return pg, func() { _ = pg.Close() }, nil
	default:
		logger.Warn("using in-memory record store; reservations will not survive a restart")
		return database.NewMemory(), func() {}, nil
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger = logger.With(zap.String("server_role", cfg.Server.Role))

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	l, err := ledger.Open(ctx, store, cfg.Pool, logger.Named("ledger"))
	if err != nil {
		logger.Error("refusing to start", zap.Error(err))
		return err
	}

	metrics := api.NewMetrics()

	var tokens *auth.TokenService
	if cfg.Admin.JWTSecret != "" {
		if tokens, err = auth.NewTokenService(cfg.Admin.JWTSecret, cfg.Admin.TokenTTL); err != nil {
			return err
		}
	} else {
		logger.Warn("admin api disabled: set ROOMD_ADMIN_SECRET to enable it")
	}

	opts := api.Options{
		Addr:    cfg.Server.ListenAddr,
		Ledger:  l,
		Tokens:  tokens,
		Metrics: metrics,
		Limiter: api.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		Logger:  logger.Named("api"),
	}

	// Listeners are opened up front so address errors stop startup
	var aux []auxServer
	var listeners []net.Listener
	closeAll := func() {
		for _, ln := range listeners {
			_ = ln.Close()
		}
	}
	listen := func(addr string) (net.Listener, error) {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("listen %s: %w", addr, err)
		}
		listeners = append(listeners, ln)
		return ln, nil
	}

	healthRouter := mux.NewRouter()
	healthRouter.HandleFunc(ha.HealthPath, ha.HealthHandler()).Methods(http.MethodPost)
	healthLn, err := listen(cfg.Server.HealthAddr)
	if err != nil {
		return err
	}
	aux = append(aux, auxServer{srv: &http.Server{Handler: healthRouter, ReadTimeout: 10 * time.Second}, ln: healthLn})

	var monitor *ha.Monitor
	switch cfg.Server.Role {
	case config.RoleBackup:
		role := ha.NewRoleState(ha.RoleStandby)
		prober := metrics.InstrumentProber(ha.NewHTTPProber(cfg.Failover.PrimaryHealthAddr, cfg.Failover.HeartbeatTimeout))
		monitor = ha.NewMonitor(ha.MonitorConfig{
			Interval:         cfg.Failover.HeartbeatInterval,
			FailureThreshold: cfg.Failover.MaxFailedHeartbeats,
		}, prober, role, logger.Named("failover"))
		defer monitor.Stop()
		monitor.Subscribe(func(t ha.Transition) {
			logger.Warn("role changed",
				zap.String("from", t.From.String()),
				zap.String("to", t.To.String()),
				zap.String("reason", t.Reason),
			)
		})
		opts.Role = role
		opts.Monitor = monitor

		syncRouter := mux.NewRouter()
		replication.NewReceiver(l, logger.Named("sync")).Routes(syncRouter)
		syncLn, err := listen(cfg.Server.SyncAddr)
		if err != nil {
			return err
		}
		aux = append(aux, auxServer{srv: &http.Server{Handler: syncRouter, ReadTimeout: 10 * time.Second}, ln: syncLn})

	default:
		opts.Role = ha.NewRoleState(ha.RolePrimary)
		opts.Replicator = replication.NewReplicator(cfg.Replication.BackupAddr, cfg.Replication.Timeout, logger.Named("replication"))
		if !opts.Replicator.Enabled() {
			logger.Warn("no backup configured; running without replication")
		}
	}

	server := api.NewServer(opts)
	apiLn, err := listen(cfg.Server.ListenAddr)
	if err != nil {
		return err
	}

	errc := make(chan error, len(aux)+1)
	for _, a := range aux {
		go func(a auxServer) { errc <- a.srv.Serve(a.ln) }(a)
	}
	go func() { errc <- server.Serve(apiLn) }()

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	if monitor != nil {
		go monitor.Run(monitorCtx)
	}

	logger.Info("roomd started",
		zap.String("listen", apiLn.Addr().String()),
		zap.String("health", healthLn.Addr().String()),
		zap.Int("rooms_total", cfg.Pool.Rooms),
		zap.Int("labs_total", cfg.Pool.Labs),
	)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errc:
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		} else {
			logger.Error("listener stopped", zap.Error(serveErr))
		}
	}
	stopMonitor()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	for _, a := range aux {
		if err := a.srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}
	opts.Replicator.Wait()

	return serveErr
}
