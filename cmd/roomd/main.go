// cmd/roomd/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/FairForge/roomd/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	os.Exit(submain(context.Background()))
}

func submain(ctx context.Context) int {
	cmd := newRootCommand()
	ctx = withSignalCancel(ctx)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if err != context.Canceled {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("ROOMD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "roomd",
		Short:         "roomd allocates rooms and labs from a replicated primary/backup pair",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `
  # primary with a backup at 10.0.0.2
  roomd serve --role primary --backup-addr 10.0.0.2:5556

  # backup watching the primary's health listener
  roomd serve --role backup --primary-health-addr 10.0.0.1:5557

  # reserve 7 rooms and 2 labs, falling back to the backup
  roomd request --requester engineering --rooms 7 --labs 2 --primary-addr 10.0.0.1:5555 --backup-addr 10.0.0.2:5555
`,
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "path to a YAML config file")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	mustBindFlags(v, flags, "config", "log-level")

	cmd.AddCommand(
		newServeCommand(v),
		newRequestCommand(v),
		newAdminCommand(v),
		newTokenCommand(v),
	)
	return cmd
}

func mustBindFlags(v *viper.Viper, flags *pflag.FlagSet, names ...string) {
	if err := bindFlags(v, flags, names...); err != nil {
		panic(err)
	}
}

// bindFlags runs from PreRunE so commands sharing a flag name each bind
// their own flag
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, names ...string) error {
	for _, name := range names {
		flag := flags.Lookup(name)
		if flag == nil {
			return fmt.Errorf("flag %q not found", name)
		}
		if err := v.BindPFlag(name, flag); err != nil {
			return fmt.Errorf("bind flag %q: %w", name, err)
		}
	}
	return nil
}

// loadConfig layers defaults, the YAML file, ROOMD_* variables and finally
// flags or their environment equivalents
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Load(strings.TrimSpace(v.GetString("config")))
	if err != nil {
		return nil, err
	}
	config.LoadFromEnv(cfg)

	setString := func(key string, dst *string) {
		if v.IsSet(key) && v.GetString(key) != "" {
			*dst = v.GetString(key)
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) && v.GetInt(key) != 0 {
			*dst = v.GetInt(key)
		}
	}

	setString("log-level", &cfg.Server.LogLevel)
	setString("role", &cfg.Server.Role)
	setString("listen", &cfg.Server.ListenAddr)
	setString("sync-listen", &cfg.Server.SyncAddr)
	setString("health-listen", &cfg.Server.HealthAddr)
	setString("primary-health-addr", &cfg.Failover.PrimaryHealthAddr)
	setString("store", &cfg.Database.Driver)
	setInt("rooms", &cfg.Pool.Rooms)
	setInt("labs", &cfg.Pool.Labs)
	setString("primary-addr", &cfg.Client.PrimaryAddr)
	setString("server", &cfg.Client.AdminAddr)
	setString("token", &cfg.Client.AdminToken)

	// --backup-addr names the sync target for a server and the fallback
	// endpoint for a client
	if v.IsSet("backup-addr") {
		cfg.Replication.BackupAddr = v.GetString("backup-addr")
		cfg.Client.BackupAddr = v.GetString("backup-addr")
	}
	if v.IsSet("timeout") && v.GetDuration("timeout") > 0 {
		cfg.Client.Timeout = v.GetDuration("timeout")
	}

	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		lvl = parsed
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
