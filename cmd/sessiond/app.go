package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/pslog"
	"pkt.systems/sessiond"
	"pkt.systems/sessiond/internal/svcfields"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("SESSIOND_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "sessiond")
	cmd := newRootCommand(baseLogger)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sessiond",
		Short:         "sessiond replicates web sessions to cache nodes and relocates them when nodes fail",
		SilenceErrors: true,
		Example: `
  # Two primaries and a dedicated failover node
  sessiond --nodes "n1:10.0.0.1:6379 n2:10.0.0.2:6379 n3:10.0.0.3:6379" --failover-nodes n3

  # Node list from a watched file, async backups
  sessiond --nodes-file /etc/sessiond/nodes.yaml --watch-nodes-file --backup-mode async

  # In-memory stores (tests/dev only)
  SESSIOND_NODES="n1:localhost:0" sessiond --store-backend memory
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			logger := baseLogger
			cliLogger := svcfields.WithSubsystem(logger, "cli.root")

			configFile, err := loadConfigFile()
			if err != nil {
				return err
			}
			if configFile != "" {
				cliLogger.Info("loaded config file", "path", configFile)
			}

			cfg := bindConfig()

			logLevel := strings.TrimSpace(viper.GetString("log-level"))
			if level, ok := pslog.ParseLevel(logLevel); ok && logLevel != "" {
				logger = logger.LogLevel(level)
				cliLogger = svcfields.WithSubsystem(logger, "cli.root")
			}

			server, err := sessiond.NewServer(cfg, sessiond.WithLogger(logger))
			if err != nil {
				return err
			}
			cliLogger.Info("starting", "pid", os.Getpid(), "listen", cfg.Listen)
			return server.Start(cmd.Context())
		},
	}

	persistentFlags := cmd.PersistentFlags()
	persistentFlags.StringP("config", "c", "", "path to YAML config file")

	flags := cmd.Flags()
	flags.String("nodes", "", `space-separated node list, "id:host:port" per entry`)
	flags.String("failover-nodes", "", "node ids used only as relocation targets")
	flags.String("nodes-file", "", "YAML file carrying nodes/failover_nodes (wins over --nodes)")
	flags.Bool("watch-nodes-file", false, "reconfigure the node directory whenever --nodes-file changes")
	flags.String("store-backend", sessiond.DefaultStoreBackend, "per-node cache client (redis, memory)")
	flags.Duration("dial-timeout", sessiond.DefaultDialTimeout, "cache node connection timeout")
	flags.Duration("op-timeout", sessiond.DefaultOpTimeout, "per-command cache timeout")
	flags.String("redis-password", "", "password applied to every node client")
	flags.Int("redis-db", 0, "logical redis database on every node")
	flags.String("backup-mode", sessiond.DefaultBackupMode, "backup execution mode (sync, async, inline)")
	flags.Duration("backup-timeout", sessiond.DefaultBackupTimeout, "synchronous backup wait bound")
	flags.Int("backup-workers", sessiond.DefaultBackupWorkers, "backup worker pool size")
	flags.Int("backup-queue-size", 0, "backup submission queue size (0 derives from workers)")
	flags.String("listen", sessiond.DefaultListen, "admin API listen address")
	flags.String("metrics-listen", sessiond.DefaultMetricsListen, "metrics listen address (Prometheus scrape endpoint; empty disables)")
	flags.Bool("stats-enabled", true, "gather backup counters and latency probes")
	flags.String("log-level", "info", "minimum log level (trace, debug, info, warn, error)")

	bindFlag := func(name string) {
		flag := flags.Lookup(name)
		if flag == nil {
			flag = persistentFlags.Lookup(name)
		}
		if flag == nil {
			panic(fmt.Sprintf("flag %q not found", name))
		}
		if err := viper.BindPFlag(name, flag); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("SESSIOND")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	for _, name := range []string{
		"config",
		"nodes", "failover-nodes", "nodes-file", "watch-nodes-file",
		"store-backend", "dial-timeout", "op-timeout", "redis-password", "redis-db",
		"backup-mode", "backup-timeout", "backup-workers", "backup-queue-size",
		"listen", "metrics-listen", "stats-enabled", "log-level",
	} {
		bindFlag(name)
	}

	cmd.AddCommand(newConfigCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func bindConfig() sessiond.Config {
	cfg := sessiond.DefaultConfig()
	cfg.Nodes = viper.GetString("nodes")
	cfg.FailoverNodes = viper.GetString("failover-nodes")
	cfg.NodesFile = viper.GetString("nodes-file")
	cfg.WatchNodesFile = viper.GetBool("watch-nodes-file")
	cfg.StoreBackend = viper.GetString("store-backend")
	cfg.DialTimeout = viper.GetDuration("dial-timeout")
	cfg.OpTimeout = viper.GetDuration("op-timeout")
	cfg.RedisPassword = viper.GetString("redis-password")
	cfg.RedisDB = viper.GetInt("redis-db")
	cfg.BackupMode = viper.GetString("backup-mode")
	cfg.BackupTimeout = viper.GetDuration("backup-timeout")
	cfg.BackupWorkers = viper.GetInt("backup-workers")
	cfg.BackupQueueSize = viper.GetInt("backup-queue-size")
	cfg.Listen = viper.GetString("listen")
	cfg.MetricsListen = viper.GetString("metrics-listen")
	cfg.StatsEnabled = viper.GetBool("stats-enabled")
	return cfg
}

func loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(viper.GetString("config"))
	if cfgPath == "" {
		return "", nil
	}
	expanded, err := expandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}
	viper.SetConfigFile(expanded)
	if err := viper.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func expandPath(p string) (string, error) {
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Abs(p)
}
