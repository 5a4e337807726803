package sessiond

import (
	"fmt"
	"strings"
	"time"

	"pkt.systems/sessiond/internal/backup"
)

const (
	// DefaultListen is the admin API endpoint the server binds to.
	DefaultListen = ":9632"
	// DefaultMetricsListen is the Prometheus scrape endpoint. Empty disables
	// the metrics listener.
	DefaultMetricsListen = ""
	// DefaultStoreBackend selects the cache client used per node.
	DefaultStoreBackend = "redis"
	// DefaultBackupMode runs backups synchronously under the backup timeout.
	DefaultBackupMode = "sync"
	// DefaultBackupTimeout bounds the synchronous wait on a backup.
	DefaultBackupTimeout = 100 * time.Millisecond
	// DefaultBackupWorkers sizes the backup worker pool.
	DefaultBackupWorkers = 4
	// DefaultDialTimeout bounds cache node connection establishment.
	DefaultDialTimeout = 2 * time.Second
	// DefaultOpTimeout bounds individual cache commands.
	DefaultOpTimeout = 1 * time.Second
)

// StoreBackendMemory keeps all entries in process memory; for tests and
// local development only.
const (
	StoreBackendRedis  = "redis"
	StoreBackendMemory = "memory"
)

// Config configures a sessiond Server.
type Config struct {
	// Nodes is the space-separated node list, "id:host:port" per entry.
	Nodes string `yaml:"nodes"`
	// FailoverNodes lists ids from Nodes used only as relocation targets.
	FailoverNodes string `yaml:"failover-nodes"`
	// NodesFile points at a YAML file carrying nodes/failover_nodes. The
	// file wins over the inline fields and can be watched for live
	// reconfiguration.
	NodesFile string `yaml:"nodes-file"`
	// WatchNodesFile reconfigures the directory whenever NodesFile changes.
	WatchNodesFile bool `yaml:"watch-nodes-file"`

	// StoreBackend is "redis" or "memory".
	StoreBackend string `yaml:"store-backend"`
	// DialTimeout bounds cache node connection establishment.
	DialTimeout time.Duration `yaml:"dial-timeout"`
	// OpTimeout bounds individual cache commands.
	OpTimeout time.Duration `yaml:"op-timeout"`
	// RedisPassword is applied to every node client.
	RedisPassword string `yaml:"redis-password"`
	// RedisDB selects the logical database on every node.
	RedisDB int `yaml:"redis-db"`

	// BackupMode is "sync", "async" or "inline".
	BackupMode string `yaml:"backup-mode"`
	// BackupTimeout bounds the synchronous wait on a backup future.
	BackupTimeout time.Duration `yaml:"backup-timeout"`
	// BackupWorkers sizes the worker pool for sync/async modes.
	BackupWorkers int `yaml:"backup-workers"`
	// BackupQueueSize bounds the pool's submission queue (0 derives from
	// BackupWorkers).
	BackupQueueSize int `yaml:"backup-queue-size"`

	// Listen is the admin API endpoint.
	Listen string `yaml:"listen"`
	// MetricsListen is the Prometheus scrape endpoint; empty disables it.
	MetricsListen string `yaml:"metrics-listen"`

	// StatsEnabled selects the gathering statistics registry; disabled, all
	// counters and probes are zero-cost no-ops.
	StatsEnabled bool `yaml:"stats-enabled"`
}

// DefaultConfig returns a Config with every default applied. Nodes must
// still be supplied.
func DefaultConfig() Config {
	return Config{
		StoreBackend:  DefaultStoreBackend,
		DialTimeout:   DefaultDialTimeout,
		OpTimeout:     DefaultOpTimeout,
		BackupMode:    DefaultBackupMode,
		BackupTimeout: DefaultBackupTimeout,
		BackupWorkers: DefaultBackupWorkers,
		Listen:        DefaultListen,
		MetricsListen: DefaultMetricsListen,
		StatsEnabled:  true,
	}
}

// Validate normalizes cfg in place and reports the first problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Nodes) == "" && strings.TrimSpace(c.NodesFile) == "" {
		return fmt.Errorf("sessiond: no nodes configured (set nodes or nodes_file)")
	}
	if c.StoreBackend == "" {
		c.StoreBackend = DefaultStoreBackend
	}
	switch c.StoreBackend {
	case StoreBackendRedis, StoreBackendMemory:
	default:
		return fmt.Errorf("sessiond: unknown store backend %q", c.StoreBackend)
	}
	if _, err := backup.ParseMode(c.BackupMode); err != nil {
		return err
	}
	if c.BackupTimeout <= 0 {
		c.BackupTimeout = DefaultBackupTimeout
	}
	if c.BackupWorkers <= 0 {
		c.BackupWorkers = DefaultBackupWorkers
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = DefaultOpTimeout
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	return nil
}
