package sessiond

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"pkt.systems/pslog"

	"pkt.systems/sessiond/internal/backup"
	"pkt.systems/sessiond/internal/cache"
	cachelog "pkt.systems/sessiond/internal/cache/logging"
	"pkt.systems/sessiond/internal/cache/memory"
	cacheredis "pkt.systems/sessiond/internal/cache/redis"
	"pkt.systems/sessiond/internal/clock"
	"pkt.systems/sessiond/internal/httpapi"
	"pkt.systems/sessiond/internal/nodes"
	"pkt.systems/sessiond/internal/session"
	"pkt.systems/sessiond/internal/sessionid"
	"pkt.systems/sessiond/internal/stats"
	"pkt.systems/sessiond/internal/svcfields"
)

// Server wires the node directory, the backup service, and the admin and
// metrics listeners. The hosting session container calls NewSession, Backup,
// Restore, Remove and UpdateExpiration; operators use the admin API.
type Server struct {
	cfg      Config
	logger   pslog.Logger
	clk      clock.Clock
	registry *stats.Registry

	directory *nodes.Directory
	service   *backup.Service

	adminServer   *http.Server
	adminLn       net.Listener
	metricsServer *http.Server
	metricsLn     net.Listener

	watcher   *fsnotify.Watcher
	watchDone chan struct{}

	readyOnce sync.Once
	readyCh   chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option configures server instances.
type Option func(*options)

type options struct {
	logger     pslog.Logger
	clk        clock.Clock
	factory    nodes.StoreFactory
	transcoder session.Transcoder
}

// WithLogger supplies a custom logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock injects a custom clock implementation.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clk = c }
}

// WithStoreFactory overrides the per-node store construction; useful for
// tests injecting fault-injectable stores.
func WithStoreFactory(f nodes.StoreFactory) Option {
	return func(o *options) { o.factory = f }
}

// WithTranscoder plugs in a custom attribute codec.
func WithTranscoder(t session.Transcoder) Option {
	return func(o *options) { o.transcoder = t }
}

// NewServer constructs a sessiond server according to cfg.
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	clk := o.clk
	if clk == nil {
		clk = clock.Real{}
	}

	nodeSpec, failoverIDs := cfg.Nodes, cfg.FailoverNodes
	if cfg.NodesFile != "" {
		nf, err := loadNodesFile(cfg.NodesFile)
		if err != nil {
			return nil, err
		}
		nodeSpec, failoverIDs = nf.Nodes, nf.FailoverNodes
	}
	list, err := nodes.Parse(nodeSpec, failoverIDs)
	if err != nil {
		return nil, err
	}

	registry := stats.New(cfg.StatsEnabled)

	factory := o.factory
	if factory == nil {
		factory = storeFactory(cfg, svcfields.WithSubsystem(logger, "cache"))
	}
	directory, err := nodes.New(list, factory, svcfields.WithSubsystem(logger, "nodes"))
	if err != nil {
		return nil, err
	}

	transcoder := o.transcoder
	if transcoder == nil {
		transcoder = session.JSONTranscoder{}
	}
	mode, err := backup.ParseMode(cfg.BackupMode)
	if err != nil {
		_ = directory.Close()
		return nil, err
	}
	service := backup.NewService(backup.Config{
		Mode:      mode,
		Timeout:   cfg.BackupTimeout,
		Workers:   cfg.BackupWorkers,
		QueueSize: cfg.BackupQueueSize,
	}, directory, transcoder, registry, svcfields.WithSubsystem(logger, "backup"), clk)

	s := &Server{
		cfg:       cfg,
		logger:    svcfields.WithSubsystem(logger, "server"),
		clk:       clk,
		registry:  registry,
		directory: directory,
		service:   service,
		readyCh:   make(chan struct{}),
	}
	s.adminServer = &http.Server{
		Handler:           httpapi.New(directory, registry, svcfields.WithSubsystem(logger, "admin")),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if cfg.MetricsListen != "" {
		s.metricsServer = &http.Server{
			Handler:           metricsHandler(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return s, nil
}

// storeFactory builds the per-node cache client selected by cfg, decorated
// with span/debug logging.
func storeFactory(cfg Config, logger pslog.Logger) nodes.StoreFactory {
	return func(n nodes.Node) (cache.Store, error) {
		var inner cache.Store
		switch cfg.StoreBackend {
		case StoreBackendMemory:
			inner = memory.New()
		default:
			inner = cacheredis.New(cacheredis.Config{
				Addr:        n.Addr,
				DialTimeout: cfg.DialTimeout,
				OpTimeout:   cfg.OpTimeout,
				Password:    cfg.RedisPassword,
				DB:          cfg.RedisDB,
			})
		}
		return cachelog.Wrap(inner, logger, n.ID), nil
	}
}

// Start binds the listeners and serves until ctx is cancelled or a listener
// fails. On any error Start shuts the server down before returning, so
// nothing keeps running behind a failed start.
func (s *Server) Start(ctx context.Context) error {
	adminLn, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		_ = s.Shutdown(context.Background())
		return fmt.Errorf("sessiond: listen %s: %w", s.cfg.Listen, err)
	}
	s.adminLn = adminLn

	serveErr := make(chan error, 2)
	go func() {
		if err := s.adminServer.Serve(adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	s.logger.Info("sessiond.admin.listening", "addr", adminLn.Addr().String())

	if s.metricsServer != nil {
		metricsLn, err := net.Listen("tcp", s.cfg.MetricsListen)
		if err != nil {
			_ = s.Shutdown(context.Background())
			return fmt.Errorf("sessiond: metrics listen %s: %w", s.cfg.MetricsListen, err)
		}
		s.metricsLn = metricsLn
		go func() {
			if err := s.metricsServer.Serve(metricsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
		s.logger.Info("sessiond.metrics.listening", "addr", metricsLn.Addr().String())
	}

	if s.cfg.WatchNodesFile && s.cfg.NodesFile != "" {
		if err := s.startNodesWatch(); err != nil {
			_ = s.Shutdown(context.Background())
			return err
		}
	}

	s.signalReady()
	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-serveErr:
		_ = s.Shutdown(context.Background())
		return err
	}
}

func (s *Server) signalReady() {
	s.readyOnce.Do(func() { close(s.readyCh) })
}

// WaitUntilReady blocks until the listeners are bound or ctx ends.
func (s *Server) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AdminAddr returns the bound admin listener address once available.
func (s *Server) AdminAddr() net.Addr {
	if s.adminLn == nil {
		return nil
	}
	return s.adminLn.Addr()
}

// startNodesWatch reloads the nodes file whenever it changes. The parent
// directory is watched because editors and config pushers replace the file
// rather than writing in place.
func (s *Server) startNodesWatch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("sessiond: nodes watch: %w", err)
	}
	dir := filepath.Dir(s.cfg.NodesFile)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("sessiond: watch %s: %w", dir, err)
	}
	s.watcher = watcher
	s.watchDone = make(chan struct{})
	target := filepath.Clean(s.cfg.NodesFile)
	go func() {
		defer close(s.watchDone)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				nf, err := loadNodesFile(target)
				if err != nil {
					s.logger.Warn("sessiond.nodes_file.reload_failed", "error", err)
					continue
				}
				if err := s.directory.Reconfigure(nf.Nodes, nf.FailoverNodes); err != nil {
					s.logger.Warn("sessiond.nodes_file.reconfigure_failed", "error", err)
					continue
				}
				s.logger.Info("sessiond.nodes_file.reloaded", "path", target)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("sessiond.nodes_file.watch_error", "error", err)
			}
		}
	}()
	return nil
}

// NewSession creates a session owned by a reachable primary node. With zero
// reachable primaries the session is created node-less; it keeps working
// locally and gets a node on a later backup cycle.
func (s *Server) NewSession() *session.Session {
	sess := session.New(s.clk.Now())
	owner, err := s.directory.PickOwner(sess.ID())
	if err != nil {
		s.logger.Warn("sessiond.new_session.unassigned", "error", err)
		return sess
	}
	sess.SetID(sessionid.WithNodeID(sess.ID(), owner))
	return sess
}

// Backup stores the session if it was modified or needs relocation.
func (s *Server) Backup(ctx context.Context, sess *session.Session, idChanged bool) *backup.Future {
	return s.service.Backup(ctx, sess, idChanged)
}

// Restore fetches and decodes the session stored under id.
func (s *Server) Restore(ctx context.Context, id string) (*session.Session, error) {
	return s.service.Restore(ctx, id)
}

// Remove deletes the stored entry for an invalidated session.
func (s *Server) Remove(ctx context.Context, id string) error {
	return s.service.Remove(ctx, id)
}

// UpdateExpiration refreshes the remote entry's time-to-live.
func (s *Server) UpdateExpiration(ctx context.Context, sess *session.Session) (backup.Outcome, error) {
	return s.service.UpdateExpiration(ctx, sess)
}

// Stats exposes the statistics registry.
func (s *Server) Stats() *stats.Registry {
	return s.registry
}

// Directory exposes the node directory for administrative callers.
func (s *Server) Directory() *nodes.Directory {
	return s.directory
}

// Shutdown stops the listeners, the nodes-file watch, the backup service and
// the node stores. Idempotent.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		var errs []error
		if s.watcher != nil {
			_ = s.watcher.Close()
			<-s.watchDone
		}
		if s.adminLn != nil {
			if err := s.adminServer.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if s.metricsLn != nil {
			if err := s.metricsServer.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := s.service.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := s.directory.Close(); err != nil {
			errs = append(errs, err)
		}
		s.shutdownErr = errors.Join(errs...)
		s.logger.Info("sessiond.shutdown_complete")
	})
	return s.shutdownErr
}

// Close shuts the server down using a background context.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}
