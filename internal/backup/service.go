package backup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/sessiond/internal/cache"
	"pkt.systems/sessiond/internal/clock"
	"pkt.systems/sessiond/internal/nodes"
	"pkt.systems/sessiond/internal/session"
	"pkt.systems/sessiond/internal/sessionid"
	"pkt.systems/sessiond/internal/stats"
)

// Mode selects the execution strategy for backup writes.
type Mode int

const (
	// ModeSync submits to the worker pool and blocks the caller up to the
	// configured timeout. A slow store delays the caller by at most the
	// timeout; the write keeps running and reports via statistics.
	ModeSync Mode = iota
	// ModeAsync submits to the worker pool and returns immediately.
	ModeAsync
	// ModeInline runs the write on the caller's goroutine. The returned
	// future is resolved at birth, so the await never blocks; the caller
	// pays the full store latency and the timeout has no effect.
	ModeInline
)

func (m Mode) String() string {
	switch m {
	case ModeAsync:
		return "async"
	case ModeInline:
		return "inline"
	default:
		return "sync"
	}
}

// ParseMode reads a mode name.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "sync":
		return ModeSync, nil
	case "async":
		return ModeAsync, nil
	case "inline":
		return ModeInline, nil
	}
	return ModeSync, fmt.Errorf("backup: unknown mode %q", s)
}

// Config configures a Service.
type Config struct {
	Mode Mode
	// Timeout bounds the synchronous wait on a backup future. Zero means
	// DefaultTimeout.
	Timeout time.Duration
	// Workers sizes the pool for ModeSync/ModeAsync. Zero means one.
	Workers int
	// QueueSize bounds the pool's submission queue. Zero derives from Workers.
	QueueSize int
}

// DefaultTimeout is the synchronous-mode wait bound when none is configured.
const DefaultTimeout = 100 * time.Millisecond

// Service is the backup orchestrator.
type Service struct {
	mode       Mode
	timeout    time.Duration
	exec       Executor
	directory  *nodes.Directory
	transcoder session.Transcoder
	stats      *stats.Registry
	logger     pslog.Logger
	clk        clock.Clock

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewService wires the orchestrator. registry may be a disabled registry but
// must not be nil.
func NewService(cfg Config, directory *nodes.Directory, transcoder session.Transcoder, registry *stats.Registry, logger pslog.Logger, clk clock.Clock) *Service {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	var exec Executor
	if cfg.Mode == ModeInline {
		exec = NewInlineExecutor()
	} else {
		exec = NewPooledExecutor(cfg.Workers, cfg.QueueSize, logger)
	}
	return &Service{
		mode:       cfg.Mode,
		timeout:    cfg.Timeout,
		exec:       exec,
		directory:  directory,
		transcoder: transcoder,
		stats:      registry,
		logger:     logger,
		clk:        clk,
	}
}

// Backup stores the session if it was modified or needs relocation. The
// effective-backup probe always records the caller-visible elapsed time,
// including skipped and failed paths. In synchronous mode the call blocks on
// the future up to the timeout; on timeout it logs and returns the still
// in-flight future rather than failing the caller's request.
func (s *Service) Backup(ctx context.Context, sess *session.Session, idChanged bool) *Future {
	start := s.clk.Now()
	defer func() {
		s.stats.Probe(stats.ProbeEffectiveBackup).Register(s.clk.Since(start).Milliseconds())
	}()

	task := newTask(sess, idChanged, false, s)
	future := s.exec.Submit(func() (Outcome, error) {
		return task.Run(context.WithoutCancel(ctx))
	})

	if s.mode != ModeAsync {
		outcome, done, err := future.WaitTimeout(s.clk, s.timeout)
		switch {
		case !done:
			s.logger.Info("backup.timeout", "session", sess.ID(), "timeout", s.timeout)
		case err != nil:
			s.logger.Info("backup.failed", "session", sess.ID(), "outcome", outcome.String(), "error", err)
		}
	}
	return future
}

// UpdateExpiration refreshes the remote entry's time-to-live by rewriting
// the session, bypassing the dirty checks. It runs on the caller's
// goroutine. Only one expiration update per session is in flight at a time;
// a concurrent touch is suppressed.
func (s *Service) UpdateExpiration(ctx context.Context, sess *session.Session) (Outcome, error) {
	if !sessionid.IsValid(sess.ID()) {
		return OutcomeSkipped, nil
	}
	if !sess.BeginExpirationUpdate() {
		return OutcomeSkipped, ErrTouchInFlight
	}
	defer sess.EndExpirationUpdate()

	task := newTask(sess, false, true, s)
	outcome, err := task.Run(ctx)
	if err == nil {
		s.stats.Inc(stats.CounterExpirationUpdates)
	}
	return outcome, err
}

// Restore fetches and decodes the session stored under id from its owning
// node. A missing entry surfaces as cache.ErrNotFound.
func (s *Service) Restore(ctx context.Context, id string) (*session.Session, error) {
	nodeID := sessionid.ExtractNodeID(id)
	if nodeID == "" || !s.directory.Known(nodeID) {
		return nil, fmt.Errorf("%w: %s", ErrNoOwningNode, id)
	}
	store, err := s.directory.StoreFor(nodeID)
	if err != nil {
		return nil, err
	}
	start := s.clk.Now()
	data, err := store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	meta, attrData, err := s.transcoder.Decode(data)
	if err != nil {
		return nil, err
	}
	attrs, err := s.transcoder.DecodeAttributes(attrData)
	if err != nil {
		return nil, err
	}
	s.stats.Probe(stats.ProbeRestore).Register(s.clk.Since(start).Milliseconds())
	s.stats.Inc(stats.CounterSessionsRestored)
	return session.Restore(meta, attrs), nil
}

// Remove deletes the stored entry for id on its owning node; called when the
// container invalidates a session. An unknown owning node is a no-op.
func (s *Service) Remove(ctx context.Context, id string) error {
	nodeID := sessionid.ExtractNodeID(id)
	if nodeID == "" || !s.directory.Known(nodeID) {
		return nil
	}
	store, err := s.directory.StoreFor(nodeID)
	if err != nil {
		return nil
	}
	if err := store.Delete(ctx, id); err != nil {
		if cache.Unreachable(err) {
			s.directory.MarkDown(nodeID)
		}
		return err
	}
	s.stats.Inc(stats.CounterSessionsRemoved)
	return nil
}

// Shutdown stops the execution strategy, draining outstanding work.
// Idempotent; subsequent calls return the first result.
func (s *Service) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.exec.Shutdown(ctx)
	})
	return s.shutdownErr
}
