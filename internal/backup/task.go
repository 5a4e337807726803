package backup

import (
	"context"
	"fmt"

	"pkt.systems/pslog"

	"pkt.systems/sessiond/internal/cache"
	"pkt.systems/sessiond/internal/clock"
	"pkt.systems/sessiond/internal/nodes"
	"pkt.systems/sessiond/internal/session"
	"pkt.systems/sessiond/internal/sessionid"
	"pkt.systems/sessiond/internal/stats"
)

// Task is one backup attempt for one session. Run works through the skip,
// write and relocate decisions and terminates at the first matching outcome.
type Task struct {
	sess       *session.Session
	idChanged  bool
	touch      bool // expiration refresh: bypass the dirty checks
	transcoder session.Transcoder
	directory  *nodes.Directory
	stats      *stats.Registry
	logger     pslog.Logger
	clk        clock.Clock
}

func newTask(sess *session.Session, idChanged, touch bool, deps *Service) *Task {
	return &Task{
		sess:       sess,
		idChanged:  idChanged,
		touch:      touch,
		transcoder: deps.transcoder,
		directory:  deps.directory,
		stats:      deps.stats,
		logger:     deps.logger,
		clk:        deps.clk,
	}
}

// Run executes the task.
func (t *Task) Run(ctx context.Context) (Outcome, error) {
	id := t.sess.ID()
	nodeID := sessionid.ExtractNodeID(id)
	if nodeID == "" || !t.directory.Known(nodeID) {
		if !t.idChanged {
			t.stats.Inc(stats.CounterBackupFailures)
			t.logger.Debug("backup.no_owning_node", "session", id)
			return OutcomeFailure, fmt.Errorf("%w: %s", ErrNoOwningNode, id)
		}
		// A forced identifier change with no resolvable node falls through to
		// relocation from scratch.
		return t.relocate(ctx, nodeID)
	}

	if t.touch {
		return t.write(ctx, nodeID)
	}

	if !t.sess.WasAccessedSinceLastCheck() && !t.idChanged {
		t.stats.Inc(stats.CounterSkipsNoSessionAccess)
		t.logger.Debug("backup.skip.no_session_access", "session", id)
		return OutcomeSkipped, nil
	}

	if !t.sess.AttributesAccessedSinceLastBackup() &&
		!t.idChanged &&
		!t.sess.AuthenticationChanged() &&
		!t.sess.IsNew() {
		t.stats.Inc(stats.CounterSkipsNoAttributeAccess)
		t.logger.Debug("backup.skip.no_attribute_access", "session", id)
		return OutcomeSkipped, nil
	}

	return t.write(ctx, nodeID)
}

// write serializes the session and stores it on the owning node, failing
// over to an alternate node on unreachability.
func (t *Task) write(ctx context.Context, nodeID string) (Outcome, error) {
	data, err := t.serialize()
	if err != nil {
		t.stats.Inc(stats.CounterBackupFailures)
		return OutcomeFailure, err
	}

	store, err := t.directory.StoreFor(nodeID)
	if err != nil {
		return t.relocateWith(ctx, nodeID, data)
	}

	start := t.clk.Now()
	err = store.Set(ctx, t.sess.ID(), t.sess.RemainingTTL(t.clk.Now()), data)
	if err == nil {
		t.stats.Probe(stats.ProbeStoreUpdate).Register(t.clk.Since(start).Milliseconds())
		t.stats.Probe(stats.ProbeBackup).Register(t.clk.Since(start).Milliseconds())
		t.stats.Inc(stats.CounterBackups)
		t.sess.MarkBackedUp()
		return OutcomeSuccess, nil
	}

	if !cache.Unreachable(err) {
		// The node is alive but refused the write; failover would not help.
		t.stats.Inc(stats.CounterBackupFailures)
		t.logger.Warn("backup.store_rejected", "session", t.sess.ID(), "node", nodeID, "error", err)
		return OutcomeFailure, err
	}

	t.logger.Info("backup.node_unreachable", "session", t.sess.ID(), "node", nodeID, "error", err)
	t.directory.MarkDown(nodeID)
	return t.relocateWith(ctx, nodeID, data)
}

// relocate serializes and then relocates; used when the current node id is
// unusable from the start.
func (t *Task) relocate(ctx context.Context, failedNodeID string) (Outcome, error) {
	data, err := t.serialize()
	if err != nil {
		t.stats.Inc(stats.CounterBackupFailures)
		return OutcomeFailure, err
	}
	return t.relocateWith(ctx, failedNodeID, data)
}

// relocateWith rewrites the session identifier to an alternate node and
// retries the write once. With no alternate available the previous
// identifier stays untouched so the session keeps working locally.
func (t *Task) relocateWith(ctx context.Context, failedNodeID string, data []byte) (Outcome, error) {
	alternate, err := t.directory.PickAlternate(failedNodeID)
	if err != nil {
		t.stats.Inc(stats.CounterNoNodesAvailable)
		t.stats.Inc(stats.CounterBackupFailures)
		t.logger.Warn("backup.no_nodes_available", "session", t.sess.ID(), "failed_node", failedNodeID)
		return OutcomeFailure, err
	}

	store, err := t.directory.StoreFor(alternate)
	if err != nil {
		t.stats.Inc(stats.CounterBackupFailures)
		return OutcomeFailure, err
	}

	newID := sessionid.WithNodeID(t.sess.ID(), alternate)
	t.sess.SetID(newID)
	t.logger.Info("backup.relocating", "session", newID, "from", failedNodeID, "to", alternate)

	start := t.clk.Now()
	if err := store.Set(ctx, newID, t.sess.RemainingTTL(t.clk.Now()), data); err != nil {
		t.stats.Inc(stats.CounterBackupFailures)
		if cache.Unreachable(err) {
			t.directory.MarkDown(alternate)
		}
		t.logger.Warn("backup.relocation_failed", "session", newID, "node", alternate, "error", err)
		return OutcomeFailure, err
	}
	t.stats.Probe(stats.ProbeStoreUpdate).Register(t.clk.Since(start).Milliseconds())
	t.stats.Inc(stats.CounterRelocations)
	t.sess.MarkBackedUp()
	return OutcomeRelocated, nil
}

// serialize encodes the attribute map and wraps it with the session header.
func (t *Task) serialize() ([]byte, error) {
	start := t.clk.Now()
	attrData, err := t.transcoder.EncodeAttributes(t.sess.Attributes())
	if err != nil {
		return nil, err
	}
	t.stats.Probe(stats.ProbeAttributeSerialization).Register(t.clk.Since(start).Milliseconds())
	data, err := t.transcoder.Encode(t.sess.Metadata(), attrData)
	if err != nil {
		return nil, err
	}
	t.stats.Probe(stats.ProbeCachedDataSize).Register(int64(len(data)))
	return data, nil
}
