package nodes

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"

	"pkt.systems/pslog"

	"pkt.systems/sessiond/internal/cache"
)

// StoreFactory builds the cache client for one node. The directory calls it
// once per node and owns the returned store until the node is removed by
// reconfiguration or the directory is closed.
type StoreFactory func(node Node) (cache.Store, error)

// Directory resolves nodes to their cache stores and picks relocation targets
// when a node fails. Resolution works against an immutable snapshot; the only
// mutations are the atomic snapshot swap in Reconfigure and the copy-on-write
// liveness set updated by MarkDown/MarkUp.
type Directory struct {
	factory StoreFactory
	logger  pslog.Logger

	snap atomic.Pointer[snapshot]
	down atomic.Pointer[map[string]struct{}]

	// reconfMu serializes Reconfigure/Close against each other only; readers
	// never take it.
	reconfMu sync.Mutex
	closed   bool
}

type snapshot struct {
	nodes     map[string]Node
	stores    map[string]cache.Store
	primaries []string // sorted ascending
	failovers []string // sorted ascending
}

// NodeStatus is one entry of a diagnostic snapshot.
type NodeStatus struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
	Role string `json:"role"`
	Down bool   `json:"down"`
}

// New builds a directory from a parsed node list.
func New(list []Node, factory StoreFactory, logger pslog.Logger) (*Directory, error) {
	if factory == nil {
		return nil, fmt.Errorf("nodes: nil store factory")
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	d := &Directory{factory: factory, logger: logger}
	empty := make(map[string]struct{})
	d.down.Store(&empty)
	snap, err := d.buildSnapshot(list, nil)
	if err != nil {
		return nil, err
	}
	d.snap.Store(snap)
	return d, nil
}

func (d *Directory) buildSnapshot(list []Node, prev *snapshot) (*snapshot, error) {
	snap := &snapshot{
		nodes:  make(map[string]Node, len(list)),
		stores: make(map[string]cache.Store, len(list)),
	}
	for _, n := range list {
		snap.nodes[n.ID] = n
		if prev != nil {
			if old, ok := prev.nodes[n.ID]; ok && old.Addr == n.Addr {
				snap.stores[n.ID] = prev.stores[n.ID]
				continue
			}
		}
		store, err := d.factory(n)
		if err != nil {
			// Close stores created for this half-built snapshot; reused ones
			// still belong to prev.
			for id, s := range snap.stores {
				if prev != nil {
					if _, ok := prev.stores[id]; ok {
						continue
					}
				}
				_ = s.Close()
			}
			return nil, fmt.Errorf("nodes: store for %s (%s): %w", n.ID, n.Addr, err)
		}
		snap.stores[n.ID] = store
	}
	for _, n := range list {
		if n.Role == RoleFailover {
			snap.failovers = append(snap.failovers, n.ID)
		} else {
			snap.primaries = append(snap.primaries, n.ID)
		}
	}
	sort.Strings(snap.primaries)
	sort.Strings(snap.failovers)
	return snap, nil
}

// Resolve returns the directory entry for nodeID. A node marked down still
// resolves; liveness marks are hints for alternate selection, not leases.
func (d *Directory) Resolve(nodeID string) (Node, error) {
	snap := d.snap.Load()
	n, ok := snap.nodes[nodeID]
	if !ok {
		return Node{}, fmt.Errorf("%w: %s", ErrNotFound, nodeID)
	}
	return n, nil
}

// Known reports whether nodeID is currently configured.
func (d *Directory) Known(nodeID string) bool {
	_, ok := d.snap.Load().nodes[nodeID]
	return ok
}

// StoreFor returns the cache store of nodeID.
func (d *Directory) StoreFor(nodeID string) (cache.Store, error) {
	snap := d.snap.Load()
	s, ok := snap.stores[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, nodeID)
	}
	return s, nil
}

// PickAlternate selects a relocation target after failedNodeID became
// unreachable. Explicitly configured failover nodes win over primaries; ties
// break deterministically on the lowest node id. The failed node and nodes
// currently marked down are never returned.
func (d *Directory) PickAlternate(failedNodeID string) (string, error) {
	snap := d.snap.Load()
	down := *d.down.Load()
	pick := func(ids []string) (string, bool) {
		for _, id := range ids {
			if id == failedNodeID {
				continue
			}
			if _, isDown := down[id]; isDown {
				continue
			}
			return id, true
		}
		return "", false
	}
	if id, ok := pick(snap.failovers); ok {
		return id, nil
	}
	if id, ok := pick(snap.primaries); ok {
		return id, nil
	}
	return "", ErrNoNodesAvailable
}

// PickOwner assigns an owning node for a new session. Assignment hashes the
// base identifier across the primary nodes not currently marked down, so a
// given session lands on the same node as long as the node set is stable.
// Failover-only nodes are never handed out as owners.
func (d *Directory) PickOwner(baseID string) (string, error) {
	snap := d.snap.Load()
	down := *d.down.Load()
	candidates := make([]string, 0, len(snap.primaries))
	for _, id := range snap.primaries {
		if _, isDown := down[id]; isDown {
			continue
		}
		candidates = append(candidates, id)
	}
	if len(candidates) == 0 {
		return "", ErrNoNodesAvailable
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(baseID))
	return candidates[int(h.Sum32())%len(candidates)], nil
}

// MarkDown records nodeID as unreachable, excluding it from PickAlternate
// until marked up again or removed by reconfiguration.
func (d *Directory) MarkDown(nodeID string) {
	if !d.Known(nodeID) {
		return
	}
	for {
		cur := d.down.Load()
		if _, ok := (*cur)[nodeID]; ok {
			return
		}
		next := make(map[string]struct{}, len(*cur)+1)
		for id := range *cur {
			next[id] = struct{}{}
		}
		next[nodeID] = struct{}{}
		if d.down.CompareAndSwap(cur, &next) {
			d.logger.Info("nodes.mark_down", "node", nodeID)
			return
		}
	}
}

// MarkUp clears the down mark for nodeID.
func (d *Directory) MarkUp(nodeID string) {
	for {
		cur := d.down.Load()
		if _, ok := (*cur)[nodeID]; !ok {
			return
		}
		next := make(map[string]struct{}, len(*cur))
		for id := range *cur {
			if id != nodeID {
				next[id] = struct{}{}
			}
		}
		if d.down.CompareAndSwap(cur, &next) {
			d.logger.Info("nodes.mark_up", "node", nodeID)
			return
		}
	}
}

// Down reports whether nodeID is currently marked down.
func (d *Directory) Down(nodeID string) bool {
	_, ok := (*d.down.Load())[nodeID]
	return ok
}

// Reconfigure atomically swaps the active node set. Stores of unchanged
// nodes are reused; stores of removed nodes are closed. In-flight operations
// keep the snapshot they resolved and are not disturbed.
func (d *Directory) Reconfigure(nodeSpec, failoverIDs string) error {
	list, err := Parse(nodeSpec, failoverIDs)
	if err != nil {
		return err
	}
	d.reconfMu.Lock()
	defer d.reconfMu.Unlock()
	if d.closed {
		return fmt.Errorf("nodes: directory closed")
	}
	prev := d.snap.Load()
	next, err := d.buildSnapshot(list, prev)
	if err != nil {
		return err
	}
	d.snap.Store(next)
	// Drop down marks and stores for nodes no longer listed.
	for id, store := range prev.stores {
		if _, kept := next.nodes[id]; kept {
			continue
		}
		d.MarkUp(id)
		_ = store.Close()
	}
	d.logger.Info("nodes.reconfigured",
		"primaries", len(next.primaries),
		"failovers", len(next.failovers),
	)
	return nil
}

// Snapshot returns the current node set with liveness, sorted by id.
func (d *Directory) Snapshot() []NodeStatus {
	snap := d.snap.Load()
	down := *d.down.Load()
	out := make([]NodeStatus, 0, len(snap.nodes))
	for _, n := range snap.nodes {
		_, isDown := down[n.ID]
		out = append(out, NodeStatus{ID: n.ID, Addr: n.Addr, Role: n.Role.String(), Down: isDown})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close releases all node stores. The directory is unusable afterwards.
func (d *Directory) Close() error {
	d.reconfMu.Lock()
	defer d.reconfMu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	snap := d.snap.Load()
	var firstErr error
	for _, store := range snap.stores {
		if err := store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
