package nodes_test

import (
	"errors"
	"testing"

	"pkt.systems/sessiond/internal/cache"
	"pkt.systems/sessiond/internal/cache/memory"
	"pkt.systems/sessiond/internal/nodes"
)

func memoryFactory(t *testing.T) (nodes.StoreFactory, map[string]*memory.Store) {
	t.Helper()
	stores := make(map[string]*memory.Store)
	return func(n nodes.Node) (cache.Store, error) {
		s := memory.New()
		stores[n.ID] = s
		return s, nil
	}, stores
}

func newDirectory(t *testing.T, nodeSpec, failoverIDs string) (*nodes.Directory, map[string]*memory.Store) {
	t.Helper()
	list, err := nodes.Parse(nodeSpec, failoverIDs)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	factory, stores := memoryFactory(t)
	d, err := nodes.New(list, factory, nil)
	if err != nil {
		t.Fatalf("new directory: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d, stores
}

func TestParse(t *testing.T) {
	t.Parallel()

	list, err := nodes.Parse("n1:localhost:21211 n2:localhost:21212 n3:localhost:21213", "n3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("nodes = %d, want 3", len(list))
	}
	roles := map[string]nodes.Role{}
	for _, n := range list {
		roles[n.ID] = n.Role
	}
	if roles["n1"] != nodes.RolePrimary || roles["n2"] != nodes.RolePrimary {
		t.Fatal("n1/n2 should be primary")
	}
	if roles["n3"] != nodes.RoleFailover {
		t.Fatal("n3 should be failover")
	}
}

func TestParseRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		nodeSpec string
		failover string
	}{
		{"", ""},
		{"n1", ""},
		{"n1:localhost", ""},
		{"n1:localhost:21211 n1:localhost:21212", ""},
		{"n1:localhost:21211 n2:localhost:21211", ""},
		{"n-1:localhost:21211", ""},
		{"n1:localhost:21211", "n9"},
	}
	for _, tc := range cases {
		if _, err := nodes.Parse(tc.nodeSpec, tc.failover); err == nil {
			t.Errorf("Parse(%q, %q) accepted malformed input", tc.nodeSpec, tc.failover)
		}
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	d, _ := newDirectory(t, "n1:localhost:21211 n2:localhost:21212", "")
	n, err := d.Resolve("n1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if n.Addr != "localhost:21211" {
		t.Fatalf("addr = %q", n.Addr)
	}
	if _, err := d.Resolve("nx"); !errors.Is(err, nodes.ErrNotFound) {
		t.Fatalf("resolve unknown = %v, want ErrNotFound", err)
	}
}

func TestPickAlternatePrefersFailoverNode(t *testing.T) {
	t.Parallel()

	d, _ := newDirectory(t, "n1:localhost:21211 n2:localhost:21212 f1:localhost:21213", "f1")
	d.MarkDown("n1")
	got, err := d.PickAlternate("n1")
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if got != "f1" {
		t.Fatalf("alternate = %q, want failover node f1", got)
	}
}

func TestPickAlternateDeterministicLowestID(t *testing.T) {
	t.Parallel()

	d, _ := newDirectory(t, "n3:localhost:21213 n1:localhost:21211 n2:localhost:21212", "")
	for i := 0; i < 5; i++ {
		got, err := d.PickAlternate("n1")
		if err != nil {
			t.Fatalf("pick: %v", err)
		}
		if got != "n2" {
			t.Fatalf("alternate = %q, want n2 (lowest id excluding failed)", got)
		}
	}
}

func TestPickAlternateNeverReturnsFailedOrDownNode(t *testing.T) {
	t.Parallel()

	d, _ := newDirectory(t, "n1:localhost:21211 n2:localhost:21212 n3:localhost:21213", "")
	d.MarkDown("n2")
	got, err := d.PickAlternate("n1")
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if got == "n1" || got == "n2" {
		t.Fatalf("alternate = %q, must not be failed or down node", got)
	}
}

func TestPickAlternateNoNodesAvailable(t *testing.T) {
	t.Parallel()

	d, _ := newDirectory(t, "n1:localhost:21211 n2:localhost:21212", "")
	d.MarkDown("n2")
	if _, err := d.PickAlternate("n1"); !errors.Is(err, nodes.ErrNoNodesAvailable) {
		t.Fatalf("pick = %v, want ErrNoNodesAvailable", err)
	}
}

func TestMarkUpRestoresEligibility(t *testing.T) {
	t.Parallel()

	d, _ := newDirectory(t, "n1:localhost:21211 n2:localhost:21212", "")
	d.MarkDown("n2")
	if !d.Down("n2") {
		t.Fatal("n2 should be down")
	}
	d.MarkUp("n2")
	got, err := d.PickAlternate("n1")
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if got != "n2" {
		t.Fatalf("alternate = %q, want n2", got)
	}
}

func TestPickOwnerIsStableAndSkipsDownNodes(t *testing.T) {
	t.Parallel()

	d, _ := newDirectory(t, "n1:localhost:21211 n2:localhost:21212 f1:localhost:21213", "f1")
	first, err := d.PickOwner("deadbeef")
	if err != nil {
		t.Fatalf("pick owner: %v", err)
	}
	if first == "f1" {
		t.Fatal("failover node handed out as owner")
	}
	for i := 0; i < 5; i++ {
		again, err := d.PickOwner("deadbeef")
		if err != nil || again != first {
			t.Fatalf("assignment not stable: %q vs %q (err %v)", again, first, err)
		}
	}
	d.MarkDown("n1")
	d.MarkDown("n2")
	if _, err := d.PickOwner("deadbeef"); !errors.Is(err, nodes.ErrNoNodesAvailable) {
		t.Fatalf("want ErrNoNodesAvailable with all primaries down, got %v", err)
	}
}

func TestReconfigureSwapsNodeSet(t *testing.T) {
	t.Parallel()

	d, _ := newDirectory(t, "n1:localhost:21211 n2:localhost:21212", "")
	d.MarkDown("n2")
	if err := d.Reconfigure("n1:localhost:21211 n3:localhost:21213", ""); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	if d.Known("n2") {
		t.Fatal("n2 still known after reconfigure")
	}
	if d.Down("n2") {
		t.Fatal("down mark for removed node not dropped")
	}
	if _, err := d.StoreFor("n3"); err != nil {
		t.Fatalf("store for n3: %v", err)
	}
	snap := d.Snapshot()
	if len(snap) != 2 || snap[0].ID != "n1" || snap[1].ID != "n3" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestReconfigureKeepsStoresOfUnchangedNodes(t *testing.T) {
	t.Parallel()

	d, _ := newDirectory(t, "n1:localhost:21211 n2:localhost:21212", "")
	before, err := d.StoreFor("n1")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := d.Reconfigure("n1:localhost:21211 n3:localhost:21213", ""); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	after, err := d.StoreFor("n1")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if before != after {
		t.Fatal("store of unchanged node was rebuilt")
	}
}

func TestReconfigureRejectsBadSpecLeavingOldSet(t *testing.T) {
	t.Parallel()

	d, _ := newDirectory(t, "n1:localhost:21211", "")
	if err := d.Reconfigure("garbage", ""); err == nil {
		t.Fatal("reconfigure accepted malformed spec")
	}
	if !d.Known("n1") {
		t.Fatal("old node set lost after failed reconfigure")
	}
}
