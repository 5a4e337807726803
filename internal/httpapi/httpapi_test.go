package httpapi_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pkt.systems/sessiond/internal/cache"
	"pkt.systems/sessiond/internal/cache/memory"
	"pkt.systems/sessiond/internal/httpapi"
	"pkt.systems/sessiond/internal/nodes"
	"pkt.systems/sessiond/internal/stats"
)

func newServer(t *testing.T) (*httptest.Server, *nodes.Directory, *stats.Registry) {
	t.Helper()
	list, err := nodes.Parse("n1:localhost:21211 n2:localhost:21212", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	dir, err := nodes.New(list, func(nodes.Node) (cache.Store, error) {
		return memory.New(), nil
	}, nil)
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	reg := stats.New(true)
	srv := httptest.NewServer(httpapi.New(dir, reg, nil))
	t.Cleanup(func() {
		srv.Close()
		_ = dir.Close()
	})
	return srv, dir, reg
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv, _, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestGetNodes(t *testing.T) {
	t.Parallel()

	srv, dir, _ := newServer(t)
	dir.MarkDown("n2")

	resp, err := http.Get(srv.URL + "/v1/nodes")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var statuses []nodes.NodeStatus
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("nodes = %d, want 2", len(statuses))
	}
	if statuses[0].ID != "n1" || statuses[0].Down {
		t.Fatalf("n1 status = %+v", statuses[0])
	}
	if statuses[1].ID != "n2" || !statuses[1].Down {
		t.Fatalf("n2 status = %+v", statuses[1])
	}
}

func TestPostNodesReconfigures(t *testing.T) {
	t.Parallel()

	srv, dir, _ := newServer(t)
	body := `{"nodes": "n1:localhost:21211 n3:localhost:21213", "failover_nodes": "n3"}`
	resp, err := http.Post(srv.URL+"/v1/nodes", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if dir.Known("n2") {
		t.Fatal("n2 still known after reconfigure")
	}
	if !dir.Known("n3") {
		t.Fatal("n3 missing after reconfigure")
	}
}

func TestPostNodesRejectsMalformedSpec(t *testing.T) {
	t.Parallel()

	srv, dir, _ := newServer(t)
	resp, err := http.Post(srv.URL+"/v1/nodes", "application/json", strings.NewReader(`{"nodes": "garbage"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	if !dir.Known("n1") {
		t.Fatal("old node set lost")
	}
}

func TestGetStats(t *testing.T) {
	t.Parallel()

	srv, _, reg := newServer(t)
	reg.Inc(stats.CounterBackups)
	reg.Probe(stats.ProbeCachedDataSize).Register(2048)

	resp, err := http.Get(srv.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	text := string(raw)
	if !strings.Contains(text, "backups = 1") {
		t.Fatalf("snapshot missing counter:\n%s", text)
	}
	if !strings.Contains(text, "cached_data_size.max = 2048") {
		t.Fatalf("snapshot missing probe value:\n%s", text)
	}
	if !strings.Contains(text, "cached_data_size.max_human = ") {
		t.Fatalf("snapshot missing humanized size:\n%s", text)
	}
}
