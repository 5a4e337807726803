// Package httpapi exposes the administrative surface: node-list
// reconfiguration, a node snapshot with liveness, and the statistics
// snapshot.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"pkt.systems/pslog"

	"pkt.systems/sessiond/internal/correlation"
	"pkt.systems/sessiond/internal/nodes"
	"pkt.systems/sessiond/internal/stats"
)

// Handler serves the admin API.
type Handler struct {
	directory *nodes.Directory
	registry  *stats.Registry
	logger    pslog.Logger
	mux       *http.ServeMux
}

// New builds the admin handler.
func New(directory *nodes.Directory, registry *stats.Registry, logger pslog.Logger) *Handler {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	h := &Handler{
		directory: directory,
		registry:  registry,
		logger:    logger,
		mux:       http.NewServeMux(),
	}
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /v1/nodes", h.getNodes)
	h.mux.HandleFunc("POST /v1/nodes", h.postNodes)
	h.mux.HandleFunc("GET /v1/stats", h.getStats)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if cid := r.Header.Get("X-Correlation-ID"); cid != "" {
		ctx = correlation.Set(ctx, cid)
	} else {
		ctx = correlation.Ensure(ctx)
	}
	h.mux.ServeHTTP(w, r.WithContext(ctx))
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

func (h *Handler) getNodes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.directory.Snapshot())
}

// reconfigureRequest mirrors the node list grammar used at startup.
type reconfigureRequest struct {
	Nodes         string `json:"nodes"`
	FailoverNodes string `json:"failover_nodes"`
}

func (h *Handler) postNodes(w http.ResponseWriter, r *http.Request) {
	var req reconfigureRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := h.directory.Reconfigure(req.Nodes, req.FailoverNodes); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	h.logger.Info("admin.nodes.reconfigured", "cid", correlation.ID(r.Context()))
	writeJSON(w, http.StatusOK, h.directory.Snapshot())
}

func (h *Handler) getStats(w http.ResponseWriter, _ *http.Request) {
	snap := h.registry.Snapshot()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	var b strings.Builder
	for _, key := range stats.Keys(snap) {
		fmt.Fprintf(&b, "%s = %s\n", key, snap[key])
	}
	size := h.registry.Probe(stats.ProbeCachedDataSize)
	if size.Count() > 0 {
		fmt.Fprintf(&b, "cached_data_size.max_human = %s\n", humanize.Bytes(uint64(size.Max())))
	}
	_, _ = w.Write([]byte(b.String()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
