package cli

import (
	"encoding/json"
	"net/http"

	"github.com/meshnet-project/meshagentd/internal/ledger"
	"github.com/meshnet-project/meshagentd/internal/mesh"
	"github.com/meshnet-project/meshagentd/internal/serviced"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// debugDeps is the narrow, read-only surface the debug endpoints render.
// It exists so the handlers can be unit-tested against fakes instead of a
// fully wired agent.
type debugDeps struct {
	Router *mesh.Router
	Status func() serviced.Status
	Config func() serviced.Config
	Ledger *ledger.TrafficLedger
}

// statusView is the JSON body of /debug/status.
type statusView struct {
	Status    string   `json:"status"`
	Reason    string   `json:"reason,omitempty"`
	ServiceID uint64   `json:"service_id"`
	Ports     []uint16 `json:"ports"`
}

// graphView is the JSON body of /debug/graph: the pruned adjacency list
// plus the precomputed all-pairs cost matrix, in the same shape an
// operator could cross-check against the adjacency file.
type graphView struct {
	Graph mesh.AdjacencyGraph `json:"graph"`
	Cost  mesh.CostMatrix     `json:"cost"`
}

// ledgerView is the JSON body of /debug/ledger: the current cycle's
// accumulated traffic without disturbing it (it uses Peek, not
// SnapshotAndReset).
type ledgerView struct {
	Peers map[mesh.NodeID]mesh.PeerTraffic `json:"peers"`
	Total uint64                           `json:"total_bytes"`
}

// newDebugMux builds the HTTP mux the debug/health/metrics server serves,
// in the same spirit as the teacher's /health and /metrics: operability
// only, no effect on the migration protocol itself.
func newDebugMux(deps debugDeps) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/debug/status", func(w http.ResponseWriter, r *http.Request) {
		status := deps.Status()
		cfg := deps.Config()
		writeJSON(w, statusView{
			Status:    status.Kind.String(),
			Reason:    status.Reason,
			ServiceID: cfg.ServiceID,
			Ports:     cfg.Ports,
		})
	})

	mux.HandleFunc("/debug/graph", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, graphView{
			Graph: deps.Router.Graph(),
			Cost:  deps.Router.CostMatrix(),
		})
	})

	mux.HandleFunc("/debug/ledger", func(w http.ResponseWriter, r *http.Request) {
		peers, total := deps.Ledger.Peek()
		writeJSON(w, ledgerView{Peers: peers, Total: total})
	})

	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
