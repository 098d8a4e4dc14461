package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is a per-component (mesh node or service instance) metrics
// facade, adapted from the teacher's per-track Recorder. All methods are
// safe to call whether or not Setup(Config{Metrics: true}) ran: when
// metrics are disabled the underlying collectors are nil and every
// method is a no-op.
type Recorder struct {
	node string
}

// NewRecorder constructs a Recorder scoped to one label value (typically
// this agent's own node ID, stringified).
func NewRecorder(node string) *Recorder {
	return &Recorder{node: node}
}

var (
	metricsOnce sync.Once

	migrationsTotal    *prometheus.CounterVec
	duplicatesTotal    *prometheus.CounterVec
	conflictsTotal     *prometheus.CounterVec
	ledgerBytesTotal   *prometheus.CounterVec
	serviceInstances   *prometheus.GaugeVec
	cycleLatencySecs   *prometheus.HistogramVec
	serviceGenerations *prometheus.GaugeVec
)

func registerMetrics() {
	migrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshagentd_migrations_total",
		Help: "Successful migrations (handoffs that stopped the local instance), by source node.",
	}, []string{"node"})

	duplicatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshagentd_duplications_total",
		Help: "Successful duplications (handoffs that kept the local instance running), by source node.",
	}, []string{"node"})

	conflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshagentd_transport_conflicts_total",
		Help: "CONFLICT responses observed on the send path, by node.",
	}, []string{"node"})

	ledgerBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshagentd_ledger_bytes_total",
		Help: "Traffic bytes recorded into the ledger, by node and direction.",
	}, []string{"node", "direction"})

	serviceInstances = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meshagentd_service_instances",
		Help: "Whether this node currently believes it is running the service (0 or 1).",
	}, []string{"node"})

	cycleLatencySecs = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meshagentd_inspector_cycle_seconds",
		Help:    "Wall time of one Inspector tick, by node.",
		Buckets: prometheus.DefBuckets,
	}, []string{"node"})

	serviceGenerations = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meshagentd_service_generation",
		Help: "The current serviceID this node last observed.",
	}, []string{"node"})
}

func ensureRegistered() {
	if !MetricsEnabled() {
		return
	}
	metricsOnce.Do(registerMetrics)
}

// Migration records one successful migrate handoff.
func (r *Recorder) Migration() {
	ensureRegistered()
	if migrationsTotal == nil || !MetricsEnabled() {
		return
	}
	migrationsTotal.WithLabelValues(r.node).Inc()
}

// Duplication records one successful duplicate handoff.
func (r *Recorder) Duplication() {
	ensureRegistered()
	if duplicatesTotal == nil || !MetricsEnabled() {
		return
	}
	duplicatesTotal.WithLabelValues(r.node).Inc()
}

// Conflict records one CONFLICT response observed while sending.
func (r *Recorder) Conflict() {
	ensureRegistered()
	if conflictsTotal == nil || !MetricsEnabled() {
		return
	}
	conflictsTotal.WithLabelValues(r.node).Inc()
}

// LedgerBytes records bytes added to the traffic ledger.
func (r *Recorder) LedgerBytes(bytes uint64, inbound bool) {
	ensureRegistered()
	if ledgerBytesTotal == nil || !MetricsEnabled() {
		return
	}
	direction := "out"
	if inbound {
		direction = "in"
	}
	ledgerBytesTotal.WithLabelValues(r.node, direction).Add(float64(bytes))
}

// SetServiceRunning records whether this node currently hosts the
// service.
func (r *Recorder) SetServiceRunning(running bool) {
	ensureRegistered()
	if serviceInstances == nil || !MetricsEnabled() {
		return
	}
	v := 0.0
	if running {
		v = 1.0
	}
	serviceInstances.WithLabelValues(r.node).Set(v)
}

// SetServiceGeneration records the current serviceID.
func (r *Recorder) SetServiceGeneration(id uint64) {
	ensureRegistered()
	if serviceGenerations == nil || !MetricsEnabled() {
		return
	}
	serviceGenerations.WithLabelValues(r.node).Set(float64(id))
}

// CycleLatencyObs returns a histogram observer for one Inspector tick's
// duration, or nil when metrics are disabled (callers should guard with
// an if, matching the teacher's LatencyObs contract).
func (r *Recorder) CycleLatencyObs() prometheus.Observer {
	ensureRegistered()
	if cycleLatencySecs == nil || !MetricsEnabled() {
		return nil
	}
	return cycleLatencySecs.WithLabelValues(r.node)
}
