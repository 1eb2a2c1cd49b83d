package journal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "ext2journal"

// Metrics counts what recovery scans see. A nil *Metrics is valid and records nothing.
type Metrics struct {
	transactions    *prometheus.CounterVec
	dataBlocks      prometheus.Counter
	magicDataBlocks prometheus.Counter
	scanErrors      *prometheus.CounterVec
	recoveries      *prometheus.CounterVec
}

// NewMetrics creates the recovery counters and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transactions_scanned_total",
			Help:      "Journal transactions walked during recovery, by terminator block type.",
		}, []string{"terminator"}),
		dataBlocks: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "data_blocks_scanned_total",
			Help:      "Journal data blocks read during recovery.",
		}),
		magicDataBlocks: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "data_blocks_with_magic_total",
			Help:      "Journal data blocks that unexpectedly carried the journal magic.",
		}),
		scanErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "scan_errors_total",
			Help:      "Transaction walks that ended in an error, by phase.",
		}, []string{"phase"}),
		recoveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "recoveries_total",
			Help:      "Completed recovery scans, by stop reason.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) transaction(t BlockType) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) dataBlock(hasMagic bool) {
	if m == nil {
		return
	}
	m.dataBlocks.Inc()
	if hasMagic {
		m.magicDataBlocks.Inc()
	}
}

func (m *Metrics) scanError(p Phase) {
	if m == nil {
		return
	}
	m.scanErrors.WithLabelValues(p.String()).Inc()
}

func (m *Metrics) recovery(r StopReason) {
	if m == nil {
		return
	}
	m.recoveries.WithLabelValues(r.String()).Inc()
}
