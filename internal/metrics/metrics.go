package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rfqscope"

// Rebuild reasons.
const (
	RebuildInitialize   = "initialize"
	RebuildReorg        = "reorg"
	RebuildInconsistent = "inconsistent"
	RebuildNoHandler    = "no_handler"
	RebuildRecover      = "recover"
)

// Poll outcomes.
const (
	PollOK          = "ok"
	PollFetchFailed = "fetch_failed"
	PollCastFailed  = "cast_failed"
	PollHandleFail  = "handle_failed"
	PollPanic       = "panic"
)

// Cache lookup results.
const (
	CacheHit      = "hit"
	CacheMiss     = "miss"
	CacheLazyFill = "lazy_fill"
)

// Metrics holds the collectors shared by the synchronizers, pollers and adapters.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	blocksProcessed *prometheus.CounterVec
	rebuilds        *prometheus.CounterVec
	decodeErrors    *prometheus.CounterVec
	lastBlock       *prometheus.GaugeVec
	pollResults     *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		blocksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_blocks_processed_total",
			Help:      "Blocks applied incrementally by a state synchronizer.",
		}, []string{"subscription"}),
		rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_rebuilds_total",
			Help:      "Full state rebuilds by reason.",
		}, []string{"subscription", "reason"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_decode_errors_total",
			Help:      "Logs skipped because they could not be decoded.",
		}, []string{"subscription"}),
		lastBlock: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_last_block",
			Help:      "Block number reflected by the live snapshot.",
		}, []string{"subscription"}),
		pollResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_task_results_total",
			Help:      "Poller task outcomes per tick.",
		}, []string{"outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Read-path cache lookups by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.blocksProcessed,
		m.rebuilds,
		m.decodeErrors,
		m.lastBlock,
		m.pollResults,
		m.cacheLookups,
	}
}

func (m *Metrics) BlockProcessed(subscription string, block uint64) {
	if m == nil {
		return
	}
	m.blocksProcessed.WithLabelValues(subscription).Inc()
	m.lastBlock.WithLabelValues(subscription).Set(float64(block))
}

func (m *Metrics) Rebuild(subscription, reason string, block uint64) {
	if m == nil {
		return
	}
	m.rebuilds.WithLabelValues(subscription, reason).Inc()
	m.lastBlock.WithLabelValues(subscription).Set(float64(block))
}

func (m *Metrics) DecodeError(subscription string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(subscription).Inc()
}

func (m *Metrics) PollResult(outcome string) {
	if m == nil {
		return
	}
	m.pollResults.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
