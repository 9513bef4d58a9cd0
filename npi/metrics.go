package npi

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
)

// Metrics is a prometheus.Collector tracking the bridge's live connection
// set plus a handful of lifetime counters, grounded on
// runZeroInc-conniver/pkg/exporter/exporter.go's TCPInfoCollector: a
// connection-keyed map guarded by a mutex, from which the connection gauge
// is computed on demand at Collect time; the counters are incremented as
// the events happen.
type Metrics struct {
	mu    sync.Mutex
	conns map[xid.ID]string

	connectionsDesc *prometheus.Desc

	areqForwarded   prometheus.Counter
	fragmentRetries prometheus.Counter
	fragmentAborts  prometheus.Counter
	srspTimeouts    prometheus.Counter
	resetCycles     prometheus.Counter

	pollIn  prometheus.Counter
	pollOut prometheus.Counter
	sreqIn  prometheus.Counter
	sreqOut prometheus.Counter
	areqIn  prometheus.Counter
	areqOut prometheus.Counter
}

// NewMetrics constructs an unregistered Metrics collector; callers register
// it with a prometheus.Registry of their choosing.
func NewMetrics() *Metrics {
	return &Metrics{
		conns: make(map[xid.ID]string),
		connectionsDesc: prometheus.NewDesc(
			"npi_connections",
			"Number of TCP clients currently attached to the NPI bridge.",
			nil, nil,
		),
		areqForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "npi_areq_forwarded_total",
			Help: "AREQs received from the co-processor and fanned out to clients.",
		}),
		fragmentRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "npi_fragment_retries_total",
			Help: "Outbound fragment blocks that required a retry.",
		}),
		fragmentAborts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "npi_fragment_aborts_total",
			Help: "Fragmented sends that gave up on a block after exhausting retries or a fatal ACK status.",
		}),
		srspTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "npi_srsp_timeouts_total",
			Help: "SREQs that timed out waiting for their SRSP.",
		}),
		resetCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "npi_reset_cycles_total",
			Help: "Completed SYS_RESET_REQ/IND handshakes with the co-processor.",
		}),
		pollIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "npi_poll_in_total",
			Help: "POLL messages received by the bridge from a client.",
		}),
		pollOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "npi_poll_out_total",
			Help: "POLL messages forwarded onward by the bridge to the co-processor.",
		}),
		sreqIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "npi_sreq_in_total",
			Help: "SREQs received by the bridge from a client.",
		}),
		sreqOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "npi_sreq_out_total",
			Help: "SREQs forwarded onward by the bridge to the co-processor.",
		}),
		areqIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "npi_areq_in_total",
			Help: "AREQs received by the bridge, from either a client or the co-processor.",
		}),
		areqOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "npi_areq_out_total",
			Help: "AREQs forwarded onward by the bridge, to either the co-processor or a client.",
		}),
	}
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.connectionsDesc
	m.areqForwarded.Describe(ch)
	m.fragmentRetries.Describe(ch)
	m.fragmentAborts.Describe(ch)
	m.srspTimeouts.Describe(ch)
	m.resetCycles.Describe(ch)
	m.pollIn.Describe(ch)
	m.pollOut.Describe(ch)
	m.sreqIn.Describe(ch)
	m.sreqOut.Describe(ch)
	m.areqIn.Describe(ch)
	m.areqOut.Describe(ch)
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.mu.Lock()
	n := len(m.conns)
	m.mu.Unlock()

	ch <- prometheus.MustNewConstMetric(m.connectionsDesc, prometheus.GaugeValue, float64(n))
	m.areqForwarded.Collect(ch)
	m.fragmentRetries.Collect(ch)
	m.fragmentAborts.Collect(ch)
	m.srspTimeouts.Collect(ch)
	m.resetCycles.Collect(ch)
	m.pollIn.Collect(ch)
	m.pollOut.Collect(ch)
	m.sreqIn.Collect(ch)
	m.sreqOut.Collect(ch)
	m.areqIn.Collect(ch)
	m.areqOut.Collect(ch)
}

func (m *Metrics) addConnection(id xid.ID, remote string) {
	m.mu.Lock()
	m.conns[id] = remote
	m.mu.Unlock()
}

func (m *Metrics) removeConnection(id xid.ID) {
	m.mu.Lock()
	delete(m.conns, id)
	m.mu.Unlock()
}

func (m *Metrics) incAREQForwarded()   { m.areqForwarded.Inc() }
func (m *Metrics) incFragmentRetries() { m.fragmentRetries.Inc() }
func (m *Metrics) incFragmentAbort()   { m.fragmentAborts.Inc() }
func (m *Metrics) incSRSPTimeout()     { m.srspTimeouts.Inc() }
func (m *Metrics) incResetCycle()      { m.resetCycles.Inc() }

func (m *Metrics) incPollIn()  { m.pollIn.Inc() }
func (m *Metrics) incPollOut() { m.pollOut.Inc() }
func (m *Metrics) incSREQIn()  { m.sreqIn.Inc() }
func (m *Metrics) incSREQOut() { m.sreqOut.Inc() }
func (m *Metrics) incAREQIn()  { m.areqIn.Inc() }
func (m *Metrics) incAREQOut() { m.areqOut.Inc() }
