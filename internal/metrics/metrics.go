// Package metrics exposes the Prometheus counters and gauges the rest of
// the module reports through, plus a background process-resource sampler.
package metrics

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/process"
)

// Metrics is the concrete observability sink wired into the dispatcher,
// queue and I/O loop. It satisfies each of their narrow Metrics interfaces.
type Metrics struct {
	eventsDispatched  *prometheus.CounterVec
	parseErrors       prometheus.Counter
	queueDepth        prometheus.Gauge
	queueSkips        prometheus.Counter
	clientsConnected  prometheus.Gauge
	clientWriteErrors prometheus.Counter
	eventSourceUp     prometheus.Gauge
	processCPUPercent prometheus.Gauge
	processRSSBytes   prometheus.Gauge

	// These mirror the corresponding gauges outside of Prometheus's own
	// storage so other goroutines (the admin dashboard sampler) can read
	// current values without touching event.Queue or ioloop.Server state,
	// which belong exclusively to the loop goroutine.
	clientsConnectedValue atomic.Int64
	queueDepthValue       atomic.Int64
	waitingForValue       atomic.Int64
	eventSourceUpValue    atomic.Bool
}

// New registers every metric against reg. Use prometheus.NewRegistry (not
// the global default) so tests can construct independent instances.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		eventsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "followermaze_events_dispatched_total",
			Help: "Events delivered to the dispatcher, by event code.",
		}, []string{"code"}),
		parseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "followermaze_events_parse_errors_total",
			Help: "Lines from the event source rejected as malformed.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "followermaze_queue_depth",
			Help: "Events currently buffered in the reorder queue.",
		}),
		queueSkips: factory.NewCounter(prometheus.CounterOpts{
			Name: "followermaze_queue_skips_total",
			Help: "Times the reorder queue force-advanced past a missing sequence number.",
		}),
		clientsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "followermaze_clients_connected",
			Help: "Client connections currently registered to a user id.",
		}),
		clientWriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "followermaze_client_write_errors_total",
			Help: "Write failures to client sockets.",
		}),
		eventSourceUp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "followermaze_event_source_connected",
			Help: "1 if an event-source connection is currently attached, else 0.",
		}),
		processCPUPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "followermaze_process_cpu_percent",
			Help: "Process CPU usage percent, sampled periodically.",
		}),
		processRSSBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "followermaze_process_rss_bytes",
			Help: "Process resident set size in bytes, sampled periodically.",
		}),
	}
}

// IncEventDispatched satisfies dispatcher.Metrics.
func (m *Metrics) IncEventDispatched(code string) {
	m.eventsDispatched.WithLabelValues(code).Inc()
}

// IncParseError satisfies dispatcher.Metrics.
func (m *Metrics) IncParseError() {
	m.parseErrors.Inc()
}

// SetQueueDepth, IncQueueSkip and SetWaitingFor are wired as event.Queue's
// SetObservers callbacks, called from the loop goroutine on every Poll.
func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
	m.queueDepthValue.Store(int64(n))
}

func (m *Metrics) IncQueueSkip() {
	m.queueSkips.Inc()
}

func (m *Metrics) SetWaitingFor(n int) {
	m.waitingForValue.Store(int64(n))
}

// QueueDepth and WaitingFor return the most recently reported queue state.
// Safe for concurrent use, unlike reading event.Queue directly.
func (m *Metrics) QueueDepth() int {
	return int(m.queueDepthValue.Load())
}

func (m *Metrics) WaitingFor() int {
	return int(m.waitingForValue.Load())
}

// SetClientsConnected satisfies ioloop.Metrics.
func (m *Metrics) SetClientsConnected(n int) {
	m.clientsConnected.Set(float64(n))
	m.clientsConnectedValue.Store(int64(n))
}

// ClientsConnected returns the most recently reported client count. Safe
// for concurrent use, unlike reading ioloop.Server state directly.
func (m *Metrics) ClientsConnected() int {
	return int(m.clientsConnectedValue.Load())
}

// IncClientWriteError satisfies ioloop.Metrics.
func (m *Metrics) IncClientWriteError() {
	m.clientWriteErrors.Inc()
}

// SetEventSourceConnected satisfies ioloop.Metrics.
func (m *Metrics) SetEventSourceConnected(connected bool) {
	if connected {
		m.eventSourceUp.Set(1)
	} else {
		m.eventSourceUp.Set(0)
	}
	m.eventSourceUpValue.Store(connected)
}

// EventSourceConnected returns the most recently reported event-source
// attachment state. Safe for concurrent use, unlike reading ioloop.Server
// state directly.
func (m *Metrics) EventSourceConnected() bool {
	return m.eventSourceUpValue.Load()
}

// StartProcessSampler launches a goroutine that samples this process's CPU
// and RSS via gopsutil every interval, until stop is closed. Sampling runs
// off the I/O loop goroutine; these gauges are the only state this package
// writes from outside it, and prometheus metrics are already safe for
// concurrent use.
func (m *Metrics) StartProcessSampler(interval time.Duration, stop <-chan struct{}) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if pct, err := proc.CPUPercent(); err == nil {
					m.processCPUPercent.Set(pct)
				}
				if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
					m.processRSSBytes.Set(float64(mem.RSS))
				}
			}
		}
	}()
}
