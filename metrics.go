package fiber

import (
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-fiber/internal/poll"
)

// LatencyBuckets defines the park-to-wake latency histogram buckets in
// nanoseconds, covering 1us to 10s with logarithmic spacing — the same
// bucket scheme the teacher uses for I/O operation latency.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks scheduler activity: fiber lifecycle counts, park/wake
// traffic split by reason, readiness-poll invocations, region page
// churn, and a park-to-wake latency histogram.
type Metrics struct {
	FibersSpawned atomic.Uint64
	FibersRetired atomic.Uint64

	ParksReadable atomic.Uint64
	ParksWritable atomic.Uint64
	Wakes         atomic.Uint64

	ReadinessPolls atomic.Uint64

	RegionPagesFreed atomic.Uint64

	// parkStarted tracks, per fiber id, when the most recent park began,
	// so Wake can compute a latency sample. Bounded by live fiber count.
	parkStarted map[int]int64

	TotalWakeLatencyNs atomic.Uint64
	WakeCount          atomic.Uint64
	LatencyHist        [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
}

// NewMetrics creates a fresh Metrics instance with its start time recorded.
func NewMetrics() *Metrics {
	m := &Metrics{parkStarted: make(map[int]int64)}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) recordSpawn(id int) {
	m.FibersSpawned.Add(1)
}

func (m *Metrics) recordRetire(id int) {
	m.FibersRetired.Add(1)
	delete(m.parkStarted, id)
}

func (m *Metrics) recordPark(id int, wanted poll.Events) {
	if wanted&poll.Readable != 0 {
		m.ParksReadable.Add(1)
	}
	if wanted&poll.Writable != 0 {
		m.ParksWritable.Add(1)
	}
	m.parkStarted[id] = time.Now().UnixNano()
}

func (m *Metrics) recordWake(id int, reported poll.Events) {
	m.Wakes.Add(1)
	started, ok := m.parkStarted[id]
	if !ok {
		return
	}
	delete(m.parkStarted, id)
	latency := uint64(time.Now().UnixNano() - started)
	m.TotalWakeLatencyNs.Add(latency)
	m.WakeCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latency <= bucket {
			m.LatencyHist[i].Add(1)
		}
	}
}

func (m *Metrics) recordReadinessPoll() {
	m.ReadinessPolls.Add(1)
}

func (m *Metrics) recordRegionPages(freed int) {
	if freed > 0 {
		m.RegionPagesFreed.Add(uint64(freed))
	}
}

// MetricsSnapshot is a point-in-time copy of Metrics' counters, safe to
// read without racing the live runtime.
type MetricsSnapshot struct {
	FibersSpawned  uint64
	FibersRetired  uint64
	LiveFibers     uint64
	ParksReadable  uint64
	ParksWritable  uint64
	Wakes          uint64
	ReadinessPolls uint64

	RegionPagesFreed uint64

	AvgWakeLatencyNs uint64
	LatencyHistogram [numLatencyBuckets]uint64

	UptimeNs uint64
}

// Snapshot returns a MetricsSnapshot computed from the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	spawned := m.FibersSpawned.Load()
	retired := m.FibersRetired.Load()
	snap := MetricsSnapshot{
		FibersSpawned:    spawned,
		FibersRetired:    retired,
		LiveFibers:       spawned - retired,
		ParksReadable:    m.ParksReadable.Load(),
		ParksWritable:    m.ParksWritable.Load(),
		Wakes:            m.Wakes.Load(),
		ReadinessPolls:   m.ReadinessPolls.Load(),
		RegionPagesFreed: m.RegionPagesFreed.Load(),
		UptimeNs:         uint64(time.Now().UnixNano() - m.StartTime.Load()),
	}
	if wakes := m.WakeCount.Load(); wakes > 0 {
		snap.AvgWakeLatencyNs = m.TotalWakeLatencyNs.Load() / wakes
	}
	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyHist[i].Load()
	}
	return snap
}

// Observer is the pluggable event sink the scheduler reports to. It is
// defined to match internal/sched.Observer's method set exactly so a
// *MetricsObserver or NoOpObserver can be passed directly to Options
// without an adapter.
type Observer interface {
	ObserveSpawn(id int)
	ObserveRetire(id int)
	ObservePark(id int, wanted poll.Events)
	ObserveWake(id int, reported poll.Events)
	ObserveReadinessPoll()
	ObserveRegionPages(freed int)
}

// NoOpObserver discards every event.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSpawn(int)            {}
func (NoOpObserver) ObserveRetire(int)           {}
func (NoOpObserver) ObservePark(int, poll.Events) {}
func (NoOpObserver) ObserveWake(int, poll.Events) {}
func (NoOpObserver) ObserveReadinessPoll()        {}
func (NoOpObserver) ObserveRegionPages(int)       {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver returns an Observer that records every event into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSpawn(id int)  { o.metrics.recordSpawn(id) }
func (o *MetricsObserver) ObserveRetire(id int) { o.metrics.recordRetire(id) }
func (o *MetricsObserver) ObservePark(id int, wanted poll.Events) {
	o.metrics.recordPark(id, wanted)
}
func (o *MetricsObserver) ObserveWake(id int, reported poll.Events) {
	o.metrics.recordWake(id, reported)
}
func (o *MetricsObserver) ObserveReadinessPoll()    { o.metrics.recordReadinessPoll() }
func (o *MetricsObserver) ObserveRegionPages(n int) { o.metrics.recordRegionPages(n) }

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
