package fiber

import (
	"testing"

	"github.com/ehrlich-b/go-fiber/internal/poll"
)

func TestMetricsInitialSnapshot(t *testing.T) {
	m := NewMetrics()
	snap := m.Snapshot()
	if snap.FibersSpawned != 0 || snap.FibersRetired != 0 {
		t.Errorf("expected zeroed counters, got %+v", snap)
	}
}

func TestMetricsSpawnAndRetire(t *testing.T) {
	m := NewMetrics()
	m.recordSpawn(1)
	m.recordSpawn(2)
	m.recordRetire(1)

	snap := m.Snapshot()
	if snap.FibersSpawned != 2 {
		t.Errorf("expected 2 spawned, got %d", snap.FibersSpawned)
	}
	if snap.FibersRetired != 1 {
		t.Errorf("expected 1 retired, got %d", snap.FibersRetired)
	}
	if snap.LiveFibers != 1 {
		t.Errorf("expected 1 live fiber, got %d", snap.LiveFibers)
	}
}

func TestMetricsParkAndWakeLatency(t *testing.T) {
	m := NewMetrics()
	m.recordPark(5, poll.Readable)
	m.recordWake(5, poll.Readable)

	snap := m.Snapshot()
	if snap.ParksReadable != 1 {
		t.Errorf("expected 1 readable park, got %d", snap.ParksReadable)
	}
	if snap.Wakes != 1 {
		t.Errorf("expected 1 wake, got %d", snap.Wakes)
	}
	// AvgWakeLatencyNs should be computable without a division panic even
	// though the interval is likely sub-microsecond in a unit test.
	_ = snap.AvgWakeLatencyNs
}

func TestMetricsRegionPagesFreed(t *testing.T) {
	m := NewMetrics()
	m.recordRegionPages(3)
	m.recordRegionPages(0)

	snap := m.Snapshot()
	if snap.RegionPagesFreed != 3 {
		t.Errorf("expected 3 pages freed, got %d", snap.RegionPagesFreed)
	}
}

func TestMetricsObserverRecordsThroughInterface(t *testing.T) {
	m := NewMetrics()
	var obs Observer = NewMetricsObserver(m)

	obs.ObserveSpawn(1)
	obs.ObservePark(1, poll.Writable)
	obs.ObserveWake(1, poll.Writable)
	obs.ObserveRetire(1)
	obs.ObserveReadinessPoll()
	obs.ObserveRegionPages(2)

	snap := m.Snapshot()
	if snap.FibersSpawned != 1 || snap.FibersRetired != 1 {
		t.Errorf("expected spawn/retire recorded, got %+v", snap)
	}
	if snap.ParksWritable != 1 || snap.Wakes != 1 {
		t.Errorf("expected park/wake recorded, got %+v", snap)
	}
	if snap.ReadinessPolls != 1 {
		t.Errorf("expected 1 readiness poll, got %d", snap.ReadinessPolls)
	}
	if snap.RegionPagesFreed != 2 {
		t.Errorf("expected 2 region pages freed, got %d", snap.RegionPagesFreed)
	}
}

func TestNoOpObserverDoesNothing(t *testing.T) {
	var obs Observer = NoOpObserver{}
	obs.ObserveSpawn(1)
	obs.ObservePark(1, poll.Readable)
	obs.ObserveWake(1, poll.Readable)
	obs.ObserveRetire(1)
	obs.ObserveReadinessPoll()
	obs.ObserveRegionPages(1)
}
