package tapasco

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the launch-latency histogram buckets in
// nanoseconds, covering 1us to 10s with logarithmic spacing.
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

// Metrics tracks per-device job-launch statistics.
type Metrics struct {
	LaunchCount atomic.Uint64
	LaunchOK    atomic.Uint64
	LaunchFail  atomic.Uint64

	TotalLatencyNs atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	PEBusyCount atomic.Uint64 // launches that had to block on AcquireBlocking

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a fresh metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// recordLaunch records one completed launch's latency and outcome. It
// is nil-receiver safe so a Scheduler built without metrics enabled can
// call it unconditionally.
func (m *Metrics) recordLaunch(latency time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.LaunchCount.Add(1)
	if ok {
		m.LaunchOK.Add(1)
	} else {
		m.LaunchFail.Add(1)
	}
	latencyNs := uint64(latency.Nanoseconds())
	m.TotalLatencyNs.Add(latencyNs)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the device as stopped, for uptime accounting.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time, non-atomic view of Metrics.
type MetricsSnapshot struct {
	LaunchCount uint64
	LaunchOK    uint64
	LaunchFail  uint64

	AvgLatencyNs  uint64
	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LaunchesPerSecond float64
	ErrorRate         float64
	UptimeNs          uint64

	LatencyHistogram [numLatencyBuckets]uint64
}

// Snapshot computes a MetricsSnapshot from the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var snap MetricsSnapshot
	snap.LaunchCount = m.LaunchCount.Load()
	snap.LaunchOK = m.LaunchOK.Load()
	snap.LaunchFail = m.LaunchFail.Load()

	if snap.LaunchCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / snap.LaunchCount
		snap.ErrorRate = float64(snap.LaunchFail) / float64(snap.LaunchCount) * 100.0
		snap.LatencyP50Ns = m.percentile(0.50)
		snap.LatencyP99Ns = m.percentile(0.99)
		snap.LatencyP999Ns = m.percentile(0.999)
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}
	if snap.UptimeNs > 0 {
		snap.LaunchesPerSecond = float64(snap.LaunchCount) / (float64(snap.UptimeNs) / 1e9)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}
	return snap
}

// percentile estimates the latency at the given percentile (0.0-1.0) by
// linear interpolation across the cumulative histogram buckets.
func (m *Metrics) percentile(p float64) uint64 {
	total := m.LaunchCount.Load()
	if total == 0 {
		return 0
	}
	target := uint64(float64(total) * p)

	prevBucket, prevCount := uint64(0), uint64(0)
	for i, bucket := range LatencyBuckets {
		count := m.LatencyBuckets[i].Load()
		if count >= target {
			if count == prevCount {
				return bucket
			}
			fraction := float64(target-prevCount) / float64(count-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket, prevCount = bucket, count
	}
	return LatencyBuckets[numLatencyBuckets-1]
}
