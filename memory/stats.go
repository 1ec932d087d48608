package memory

import (
	"time"

	"github.com/rcrowley/go-metrics"
)

// CollectStats describes a single collection.
type CollectStats struct {
	Seq        int
	Start      time.Time
	Pause      time.Duration
	Copied     int // bytes copied into to-space
	Live       int // objects that survived
	Rescued    int // stale objects given a new block
	EdenBefore int
	EdenAfter  int
	MetaUsed   int
}

// Stats accumulates heap statistics in a go-metrics registry.
type Stats struct {
	heap     *Heap
	registry metrics.Registry

	collections metrics.Counter
	allocBytes  metrics.Counter
	pause       metrics.Timer
	copied      metrics.Histogram
	live        metrics.Gauge

	last CollectStats
}

func newStats(h *Heap) *Stats {
	r := metrics.NewRegistry()
	s := &Stats{
		heap:        h,
		registry:    r,
		collections: metrics.GetOrRegisterCounter("pyrite/gc/collections", r),
		allocBytes:  metrics.GetOrRegisterCounter("pyrite/heap/allocated", r),
		pause:       metrics.GetOrRegisterTimer("pyrite/gc/pause", r),
		copied:      metrics.GetOrRegisterHistogram("pyrite/gc/copied", r, metrics.NewUniformSample(256)),
		live:        metrics.GetOrRegisterGauge("pyrite/gc/live", r),
	}
	r.Register("pyrite/heap/eden-used", metrics.NewFunctionalGauge(func() int64 {
		return int64(h.eden.Used())
	}))
	r.Register("pyrite/heap/meta-used", metrics.NewFunctionalGauge(func() int64 {
		return int64(h.metaspace.Used())
	}))
	return s
}

func (s *Stats) allocated(n int) {
	s.allocBytes.Inc(int64(n))
}

func (s *Stats) collected(cs CollectStats) {
	s.collections.Inc(1)
	s.pause.Update(cs.Pause)
	s.copied.Update(int64(cs.Copied))
	s.live.Update(int64(cs.Live))
	s.last = cs
}

// Registry returns the underlying metrics registry.
func (s *Stats) Registry() metrics.Registry { return s.registry }

// Collections returns the number of collections run.
func (s *Stats) Collections() int64 { return s.collections.Count() }

// Allocated returns the total number of bytes allocated in eden.
func (s *Stats) Allocated() int64 { return s.allocBytes.Count() }

// Last returns the statistics of the most recent collection.
func (s *Stats) Last() CollectStats { return s.last }

// MeanPause returns the mean collection pause.
func (s *Stats) MeanPause() time.Duration {
	return time.Duration(s.pause.Mean())
}

// Snapshot returns a flat name to value view of the registry.
func (s *Stats) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	s.registry.Each(func(name string, m interface{}) {
		switch v := m.(type) {
		case metrics.Counter:
			out[name] = v.Count()
		case metrics.Gauge:
			out[name] = v.Value()
		case metrics.Timer:
			out[name] = v.Count()
		case metrics.Histogram:
			out[name] = v.Max()
		}
	})
	return out
}
