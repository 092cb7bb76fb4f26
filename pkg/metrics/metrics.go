// Package metrics provides Prometheus instrumentation for the segment
// allocator and compactor: allocation/release counters, segment-state
// gauges, compaction bytes-freed counters, and cache-promotion counters.
// Every collector is registered exactly once, on the first NewAllocator
// call, following
// the sync.Once-guarded package-level registration pattern used by
// buildbarn-bb-storage's block allocators for the same kind of
// allocate/release/get instrumentation.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Allocator groups every metric the segment allocator and compactor
// report. Construct with NewAllocator; the zero value is not usable.
type Allocator struct {
	SegmentsAllocated   prometheus.Counter
	SegmentsCompacted   prometheus.Counter
	SegmentsRecycled    prometheus.Counter
	BytesAllocated      prometheus.Counter
	BytesFreedByCompact prometheus.Counter
	ObjectsRelocated    prometheus.Counter
	CachePromotions     prometheus.Counter
	ActiveSegments      prometheus.Gauge
	PinnedSegments      prometheus.Gauge
	ReadyQueueDepth     prometheus.Gauge
}

var (
	registerOnce sync.Once
	shared       *Allocator
)

// NewAllocator returns the process-wide Allocator metrics set, registering
// its collectors with the default Prometheus registry the first time it is
// called. Subsequent calls return the same instance — mirroring the
// sync.Once-guarded singleton registration buildbarn-bb-storage's block
// allocators use, since Prometheus panics on duplicate registration and an
// engine may construct more than one internal Allocator per process during
// tests.
func NewAllocator() *Allocator {
	registerOnce.Do(func() {
		shared = &Allocator{
			SegmentsAllocated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "arbtrie", Subsystem: "allocator", Name: "segments_allocated_total",
				Help: "Total number of segments allocated from the block file.",
			}),
			SegmentsCompacted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "arbtrie", Subsystem: "allocator", Name: "segments_compacted_total",
				Help: "Total number of segments reclaimed by the compactor.",
			}),
			SegmentsRecycled: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "arbtrie", Subsystem: "allocator", Name: "segments_recycled_total",
				Help: "Total number of segments returned to a ready queue for reuse.",
			}),
			BytesAllocated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "arbtrie", Subsystem: "allocator", Name: "bytes_allocated_total",
				Help: "Total bytes allocated for objects across all segments.",
			}),
			BytesFreedByCompact: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "arbtrie", Subsystem: "allocator", Name: "bytes_freed_by_compaction_total",
				Help: "Total bytes reclaimed by the compactor.",
			}),
			ObjectsRelocated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "arbtrie", Subsystem: "allocator", Name: "objects_relocated_total",
				Help: "Total number of live objects relocated during compaction.",
			}),
			CachePromotions: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "arbtrie", Subsystem: "cache", Name: "promotions_total",
				Help: "Total number of objects promoted into the pinned cache.",
			}),
			ActiveSegments: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "arbtrie", Subsystem: "allocator", Name: "active_segments",
				Help: "Current number of segments that are neither free nor fully compacted.",
			}),
			PinnedSegments: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "arbtrie", Subsystem: "allocator", Name: "pinned_segments",
				Help: "Current number of segments mlock'd into the pinned cache.",
			}),
			ReadyQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "arbtrie", Subsystem: "allocator", Name: "ready_queue_depth",
				Help: "Current number of segments sitting in the provider's ready queue.",
			}),
		}

		prometheus.MustRegister(
			shared.SegmentsAllocated, shared.SegmentsCompacted, shared.SegmentsRecycled,
			shared.BytesAllocated, shared.BytesFreedByCompact, shared.ObjectsRelocated,
			shared.CachePromotions, shared.ActiveSegments, shared.PinnedSegments, shared.ReadyQueueDepth,
		)
	})

	return shared
}
