package options

import "time"

const (
	// DefaultDataDir is the default base directory where arbtrie stores its
	// data files, used when no other directory is specified.
	DefaultDataDir = "/var/lib/arbtriedb"

	// DefaultCompactInterval is the default wake interval of the compactor
	// thread, matching spec §6's read_cache_window_sec-adjacent default.
	DefaultCompactInterval = time.Hour * 5

	// SegmentSize is the spec-mandated size of every segment: 32 MiB.
	SegmentSize uint64 = 32 * 1024 * 1024

	// MinSegmentSize is the smallest segment size New accepts, used only by
	// tests that want faster segment rotation.
	MinSegmentSize uint64 = 64 * 1024

	// MaxSegmentSize is the largest segment size New accepts.
	MaxSegmentSize uint64 = 32 * 1024 * 1024

	// DefaultSegmentDirectory is the default subdirectory within DataDir
	// where segment files are stored.
	DefaultSegmentDirectory = "segments"

	// DefaultSegmentPrefix is the default filename prefix for segment
	// files.
	DefaultSegmentPrefix = "segment"

	// DefaultMaxDatabaseSize bounds the block file at 1 TiB by default.
	DefaultMaxDatabaseSize uint64 = 1 << 40

	// MaxSessionCount is the hard ceiling on concurrent sessions (spec §5:
	// "bounded by a 64-bit session-bitmap allocator").
	MaxSessionCount uint32 = 64

	// DefaultMaxThreads is the default session concurrency bound.
	DefaultMaxThreads uint32 = MaxSessionCount

	// CachelineSize is fixed by the control-block table's location
	// encoding (spec §3.2: "41 bits — addresses up to 128 TiB at 64-byte
	// granularity").
	CachelineSize uint32 = 64

	// DefaultMaxPinnedCacheSizeMB is the default pinned-RAM budget (8 GiB,
	// per spec §6).
	DefaultMaxPinnedCacheSizeMB uint64 = 8 * 1024

	// DefaultReadCacheWindow is the default read-bit-decay full-cycle
	// period (5 hours, per spec §6).
	DefaultReadCacheWindow = time.Hour * 5

	// DefaultMaxCacheableObjectSize bounds which objects are eligible for
	// cache promotion (spec §4.8).
	DefaultMaxCacheableObjectSize uint32 = 4096

	// DefaultCompactPinnedUnusedThresholdMB is the default freed-space
	// eligibility threshold for compacting pinned segments.
	DefaultCompactPinnedUnusedThresholdMB uint64 = 8

	// DefaultCompactUnpinnedUnusedThresholdMB is the default freed-space
	// eligibility threshold for compacting unpinned segments.
	DefaultCompactUnpinnedUnusedThresholdMB uint64 = 4

	// MaxKeySize is the largest key the engine accepts, in bytes (spec §6).
	MaxKeySize = 1024

	// MaxObjectSize is the largest single object (including a value) the
	// engine accepts: half a segment (spec §6).
	MaxObjectSize = SegmentSize / 2
)

// NewDefaultOptions returns a fresh Options value populated with every
// default. Each call allocates new nested structs so callers can safely
// mutate the result without aliasing a shared package-level value.
func NewDefaultOptions() Options {
	return Options{
		DataDir:         DefaultDataDir,
		MaxDatabaseSize: DefaultMaxDatabaseSize,
		MaxThreads:      DefaultMaxThreads,
		CachelineSize:   CachelineSize,
		SegmentOptions: &SegmentOptions{
			Size:      SegmentSize,
			Prefix:    DefaultSegmentPrefix,
			Directory: DefaultSegmentDirectory,
		},
		CacheOptions: &CacheOptions{
			MaxPinnedCacheSizeMB:   DefaultMaxPinnedCacheSizeMB,
			ReadCacheWindow:        DefaultReadCacheWindow,
			EnableReadCache:        true,
			MaxCacheableObjectSize: DefaultMaxCacheableObjectSize,
		},
		SyncOptions: &SyncOptions{
			SyncMode:             SyncFsync,
			WriteProtectOnCommit: true,
			ChecksumCommits:      false,
		},
		ChecksumOptions: &ChecksumOptions{
			UpdateOnModify:    true,
			UpdateOnCompact:   true,
			ValidateOnCompact: false,
		},
		CompactionOptions: &CompactionOptions{
			Interval:                          DefaultCompactInterval,
			CompactPinnedUnusedThresholdMB:     DefaultCompactPinnedUnusedThresholdMB,
			CompactUnpinnedUnusedThresholdMB:   DefaultCompactUnpinnedUnusedThresholdMB,
		},
	}
}
