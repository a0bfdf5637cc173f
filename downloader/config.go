package downloader

import "time"

// Config holds the download coordinator's tunable constants as struct
// fields rather than package-level vars, so multiple folders — and tests —
// can run with different tunables at once.
type Config struct {
	// MaxInFlight is the global outstanding block-request cap across all
	// of this folder's missing chunks.
	MaxInFlight int
	// MaxBlockSize is the request granularity ceiling.
	MaxBlockSize uint32
	// RequestTimeout is the per-request retry deadline.
	RequestTimeout time.Duration
	// MaintainPeriod is the scheduler tick interval.
	MaintainPeriod time.Duration
	// IOWorkers bounds how many chunk-completion flush/ingest operations
	// (ReleaseChunk + ChunkStore.PutChunk) may run concurrently.
	IOWorkers int
}

// DefaultConfig returns the default tunables: 16 in-flight requests, 32 KiB
// blocks, a 10s request timeout, and a 1s maintenance tick.
func DefaultConfig() Config {
	return Config{
		MaxInFlight:    16,
		MaxBlockSize:   32 * 1024,
		RequestTimeout: 10 * time.Second,
		MaintainPeriod: 1 * time.Second,
		IOWorkers:      4,
	}
}
