package dlcore

// Byte-size constants used throughout the engine for part sizing and
// thresholds.
const (
	KB int64 = 1 << 10
	MB int64 = 1 << 20
	GB int64 = 1 << 30
)

// DefaultChunkSize is the maximum number of bytes a segment worker reads
// and writes per loop iteration.
const DefaultChunkSize = 64 * KB

// MinSplitSize is the smallest download size worth splitting into multiple
// segments; anything smaller downloads as a single segment regardless of
// the requested segment count.
const MinSplitSize = 1 * MB

// fsyncInterval is the recoverability floor: a segment fsyncs its file at
// least this often even if it never pauses or completes.
const fsyncInterval = 16 * MB

// minBurst is the smallest burst a rate-limit bucket ever allows even when
// the configured rate implies a smaller one-second allowance.
const minBurst = 16 * 1024
