package dlcore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Bucket is a single token bucket: tokens accrue continuously at Rate
// bytes/sec up to Burst, and Acquire blocks the caller until enough tokens
// are available. A Bucket with rate <= 0 is infinite and never blocks.
//
// Buckets chain through Parent to form the global → queue → download
// hierarchy required by the rate limiter: a download's bucket is the Parent
// of nothing, a queue's bucket is the Parent of every download bucket in
// that queue, and the global bucket is the Parent of every queue bucket.
type Bucket struct {
	mu     sync.Mutex
	rate   int64 // bytes/sec, <=0 means unlimited
	burst  int64
	tokens int64
	last   time.Time

	Parent *Bucket
}

// NewBucket creates a bucket with the given rate in bytes/sec, starting
// with a full burst of tokens. A rate <= 0 means unlimited.
func NewBucket(rate int64) *Bucket {
	return &Bucket{
		rate:   rate,
		burst:  burstFor(rate),
		tokens: burstFor(rate),
		last:   time.Now(),
	}
}

func burstFor(rate int64) int64 {
	if rate <= 0 {
		return 0
	}
	if rate < minBurst {
		return minBurst
	}
	return rate
}

// SetRate changes the bucket's rate atomically; it takes effect on the next
// Acquire. Burst is recalculated and excess tokens are trimmed.
func (b *Bucket) SetRate(rate int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rate = rate
	b.burst = burstFor(rate)
	if b.burst > 0 && b.tokens > b.burst {
		b.tokens = b.burst
	}
}

// Rate returns the bucket's current configured rate.
func (b *Bucket) Rate() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rate
}

// refill adds tokens for elapsed time since the last call; caller must hold
// b.mu.
func (b *Bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.last)
	b.last = now
	if b.rate <= 0 {
		return
	}
	b.tokens += int64(float64(b.rate) * elapsed.Seconds())
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
}

// waitFor returns how long the caller must sleep before n tokens are
// available, given the current (already refilled) token count. Caller must
// hold b.mu.
func (b *Bucket) waitFor(n int64) time.Duration {
	if b.rate <= 0 || b.tokens >= n {
		return 0
	}
	needed := n - b.tokens
	return time.Duration(float64(time.Second) * float64(needed) / float64(b.rate))
}

// acquireSelf blocks until n tokens are available in this bucket alone (not
// its ancestors) and consumes them. A request larger than the burst is
// consumed in burst-sized pieces, since tokens never accrue past the burst.
func (b *Bucket) acquireSelf(ctx context.Context, n int64) error {
	for n > 0 {
		b.mu.Lock()
		b.refill()
		take := n
		if b.burst > 0 && take > b.burst {
			take = b.burst
		}
		wait := b.waitFor(take)
		if wait <= 0 {
			b.tokens -= take
			n -= take
			b.mu.Unlock()
			continue
		}
		b.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}

// Acquire blocks until n bytes may be read, consuming tokens from this
// bucket and every ancestor in the hierarchy, narrowest first. A segment
// worker calls Acquire on its download-level bucket; the call transparently
// walks up through the queue bucket to the global bucket.
func (b *Bucket) Acquire(ctx context.Context, n int64) error {
	for cur := b; cur != nil; cur = cur.Parent {
		if err := cur.acquireSelf(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// refundSelf credits n tokens back to this bucket alone, capped at burst.
// Caller must hold b.mu.
func (b *Bucket) refundSelf(n int64) {
	if b.rate <= 0 || n <= 0 {
		return
	}
	b.tokens += n
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
}

// Refund returns n unused tokens to this bucket and every ancestor, the
// counterpart to an Acquire call that reserved more bytes than were
// actually transferred (a short Read).
func (b *Bucket) Refund(n int64) {
	if n <= 0 {
		return
	}
	for cur := b; cur != nil; cur = cur.Parent {
		cur.mu.Lock()
		cur.refundSelf(n)
		cur.mu.Unlock()
	}
}

// Limits groups the three rate-limit levels a download draws from.
type Limits struct {
	Global   *Bucket
	Queue    *Bucket
	Download *Bucket
}

// Chain wires Download as a child of Queue as a child of Global, returning
// the download-level bucket callers should call Acquire on.
func Chain(global, queue, download *Bucket) *Bucket {
	queue.Parent = global
	download.Parent = queue
	return download
}

// ParseSpeedLimit parses a human-readable speed limit such as "512KB",
// "1.5MB", or a plain byte count. Returns 0 for unlimited.
func ParseSpeedLimit(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	s = strings.ToUpper(s)

	var numStr, unit string
	for i, c := range s {
		if (c < '0' || c > '9') && c != '.' {
			numStr, unit = s[:i], s[i:]
			break
		}
	}
	if numStr == "" {
		numStr, unit = s, ""
	}
	num, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid speed limit: %q is not a valid number", numStr)
	}
	if num < 0 {
		return 0, fmt.Errorf("invalid speed limit: negative value %q", s)
	}

	var mult int64
	switch unit {
	case "", "B":
		mult = 1
	case "KB", "K":
		mult = KB
	case "MB", "M":
		mult = MB
	case "GB", "G":
		mult = GB
	default:
		return 0, fmt.Errorf("invalid speed limit unit %q (use B, KB, MB, GB)", unit)
	}
	return int64(num * float64(mult)), nil
}
