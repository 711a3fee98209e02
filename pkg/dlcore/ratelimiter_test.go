package dlcore

import (
	"context"
	"testing"
	"time"
)

func TestBucketUnlimitedNeverBlocks(t *testing.T) {
	b := NewBucket(0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := b.Acquire(ctx, 10*int64(GB)); err != nil {
		t.Fatalf("unlimited bucket blocked: %v", err)
	}
}

func TestBucketThrottles(t *testing.T) {
	b := NewBucket(1024) // 1KB/s, burst floor is minBurst (16KB)
	ctx := context.Background()

	if err := b.Acquire(ctx, 1024); err != nil {
		t.Fatalf("first acquire within burst: %v", err)
	}

	start := time.Now()
	if err := b.Acquire(ctx, 20*1024); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
		t.Fatalf("expected acquiring past the burst allowance to block, took %v", elapsed)
	}
}

func TestBucketAcquireRespectsContextCancel(t *testing.T) {
	b := NewBucket(1) // effectively never refills enough in the test window
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := b.Acquire(ctx, int64(GB)); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestChainWalksEveryAncestor(t *testing.T) {
	global := NewBucket(1024)
	queue := NewBucket(0)
	download := Chain(global, queue, NewBucket(0))

	if queue.Parent != global {
		t.Fatal("expected queue.Parent == global")
	}
	if download.Parent != queue {
		t.Fatal("expected download.Parent == queue")
	}

	// The download and queue buckets are unlimited; only global is tight,
	// so an acquire past the global burst should still block.
	ctx := context.Background()
	if err := download.Acquire(ctx, 1024); err != nil {
		t.Fatalf("acquire within global burst: %v", err)
	}
	start := time.Now()
	if err := download.Acquire(ctx, 20*1024); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
		t.Fatalf("expected global bucket to throttle the chain, took %v", elapsed)
	}
}

func TestParseSpeedLimit(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"0", 0, false},
		{"512", 512, false},
		{"512B", 512, false},
		{"1KB", KB, false},
		{"1.5MB", int64(1.5 * float64(MB)), false},
		{"2GB", 2 * GB, false},
		{"2gb", 2 * GB, false},
		{"-5", 0, true},
		{"abc", 0, true},
		{"5XB", 0, true},
	}
	for _, c := range cases {
		got, err := ParseSpeedLimit(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseSpeedLimit(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSpeedLimit(%q): unexpected error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseSpeedLimit(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}
