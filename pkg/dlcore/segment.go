package dlcore

import (
	"context"
	"io"
	"time"

	"github.com/spf13/afero"
)

// ProgressFunc is invoked with the number of newly-downloaded bytes for a
// segment. It must not block.
type ProgressFunc func(segmentIndex int, n int64)

// CheckpointFunc persists a segment's current Downloaded/Complete fields.
// SegmentWorker invokes it at most once per second while bytes arrive, plus
// once when the segment completes.
type CheckpointFunc func(seg Segment)

// SegmentWorker runs one segment's download loop: acquire tokens,
// read, write at offset, update counters, check for cancellation before
// each blocking step.
type SegmentWorker struct {
	Transport  *Transport
	SourceURL  string
	File       afero.File
	Bucket     *Bucket // may be nil, meaning unlimited
	OnProgress ProgressFunc
	OnCheckpoint CheckpointFunc
}

// Run drives seg to completion or a classified error. seg is mutated in
// place (Downloaded, Complete) as bytes land; the caller owns persistence
// cadence via OnCheckpoint.
func (w *SegmentWorker) Run(ctx context.Context, seg *Segment) error {
	end := seg.End
	resumeStart := seg.Start + seg.Downloaded

	resp, err := w.Transport.FetchRange(ctx, w.SourceURL, resumeStart, end)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	buf := make([]byte, DefaultChunkSize)
	var sinceSync, unreported int64
	lastCheckpoint := time.Now()
	lastProgress := time.Time{}

	for {
		if err := ctx.Err(); err != nil {
			return Classify(KindCancelled, err)
		}

		n := len(buf)
		if w.Bucket != nil {
			if int64(n) > 0 {
				if err := w.Bucket.Acquire(ctx, int64(n)); err != nil {
					return Classify(KindCancelled, err)
				}
			}
		}

		if err := ctx.Err(); err != nil {
			return Classify(KindCancelled, err)
		}

		read, rerr := resp.Body.Read(buf)
		if w.Bucket != nil && read < n {
			w.Bucket.Refund(int64(n - read))
		}
		if read > 0 {
			if err := ctx.Err(); err != nil {
				return Classify(KindCancelled, err)
			}
			if _, werr := w.File.WriteAt(buf[:read], seg.Start+seg.Downloaded); werr != nil {
				return Classify(KindIoError, werr)
			}
			seg.Downloaded += int64(read)
			sinceSync += int64(read)
			unreported += int64(read)
			if w.OnProgress != nil && time.Since(lastProgress) >= 250*time.Millisecond {
				w.OnProgress(seg.Index, unreported)
				unreported = 0
				lastProgress = time.Now()
			}
			if sinceSync >= fsyncInterval {
				if serr := w.File.Sync(); serr != nil {
					return Classify(KindIoError, serr)
				}
				sinceSync = 0
			}
			if time.Since(lastCheckpoint) >= time.Second && w.OnCheckpoint != nil {
				w.OnCheckpoint(*seg)
				lastCheckpoint = time.Now()
			}
		}

		if rerr != nil {
			if rerr == io.EOF {
				if w.OnProgress != nil && unreported > 0 {
					w.OnProgress(seg.Index, unreported)
				}
				return w.finish(seg, end, resumeStart)
			}
			return classifyReadErr(rerr)
		}
	}
}

func (w *SegmentWorker) finish(seg *Segment, end Size, resumeStart int64) error {
	if end.Known {
		expected := end.Bytes - seg.Start + 1
		if seg.Downloaded < expected {
			return Classify(KindNetworkTransient, io.ErrUnexpectedEOF)
		}
	}
	seg.Complete = true
	if w.File != nil {
		if err := w.File.Sync(); err != nil {
			return Classify(KindIoError, err)
		}
	}
	if w.OnCheckpoint != nil {
		w.OnCheckpoint(*seg)
	}
	return nil
}

func classifyReadErr(err error) error {
	if ce, ok := err.(*ClassifiedError); ok {
		return ce
	}
	return Classify(KindNetworkTransient, err)
}
