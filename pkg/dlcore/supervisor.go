package dlcore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// Supervisor owns the lifecycle of one download: probe, plan, run, merge,
// and finalize, plus pause/resume/cancel/remove.
type Supervisor struct {
	Download *Download
	Store    *Store
	Bus      *EventBus
	Retry    RetryPolicy
	Segments int // the download's SegmentCount, else the settings default; capped at 16

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// newTransport builds a *Transport for this download from settings.
func newTransport(ps ProxySettings, d *Download) (*Transport, error) {
	client, err := NewClient(ps)
	if err != nil {
		return nil, err
	}
	return &Transport{
		Client:   client,
		Headers:  d.Headers,
		Cookies:  d.Cookies,
		Referrer: d.Referrer,
	}, nil
}

// Start runs the full Probe→Plan→Run→Merge pipeline. It is idempotent:
// calling it twice while already running is a no-op.
func (s *Supervisor) Start(ctx context.Context, ps ProxySettings, bucket *Bucket) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()
		s.run(runCtx, ps, bucket)
	}()
}

func (s *Supervisor) run(ctx context.Context, ps ProxySettings, bucket *Bucket) {
	d := s.Download
	t, err := newTransport(ps, d)
	if err != nil {
		s.fail(err)
		return
	}

	if len(d.Segments) == 0 {
		if err := s.probeAndPlan(ctx, t); err != nil {
			s.fail(err)
			return
		}
	} else if err := s.verifyResume(ctx, t); err != nil {
		s.fail(err)
		return
	}

	s.setStatus(StatusDownloading)

	if err := s.runSegments(ctx, t, bucket); err != nil {
		if KindOf(err) == KindCancelled {
			return // pause/cancel already set the status at the call site
		}
		s.fail(err)
		return
	}

	if err := s.finalize(); err != nil {
		s.fail(err)
		return
	}
}

// probeAndPlan probes the URL and builds the segment plan for a fresh download.
func (s *Supervisor) probeAndPlan(ctx context.Context, t *Transport) error {
	d := s.Download
	res, err := t.Probe(ctx, d.URL)
	if err != nil {
		return err
	}
	d.FinalURL = res.FinalURL
	d.Size = res.Size
	d.ETag = res.ETag
	d.LastModified = res.LastModified
	if d.Filename == "" {
		if res.FilenameHint != "" {
			d.Filename = res.FilenameHint
		} else {
			d.Filename = "download"
		}
	}
	path, err := ResolveDestination(d.Destination, d.Filename)
	if err != nil {
		return Classify(KindIoError, err)
	}
	d.Filename = path[len(d.Destination)+1:]

	segCount := s.Segments
	if segCount <= 0 {
		segCount = 1
	}
	if segCount > 16 {
		segCount = 16
	}

	if res.Size.Known && res.AcceptsRanges && res.Size.Bytes > MinSplitSize {
		if min := getMinPartSize(res.Size.Bytes); res.Size.Bytes/int64(segCount) < min {
			if capped := int(res.Size.Bytes / min); capped < segCount {
				segCount = capped
			}
			if segCount < 1 {
				segCount = 1
			}
		}
		d.Segments = planSegments(res.Size.Bytes, segCount)
	} else {
		d.Segments = []Segment{{Index: 0, Start: 0, End: UnknownSize}}
	}

	if _, err := CreateSparse(filepath.Join(d.Destination, d.Filename), d.Size); err != nil {
		return err
	}
	if s.Store != nil {
		s.Store.SaveDownload(d)
	}
	if s.Bus != nil {
		s.Bus.Publish(Event{Kind: EventDownloadUpdated, Download: d})
	}
	return nil
}

// planSegments splits [0,size) into n equal segments with the remainder
// absorbed by the last one.
func planSegments(size int64, n int) []Segment {
	segs := make([]Segment, n)
	base := size / int64(n)
	start := int64(0)
	for i := 0; i < n; i++ {
		end := start + base - 1
		if i == n-1 {
			end = size - 1
		}
		segs[i] = Segment{Index: i, Start: start, End: KnownSize(end)}
		start = end + 1
	}
	return segs
}

// verifyResume re-probes a resumed download and treats any size/ETag/
// Last-Modified drift as fatal content-changed.
func (s *Supervisor) verifyResume(ctx context.Context, t *Transport) error {
	d := s.Download
	res, err := t.Probe(ctx, d.URL)
	if err != nil {
		return err
	}
	if d.Size.Known && res.Size.Known && d.Size.Bytes != res.Size.Bytes {
		return Classify(KindContentChanged, fmt.Errorf("size changed from %d to %d", d.Size.Bytes, res.Size.Bytes))
	}
	if d.ETag != "" && res.ETag != "" && d.ETag != res.ETag {
		return Classify(KindContentChanged, fmt.Errorf("etag changed from %q to %q", d.ETag, res.ETag))
	}
	if d.LastModified != "" && res.LastModified != "" && d.LastModified != res.LastModified {
		return Classify(KindContentChanged, fmt.Errorf("last-modified changed"))
	}
	return nil
}

// runSegments spawns one worker per incomplete segment and waits for all,
// retrying retryable failures up to Retry.MaxRetries per segment.
func (s *Supervisor) runSegments(ctx context.Context, t *Transport, bucket *Bucket) error {
	d := s.Download
	f, err := OpenExisting(filepath.Join(d.Destination, d.Filename))
	if err != nil {
		return err
	}
	defer f.Close()

	g, gctx := errgroup.WithContext(ctx)
	for i := range d.Segments {
		seg := &d.Segments[i]
		if seg.Complete {
			continue
		}
		g.Go(func() error {
			return s.runOneSegment(gctx, t, f, bucket, seg)
		})
	}
	return g.Wait()
}

func (s *Supervisor) runOneSegment(ctx context.Context, t *Transport, f afero.File, bucket *Bucket, seg *Segment) error {
	worker := &SegmentWorker{
		Transport: t,
		SourceURL: s.Download.FinalURL,
		File:      f,
		Bucket:    bucket,
		OnProgress: func(idx int, n int64) {
			s.Download.RecomputeDownloaded()
			if s.Bus != nil {
				s.Bus.PublishProgress(s.Download.ID, s.Download.Downloaded, s.Download.Size)
			}
		},
		OnCheckpoint: func(got Segment) {
			*seg = got
			if s.Store != nil {
				s.Store.SaveSegment(s.Download.ID, got)
			}
		},
	}

	attempt := 0
	for {
		attempt++
		err := worker.Run(ctx, seg)
		if err == nil {
			return nil
		}
		kind := KindOf(err)
		if kind == KindCancelled {
			return err
		}
		if !kind.Retryable() || !s.Retry.Allow(attempt) {
			return err
		}
		if werr := s.Retry.Wait(ctx, attempt); werr != nil {
			return Classify(KindCancelled, werr)
		}
	}
}

func (s *Supervisor) finalize() error {
	d := s.Download
	d.RecomputeDownloaded()
	if d.Size.Known && d.Downloaded != d.Size.Bytes {
		return Classify(KindInvariantViolation, fmt.Errorf("downloaded %d != size %d", d.Downloaded, d.Size.Bytes))
	}
	if !d.Size.Known {
		d.Size = KnownSize(d.Downloaded)
	}
	path := filepath.Join(d.Destination, d.Filename)
	f, err := OpenExisting(path)
	if err != nil {
		return err
	}
	if err := FinalizeFile(f, path); err != nil {
		return err
	}
	d.Status = StatusCompleted
	d.CompletedAt = time.Now()
	if s.Store != nil {
		s.Store.SaveDownload(d)
	}
	if s.Bus != nil {
		s.Bus.Publish(Event{Kind: EventStatusChanged, Download: d})
	}
	return nil
}

func (s *Supervisor) fail(err error) {
	d := s.Download
	d.Status = StatusFailed
	d.Error = err.Error()
	if s.Store != nil {
		s.Store.SaveDownload(d)
	}
	if s.Bus != nil {
		s.Bus.Publish(Event{Kind: EventStatusChanged, Download: d})
	}
}

func (s *Supervisor) setStatus(st Status) {
	s.Download.Status = st
	if s.Store != nil {
		s.Store.SaveDownload(s.Download)
	}
	if s.Bus != nil {
		s.Bus.Publish(Event{Kind: EventStatusChanged, Download: s.Download})
	}
}

// Pause signals all running segment workers to stop at their next
// cancellation point and waits for them to exit before returning.
func (s *Supervisor) Pause() {
	s.stop(StatusPaused)
}

// Cancel behaves like Pause but leaves the download in a terminal,
// non-resumable-by-schedule state.
func (s *Supervisor) Cancel() {
	s.stop(StatusCancelled)
}

func (s *Supervisor) stop(final Status) {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()
	if cancel == nil {
		// never started (e.g. pausing a queued-not-yet-running download)
		s.setStatus(final)
		return
	}
	cancel()
	if done != nil {
		<-done
	}
	s.setStatus(final)
}
