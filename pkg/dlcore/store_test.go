package dlcore

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "dlman.db")
	st, err := Open(dbPath, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestStoreSaveAndLoadDownload(t *testing.T) {
	st := openTestStore(t)

	d := &Download{
		ID: "d1", URL: "http://example.com/file.bin", Filename: "file.bin",
		Destination: "/tmp", Size: KnownSize(100), Status: StatusQueued,
		QueueID: DefaultQueueID, CreatedAt: time.Now().Truncate(time.Second),
		Segments: []Segment{
			{Index: 0, Start: 0, End: KnownSize(49), Downloaded: 50, Complete: true},
			{Index: 1, Start: 50, End: KnownSize(99), Downloaded: 10},
		},
	}
	if err := st.SaveDownload(d); err != nil {
		t.Fatalf("SaveDownload: %v", err)
	}

	loaded, err := st.LoadDownloads()
	if err != nil {
		t.Fatalf("LoadDownloads: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("got %d downloads, want 1", len(loaded))
	}
	got := loaded[0]
	if got.ID != d.ID || got.URL != d.URL || got.Status != d.Status {
		t.Fatalf("got %+v, want matching %+v", got, d)
	}
	if len(got.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(got.Segments))
	}
	if !got.Segments[0].Complete || got.Segments[0].Downloaded != 50 {
		t.Fatalf("segment 0 mismatch: %+v", got.Segments[0])
	}
	if got.Segments[1].Complete {
		t.Fatal("segment 1 should not be complete")
	}
}

func TestStoreSaveSegmentCheckpoint(t *testing.T) {
	st := openTestStore(t)
	d := &Download{ID: "d1", Status: StatusDownloading, CreatedAt: time.Now(), Segments: []Segment{
		{Index: 0, Start: 0, End: KnownSize(99)},
	}}
	if err := st.SaveDownload(d); err != nil {
		t.Fatalf("SaveDownload: %v", err)
	}

	if err := st.SaveSegment("d1", Segment{Index: 0, Start: 0, End: KnownSize(99), Downloaded: 42}); err != nil {
		t.Fatalf("SaveSegment: %v", err)
	}

	loaded, err := st.LoadDownloads()
	if err != nil {
		t.Fatalf("LoadDownloads: %v", err)
	}
	if loaded[0].Segments[0].Downloaded != 42 {
		t.Fatalf("got %d, want 42", loaded[0].Segments[0].Downloaded)
	}
}

func TestStoreSaveAndLoadDownloadPriority(t *testing.T) {
	st := openTestStore(t)
	d := &Download{
		ID: "d1", Status: StatusQueued, CreatedAt: time.Now().Truncate(time.Second),
		QueueID: DefaultQueueID, Priority: PriorityHigh,
	}
	if err := st.SaveDownload(d); err != nil {
		t.Fatalf("SaveDownload: %v", err)
	}

	loaded, err := st.LoadDownloads()
	if err != nil {
		t.Fatalf("LoadDownloads: %v", err)
	}
	if loaded[0].Priority != PriorityHigh {
		t.Fatalf("got priority %v, want PriorityHigh", loaded[0].Priority)
	}
}

func TestStoreSaveAndLoadDownloadSegmentCount(t *testing.T) {
	st := openTestStore(t)
	d := &Download{
		ID: "d1", Status: StatusQueued, CreatedAt: time.Now().Truncate(time.Second),
		QueueID: DefaultQueueID, SegmentCount: 8,
	}
	if err := st.SaveDownload(d); err != nil {
		t.Fatalf("SaveDownload: %v", err)
	}

	loaded, err := st.LoadDownloads()
	if err != nil {
		t.Fatalf("LoadDownloads: %v", err)
	}
	if loaded[0].SegmentCount != 8 {
		t.Fatalf("got segment count %d, want 8", loaded[0].SegmentCount)
	}

	// A zero override must round-trip as zero, not as the settings default --
	// that fallback is Manager.Start's job, not the store's.
	d2 := &Download{ID: "d2", Status: StatusQueued, CreatedAt: time.Now().Truncate(time.Second), QueueID: DefaultQueueID}
	if err := st.SaveDownload(d2); err != nil {
		t.Fatalf("SaveDownload: %v", err)
	}
	loaded, err = st.LoadDownloads()
	if err != nil {
		t.Fatalf("LoadDownloads: %v", err)
	}
	for _, got := range loaded {
		if got.ID == "d2" && got.SegmentCount != 0 {
			t.Fatalf("got segment count %d for unset override, want 0", got.SegmentCount)
		}
	}
}

func TestStoreRecoverPausesDownloadingAndClampsSegments(t *testing.T) {
	st := openTestStore(t)
	d := &Download{
		ID: "d1", Status: StatusDownloading, CreatedAt: time.Now(),
		Segments: []Segment{
			{Index: 0, Start: 0, End: KnownSize(9), Downloaded: 25}, // over-reported
		},
	}
	if err := st.SaveDownload(d); err != nil {
		t.Fatalf("SaveDownload: %v", err)
	}

	recovered, err := st.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(recovered) != 1 {
		t.Fatalf("got %d, want 1", len(recovered))
	}
	got := recovered[0]
	if got.Status != StatusPaused {
		t.Fatalf("got status %s, want paused", got.Status)
	}
	if got.Segments[0].Downloaded != 10 {
		t.Fatalf("got clamped downloaded=%d, want 10", got.Segments[0].Downloaded)
	}
	if got.Downloaded != 10 {
		t.Fatalf("got recomputed total downloaded=%d, want 10", got.Downloaded)
	}

	reloaded, err := st.LoadDownloads()
	if err != nil {
		t.Fatalf("LoadDownloads after recover: %v", err)
	}
	if reloaded[0].Status != StatusPaused {
		t.Fatal("recovery changes should be persisted")
	}
}

func TestStoreDeleteDownload(t *testing.T) {
	st := openTestStore(t)
	d := &Download{ID: "d1", Status: StatusCompleted, CreatedAt: time.Now(), Segments: []Segment{{Index: 0}}}
	if err := st.SaveDownload(d); err != nil {
		t.Fatalf("SaveDownload: %v", err)
	}
	if err := st.DeleteDownload("d1"); err != nil {
		t.Fatalf("DeleteDownload: %v", err)
	}
	loaded, err := st.LoadDownloads()
	if err != nil {
		t.Fatalf("LoadDownloads: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("got %d downloads, want 0", len(loaded))
	}
}

func TestStoreQueueDefaultCannotBeDeleted(t *testing.T) {
	st := openTestStore(t)
	q := &Queue{ID: DefaultQueueID, Name: "Default", MaxConcurrent: 2, CreatedAt: time.Now(), Default: true}
	if err := st.SaveQueue(q); err != nil {
		t.Fatalf("SaveQueue: %v", err)
	}
	if err := st.DeleteQueue(DefaultQueueID); err != nil {
		t.Fatalf("DeleteQueue: %v", err)
	}
	queues, err := st.LoadQueues()
	if err != nil {
		t.Fatalf("LoadQueues: %v", err)
	}
	if len(queues) != 1 {
		t.Fatal("the default queue must survive a delete attempt")
	}
}

func TestStoreSaveAndLoadQueuePaused(t *testing.T) {
	st := openTestStore(t)
	q := &Queue{
		ID: "q1", Name: "Nightly", MaxConcurrent: 2, CreatedAt: time.Now(),
		Schedule: &Schedule{Enabled: true, Start: TimeOfDay{Hour: 9}, Stop: TimeOfDay{Hour: 17}, Days: NewWeekdaySet(time.Monday)},
		Paused:   true,
	}
	if err := st.SaveQueue(q); err != nil {
		t.Fatalf("SaveQueue: %v", err)
	}
	queues, err := st.LoadQueues()
	if err != nil {
		t.Fatalf("LoadQueues: %v", err)
	}
	if len(queues) != 1 || !queues[0].Paused {
		t.Fatalf("got %+v, want a paused queue", queues)
	}
	if queues[0].Schedule == nil || queues[0].Schedule.Start.Hour != 9 || queues[0].Schedule.Stop.Hour != 17 {
		t.Fatalf("expected the configured schedule window to survive independently of Paused, got %+v", queues[0].Schedule)
	}
}

func TestStoreSettingsRoundTrip(t *testing.T) {
	st := openTestStore(t)
	want := DefaultSettings()
	want.MaxConcurrentDownloads = 8
	want.GlobalSpeedLimit = 1024 * 1024
	want.Proxy.Mode = ProxyManual
	want.Proxy.HTTPProxy = "http://proxy.local:8080"

	if err := st.SaveSettings(want); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	got, err := st.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if got.MaxConcurrentDownloads != want.MaxConcurrentDownloads {
		t.Fatalf("got %d, want %d", got.MaxConcurrentDownloads, want.MaxConcurrentDownloads)
	}
	if got.Proxy.HTTPProxy != want.Proxy.HTTPProxy || got.Proxy.Mode != want.Proxy.Mode {
		t.Fatalf("got proxy %+v, want %+v", got.Proxy, want.Proxy)
	}
}

func TestStoreCategoryRoundTrip(t *testing.T) {
	st := openTestStore(t)
	c := &Category{ID: "c1", Name: "Archives", Extensions: []string{"zip", "tar", "gz"}}
	if err := st.SaveCategory(c); err != nil {
		t.Fatalf("SaveCategory: %v", err)
	}
	cats, err := st.LoadCategories()
	if err != nil {
		t.Fatalf("LoadCategories: %v", err)
	}
	if len(cats) != 1 || len(cats[0].Extensions) != 3 {
		t.Fatalf("got %+v, want 3 extensions", cats)
	}
	if err := st.DeleteCategory("c1"); err != nil {
		t.Fatalf("DeleteCategory: %v", err)
	}
	cats, _ = st.LoadCategories()
	if len(cats) != 0 {
		t.Fatal("expected category to be gone after delete")
	}
}
