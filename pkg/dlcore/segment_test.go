package dlcore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/afero"
)

func TestSegmentWorkerRunCompletesKnownRange(t *testing.T) {
	payload := []byte("hello world, this is segment payload data")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-40/41")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(payload)
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	f, err := fs.Create("/out.bin")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	var progressed int64
	w := &SegmentWorker{
		Transport:  &Transport{Client: srv.Client()},
		SourceURL:  srv.URL,
		File:       f,
		OnProgress: func(idx int, n int64) { progressed += n },
	}
	seg := &Segment{Index: 0, Start: 0, End: KnownSize(int64(len(payload) - 1))}

	if err := w.Run(context.Background(), seg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !seg.Complete {
		t.Fatal("expected segment to be marked complete")
	}
	if seg.Downloaded != int64(len(payload)) {
		t.Fatalf("got Downloaded=%d, want %d", seg.Downloaded, len(payload))
	}
	if progressed != int64(len(payload)) {
		t.Fatalf("got progressed=%d, want %d", progressed, len(payload))
	}

	got, err := afero.ReadFile(fs, "/out.bin")
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestSegmentWorkerRunShortReadIsNetworkTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-99/100")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("only ten b")) // far short of the declared 100 bytes
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	f, _ := fs.Create("/out.bin")
	defer f.Close()

	w := &SegmentWorker{
		Transport: &Transport{Client: srv.Client()},
		SourceURL: srv.URL,
		File:      f,
	}
	seg := &Segment{Index: 0, Start: 0, End: KnownSize(99)}

	err := w.Run(context.Background(), seg)
	if err == nil {
		t.Fatal("expected an error for a short read against a known-length segment")
	}
	if KindOf(err) != KindNetworkTransient {
		t.Fatalf("got kind %v, want KindNetworkTransient", KindOf(err))
	}
}

func TestSegmentSpan(t *testing.T) {
	known := Segment{Start: 10, End: KnownSize(19)}
	if got := known.span(); got != 10 {
		t.Fatalf("got %d, want 10", got)
	}
	open := Segment{Start: 10, End: UnknownSize}
	if got := open.span(); got != -1 {
		t.Fatalf("got %d, want -1", got)
	}
}
