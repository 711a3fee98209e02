package dlcore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProbeHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		w.Header().Set("Content-Length", "1000")
		w.Header().Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := &Transport{Client: srv.Client()}
	res, err := tr.Probe(context.Background(), srv.URL+"/file.bin")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !res.Size.Known || res.Size.Bytes != 1000 {
		t.Fatalf("got size %+v, want known 1000", res.Size)
	}
	if !res.AcceptsRanges {
		t.Fatal("expected AcceptsRanges true")
	}
}

func TestProbeFallsBackToRangedGetOn405(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Range", "bytes 0-0/500")
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer srv.Close()

	tr := &Transport{Client: srv.Client()}
	res, err := tr.Probe(context.Background(), srv.URL+"/file.bin")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !res.Size.Known || res.Size.Bytes != 500 {
		t.Fatalf("got size %+v, want known 500", res.Size)
	}
}

func TestFetchRangeDroppedRangeSupportIsContentChanged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK) // ignores the Range header entirely
	}))
	defer srv.Close()

	tr := &Transport{Client: srv.Client()}
	_, err := tr.FetchRange(context.Background(), srv.URL+"/file.bin", 100, KnownSize(999))
	if err == nil {
		t.Fatal("expected an error")
	}
	ce, ok := err.(*ClassifiedError)
	if !ok || ce.Kind != KindContentChanged {
		t.Fatalf("got %v, want a KindContentChanged ClassifiedError", err)
	}
}

func TestFetchRangeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := &Transport{Client: srv.Client()}
	_, err := tr.FetchRange(context.Background(), srv.URL+"/file.bin", 0, UnknownSize)
	ce, ok := err.(*ClassifiedError)
	if !ok || ce.Kind != KindNetworkTransient {
		t.Fatalf("got %v, want a KindNetworkTransient ClassifiedError", err)
	}
}
