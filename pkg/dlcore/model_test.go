package dlcore

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSizeJSONRoundTrip(t *testing.T) {
	t.Run("known size marshals as a plain integer", func(t *testing.T) {
		b, err := json.Marshal(KnownSize(12345))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(b) != "12345" {
			t.Fatalf("got %s, want 12345", b)
		}
	})

	t.Run("unknown size marshals as null", func(t *testing.T) {
		b, err := json.Marshal(UnknownSize)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(b) != "null" {
			t.Fatalf("got %s, want null", b)
		}
	})

	t.Run("round trips through Download.Size", func(t *testing.T) {
		d := Download{Size: KnownSize(42)}
		b, err := json.Marshal(d)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var out Download
		if err := json.Unmarshal(b, &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if !out.Size.Known || out.Size.Bytes != 42 {
			t.Fatalf("got %+v, want Known=true Bytes=42", out.Size)
		}
	})

	t.Run("null unmarshals back to UnknownSize", func(t *testing.T) {
		var s Size
		if err := json.Unmarshal([]byte("null"), &s); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if s != UnknownSize {
			t.Fatalf("got %+v, want UnknownSize", s)
		}
	})
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusQueued, true},
		{StatusPending, StatusDownloading, true},
		{StatusQueued, StatusDownloading, true},
		{StatusDownloading, StatusPaused, true},
		{StatusDownloading, StatusCompleted, true},
		{StatusPaused, StatusQueued, true},
		{StatusFailed, StatusQueued, true},
		{StatusCompleted, StatusDeleted, true},
		{StatusCompleted, StatusDownloading, false},
		{StatusDeleted, StatusQueued, false},
		{StatusPaused, StatusDownloading, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestScheduleActiveAlwaysOnWhenDisabled(t *testing.T) {
	s := Schedule{Enabled: false}
	if !s.Active(time.Now()) {
		t.Fatal("a disabled schedule should always be active")
	}
}

func TestScheduleActiveDayGating(t *testing.T) {
	s := Schedule{
		Enabled: true,
		Start:   TimeOfDay{Hour: 9, Minute: 0},
		Stop:    TimeOfDay{Hour: 17, Minute: 0},
		Days:    NewWeekdaySet(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday),
	}
	sunday := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC) // a Sunday
	if s.Active(sunday) {
		t.Fatal("expected inactive on a day outside Days")
	}
	monday := time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC) // a Monday
	if !s.Active(monday) {
		t.Fatal("expected active inside the window on an included day")
	}
}

func TestScheduleActiveTimeWindow(t *testing.T) {
	s := Schedule{
		Enabled: true,
		Start:   TimeOfDay{Hour: 9, Minute: 0},
		Stop:    TimeOfDay{Hour: 17, Minute: 0},
		Days:    NewWeekdaySet(time.Monday),
	}
	before := time.Date(2026, 8, 3, 8, 59, 0, 0, time.UTC)
	inside := time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)
	after := time.Date(2026, 8, 3, 17, 0, 0, 0, time.UTC)
	if s.Active(before) {
		t.Fatal("expected inactive before window start")
	}
	if !s.Active(inside) {
		t.Fatal("expected active inside window")
	}
	if s.Active(after) {
		t.Fatal("expected inactive at/after window stop")
	}
}

func TestScheduleActiveOvernightWrap(t *testing.T) {
	s := Schedule{
		Enabled: true,
		Start:   TimeOfDay{Hour: 22, Minute: 0},
		Stop:    TimeOfDay{Hour: 6, Minute: 0},
		Days:    NewWeekdaySet(time.Monday),
	}
	lateNight := time.Date(2026, 8, 3, 23, 0, 0, 0, time.UTC)
	earlyMorning := time.Date(2026, 8, 3, 5, 0, 0, 0, time.UTC)
	midday := time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)
	if !s.Active(lateNight) {
		t.Fatal("expected active late at night for an overnight window")
	}
	if !s.Active(earlyMorning) {
		t.Fatal("expected active early morning for an overnight window")
	}
	if s.Active(midday) {
		t.Fatal("expected inactive at midday for an overnight window")
	}
}

func TestRecomputeDownloaded(t *testing.T) {
	d := Download{Segments: []Segment{
		{Downloaded: 10}, {Downloaded: 20}, {Downloaded: 5},
	}}
	d.RecomputeDownloaded()
	if d.Downloaded != 35 {
		t.Fatalf("got %d, want 35", d.Downloaded)
	}
}

func TestAllComplete(t *testing.T) {
	d := Download{}
	if d.AllComplete() {
		t.Fatal("a download with no segments is never complete")
	}
	d.Segments = []Segment{{Complete: true}, {Complete: false}}
	if d.AllComplete() {
		t.Fatal("expected not complete while one segment is incomplete")
	}
	d.Segments[1].Complete = true
	if !d.AllComplete() {
		t.Fatal("expected complete once every segment is")
	}
}

func TestCategoryMatches(t *testing.T) {
	c := Category{Extensions: []string{"zip", "tar"}}
	if !c.Matches("zip") {
		t.Fatal("expected zip to match")
	}
	if c.Matches("exe") {
		t.Fatal("expected exe not to match")
	}
}

func TestPriorityZeroValueIsNormal(t *testing.T) {
	var p Priority
	if p != PriorityNormal {
		t.Fatalf("zero value Priority = %v, want PriorityNormal", p)
	}
	var d Download
	if err := json.Unmarshal([]byte(`{"id":"x"}`), &d); err != nil {
		t.Fatal(err)
	}
	if d.Priority != PriorityNormal {
		t.Fatalf("download decoded without a priority field got %v, want PriorityNormal", d.Priority)
	}
}

func TestPriorityJSONRoundTrip(t *testing.T) {
	for _, p := range []Priority{PriorityLow, PriorityNormal, PriorityHigh} {
		b, err := json.Marshal(p)
		if err != nil {
			t.Fatal(err)
		}
		var got Priority
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatal(err)
		}
		if got != p {
			t.Fatalf("round trip %v -> %s -> %v", p, b, got)
		}
	}
}

func TestPriorityLess(t *testing.T) {
	if !PriorityHigh.Less(PriorityNormal) {
		t.Fatal("expected high to sort before normal")
	}
	if !PriorityNormal.Less(PriorityLow) {
		t.Fatal("expected normal to sort before low")
	}
	if PriorityLow.Less(PriorityHigh) {
		t.Fatal("expected low not to sort before high")
	}
}
