package scheduler

import (
	"testing"
	"time"

	"github.com/novincode/dlman-sub000/pkg/dlcore"
)

func TestSortPendingOrdersByPriorityThenFIFO(t *testing.T) {
	base := time.Now()
	high := &dlcore.Download{ID: "high", Priority: dlcore.PriorityHigh, CreatedAt: base.Add(2 * time.Minute)}
	normalOld := &dlcore.Download{ID: "normal-old", Priority: dlcore.PriorityNormal, CreatedAt: base}
	normalNew := &dlcore.Download{ID: "normal-new", Priority: dlcore.PriorityNormal, CreatedAt: base.Add(time.Minute)}
	low := &dlcore.Download{ID: "low", Priority: dlcore.PriorityLow, CreatedAt: base.Add(-time.Hour)}

	pending := []*dlcore.Download{low, normalNew, high, normalOld}
	sortPending(pending)

	want := []string{"high", "normal-old", "normal-new", "low"}
	for i, d := range pending {
		if d.ID != want[i] {
			t.Fatalf("position %d: got %s, want %s", i, d.ID, want[i])
		}
	}
}

func TestPausedQueueIsInactiveRegardlessOfSchedule(t *testing.T) {
	q := &dlcore.Queue{
		ID:       "q1",
		Paused:   true,
		Schedule: &dlcore.Schedule{Enabled: true, Start: dlcore.TimeOfDay{Hour: 0}, Stop: dlcore.TimeOfDay{Hour: 23, Minute: 59}, Days: dlcore.NewWeekdaySet(time.Now().Weekday())},
	}
	active := !q.Paused && (q.Schedule == nil || q.Schedule.Active(time.Now()))
	if active {
		t.Fatal("expected a paused queue to be inactive even during an open schedule window")
	}

	q.Paused = false
	active = !q.Paused && (q.Schedule == nil || q.Schedule.Active(time.Now()))
	if !active {
		t.Fatal("expected an unpaused queue with an open schedule window to be active")
	}
	if q.Schedule.Start.Hour != 0 || q.Schedule.Stop.Hour != 23 {
		t.Fatal("starting/stopping a queue must never rewrite its configured schedule window")
	}
}

func TestSortPendingDefaultPriorityIsPlainFIFO(t *testing.T) {
	base := time.Now()
	a := &dlcore.Download{ID: "a", CreatedAt: base}
	b := &dlcore.Download{ID: "b", CreatedAt: base.Add(time.Second)}
	c := &dlcore.Download{ID: "c", CreatedAt: base.Add(2 * time.Second)}

	pending := []*dlcore.Download{c, a, b}
	sortPending(pending)

	want := []string{"a", "b", "c"}
	for i, d := range pending {
		if d.ID != want[i] {
			t.Fatalf("position %d: got %s, want %s", i, d.ID, want[i])
		}
	}
}
