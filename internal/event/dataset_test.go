package event

import (
	"testing"
	"time"
)

func testEvent(name, dateText, venue string, seen time.Time) *Event {
	return NewEvent(name, ParseDate(dateText), venue, "Mumbai", "", "https://in.bookmyshow.com/events/x/ET1", seen)
}

func TestNewDataset_KeepsFirst(t *testing.T) {
	t1 := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(24 * time.Hour)

	first := testEvent("Event 1", "2026-02-10", "NSCI Dome", t1)
	dup := testEvent("Event 1", "2026-02-10", "NSCI Dome", t2)
	other := testEvent("Event 2", "2026-02-11", "NSCI Dome", t2)

	d := NewDataset(first, dup, other)

	if d.Len() != 2 {
		t.Fatalf("expected 2 events, got %d", d.Len())
	}

	got, ok := d.Get(first.ID)
	if !ok {
		t.Fatal("expected first event to be present")
	}
	if got != first {
		t.Error("expected the first occurrence to be kept")
	}
}

func TestMerge(t *testing.T) {
	t1 := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)

	stored := testEvent("John Mayer Solo Live", "2026-02-10", "NSCI Dome", t1)
	stored.Category = "Music Shows"
	existing := NewDataset(stored)

	t.Run("keep-first discards the fresh duplicate", func(t *testing.T) {
		fresh := testEvent("John Mayer Solo Live", "2026-02-10", "NSCI Dome", t2)
		fresh.URL = "https://in.bookmyshow.com/events/changed/ET2"

		result := Merge(existing, []*Event{fresh})

		if result.Dataset.Len() != 1 {
			t.Fatalf("expected 1 event, got %d", result.Dataset.Len())
		}

		got := result.Dataset.Events()[0]
		if !got.LastSeen.Equal(t1) {
			t.Errorf("expected LastSeen %v to survive, got %v", t1, got.LastSeen)
		}
		if got.URL != stored.URL || got.Category != "Music Shows" {
			t.Error("expected stored fields to be unchanged")
		}
		if len(result.New) != 0 {
			t.Errorf("expected no new events, got %d", len(result.New))
		}
		if len(result.Retained) != 1 || result.Retained[0] != stored.ID {
			t.Errorf("expected stored ID to be reported as retained, got %v", result.Retained)
		}
	})

	t.Run("new events are appended after existing", func(t *testing.T) {
		a := testEvent("Event A", "2026-02-12", "Venue A", t2)
		b := testEvent("Event B", "", "Venue B", t2)

		result := Merge(existing, []*Event{a, b, a})

		events := result.Dataset.Events()
		if len(events) != 3 {
			t.Fatalf("expected 3 events, got %d", len(events))
		}
		if events[0] != stored || events[1] != a || events[2] != b {
			t.Error("expected existing first, then batch order")
		}
		if len(result.New) != 2 {
			t.Errorf("expected 2 new events, got %d", len(result.New))
		}
		if len(result.Retained) != 0 {
			t.Errorf("expected nothing retained, got %v", result.Retained)
		}
	})

	t.Run("handles nil existing dataset", func(t *testing.T) {
		a := testEvent("Event A", "2026-02-12", "Venue A", t2)

		result := Merge(nil, []*Event{a})

		if result.Dataset.Len() != 1 || len(result.New) != 1 {
			t.Errorf("expected 1 new event, got len=%d new=%d", result.Dataset.Len(), len(result.New))
		}
	})

	t.Run("does not mutate existing dataset", func(t *testing.T) {
		a := testEvent("Event C", "2026-02-12", "Venue C", t2)
		Merge(existing, []*Event{a})

		if existing.Len() != 1 {
			t.Errorf("expected existing to keep 1 event, got %d", existing.Len())
		}
	})
}

func TestMerge_UniqueIDs(t *testing.T) {
	seen := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)
	names := []string{"A", "B", "A", "C", "B", "a", " c "}

	var existingEvents, batch []*Event
	for i, n := range names {
		evt := testEvent(n, "", "", seen)
		if i%2 == 0 {
			existingEvents = append(existingEvents, evt)
		} else {
			batch = append(batch, evt)
		}
	}

	result := Merge(NewDataset(existingEvents...), batch)

	ids := make(map[string]bool)
	for _, evt := range result.Dataset.Events() {
		if ids[evt.ID] {
			t.Errorf("duplicate ID after merge: %s", evt.ID)
		}
		ids[evt.ID] = true
	}
	if len(ids) != 3 {
		t.Errorf("expected 3 unique events, got %d", len(ids))
	}
}

func TestDataset_Classify(t *testing.T) {
	now := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)

	past := testEvent("Past", "2025-01-01", "", now)
	past.Status = StatusActive // stale stored status must not survive
	soon := testEvent("Soon", "2026-02-10", "", now)
	later := testEvent("Later", "2026-03-01", "", now)
	unknown := testEvent("Unknown", "next month", "", now)

	d := NewDataset(past, soon, later, unknown)
	d.Classify(now)

	want := map[string]Status{
		past.ID:    StatusExpired,
		soon.ID:    StatusActive,
		later.ID:   StatusUpcoming,
		unknown.ID: StatusActive,
	}
	for id, status := range want {
		evt, _ := d.Get(id)
		if evt.Status != status {
			t.Errorf("%s: status = %s, want %s", evt.Name, evt.Status, status)
		}
	}

	counts := d.StatusCounts()
	if counts[StatusActive] != 2 || counts[StatusUpcoming] != 1 || counts[StatusExpired] != 1 {
		t.Errorf("unexpected status counts: %v", counts)
	}
}
