package event

import (
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	now := time.Date(2026, time.February, 3, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		dateText string
		want     Status
	}{
		{"within a week", "2026-02-10", StatusActive},
		{"today", "2026-02-03", StatusActive},
		{"yesterday", "2026-02-02", StatusExpired},
		{"last year", "2025-01-01", StatusExpired},
		{"eight days out", "2026-02-11", StatusUpcoming},
		{"next month", "2026-03-01", StatusUpcoming},
		{"unparsable", "next month", StatusActive},
		{"empty", "", StatusActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(ParseDate(tt.dateText), now); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.dateText, got, tt.want)
			}
		})
	}
}

func TestClassify_Totality(t *testing.T) {
	now := time.Date(2026, time.February, 3, 0, 0, 0, 0, time.UTC)
	valid := map[Status]bool{StatusActive: true, StatusUpcoming: true, StatusExpired: true}

	if !valid[Classify(nil, now)] {
		t.Error("Classify(nil) returned an unknown status")
	}

	start := NewDate(2025, time.December, 1)
	for i := 0; i < 120; i++ {
		d := start.AddDays(i)
		if got := Classify(&d, now); !valid[got] {
			t.Errorf("Classify(%s) = %q, not a known status", d, got)
		}
	}
}

func TestClassify_UsesLocalCalendarDay(t *testing.T) {
	// 23:30 on Feb 3 in UTC+05:30 is still Feb 3 locally, although Feb 3 18:00 UTC
	ist := time.FixedZone("IST", 5*3600+1800)
	now := time.Date(2026, time.February, 3, 23, 30, 0, 0, ist)
	d := NewDate(2026, time.February, 3)

	if got := Classify(&d, now); got != StatusActive {
		t.Errorf("Classify(today) = %s, want Active", got)
	}
}

func TestParseStatus(t *testing.T) {
	if st, ok := ParseStatus(" upcoming "); !ok || st != StatusUpcoming {
		t.Errorf("ParseStatus(upcoming) = %q, %v", st, ok)
	}
	if _, ok := ParseStatus("cancelled"); ok {
		t.Error("ParseStatus(cancelled) should fail")
	}
}
