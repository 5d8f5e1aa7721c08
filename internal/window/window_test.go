package window

import (
	"testing"
	"time"
)

func fixture(active bool) Schedule {
	return Schedule{
		Start:    time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		Window:   15 * time.Minute,
		Duration: 60 * time.Minute,
		Active:   active,
	}
}

func TestEvaluate_Timeline(t *testing.T) {
	s := fixture(true)
	tests := []struct {
		name   string
		offset time.Duration
		open   bool
		late   bool
		reason string
	}{
		{"before start", -2 * time.Minute, true, false, ""},
		{"at start", 0, true, false, ""},
		{"on time", 4 * time.Minute, true, false, ""},
		{"exactly at late threshold", 10 * time.Minute, true, false, ""},
		{"late", 11 * time.Minute, true, true, ""},
		{"late near window end", 14 * time.Minute, true, true, ""},
		{"exactly at window end", 15 * time.Minute, true, true, ""},
		{"window closed", 16 * time.Minute, false, false, ReasonWindowClosed},
		{"at session end", 60 * time.Minute, false, false, ReasonWindowClosed},
		{"expired though active", 61 * time.Minute, false, false, ReasonExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(s, s.Start.Add(tt.offset))
			if got.Open != tt.open || got.Late != tt.late || got.Reason != tt.reason {
				t.Errorf("got %+v, want open=%v late=%v reason=%q", got, tt.open, tt.late, tt.reason)
			}
		})
	}
}

func TestEvaluate_InactiveSession(t *testing.T) {
	s := fixture(false)
	got := Evaluate(s, s.Start.Add(time.Minute))
	if got.Open {
		t.Fatal("inactive session must be closed")
	}
	if got.Reason != ReasonEnded {
		t.Errorf("expected %q, got %q", ReasonEnded, got.Reason)
	}
}

func TestEvaluate_ShortWindowNeverLate(t *testing.T) {
	s := fixture(true)
	s.Window = 5 * time.Minute
	got := Evaluate(s, s.Start.Add(5*time.Minute))
	if !got.Open || got.Late {
		t.Errorf("expected open and on time, got %+v", got)
	}
}

func TestExpired(t *testing.T) {
	s := fixture(true)
	if Expired(s, s.Start.Add(59*time.Minute)) {
		t.Error("not expired before session end")
	}
	if !Expired(s, s.Start.Add(60*time.Minute)) {
		t.Error("expired at session end")
	}
	if !Expired(s, s.Start.Add(65*time.Minute)) {
		t.Error("expired after session end")
	}
}
