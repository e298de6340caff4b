package conflict

import (
	"testing"
	"time"

	"github.com/hackgods/availability-engine/internal/timerange"
)

var base = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return base.Add(time.Duration(minutes) * time.Minute)
}

func span(from, to int) timerange.TimeRange {
	return timerange.MustNew(at(from), at(to))
}

type spyAppointment struct {
	r     timerange.TimeRange
	calls int
}

func (s *spyAppointment) Interval() timerange.TimeRange { return s.r }

func (s *spyAppointment) Contains(c timerange.TimeRange) bool {
	s.calls++
	return s.r.Overlaps(c)
}

func TestHasAppointmentConflict_UnavailableShortCircuits(t *testing.T) {
	spy := &spyAppointment{r: span(0, 30)}

	got := HasAppointmentConflict(span(10, 20), []OverlapCheckable{spy}, []timerange.TimeRange{span(0, 60)})
	if !got {
		t.Fatal("expected conflict from unavailable window")
	}
	if spy.calls != 0 {
		t.Fatalf("existing appointment should not be consulted, got %d calls", spy.calls)
	}
}

func TestHasAppointmentConflict_ExistingAppointment(t *testing.T) {
	spy := &spyAppointment{r: span(0, 30)}

	if !HasAppointmentConflict(span(10, 20), []OverlapCheckable{spy}, []timerange.TimeRange{span(120, 180)}) {
		t.Fatal("expected conflict with existing appointment")
	}
	if spy.calls != 1 {
		t.Fatalf("expected 1 contains call, got %d", spy.calls)
	}
}

func TestHasAppointmentConflict_None(t *testing.T) {
	spy := &spyAppointment{r: span(0, 30)}

	if HasAppointmentConflict(span(30, 40), []OverlapCheckable{spy}, nil) {
		t.Fatal("adjacent slot should not conflict")
	}
}

func TestHasAppointmentConflict_UnavailableMatchesOnStartOnly(t *testing.T) {
	// The candidate starts before the unavailable window; only existing
	// bookings can reject it.
	if HasAppointmentConflict(span(0, 30), nil, []timerange.TimeRange{span(15, 60)}) {
		t.Fatal("unavailable window should only match on candidate start")
	}
}

func TestWithPrepBuffer(t *testing.T) {
	// Existing 10:00-10:15 with a 15 minute prep buffer.
	existing := WithPrepBuffer(&spyAppointment{r: span(60, 75)}, 15*time.Minute)

	tests := []struct {
		name      string
		candidate timerange.TimeRange
		want      bool
	}{
		{"ends 5 minutes before start", span(45, 55), true},
		{"overlaps the appointment", span(55, 65), true},
		{"starts 5 minutes after end", span(80, 90), true},
		{"ends exactly buffer before start", span(35, 45), false},
		{"starts exactly buffer after end", span(90, 100), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasAppointmentConflict(tt.candidate, []OverlapCheckable{existing}, nil); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFirstConflict(t *testing.T) {
	existing := []OverlapCheckable{&spyAppointment{r: span(0, 10)}, &spyAppointment{r: span(20, 30)}}

	r, ok := FirstConflict(span(25, 35), existing, nil)
	if !ok || !r.Equal(span(20, 30)) {
		t.Fatalf("expected conflict with second appointment, got %v %s", ok, r)
	}
	if _, ok := FirstConflict(span(10, 20), existing, nil); ok {
		t.Fatal("expected no conflict")
	}
}
