package timerange

import (
	"errors"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

var base = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return base.Add(time.Duration(minutes) * time.Minute)
}

func TestNew_RejectsInverted(t *testing.T) {
	_, err := New(at(10), at(0))
	if !errors.Is(err, ErrInvertedRange) {
		t.Fatalf("expected ErrInvertedRange, got %v", err)
	}

	r, err := New(at(0), at(0))
	if err != nil {
		t.Fatalf("zero-length range should be allowed: %v", err)
	}
	if !r.IsEmpty() {
		t.Fatal("zero-length range should be empty")
	}
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b TimeRange
		want bool
	}{
		{"disjoint", MustNew(at(0), at(10)), MustNew(at(20), at(30)), false},
		{"adjacent", MustNew(at(0), at(10)), MustNew(at(10), at(20)), false},
		{"partial", MustNew(at(0), at(15)), MustNew(at(10), at(20)), true},
		{"nested", MustNew(at(0), at(60)), MustNew(at(10), at(20)), true},
		{"identical", MustNew(at(0), at(10)), MustNew(at(0), at(10)), true},
		{"empty inside", MustNew(at(0), at(60)), MustNew(at(30), at(30)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overlaps(tt.b); got != tt.want {
				t.Fatalf("a.Overlaps(b) = %v, want %v", got, tt.want)
			}
			if got := tt.b.Overlaps(tt.a); got != tt.want {
				t.Fatalf("b.Overlaps(a) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOverlaps_Symmetric(t *testing.T) {
	f := gofakeit.New(42)
	randomRange := func() TimeRange {
		start := at(f.Number(0, 600))
		return MustNew(start, start.Add(time.Duration(f.Number(0, 120))*time.Minute))
	}

	for i := 0; i < 1000; i++ {
		a, b := randomRange(), randomRange()
		if a.Overlaps(b) != b.Overlaps(a) {
			t.Fatalf("overlap not symmetric for %s and %s", a, b)
		}
	}
}

func TestContains_HalfOpen(t *testing.T) {
	r := MustNew(at(0), at(10))

	if !r.Contains(at(0)) {
		t.Fatal("start should be contained")
	}
	if !r.Contains(at(9)) {
		t.Fatal("interior should be contained")
	}
	if r.Contains(at(10)) {
		t.Fatal("end should not be contained")
	}
	if r.Contains(at(-1)) {
		t.Fatal("instant before start should not be contained")
	}
}

func TestExpandAndEqual(t *testing.T) {
	r := MustNew(at(60), at(75)).Expand(15 * time.Minute)
	if !r.Equal(MustNew(at(45), at(90))) {
		t.Fatalf("unexpected expanded range %s", r)
	}
	if !MustNew(at(0), at(100)).Covers(r) {
		t.Fatal("outer range should cover expanded range")
	}
}
