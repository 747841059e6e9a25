package globaltime

import (
	"testing"
	"time"
)

func TestSetMockTimeFreezesClock(t *testing.T) {
	fixed := time.Date(2024, 3, 9, 10, 30, 0, 0, time.FixedZone("CET", 3600))
	SetMockTime(fixed)
	defer ResetTime()

	if got := Now(); !got.Equal(fixed) {
		t.Fatalf("unexpected now: got %v want %v", got, fixed)
	}
	if got := UTC().Location(); got != time.UTC {
		t.Fatalf("unexpected location: got %v want UTC", got)
	}
	if got, want := Stamp(), "2024-03-09T09:30:00Z"; got != want {
		t.Fatalf("unexpected stamp: got %q want %q", got, want)
	}
}
