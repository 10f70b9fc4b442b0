package model

import (
	"testing"
	"time"
)

func TestEpochStart(t *testing.T) {
	tests := []struct {
		name string
		ref  time.Time
		want time.Time
	}{
		{
			name: "midweek maps to next monday",
			ref:  time.Date(2026, 8, 19, 15, 30, 0, 0, time.UTC), // Wednesday
			want: time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "sunday maps to tomorrow",
			ref:  time.Date(2026, 8, 23, 23, 59, 59, 0, time.UTC),
			want: time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "monday maps to the following monday",
			ref:  time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC),
			want: time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "late monday still maps a week out",
			ref:  time.Date(2026, 8, 24, 23, 0, 0, 0, time.UTC),
			want: time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "saturday",
			ref:  time.Date(2026, 8, 22, 12, 0, 0, 0, time.UTC),
			want: time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EpochStart(tt.ref)
			if !got.Equal(tt.want) {
				t.Errorf("EpochStart(%v) = %v, want %v", tt.ref, got, tt.want)
			}
		})
	}
}

func TestEpochWindow(t *testing.T) {
	ref := time.Date(2026, 8, 19, 10, 0, 0, 0, time.UTC)
	start, stop := EpochWindow(ref)
	if !start.Equal(time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", start)
	}
	if stop.Sub(start) != EpochDuration {
		t.Errorf("window length = %v, want %v", stop.Sub(start), EpochDuration)
	}
}

func TestUpdateActivePeriod(t *testing.T) {
	unlock := time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC) // Sunday
	b := &Bribe{UnlockTime: &unlock}
	b.UpdateActivePeriod(time.Time{})
	if b.StartAt == nil || b.StopAt == nil {
		t.Fatal("window not set")
	}
	wantStart := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	if !b.StartAt.Equal(wantStart) {
		t.Errorf("StartAt = %v, want %v", b.StartAt, wantStart)
	}
	if !b.StopAt.Equal(wantStart.AddDate(0, 0, 7)) {
		t.Errorf("StopAt = %v", b.StopAt)
	}

	// No unlock time and a zero reference leaves the window unset.
	empty := &Bribe{}
	empty.UpdateActivePeriod(time.Time{})
	if empty.StartAt != nil || empty.StopAt != nil {
		t.Error("window set without a reference")
	}
}
