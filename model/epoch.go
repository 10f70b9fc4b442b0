package model

import "time"

// EpochDuration is the length of one voting epoch.
const EpochDuration = 7 * 24 * time.Hour

// EpochStart returns 00:00:00 UTC on the Monday strictly after ref.
// A Monday reference therefore maps to the following Monday.
func EpochStart(ref time.Time) time.Time {
	ref = ref.UTC()
	iso := int(ref.Weekday())
	if iso == 0 {
		iso = 7 // Sunday
	}
	next := ref.AddDate(0, 0, 8-iso)
	return time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, time.UTC)
}

// EpochWindow returns the [start, stop) epoch bounds derived from ref.
func EpochWindow(ref time.Time) (time.Time, time.Time) {
	start := EpochStart(ref)
	return start, start.Add(EpochDuration)
}
