// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package chain

import (
	"fmt"
	"time"
)

const secondsPerDay = 24 * 60 * 60

// DayIndex is the number of whole UTC days since the Unix epoch.
func DayIndex(t time.Time) int64 {
	s := t.UTC().Unix()
	d := s / secondsPerDay
	if s < 0 && s%secondsPerDay != 0 {
		d--
	}
	return d
}

// DayStart returns midnight UTC of day index d.
func DayStart(d int64) time.Time {
	return time.Unix(d*secondsPerDay, 0).UTC()
}

// MonthKey names the calendar month containing t, e.g. 2026-03.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// WeekKey names the ISO week containing t, e.g. 2026-W10.
func WeekKey(t time.Time) string {
	y, w := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, w)
}
