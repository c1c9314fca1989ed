package booking

import (
	"errors"
	"fmt"
	"time"
)

var ErrDoctorUnavailable = errors.New("doctor unavailable")

// UnavailableError reports which block rejected a candidate window. It
// matches ErrDoctorUnavailable under errors.Is.
type UnavailableError struct {
	Block BlockedDate
}

func (e *UnavailableError) Error() string {
	reason := "unavailable"
	if e.Block.Reason != nil && *e.Block.Reason != "" {
		reason = *e.Block.Reason
	}
	if e.Block.FullDay {
		return fmt.Sprintf("doctor unavailable on %s: %s", e.Block.Day.Format("2006-01-02"), reason)
	}
	return fmt.Sprintf("doctor unavailable %s-%s on %s: %s",
		e.Block.StartTime.Format("15:04"), e.Block.EndTime.Format("15:04"),
		e.Block.Day.Format("2006-01-02"), reason)
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrDoctorUnavailable
}

// clinicDay returns midnight of t's calendar day in loc.
func clinicDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// daysTouched lists the clinic-day midnights covered by [start, end).
func daysTouched(start, end time.Time, loc *time.Location) []time.Time {
	first := clinicDay(start, loc)
	// end is exclusive: a window ending exactly at midnight does not touch
	// the next day.
	last := clinicDay(end.Add(-time.Nanosecond), loc)

	var days []time.Time
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// overlaps is the half-open interval test: [aStart,aEnd) vs [bStart,bEnd).
// Adjacent windows (aEnd == bStart) do not overlap.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// blockWindow resolves a partial block to a concrete [start, end) interval,
// normalizing cross-midnight windows by pushing an end that is not strictly
// after its start into the next day.
func blockWindow(b BlockedDate) (time.Time, time.Time) {
	start := *b.StartTime
	end := *b.EndTime
	if !end.After(start) {
		end = end.Add(24 * time.Hour)
	}
	return start, end
}

// CheckDoctorAvailable verifies a candidate window [start, end) against a
// doctor's declared blocks. Pure; callers fetch the blocks for the days in
// range first. A full-day block covers [Day, Day+1d); a partial block rejects
// on half-open overlap.
func CheckDoctorAvailable(blocks []BlockedDate, start, end time.Time) error {
	for i := range blocks {
		b := blocks[i]
		if b.FullDay {
			if overlaps(start, end, b.Day, b.Day.AddDate(0, 0, 1)) {
				return &UnavailableError{Block: b}
			}
			continue
		}
		if b.StartTime == nil || b.EndTime == nil {
			continue
		}
		bStart, bEnd := blockWindow(b)
		if overlaps(start, end, bStart, bEnd) {
			return &UnavailableError{Block: b}
		}
	}
	return nil
}

// validateBlock enforces the per-day block invariants against existing
// blocks: one full-day block per day, and pairwise-disjoint partial blocks.
func validateBlock(existing []BlockedDate, candidate *BlockedDate) error {
	for i := range existing {
		b := existing[i]
		if !b.Day.Equal(candidate.Day) {
			continue
		}
		if candidate.FullDay && b.FullDay {
			return fmt.Errorf("%w: full-day block already exists on %s", ErrDuplicateBlock, b.Day.Format("2006-01-02"))
		}
		if candidate.FullDay || b.FullDay {
			continue
		}
		cStart, cEnd := blockWindow(*candidate)
		bStart, bEnd := blockWindow(b)
		if overlaps(cStart, cEnd, bStart, bEnd) {
			return fmt.Errorf("%w: overlaps existing block %s-%s", ErrDuplicateBlock,
				b.StartTime.Format("15:04"), b.EndTime.Format("15:04"))
		}
	}
	return nil
}
