package bullhorn

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// DateRange is inclusive on both ends; End sits on the last millisecond of its day.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func (r DateRange) StartMillis() int64 {
	return r.Start.UnixMilli()
}

func (r DateRange) EndMillis() int64 {
	return r.End.UnixMilli()
}

// ParseDateRange accepts either start/end (YYYY-MM-DD, both required) or
// year with an optional month ("2026", "2026,1", or year=2026&month=1).
// With no parameters the range covers the calendar month containing now.
func ParseDateRange(start, end, year, month string, loc *time.Location, now time.Time) (DateRange, error) {
	if loc == nil {
		loc = time.UTC
	}
	start = strings.TrimSpace(start)
	end = strings.TrimSpace(end)
	year = strings.TrimSpace(year)
	month = strings.TrimSpace(month)

	switch {
	case start != "" || end != "":
		return explicitRange(start, end, loc)
	case year != "":
		return yearRange(year, month, loc)
	case month != "":
		return DateRange{}, fmt.Errorf("%w: month requires year", ErrInvalidRange)
	default:
		now = now.In(loc)
		return monthRange(now.Year(), now.Month(), loc), nil
	}
}

func explicitRange(start, end string, loc *time.Location) (DateRange, error) {
	if start == "" || end == "" {
		return DateRange{}, fmt.Errorf("%w: start and end must be given together", ErrInvalidRange)
	}

	from, err := time.ParseInLocation(dateLayout, start, loc)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: start %q is not YYYY-MM-DD", ErrInvalidRange, start)
	}
	to, err := time.ParseInLocation(dateLayout, end, loc)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: end %q is not YYYY-MM-DD", ErrInvalidRange, end)
	}
	if from.After(to) {
		return DateRange{}, fmt.Errorf("%w: start %s is after end %s", ErrInvalidRange, start, end)
	}

	return DateRange{Start: from, End: endOfDay(to)}, nil
}

func yearRange(year, month string, loc *time.Location) (DateRange, error) {
	if y, m, ok := strings.Cut(year, ","); ok {
		if month != "" {
			return DateRange{}, fmt.Errorf("%w: month given twice", ErrInvalidRange)
		}
		year, month = strings.TrimSpace(y), strings.TrimSpace(m)
	}

	y, err := strconv.Atoi(year)
	if err != nil || y < 1900 || y > 9999 {
		return DateRange{}, fmt.Errorf("%w: year %q", ErrInvalidRange, year)
	}

	if month == "" {
		from := time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
		to := time.Date(y, time.December, 31, 0, 0, 0, 0, loc)
		return DateRange{Start: from, End: endOfDay(to)}, nil
	}

	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return DateRange{}, fmt.Errorf("%w: month %q", ErrInvalidRange, month)
	}

	return monthRange(y, time.Month(m), loc), nil
}

func monthRange(year int, month time.Month, loc *time.Location) DateRange {
	from := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	last := from.AddDate(0, 1, -1)
	return DateRange{Start: from, End: endOfDay(last)}
}

func endOfDay(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, int(999*time.Millisecond), day.Location())
}
