package core

import (
	"fmt"
	"time"
)

// YearMonth identifies one calendar month. Month is 1-12. All rollover
// arithmetic lives here so the year-boundary logic exists exactly once.
type YearMonth struct {
	Year  int
	Month int
}

// YM is shorthand for constructing a YearMonth.
func YM(year, month int) YearMonth {
	return YearMonth{Year: year, Month: month}
}

// YearMonthOf returns the YearMonth containing t (in t's location).
func YearMonthOf(t time.Time) YearMonth {
	return YearMonth{Year: t.Year(), Month: int(t.Month())}
}

// Validate checks that the month is 1-12 and the year is within a sane
// range for a personal ledger.
func (ym YearMonth) Validate() error {
	if ym.Month < 1 || ym.Month > 12 {
		return fmt.Errorf("%w: month %d", ErrInvalidMonth, ym.Month)
	}
	if ym.Year < 1900 || ym.Year > 3000 {
		return fmt.Errorf("%w: year %d", ErrInvalidDate, ym.Year)
	}
	return nil
}

// Prev returns the previous calendar month, rolling December of the
// prior year when month underflows.
func (ym YearMonth) Prev() YearMonth {
	if ym.Month == 1 {
		return YearMonth{Year: ym.Year - 1, Month: 12}
	}
	return YearMonth{Year: ym.Year, Month: ym.Month - 1}
}

// Next returns the following calendar month.
func (ym YearMonth) Next() YearMonth {
	if ym.Month == 12 {
		return YearMonth{Year: ym.Year + 1, Month: 1}
	}
	return YearMonth{Year: ym.Year, Month: ym.Month + 1}
}

// AddMonths returns the month n months after ym (n may be negative).
func (ym YearMonth) AddMonths(n int) YearMonth {
	t := time.Date(ym.Year, time.Month(ym.Month), 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	return YearMonthOf(t)
}

// DaysIn returns the number of calendar days in the month, leap years
// included.
func (ym YearMonth) DaysIn() int {
	return time.Date(ym.Year, time.Month(ym.Month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Date returns the UTC start-of-day time for the given day of this month.
func (ym YearMonth) Date(day int) time.Time {
	return time.Date(ym.Year, time.Month(ym.Month), day, 0, 0, 0, 0, time.UTC)
}

// Range returns the inclusive first and last instants of the month in UTC.
func (ym YearMonth) Range() (start, end time.Time) {
	start = ym.Date(1)
	end = ym.Date(ym.DaysIn()).Add(24*time.Hour - time.Nanosecond)
	return start, end
}

// Compare orders two months chronologically: -1, 0 or 1.
func (ym YearMonth) Compare(other YearMonth) int {
	switch {
	case ym.Year != other.Year:
		if ym.Year < other.Year {
			return -1
		}
		return 1
	case ym.Month != other.Month:
		if ym.Month < other.Month {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// Before reports whether ym is strictly earlier than other.
func (ym YearMonth) Before(other YearMonth) bool {
	return ym.Compare(other) < 0
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, ym.Month)
}
