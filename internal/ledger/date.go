package ledger

import (
	"cmp"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateFormat is the wire and storage layout of a ledger date.
const DateFormat = "2006-01-02"

// Date is a calendar day with no time-of-day component.
type Date struct {
	y int
	m time.Month
	d int
}

// NewDate returns a normalized Date for the given year, month, and day.
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{y, m, d}
}

// Today returns the current local date.
func Today() Date { return DateOf(time.Now()) }

// ParseDate parses "2006-01-02". A trailing time part such as
// "2024-03-01T00:00:00.000Z" is ignored.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, 'T'); i > 0 {
		s = s[:i]
	}
	t, err := time.Parse(DateFormat, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return DateOf(t), nil
}

// MustParseDate is ParseDate for literals; it panics on malformed input.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) Year() int          { return d.y }
func (d Date) Month() time.Month  { return d.m }
func (d Date) Day() int           { return d.d }
func (d Date) IsZero() bool       { return d.y == 0 && d.m == 0 && d.d == 0 }
func (d Date) String() string     { return d.Time().Format(DateFormat) }
func (d Date) Before(x Date) bool { return d.Compare(x) < 0 }
func (d Date) After(x Date) bool  { return d.Compare(x) > 0 }

// Time returns midnight UTC of d.
func (d Date) Time() time.Time { return time.Date(d.y, d.m, d.d, 0, 0, 0, 0, time.UTC) }

// Compare returns -1, 0 or +1 depending on whether d is before, equal to or after x.
func (d Date) Compare(x Date) int {
	switch {
	case d.y != x.y:
		return cmp.Compare(d.y, x.y)
	case d.m != x.m:
		return cmp.Compare(d.m, x.m)
	default:
		return cmp.Compare(d.d, x.d)
	}
}

// MonthStart truncates d to the first day of its month.
func (d Date) MonthStart() Date { return Date{d.y, d.m, 1} }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value stores the date as YYYY-MM-DD text so both postgres ($n::date) and
// sqlite (TEXT) columns accept it.
func (d Date) Value() (driver.Value, error) { return d.String(), nil }

func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*d = DateOf(v.UTC())
		return nil
	case string:
		parsed, err := ParseDate(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case []byte:
		return d.Scan(string(v))
	case nil:
		*d = Date{}
		return nil
	}
	return fmt.Errorf("cannot scan %T into ledger.Date", src)
}

// DateRange is an inclusive [From, To] window of calendar days.
type DateRange struct {
	From Date `json:"from"`
	To   Date `json:"to"`
}

// Validate reports a ValidationError when a bound is missing or the range is inverted.
func (r DateRange) Validate() error {
	if r.From.IsZero() {
		return &ValidationError{Field: "from", Message: "start date is required"}
	}
	if r.To.IsZero() {
		return &ValidationError{Field: "to", Message: "end date is required"}
	}
	if r.From.After(r.To) {
		return &ValidationError{Field: "from", Message: fmt.Sprintf("start date %s is after end date %s", r.From, r.To)}
	}
	return nil
}

// Contains reports whether d falls inside the range, bounds included.
func (r DateRange) Contains(d Date) bool {
	return !d.Before(r.From) && !d.After(r.To)
}
