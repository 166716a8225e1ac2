package dateutil

import (
	"fmt"
	"time"
)

// Layout is the only accepted date form, matching how dates are stored.
const Layout = "2006-01-02"

const yearDays = 365

// ParseError reports a date parameter that is not a valid YYYY-MM-DD date.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid date %q: expected YYYY-MM-DD", e.Value)
	}
	return fmt.Sprintf("invalid %s date %q: expected YYYY-MM-DD", e.Field, e.Value)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse parses s strictly as YYYY-MM-DD. Forms time.Parse would otherwise
// tolerate, such as a trailing time or missing zero padding, are rejected.
func Parse(field, s string) (time.Time, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return time.Time{}, &ParseError{Field: field, Value: s, Err: err}
	}
	if t.Format(Layout) != s {
		return time.Time{}, &ParseError{Field: field, Value: s, Err: fmt.Errorf("not in canonical form")}
	}
	return t, nil
}

// Format renders t as YYYY-MM-DD.
func Format(t time.Time) string {
	return t.Format(Layout)
}

// YearBefore returns the date 365 days before date, in YYYY-MM-DD form.
func YearBefore(date string) (string, error) {
	t, err := Parse("", date)
	if err != nil {
		return "", err
	}
	return Format(t.AddDate(0, 0, -yearDays)), nil
}
