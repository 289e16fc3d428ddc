package pipeline

import (
	"fmt"
	"net/url"
	"time"

	"github.com/Sternrassler/offer-pipeline/pkg/bronze"
)

// creationDateLayout is the timestamp format of the creation date filters.
const creationDateLayout = "2006-01-02T15:04:05Z"

// Yesterday returns the calendar day before now in loc.
func Yesterday(now time.Time, loc *time.Location) string {
	return now.In(loc).AddDate(0, 0, -1).Format(bronze.DateLayout)
}

// ParseDate validates a YYYY-MM-DD date.
func ParseDate(s string) (string, error) {
	t, err := time.Parse(bronze.DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t.Format(bronze.DateLayout), nil
}

// CreationDateParams restricts a search to offers created during date in loc.
func CreationDateParams(date string, loc *time.Location) (url.Values, error) {
	day, err := time.ParseInLocation(bronze.DateLayout, date, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	next := day.AddDate(0, 0, 1)
	return url.Values{
		"minCreationDate": {day.UTC().Format(creationDateLayout)},
		"maxCreationDate": {next.UTC().Format(creationDateLayout)},
	}, nil
}
