package core

import (
	"errors"
	"strings"
	"time"
)

var dateLayouts = []string{DateLayout, "02/01/2006"}

func ValidateEvent(event Event) error {
	event.Title = strings.TrimSpace(event.Title)
	if len(event.Title) == 0 {
		return errors.New("title is required")
	}

	if len(event.Title) > 100 {
		return errors.New("title is too long (100 characters tops)")
	}

	_, err := time.Parse(DateLayout, event.Date)
	if err != nil {
		return errors.New("date must be formatted as YYYY-MM-DD")
	}

	if event.Time != "" {
		_, err = time.Parse(TimeLayout, event.Time)
		if err != nil {
			return errors.New("time must be formatted as HH:MM")
		}
	}

	if event.MaxAttendees < 0 {
		return errors.New("max attendees cannot be negative")
	}

	if event.CurrentAttendees < 0 || event.CurrentAttendees > event.MaxAttendees {
		return errors.New("current attendees must be between 0 and max attendees")
	}

	if event.Price != nil && *event.Price < 0 {
		return errors.New("price cannot be negative")
	}

	return nil
}

// ParseDate accepts ISO dates and the day-first form used by spreadsheet exports, and returns the
// ISO form.
func ParseDate(value string) (string, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t.Format(DateLayout), nil
		}
	}

	return "", errors.New("invalid date " + `"` + value + `"`)
}
