package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEventNotFound        = errors.New("event not found")
	ErrEventFull            = errors.New("event is fully booked")
	ErrConfirmationNotFound = errors.New("confirmation not found")
	ErrCatalogLoad          = errors.New("failed to load events")
	ErrUnsupportedMediaType = errors.New("file must be a CSV (text/csv)")
	ErrTooFewRows           = errors.New("csv must have a header and at least one data row")
	ErrMalformedCSV         = errors.New("csv could not be parsed")
	ErrImportInProgress     = errors.New("an import is already in progress")
	ErrImportFailed         = errors.New("failed to import events")
)

// MissingColumnsError reports the required CSV header names absent from an upload.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return "missing required columns: " + strings.Join(e.Columns, ", ")
}

type Error struct {
	Message string   `json:"message,omitempty"`
	Err     []string `json:"err,omitempty"`
}

func NewError(message string, errs ...error) *Error {
	return &Error{
		Message: message,
		Err: func() []string {
			var msgs []string

			for _, err := range errs {
				if err == nil {
					continue
				}

				var missing *MissingColumnsError
				if errors.As(err, &missing) {
					msgs = append(msgs, missing.Columns...)
					continue
				}

				msgs = append(msgs, err.Error())
			}

			return msgs
		}(),
	}
}

func (e *Error) Error() string {
	//nolint:errchkjson
	data, _ := json.Marshal(e)
	return string(data)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	if len(e.Err) == 0 {
		return nil
	}

	errs := make([]error, len(e.Err))
	for i, err := range e.Err {
		errs[i] = fmt.Errorf("%s", err)
	}

	return errors.Join(errs...)
}

func (e *Error) Messages() []string {
	return e.Err
}
