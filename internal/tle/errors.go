package tle

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that the upstream source has no data for the
// requested catalog number or group.
var ErrNotFound = errors.New("tle: no data for requested object")

// FormatError reports a structurally invalid element set record. Line
// is 1 or 2 for errors tied to a specific line, 0 for record-level
// problems.
type FormatError struct {
	Line   int
	Field  string
	Reason string
}

func (e *FormatError) Error() string {
	switch {
	case e.Line > 0 && e.Field != "":
		return fmt.Sprintf("tle: line %d field %s: %s", e.Line, e.Field, e.Reason)
	case e.Line > 0:
		return fmt.Sprintf("tle: line %d: %s", e.Line, e.Reason)
	default:
		return fmt.Sprintf("tle: %s", e.Reason)
	}
}

// RecordError pairs a failed record with its position in a multi-record
// input so batch callers can report exactly which entries were dropped.
type RecordError struct {
	Index int
	Name  string
	Err   error
}

func (e RecordError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("record %d (%s): %v", e.Index, e.Name, e.Err)
	}
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e RecordError) Unwrap() error { return e.Err }
