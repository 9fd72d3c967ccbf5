package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnresolved marks a row whose focal length could not be derived.
var ErrUnresolved = errors.New("focal length unresolved")

// ConfigurationError reports a malformed or empty rig description.
// Row and Column are -1 when the problem is not tied to a grid cell.
type ConfigurationError struct {
	Field  string
	Row    int
	Column int
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.Field != "" {
		fmt.Fprintf(&b, " [%s]", e.Field)
	}
	if e.Row >= 0 {
		fmt.Fprintf(&b, " row %d", e.Row)
	}
	if e.Column >= 0 {
		fmt.Fprintf(&b, " column %d", e.Column)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// CalibrationError reports a row whose focal length cannot be resolved.
// It is never retried inside the core; callers rerun the job with adjusted
// feature detection parameters.
type CalibrationError struct {
	Row int

	// Pairs is the number of adjacent frame pairs examined in the row
	Pairs int

	// Matches is the best correspondence count seen on any pair
	Matches int

	Reason string
	Err    error
}

func (e *CalibrationError) Error() string {
	msg := fmt.Sprintf("calibration error: row %d", e.Row)
	if e.Pairs > 0 {
		msg += fmt.Sprintf(" (%d pairs, best %d matches)", e.Pairs, e.Matches)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CalibrationError) Unwrap() error { return e.Err }

// IsConfiguration reports whether err carries a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsCalibration reports whether err carries a CalibrationError.
func IsCalibration(err error) bool {
	var ce *CalibrationError
	return errors.As(err, &ce)
}
