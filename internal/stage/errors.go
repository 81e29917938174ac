package stage

import (
	"errors"
	"fmt"
)

// MissingParamsError signals that a strategy cannot run until a required
// parameter is configured. Hint carries strategy specific remediation text.
type MissingParamsError struct {
	Strategy string
	Param    string
	Hint     string
}

func (e *MissingParamsError) Error() string {
	msg := fmt.Sprintf("%s is required for %s", e.Param, e.Strategy)
	if e.Hint != "" {
		msg += ": " + e.Hint
	}
	return msg
}

// AsMissingParams unwraps err into a MissingParamsError.
func AsMissingParams(err error) (*MissingParamsError, bool) {
	var mp *MissingParamsError
	if errors.As(err, &mp) {
		return mp, true
	}
	return nil, false
}
