package router

import (
	"errors"
	"fmt"
)

var ErrNegativeDelay = errors.New("value must not be negative")

// InvalidParameterError reports a delay query parameter that is not a
// non-negative 32-bit integer.
type InvalidParameterError struct {
	Name  string
	Value string
	Err   error
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid value %q for query parameter %q: %v", e.Value, e.Name, e.Err)
}

func (e *InvalidParameterError) Unwrap() error {
	return e.Err
}
