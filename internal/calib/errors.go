package calib

import (
	"fmt"
	"strings"
)

// AmbiguousSideMatchError is returned when a side-dependent attribute does
// not resolve to exactly one left and one right column.
type AmbiguousSideMatchError struct {
	Base  string
	Left  []string
	Right []string
}

func (e *AmbiguousSideMatchError) Error() string {
	return fmt.Sprintf("ambiguous side match for %q: left candidates [%s], right candidates [%s]",
		e.Base, strings.Join(e.Left, ", "), strings.Join(e.Right, ", "))
}
