// Package utils holds small parsing helpers shared by the HTTP layer.
package utils

import (
	"strconv"
	"strings"
)

// BoundedInt parses a query value as an int inside [lo, hi]. Blank or
// unparsable input yields def; out-of-range values are clamped.
func BoundedInt(s string, def, lo, hi int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		n = def
	}
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
