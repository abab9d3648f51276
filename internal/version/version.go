// Package version compares dotted version strings the way catalog entries and
// installed app manifests write them.
package version

import (
	"strconv"
	"strings"
)

// Compare compares two dotted version strings component by component.
// It returns -1 when a < b, 0 when they are equal and 1 when a > b.
//
// Components that are missing or not a non-negative integer count as 0, so
// "1.2" equals "1.2.0" and "1.x" equals "1.0". Compare never fails.
func Compare(a, b string) int {
	ca := components(a)
	cb := components(b)

	n := max(len(ca), len(cb))

	for i := 0; i < n; i++ {
		x := at(ca, i)
		y := at(cb, i)

		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}

	return 0
}

// Less reports whether a is an older version than b.
func Less(a, b string) bool {
	return Compare(a, b) < 0
}

func components(v string) []uint64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ".")
	out := make([]uint64, len(parts))

	for i, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			n = 0
		}

		out[i] = n
	}

	return out
}

func at(c []uint64, i int) uint64 {
	if i < len(c) {
		return c[i]
	}

	return 0
}
