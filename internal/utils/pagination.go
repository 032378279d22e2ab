// Package utils holds small helpers shared by the transport layer.
package utils

import "strconv"

// AtoiDefault parses s, returning def when s is empty or not an integer.
// Surrounding spaces are not trimmed.
func AtoiDefault(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// PageCount is the number of pages of size needed for total items.
func PageCount(total, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

// Window returns the [lo, hi) slice bounds of a 1-based page over total
// items. Pages past the end yield an empty window at total.
func Window(page, size, total int) (lo, hi int) {
	if page < 1 || size < 1 || total <= 0 {
		return 0, 0
	}
	lo = min((page-1)*size, total)
	hi = min(lo+size, total)
	return lo, hi
}
