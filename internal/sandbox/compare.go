package sandbox

import "strings"

// Comparator decides whether captured stdout matches the expected output.
type Comparator func(expected, actual string) bool

// ExactMatch compares output byte-for-byte, tolerating only a trailing
// newline difference.
func ExactMatch(expected, actual string) bool {
	return strings.TrimRight(expected, "\r\n") == strings.TrimRight(actual, "\r\n")
}

// TokenMatch is whitespace-insensitive: outputs match when their
// whitespace-separated tokens are identical in order.
func TokenMatch(expected, actual string) bool {
	et := strings.Fields(expected)
	at := strings.Fields(actual)
	if len(et) != len(at) {
		return false
	}
	for i := range et {
		if et[i] != at[i] {
			return false
		}
	}
	return true
}
