//go:build !debug

package main

// debugEnabled reports whether the binary was built with debug features.
// In non-debug builds this always returns false so callers compile against
// a stable API without paying any runtime or logging cost.
func debugEnabled() bool {
	return false
}

// verboseEnabled reports whether per-scan verbose tracing was built in.
// Verbose output is a subset of debug features, so non-debug builds always
// return false.
func verboseEnabled() bool {
	return false
}
