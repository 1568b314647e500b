//go:build debug

package main

// Debug builds turn on both debug and verbose behaviours. Config can still
// raise the log level at runtime, but per-scan tracing only exists when the
// binary was built with the debug tag.

func debugEnabled() bool {
	return true
}

func verboseEnabled() bool {
	return true
}
