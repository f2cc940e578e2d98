//go:build !debug

package debug

// Enabled is false outside of -tags debug builds.
const Enabled = false

// Assert is a no-op in release builds.
func Assert(bool, string, ...any) {}

// Log is a no-op in release builds.
func Log(string, ...any) {}
