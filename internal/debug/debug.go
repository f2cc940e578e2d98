//go:build debug

// Package debug provides assertions and goroutine-stamped logging that
// compile away entirely in release builds (build without -tags debug).
package debug

import (
	"fmt"
	"os"

	"github.com/timandy/routine"
)

// Enabled is true when the binary was built with -tags debug.
const Enabled = true

// Assert panics with a formatted message if cond is false. Production
// behaviour on an invariant violation is undefined per design; Assert is
// how debug builds make that violation loud instead of silent.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("memalloc: assertion failed: "+format, args...))
	}
}

// Log writes a goroutine-id-stamped line to stderr.
func Log(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "[g%04d] %s\n", routine.Goid(), msg)
}
