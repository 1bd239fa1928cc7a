//go:build !release

package assert

import "github.com/rotisserie/eris"

// That panics with an eris error carrying the formatted message when cond is false. Release
// builds compile it to a no-op.
func That(cond bool, format string, args ...any) { //nolint:goprintffuncname // mirrors fmt
	if cond {
		return
	}
	panic(eris.Errorf("assertion failed: "+format, args...))
}
