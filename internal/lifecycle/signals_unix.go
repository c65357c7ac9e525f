//go:build !windows

// Package lifecycle lists the signals that should end a cast session.
package lifecycle

import (
	"os"
	"syscall"
)

// TerminationSignals includes SIGHUP: a cast session should die with the
// terminal that started it, so raw input mode is restored and the receiver
// is released.
func TerminationSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}
}
