package control

import (
	"context"
	"io"
	"sync"

	"golang.org/x/term"
)

// RawTerminal scopes a terminal's raw input mode. Restore is single-shot and
// safe to wire into multiple exit paths (the loop's defer and the session's
// async teardown both call it).
type RawTerminal struct {
	fd   int
	prev *term.State
	once sync.Once
}

// MakeRaw switches the terminal into raw mode so single keypresses are
// delivered without echo or line buffering.
func MakeRaw(fd int) (*RawTerminal, error) {
	prev, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return &RawTerminal{fd: fd, prev: prev}, nil
}

// Restore puts the terminal back into its prior mode.
func (t *RawTerminal) Restore() {
	t.once.Do(func() {
		_ = term.Restore(t.fd, t.prev)
	})
}

// IsTerminal reports whether fd is attached to a terminal.
func IsTerminal(fd int) bool {
	return term.IsTerminal(fd)
}

// ReadKeys pumps single bytes from in into a channel so the control loop can
// poll for input without a blocking read. The channel closes when in reaches
// EOF or the context is cancelled. The goroutine itself can stay parked in
// in.Read past loop termination: stdin has no portable read cancellation, and
// one blocked reader at process exit is the accepted cost.
func ReadKeys(ctx context.Context, in io.Reader) <-chan byte {
	keys := make(chan byte)
	go func() {
		defer close(keys)
		buf := make([]byte, 1)
		for {
			n, err := in.Read(buf)
			if n > 0 {
				select {
				case keys <- buf[0]:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return keys
}
