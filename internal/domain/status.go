package domain

import "errors"

// RemoteStatus is an authoritative snapshot of the receiver's playback state,
// obtained by explicit polling. Snapshots are never mutated locally; the local
// play-head estimate is derived from them plus elapsed wall-clock time.
type RemoteStatus struct {
	IsIdle      bool
	CurrentTime float64
	Duration    float64
	Volume      float64
	Muted       bool
	Connected   bool
}

// ErrDisconnected reports that the receiver is gone for good, as opposed to a
// transient poll failure that the caller should retry.
var ErrDisconnected = errors.New("receiver disconnected")
