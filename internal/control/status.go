// Package control drives remote playback: it keeps a locally predicted play
// head in sync with receiver status polls and runs the interactive and
// onetime control loops.
package control

import (
	"context"
	"sync"
	"time"

	"go2tv.app/simplecast/internal/domain"
)

// Transport is the slice of the receiver capability the control loops issue
// commands through.
type Transport interface {
	PollStatus(ctx context.Context) (domain.RemoteStatus, error)
	Play() error
	Pause() error
	Seek(seconds float64) error
	SetVolume(level float64) error
}

// StatusSync maintains the playback clock: an anchor (position, wallclock)
// refreshed from authoritative receiver snapshots, from which the current
// position is extrapolated between polls. The estimate is advisory: it drives
// the progress display and seek deltas, never decisions that need ground
// truth.
type StatusSync struct {
	transport Transport
	now       func() time.Time

	mu        sync.Mutex
	last      domain.RemoteStatus
	anchorPos float64
	anchorAt  time.Time
	paused    bool
}

func NewStatusSync(transport Transport) *StatusSync {
	return &StatusSync{
		transport: transport,
		now:       time.Now,
	}
}

// Refresh polls the receiver and resets the clock anchor to the authoritative
// position.
func (s *StatusSync) Refresh(ctx context.Context) (domain.RemoteStatus, error) {
	status, err := s.transport.PollStatus(ctx)
	if err != nil {
		return domain.RemoteStatus{}, err
	}

	s.mu.Lock()
	s.last = status
	s.anchorPos = status.CurrentTime
	s.anchorAt = s.now()
	s.mu.Unlock()
	return status, nil
}

// Estimate returns the predicted current position without polling. It is
// cheap enough to call every render frame. A paused clock does not advance.
func (s *StatusSync) Estimate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estimateLocked()
}

func (s *StatusSync) estimateLocked() float64 {
	if s.paused || s.anchorAt.IsZero() {
		return s.anchorPos
	}
	return s.anchorPos + s.now().Sub(s.anchorAt).Seconds()
}

// SetAnchor pins the clock to a locally chosen position, used right after a
// seek so the display tracks the target instead of the stale estimate.
func (s *StatusSync) SetAnchor(pos float64) {
	s.mu.Lock()
	s.anchorPos = pos
	s.anchorAt = s.now()
	s.mu.Unlock()
}

// SetPaused freezes or resumes the clock. Entering pause captures the current
// estimate as the anchor; leaving pause restarts extrapolation from it.
func (s *StatusSync) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused == paused {
		return
	}
	s.anchorPos = s.estimateLocked()
	s.anchorAt = s.now()
	s.paused = paused
}

// Last returns the most recent authoritative snapshot.
func (s *StatusSync) Last() domain.RemoteStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
