package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go2tv.app/simplecast/internal/domain"
)

const (
	seekStepSeconds = 30.0
	volumeStep      = 0.01

	defaultRenderEvery  = 200 * time.Millisecond
	defaultRefreshEvery = time.Second
	defaultStartWait    = 30 * time.Second

	// Consecutive refresh failures tolerated before giving up on the session.
	maxPollFailures = 5
)

const (
	keyVolumeUp      = 'u'
	keyVolumeUpAlt   = '+'
	keyVolumeDown    = 'd'
	keyVolumeDownAlt = '-'
	keySeekBack      = 'b'
	keySeekForward   = 'f'
	keyPause         = 'p'
	keyPauseAlt      = ' '
	keyMute          = 'm'
	keyQuit          = 'q'
)

// InteractiveLoop reads raw keypresses and dispatches transport commands
// while keeping a live progress display in sync with the predicted play head.
type InteractiveLoop struct {
	status    *StatusSync
	transport Transport
	keys      <-chan byte
	out       io.Writer
	logger    *slog.Logger
	teardown  func()

	renderEvery  time.Duration
	refreshEvery time.Duration
	startWait    time.Duration
	barWidth     int

	volume   float64
	duration float64
}

func NewInteractiveLoop(status *StatusSync, transport Transport, keys <-chan byte, out io.Writer, logger *slog.Logger, teardown func()) *InteractiveLoop {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if teardown == nil {
		teardown = func() {}
	}

	return &InteractiveLoop{
		status:       status,
		transport:    transport,
		keys:         keys,
		out:          out,
		logger:       logger,
		teardown:     teardown,
		renderEvery:  defaultRenderEvery,
		refreshEvery: defaultRefreshEvery,
		startWait:    defaultStartWait,
		barWidth:     defaultBarWidth,
	}
}

// Run drives the loop until the media ends naturally, the user confirms quit,
// or the receiver disconnects. All exits funnel through the shared teardown,
// which is idempotent and may also have been fired by the disconnect
// callback already.
func (l *InteractiveLoop) Run(ctx context.Context) error {
	defer l.teardown()

	if err := l.waitForPlayback(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	ticker := time.NewTicker(l.renderEvery)
	defer ticker.Stop()

	var lastRefresh time.Time
	failures := 0

	for {
		select {
		case <-ctx.Done():
			l.endLine()
			return nil

		case key, ok := <-l.keys:
			if !ok {
				l.endLine()
				return nil
			}
			if l.handleKey(ctx, key) {
				l.endLine()
				return nil
			}

		case <-ticker.C:
			if time.Since(lastRefresh) >= l.refreshEvery {
				status, err := l.status.Refresh(ctx)
				switch {
				case errors.Is(err, domain.ErrDisconnected):
					l.endLine()
					return err
				case errors.Is(err, context.Canceled):
					l.endLine()
					return nil
				case err != nil:
					failures++
					if failures >= maxPollFailures {
						l.endLine()
						return fmt.Errorf("lost contact with receiver: %w", err)
					}
				default:
					failures = 0
					lastRefresh = time.Now()
					l.observe(status)
					if status.IsIdle {
						// Natural end of media.
						l.endLine()
						return nil
					}
				}
			}
			l.render()
		}
	}
}

// handleKey dispatches one keypress. It reports true when the loop should
// terminate.
func (l *InteractiveLoop) handleKey(ctx context.Context, key byte) (done bool) {
	switch key {
	case keyVolumeUp, keyVolumeUpAlt:
		l.setVolume(l.volume + volumeStep)
	case keyVolumeDown, keyVolumeDownAlt:
		l.setVolume(l.volume - volumeStep)
	case keyMute:
		l.setVolume(0)
	case keySeekBack:
		l.seekBy(-seekStepSeconds)
	case keySeekForward:
		l.seekBy(seekStepSeconds)
	case keyPause, keyPauseAlt:
		return l.pauseUntilToggle(ctx)
	case keyQuit:
		return l.confirmQuit(ctx)
	}
	return false
}

// pauseUntilToggle pauses playback and blocks until the toggle key is seen
// again. This is a deliberate blocking sub-loop: no other input is serviced
// while paused.
func (l *InteractiveLoop) pauseUntilToggle(ctx context.Context) (done bool) {
	if err := l.transport.Pause(); err != nil {
		l.logger.Warn("pause_failed", slog.String("error", err.Error()))
	}
	l.status.SetPaused(true)

	for {
		select {
		case <-ctx.Done():
			return true
		case key, ok := <-l.keys:
			if !ok {
				return true
			}
			if key == keyPause || key == keyPauseAlt {
				if err := l.transport.Play(); err != nil {
					l.logger.Warn("play_failed", slog.String("error", err.Error()))
				}
				l.status.SetPaused(false)
				return false
			}
		}
	}
}

// confirmQuit pauses playback and asks for confirmation. Anything other than
// a negative answer terminates; 'n' resumes playback.
func (l *InteractiveLoop) confirmQuit(ctx context.Context) (done bool) {
	if err := l.transport.Pause(); err != nil {
		l.logger.Debug("pause_failed", slog.String("error", err.Error()))
	}
	l.status.SetPaused(true)
	fmt.Fprint(l.out, "\r\nquit? [Y/n] ")

	select {
	case <-ctx.Done():
		return true
	case key, ok := <-l.keys:
		if !ok {
			return true
		}
		if key == 'n' || key == 'N' {
			if err := l.transport.Play(); err != nil {
				l.logger.Warn("play_failed", slog.String("error", err.Error()))
			}
			l.status.SetPaused(false)
			return false
		}
		return true
	}
}

func (l *InteractiveLoop) setVolume(level float64) {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	if err := l.transport.SetVolume(level); err != nil {
		l.logger.Warn("set_volume_failed", slog.String("error", err.Error()))
		return
	}
	l.volume = level
}

func (l *InteractiveLoop) seekBy(delta float64) {
	target := l.status.Estimate() + delta
	if target < 0 {
		target = 0
	}
	if l.duration > 0 && target > l.duration {
		target = l.duration
	}
	if err := l.transport.Seek(target); err != nil {
		l.logger.Warn("seek_failed", slog.String("error", err.Error()))
		return
	}
	l.status.SetAnchor(target)
}

// waitForPlayback holds in the Connecting state until the receiver reports a
// non-idle session. The session already blocked until active, so this
// normally resolves on the first poll.
func (l *InteractiveLoop) waitForPlayback(ctx context.Context) error {
	deadline := time.Now().Add(l.startWait)
	ticker := time.NewTicker(l.renderEvery)
	defer ticker.Stop()

	for {
		status, err := l.status.Refresh(ctx)
		if err == nil && !status.IsIdle {
			l.observe(status)
			return nil
		}
		if errors.Is(err, domain.ErrDisconnected) {
			return err
		}
		if time.Now().After(deadline) {
			return errors.New("receiver never started playback")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *InteractiveLoop) observe(status domain.RemoteStatus) {
	l.volume = status.Volume
	if status.Duration > 0 {
		l.duration = status.Duration
	}
}

func (l *InteractiveLoop) render() {
	pos := l.status.Estimate()
	if l.duration > 0 && pos > l.duration {
		pos = l.duration
	}
	fmt.Fprintf(l.out, "\r%s ", progressLine(pos, l.duration, l.barWidth))
}

func (l *InteractiveLoop) endLine() {
	fmt.Fprint(l.out, "\r\n")
}
