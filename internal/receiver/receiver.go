// Package receiver wraps a cast client in the capability surface the playback
// session and control loops consume: load media, block until playback is
// active, poll status, and issue transport commands. Transient network
// failures are retried with bounded backoff; a sustained run of failed polls
// is treated as a disconnect and reported through a one-shot callback.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go2tv.app/simplecast/internal/adapters"
	"go2tv.app/simplecast/internal/domain"
)

const (
	defaultActivePollEvery = 500 * time.Millisecond

	// Poll failures are expected in bursts while the receiver buffers or the
	// WiFi hiccups; only a sustained run means the device is gone.
	defaultDisconnectAfterFailures = 5
)

// ErrActiveTimeout reports that the receiver never reported an active playback
// session within the allowed wait.
var ErrActiveTimeout = errors.New("timed out waiting for receiver to become active")

type Receiver struct {
	client adapters.CastClient
	logger *slog.Logger

	retryAttempts    int
	retryBaseBackoff time.Duration
	retryMaxBackoff  time.Duration

	activePollEvery         time.Duration
	disconnectAfterFailures int

	mu           sync.Mutex
	pollFailures int
	disconnected bool
	onDisconnect func()

	disconnectOnce sync.Once
}

func New(client adapters.CastClient, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Receiver{
		client:                  client,
		logger:                  logger,
		retryAttempts:           defaultRetryAttempts,
		retryBaseBackoff:        defaultRetryBaseBackoff,
		retryMaxBackoff:         defaultRetryMaxBackoff,
		activePollEvery:         defaultActivePollEvery,
		disconnectAfterFailures: defaultDisconnectAfterFailures,
	}
}

// OnDisconnect registers a callback invoked at most once when the receiver is
// deemed gone. The callback may fire concurrently with the control loop's own
// shutdown path, so it must be idempotent on the caller's side too.
func (r *Receiver) OnDisconnect(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDisconnect = fn
}

// Connect establishes the control channel to the receiver.
func (r *Receiver) Connect(ctx context.Context) error {
	return r.withRetry(ctx, "connect", r.client.Connect)
}

// PlayMedia instructs the receiver to fetch and play the given URL.
// subtitlesURL may be empty. The cast load carries no title or subtitle MIME
// fields, so the title ends at the log line here and the subtitle MIME is
// honored by the media server when the receiver fetches the sidecar.
func (r *Receiver) PlayMedia(ctx context.Context, mediaURL, contentType, subtitlesURL, title string) error {
	r.logger.Info(
		"cast_load",
		slog.String("media_url", mediaURL),
		slog.String("content_type", contentType),
		slog.String("subtitles_url", subtitlesURL),
		slog.String("title", title),
	)
	return r.withRetry(ctx, "load", func() error {
		return r.client.Load(mediaURL, contentType, 0, 0, subtitlesURL, false)
	})
}

// BlockUntilActive polls the receiver until it reports a non-idle playback
// session. It gives up with ErrActiveTimeout after the given wait instead of
// blocking indefinitely.
func (r *Receiver) BlockUntilActive(ctx context.Context, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(r.activePollEvery)
	defer ticker.Stop()

	for {
		status, err := r.PollStatus(ctx)
		if err == nil && !status.IsIdle {
			return nil
		}
		if errors.Is(err, domain.ErrDisconnected) {
			return err
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w (waited %s)", ErrActiveTimeout, wait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollStatus fetches an authoritative snapshot of the receiver's playback
// state. A sustained run of consecutive failures flips the receiver into the
// disconnected state and fires the registered callback.
func (r *Receiver) PollStatus(ctx context.Context) (domain.RemoteStatus, error) {
	if r.isDisconnected() {
		return domain.RemoteStatus{}, domain.ErrDisconnected
	}

	var snapshot domain.RemoteStatus
	err := r.withRetry(ctx, "status", func() error {
		status, callErr := r.client.GetStatus()
		if callErr != nil {
			return callErr
		}
		if status == nil {
			return errors.New("receiver returned no status")
		}
		snapshot = domain.RemoteStatus{
			IsIdle:      isIdleState(status.PlayerState),
			CurrentTime: float64(status.CurrentTime),
			Duration:    float64(status.Duration),
			Volume:      float64(status.Volume),
			Muted:       status.Muted,
			Connected:   true,
		}
		return nil
	})
	if err != nil {
		return domain.RemoteStatus{}, r.recordPollFailure(err)
	}

	r.mu.Lock()
	r.pollFailures = 0
	r.mu.Unlock()

	return snapshot, nil
}

// Transport commands retry like polls do. They are issued from keypress
// handlers with no request context, so the retry budget runs on a background
// context; the bounded backoff keeps the loop responsive regardless.
func (r *Receiver) Play() error {
	return r.withRetry(context.Background(), "play", r.client.Play)
}

func (r *Receiver) Pause() error {
	return r.withRetry(context.Background(), "pause", r.client.Pause)
}

func (r *Receiver) Seek(seconds float64) error {
	return r.withRetry(context.Background(), "seek", func() error {
		return r.client.Seek(float32(seconds))
	})
}

func (r *Receiver) SetVolume(level float64) error {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	return r.withRetry(context.Background(), "set_volume", func() error {
		return r.client.SetVolume(float32(level))
	})
}

// Stop halts playback on the receiver.
func (r *Receiver) Stop() error {
	return r.client.Stop()
}

// Quit tears down the receiver session entirely.
func (r *Receiver) Quit() error {
	return r.client.Close(true)
}

func (r *Receiver) recordPollFailure(err error) error {
	r.mu.Lock()
	r.pollFailures++
	failures := r.pollFailures
	threshold := r.disconnectAfterFailures
	r.mu.Unlock()

	if threshold > 0 && failures >= threshold {
		r.fireDisconnect()
		return domain.ErrDisconnected
	}
	return fmt.Errorf("status poll failed: %w", err)
}

func (r *Receiver) fireDisconnect() {
	r.disconnectOnce.Do(func() {
		r.mu.Lock()
		r.disconnected = true
		fn := r.onDisconnect
		r.mu.Unlock()

		r.logger.Warn("receiver_disconnected")
		if fn != nil {
			fn()
		}
	})
}

func (r *Receiver) isDisconnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnected
}

func isIdleState(state string) bool {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "", "IDLE":
		return true
	default:
		return false
	}
}
