package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go2tv.app/simplecast/internal/domain"
)

const defaultOnetimePollEvery = time.Second

// OnetimeLoop waits for playback to start, then re-polls until the media ends
// naturally or the receiver disconnects. No keyboard interaction.
type OnetimeLoop struct {
	status   *StatusSync
	logger   *slog.Logger
	teardown func()

	pollEvery time.Duration
}

func NewOnetimeLoop(status *StatusSync, logger *slog.Logger, teardown func()) *OnetimeLoop {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if teardown == nil {
		teardown = func() {}
	}

	return &OnetimeLoop{
		status:    status,
		logger:    logger,
		teardown:  teardown,
		pollEvery: defaultOnetimePollEvery,
	}
}

func (l *OnetimeLoop) Run(ctx context.Context) error {
	defer l.teardown()

	started := false
	failures := 0
	ticker := time.NewTicker(l.pollEvery)
	defer ticker.Stop()

	for {
		status, err := l.status.Refresh(ctx)
		switch {
		case errors.Is(err, domain.ErrDisconnected):
			return err
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			failures++
			if failures >= maxPollFailures {
				return fmt.Errorf("lost contact with receiver: %w", err)
			}
		default:
			failures = 0
			if !started && !status.IsIdle {
				started = true
				l.logger.Info("playback_started", slog.Float64("duration", status.Duration))
			}
			if started && status.IsIdle {
				l.logger.Info("playback_finished")
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
