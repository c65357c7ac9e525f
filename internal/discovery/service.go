package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go2tv.app/go2tv/v2/devices"
	"go2tv.app/simplecast/internal/adapters"
	"go2tv.app/simplecast/internal/domain"
)

const (
	defaultDelaySeconds = 2
	defaultMaxAttempts  = 4
	defaultBaseBackoff  = 500 * time.Millisecond
)

// ErrNoSuchDevice reports that discovery completed but no device matched the
// requested friendly name.
var ErrNoSuchDevice = errors.New("no cast device with that name")

type Service struct {
	adapter adapters.Discovery
	loopCtx context.Context
	logger  *slog.Logger
	once    sync.Once

	maxAttempts int
	baseBackoff time.Duration
}

func NewService(adapter adapters.Discovery, loopCtx context.Context, logger *slog.Logger) *Service {
	if loopCtx == nil {
		loopCtx = context.Background()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Service{
		adapter:     adapter,
		loopCtx:     loopCtx,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
	}
}

// Resolve finds the cast device with the given friendly name. Discovery on a
// quiet network is flaky, so empty scans are retried a bounded number of times
// with backoff rather than recursing until something shows up.
func (s *Service) Resolve(ctx context.Context, friendlyName string) (domain.Device, error) {
	friendlyName = strings.TrimSpace(friendlyName)
	if s.adapter == nil {
		return domain.Device{}, errors.New("discovery adapter is not configured")
	}
	if friendlyName == "" {
		return domain.Device{}, fmt.Errorf("%w: device name is empty", ErrNoSuchDevice)
	}

	s.once.Do(func() {
		s.adapter.StartChromecastDiscoveryLoop(s.loopCtx)
	})

	attempts := s.maxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var names []string
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.Device{}, err
		}

		loaded, err := s.adapter.LoadAllDevices(defaultDelaySeconds)
		if err != nil && !errors.Is(err, devices.ErrNoDeviceAvailable) {
			return domain.Device{}, fmt.Errorf("device discovery failed: %w", err)
		}

		if matched := matchFriendlyName(loaded, friendlyName); matched != nil {
			return domain.Device{
				Name:    strings.TrimSpace(matched.Name),
				Address: strings.TrimSpace(matched.Addr),
			}, nil
		}

		names = deviceNames(loaded)
		if attempt < attempts {
			backoff := s.baseBackoff * time.Duration(1<<(attempt-1))
			s.logger.Debug(
				"discovery_retry",
				slog.Int("attempt", attempt),
				slog.Int("found", len(loaded)),
				slog.Duration("backoff", backoff),
			)
			if err := sleepCtx(ctx, backoff); err != nil {
				return domain.Device{}, err
			}
		}
	}

	if len(names) == 0 {
		return domain.Device{}, fmt.Errorf("%w: %q (no devices discovered)", ErrNoSuchDevice, friendlyName)
	}
	return domain.Device{}, fmt.Errorf("%w: %q, options are: %s", ErrNoSuchDevice, friendlyName, strings.Join(names, ", "))
}

func matchFriendlyName(all []devices.Device, target string) *devices.Device {
	for i := range all {
		if strings.TrimSpace(all[i].Name) == target {
			return &all[i]
		}
	}
	for i := range all {
		if strings.EqualFold(strings.TrimSpace(all[i].Name), target) {
			return &all[i]
		}
	}
	return nil
}

func deviceNames(all []devices.Device) []string {
	names := make([]string, 0, len(all))
	for _, dev := range all {
		name := strings.TrimSpace(dev.Name)
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func sleepCtx(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
