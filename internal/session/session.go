// Package session coordinates one cast session: it starts the media server,
// builds the URLs the receiver can reach, starts playback, and owns the
// single-shot teardown path shared by the control loop and the asynchronous
// disconnect callback.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go2tv.app/simplecast/internal/domain"
	"go2tv.app/simplecast/internal/mediaserver"
)

const (
	defaultActiveWait   = 30 * time.Second
	teardownGracePeriod = 5 * time.Second

	// Default Chromecast control port, used when discovery hands back a bare IP.
	castControlPort = "8009"
)

type remoteReceiver interface {
	PlayMedia(ctx context.Context, mediaURL, contentType, subtitlesURL, title string) error
	BlockUntilActive(ctx context.Context, wait time.Duration) error
	Stop() error
	Quit() error
}

type Config struct {
	Device    domain.Device
	Port      int
	Title     string
	Primary   domain.MediaResource
	Subtitles *domain.MediaResource
	Logger    *slog.Logger
}

type Session struct {
	cfg    Config
	rec    remoteReceiver
	server *mediaserver.Server
	logger *slog.Logger

	// localIP resolves the outbound-routable address toward the device; it is
	// a field so tests can pin it to loopback.
	localIP    func(deviceAddr string) (string, error)
	activeWait time.Duration

	running  atomic.Bool
	mu       sync.Mutex
	cleanups []func()

	teardownOnce sync.Once

	PrimaryURL   string
	SubtitlesURL string
}

func New(cfg Config, rec remoteReceiver) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Session{
		cfg:        cfg,
		rec:        rec,
		logger:     logger,
		localIP:    outboundIP,
		activeWait: defaultActiveWait,
	}
}

// Start brings the media server up, points the receiver at it, and blocks
// until the receiver reports an active session or the wait expires.
func (s *Session) Start(ctx context.Context) error {
	server := mediaserver.New(s.cfg.Primary, s.cfg.Subtitles, s.logger)
	if err := server.Start(":" + strconv.Itoa(s.cfg.Port)); err != nil {
		return err
	}
	s.server = server

	ip, err := s.localIP(s.cfg.Device.Address)
	if err != nil {
		s.stopServer()
		return fmt.Errorf("determine local address: %w", err)
	}

	hostPort := net.JoinHostPort(ip, strconv.Itoa(server.Port()))
	s.PrimaryURL = "http://" + hostPort + mediaserver.PrimaryPath
	if s.cfg.Subtitles != nil {
		s.SubtitlesURL = "http://" + hostPort + mediaserver.SubtitlesPath
	}

	title := s.cfg.Title
	if strings.TrimSpace(title) == "" {
		title = s.cfg.Primary.Path
	}

	if err := s.rec.PlayMedia(ctx, s.PrimaryURL, s.cfg.Primary.ContentType, s.SubtitlesURL, title); err != nil {
		s.stopServer()
		return fmt.Errorf("start playback: %w", err)
	}
	if err := s.rec.BlockUntilActive(ctx, s.activeWait); err != nil {
		s.stopServer()
		return fmt.Errorf("wait for active playback: %w", err)
	}

	s.running.Store(true)
	s.logger.Info(
		"cast_session_active",
		slog.String("device", s.cfg.Device.Name),
		slog.String("media_url", s.PrimaryURL),
		slog.String("subtitles_url", s.SubtitlesURL),
	)
	return nil
}

// Running reports whether the session is live, i.e. Start succeeded and
// Shutdown has not run.
func (s *Session) Running() bool {
	return s.running.Load()
}

// AddCleanup registers a hook run during teardown, after the receiver and
// server are down. Hooks run in reverse registration order. The interactive
// loop registers its terminal restore here so an asynchronous teardown also
// leaves the terminal usable.
func (s *Session) AddCleanup(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups = append(s.cleanups, fn)
}

// Shutdown tears the session down exactly once. Stop/quit on the receiver are
// best effort since it may already be gone; errors there are logged, never
// propagated. Safe to call concurrently from the loop's quit path and the
// disconnect callback.
func (s *Session) Shutdown() {
	s.teardownOnce.Do(func() {
		s.running.Store(false)

		if s.rec != nil {
			if err := s.rec.Stop(); err != nil {
				s.logger.Debug("receiver_stop_failed", slog.String("error", err.Error()))
			}
			if err := s.rec.Quit(); err != nil {
				s.logger.Debug("receiver_quit_failed", slog.String("error", err.Error()))
			}
		}

		s.stopServer()

		s.mu.Lock()
		cleanups := s.cleanups
		s.cleanups = nil
		s.mu.Unlock()
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}

		s.logger.Info("cast_session_closed")
	})
}

func (s *Session) stopServer() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), teardownGracePeriod)
	defer cancel()
	if err := s.server.Stop(ctx); err != nil {
		s.logger.Warn("media_server_stop_failed", slog.String("error", err.Error()))
	}
}

// outboundIP reads the local endpoint of a throwaway UDP connection routed
// toward the device. No packets are exchanged; only the OS route lookup
// matters. Falls back to a well-known address when the device address is
// unusable, so a URL can still be built.
func outboundIP(deviceAddr string) (string, error) {
	for _, target := range []string{dialTarget(deviceAddr), "8.8.8.8:80"} {
		if target == "" {
			continue
		}
		conn, err := net.Dial("udp", target)
		if err != nil {
			continue
		}
		local, ok := conn.LocalAddr().(*net.UDPAddr)
		conn.Close()
		if ok {
			return local.IP.String(), nil
		}
	}
	return "", fmt.Errorf("no route toward %q", deviceAddr)
}

// dialTarget normalizes whatever discovery handed back (host:port, bare IP,
// or a control URL) into a dialable host:port.
func dialTarget(deviceAddr string) string {
	deviceAddr = strings.TrimSpace(deviceAddr)
	if deviceAddr == "" {
		return ""
	}
	if strings.Contains(deviceAddr, "://") {
		parsed, err := url.Parse(deviceAddr)
		if err != nil || parsed.Hostname() == "" {
			return ""
		}
		port := parsed.Port()
		if port == "" {
			port = castControlPort
		}
		return net.JoinHostPort(parsed.Hostname(), port)
	}
	if _, _, err := net.SplitHostPort(deviceAddr); err == nil {
		return deviceAddr
	}
	return net.JoinHostPort(deviceAddr, castControlPort)
}
