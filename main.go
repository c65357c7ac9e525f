// simplecast casts a single local media file to a Chromecast or compatible
// receiver, serving the file (and an optional subtitle sidecar) over HTTP and
// driving playback interactively from the terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	go2tvadapters "go2tv.app/simplecast/internal/adapters/go2tv"
	"go2tv.app/simplecast/internal/buildinfo"
	"go2tv.app/simplecast/internal/control"
	"go2tv.app/simplecast/internal/discovery"
	"go2tv.app/simplecast/internal/domain"
	"go2tv.app/simplecast/internal/lifecycle"
	"go2tv.app/simplecast/internal/mediaserver"
	"go2tv.app/simplecast/internal/receiver"
	"go2tv.app/simplecast/internal/session"
)

func main() {
	deviceName := flag.String("device", "", "friendly name of the cast device")
	port := flag.Int("port", 8080, "port to serve media on")
	subtitlesFile := flag.String("subtitles", "", "optional subtitles file (.srt or .vtt)")
	subtitlesMime := flag.String("subtitles-mime", mediaserver.DefaultSubtitlesContentType, "MIME type of the subtitles")
	title := flag.String("title", "", "title shown on the receiver (defaults to the file name)")
	onetime := flag.Bool("onetime", false, "no keyboard control, just wait for playback to finish")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.Version)
		return
	}
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: simplecast -device NAME [flags] FILENAME")
		os.Exit(2)
	}

	logLevel := parseLogLevel(os.Getenv("SIMPLECAST_LOG_LEVEL"))
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Info(
		"cast_session_start",
		slog.String("version", buildinfo.Version),
		slog.String("log_level", logLevel.String()),
	)

	if err := run(logger, *deviceName, flag.Arg(0), *subtitlesFile, *subtitlesMime, *title, *port, *onetime); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func run(logger *slog.Logger, deviceName, mediaFile, subtitlesFile, subtitlesMime, title string, port int, onetime bool) error {
	runCtx, stopSignals := signal.NotifyContext(context.Background(), lifecycle.TerminationSignals()...)
	defer stopSignals()
	runCtx, cancel := context.WithCancel(runCtx)
	defer cancel()

	primary, err := mediaserver.ResolvePrimary(mediaFile)
	if err != nil {
		return fmt.Errorf("resolve media file: %w", err)
	}
	var subtitles *domain.MediaResource
	if subtitlesFile != "" {
		res, err := mediaserver.ResolveSubtitles(subtitlesFile, subtitlesMime)
		if err != nil {
			return fmt.Errorf("resolve subtitles file: %w", err)
		}
		subtitles = &res
	}
	if strings.TrimSpace(title) == "" {
		title = filepath.Base(primary.Path)
	}

	bundle := go2tvadapters.NewBundle()
	discoverySvc := discovery.NewService(bundle.Discovery, runCtx, logger)
	device, err := discoverySvc.Resolve(runCtx, deviceName)
	if err != nil {
		return err
	}
	logger.Info("cast_device_resolved", slog.String("name", device.Name), slog.String("address", device.Address))

	client, err := bundle.CastFactory.NewCastClient(device.Address)
	if err != nil {
		return fmt.Errorf("create cast client: %w", err)
	}
	rec := receiver.New(client, logger)
	if err := rec.Connect(runCtx); err != nil {
		return fmt.Errorf("connect to %s: %w", device.Name, err)
	}

	sess := session.New(session.Config{
		Device:    device,
		Port:      port,
		Title:     title,
		Primary:   primary,
		Subtitles: subtitles,
		Logger:    logger,
	}, rec)

	// An asynchronous disconnect must tear the session down no matter what
	// state the control loop is in; teardown is idempotent, so racing with
	// the loop's own quit path is fine.
	rec.OnDisconnect(func() {
		sess.Shutdown()
		cancel()
	})

	if err := sess.Start(runCtx); err != nil {
		sess.Shutdown()
		return err
	}

	status := control.NewStatusSync(rec)

	if onetime || !control.IsTerminal(int(os.Stdin.Fd())) {
		if !onetime {
			logger.Warn("stdin_not_a_terminal", slog.String("mode", "onetime"))
		}
		loop := control.NewOnetimeLoop(status, logger, sess.Shutdown)
		return loop.Run(runCtx)
	}

	raw, err := control.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		sess.Shutdown()
		return fmt.Errorf("set terminal raw mode: %w", err)
	}
	defer raw.Restore()
	sess.AddCleanup(raw.Restore)

	keys := control.ReadKeys(runCtx, os.Stdin)
	loop := control.NewInteractiveLoop(status, rec, keys, os.Stdout, logger, sess.Shutdown)
	return loop.Run(runCtx)
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "invalid SIMPLECAST_LOG_LEVEL=%q; defaulting to info\n", raw)
		return slog.LevelInfo
	}
}
