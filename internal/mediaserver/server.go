// Package mediaserver serves a single pre-resolved media file (plus an
// optional subtitle sidecar) over HTTP with byte-range support, the way cast
// receivers fetch it: a probing HEAD or small ranged GET first, then one or
// more overlapping ranged GETs as the user seeks.
package mediaserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"

	"go2tv.app/simplecast/internal/domain"
)

const (
	// PrimaryPath and SubtitlesPath are the only two logical resources.
	PrimaryPath   = "/primary"
	SubtitlesPath = "/subtitles"

	copyBufferSize = 64 << 10
)

// Server exposes an immutable resource set on one local port. Requests share
// no mutable state, so overlapping GET/HEAD requests need no coordination.
type Server struct {
	resources map[string]domain.MediaResource
	logger    *slog.Logger

	httpSrv   *http.Server
	ln        net.Listener
	serveDone chan struct{}
}

// New builds a server for the given resource set. subtitles may be nil.
func New(primary domain.MediaResource, subtitles *domain.MediaResource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	resources := map[string]domain.MediaResource{
		PrimaryPath: primary,
	}
	if subtitles != nil {
		resources[SubtitlesPath] = *subtitles
	}

	return &Server{
		resources: resources,
		logger:    logger,
		serveDone: make(chan struct{}),
	}
}

// Handler returns the request handler, independent of the listener lifecycle.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

// Start binds the listener and serves in the background. It returns once the
// port is bound, so the caller can hand out URLs immediately.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind media server on %s: %w", addr, err)
	}
	s.ln = ln
	s.httpSrv = &http.Server{Handler: s.Handler()}

	go func() {
		defer close(s.serveDone)
		if serveErr := s.httpSrv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("media_server_stopped", slog.String("error", serveErr.Error()))
		}
	}()

	s.logger.Info("media_server_start", slog.String("addr", ln.Addr().String()))
	return nil
}

// Port reports the bound port, useful when Start was given port 0.
func (s *Server) Port() int {
	if s.ln == nil {
		return 0
	}
	if tcp, ok := s.ln.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// Stop shuts the server down and waits for the serve goroutine to exit.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	err := s.httpSrv.Shutdown(ctx)

	select {
	case <-s.serveDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	res, ok := s.resources[r.URL.Path]
	if !ok {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	body, err := openResource(res)
	if err != nil {
		// Unopenable files are a per-request condition, never fatal.
		s.logger.Warn("resource_open_failed", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Last-Modified", res.ModTime.UTC().Format(http.TimeFormat))

	start, end, ranged := parseByteRange(r.Header.Get("Range"), res.Length)
	length := res.Length
	if ranged {
		length = end - start + 1
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, res.Length))
		w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.Header().Set("Content-Length", strconv.FormatInt(res.Length, 10))
	}

	if r.Method == http.MethodHead {
		return
	}

	if ranged {
		if _, err := body.Seek(start, io.SeekStart); err != nil {
			s.logger.Warn("resource_seek_failed", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
			return
		}
	}
	s.copyRange(r, w, body, length)
}

// copyRange streams length bytes in bounded chunks so memory use stays flat
// for large media and the loop can stop as soon as the client goes away.
// Receivers tear the connection down on every stop and seek, so a failed
// write is a normal end of request, not an error.
func (s *Server) copyRange(r *http.Request, w http.ResponseWriter, src io.Reader, length int64) {
	buf := make([]byte, copyBufferSize)
	var written int64

	for written < length {
		select {
		case <-r.Context().Done():
			return
		default:
		}

		toRead := int64(len(buf))
		if rem := length - written; rem < toRead {
			toRead = rem
		}
		n, readErr := src.Read(buf[:toRead])
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				if !clientGone(writeErr) {
					s.logger.Warn("stream_write_failed", slog.String("error", writeErr.Error()))
				}
				return
			}
			written += int64(n)
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				s.logger.Warn("stream_read_failed", slog.String("error", readErr.Error()))
			}
			return
		}
	}
}

type readSeekCloser interface {
	io.ReadSeeker
	io.Closer
}

type nopSeekCloser struct{ *bytes.Reader }

func (nopSeekCloser) Close() error { return nil }

func openResource(res domain.MediaResource) (readSeekCloser, error) {
	if res.Body != nil {
		return nopSeekCloser{bytes.NewReader(res.Body)}, nil
	}
	return os.Open(res.Path)
}

// parseByteRange parses a "bytes=<start>-<end>?" header. Anything it cannot
// make sense of (absent header, suffix or multi ranges, end before start, a
// start at or past EOF) degrades to "no range requested" and the caller
// serves the whole resource with status 200. An end past EOF is clamped.
func parseByteRange(header string, size int64) (start, end int64, ok bool) {
	h := strings.TrimSpace(header)
	if h == "" || size <= 0 {
		return 0, 0, false
	}
	if !strings.HasPrefix(strings.ToLower(h), "bytes=") {
		return 0, 0, false
	}
	spec := strings.TrimSpace(h[len("bytes="):])
	if strings.Contains(spec, ",") {
		return 0, 0, false
	}

	dash := strings.IndexByte(spec, '-')
	if dash <= 0 {
		return 0, 0, false
	}

	start, err := strconv.ParseInt(spec[:dash], 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}

	rest := strings.TrimSpace(spec[dash+1:])
	if rest == "" {
		return start, size - 1, true
	}
	end, err = strconv.ParseInt(rest, 10, 64)
	if err != nil || end < start {
		return 0, 0, false
	}
	if end >= size {
		end = size - 1
	}
	return start, end, true
}

func clientGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, context.Canceled) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "client disconnected")
}
