package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go2tv.app/simplecast/internal/domain"
)

type fakeRemote struct {
	mu sync.Mutex

	playURL   string
	playType  string
	playSubs  string
	playTitle string
	playErr   error
	activeErr error

	stops int
	quits int
}

func (f *fakeRemote) PlayMedia(ctx context.Context, mediaURL, contentType, subtitlesURL, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playURL = mediaURL
	f.playType = contentType
	f.playSubs = subtitlesURL
	f.playTitle = title
	return f.playErr
}

func (f *fakeRemote) BlockUntilActive(ctx context.Context, wait time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeErr
}

func (f *fakeRemote) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeRemote) Quit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quits++
	return nil
}

func testPrimary(t *testing.T, content string) domain.MediaResource {
	t.Helper()
	path := filepath.Join(t.TempDir(), "movie.mp4")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return domain.MediaResource{
		Path:        path,
		ContentType: "video/mp4",
		Length:      info.Size(),
		ModTime:     info.ModTime(),
		Kind:        domain.KindPrimary,
	}
}

func newTestSession(t *testing.T, cfg Config, rec remoteReceiver) *Session {
	t.Helper()
	s := New(cfg, rec)
	s.localIP = func(string) (string, error) { return "127.0.0.1", nil }
	t.Cleanup(s.Shutdown)
	return s
}

func TestStartServesMediaAtAdvertisedURL(t *testing.T) {
	rec := &fakeRemote{}
	s := newTestSession(t, Config{
		Device:  domain.Device{Name: "Kitchen", Address: "192.168.1.10"},
		Title:   "Movie Night",
		Primary: testPrimary(t, "fake video bytes"),
	}, rec)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.Running() {
		t.Fatal("session not running after Start")
	}
	if !strings.HasPrefix(s.PrimaryURL, "http://127.0.0.1:") || !strings.HasSuffix(s.PrimaryURL, "/primary") {
		t.Fatalf("PrimaryURL = %q", s.PrimaryURL)
	}
	if rec.playURL != s.PrimaryURL || rec.playType != "video/mp4" || rec.playTitle != "Movie Night" {
		t.Fatalf("PlayMedia got (%q, %q, %q)", rec.playURL, rec.playType, rec.playTitle)
	}
	if rec.playSubs != "" || s.SubtitlesURL != "" {
		t.Fatalf("unexpected subtitles URL %q", s.SubtitlesURL)
	}

	resp, err := http.Get(s.PrimaryURL)
	if err != nil {
		t.Fatalf("GET %s: %v", s.PrimaryURL, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "fake video bytes" {
		t.Fatalf("GET = %d %q", resp.StatusCode, body)
	}
}

func TestStartAdvertisesSubtitles(t *testing.T) {
	rec := &fakeRemote{}
	subs := domain.MediaResource{
		ContentType: "text/vtt",
		Length:      int64(len("WEBVTT\n")),
		ModTime:     time.Now(),
		Kind:        domain.KindSubtitle,
		Body:        []byte("WEBVTT\n"),
	}
	s := newTestSession(t, Config{
		Device:    domain.Device{Name: "Kitchen", Address: "192.168.1.10"},
		Primary:   testPrimary(t, "x"),
		Subtitles: &subs,
	}, rec)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.SubtitlesURL == "" || rec.playSubs != s.SubtitlesURL {
		t.Fatalf("SubtitlesURL = %q, PlayMedia got %q", s.SubtitlesURL, rec.playSubs)
	}

	resp, err := http.Get(s.SubtitlesURL)
	if err != nil {
		t.Fatalf("GET %s: %v", s.SubtitlesURL, err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/vtt" {
		t.Fatalf("Content-Type = %q", ct)
	}
}

func TestTitleFallsBackToPath(t *testing.T) {
	rec := &fakeRemote{}
	primary := testPrimary(t, "x")
	s := newTestSession(t, Config{
		Device:  domain.Device{Address: "192.168.1.10"},
		Primary: primary,
	}, rec)

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if rec.playTitle != primary.Path {
		t.Fatalf("title = %q, want %q", rec.playTitle, primary.Path)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	rec := &fakeRemote{}
	s := newTestSession(t, Config{
		Device:  domain.Device{Address: "192.168.1.10"},
		Primary: testPrimary(t, "x"),
	}, rec)

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	cleanups := 0
	s.AddCleanup(func() { cleanups++ })

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Shutdown()
		}()
	}
	wg.Wait()
	s.Shutdown()

	if rec.stops != 1 || rec.quits != 1 {
		t.Fatalf("stops = %d, quits = %d, want 1 each", rec.stops, rec.quits)
	}
	if cleanups != 1 {
		t.Fatalf("cleanup ran %d times, want 1", cleanups)
	}
	if s.Running() {
		t.Fatal("session still running after Shutdown")
	}
	if _, err := http.Get(s.PrimaryURL); err == nil {
		t.Fatal("media server still reachable after Shutdown")
	}
}

func TestCleanupsRunInReverseOrder(t *testing.T) {
	rec := &fakeRemote{}
	s := newTestSession(t, Config{
		Device:  domain.Device{Address: "192.168.1.10"},
		Primary: testPrimary(t, "x"),
	}, rec)

	var order []string
	s.AddCleanup(func() { order = append(order, "first") })
	s.AddCleanup(func() { order = append(order, "second") })
	s.Shutdown()

	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Fatalf("cleanup order = %v", order)
	}
}

func TestStartFailureStopsServer(t *testing.T) {
	rec := &fakeRemote{activeErr: errors.New("receiver never became active")}
	s := newTestSession(t, Config{
		Device:  domain.Device{Address: "192.168.1.10"},
		Primary: testPrimary(t, "x"),
	}, rec)

	err := s.Start(context.Background())
	if err == nil {
		t.Fatal("Start should fail when the receiver never activates")
	}
	if s.Running() {
		t.Fatal("session running after failed Start")
	}
	if _, getErr := http.Get(s.PrimaryURL); getErr == nil {
		t.Fatal("media server left running after failed Start")
	}
}

func TestDialTarget(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"192.168.1.5:8009", "192.168.1.5:8009"},
		{"192.168.1.5", "192.168.1.5:8009"},
		{" 192.168.1.5 ", "192.168.1.5:8009"},
		{"http://10.0.0.2:49152/desc.xml", "10.0.0.2:49152"},
		{"http://10.0.0.2/desc.xml", "10.0.0.2:8009"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := dialTarget(tc.in); got != tc.want {
			t.Errorf("dialTarget(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
