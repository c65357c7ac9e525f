package mediaserver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go2tv.app/simplecast/internal/domain"
)

const testFileSize = 10_000_000

func writePatternFile(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "movie.mp4")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write test file: %v", err)
	}
	return path, data
}

func testResource(t *testing.T, path string, size int) domain.MediaResource {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat test file: %v", err)
	}
	return domain.MediaResource{
		Path:        path,
		ContentType: "video/mp4",
		Length:      int64(size),
		ModTime:     info.ModTime(),
		Kind:        domain.KindPrimary,
	}
}

func newTestServer(t *testing.T, subtitles *domain.MediaResource) (*httptest.Server, []byte) {
	t.Helper()
	path, data := writePatternFile(t, testFileSize)
	srv := New(testResource(t, path, testFileSize), subtitles, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, data
}

func doRequest(t *testing.T, method, url, rangeHeader string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestFullBodyGET(t *testing.T) {
	ts, data := newTestServer(t, nil)

	resp := doRequest(t, http.MethodGet, ts.URL+PrimaryPath, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.Equal(body, data) {
		t.Fatalf("body mismatch: got %d bytes", len(body))
	}

	for header, want := range map[string]string{
		"Accept-Ranges":               "bytes",
		"Access-Control-Allow-Origin": "*",
		"Content-Type":                "video/mp4",
		"Content-Length":              fmt.Sprint(testFileSize),
	} {
		if got := resp.Header.Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if resp.Header.Get("Last-Modified") == "" {
		t.Error("Last-Modified header missing")
	}
	if resp.Header.Get("Content-Range") != "" {
		t.Error("Content-Range present on a non-range response")
	}
}

func TestRangedGET(t *testing.T) {
	ts, data := newTestServer(t, nil)

	resp := doRequest(t, http.MethodGet, ts.URL+PrimaryPath, "bytes=1000-1999")
	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", resp.StatusCode)
	}
	if got, want := resp.Header.Get("Content-Range"), "bytes 1000-1999/10000000"; got != want {
		t.Fatalf("Content-Range = %q, want %q", got, want)
	}
	if got := resp.Header.Get("Content-Length"); got != "1000" {
		t.Fatalf("Content-Length = %q, want 1000", got)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.Equal(body, data[1000:2000]) {
		t.Fatal("body does not match source slice")
	}
}

func TestOpenEndedRange(t *testing.T) {
	ts, data := newTestServer(t, nil)

	resp := doRequest(t, http.MethodGet, ts.URL+PrimaryPath, "bytes=9999990-")
	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", resp.StatusCode)
	}
	if got, want := resp.Header.Get("Content-Range"), "bytes 9999990-9999999/10000000"; got != want {
		t.Fatalf("Content-Range = %q, want %q", got, want)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.Equal(body, data[9999990:]) {
		t.Fatal("body does not match source tail")
	}
}

func TestRangeEndClampedToEOF(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp := doRequest(t, http.MethodGet, ts.URL+PrimaryPath, "bytes=9999000-99999999")
	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", resp.StatusCode)
	}
	if got, want := resp.Header.Get("Content-Range"), "bytes 9999000-9999999/10000000"; got != want {
		t.Fatalf("Content-Range = %q, want %q", got, want)
	}
}

func TestUnusableRangesServeWholeResource(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	for _, header := range []string{
		"bytes=-500",          // suffix form
		"bytes=0-99,200-299",  // multi-range
		"items=0-99",          // wrong unit
		"bytes=abc-",          // not a number
		"bytes=5-2",           // end before start
		"bytes=10000000-",     // start at EOF
		"bytes=999999999999-", // start way past EOF
	} {
		resp := doRequest(t, http.MethodGet, ts.URL+PrimaryPath, header)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Range %q: status = %d, want 200", header, resp.StatusCode)
		}
		if resp.Header.Get("Content-Range") != "" {
			t.Errorf("Range %q: unexpected Content-Range header", header)
		}
		io.Copy(io.Discard, resp.Body)
	}
}

func TestUnknownPathIs404(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	for _, path := range []string{"/", "/video", "/primary/extra", "/favicon.ico"} {
		resp := doRequest(t, http.MethodGet, ts.URL+path, "")
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s: status = %d, want 404", path, resp.StatusCode)
		}
		body, _ := io.ReadAll(resp.Body)
		if !bytes.Contains(body, []byte("File not found")) {
			t.Errorf("GET %s: body = %q, want it to mention File not found", path, body)
		}
	}
}

func TestSubtitlesOptional(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp := doRequest(t, http.MethodGet, ts.URL+SubtitlesPath, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("without subtitles: status = %d, want 404", resp.StatusCode)
	}

	subs := domain.MediaResource{
		ContentType: "text/vtt",
		Length:      int64(len("WEBVTT\n")),
		ModTime:     time.Now(),
		Kind:        domain.KindSubtitle,
		Body:        []byte("WEBVTT\n"),
	}
	path, _ := writePatternFile(t, 1024)
	srv := New(testResource(t, path, 1024), &subs, nil)
	ts2 := httptest.NewServer(srv.Handler())
	defer ts2.Close()

	resp = doRequest(t, http.MethodGet, ts2.URL+SubtitlesPath, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("with subtitles: status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/vtt" {
		t.Fatalf("Content-Type = %q, want text/vtt", got)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "WEBVTT\n" {
		t.Fatalf("body = %q", body)
	}
}

func TestHEADMatchesGET(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	for _, rangeHeader := range []string{"", "bytes=1000-1999"} {
		get := doRequest(t, http.MethodGet, ts.URL+PrimaryPath, rangeHeader)
		io.Copy(io.Discard, get.Body)
		head := doRequest(t, http.MethodHead, ts.URL+PrimaryPath, rangeHeader)

		if head.StatusCode != get.StatusCode {
			t.Errorf("Range %q: HEAD status %d != GET status %d", rangeHeader, head.StatusCode, get.StatusCode)
		}
		for _, header := range []string{"Content-Type", "Content-Length", "Content-Range", "Accept-Ranges", "Access-Control-Allow-Origin"} {
			if h, g := head.Header.Get(header), get.Header.Get(header); h != g {
				t.Errorf("Range %q: HEAD %s = %q, GET %s = %q", rangeHeader, header, h, header, g)
			}
		}
		body, _ := io.ReadAll(head.Body)
		if len(body) != 0 {
			t.Errorf("Range %q: HEAD wrote %d body bytes", rangeHeader, len(body))
		}
	}
}

func TestOverlappingRequests(t *testing.T) {
	ts, data := newTestServer(t, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := i * 1000
			end := start + 999
			req, _ := http.NewRequest(http.MethodGet, ts.URL+PrimaryPath, nil)
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				errs <- err
				return
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(body, data[start:end+1]) {
				errs <- fmt.Errorf("range %d-%d: body mismatch", start, end)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	path, _ := writePatternFile(t, 4096)
	srv := New(testResource(t, path, 4096), nil, nil)

	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("start: %v", err)
	}
	url := fmt.Sprintf("http://127.0.0.1:%d%s", srv.Port(), PrimaryPath)
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get while running: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := http.Get(url); err == nil {
		t.Fatal("server still reachable after Stop")
	}
}

func TestParseByteRange(t *testing.T) {
	const size = 1000
	tests := []struct {
		header     string
		start, end int64
		ok         bool
	}{
		{"", 0, 0, false},
		{"bytes=0-499", 0, 499, true},
		{"bytes=500-", 500, 999, true},
		{"bytes=0-0", 0, 0, true},
		{"bytes=999-999", 999, 999, true},
		{"bytes=500-5000", 500, 999, true},
		{"bytes=-200", 0, 0, false},
		{"bytes=1000-", 0, 0, false},
		{"bytes=7-3", 0, 0, false},
		{"bytes=0-10,20-30", 0, 0, false},
		{"chunks=0-10", 0, 0, false},
		{"bytes=x-y", 0, 0, false},
	}

	for _, tc := range tests {
		start, end, ok := parseByteRange(tc.header, size)
		if ok != tc.ok || start != tc.start || end != tc.end {
			t.Errorf("parseByteRange(%q) = (%d, %d, %v), want (%d, %d, %v)",
				tc.header, start, end, ok, tc.start, tc.end, tc.ok)
		}
	}
}
