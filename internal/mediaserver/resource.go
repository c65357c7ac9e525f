package mediaserver

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"go2tv.app/go2tv/v2/utils"
	"go2tv.app/simplecast/internal/domain"
)

// DefaultSubtitlesContentType is the subtitle MIME type cast receivers expect.
const DefaultSubtitlesContentType = "text/vtt"

// ResolvePrimary stats the media file and detects its MIME type. The resulting
// resource is immutable for the session's duration.
func ResolvePrimary(path string) (domain.MediaResource, error) {
	path, info, err := canonicalizeFile(path)
	if err != nil {
		return domain.MediaResource{}, err
	}

	return domain.MediaResource{
		Path:        path,
		ContentType: detectContentType(path),
		Length:      info.Size(),
		ModTime:     info.ModTime(),
		Kind:        domain.KindPrimary,
	}, nil
}

// ResolveSubtitles prepares the optional subtitle resource. SRT files are
// converted to WebVTT up front and served from memory, since receivers only
// accept WebVTT sidecars.
func ResolveSubtitles(path, contentType string) (domain.MediaResource, error) {
	path, info, err := canonicalizeFile(path)
	if err != nil {
		return domain.MediaResource{}, err
	}
	if strings.TrimSpace(contentType) == "" {
		contentType = DefaultSubtitlesContentType
	}

	res := domain.MediaResource{
		Path:        path,
		ContentType: contentType,
		Length:      info.Size(),
		ModTime:     info.ModTime(),
		Kind:        domain.KindSubtitle,
	}

	if strings.EqualFold(filepath.Ext(path), ".srt") {
		webvtt, err := utils.ConvertSRTtoWebVTT(path)
		if err != nil {
			return domain.MediaResource{}, fmt.Errorf("convert SRT subtitles to WebVTT: %w", err)
		}
		res.Body = webvtt
		res.Length = int64(len(webvtt))
		res.ContentType = DefaultSubtitlesContentType
	}

	return res, nil
}

func canonicalizeFile(path string) (string, os.FileInfo, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil, fmt.Errorf("file path is empty")
	}
	if path == "~" || strings.HasPrefix(path, "~"+string(os.PathSeparator)) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", nil, fmt.Errorf("expand home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", nil, fmt.Errorf("resolve path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", nil, err
	}
	if info.IsDir() {
		return "", nil, fmt.Errorf("%s is a directory, not a file", abs)
	}
	return abs, info, nil
}

func detectContentType(path string) string {
	contentType, err := utils.GetMimeDetailsFromPath(path)
	if err == nil && contentType != "" && contentType != "/" && contentType != "application/octet-stream" {
		return contentType
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != "" {
		if guessed := mime.TypeByExtension(ext); guessed != "" {
			parts := strings.Split(guessed, ";")
			return strings.TrimSpace(parts[0])
		}
	}

	return "application/octet-stream"
}
