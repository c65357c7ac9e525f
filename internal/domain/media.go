package domain

import "time"

// ResourceKind distinguishes the two logical resources a cast session serves.
type ResourceKind string

const (
	KindPrimary  ResourceKind = "primary"
	KindSubtitle ResourceKind = "subtitle"
)

// MediaResource describes one local resource exposed to the receiver. It is
// resolved once before the media server starts and never mutated afterwards.
type MediaResource struct {
	Path        string
	ContentType string
	Length      int64
	ModTime     time.Time
	Kind        ResourceKind

	// Body is set when the resource is served from memory instead of Path,
	// e.g. subtitles converted from SRT to WebVTT at resolution time.
	Body []byte
}

// Device identifies a resolved cast target on the local network.
type Device struct {
	Name    string
	Address string
}
