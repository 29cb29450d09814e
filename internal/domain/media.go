package domain

import (
	"net/url"
	"path"
	"strings"
)

// MediaKind tags what a captured URL most likely points at. It is an
// annotation for consumers; ingestion never rejects on it.
type MediaKind string

const (
	MediaHLS         MediaKind = "hls"
	MediaDASH        MediaKind = "dash"
	MediaProgressive MediaKind = "progressive"
	MediaManifest    MediaKind = "manifest"
	MediaPlaylist    MediaKind = "playlist"
	MediaUnknown     MediaKind = "unknown"
)

// progressiveExtensions are the container formats the capture sources watch for.
var progressiveExtensions = map[string]bool{
	".mp4":  true,
	".webm": true,
	".avi":  true,
	".mov":  true,
	".mkv":  true,
	".flv":  true,
}

// ClassifyMedia inspects the path extension first, then falls back to the
// "manifest" and "playlist" substrings the browser extension also matches.
func ClassifyMedia(u *url.URL) MediaKind {
	ext := strings.ToLower(path.Ext(u.Path))
	switch {
	case ext == ".m3u8":
		return MediaHLS
	case ext == ".mpd":
		return MediaDASH
	case progressiveExtensions[ext]:
		return MediaProgressive
	}

	lower := strings.ToLower(u.Path + "?" + u.RawQuery)
	switch {
	case strings.Contains(lower, "manifest"):
		return MediaManifest
	case strings.Contains(lower, "playlist"):
		return MediaPlaylist
	default:
		return MediaUnknown
	}
}
