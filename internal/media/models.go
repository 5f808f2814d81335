package media

import (
	"fmt"
	"strings"
	"time"
)

// ContentKind discriminates downloadable catalog items.
type ContentKind string

const (
	KindMovie   ContentKind = "movie"
	KindEpisode ContentKind = "episode"
)

// ParseKind converts a string into a known ContentKind.
func ParseKind(value string) (ContentKind, bool) {
	normalized := ContentKind(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case KindMovie, KindEpisode:
		return normalized, true
	default:
		return "", false
	}
}

// Status represents the download lifecycle of a media item.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

var allStatuses = []Status{
	StatusQueued,
	StatusDownloading,
	StatusPaused,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := statusSet[normalized]; ok {
		return normalized, true
	}
	return "", false
}

// IsTerminal reports whether no automatic transition leaves the status.
// Failed is terminal until an explicit user retry.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// MakeGlobalKey builds the composite identifier for a downloadable item.
func MakeGlobalKey(serverID, contentID string) string {
	return fmt.Sprintf("%s:%s", serverID, contentID)
}

// SplitGlobalKey splits a global key back into server and content identifiers.
func SplitGlobalKey(globalKey string) (serverID, contentID string, ok bool) {
	idx := strings.Index(globalKey, ":")
	if idx <= 0 || idx == len(globalKey)-1 {
		return "", "", false
	}
	return globalKey[:idx], globalKey[idx+1:], true
}

// QueueItem is a pending work request awaiting a concurrency slot.
type QueueItem struct {
	GlobalKey string      `json:"global_key"`
	ServerID  string      `json:"server_id"`
	ContentID string      `json:"content_id"`
	Kind      ContentKind `json:"kind"`
	// Priority is a wall-clock millisecond timestamp assigned at enqueue,
	// resume, or retry time; lower drains earlier. Resume and retry assign a
	// value below the current queue minimum so the item drains next.
	Priority   int64     `json:"priority"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	// ParentID and GrandparentID carry season and show identifiers for
	// episode path derivation and show grouping.
	ParentID      string `json:"parent_id,omitempty"`
	GrandparentID string `json:"grandparent_id,omitempty"`
}

// Media is the authoritative per-item execution record. Exactly one exists
// per global key once enqueued.
type Media struct {
	GlobalKey       string      `json:"global_key"`
	ServerID        string      `json:"server_id"`
	ContentID       string      `json:"content_id"`
	Kind            ContentKind `json:"kind"`
	Status          Status      `json:"status"`
	Progress        float64     `json:"progress"`
	BytesDownloaded int64       `json:"bytes_downloaded"`
	BytesTotal      int64       `json:"bytes_total"`
	FilePath        string      `json:"file_path,omitempty"`
	ArtworkPath     string      `json:"artwork_path,omitempty"`
	EnqueuedAt      time.Time   `json:"enqueued_at"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	ErrorMessage    string      `json:"error_message,omitempty"`
	RetryCount      int         `json:"retry_count"`
}

// SetFailed marks the record failed with the given message.
func (m *Media) SetFailed(message string) {
	m.Status = StatusFailed
	m.ErrorMessage = message
}

// ResetForRetry clears failure state ahead of a user-triggered retry.
func (m *Media) ResetForRetry() {
	m.Status = StatusQueued
	m.Progress = 0
	m.BytesDownloaded = 0
	m.BytesTotal = 0
	m.ErrorMessage = ""
	m.RetryCount++
}

// Metadata is the descriptive, presentation-oriented record paired 1:1 with
// Media by global key.
type Metadata struct {
	GlobalKey        string      `json:"global_key"`
	Kind             ContentKind `json:"kind"`
	Title            string      `json:"title"`
	Year             int         `json:"year,omitempty"`
	Summary          string      `json:"summary,omitempty"`
	ImageRef         string      `json:"image_ref,omitempty"`
	ShowTitle        string      `json:"show_title,omitempty"`
	ShowKey          string      `json:"show_key,omitempty"`
	SeasonNumber     int         `json:"season_number,omitempty"`
	EpisodeNumber    int         `json:"episode_number,omitempty"`
	DurationMillis   int64       `json:"duration_millis,omitempty"`
	ViewOffsetMillis int64       `json:"view_offset_millis,omitempty"`
	LocalArtworkPath string      `json:"local_artwork_path,omitempty"`
	HasMarkers       bool        `json:"has_markers,omitempty"`
}

// ChapterMarker is one cached intro/credits range for offline skipping.
type ChapterMarker struct {
	StartMillis int64  `json:"start_millis"`
	EndMillis   int64  `json:"end_millis"`
	Kind        string `json:"kind"`
}

// Progress is the ephemeral transfer snapshot used for UI notification. It is
// reconstructable from Media, so losing it on crash is not data loss.
type Progress struct {
	GlobalKey       string  `json:"global_key"`
	Status          Status  `json:"status"`
	Percent         float64 `json:"percent"`
	BytesDownloaded int64   `json:"bytes_downloaded"`
	BytesTotal      int64   `json:"bytes_total"`
	SpeedBPS        int64   `json:"speed_bps"`
}
