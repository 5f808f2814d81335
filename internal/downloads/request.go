package downloads

import (
	"strings"

	"flixor/internal/media"
	"flixor/internal/services"
)

// Request carries everything the queue manager needs to enqueue one catalog
// item: identity for the global key, hierarchy identifiers for episode path
// derivation and show grouping, and the descriptive fields snapshot that
// seeds the metadata record.
type Request struct {
	ServerID  string
	ContentID string
	Kind      media.ContentKind

	Title    string
	Year     int
	Summary  string
	ImageRef string

	// Episode hierarchy; empty for movies.
	ShowTitle     string
	ParentID      string
	GrandparentID string
	SeasonNumber  int
	EpisodeNumber int

	DurationMillis int64
}

// GlobalKey returns the composite identifier for the request.
func (r Request) GlobalKey() string {
	return media.MakeGlobalKey(r.ServerID, r.ContentID)
}

// Validate rejects structurally incomplete requests before anything persists.
func (r Request) Validate() error {
	if strings.TrimSpace(r.ServerID) == "" || strings.TrimSpace(r.ContentID) == "" {
		return services.Wrap(services.ErrConfiguration, "downloads", "enqueue", "request missing server or content identifier", nil)
	}
	if _, ok := media.ParseKind(string(r.Kind)); !ok {
		return services.Wrap(services.ErrConfiguration, "downloads", "enqueue", "request has unknown content kind", nil)
	}
	if strings.TrimSpace(r.Title) == "" {
		return services.Wrap(services.ErrConfiguration, "downloads", "enqueue", "request missing title", nil)
	}
	return nil
}

func (r Request) showKey() string {
	if r.Kind != media.KindEpisode || strings.TrimSpace(r.GrandparentID) == "" {
		return ""
	}
	return media.MakeGlobalKey(r.ServerID, r.GrandparentID)
}
