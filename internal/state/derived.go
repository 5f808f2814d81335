package state

import (
	"sort"
	"time"

	"golang.org/x/text/collate"

	"flixor/internal/media"
)

// Movie is one entry in the derived flat movie list.
type Movie struct {
	GlobalKey string          `json:"global_key"`
	Media     *media.Media    `json:"media"`
	Metadata  *media.Metadata `json:"metadata"`
}

// Episode is one entry inside a show aggregate.
type Episode struct {
	GlobalKey string          `json:"global_key"`
	Media     *media.Media    `json:"media"`
	Metadata  *media.Metadata `json:"metadata"`
}

// Show aggregates the downloaded episodes of one show. It is purely derived
// and never persisted.
type Show struct {
	ShowKey         string    `json:"show_key"`
	Title           string    `json:"title"`
	Episodes        []Episode `json:"episodes"`
	DownloadedCount int       `json:"downloaded_count"`
}

// Derived holds the two UI projections recomputed from the persisted maps.
type Derived struct {
	Movies []Movie `json:"movies"`
	Shows  []Show  `json:"shows"`
}

// ComputeDerived builds the movie and show projections. It is pure given the
// two source maps: running it twice on identical input yields identical
// output. Cancelled entries are excluded; everything else (completed, queued,
// downloading, paused, failed) stays visible so the UI can offer resume,
// retry, and remove actions.
func ComputeDerived(mediaMap map[string]*media.Media, metaMap map[string]*media.Metadata, collator *collate.Collator) Derived {
	var movies []Movie
	episodesByShow := make(map[string][]Episode)

	for key, record := range mediaMap {
		if record == nil || record.Status == media.StatusCancelled {
			continue
		}
		meta := metaMap[key]
		switch record.Kind {
		case media.KindEpisode:
			showKey := ""
			if meta != nil {
				showKey = meta.ShowKey
			}
			if showKey == "" {
				// Orphan episode without a show reference; surface it in the
				// flat list rather than hiding it.
				movies = append(movies, Movie{GlobalKey: key, Media: record, Metadata: meta})
				continue
			}
			episodesByShow[showKey] = append(episodesByShow[showKey], Episode{GlobalKey: key, Media: record, Metadata: meta})
		default:
			movies = append(movies, Movie{GlobalKey: key, Media: record, Metadata: meta})
		}
	}

	sort.Slice(movies, func(i, j int) bool {
		ti, tj := sortTime(movies[i].Media), sortTime(movies[j].Media)
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return movies[i].GlobalKey < movies[j].GlobalKey
	})

	shows := make([]Show, 0, len(episodesByShow))
	for showKey, episodes := range episodesByShow {
		sort.Slice(episodes, func(i, j int) bool {
			si, sj := seasonEpisode(episodes[i].Metadata), seasonEpisode(episodes[j].Metadata)
			if si[0] != sj[0] {
				return si[0] < sj[0]
			}
			if si[1] != sj[1] {
				return si[1] < sj[1]
			}
			return episodes[i].GlobalKey < episodes[j].GlobalKey
		})
		downloaded := 0
		title := ""
		for _, episode := range episodes {
			if episode.Media.Status == media.StatusCompleted {
				downloaded++
			}
			if title == "" && episode.Metadata != nil {
				title = episode.Metadata.ShowTitle
			}
		}
		shows = append(shows, Show{
			ShowKey:         showKey,
			Title:           title,
			Episodes:        episodes,
			DownloadedCount: downloaded,
		})
	}

	sort.Slice(shows, func(i, j int) bool {
		if shows[i].Title != shows[j].Title {
			if collator != nil {
				return collator.CompareString(shows[i].Title, shows[j].Title) < 0
			}
			return shows[i].Title < shows[j].Title
		}
		return shows[i].ShowKey < shows[j].ShowKey
	})

	return Derived{Movies: movies, Shows: shows}
}

func sortTime(record *media.Media) time.Time {
	if record.CompletedAt != nil {
		return *record.CompletedAt
	}
	return record.EnqueuedAt
}

func seasonEpisode(meta *media.Metadata) [2]int {
	if meta == nil {
		return [2]int{0, 0}
	}
	return [2]int{meta.SeasonNumber, meta.EpisodeNumber}
}
