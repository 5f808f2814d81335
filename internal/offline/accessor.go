package offline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"flixor/internal/fileutil"
	"flixor/internal/media"
	"flixor/internal/records"
	"flixor/internal/state"
)

// ErrNotAvailable is returned when a requested item has no completed local
// copy.
var ErrNotAvailable = errors.New("offline: item not available locally")

// Item bundles everything playback needs for one locally available download.
type Item struct {
	Media    *media.Media
	Metadata *media.Metadata
	Markers  []media.ChapterMarker
}

// Accessor serves downloaded content from persisted records without touching
// the network. When a state store is attached, playback offset updates are
// mirrored into it so connected UIs see the change immediately.
type Accessor struct {
	records *records.Store
	state   *state.Store
}

// New builds an accessor over the record store. state may be nil for
// standalone read-only use.
func New(recordStore *records.Store, stateStore *state.Store) *Accessor {
	return &Accessor{records: recordStore, state: stateStore}
}

// Available reports whether the item is completed and its file is still on
// disk. A completed record whose file was removed out of band is not
// available.
func (a *Accessor) Available(ctx context.Context, globalKey string) bool {
	record, err := a.records.GetMedia(ctx, globalKey)
	if err != nil {
		return false
	}
	return record.Status == media.StatusCompleted && record.FilePath != "" && fileutil.Exists(record.FilePath)
}

// Item returns the full offline bundle for a locally available download.
func (a *Accessor) Item(ctx context.Context, globalKey string) (*Item, error) {
	record, err := a.records.GetMedia(ctx, globalKey)
	if errors.Is(err, records.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotAvailable, globalKey)
	}
	if err != nil {
		return nil, err
	}
	if record.Status != media.StatusCompleted || record.FilePath == "" || !fileutil.Exists(record.FilePath) {
		return nil, fmt.Errorf("%w: %s", ErrNotAvailable, globalKey)
	}

	meta, err := a.records.GetMetadata(ctx, globalKey)
	if err != nil {
		return nil, err
	}

	markers, err := a.records.GetMarkers(ctx, globalKey)
	if err != nil && !errors.Is(err, records.ErrNotFound) {
		return nil, err
	}

	return &Item{Media: record, Metadata: meta, Markers: markers}, nil
}

// List returns every locally available download, ordered most recently
// completed first.
func (a *Accessor) List(ctx context.Context) ([]*Item, error) {
	mediaMap, err := a.records.LoadAllMedia(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]*Item, 0, len(mediaMap))
	for key, record := range mediaMap {
		if record.Status != media.StatusCompleted || record.FilePath == "" || !fileutil.Exists(record.FilePath) {
			continue
		}
		item, err := a.Item(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotAvailable) {
				continue
			}
			return nil, err
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		left, right := items[i].Media, items[j].Media
		if left.CompletedAt != nil && right.CompletedAt != nil && !left.CompletedAt.Equal(*right.CompletedAt) {
			return left.CompletedAt.After(*right.CompletedAt)
		}
		return left.GlobalKey < right.GlobalKey
	})
	return items, nil
}

// UpdateViewOffset persists the playback position for resume across launches.
func (a *Accessor) UpdateViewOffset(ctx context.Context, globalKey string, offsetMillis int64) error {
	if offsetMillis < 0 {
		offsetMillis = 0
	}
	meta, err := a.records.GetMetadata(ctx, globalKey)
	if err != nil {
		return err
	}
	meta.ViewOffsetMillis = offsetMillis
	if err := a.records.SaveMetadata(ctx, meta); err != nil {
		return err
	}
	if a.state != nil {
		a.state.SetMetadata(meta)
	}
	return nil
}
