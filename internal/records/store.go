package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"flixor/internal/kvstore"
	"flixor/internal/media"
)

// Key layout in the persistent store. Four per-key records exist for every
// in-flight or completed download, plus one queue record. The set of known
// keys is the set of media records, discovered by prefix scan.
const (
	keyPrefix   = "flixor:dl:"
	queueKey    = keyPrefix + "queue"
	mediaPrefix = keyPrefix + "media:"
	metaPrefix  = keyPrefix + "meta:"
	progPrefix  = keyPrefix + "progress:"
	markPrefix  = keyPrefix + "markers:"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("records: not found")

// Store persists download records as JSON documents in the key-value store.
type Store struct {
	kv *kvstore.Store
}

// New wraps a key-value store with the download record layout.
func New(kv *kvstore.Store) *Store {
	return &Store{kv: kv}
}

// LoadQueue returns the persisted pending queue, oldest layout intact. A
// missing record yields an empty queue.
func (s *Store) LoadQueue(ctx context.Context) ([]media.QueueItem, error) {
	var items []media.QueueItem
	if err := s.getJSON(ctx, queueKey, &items); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return items, nil
}

// SaveQueue persists the pending queue in its current order.
func (s *Store) SaveQueue(ctx context.Context, items []media.QueueItem) error {
	if items == nil {
		items = []media.QueueItem{}
	}
	return s.setJSON(ctx, queueKey, items)
}

// GetMedia returns the execution record for globalKey.
func (s *Store) GetMedia(ctx context.Context, globalKey string) (*media.Media, error) {
	var record media.Media
	if err := s.getJSON(ctx, mediaPrefix+globalKey, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// SaveMedia persists the execution record.
func (s *Store) SaveMedia(ctx context.Context, record *media.Media) error {
	return s.setJSON(ctx, mediaPrefix+record.GlobalKey, record)
}

// DeleteMedia removes the execution record for globalKey.
func (s *Store) DeleteMedia(ctx context.Context, globalKey string) error {
	return s.kv.Remove(ctx, mediaPrefix+globalKey)
}

// GetMetadata returns the descriptive record for globalKey.
func (s *Store) GetMetadata(ctx context.Context, globalKey string) (*media.Metadata, error) {
	var record media.Metadata
	if err := s.getJSON(ctx, metaPrefix+globalKey, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// SaveMetadata persists the descriptive record.
func (s *Store) SaveMetadata(ctx context.Context, record *media.Metadata) error {
	return s.setJSON(ctx, metaPrefix+record.GlobalKey, record)
}

// DeleteMetadata removes the descriptive record for globalKey.
func (s *Store) DeleteMetadata(ctx context.Context, globalKey string) error {
	return s.kv.Remove(ctx, metaPrefix+globalKey)
}

// GetProgress returns the persisted progress snapshot for globalKey.
func (s *Store) GetProgress(ctx context.Context, globalKey string) (*media.Progress, error) {
	var record media.Progress
	if err := s.getJSON(ctx, progPrefix+globalKey, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// SaveProgress persists a progress snapshot.
func (s *Store) SaveProgress(ctx context.Context, record *media.Progress) error {
	return s.setJSON(ctx, progPrefix+record.GlobalKey, record)
}

// DeleteProgress removes the progress snapshot for globalKey.
func (s *Store) DeleteProgress(ctx context.Context, globalKey string) error {
	return s.kv.Remove(ctx, progPrefix+globalKey)
}

// GetMarkers returns cached chapter markers for globalKey.
func (s *Store) GetMarkers(ctx context.Context, globalKey string) ([]media.ChapterMarker, error) {
	var markers []media.ChapterMarker
	if err := s.getJSON(ctx, markPrefix+globalKey, &markers); err != nil {
		return nil, err
	}
	return markers, nil
}

// SaveMarkers caches chapter markers; written once after a successful
// download, read-only thereafter.
func (s *Store) SaveMarkers(ctx context.Context, globalKey string, markers []media.ChapterMarker) error {
	if markers == nil {
		markers = []media.ChapterMarker{}
	}
	return s.setJSON(ctx, markPrefix+globalKey, markers)
}

// DeleteMarkers removes cached chapter markers for globalKey.
func (s *Store) DeleteMarkers(ctx context.Context, globalKey string) error {
	return s.kv.Remove(ctx, markPrefix+globalKey)
}

// DeleteAll removes every per-key record for globalKey.
func (s *Store) DeleteAll(ctx context.Context, globalKey string) error {
	for _, key := range []string{
		mediaPrefix + globalKey,
		metaPrefix + globalKey,
		progPrefix + globalKey,
		markPrefix + globalKey,
	} {
		if err := s.kv.Remove(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// LoadAllMedia returns every persisted execution record keyed by global key.
func (s *Store) LoadAllMedia(ctx context.Context) (map[string]*media.Media, error) {
	storeKeys, err := s.kv.ListKeys(ctx, mediaPrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*media.Media, len(storeKeys))
	for _, storeKey := range storeKeys {
		var record media.Media
		if err := s.getJSON(ctx, storeKey, &record); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out[strings.TrimPrefix(storeKey, mediaPrefix)] = &record
	}
	return out, nil
}

// LoadAllMetadata returns every persisted descriptive record keyed by global key.
func (s *Store) LoadAllMetadata(ctx context.Context) (map[string]*media.Metadata, error) {
	storeKeys, err := s.kv.ListKeys(ctx, metaPrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*media.Metadata, len(storeKeys))
	for _, storeKey := range storeKeys {
		var record media.Metadata
		if err := s.getJSON(ctx, storeKey, &record); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out[strings.TrimPrefix(storeKey, metaPrefix)] = &record
	}
	return out, nil
}

func (s *Store) getJSON(ctx context.Context, key string, dst any) error {
	raw, err := s.kv.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) setJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.kv.Set(ctx, key, string(raw))
}
