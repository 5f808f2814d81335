package state

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"flixor/internal/media"
)

// EventType discriminates store notifications.
type EventType string

const (
	// EventState signals a structural change: an item was added or removed,
	// or a media/metadata record changed. Derived lists were recomputed.
	EventState EventType = "state"
	// EventProgress signals a pure progress-percentage update. Derived lists
	// were deliberately not recomputed.
	EventProgress EventType = "progress"
)

// Event is delivered synchronously to subscribers after every mutation.
// Listeners must treat the referenced records as immutable.
type Event struct {
	Type      EventType
	GlobalKey string
	Progress  *media.Progress
}

// Listener receives store events.
type Listener func(Event)

// Snapshot bundles the three per-key records for a single UI read. Snapshots
// are memoized per global key: repeated reads return the identical pointer
// until one of the underlying records is replaced.
type Snapshot struct {
	GlobalKey string          `json:"global_key"`
	Media     *media.Media    `json:"media"`
	Metadata  *media.Metadata `json:"metadata"`
	Progress  *media.Progress `json:"progress"`
}

// Store is the in-memory projection of the persisted download records that
// the UI subscribes to. All mutations notify subscribers synchronously;
// derived lists are recomputed only when the structural version moved.
type Store struct {
	mu        sync.Mutex
	mediaMap  map[string]*media.Media
	metaMap   map[string]*media.Metadata
	progress  map[string]*media.Progress
	snapshots map[string]*Snapshot

	// version counts structural changes; derivedVersion records the version
	// the current projections were computed at. Progress updates never touch
	// version, which is what keeps progress storms cheap.
	version        uint64
	derivedVersion uint64
	derived        Derived

	listeners map[string]Listener
	collator  *collate.Collator
}

// NewStore constructs an empty reactive store.
func NewStore() *Store {
	return &Store{
		mediaMap:  make(map[string]*media.Media),
		metaMap:   make(map[string]*media.Metadata),
		progress:  make(map[string]*media.Progress),
		snapshots: make(map[string]*Snapshot),
		listeners: make(map[string]Listener),
		collator:  collate.New(language.English, collate.IgnoreCase),
	}
}

// Bootstrap seeds the store from persisted records at startup and computes
// the initial projections without notifying (no subscribers exist yet).
func (s *Store) Bootstrap(mediaMap map[string]*media.Media, metaMap map[string]*media.Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, record := range mediaMap {
		s.mediaMap[key] = record
	}
	for key, record := range metaMap {
		s.metaMap[key] = record
	}
	s.version++
	s.recomputeLocked()
}

// Subscribe registers a listener and returns an unregister handle.
func (s *Store) Subscribe(listener Listener) (unsubscribe func()) {
	id := uuid.NewString()
	s.mu.Lock()
	s.listeners[id] = listener
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// SetMedia replaces the execution record for a key, recomputes projections,
// and notifies subscribers.
func (s *Store) SetMedia(record *media.Media) {
	s.mu.Lock()
	s.mediaMap[record.GlobalKey] = record
	s.version++
	s.recomputeLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()
	notify(listeners, Event{Type: EventState, GlobalKey: record.GlobalKey})
}

// SetMetadata replaces the descriptive record for a key, recomputes
// projections, and notifies subscribers.
func (s *Store) SetMetadata(record *media.Metadata) {
	s.mu.Lock()
	s.metaMap[record.GlobalKey] = record
	s.version++
	s.recomputeLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()
	notify(listeners, Event{Type: EventState, GlobalKey: record.GlobalKey})
}

// SetProgress records a transfer progress snapshot and notifies subscribers
// without recomputing derived lists: progress changes can never alter which
// items appear in them.
func (s *Store) SetProgress(snapshot *media.Progress) {
	s.mu.Lock()
	s.progress[snapshot.GlobalKey] = snapshot
	listeners := s.listenersLocked()
	s.mu.Unlock()
	notify(listeners, Event{Type: EventProgress, GlobalKey: snapshot.GlobalKey, Progress: snapshot})
}

// ClearProgress drops the progress snapshot for a key so a stale percentage
// does not outlive the transfer it described. Clearing a key without a
// snapshot is a silent no-op.
func (s *Store) ClearProgress(globalKey string) {
	s.mu.Lock()
	if _, ok := s.progress[globalKey]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.progress, globalKey)
	listeners := s.listenersLocked()
	s.mu.Unlock()
	notify(listeners, Event{Type: EventProgress, GlobalKey: globalKey})
}

// Remove drops every record for a key, recomputes projections, and notifies.
func (s *Store) Remove(globalKey string) {
	s.mu.Lock()
	delete(s.mediaMap, globalKey)
	delete(s.metaMap, globalKey)
	delete(s.progress, globalKey)
	delete(s.snapshots, globalKey)
	s.version++
	s.recomputeLocked()
	listeners := s.listenersLocked()
	s.mu.Unlock()
	notify(listeners, Event{Type: EventState, GlobalKey: globalKey})
}

// Media returns the execution record for a key, or nil.
func (s *Store) Media(globalKey string) *media.Media {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mediaMap[globalKey]
}

// Metadata returns the descriptive record for a key, or nil.
func (s *Store) Metadata(globalKey string) *media.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metaMap[globalKey]
}

// Progress returns the latest progress snapshot for a key, or nil.
func (s *Store) Progress(globalKey string) *media.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress[globalKey]
}

// Derived returns the current projections. The returned value shares its
// slices with the store and must be treated as immutable.
func (s *Store) Derived() Derived {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.derived
}

// SnapshotFor returns the memoized per-key snapshot. The same pointer comes
// back until one of the three underlying records is replaced (identity
// comparison, not deep comparison), so progress-storm UI reads do not
// allocate.
func (s *Store) SnapshotFor(globalKey string) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.snapshots[globalKey]
	mediaRec := s.mediaMap[globalKey]
	metaRec := s.metaMap[globalKey]
	progressRec := s.progress[globalKey]
	if current != nil && current.Media == mediaRec && current.Metadata == metaRec && current.Progress == progressRec {
		return current
	}
	if mediaRec == nil && metaRec == nil && progressRec == nil {
		delete(s.snapshots, globalKey)
		return nil
	}
	fresh := &Snapshot{GlobalKey: globalKey, Media: mediaRec, Metadata: metaRec, Progress: progressRec}
	s.snapshots[globalKey] = fresh
	return fresh
}

// Keys returns every global key currently present.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.mediaMap))
	for key := range s.mediaMap {
		keys = append(keys, key)
	}
	return keys
}

func (s *Store) recomputeLocked() {
	if s.derivedVersion == s.version {
		return
	}
	s.derived = ComputeDerived(s.mediaMap, s.metaMap, s.collator)
	s.derivedVersion = s.version
}

func (s *Store) listenersLocked() []Listener {
	out := make([]Listener, 0, len(s.listeners))
	for _, listener := range s.listeners {
		out = append(out, listener)
	}
	return out
}

func notify(listeners []Listener, event Event) {
	for _, listener := range listeners {
		listener(event)
	}
}
