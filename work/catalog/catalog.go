package catalog

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"kptv-catchup/work/config"
	"kptv-catchup/work/logger"
	"kptv-catchup/work/metrics"
	"kptv-catchup/work/parser"
	"kptv-catchup/work/types"
)

// Snapshot is one immutable version of the catalog. Readers hold on to a
// snapshot for as long as they need it; a reload publishes a new one.
type Snapshot struct {
	Version  uint64
	LoadedAt time.Time
	Channels []types.Channel
	Groups   []types.ChannelGroup
	Epgs     []types.ChannelEpg
	Genres   []types.EpgGenre
}

// Store holds the current catalog snapshot and the per-channel facts learned
// at runtime (detected mime types).
type Store struct {
	mu         sync.Mutex // serializes Replace
	current    atomic.Pointer[Snapshot]
	epgShift   int64
	tsOverride bool
	now        func() time.Time

	mimeTypes *xsync.MapOf[int, string]
}

// New creates an empty store using the guide shift settings from cfg.
func New(cfg *config.Config) *Store {
	s := &Store{
		epgShift:   int64(cfg.EpgTimeShiftSecs()),
		tsOverride: cfg.TsOverride,
		now:        time.Now,
		mimeTypes:  xsync.NewMapOf[int, string](),
	}
	s.current.Store(&Snapshot{})
	return s
}

// SetClock replaces the wall clock used by GetLiveEPGEntry.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Replace publishes a new catalog. The previous snapshot stays valid for any
// reader still holding it. Detected mime types belong to the old channel set
// and are dropped.
func (s *Store) Replace(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()
	snap.Version = prev.Version + 1
	if snap.LoadedAt.IsZero() {
		snap.LoadedAt = s.now()
	}
	s.current.Store(snap)
	s.mimeTypes.Clear()

	entries := 0
	for i := range snap.Epgs {
		entries += len(snap.Epgs[i].Entries)
	}
	metrics.CatalogChannels.Set(float64(len(snap.Channels)))
	metrics.CatalogGroups.Set(float64(len(snap.Groups)))
	metrics.CatalogEpgEntries.Set(float64(entries))

	logger.Info("{catalog/catalog - Replace} published catalog v%d: %d channels, %d groups, %d guide channels, %d programmes",
		snap.Version, len(snap.Channels), len(snap.Groups), len(snap.Epgs), entries)
}

// Snapshot returns the current catalog. It is never nil.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Channels returns the channels of the current snapshot.
func (s *Store) Channels() []types.Channel {
	return s.Snapshot().Channels
}

// Groups returns the channel groups of the current snapshot.
func (s *Store) Groups() []types.ChannelGroup {
	return s.Snapshot().Groups
}

// GetChannel looks a channel up by unique id.
func (s *Store) GetChannel(uid int) (types.Channel, bool) {
	snap := s.Snapshot()
	for i := range snap.Channels {
		if snap.Channels[i].UniqueID == uid {
			return snap.Channels[i], true
		}
	}
	return types.Channel{}, false
}

// FindChannel finds a channel by tvg-id, tvg-name or name, in that order per channel.
func (s *Store) FindChannel(id, name string) (types.Channel, bool) {
	ch := parser.FindChannel(s.Snapshot().Channels, id, name)
	if ch == nil {
		return types.Channel{}, false
	}
	return *ch, true
}

// FindEpgForChannel returns the guide channel carrying the programmes for channel.
func (s *Store) FindEpgForChannel(channel *types.Channel) (types.ChannelEpg, bool) {
	epg := parser.FindEpgForChannel(s.Snapshot().Epgs, channel)
	if epg == nil {
		return types.ChannelEpg{}, false
	}
	return *epg, true
}

// ShiftFor returns the number of seconds added to guide times for channel.
func (s *Store) ShiftFor(channel *types.Channel) int64 {
	if s.tsOverride {
		return s.epgShift
	}
	return int64(channel.TvgShift) + s.epgShift
}

// GetLiveEPGEntry returns the programme airing now on channel.
func (s *Store) GetLiveEPGEntry(channel *types.Channel) (types.EpgEntry, bool) {
	return s.GetEPGEntry(channel, s.now().Unix())
}

// GetEPGEntry returns the programme airing at t on channel. The returned entry
// carries shifted start and end times.
func (s *Store) GetEPGEntry(channel *types.Channel, t int64) (types.EpgEntry, bool) {
	epg := parser.FindEpgForChannel(s.Snapshot().Epgs, channel)
	if epg == nil {
		return types.EpgEntry{}, false
	}

	shift := s.ShiftFor(channel)
	for _, entry := range epg.Entries {
		if entry.StartTime+shift <= t && t < entry.EndTime+shift {
			entry.StartTime += shift
			entry.EndTime += shift
			return entry, true
		}
	}
	return types.EpgEntry{}, false
}

// GetEPGForChannel returns the programmes of the channel with the given uid
// that overlap [start, end], shifted and with genres resolved.
//
// Parameters:
//   - uid: channel unique id
//   - start, end: window in UTC seconds
//
// Returns:
//   - []types.EpgEntry: programmes in guide order, possibly empty
//   - error: types.ErrNotFound when no channel has that uid
func (s *Store) GetEPGForChannel(uid int, start, end int64) ([]types.EpgEntry, error) {
	snap := s.Snapshot()

	var channel *types.Channel
	for i := range snap.Channels {
		if snap.Channels[i].UniqueID == uid {
			channel = &snap.Channels[i]
			break
		}
	}
	if channel == nil {
		return nil, types.ErrNotFound
	}

	epg := parser.FindEpgForChannel(snap.Epgs, channel)
	if epg == nil {
		return []types.EpgEntry{}, nil
	}

	shift := s.ShiftFor(channel)
	out := make([]types.EpgEntry, 0)
	for _, entry := range epg.Entries {
		if entry.EndTime+shift < start {
			continue
		}

		tag := entry
		tag.ChannelID = uid
		tag.StartTime += shift
		tag.EndTime += shift
		applyGenre(&tag, snap.Genres)
		out = append(out, tag)

		if entry.StartTime+shift > end {
			break
		}
	}
	return out, nil
}

// applyGenre fills the numeric genre from the genre table, falling back to the
// free-text genre string when nothing matches.
func applyGenre(entry *types.EpgEntry, genres []types.EpgGenre) {
	if g, ok := parser.LookupGenre(genres, entry.GenreString); ok {
		entry.GenreType = g.Type
		entry.GenreSubType = g.SubType
		return
	}
	entry.GenreType = types.GenreUseString
	entry.GenreSubType = 0
}

// SetDetectedMimeType remembers the manifest mime type detected for a channel.
func (s *Store) SetDetectedMimeType(uid int, mime string) {
	s.mimeTypes.Store(uid, mime)
}

// DetectedMimeType returns the mime type recorded by SetDetectedMimeType.
func (s *Store) DetectedMimeType(uid int) (string, bool) {
	return s.mimeTypes.Load(uid)
}
