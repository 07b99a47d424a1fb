package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"kptv-catchup/work/catalog"
	"kptv-catchup/work/config"
	"kptv-catchup/work/database"
	"kptv-catchup/work/filter"
	"kptv-catchup/work/logger"
	"kptv-catchup/work/metrics"
	"kptv-catchup/work/parser"
	"kptv-catchup/work/types"
	"kptv-catchup/work/utils"
)

// guideLookahead is how far into the future programmes are kept.
const guideLookahead int64 = 7 * 24 * 60 * 60

// Fetcher loads a playlist, guide or genre file by path or URL.
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// History records imports and prunes detections of removed channels.
// *database.DB satisfies it.
type History interface {
	RecordImport(row database.ImportRow) error
	DeleteStreamTypesNotIn(uids []int) (int64, error)
}

// Importer loads the playlist, the guide and the genre map and publishes
// them to the catalog as one snapshot.
type Importer struct {
	cfg      *config.Config
	fetcher  Fetcher
	store    *catalog.Store
	history  History
	filters  *filter.CompiledFilter
	now      func() time.Time
	onReload []func(snap *catalog.Snapshot)

	mu         sync.Mutex // one import at a time
	stopChan   chan bool
	lastError  error
	lastImport time.Time
}

// New creates an importer. history may be nil.
func New(cfg *config.Config, fetcher Fetcher, store *catalog.Store, history History) *Importer {
	return &Importer{
		cfg:      cfg,
		fetcher:  fetcher,
		store:    store,
		history:  history,
		filters:  filter.Compile(cfg.Filters),
		now:      time.Now,
		stopChan: make(chan bool, 1),
	}
}

// SetClock replaces the wall clock used for the guide window.
func (im *Importer) SetClock(now func() time.Time) {
	im.now = now
}

// OnReload registers fn to run after every published snapshot.
func (im *Importer) OnReload(fn func(snap *catalog.Snapshot)) {
	im.onReload = append(im.onReload, fn)
}

// LastImport returns when the last import finished and its error, if any.
func (im *Importer) LastImport() (time.Time, error) {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.lastImport, im.lastError
}

// Import runs one full import.
//
// Process:
//   - fetch and parse the playlist; failure keeps the previous catalog
//   - drop channels rejected by the configured filters
//   - fetch and parse the genre map, if configured
//   - fetch and parse the guide for the catchup window, if configured
//   - apply guide logos, publish the snapshot and record the import
//
// Genre and guide failures are logged and leave the catalog without them.
func (im *Importer) Import(ctx context.Context) (*catalog.Snapshot, error) {
	im.mu.Lock()
	defer im.mu.Unlock()

	started := im.now()
	logger.Info("{importer/importer - Import} starting import of %s", utils.LogURL(im.cfg, im.cfg.M3UPath))

	snap, err := im.load(ctx)

	row := database.ImportRow{StartedAt: started, Duration: im.now().Sub(started)}
	im.lastImport = im.now()
	im.lastError = err

	if err != nil {
		metrics.CatalogReloads.WithLabelValues("error").Inc()
		logger.Error("{importer/importer - Import} import failed: %v", err)
		row.Error = err.Error()
		im.record(row, nil)
		return nil, err
	}

	im.store.Replace(snap)
	metrics.CatalogReloads.WithLabelValues("success").Inc()

	row.Success = true
	row.Channels = len(snap.Channels)
	row.Groups = len(snap.Groups)
	row.EpgChannels = len(snap.Epgs)
	for i := range snap.Epgs {
		row.Programmes += len(snap.Epgs[i].Entries)
	}
	im.record(row, snap.Channels)

	for _, fn := range im.onReload {
		fn(snap)
	}

	logger.Info("{importer/importer - Import} import finished in %s", row.Duration.Round(time.Millisecond))
	return snap, nil
}

func (im *Importer) load(ctx context.Context) (*catalog.Snapshot, error) {
	if im.cfg.M3UPath == "" {
		return nil, fmt.Errorf("no playlist configured: %w", types.ErrInvalidParameters)
	}

	data, err := im.fetcher.Fetch(ctx, im.cfg.M3UPath)
	if err != nil {
		return nil, err
	}

	playlist, err := parser.ParsePlaylist(bytes.NewReader(data), parser.PlaylistOptions{
		StartNumber: im.cfg.StartNumber,
		LogoPath:    im.cfg.LogoPath,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to parse playlist: %w", err)
	}

	channels, groups := filter.Channels(playlist.Channels, playlist.Groups, im.filters)
	if len(channels) == 0 {
		return nil, fmt.Errorf("all channels filtered out: %w", parser.ErrNoChannels)
	}

	snap := &catalog.Snapshot{
		Channels: channels,
		Groups:   groups,
		Genres:   im.loadGenres(ctx),
		Epgs:     im.loadGuide(ctx, channels),
	}

	if n := parser.ApplyEpgLogos(snap.Channels, snap.Epgs, im.cfg.EpgLogos); n > 0 {
		logger.Debug("{importer/importer - load} applied %d guide logos", n)
	}

	return snap, nil
}

func (im *Importer) loadGenres(ctx context.Context) []types.EpgGenre {
	if im.cfg.GenresPath == "" {
		return nil
	}

	data, err := im.fetcher.Fetch(ctx, im.cfg.GenresPath)
	if err != nil {
		logger.Warn("{importer/importer - loadGenres} %v", err)
		return nil
	}

	genres, err := parser.ParseGenres(bytes.NewReader(data))
	if err != nil {
		logger.Warn("{importer/importer - loadGenres} unable to parse genres: %v", err)
		return nil
	}
	logger.Debug("{importer/importer - loadGenres} loaded %d genres", len(genres))
	return genres
}

func (im *Importer) loadGuide(ctx context.Context, channels []types.Channel) []types.ChannelEpg {
	if im.cfg.EpgPath == "" {
		return nil
	}

	data, err := im.fetcher.Fetch(ctx, im.cfg.EpgPath)
	if err != nil {
		logger.Warn("{importer/importer - loadGuide} %v", err)
		return nil
	}

	now := im.now().Unix()
	epgs, err := parser.ParseXMLTV(bytes.NewReader(data), channels, parser.GuideOptions{
		Start:        now - im.cfg.CatchupDaysInSeconds(),
		End:          now + guideLookahead,
		EpgTimeShift: im.cfg.EpgTimeShiftSecs(),
		TsOverride:   im.cfg.TsOverride,
	})
	if errors.Is(err, parser.ErrNoGuideChannels) {
		logger.Warn("{importer/importer - loadGuide} guide has no channels matching the playlist")
		return nil
	}
	if err != nil {
		logger.Warn("{importer/importer - loadGuide} unable to parse guide: %v", err)
		return nil
	}
	return epgs
}

func (im *Importer) record(row database.ImportRow, channels []types.Channel) {
	if im.history == nil {
		return
	}

	if err := im.history.RecordImport(row); err != nil {
		logger.Warn("{importer/importer - record} %v", err)
	}

	if !row.Success {
		return
	}

	uids := make([]int, len(channels))
	for i := range channels {
		uids[i] = channels[i].UniqueID
	}
	removed, err := im.history.DeleteStreamTypesNotIn(uids)
	if err != nil {
		logger.Warn("{importer/importer - record} %v", err)
		return
	}
	if removed > 0 {
		logger.Debug("{importer/importer - record} pruned %d stream types of removed channels", removed)
	}
}

// StartRefresh re-imports every ImportRefreshInterval until StopRefresh is
// called or ctx is done.
func (im *Importer) StartRefresh(ctx context.Context) {
	logger.Debug("{importer/importer - StartRefresh} starting import refresh loop (interval: %s)", im.cfg.ImportRefreshInterval)

	ticker := time.NewTicker(im.cfg.ImportRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("{importer/importer - StartRefresh} context done, refresh loop stopped")
			return
		case <-im.stopChan:
			logger.Debug("{importer/importer - StartRefresh} import refresh loop stopped")
			return
		case <-ticker.C:
			logger.Debug("{importer/importer - StartRefresh} triggering scheduled import")
			im.Import(ctx)
		}
	}
}

// StopRefresh signals the refresh loop to stop without blocking.
func (im *Importer) StopRefresh() {
	select {
	case im.stopChan <- true:
	default:
		logger.Warn("{importer/importer - StopRefresh} stop channel already full, refresh loop may have already stopped")
	}
}
