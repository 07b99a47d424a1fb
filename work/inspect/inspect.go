package inspect

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gabriel-vasile/mimetype"
	"github.com/grafov/m3u8"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/ratelimit"
	"golang.org/x/sync/singleflight"

	"kptv-catchup/work/cache"
	"kptv-catchup/work/client"
	"kptv-catchup/work/config"
	"kptv-catchup/work/database"
	"kptv-catchup/work/logger"
	"kptv-catchup/work/metrics"
	"kptv-catchup/work/streamutils"
	"kptv-catchup/work/types"
	"kptv-catchup/work/utils"
)

// Store persists detections across restarts. *database.DB satisfies it.
type Store interface {
	GetStreamType(channelUID int) (database.StreamTypeRow, error)
	SaveStreamType(row database.StreamTypeRow) error
}

// MimeRecorder remembers the manifest mime type detected for a channel.
type MimeRecorder interface {
	SetDetectedMimeType(uid int, mime string)
}

// Prober returns the test URL for a channel and its statically detected type.
type Prober func(channel *types.Channel) (string, types.StreamType)

// Inspector classifies streams whose type cannot be derived from the URL or
// the channel properties by fetching the first bytes of the resource.
// Results are cached per channel, persisted when a Store is configured, and
// concurrent requests for the same channel share one fetch.
type Inspector struct {
	cfg     *config.Config
	client  *client.HeaderSettingClient
	results *cache.Cache[types.StreamType]
	limiter ratelimit.Limiter
	group   singleflight.Group
	store   Store
	pool    *ants.Pool
}

// New creates an inspector. store and pool may be nil; without a pool WarmUp
// is a no-op.
func New(cfg *config.Config, httpClient *client.HeaderSettingClient, store Store, pool *ants.Pool) *Inspector {
	return &Inspector{
		cfg:     cfg,
		client:  httpClient,
		results: cache.NewCache[types.StreamType](cfg.InspectCacheDuration, 0),
		limiter: ratelimit.New(cfg.InspectRatePerSecond),
		store:   store,
		pool:    pool,
	}
}

// Inspect returns the stream type of url for channel.
//
// Process:
//   - in-memory cache, keyed by channel
//   - persisted detection from the store
//   - rate limited HTTP fetch of the first InspectPrefixBytes
//
// A failed fetch is not cached, so the next call tries again. Shift based
// channels still resolve to TS in that case.
func (i *Inspector) Inspect(ctx context.Context, url string, channel *types.Channel) types.StreamType {
	key := strconv.Itoa(channel.UniqueID)

	if st, ok := i.results.Get(key); ok {
		metrics.StreamInspections.WithLabelValues("cache", st.String()).Inc()
		return st
	}

	if i.store != nil {
		row, err := i.store.GetStreamType(channel.UniqueID)
		if err == nil {
			i.results.Set(key, row.StreamType)
			metrics.StreamInspections.WithLabelValues("database", row.StreamType.String()).Inc()
			return row.StreamType
		}
		if !errors.Is(err, types.ErrNotFound) {
			logger.Warn("{inspect/inspect - Inspect} failed to read stored type for %s: %v", channel.Name, err)
		}
	}

	v, _, _ := i.group.Do(key, func() (interface{}, error) {
		return i.fetch(ctx, url, channel), nil
	})
	return v.(types.StreamType)
}

func (i *Inspector) fetch(ctx context.Context, url string, channel *types.Channel) types.StreamType {
	i.limiter.Take()

	status, body, err := i.client.FetchUrlHead(ctx, url, i.cfg.InspectPrefixBytes)
	if err != nil {
		logger.Warn("{inspect/inspect - fetch} unable to inspect %s: %v", utils.LogURL(i.cfg, url), err)
		st := streamutils.ClassifyPrefix(nil, 0, channel)
		metrics.StreamInspections.WithLabelValues("error", st.String()).Inc()
		return st
	}

	st := streamutils.ClassifyPrefix(body, status, channel)
	contentType := mimetype.Detect(body).String()

	if st == types.StreamTypeHLS {
		logHLSKind(body, channel)
	}

	logger.Debug("{inspect/inspect - fetch} %s: status %d, content %s -> %s", channel.Name, status, contentType, st)

	i.results.Set(strconv.Itoa(channel.UniqueID), st)
	metrics.StreamInspections.WithLabelValues("network", st.String()).Inc()

	if i.store != nil {
		row := database.StreamTypeRow{
			ChannelUID:  channel.UniqueID,
			ChannelName: channel.Name,
			TestURL:     url,
			StreamType:  st,
			MimeType:    streamutils.MimeType(st),
			ContentType: contentType,
		}
		if err := i.store.SaveStreamType(row); err != nil {
			logger.Warn("{inspect/inspect - fetch} failed to persist type for %s: %v", channel.Name, err)
		}
	}

	return st
}

// logHLSKind reports whether the sniffed playlist is a master or a media
// playlist. The prefix is usually truncated so a decode error is expected
// for long playlists and only logged at debug.
func logHLSKind(body []byte, channel *types.Channel) {
	_, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		logger.Debug("{inspect/inspect - logHLSKind} %s: partial playlist not decodable: %v", channel.Name, err)
		return
	}

	switch listType {
	case m3u8.MASTER:
		logger.Debug("{inspect/inspect - logHLSKind} %s: HLS master playlist", channel.Name)
	case m3u8.MEDIA:
		logger.Debug("{inspect/inspect - logHLSKind} %s: HLS media playlist", channel.Name)
	}
}

// Reset drops every cached detection, typically after a catalog reload.
func (i *Inspector) Reset() {
	i.results.Clear()
}

// WarmUp detects the stream type of every channel that cannot be classified
// statically, using the shared worker pool. HLS and DASH results are handed
// to mimes for channels that declare no mime type, so later sessions skip
// inspection. It blocks until every submitted channel is done and returns
// how many channels were inspected.
func (i *Inspector) WarmUp(ctx context.Context, channels []types.Channel, probe Prober, mimes MimeRecorder) int {
	if i.pool == nil {
		return 0
	}

	var (
		wg        sync.WaitGroup
		inspected atomic.Int64
	)

	for idx := range channels {
		if ctx.Err() != nil {
			break
		}

		channel := &channels[idx]
		testURL, st := probe(channel)
		if st != types.StreamTypeOther {
			metrics.StreamInspections.WithLabelValues("static", st.String()).Inc()
			continue
		}

		wg.Add(1)
		err := i.pool.Submit(func() {
			defer wg.Done()

			detected := i.Inspect(ctx, testURL, channel)
			inspected.Add(1)

			if channel.Property(types.PropertyMimeType) == "" &&
				(detected == types.StreamTypeHLS || detected == types.StreamTypeDASH) {
				mimes.SetDetectedMimeType(channel.UniqueID, streamutils.MimeType(detected))
			}
		})
		if err != nil {
			wg.Done()
			logger.Warn("{inspect/inspect - WarmUp} failed to submit %s: %v", channel.Name, err)
		}
	}

	wg.Wait()

	logger.Info("{inspect/inspect - WarmUp} inspected %d of %d channels", inspected.Load(), len(channels))
	return int(inspected.Load())
}
