package catchup

import (
	"io"
	"strconv"
	"time"

	"kptv-catchup/work/config"
	"kptv-catchup/work/logger"
	"kptv-catchup/work/metrics"
	"kptv-catchup/work/streamutils"
	"kptv-catchup/work/types"
	"kptv-catchup/work/utils"
)

const (
	// seeks closer than this to now snap to the live edge
	liveEdgeSeekMargin = 10
	// catchup URLs are only rendered for instants at least this far in the past
	liveEdgeURLMargin = 5

	testURLAge      = 2 * 60 * 60
	testURLDuration = 60 * 60
)

// Catalog is what the controller needs from the catalog store.
type Catalog interface {
	GetLiveEPGEntry(channel *types.Channel) (types.EpgEntry, bool)
	GetEPGEntry(channel *types.Channel, t int64) (types.EpgEntry, bool)
	SetDetectedMimeType(uid int, mime string)
	DetectedMimeType(uid int) (string, bool)
}

// Programme is the snapshot of the programme currently shown to the user.
type Programme struct {
	StartTime  int64  `json:"startTime"`
	EndTime    int64  `json:"endTime"`
	Title      string `json:"title"`
	ChannelUID int    `json:"channelUid"`
	TvgShift   int    `json:"tvgShift"`
}

// State is a read-only copy of the controller state.
type State struct {
	StreamType               string    `json:"streamType"`
	ControlsLiveStream       bool      `json:"controlsLiveStream"`
	ResetCatchupState        bool      `json:"resetCatchupState"`
	PlaybackIsVideo          bool      `json:"playbackIsVideo"`
	FromEpgTag               bool      `json:"fromEpgTag"`
	CatchupStartTime         int64     `json:"catchupStartTime"`
	CatchupEndTime           int64     `json:"catchupEndTime"`
	TimeshiftBufferStartTime int64     `json:"timeshiftBufferStartTime"`
	TimeshiftBufferOffset    int64     `json:"timeshiftBufferOffset"`
	Programme                Programme `json:"programme"`
}

// Controller tracks the catchup window of one playback session. It is not
// safe for concurrent use; the owner serializes calls.
type Controller struct {
	cfg        *config.Config
	catalog    Catalog
	negotiator *streamutils.Negotiator
	formatter  *TimeFormatter
	now        func() time.Time

	streamType         types.StreamType
	controlsLiveStream bool

	catchupStartTime         int64
	catchupEndTime           int64
	timeshiftBufferStartTime int64
	timeshiftBufferOffset    int64
	resetCatchupState        bool
	playbackIsVideo          bool
	fromEpgTag               bool

	programme Programme
}

// NewController creates a controller for a fresh session: the first live
// playback computes its window from scratch.
func NewController(cfg *config.Config, catalog Catalog) *Controller {
	return &Controller{
		cfg:               cfg,
		catalog:           catalog,
		negotiator:        streamutils.NewNegotiator(cfg),
		formatter:         NewTimeFormatter(),
		now:               time.Now,
		resetCatchupState: true,
	}
}

// SetClock replaces the wall clock of the controller and its formatter.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
	c.formatter.now = now
}

// SetLocation sets the zone used for the calendar placeholders.
func (c *Controller) SetLocation(loc *time.Location) {
	c.formatter.loc = loc
}

// Negotiator returns the negotiator the controller classifies streams with.
func (c *Controller) Negotiator() *streamutils.Negotiator {
	return c.negotiator
}

// ControlsLiveStream reports whether the archive handler plays the stream, in
// which case the controller owns the timeshift window.
func (c *Controller) ControlsLiveStream() bool {
	return c.controlsLiveStream
}

// StreamType is the type recorded by the last Enter call.
func (c *Controller) StreamType() types.StreamType {
	return c.streamType
}

// PlayEpgAsLive reports whether EPG initiated playback of channel should use
// the timeshifted policy.
func (c *Controller) PlayEpgAsLive(channel *types.Channel) bool {
	return c.cfg.CatchupPlayEpgAsLive && channel.CatchupSupportsTimeshifting()
}

// IsEpgTagPlayable reports whether a guide programme can be played through
// catchup. The channel must support catchup and the programme must have
// started, or finished when catchupOnlyOnFinishedProgrammes is set.
func (c *Controller) IsEpgTagPlayable(tag types.EpgTag, channel *types.Channel) bool {
	if !channel.IsCatchupSupported() {
		return false
	}

	now := c.now().Unix()
	if c.cfg.CatchupOnlyOnFinishedProgrammes {
		return tag.EndTime <= now
	}
	return tag.StartTime <= now
}

// GetStreamTestUrl is the URL used to probe the stream type: a catchup
// request for two hours ago lasting one hour.
func (c *Controller) GetStreamTestUrl(channel *types.Channel) string {
	return c.buildEpgTagURL(c.now().Unix()-testURLAge, testURLDuration, channel, 0)
}

// StaticStreamType probes the test URL without network access. A mime type
// remembered from an earlier inspection is used before giving up.
//
// Returns:
//   - string: the test URL, for a caller that wants to inspect it over HTTP
//   - types.StreamType: the detected type, StreamTypeOther when unknown
func (c *Controller) StaticStreamType(channel *types.Channel) (string, types.StreamType) {
	testURL := c.GetStreamTestUrl(channel)
	st := streamutils.GetStreamType(testURL, channel)
	if st == types.StreamTypeOther {
		if mime, ok := c.catalog.DetectedMimeType(channel.UniqueID); ok {
			st = streamutils.StreamTypeForMime(mime)
		}
	}
	return testURL, st
}

// storeStreamType records st for the session, remembers the manifest mime
// type for channels that do not declare one and decides whether the archive
// handler owns the live stream.
func (c *Controller) storeStreamType(channel *types.Channel, st types.StreamType) {
	c.streamType = st

	if channel.Property(types.PropertyMimeType) == "" && (st == types.StreamTypeHLS || st == types.StreamTypeDASH) {
		c.catalog.SetDetectedMimeType(channel.UniqueID, streamutils.MimeType(st))
	}

	c.controlsLiveStream = c.negotiator.GetEffectiveInputStreamClass(st, channel) == types.InputStreamArchive
}

// EnterLivePlayback prepares the session for live playback of channel,
// already classified as st.
func (c *Controller) EnterLivePlayback(channel *types.Channel, st types.StreamType) {
	c.storeStreamType(channel, st)

	c.playbackIsVideo = false

	if !c.fromEpgTag || c.controlsLiveStream {
		if entry, ok := c.catalog.GetLiveEPGEntry(channel); ok {
			c.updateProgrammeFromEntry(entry, channel)
			c.catchupStartTime = entry.StartTime
			c.catchupEndTime = entry.EndTime
			logger.Debug("{catchup/controller - EnterLivePlayback} live programme %q starts at %d", entry.Title, entry.StartTime)
		} else if c.controlsLiveStream {
			c.programme = Programme{}
			c.catchupStartTime = 0
			c.catchupEndTime = 0
			logger.Debug("{catchup/controller - EnterLivePlayback} no live programme for %s", channel.Name)
		}
		c.fromEpgTag = false
	}

	if c.controlsLiveStream {
		if c.resetCatchupState {
			c.resetCatchupState = false
			if channel.IsCatchupSupported() {
				window := c.cfg.CatchupDaysInSeconds()
				c.timeshiftBufferOffset = window
				c.timeshiftBufferStartTime = c.now().Unix() - window
			} else {
				c.timeshiftBufferOffset = 0
				c.timeshiftBufferStartTime = 0
			}
		} else if entry, ok := c.catalog.GetEPGEntry(channel, c.timeshiftBufferStartTime+c.timeshiftBufferOffset); ok {
			c.updateProgrammeFromEntry(entry, channel)
		}

		c.catchupStartTime = c.timeshiftBufferStartTime
	}

	logger.Info("{catchup/controller - EnterLivePlayback} %s (%s): controlsLive=%v bufferStart=%d offset=%d",
		channel.Name, st, c.controlsLiveStream, c.timeshiftBufferStartTime, c.timeshiftBufferOffset)
}

// EnterCatchupFromEpgTag prepares the session to play a programme picked
// from the guide.
//
// With timeshifted set the programme is played inside a live-like window
// that reaches back at least the configured catchup period; otherwise it is
// played as a video with the configured pre and post roll. Either way the
// session counts as video playback once it has a catchup start.
func (c *Controller) EnterCatchupFromEpgTag(tag types.EpgTag, channel *types.Channel, st types.StreamType, timeshifted bool) {
	c.storeStreamType(channel, st)

	if timeshifted {
		c.enterTimeshifted(tag, channel)
	} else {
		c.enterVideo(tag, channel)
	}
	c.playbackIsVideo = c.catchupStartTime > 0

	logger.Info("{catchup/controller - EnterCatchupFromEpgTag} %s %q (%s, timeshifted=%v): start=%d end=%d bufferStart=%d offset=%d",
		channel.Name, tag.Title, st, timeshifted, c.catchupStartTime, c.catchupEndTime, c.timeshiftBufferStartTime, c.timeshiftBufferOffset)
}

func (c *Controller) enterTimeshifted(tag types.EpgTag, channel *types.Channel) {
	c.updateProgrammeFromTag(tag, channel)

	if c.controlsLiveStream {
		now := c.now().Unix()
		programmeOffset := now - tag.StartTime
		duration := max(programmeOffset, c.cfg.CatchupDaysInSeconds())

		c.timeshiftBufferStartTime = now - duration
		c.catchupStartTime = c.timeshiftBufferStartTime
		c.catchupEndTime = now
		c.timeshiftBufferOffset = duration - programmeOffset
		c.resetCatchupState = false
		return
	}

	// no seekable window and no pre/post roll in this branch
	c.catchupStartTime = tag.StartTime
	c.catchupEndTime = tag.EndTime
	c.timeshiftBufferStartTime = 0
	c.timeshiftBufferOffset = 0
	c.fromEpgTag = true
}

func (c *Controller) enterVideo(tag types.EpgTag, channel *types.Channel) {
	beginBuffer := c.cfg.CatchupWatchEpgBeginBufferSecs()
	endBuffer := c.cfg.CatchupWatchEpgEndBufferSecs()

	if c.controlsLiveStream {
		if c.resetCatchupState {
			c.updateProgrammeFromTag(tag, channel)
			c.timeshiftBufferStartTime = tag.StartTime - beginBuffer
			c.catchupStartTime = c.timeshiftBufferStartTime
			c.catchupEndTime = tag.EndTime + endBuffer
			c.timeshiftBufferOffset = beginBuffer
			c.resetCatchupState = false
		}
	} else {
		c.updateProgrammeFromTag(tag, channel)
		c.timeshiftBufferStartTime = 0
		c.timeshiftBufferOffset = 0
		c.catchupStartTime = tag.StartTime - beginBuffer
		c.catchupEndTime = tag.EndTime + endBuffer
	}
}

func (c *Controller) updateProgrammeFromEntry(entry types.EpgEntry, channel *types.Channel) {
	c.programme = Programme{
		StartTime:  entry.StartTime,
		EndTime:    entry.EndTime,
		Title:      entry.Title,
		ChannelUID: channel.UniqueID,
		TvgShift:   channel.TvgShift,
	}
}

func (c *Controller) updateProgrammeFromTag(tag types.EpgTag, channel *types.Channel) {
	c.programme = Programme{
		StartTime:  tag.StartTime,
		EndTime:    tag.EndTime,
		Title:      tag.Title,
		ChannelUID: tag.ChannelUID,
		TvgShift:   channel.TvgShift,
	}
}

// GetStreamTimes reports the seekable window in player time units.
//
// Returns:
//   - types.ErrInvalidParameters when times is nil
//   - types.ErrNotImplemented when no timeshift window is active
func (c *Controller) GetStreamTimes(times *types.StreamTimes) error {
	if times == nil {
		return types.ErrInvalidParameters
	}
	if c.timeshiftBufferStartTime == 0 {
		return types.ErrNotImplemented
	}

	now := c.now().Unix()
	*times = types.StreamTimes{StartTime: c.timeshiftBufferStartTime}
	if c.playbackIsVideo {
		times.PTSEnd = (min(now, c.catchupEndTime) - times.StartTime) * types.TimeBase
	} else {
		times.PTSEnd = (now - times.StartTime) * types.TimeBase
	}

	logger.Debug("{catchup/controller - GetStreamTimes} ch=%d title=%q start=%d end=%d ptsEnd=%d",
		c.programme.ChannelUID, c.programme.Title, c.catchupStartTime, c.catchupEndTime, times.PTSEnd)
	return nil
}

// GetLength returns the catchup segment length in player time units, or
// types.Unknown.
func (c *Controller) GetLength() int64 {
	if c.catchupStartTime > 0 && c.catchupEndTime >= c.catchupStartTime {
		return (c.catchupEndTime - c.catchupStartTime) * types.TimeBase
	}
	return types.Unknown
}

// Seek moves the buffer offset.
//
// With io.SeekStart, position (milliseconds) is rounded to the nearest
// second; positions within ten seconds of now snap to the live edge. With
// io.SeekCurrent the current offset is returned unchanged. Both return the
// resulting offset in player time units. Any other whence, or a session
// without a catchup window, yields types.Unknown and types.ErrUnsupported.
func (c *Controller) Seek(position int64, whence int) (int64, error) {
	if c.catchupStartTime <= 0 {
		return types.Unknown, types.ErrUnsupported
	}

	now := c.now().Unix()
	switch whence {
	case io.SeekStart:
		secs := (position + 500) / 1000
		if c.catchupStartTime+secs < now-liveEdgeSeekMargin {
			c.timeshiftBufferOffset = secs
		} else {
			c.timeshiftBufferOffset = now - c.catchupStartTime
		}
		logger.Debug("{catchup/controller - Seek} seek set: offset=%d", c.timeshiftBufferOffset)
		return c.timeshiftBufferOffset * types.TimeBase, nil

	case io.SeekCurrent:
		logger.Debug("{catchup/controller - Seek} seek cur: now=%d start=%d tvgShift=%d offset=%d",
			now, c.catchupStartTime, c.programme.TvgShift, c.timeshiftBufferOffset)
		return c.timeshiftBufferOffset * types.TimeBase, nil

	default:
		logger.Warn("{catchup/controller - Seek} unsupported seek whence %d", whence)
		return types.Unknown, types.ErrUnsupported
	}
}

// Close ends playback; the next live playback starts a new window.
func (c *Controller) Close() {
	c.resetCatchupState = true
	logger.Debug("{catchup/controller - Close} catchup state armed for reset")
}

// BuildPlaybackUrl renders the catchup URL for the current position, or
// returns "" when there is no catchup segment and the plain stream URL applies.
func (c *Controller) BuildPlaybackUrl(channel *types.Channel) string {
	if c.catchupStartTime <= 0 {
		return ""
	}
	duration := c.programme.EndTime - c.programme.StartTime
	return c.buildEpgTagURL(c.catchupStartTime, duration, channel, c.timeshiftBufferOffset)
}

// buildEpgTagURL renders the catchup template for start+timeOffset. Instants
// close to the live edge get the plain stream URL.
func (c *Controller) buildEpgTagURL(start, duration int64, channel *types.Channel, timeOffset int64) string {
	now := c.now().Unix()
	offset := start + timeOffset

	if start <= 0 || offset >= now-liveEdgeURLMargin {
		return channel.StreamURL
	}

	target := offset - int64(channel.TvgShift)

	var url string
	switch {
	case channel.CatchupSource != "" && channel.CatchupMode == types.CatchupModeDefault:
		url = c.formatter.FormatDateTime(target, duration, channel.CatchupSource, "")
	case channel.CatchupSource != "":
		url = c.formatter.FormatDateTime(target, duration, channel.StreamURL, channel.CatchupSource)
	default:
		url = c.formatter.FormatDateTime(target, duration, channel.StreamURL, c.cfg.CatchupQueryFormat)
	}

	metrics.CatchupURLsBuilt.WithLabelValues(channel.CatchupMode.String()).Inc()
	logger.Debug("{catchup/controller - buildEpgTagURL} %s", utils.LogURL(c.cfg, url))
	return url
}

// CatchupProperties are the archive handler properties describing the
// current window. They are empty unless the controller owns the live stream.
func (c *Controller) CatchupProperties(channel *types.Channel) []types.StreamProperty {
	if !c.controlsLiveStream || c.timeshiftBufferStartTime == 0 {
		return nil
	}

	itoa := func(v int64) string { return strconv.FormatInt(v, 10) }
	mode := "timeshift"
	if c.playbackIsVideo {
		mode = "catchup"
	}

	return []types.StreamProperty{
		{Name: "inputstream.ffmpegdirect.stream_mode", Value: mode},
		{Name: "inputstream.ffmpegdirect.is_realtime_stream", Value: strconv.FormatBool(!c.playbackIsVideo)},
		{Name: "inputstream.ffmpegdirect.catchup_buffer_start_time", Value: itoa(c.timeshiftBufferStartTime)},
		{Name: "inputstream.ffmpegdirect.catchup_buffer_end_time", Value: itoa(c.catchupEndTime)},
		{Name: "inputstream.ffmpegdirect.catchup_buffer_offset", Value: itoa(c.timeshiftBufferOffset)},
		{Name: "inputstream.ffmpegdirect.timezone_shift", Value: strconv.Itoa(channel.TvgShift)},
	}
}

// Snapshot returns a copy of the controller state.
func (c *Controller) Snapshot() State {
	return State{
		StreamType:               c.streamType.String(),
		ControlsLiveStream:       c.controlsLiveStream,
		ResetCatchupState:        c.resetCatchupState,
		PlaybackIsVideo:          c.playbackIsVideo,
		FromEpgTag:               c.fromEpgTag,
		CatchupStartTime:         c.catchupStartTime,
		CatchupEndTime:           c.catchupEndTime,
		TimeshiftBufferStartTime: c.timeshiftBufferStartTime,
		TimeshiftBufferOffset:    c.timeshiftBufferOffset,
		Programme:                c.programme,
	}
}
