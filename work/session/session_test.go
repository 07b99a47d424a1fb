package session

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kptv-catchup/work/catalog"
	"kptv-catchup/work/config"
	"kptv-catchup/work/types"
)

const testNow int64 = 1600000000

type stubInspector struct {
	st    types.StreamType
	calls int
}

func (s *stubInspector) Inspect(ctx context.Context, url string, channel *types.Channel) types.StreamType {
	s.calls++
	return s.st
}

func clock() time.Time { return time.Unix(testNow, 0) }

func newTestManager(t *testing.T, inspector Inspector) *Manager {
	t.Helper()

	cfg := config.Default()
	cfg.CatchupDays = 1

	store := catalog.New(cfg)
	store.SetClock(clock)
	store.Replace(&catalog.Snapshot{
		Channels: []types.Channel{
			{
				UniqueID:      1,
				Name:          "Archive",
				TvgID:         "archive.uk",
				StreamURL:     "http://example.com/live.m3u8",
				CatchupMode:   types.CatchupModeDefault,
				CatchupSource: "http://example.com/archive/{utc}/{duration}.m3u8",
			},
			{UniqueID: 2, Name: "Mystery", StreamURL: "http://example.com/stream"},
		},
		Epgs: []types.ChannelEpg{
			{
				ID:          "archive.uk",
				DisplayName: "Archive",
				Entries: []types.EpgEntry{
					{StartTime: testNow - 7200, EndTime: testNow - 3600, Title: "Film"},
					{StartTime: testNow - 600, EndTime: testNow + 600, Title: "News"},
				},
			},
		},
	})

	m := NewManager(cfg, store, inspector)
	m.SetClock(clock)
	return m
}

func TestStartLiveOwnsWindow(t *testing.T) {
	m := newTestManager(t, nil)

	pb, err := m.StartLive(context.Background(), 1)
	require.NoError(t, err)

	assert.NotEmpty(t, pb.SessionID)
	assert.Equal(t, "hls", pb.StreamType)
	assert.Equal(t, "http://example.com/live.m3u8", pb.URL)
	assert.True(t, pb.State.ControlsLiveStream)
	assert.Equal(t, testNow-86400, pb.State.TimeshiftBufferStartTime)
	assert.Equal(t, "News", pb.State.Programme.Title)
	assert.Equal(t, 1, m.Count())

	times, err := m.Times(pb.SessionID)
	require.NoError(t, err)
	assert.Equal(t, testNow-86400, times.StartTime)

	pos, url, err := m.Seek(pb.SessionID, 3600*1000, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, 3600*types.TimeBase, pos)
	assert.Contains(t, url, "http://example.com/archive/")

	require.NoError(t, m.Close(pb.SessionID))
	assert.Zero(t, m.Count())

	_, err = m.Times(pb.SessionID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestStartLiveUnknownChannel(t *testing.T) {
	m := newTestManager(t, nil)
	_, err := m.StartLive(context.Background(), 99)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Zero(t, m.Count())
}

func TestStartLiveInspectsUnknownStreams(t *testing.T) {
	inspector := &stubInspector{st: types.StreamTypeDASH}
	m := newTestManager(t, inspector)

	pb, err := m.StartLive(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, inspector.calls)
	assert.Equal(t, "dash", pb.StreamType)
	assert.False(t, pb.State.ControlsLiveStream)

	// archive channel is classified from its URL
	_, err = m.StartLive(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, inspector.calls)
}

func TestStartEpgVideo(t *testing.T) {
	m := newTestManager(t, nil)
	video := false

	pb, err := m.StartEpg(context.Background(), types.EpgTag{
		ChannelUID: 1,
		StartTime:  testNow - 7200,
		EndTime:    testNow - 3600,
		Title:      "Film",
	}, &video)
	require.NoError(t, err)

	assert.True(t, pb.State.PlaybackIsVideo)
	assert.Contains(t, pb.URL, "http://example.com/archive/")

	length, err := m.Length(pb.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(3600+5*60+15*60)*types.TimeBase, length)

	// back to live on the same session
	live, err := m.Live(context.Background(), pb.SessionID)
	require.NoError(t, err)
	assert.Equal(t, pb.SessionID, live.SessionID)
	assert.False(t, live.State.PlaybackIsVideo)
}

func TestStartEpgRejectsBadTag(t *testing.T) {
	m := newTestManager(t, nil)

	_, err := m.StartEpg(context.Background(), types.EpgTag{ChannelUID: 1, StartTime: 100, EndTime: 50}, nil)
	assert.ErrorIs(t, err, types.ErrInvalidParameters)
	assert.Zero(t, m.Count())

	pb, err := m.StartLive(context.Background(), 1)
	require.NoError(t, err)
	_, err = m.PlayEpg(context.Background(), pb.SessionID, types.EpgTag{ChannelUID: 2, StartTime: 1, EndTime: 2}, nil)
	assert.ErrorIs(t, err, types.ErrInvalidParameters)
}

func TestStartEpgRejectsUnplayableProgrammes(t *testing.T) {
	m := newTestManager(t, nil)

	// not started yet
	_, err := m.StartEpg(context.Background(), types.EpgTag{ChannelUID: 1, StartTime: testNow + 600, EndTime: testNow + 1200, Title: "Later"}, nil)
	assert.ErrorIs(t, err, types.ErrUnsupported)

	// no catchup on the channel
	_, err = m.StartEpg(context.Background(), types.EpgTag{ChannelUID: 2, StartTime: testNow - 7200, EndTime: testNow - 3600}, nil)
	assert.ErrorIs(t, err, types.ErrUnsupported)
	assert.Zero(t, m.Count())

	running := types.EpgTag{ChannelUID: 1, StartTime: testNow - 600, EndTime: testNow + 600, Title: "News"}
	pb, err := m.StartEpg(context.Background(), running, nil)
	require.NoError(t, err)
	require.NoError(t, m.Close(pb.SessionID))

	m.cfg.CatchupOnlyOnFinishedProgrammes = true
	_, err = m.StartEpg(context.Background(), running, nil)
	assert.ErrorIs(t, err, types.ErrUnsupported)
	assert.Zero(t, m.Count())
}

func TestCloseAll(t *testing.T) {
	m := newTestManager(t, nil)
	for i := 0; i < 3; i++ {
		_, err := m.StartLive(context.Background(), 1)
		require.NoError(t, err)
	}
	require.Equal(t, 3, m.Count())

	m.CloseAll()
	assert.Zero(t, m.Count())
}
