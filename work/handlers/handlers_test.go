package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kptv-catchup/work/catalog"
	"kptv-catchup/work/config"
	"kptv-catchup/work/session"
	"kptv-catchup/work/types"
)

const testNow int64 = 1600000000

func newRouter(t *testing.T) (*mux.Router, *session.Manager) {
	t.Helper()

	cfg := config.Default()
	cfg.CatchupDays = 1
	clock := func() time.Time { return time.Unix(testNow, 0) }

	store := catalog.New(cfg)
	store.SetClock(clock)
	store.Replace(&catalog.Snapshot{
		Channels: []types.Channel{{
			UniqueID:      10,
			Number:        1,
			Name:          "Archive",
			TvgID:         "archive.uk",
			StreamURL:     "http://example.com/live.m3u8",
			CatchupMode:   types.CatchupModeDefault,
			CatchupSource: "http://example.com/archive/{utc}/{duration}.m3u8",
			Groups:        []int{1},
		}},
		Groups: []types.ChannelGroup{{ID: 1, Name: "News", Members: []int{0}}},
		Epgs: []types.ChannelEpg{{
			ID:          "archive.uk",
			DisplayName: "Archive",
			Entries: []types.EpgEntry{
				{StartTime: testNow - 7200, EndTime: testNow - 3600, Title: "Film"},
				{StartTime: testNow - 600, EndTime: testNow + 600, Title: "News"},
			},
		}},
	})

	sessions := session.NewManager(cfg, store, nil)
	sessions.SetClock(clock)

	router := mux.NewRouter()
	RegisterRoutes(router, store, sessions, nil)
	return router, sessions
}

func do(router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestChannelRoutes(t *testing.T) {
	router, _ := newRouter(t)

	rec := do(router, http.MethodGet, "/api/channels", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var channels []types.Channel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &channels))
	require.Len(t, channels, 1)
	assert.Equal(t, "Archive", channels[0].Name)

	rec = do(router, http.MethodGet, "/api/channels/10", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, http.MethodGet, "/api/channels/11", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(router, http.MethodGet, "/api/groups", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"News"`)
}

func TestChannelEpgRoute(t *testing.T) {
	router, _ := newRouter(t)

	rec := do(router, http.MethodGet, "/api/channels/10/epg", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []types.EpgEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Len(t, entries, 2)

	rec = do(router, http.MethodGet, "/api/channels/10/epg?start=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodGet, "/api/channels/99/epg", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionLifecycle(t *testing.T) {
	router, sessions := newRouter(t)

	rec := do(router, http.MethodPost, "/api/sessions", `{"channelUid":10}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var pb session.Playback
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pb))
	require.NotEmpty(t, pb.SessionID)
	assert.Equal(t, "hls", pb.StreamType)
	assert.True(t, pb.State.ControlsLiveStream)
	assert.NotEmpty(t, pb.Properties)

	base := "/api/sessions/" + pb.SessionID

	rec = do(router, http.MethodGet, base+"/times", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var times types.StreamTimes
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &times))
	assert.Equal(t, testNow-86400, times.StartTime)

	rec = do(router, http.MethodPost, base+"/seek", `{"position":3600000,"whence":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http://example.com/archive/")

	rec = do(router, http.MethodPost, base+"/seek", `{"position":0,"whence":2}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, base+"/epg", `{"startTime":1599992800,"endTime":1599996400,"title":"Film","timeshifted":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pb))
	assert.True(t, pb.State.PlaybackIsVideo)

	rec = do(router, http.MethodGet, base+"/length", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"length":4800000000}`, rec.Body.String())

	rec = do(router, http.MethodPost, base+"/live", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, sessions.Count())

	rec = do(router, http.MethodGet, base, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartSessionFromEpg(t *testing.T) {
	router, _ := newRouter(t)

	rec := do(router, http.MethodPost, "/api/sessions", `{"channelUid":10,"epg":{"startTime":1599992800,"endTime":1599996400,"title":"Film"},"timeshifted":false}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var pb session.Playback
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pb))
	assert.Equal(t, "Film", pb.State.Programme.Title)
	assert.True(t, pb.State.PlaybackIsVideo)
}

func TestStartSessionErrors(t *testing.T) {
	router, _ := newRouter(t)

	rec := do(router, http.MethodPost, "/api/sessions", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/api/sessions", `{"channelUid":99}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
