package streamutils

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kptv-catchup/work/config"
	"kptv-catchup/work/types"
)

func TestGetStreamTypePrecedence(t *testing.T) {
	tests := []struct {
		name  string
		url   string
		props map[string]string
		want  types.StreamType
	}{
		{"m3u8 suffix", "http://x/live.m3u8", nil, types.StreamTypeHLS},
		{"hls mime", "http://x/live", map[string]string{"mimetype": MimeHLSApple}, types.StreamTypeHLS},
		{"hls url beats dash mime", "http://x/live.m3u8", map[string]string{"mimetype": MimeDASH}, types.StreamTypeHLS},
		{"ffmpegdirect mime", "http://x/live", map[string]string{types.PropertyFFmpegDirectMime: MimeHLS}, types.StreamTypeHLS},
		{"mpd suffix", "http://x/manifest.mpd", nil, types.StreamTypeDASH},
		{"dash mime", "http://x/manifest", map[string]string{"mimetype": MimeDASH}, types.StreamTypeDASH},
		{"smooth", "http://x/stream.ism/Manifest", nil, types.StreamTypeSmooth},
		{"smooth video file is not smooth", "http://x/stream.ismv", nil, types.StreamTypeOther},
		{"smooth audio file is not smooth", "http://x/stream.isma", nil, types.StreamTypeOther},
		{"ts mime", "http://x/live", map[string]string{"mimetype": MimeTS}, types.StreamTypeTS},
		{"ts catchup flag", "http://x/live", map[string]string{types.PropertyCatchupTSStream: "true"}, types.StreamTypeTS},
		{"unknown", "http://x/live", nil, types.StreamTypeOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &types.Channel{Properties: tt.props}
			assert.Equal(t, tt.want, GetStreamType(tt.url, ch))
		})
	}
}

func TestClassifyPrefix(t *testing.T) {
	plain := &types.Channel{}
	shift := &types.Channel{CatchupMode: types.CatchupModeShift}

	assert.Equal(t, types.StreamTypeHLS, ClassifyPrefix([]byte("#EXTM3U\n#EXT-X-VERSION:3\n"), http.StatusOK, plain))
	assert.Equal(t, types.StreamTypeHLS, ClassifyPrefix([]byte("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1\n"), http.StatusOK, plain))
	assert.Equal(t, types.StreamTypeOther, ClassifyPrefix([]byte("#EXTM3U\n#EXTINF:-1,x\n"), http.StatusOK, plain))
	assert.Equal(t, types.StreamTypeDASH, ClassifyPrefix([]byte(`<?xml?><MPD xmlns="x">`), http.StatusOK, plain))
	assert.Equal(t, types.StreamTypeSmooth, ClassifyPrefix([]byte("<SmoothStreamingMedia>"), http.StatusOK, plain))
	assert.Equal(t, types.StreamTypeOther, ClassifyPrefix([]byte("<MPD>"), http.StatusNotFound, plain))

	assert.Equal(t, types.StreamTypeTS, ClassifyPrefix(nil, http.StatusNotFound, shift), "shift mode falls back to TS")
	assert.Equal(t, types.StreamTypeTS, ClassifyPrefix([]byte("binary"), http.StatusOK, &types.Channel{CatchupMode: types.CatchupModeTimeshift}))
}

func TestGetEffectiveInputStreamClass(t *testing.T) {
	cfg := config.Default()
	n := NewNegotiator(cfg)

	catchup := &types.Channel{CatchupMode: types.CatchupModeDefault}
	vod := &types.Channel{CatchupMode: types.CatchupModeVOD}
	plain := &types.Channel{}
	pinned := &types.Channel{InputStreamClass: "inputstream.custom"}

	assert.Equal(t, types.InputStreamArchive, n.GetEffectiveInputStreamClass(types.StreamTypeHLS, catchup))
	assert.Equal(t, types.InputStreamArchive, n.GetEffectiveInputStreamClass(types.StreamTypeTS, catchup))
	assert.Equal(t, types.InputStreamFFmpeg, n.GetEffectiveInputStreamClass(types.StreamTypeTS, vod), "vod cannot timeshift")
	assert.Equal(t, types.InputStreamFFmpeg, n.GetEffectiveInputStreamClass(types.StreamTypeHLS, plain))
	assert.Equal(t, "", n.GetEffectiveInputStreamClass(types.StreamTypeOther, catchup))
	assert.Equal(t, types.InputStreamAdaptive, n.GetEffectiveInputStreamClass(types.StreamTypeDASH, catchup))
	assert.Equal(t, types.InputStreamAdaptive, n.GetEffectiveInputStreamClass(types.StreamTypeSmooth, plain))
	assert.Equal(t, "inputstream.custom", n.GetEffectiveInputStreamClass(types.StreamTypeDASH, pinned))

	cfg.UseInputstreamAdaptiveForHls = true
	assert.Equal(t, types.InputStreamAdaptive, n.GetEffectiveInputStreamClass(types.StreamTypeHLS, catchup))
}

func TestAddHeaderToStreamURL(t *testing.T) {
	assert.Equal(t, "http://x/a|reconnect=1", AddHeaderToStreamURL("http://x/a", "reconnect", "1"))
	assert.Equal(t, "http://x/a|ua=k&reconnect=1", AddHeaderToStreamURL("http://x/a|ua=k", "reconnect", "1"))
	assert.Equal(t, "http://x/a|reconnect=0", AddHeaderToStreamURL("http://x/a|reconnect=0", "reconnect", "1"))
	assert.Equal(t, "http://x/a?reconnect=0|reconnect=1", AddHeaderToStreamURL("http://x/a?reconnect=0", "reconnect", "1"),
		"only the options after the pipe are checked")
}

func TestGetURLWithFFmpegReconnectOptions(t *testing.T) {
	cfg := config.Default()
	n := NewNegotiator(cfg)

	ch := &types.Channel{}
	assert.Equal(t, "http://x/live.m3u8", n.GetURLWithFFmpegReconnectOptions("http://x/live.m3u8", types.StreamTypeHLS, ch),
		"disabled without the property or the global flag")

	cfg.UseFFmpegReconnect = true
	assert.Equal(t, "http://x/live.m3u8|reconnect=1&reconnect_streamed=1&reconnect_delay_max=4294",
		n.GetURLWithFFmpegReconnectOptions("http://x/live.m3u8", types.StreamTypeHLS, ch))
	assert.Equal(t, "rtmp://x/live.m3u8", n.GetURLWithFFmpegReconnectOptions("rtmp://x/live.m3u8", types.StreamTypeHLS, ch))
	assert.Equal(t, "http://x/live", n.GetURLWithFFmpegReconnectOptions("http://x/live", types.StreamTypeTS, ch),
		"TS needs an ffmpeg class to support reconnect")

	cfg.UseFFmpegReconnect = false
	ffmpeg := &types.Channel{Properties: map[string]string{
		types.PropertyInputStreamClass: types.InputStreamFFmpeg,
		types.PropertyHTTPReconnect:    "true",
	}}
	assert.Equal(t, "http://x/live|reconnect=1&reconnect_at_eof=1&reconnect_streamed=1&reconnect_delay_max=4294",
		n.GetURLWithFFmpegReconnectOptions("http://x/live", types.StreamTypeTS, ffmpeg))
}

func TestSetAllStreamPropertiesAdaptive(t *testing.T) {
	n := NewNegotiator(config.Default())
	ch := &types.Channel{Name: "Dash", Properties: map[string]string{"b": "2", "a": "1"}}

	ps := n.SetAllStreamProperties(ch, "http://x/manifest.mpd", types.StreamTypeDASH,
		[]types.StreamProperty{{Name: "catchup", Value: "yes"}})

	assert.Equal(t, []types.StreamProperty{
		{Name: types.PropertyStreamURL, Value: "http://x/manifest.mpd"},
		{Name: types.PropertyInputStreamClass, Value: types.InputStreamAdaptive},
		{Name: types.PropertyManifestType, Value: "mpd"},
		{Name: types.PropertyMimeType, Value: MimeDASH},
		{Name: types.PropertyManifestUpdate, Value: "full"},
		{Name: "a", Value: "1"},
		{Name: "b", Value: "2"},
		{Name: "catchup", Value: "yes"},
	}, ps.Properties())
}

func TestSetAllStreamPropertiesBuiltin(t *testing.T) {
	cfg := config.Default()
	cfg.UseFFmpegReconnect = true
	n := NewNegotiator(cfg)

	ch := &types.Channel{Name: "HLS", CatchupMode: types.CatchupModeDefault}
	ps := n.SetAllStreamProperties(ch, "http://x/live.m3u8", types.StreamTypeHLS, nil)

	url, ok := ps.Get(types.PropertyStreamURL)
	require.True(t, ok)
	assert.Equal(t, "http://x/live.m3u8|reconnect=1&reconnect_streamed=1&reconnect_delay_max=4294", url)
	class, _ := ps.Get(types.PropertyInputStreamClass)
	assert.Equal(t, types.InputStreamArchive, class)

	other := n.SetAllStreamProperties(&types.Channel{}, "http://x/live", types.StreamTypeOther, nil)
	assert.Equal(t, 1, other.Len())
}

func TestSetAllStreamPropertiesPinnedInputstream(t *testing.T) {
	n := NewNegotiator(config.Default())
	ch := &types.Channel{InputStreamClass: "inputstream.custom"}

	ps := n.SetAllStreamProperties(ch, "http://x/live.m3u8", types.StreamTypeHLS, nil)
	assert.Equal(t, []types.StreamProperty{{Name: types.PropertyStreamURL, Value: "http://x/live.m3u8"}}, ps.Properties())
}

func TestPropertySetOverflow(t *testing.T) {
	ps := NewPropertySet(2)
	assert.True(t, ps.Set("a", "1"))
	assert.True(t, ps.Set("b", "2"))
	assert.False(t, ps.Set("c", "3"))
	assert.Equal(t, 2, ps.Len())

	_, ok := ps.Get("c")
	assert.False(t, ok)
}
