package streamutils

import (
	"strings"

	"kptv-catchup/work/config"
	"kptv-catchup/work/logger"
	"kptv-catchup/work/types"
	"kptv-catchup/work/utils"
)

// reconnectDelayMax is the longest back-off ffmpeg is told to use between reconnects.
const reconnectDelayMax = "4294"

// Negotiator decides which player backend handles a stream and which
// properties it receives.
type Negotiator struct {
	cfg *config.Config
}

// NewNegotiator returns a negotiator reading its switches from cfg.
func NewNegotiator(cfg *config.Config) *Negotiator {
	return &Negotiator{cfg: cfg}
}

// ChannelSpecifiesInputstream reports whether the playlist pinned a backend for channel.
func ChannelSpecifiesInputstream(channel *types.Channel) bool {
	return channel.InputStreamClass != ""
}

// UseBuiltinInputstreams reports whether st is played by the player's own
// demuxer rather than the adaptive manifest handler.
func (n *Negotiator) UseBuiltinInputstreams(st types.StreamType) bool {
	return st == types.StreamTypeOther || st == types.StreamTypeTS ||
		(st == types.StreamTypeHLS && !n.cfg.UseInputstreamAdaptiveForHls)
}

// GetEffectiveInputStreamClass returns the backend that will play channel.
//
// An explicit class from the playlist always wins. HLS and TS on the built-in
// demuxer use the archive handler when the channel can timeshift, plain ffmpeg
// otherwise. Other streams on the built-in demuxer get no class at all.
// Everything else goes to the adaptive handler.
func (n *Negotiator) GetEffectiveInputStreamClass(st types.StreamType, channel *types.Channel) string {
	if channel.InputStreamClass != "" {
		return channel.InputStreamClass
	}

	if !n.UseBuiltinInputstreams(st) {
		return types.InputStreamAdaptive
	}

	if st == types.StreamTypeHLS || st == types.StreamTypeTS {
		if channel.IsCatchupSupported() && channel.CatchupSupportsTimeshifting() {
			return types.InputStreamArchive
		}
		return types.InputStreamFFmpeg
	}
	return ""
}

// SupportsFFmpegReconnect reports whether the stream's backend understands
// ffmpeg reconnect options.
func SupportsFFmpegReconnect(st types.StreamType, channel *types.Channel) bool {
	return st == types.StreamTypeHLS ||
		channel.Property(types.PropertyInputStreamClass) == types.InputStreamFFmpeg ||
		channel.Property(types.PropertyInputStreamAddon) == types.InputStreamFFmpeg
}

// GetURLWithFFmpegReconnectOptions appends reconnect options to an HTTP(S)
// stream URL when the backend supports them and either the channel's
// http-reconnect property or the global setting asks for it.
func (n *Negotiator) GetURLWithFFmpegReconnectOptions(streamURL string, st types.StreamType, channel *types.Channel) string {
	if !utils.IsHTTPURL(streamURL) || !SupportsFFmpegReconnect(st, channel) {
		return streamURL
	}
	if channel.Property(types.PropertyHTTPReconnect) != "true" && !n.cfg.UseFFmpegReconnect {
		return streamURL
	}

	out := AddHeaderToStreamURL(streamURL, "reconnect", "1")
	if st != types.StreamTypeHLS {
		out = AddHeaderToStreamURL(out, "reconnect_at_eof", "1")
	}
	out = AddHeaderToStreamURL(out, "reconnect_streamed", "1")
	out = AddHeaderToStreamURL(out, "reconnect_delay_max", reconnectDelayMax)

	logger.Debug("{streamutils/negotiator - GetURLWithFFmpegReconnectOptions} reconnect stream URL: %s", utils.LogURL(n.cfg, out))
	return out
}

// AddHeaderToStreamURL adds name=value to the "|" options of streamURL unless
// the name is already present there.
func AddHeaderToStreamURL(streamURL, name, value string) string {
	idx := strings.IndexByte(streamURL, '|')
	if idx < 0 {
		return streamURL + "|" + name + "=" + value
	}
	if strings.Contains(streamURL[idx+1:], name+"=") {
		return streamURL
	}
	return streamURL + "&" + name + "=" + value
}
