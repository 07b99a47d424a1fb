package streamutils

import (
	"bytes"
	"net/http"
	"strings"

	"kptv-catchup/work/types"
)

// Mime types recognised by the detector.
const (
	MimeHLS      = "application/x-mpegURL"
	MimeHLSApple = "application/vnd.apple.mpegurl"
	MimeDASH     = "application/xml+dash"
	MimeTS       = "video/mp2t"
)

// DeclaredMimeType returns the mime type a channel declares through its
// properties, preferring "mimetype" over the ffmpegdirect variant.
func DeclaredMimeType(channel *types.Channel) string {
	if mime := channel.Property(types.PropertyMimeType); mime != "" {
		return mime
	}
	return channel.Property(types.PropertyFFmpegDirectMime)
}

// GetStreamType classifies url without touching the network.
//
// Precedence:
//   - ".m3u8" in the URL or an HLS mime type → HLS
//   - ".mpd" in the URL or the DASH mime type → DASH
//   - ".ism" in the URL, but not ".ismv"/".isma" → Smooth Streaming
//   - "video/mp2t" mime type or a channel flagged as a TS archive → TS
//   - anything else → Other
func GetStreamType(url string, channel *types.Channel) types.StreamType {
	mime := DeclaredMimeType(channel)

	if strings.Contains(url, ".m3u8") || mime == MimeHLS || mime == MimeHLSApple {
		return types.StreamTypeHLS
	}

	if strings.Contains(url, ".mpd") || mime == MimeDASH {
		return types.StreamTypeDASH
	}

	if strings.Contains(url, ".ism") && !(strings.Contains(url, ".ismv") || strings.Contains(url, ".isma")) {
		return types.StreamTypeSmooth
	}

	if mime == MimeTS || channel.IsCatchupTSStream() {
		return types.StreamTypeTS
	}

	return types.StreamTypeOther
}

// ClassifyPrefix classifies the first bytes of a resource fetched over HTTP.
// When nothing is recognised, shift based channels default to TS since the
// archive handler needs a definite type; everything else stays Other.
func ClassifyPrefix(body []byte, status int, channel *types.Channel) types.StreamType {
	if status == http.StatusOK {
		if st, ok := sniff(body); ok {
			return st
		}
	}

	if channel.CatchupMode == types.CatchupModeShift || channel.CatchupMode == types.CatchupModeTimeshift {
		return types.StreamTypeTS
	}
	return types.StreamTypeOther
}

func sniff(body []byte) (types.StreamType, bool) {
	if bytes.HasPrefix(body, []byte("#EXTM3U")) &&
		(bytes.Contains(body, []byte("#EXT-X-STREAM-INF")) || bytes.Contains(body, []byte("#EXT-X-VERSION"))) {
		return types.StreamTypeHLS, true
	}
	if bytes.Contains(body, []byte("<MPD")) {
		return types.StreamTypeDASH, true
	}
	if bytes.Contains(body, []byte("<SmoothStreamingMedia")) {
		return types.StreamTypeSmooth, true
	}
	return types.StreamTypeOther, false
}

// StreamTypeForMime maps a mime type recorded by an earlier detection back to
// its stream type.
func StreamTypeForMime(mime string) types.StreamType {
	switch mime {
	case MimeHLS, MimeHLSApple:
		return types.StreamTypeHLS
	case MimeDASH:
		return types.StreamTypeDASH
	case MimeTS:
		return types.StreamTypeTS
	default:
		return types.StreamTypeOther
	}
}

// ManifestType is the adaptive handler manifest type for st.
func ManifestType(st types.StreamType) string {
	switch st {
	case types.StreamTypeHLS:
		return "hls"
	case types.StreamTypeDASH:
		return "mpd"
	case types.StreamTypeSmooth:
		return "ism"
	default:
		return ""
	}
}

// MimeType is the canonical mime type for st, or "" when it has none.
func MimeType(st types.StreamType) string {
	switch st {
	case types.StreamTypeHLS:
		return MimeHLS
	case types.StreamTypeDASH:
		return MimeDASH
	case types.StreamTypeTS:
		return MimeTS
	default:
		return ""
	}
}
