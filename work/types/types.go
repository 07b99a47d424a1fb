package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// TimeBase is the number of player time units in one second.
const TimeBase int64 = 1000000

// Unknown is returned by length and seek queries when no value can be reported.
const Unknown int64 = -1

// Error taxonomy surfaced by the catchup engine and the catalog lookups.
var (
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrNotImplemented    = errors.New("not implemented")
	ErrUnsupported       = errors.New("unsupported")
	ErrNotFound          = errors.New("not found")
)

// StreamType is the protocol family a stream URL resolves to.
type StreamType int

const (
	StreamTypeOther StreamType = iota // anything the player demuxes directly
	StreamTypeHLS                     // HTTP Live Streaming
	StreamTypeDASH                    // MPEG-DASH
	StreamTypeSmooth                  // Microsoft Smooth Streaming
	StreamTypeTS                      // raw MPEG transport stream
)

// String returns the lowercase name used in logs, the database and the API.
func (st StreamType) String() string {
	switch st {
	case StreamTypeHLS:
		return "hls"
	case StreamTypeDASH:
		return "dash"
	case StreamTypeSmooth:
		return "smooth"
	case StreamTypeTS:
		return "ts"
	default:
		return "other"
	}
}

// ParseStreamType is the inverse of String; unrecognised values map to StreamTypeOther.
func ParseStreamType(s string) StreamType {
	switch strings.ToLower(s) {
	case "hls":
		return StreamTypeHLS
	case "dash":
		return StreamTypeDASH
	case "smooth":
		return StreamTypeSmooth
	case "ts":
		return StreamTypeTS
	default:
		return StreamTypeOther
	}
}

// CatchupMode describes how a channel's archive is addressed.
type CatchupMode int

const (
	CatchupModeDisabled CatchupMode = iota
	CatchupModeDefault              // catchup source is a complete URL template
	CatchupModeAppend               // catchup source is a query appended to the stream URL
	CatchupModeShift                // ?utc=/lutc= style query
	CatchupModeTimeshift            // same as shift but with a different provider dialect
	CatchupModeFlussonic
	CatchupModeXtream
	CatchupModeVOD
)

// ParseCatchupMode maps the playlist "catchup" attribute to a CatchupMode.
func ParseCatchupMode(s string) CatchupMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "default":
		return CatchupModeDefault
	case "append":
		return CatchupModeAppend
	case "shift":
		return CatchupModeShift
	case "timeshift":
		return CatchupModeTimeshift
	case "flussonic", "flussonic-hls", "flussonic-ts", "fs":
		return CatchupModeFlussonic
	case "xc", "xtream", "xtreamcodes":
		return CatchupModeXtream
	case "vod":
		return CatchupModeVOD
	default:
		return CatchupModeDisabled
	}
}

func (m CatchupMode) String() string {
	switch m {
	case CatchupModeDefault:
		return "default"
	case CatchupModeAppend:
		return "append"
	case CatchupModeShift:
		return "shift"
	case CatchupModeTimeshift:
		return "timeshift"
	case CatchupModeFlussonic:
		return "flussonic"
	case CatchupModeXtream:
		return "xtream"
	case CatchupModeVOD:
		return "vod"
	default:
		return "disabled"
	}
}

// MarshalText encodes the mode by name, so JSON carries "xtream" rather
// than an ordinal.
func (m CatchupMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText accepts every name ParseCatchupMode knows. An empty value
// means disabled.
func (m *CatchupMode) UnmarshalText(text []byte) error {
	mode := ParseCatchupMode(string(text))
	if mode == CatchupModeDisabled {
		name := strings.ToLower(strings.TrimSpace(string(text)))
		if name != "" && name != "disabled" {
			return fmt.Errorf("catchup mode %q: %w", text, ErrInvalidParameters)
		}
	}
	*m = mode
	return nil
}

// Player backends the negotiator can hand a stream to.
const (
	InputStreamFFmpeg   = "inputstream.ffmpeg"
	InputStreamArchive  = "inputstream.ffmpegarchive"
	InputStreamAdaptive = "inputstream.adaptive"
)

// Well known stream property names.
const (
	PropertyStreamURL         = "streamurl"
	PropertyInputStreamClass  = "inputstreamclass"
	PropertyInputStreamAddon  = "inputstreamaddon"
	PropertyMimeType          = "mimetype"
	PropertyFFmpegDirectMime  = "inputstream.ffmpegdirect.mime_type"
	PropertyManifestType      = "inputstream.adaptive.manifest_type"
	PropertyManifestUpdate    = "inputstream.adaptive.manifest_update_parameter"
	PropertyHTTPReconnect     = "http-reconnect"
	PropertyIsRealtimeStream  = "isrealtimestream"
	PropertyCatchupTSStream   = "catchup-ts"
	PropertyCatchupMode       = "catchup"
	PropertyCatchupSource     = "catchup-source"
	PropertyCatchupDays       = "catchup-days"
	PropertyCatchupCorrection = "catchup-correction"
)

// Channel is a playable entry from the playlist. It is never mutated after the
// loader has built it; runtime facts about a channel live in side tables.
type Channel struct {
	UniqueID          int               `json:"uniqueId"`
	Number            int               `json:"number"`
	Name              string            `json:"name"`
	Radio             bool              `json:"radio"`
	StreamURL         string            `json:"streamUrl"`
	TvgID             string            `json:"tvgId"`
	TvgName           string            `json:"tvgName"`
	TvgLogo           string            `json:"tvgLogo"`
	LogoPath          string            `json:"logoPath"`
	TvgShift          int               `json:"tvgShift"` // seconds
	EncryptionSystem  int               `json:"encryptionSystem"`
	CatchupMode       CatchupMode       `json:"catchupMode"`
	CatchupSource     string            `json:"catchupSource,omitempty"`
	CatchupDays       int               `json:"catchupDays,omitempty"`
	CatchupCorrection int               `json:"catchupCorrection,omitempty"` // seconds
	InputStreamClass  string            `json:"inputStreamClass,omitempty"`
	Groups            []int             `json:"groups,omitempty"`
	Properties        map[string]string `json:"properties,omitempty"`
}

// Property returns a property value or the empty string.
func (c *Channel) Property(key string) string {
	if c.Properties == nil {
		return ""
	}
	return c.Properties[key]
}

// IsCatchupSupported reports whether the channel has any archive configured.
func (c *Channel) IsCatchupSupported() bool {
	return c.CatchupMode != CatchupModeDisabled
}

// CatchupSupportsTimeshifting reports whether the archive can be addressed at
// arbitrary instants rather than only at programme boundaries.
func (c *Channel) CatchupSupportsTimeshifting() bool {
	return c.CatchupMode != CatchupModeDisabled && c.CatchupMode != CatchupModeVOD
}

// IsCatchupTSStream reports whether the archive is served as a raw transport stream.
func (c *Channel) IsCatchupTSStream() bool {
	if b, err := strconv.ParseBool(c.Property(PropertyCatchupTSStream)); err == nil && b {
		return true
	}
	return false
}

// ChannelGroup is a playlist group-title.
type ChannelGroup struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Radio   bool   `json:"radio"`
	Members []int  `json:"members"` // indexes into the channel slice
}

// EpgEntry is a single programme airing.
type EpgEntry struct {
	BroadcastID  int    `json:"broadcastId"`
	ChannelID    int    `json:"channelId"`
	StartTime    int64  `json:"startTime"`
	EndTime      int64  `json:"endTime"`
	Title        string `json:"title"`
	EpisodeName  string `json:"episodeName,omitempty"`
	Plot         string `json:"plot,omitempty"`
	PlotOutline  string `json:"plotOutline,omitempty"`
	GenreString  string `json:"genreString,omitempty"`
	GenreType    int    `json:"genreType"`
	GenreSubType int    `json:"genreSubType"`
	Cast         string `json:"cast,omitempty"`
	Director     string `json:"director,omitempty"`
	Writer       string `json:"writer,omitempty"`
	IconPath     string `json:"iconPath,omitempty"`
}

// ChannelEpg associates a guide channel with its programmes, in document order.
type ChannelEpg struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"displayName"`
	Icon        string     `json:"icon,omitempty"`
	Entries     []EpgEntry `json:"entries"`
}

// EpgGenre maps a free-text genre string to a numeric type/subtype pair.
type EpgGenre struct {
	Type    int    `json:"type"`
	SubType int    `json:"subType"`
	Name    string `json:"name"`
}

// GenreUseString is the genre type reported when no numeric mapping matched.
const GenreUseString = 0x100

// EpgTag is a programme selected by the host for EPG initiated playback.
// Times are absolute and already include any shift.
type EpgTag struct {
	ChannelUID int    `json:"channelUid"`
	StartTime  int64  `json:"startTime"`
	EndTime    int64  `json:"endTime"`
	Title      string `json:"title"`
}

// StreamTimes is the seekable window reported to the player.
type StreamTimes struct {
	StartTime int64 `json:"startTime"`
	PTSStart  int64 `json:"ptsStart"`
	PTSBegin  int64 `json:"ptsBegin"`
	PTSEnd    int64 `json:"ptsEnd"`
}

// StreamProperty is one name/value pair handed to the player.
type StreamProperty struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}
