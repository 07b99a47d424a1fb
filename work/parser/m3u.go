package parser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	regexp "github.com/grafana/regexp"
	"golang.org/x/text/encoding/charmap"

	"kptv-catchup/work/logger"
	"kptv-catchup/work/types"
	"kptv-catchup/work/utils"
)

// Playlist line markers.
const (
	m3uStartMarker     = "#EXTM3U"
	m3uInfoMarker      = "#EXTINF"
	kodiPropMarker     = "#KODIPROP:"
	extVlcOptMarker    = "#EXTVLCOPT:"
	playlistTypeMarker = "#EXT-X-PLAYLIST-TYPE:"

	tvgIDMarker             = "tvg-id="
	tvgNameMarker           = "tvg-name="
	tvgLogoMarker           = "tvg-logo="
	tvgChnoMarker           = "tvg-chno="
	tvgShiftMarker          = "tvg-shift="
	groupNameMarker         = "group-title="
	radioMarker             = "radio="
	catchupMarker           = "catchup="
	catchupSourceMarker     = "catchup-source="
	catchupDaysMarker       = "catchup-days="
	catchupCorrectionMarker = "catchup-correction="

	maxLineSize = 1024 * 1024
)

// ErrNoChannels is returned when a playlist yields no playable entries.
var ErrNoChannels = errors.New("playlist contains no channels")

// leadingInt mirrors atoi: optional whitespace, optional sign, digits.
var leadingInt = regexp.MustCompile(`^\s*([+-]?\d+)`)

// PlaylistOptions are the config values the playlist parser consumes.
type PlaylistOptions struct {
	StartNumber int
	LogoPath    string
}

// Playlist is the result of parsing an M3U document.
type Playlist struct {
	Channels []types.Channel
	Groups   []types.ChannelGroup
}

// playlistDefaults are the values the #EXTM3U header may set for every entry.
type playlistDefaults struct {
	tvgShift          int
	catchupMode       string
	catchupSource     string
	catchupDays       string
	catchupCorrection string
}

// pendingChannel accumulates #EXTINF, #KODIPROP and #EXTVLCOPT lines until the
// URL line that completes the entry.
type pendingChannel struct {
	channel  types.Channel
	groupIDs []int
	realtime bool
}

func newPendingChannel() *pendingChannel {
	return &pendingChannel{
		channel:  types.Channel{Properties: make(map[string]string)},
		realtime: true,
	}
}

// ParsePlaylist reads an M3U playlist into channels and groups.
//
// Each channel gets a unique id derived from its name and stream URL, a channel
// number (tvg-chno when present, otherwise a running counter starting at
// StartNumber) and its group memberships. A playlist without a single URL line
// is an error.
func ParsePlaylist(r io.Reader, opts PlaylistOptions) (*Playlist, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, maxLineSize)

	startNumber := opts.StartNumber
	if startNumber <= 0 {
		startNumber = 1
	}

	result := &Playlist{}
	groupIndex := make(map[string]int)
	defaults := playlistDefaults{}
	channelNumber := startNumber
	firstLine := true
	current := newPendingChannel()

	for scanner.Scan() {
		line := strings.TrimLeft(strings.TrimRight(scanner.Text(), " \t\r\n"), " \t")
		if line == "" {
			continue
		}

		if firstLine {
			firstLine = false
			line = strings.TrimPrefix(line, "\xEF\xBB\xBF")

			if strings.HasPrefix(line, m3uStartMarker) {
				defaults = parseHeader(line)
				continue
			}
			logger.Warn("{parser/m3u - ParsePlaylist} missing %s descriptor on line 1, attempting to parse it anyway", m3uStartMarker)
		}

		switch {
		case strings.HasPrefix(line, m3uInfoMarker):
			parseInfoLine(line, current, defaults, result, groupIndex, &channelNumber)

		case strings.HasPrefix(line, kodiPropMarker):
			addPropertyLine(current, strings.TrimPrefix(line, kodiPropMarker))

		case strings.HasPrefix(line, extVlcOptMarker):
			addPropertyLine(current, strings.TrimPrefix(line, extVlcOptMarker))

		case strings.HasPrefix(line, playlistTypeMarker):
			if ReadMarkerValue(line, playlistTypeMarker) == "VOD" {
				current.realtime = false
			}

		case line[0] != '#':
			channel := finishChannel(current, line, channelNumber, len(result.Channels), result.Groups)
			channel.LogoPath = utils.JoinLogoPath(opts.LogoPath, channel.TvgLogo)
			result.Channels = append(result.Channels, channel)
			channelNumber++

			logger.Debug("{parser/m3u - ParsePlaylist} found channel %q (uid %d)", channel.Name, channel.UniqueID)

			// entries without group-title stay in the previous entry's groups
			groupIDs := current.groupIDs
			current = newPendingChannel()
			current.groupIDs = slices.Clone(groupIDs)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read playlist: %w", err)
	}

	if len(result.Channels) == 0 {
		return nil, ErrNoChannels
	}

	logger.Info("{parser/m3u - ParsePlaylist} loaded %d channels in %d groups", len(result.Channels), len(result.Groups))
	return result, nil
}

func parseHeader(line string) playlistDefaults {
	d := playlistDefaults{
		catchupMode:       ReadMarkerValue(line, catchupMarker),
		catchupSource:     ReadMarkerValue(line, catchupSourceMarker),
		catchupDays:       ReadMarkerValue(line, catchupDaysMarker),
		catchupCorrection: ReadMarkerValue(line, catchupCorrectionMarker),
	}
	if shift := ReadMarkerValue(line, tvgShiftMarker); shift != "" {
		d.tvgShift = hoursToSeconds(shift)
	}
	return d
}

// parseInfoLine handles "#EXTINF:<duration> key="value" ...,<name>".
func parseInfoLine(line string, current *pendingChannel, defaults playlistDefaults, result *Playlist, groupIndex map[string]int, channelNumber *int) {
	colon := strings.IndexByte(line, ':')
	comma := strings.LastIndexByte(line, ',')
	if colon < 0 || comma < 0 || comma <= colon {
		return
	}

	ch := &current.channel
	ch.Name = toUTF8(strings.TrimSpace(line[comma+1:]))

	info := line[colon+1 : comma]

	tvgID := ReadMarkerValue(info, tvgIDMarker)
	tvgName := ReadMarkerValue(info, tvgNameMarker)
	tvgLogo := ReadMarkerValue(info, tvgLogoMarker)
	chno := ReadMarkerValue(info, tvgChnoMarker)
	groupNames := ReadMarkerValue(info, groupNameMarker)
	radio := ReadMarkerValue(info, radioMarker)
	tvgShift := ReadMarkerValue(info, tvgShiftMarker)

	if tvgID == "" {
		tvgID = strconv.Itoa(atoi(info))
	}
	if tvgLogo == "" {
		tvgLogo = ch.Name
	}
	if chno != "" {
		*channelNumber = atoi(chno)
	}

	ch.TvgID = tvgID
	ch.TvgName = toUTF8(tvgName)
	ch.TvgLogo = toUTF8(tvgLogo)
	ch.Radio = strings.EqualFold(radio, "true")
	if tvgShift == "" {
		ch.TvgShift = defaults.tvgShift
	} else {
		ch.TvgShift = hoursToSeconds(tvgShift)
	}

	applyCatchup(ch, info, defaults)

	if groupNames == "" {
		return
	}

	current.groupIDs = current.groupIDs[:0]
	for _, name := range strings.Split(groupNames, ";") {
		name = toUTF8(name)
		if id, ok := groupIndex[name]; ok {
			current.groupIDs = append(current.groupIDs, id)
			continue
		}
		id := len(result.Groups) + 1
		result.Groups = append(result.Groups, types.ChannelGroup{
			ID:    id,
			Name:  name,
			Radio: ch.Radio,
		})
		groupIndex[name] = id
		current.groupIDs = append(current.groupIDs, id)
	}
}

// applyCatchup reads the catchup attributes, falling back to the header defaults.
func applyCatchup(ch *types.Channel, info string, defaults playlistDefaults) {
	mode := firstNonEmpty(ReadMarkerValue(info, catchupMarker), defaults.catchupMode)
	source := firstNonEmpty(ReadMarkerValue(info, catchupSourceMarker), defaults.catchupSource)
	days := firstNonEmpty(ReadMarkerValue(info, catchupDaysMarker), defaults.catchupDays)
	correction := firstNonEmpty(ReadMarkerValue(info, catchupCorrectionMarker), defaults.catchupCorrection)

	ch.CatchupMode = types.ParseCatchupMode(mode)
	ch.CatchupSource = source
	if days != "" {
		ch.CatchupDays = atoi(days)
	}
	if correction != "" {
		ch.CatchupCorrection = hoursToSeconds(correction)
	}
	if strings.EqualFold(mode, "flussonic-ts") {
		ch.Properties[types.PropertyCatchupTSStream] = "true"
	}
}

func addPropertyLine(current *pendingChannel, value string) {
	key, val, ok := strings.Cut(value, "=")
	if !ok {
		return
	}

	// the first occurrence of a key wins
	if _, exists := current.channel.Properties[key]; !exists {
		current.channel.Properties[key] = val
	}

	switch key {
	case types.PropertyInputStreamClass, types.PropertyInputStreamAddon:
		if current.channel.InputStreamClass == "" {
			current.channel.InputStreamClass = val
		}
	}

	logger.Debug("{parser/m3u - addPropertyLine} found property %q = %q", key, val)
}

func finishChannel(current *pendingChannel, url string, number, index int, groups []types.ChannelGroup) types.Channel {
	if current.realtime {
		if _, exists := current.channel.Properties[types.PropertyIsRealtimeStream]; !exists {
			current.channel.Properties[types.PropertyIsRealtimeStream] = "true"
		}
	}

	channel := current.channel
	channel.UniqueID = GetChannelID(channel.Name, url)
	channel.Number = number
	channel.StreamURL = url

	for _, id := range current.groupIDs {
		group := &groups[id-1]
		channel.Radio = group.Radio
		group.Members = append(group.Members, index)
		channel.Groups = append(channel.Groups, id)
	}

	return channel
}

// GetChannelID derives the stable unique id of a channel from its name and
// stream URL: h = h*33 + c over the bytes as signed chars, with 32-bit
// wraparound, then the absolute value. Different channels can collide.
func GetChannelID(name, streamURL string) int {
	var id int32
	for _, b := range []byte(name + streamURL) {
		id = (id << 5) + id + int32(int8(b))
	}
	if id < 0 {
		id = -id
	}
	return int(id)
}

// ReadMarkerValue returns the value following marker in line. Quoted values run
// to the closing quote, unquoted values to the next space or end of line.
func ReadMarkerValue(line, marker string) string {
	start := strings.Index(line, marker)
	if start < 0 {
		return ""
	}
	start += len(marker)
	if start >= len(line) {
		return ""
	}

	terminator := byte(' ')
	if line[start] == '"' {
		terminator = '"'
		start++
	}

	end := strings.IndexByte(line[start:], terminator)
	if end < 0 {
		return line[start:]
	}
	return line[start : start+end]
}

func atoi(s string) int {
	m := leadingInt.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

func hoursToSeconds(s string) int {
	hours, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return int(hours * 3600.0)
}

// toUTF8 decodes names that are not valid UTF-8 as Latin-1.
func toUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return decoded
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
