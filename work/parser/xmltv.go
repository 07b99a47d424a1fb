package parser

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	regexp "github.com/grafana/regexp"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/text/encoding/ianaindex"

	"kptv-catchup/work/logger"
	"kptv-catchup/work/types"
)

const secondsInDay = 24 * 60 * 60

var (
	gzipMagic = []byte{0x1F, 0x8B, 0x08}
	utf8BOM   = []byte{0xEF, 0xBB, 0xBF}

	// YYYYMMDDhhmmss with an optional ±hhmm zone
	xmltvTimeRegex = regexp.MustCompile(`^(\d{14})(?:\s*([+-])(\d{2})(\d{2}))?`)
)

// ErrNoGuideChannels is returned when none of the guide's channels match the playlist.
var ErrNoGuideChannels = errors.New("no guide channels match the playlist")

// GuideOptions controls which programmes are kept and how shifts are applied.
type GuideOptions struct {
	Start        int64 // window start, UTC seconds; zero with End disables filtering
	End          int64
	EpgTimeShift int // seconds
	TsOverride   bool
}

type xmltvChannel struct {
	ID          string      `xml:"id,attr"`
	DisplayName []xmltvText `xml:"display-name"`
	Icon        []xmltvIcon `xml:"icon"`
}

type xmltvProgramme struct {
	Start    string        `xml:"start,attr"`
	Stop     string        `xml:"stop,attr"`
	Channel  string        `xml:"channel,attr"`
	Title    []xmltvText   `xml:"title"`
	SubTitle []xmltvText   `xml:"sub-title"`
	Desc     []xmltvText   `xml:"desc"`
	Category []xmltvText   `xml:"category"`
	Credits  *xmltvCredits `xml:"credits"`
	Icon     []xmltvIcon   `xml:"icon"`
}

type xmltvCredits struct {
	Actor    []string `xml:"actor"`
	Director []string `xml:"director"`
	Writer   []string `xml:"writer"`
}

type xmltvText struct {
	Lang  string `xml:"lang,attr"`
	Value string `xml:",chardata"`
}

type xmltvIcon struct {
	Src string `xml:"src,attr"`
}

// OpenGuide returns a reader over the guide document, transparently inflating
// gzip packed input and skipping a UTF-8 byte order mark.
func OpenGuide(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)

	magic, _ := br.Peek(len(gzipMagic))
	if bytes.Equal(magic, gzipMagic) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("unable to decompress guide: %w", err)
		}
		br = bufio.NewReader(gz)
	}

	if bom, _ := br.Peek(len(utf8BOM)); bytes.Equal(bom, utf8BOM) {
		br.Discard(len(utf8BOM))
	}

	return br, nil
}

// ParseXMLTV reads an XMLTV document and returns the guide channels matching
// the playlist, each with its programmes in document order.
//
// Guide channels that match no playlist channel are dropped. Programmes missing
// start or stop, or with unparseable times, are skipped individually. When a
// window is given, programmes that cannot fall inside it under any channel's
// shift are skipped too.
func ParseXMLTV(r io.Reader, channels []types.Channel, opts GuideOptions) ([]types.ChannelEpg, error) {
	src, err := OpenGuide(r)
	if err != nil {
		return nil, err
	}

	minShift, maxShift := shiftBounds(channels, opts)

	var (
		epgs        []types.ChannelEpg
		byID        = make(map[string]int)
		seenIDs     = make(map[string]bool)
		deferred    []xmltvProgramme
		broadcastID int
		sawRoot     bool
	)

	addProgramme := func(p xmltvProgramme) bool {
		idx, ok := byID[strings.ToLower(p.Channel)]
		if !ok {
			return false
		}
		entry, ok := buildEntry(p, minShift, maxShift, opts)
		if ok {
			broadcastID++
			entry.BroadcastID = broadcastID
			epgs[idx].Entries = append(epgs[idx].Entries, entry)
		}
		return true
	}

	decoder := xml.NewDecoder(src)
	decoder.Strict = false
	decoder.CharsetReader = charsetReader

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("unable to parse guide XML: %w", err)
		}

		se, ok := token.(xml.StartElement)
		if !ok {
			continue
		}

		switch se.Name.Local {
		case "tv":
			sawRoot = true

		case "channel":
			var ch xmltvChannel
			if err := decoder.DecodeElement(&ch, &se); err != nil {
				logger.Warn("{parser/xmltv - ParseXMLTV} error parsing channel: %v", err)
				continue
			}
			if ch.ID == "" {
				continue
			}
			seenIDs[strings.ToLower(ch.ID)] = true
			name := firstText(ch.DisplayName)
			if FindChannel(channels, ch.ID, name) == nil {
				continue
			}
			key := strings.ToLower(ch.ID)
			if _, exists := byID[key]; !exists {
				byID[key] = len(epgs)
			}
			epg := types.ChannelEpg{ID: ch.ID, DisplayName: name}
			if len(ch.Icon) > 0 {
				epg.Icon = ch.Icon[0].Src
			}
			epgs = append(epgs, epg)

		case "programme":
			var p xmltvProgramme
			if err := decoder.DecodeElement(&p, &se); err != nil {
				logger.Warn("{parser/xmltv - ParseXMLTV} error parsing programme: %v", err)
				continue
			}
			if p.Channel == "" {
				continue
			}
			if !addProgramme(p) && !seenIDs[strings.ToLower(p.Channel)] {
				deferred = append(deferred, p)
			}
		}
	}

	if !sawRoot {
		return nil, errors.New("invalid guide XML: no <tv> tag found")
	}
	if len(epgs) == 0 {
		return nil, ErrNoGuideChannels
	}

	// programmes listed before their channel element
	for _, p := range deferred {
		addProgramme(p)
	}

	logger.Info("{parser/xmltv - ParseXMLTV} loaded %d guide channels, %d programmes", len(epgs), broadcastID)
	return epgs, nil
}

// shiftBounds returns the smallest and largest shift any channel may apply.
func shiftBounds(channels []types.Channel, opts GuideOptions) (int64, int64) {
	if opts.TsOverride {
		return int64(opts.EpgTimeShift), int64(opts.EpgTimeShift)
	}
	minShift, maxShift := int64(secondsInDay), int64(-secondsInDay)
	for i := range channels {
		shift := int64(channels[i].TvgShift + opts.EpgTimeShift)
		if shift < minShift {
			minShift = shift
		}
		if shift > maxShift {
			maxShift = shift
		}
	}
	return minShift, maxShift
}

func buildEntry(p xmltvProgramme, minShift, maxShift int64, opts GuideOptions) (types.EpgEntry, bool) {
	if p.Start == "" || p.Stop == "" {
		return types.EpgEntry{}, false
	}
	start, err := ParseXMLTVTime(p.Start)
	if err != nil {
		return types.EpgEntry{}, false
	}
	end, err := ParseXMLTVTime(p.Stop)
	if err != nil {
		return types.EpgEntry{}, false
	}

	if opts.Start != 0 || opts.End != 0 {
		if end+maxShift < opts.Start || start+minShift > opts.End {
			return types.EpgEntry{}, false
		}
	}

	entry := types.EpgEntry{
		ChannelID:   atoi(p.Channel),
		StartTime:   start,
		EndTime:     end,
		Title:       firstText(p.Title),
		Plot:        firstText(p.Desc),
		GenreString: firstText(p.Category),
		EpisodeName: firstText(p.SubTitle),
	}
	if p.Credits != nil {
		entry.Cast = joinTrimmed(p.Credits.Actor)
		entry.Director = joinTrimmed(p.Credits.Director)
		entry.Writer = joinTrimmed(p.Credits.Writer)
	}
	if len(p.Icon) > 0 {
		entry.IconPath = p.Icon[0].Src
	}
	return entry, true
}

// ParseXMLTVTime converts "YYYYMMDDhhmmss ±hhmm" into UTC Unix seconds.
// A missing zone is treated as UTC.
func ParseXMLTVTime(s string) (int64, error) {
	m := xmltvTimeRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid XMLTV time: %q", s)
	}

	t, err := time.ParseInLocation("20060102150405", m[1], time.UTC)
	if err != nil {
		return 0, err
	}

	offset := int64(0)
	if m[2] != "" {
		hours, _ := strconv.Atoi(m[3])
		minutes, _ := strconv.Atoi(m[4])
		offset = int64(hours*60+minutes) * 60
		if m[2] == "-" {
			offset = -offset
		}
	}

	return t.Unix() - offset, nil
}

// charsetReader lets the decoder read guides declared in a non UTF-8 encoding.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported guide encoding %q", label)
	}
	return enc.NewDecoder().Reader(input), nil
}

func firstText(values []xmltvText) string {
	for _, v := range values {
		if s := strings.TrimSpace(v.Value); s != "" {
			return s
		}
	}
	return ""
}

func joinTrimmed(values []string) string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, ", ")
}
