package catchup

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	regexp "github.com/grafana/regexp"

	"kptv-catchup/work/logger"
)

var offsetTokenRegex = regexp.MustCompile(`\{offset:(\d+)\}`)

// TimeFormatter renders catchup URL templates.
type TimeFormatter struct {
	now func() time.Time
	loc *time.Location
}

// NewTimeFormatter returns a formatter using the wall clock and local time
// for the calendar placeholders.
func NewTimeFormatter() *TimeFormatter {
	return &TimeFormatter{now: time.Now, loc: time.Local}
}

// FormatDateTime substitutes the time placeholders of url for the instant
// target (Unix seconds) lasting duration seconds.
//
// A non-empty postfix query string is inserted before any "|" player options,
// or appended when there are none. Each placeholder is replaced once, in this
// order: {Y} {m} {d} {H} {M} {S} (calendar fields of target), {utc} and
// ${start} (target), {utcend} and ${end} (target+duration), {lutc} (now),
// {duration}, then {offset:N} which becomes (now-target)/N floored at zero.
// Placeholders that are absent leave the template untouched.
func (f *TimeFormatter) FormatDateTime(target, duration int64, url, postfix string) string {
	out := url
	if postfix != "" {
		if idx := strings.IndexByte(url, '|'); idx >= 0 {
			out = url[:idx] + postfix + url[idx:]
		} else {
			out = url + postfix
		}
	}

	now := f.now().Unix()
	t := time.Unix(target, 0).In(f.loc)

	out = replaceFirst(out, "{Y}", strconv.Itoa(t.Year()))
	out = replaceFirst(out, "{m}", fmt.Sprintf("%02d", int(t.Month())))
	out = replaceFirst(out, "{d}", fmt.Sprintf("%02d", t.Day()))
	out = replaceFirst(out, "{H}", fmt.Sprintf("%02d", t.Hour()))
	out = replaceFirst(out, "{M}", fmt.Sprintf("%02d", t.Minute()))
	out = replaceFirst(out, "{S}", fmt.Sprintf("%02d", t.Second()))
	out = replaceFirst(out, "{utc}", strconv.FormatInt(target, 10))
	out = replaceFirst(out, "${start}", strconv.FormatInt(target, 10))
	out = replaceFirst(out, "{utcend}", strconv.FormatInt(target+duration, 10))
	out = replaceFirst(out, "${end}", strconv.FormatInt(target+duration, 10))
	out = replaceFirst(out, "{lutc}", strconv.FormatInt(now, 10))
	out = replaceFirst(out, "{duration}", strconv.FormatInt(duration, 10))
	out = formatOffset(now-target, out)

	logger.Debug("{catchup/format - FormatDateTime} %q", out)
	return out
}

// formatOffset replaces the last {offset:N} token's text, at its first
// occurrence, with elapsed/N. A zero divider leaves the token in place.
func formatOffset(elapsed int64, s string) string {
	matches := offsetTokenRegex.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return s
	}
	m := matches[len(matches)-1]

	divider, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || divider == 0 {
		return s
	}

	offset := elapsed / divider
	if offset < 0 {
		offset = 0
	}
	return replaceFirst(s, m[0], strconv.FormatInt(offset, 10))
}

func replaceFirst(s, old, new string) string {
	return strings.Replace(s, old, new, 1)
}
