package filter

import (
	"strings"

	"github.com/grafana/regexp"

	"kptv-catchup/work/config"
	"kptv-catchup/work/logger"
	"kptv-catchup/work/types"
)

// Content types a playlist entry can be classified as.
const (
	ContentLive   = "live"
	ContentSeries = "series"
	ContentVOD    = "vod"
)

var (
	seriesRegex = regexp.MustCompile(`(?i)24\/7|247|\/series\/|\/shows\/|\/show\/`)
	vodRegex    = regexp.MustCompile(`(?i)\/vods\/|\/vod\/|\/movies\/|\/movie\/`)
)

// CompiledFilter holds the compiled include/exclude patterns per content type.
// A nil pattern does not filter.
type CompiledFilter struct {
	LiveInclude   *regexp.Regexp
	LiveExclude   *regexp.Regexp
	SeriesInclude *regexp.Regexp
	SeriesExclude *regexp.Regexp
	VODInclude    *regexp.Regexp
	VODExclude    *regexp.Regexp
}

// Compile builds a CompiledFilter from the configured patterns.
func Compile(fc config.FilterConfig) *CompiledFilter {
	return &CompiledFilter{
		LiveInclude:   compile("liveIncludeRegex", fc.LiveIncludeRegex),
		LiveExclude:   compile("liveExcludeRegex", fc.LiveExcludeRegex),
		SeriesInclude: compile("seriesIncludeRegex", fc.SeriesIncludeRegex),
		SeriesExclude: compile("seriesExcludeRegex", fc.SeriesExcludeRegex),
		VODInclude:    compile("vodIncludeRegex", fc.VODIncludeRegex),
		VODExclude:    compile("vodExcludeRegex", fc.VODExcludeRegex),
	}
}

func compile(name, pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		logger.Error("{filter/filter - compile} failed to compile %s '%s': %v", name, pattern, err)
		return nil
	}
	logger.Debug("{filter/filter - compile} compiled %s: '%s'", name, pattern)
	return compiled
}

// Empty reports whether no pattern is set.
func (f *CompiledFilter) Empty() bool {
	return f == nil || (f.LiveInclude == nil && f.LiveExclude == nil &&
		f.SeriesInclude == nil && f.SeriesExclude == nil &&
		f.VODInclude == nil && f.VODExclude == nil)
}

// Channels drops the channels the filter rejects and rewrites the group
// member indexes for the shortened slice. Groups left without members are
// removed, and so are their ids on the remaining channels.
func Channels(channels []types.Channel, groups []types.ChannelGroup, f *CompiledFilter) ([]types.Channel, []types.ChannelGroup) {
	if f.Empty() {
		return channels, groups
	}

	groupNames := make(map[int]string, len(groups))
	for _, g := range groups {
		groupNames[g.ID] = g.Name
	}

	newIndex := make(map[int]int, len(channels))
	kept := make([]types.Channel, 0, len(channels))
	for i := range channels {
		ch := &channels[i]

		names := make([]string, 0, len(ch.Groups))
		for _, id := range ch.Groups {
			names = append(names, groupNames[id])
		}

		contentType := ContentType(ch, names)
		if !f.Include(ch, contentType) {
			logger.Debug("{filter/filter - Channels} excluded %s channel '%s'", contentType, ch.Name)
			continue
		}
		newIndex[i] = len(kept)
		kept = append(kept, *ch)
	}

	keptGroups := make([]types.ChannelGroup, 0, len(groups))
	liveGroups := make(map[int]bool, len(groups))
	for _, g := range groups {
		members := make([]int, 0, len(g.Members))
		for _, idx := range g.Members {
			if n, ok := newIndex[idx]; ok {
				members = append(members, n)
			}
		}
		if len(members) == 0 {
			continue
		}
		g.Members = members
		keptGroups = append(keptGroups, g)
		liveGroups[g.ID] = true
	}

	for i := range kept {
		ids := kept[i].Groups[:0:0]
		for _, id := range kept[i].Groups {
			if liveGroups[id] {
				ids = append(ids, id)
			}
		}
		kept[i].Groups = ids
	}

	logger.Info("{filter/filter - Channels} filtered %d -> %d channels, %d -> %d groups",
		len(channels), len(kept), len(groups), len(keptGroups))
	return kept, keptGroups
}

// Include reports whether a channel of the given content type passes the
// filter. When an include pattern exists for the type the name must match
// it; an exclude match always rejects.
func (f *CompiledFilter) Include(ch *types.Channel, contentType string) bool {
	name := strings.TrimSpace(strings.ToLower(ch.Name))

	var include, exclude *regexp.Regexp
	switch contentType {
	case ContentSeries:
		include, exclude = f.SeriesInclude, f.SeriesExclude
	case ContentVOD:
		include, exclude = f.VODInclude, f.VODExclude
	default:
		include, exclude = f.LiveInclude, f.LiveExclude
	}

	if include != nil && !include.MatchString(name) {
		return false
	}
	if exclude != nil && exclude.MatchString(name) {
		return false
	}
	return true
}

// ContentType classifies a channel as live, series or vod from its name and
// URL, falling back to the names of its groups. Unknown entries are live.
func ContentType(ch *types.Channel, groupNames []string) string {
	if seriesRegex.MatchString(ch.Name) || seriesRegex.MatchString(ch.StreamURL) {
		return ContentSeries
	}
	if vodRegex.MatchString(ch.Name) || vodRegex.MatchString(ch.StreamURL) {
		return ContentVOD
	}

	for _, group := range groupNames {
		group = strings.ToLower(group)
		switch {
		case strings.Contains(group, "series"):
			return ContentSeries
		case strings.Contains(group, "vod") || strings.Contains(group, "movie"):
			return ContentVOD
		case strings.Contains(group, "live") || strings.Contains(group, "tv"):
			return ContentLive
		}
	}

	return ContentLive
}
