package streamutils

import (
	"sort"

	"kptv-catchup/work/logger"
	"kptv-catchup/work/metrics"
	"kptv-catchup/work/types"
	"kptv-catchup/work/utils"
)

// PropertySet is an ordered, capacity-bounded list of stream properties.
type PropertySet struct {
	max   int
	props []types.StreamProperty
}

// NewPropertySet returns an empty set holding at most max properties.
func NewPropertySet(max int) *PropertySet {
	return &PropertySet{max: max, props: make([]types.StreamProperty, 0, max)}
}

// Set appends a property. Once the set is full further properties are dropped
// and logged as errors.
func (ps *PropertySet) Set(name, value string) bool {
	if len(ps.props) >= ps.max {
		logger.Error("{streamutils/properties - Set} could not add property as max number reached: %s=%s - count: %d", name, value, ps.max)
		metrics.StreamPropertyOverflows.Inc()
		return false
	}
	ps.props = append(ps.props, types.StreamProperty{Name: name, Value: value})
	return true
}

// Get returns the first value stored under name.
func (ps *PropertySet) Get(name string) (string, bool) {
	for _, p := range ps.props {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// Len is the number of stored properties.
func (ps *PropertySet) Len() int {
	return len(ps.props)
}

// Properties returns the stored properties in insertion order.
func (ps *PropertySet) Properties() []types.StreamProperty {
	out := make([]types.StreamProperty, len(ps.props))
	copy(out, ps.props)
	return out
}

// SetAllStreamProperties builds the property set handed to the player for
// streamURL, already classified as st.
//
// Process:
//   - Channel pins a backend: only the stream URL is set.
//   - Built-in demuxer: the URL with reconnect options, plus the archive or
//     ffmpeg class for HLS and TS.
//   - Adaptive handler: the plain URL, the adaptive class, the manifest type,
//     the mime type for HLS/DASH and a full manifest refresh for DASH.
//   - Channel properties follow, sorted by name, then catchup properties.
func (n *Negotiator) SetAllStreamProperties(channel *types.Channel, streamURL string, st types.StreamType, catchupProps []types.StreamProperty) *PropertySet {
	ps := NewPropertySet(n.cfg.MaxStreamProperties)

	switch {
	case ChannelSpecifiesInputstream(channel):
		ps.Set(types.PropertyStreamURL, streamURL)

	case n.UseBuiltinInputstreams(st):
		ps.Set(types.PropertyStreamURL, n.GetURLWithFFmpegReconnectOptions(streamURL, st, channel))
		if st == types.StreamTypeHLS || st == types.StreamTypeTS {
			if channel.IsCatchupSupported() {
				ps.Set(types.PropertyInputStreamClass, types.InputStreamArchive)
			} else {
				ps.Set(types.PropertyInputStreamClass, types.InputStreamFFmpeg)
			}
		}

	default:
		ps.Set(types.PropertyStreamURL, streamURL)
		ps.Set(types.PropertyInputStreamClass, types.InputStreamAdaptive)
		ps.Set(types.PropertyManifestType, ManifestType(st))
		if st == types.StreamTypeHLS || st == types.StreamTypeDASH {
			ps.Set(types.PropertyMimeType, MimeType(st))
		}
		if st == types.StreamTypeDASH {
			ps.Set(types.PropertyManifestUpdate, "full")
		}
	}

	if len(channel.Properties) > 0 {
		keys := make([]string, 0, len(channel.Properties))
		for k := range channel.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			ps.Set(k, channel.Properties[k])
		}
	}

	for _, p := range catchupProps {
		ps.Set(p.Name, p.Value)
	}

	logger.Debug("{streamutils/properties - SetAllStreamProperties} %s (%s): %d properties for %s",
		channel.Name, st, ps.Len(), utils.LogURL(n.cfg, streamURL))
	return ps
}
