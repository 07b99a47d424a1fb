package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CatalogChannels is the number of channels in the published catalog.
var CatalogChannels = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "iptv_catchup_catalog_channels",
	Help: "Number of channels in the current catalog",
})

// CatalogGroups is the number of channel groups in the published catalog.
var CatalogGroups = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "iptv_catchup_catalog_groups",
	Help: "Number of channel groups in the current catalog",
})

// CatalogEpgEntries is the number of programmes held across all guide channels.
var CatalogEpgEntries = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "iptv_catchup_catalog_epg_entries",
	Help: "Number of programmes in the current catalog",
})

// CatalogReloads counts playlist/guide imports. The "result" label is
// "success" or "error".
var CatalogReloads = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_catchup_catalog_reloads_total",
	Help: "Total catalog imports",
}, []string{"result"})

// StreamInspections counts stream type detections. "source" is "static",
// "cache", "database" or "network"; "stream_type" is the detected type.
var StreamInspections = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_catchup_stream_inspections_total",
	Help: "Stream type detections by source and result",
}, []string{"source", "stream_type"})

// CatchupURLsBuilt counts rendered playback URLs per catchup mode.
var CatchupURLsBuilt = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_catchup_urls_built_total",
	Help: "Catchup playback URLs rendered",
}, []string{"mode"})

// ActiveSessions tracks open playback sessions.
var ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "iptv_catchup_active_sessions",
	Help: "Number of open playback sessions",
})

// StreamPropertyOverflows counts properties dropped because the set was full.
var StreamPropertyOverflows = promauto.NewCounter(prometheus.CounterOpts{
	Name: "iptv_catchup_stream_property_overflows_total",
	Help: "Stream properties dropped because the property set was full",
})
