package parser

import (
	"kptv-catchup/work/config"
	"kptv-catchup/work/types"
	"kptv-catchup/work/utils"
)

// FindChannel returns the first channel whose tvg-id equals id or, when a name
// is given, whose tvg-name equals the name with spaces turned into underscores,
// or whose name equals name. Channels are checked in playlist order.
func FindChannel(channels []types.Channel, id, name string) *types.Channel {
	tvgName := utils.NameKey(name)

	for i := range channels {
		ch := &channels[i]
		if ch.TvgID == id {
			return ch
		}
		if tvgName == "" {
			continue
		}
		if ch.TvgName == tvgName || ch.Name == name {
			return ch
		}
	}
	return nil
}

// FindEpgForChannel returns the guide channel that carries the programmes for
// channel: matching id, display name against tvg-name (with or without
// underscores) or display name against the channel name.
func FindEpgForChannel(epgs []types.ChannelEpg, channel *types.Channel) *types.ChannelEpg {
	for i := range epgs {
		epg := &epgs[i]
		if epg.ID == channel.TvgID {
			return epg
		}
		if utils.NameKey(epg.DisplayName) == channel.TvgName || epg.DisplayName == channel.TvgName {
			return epg
		}
		if epg.DisplayName == channel.Name {
			return epg
		}
	}
	return nil
}

// ApplyEpgLogos replaces channel logos with guide icons according to the
// configured preference. Channels are updated in place before the catalog is
// published.
func ApplyEpgLogos(channels []types.Channel, epgs []types.ChannelEpg, mode int) int {
	if mode == config.EpgLogosIgnore {
		return 0
	}

	updated := 0
	for i := range channels {
		ch := &channels[i]
		epg := FindEpgForChannel(epgs, ch)
		if epg == nil || epg.Icon == "" {
			continue
		}
		if mode == config.EpgLogosPreferM3U && ch.LogoPath != "" {
			continue
		}
		ch.LogoPath = epg.Icon
		updated++
	}
	return updated
}
