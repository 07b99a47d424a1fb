package utils

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"kptv-catchup/work/config"
)

// LogURL returns either the original URL or an obfuscated version for logging
func LogURL(cfg *config.Config, url string) string {
	if cfg != nil && cfg.ObfuscateUrls {
		return ObfuscateURL(url)
	}
	return url
}

// ObfuscateURL keeps scheme and host and masks everything that may carry credentials.
// Player protocol options after "|" are masked as well.
func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	base, _, hasOptions := strings.Cut(urlStr, "|")

	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return "***OBFUSCATED***"
	}

	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if hasOptions {
		result += "|***"
	}

	return result
}

// IsHTTPURL reports whether s is an http or https URL.
func IsHTTPURL(s string) bool {
	lower := strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// StripProtocolOptions removes the "|key=value" options a player URL may carry.
func StripProtocolOptions(s string) string {
	if i := strings.IndexByte(s, '|'); i >= 0 {
		return s[:i]
	}
	return s
}

// NameKey turns a display name into the underscore form guides use as ids.
func NameKey(name string) string {
	return strings.ReplaceAll(name, " ", "_")
}

// JoinLogoPath prefixes a relative logo with the configured logo base.
// Absolute URLs and empty bases are returned unchanged.
func JoinLogoPath(base, logo string) string {
	if base == "" || logo == "" || strings.Contains(logo, "://") {
		return logo
	}
	if strings.Contains(base, "://") {
		return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(logo, "/")
	}
	return path.Join(base, logo)
}

// FormatBytes renders a byte count with a binary unit, e.g. "1.5 MB".
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
