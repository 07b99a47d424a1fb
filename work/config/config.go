package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"kptv-catchup/work/logger"
)

// EPG logo preference values.
const (
	EpgLogosIgnore       = 0
	EpgLogosPreferM3U    = 1
	EpgLogosPreferXMLTV  = 2
	defaultQueryFormat   = ""
	defaultUserAgent     = "VLC/3.0.18 LibVLC/3.0.18"
	defaultListenAddr    = ":8080"
	defaultDatabasePath  = "/settings/catchup.db"
	defaultMaxProperties = 30

	defaultCatchupDays     = 5
	defaultBeginBufferMins = 5
	defaultEndBufferMins   = 15
)

// Config holds every value the catalog loader, the catchup engine and the
// stream negotiator consume. It is built once and passed explicitly to the
// components that need it; nothing reads it through a global.
type Config struct {
	M3UPath     string `json:"m3uPath"`     // playlist location, local path or http(s) URL
	EpgPath     string `json:"epgPath"`     // XMLTV location, optionally gzip packed
	GenresPath  string `json:"genresPath"`  // optional genre mapping file
	LogoPath    string `json:"logoPath"`    // base path/URL for relative tvg-logo values
	StartNumber int    `json:"startNumber"` // number given to the first channel without tvg-chno

	EpgTimeShiftHours float64 `json:"epgTimeShiftHours"` // global guide shift
	TsOverride        bool    `json:"tsOverride"`        // global shift replaces per-channel tvg-shift
	EpgLogos          int     `json:"epgLogos"`          // 0 ignore, 1 prefer playlist, 2 prefer guide

	CatchupDays                     int    `json:"catchupDays"`
	CatchupWatchEpgBeginBufferMins  int    `json:"catchupWatchEpgBeginBufferMins"`
	CatchupWatchEpgEndBufferMins    int    `json:"catchupWatchEpgEndBufferMins"`
	CatchupQueryFormat              string `json:"catchupQueryFormat"`
	CatchupPlayEpgAsLive            bool   `json:"catchupPlayEpgAsLive"`
	CatchupOnlyOnFinishedProgrammes bool   `json:"catchupOnlyOnFinishedProgrammes"`

	UseInputstreamAdaptiveForHls bool `json:"useInputstreamAdaptiveForHls"`
	UseFFmpegReconnect           bool `json:"useFFmpegReconnect"`
	MaxStreamProperties          int  `json:"maxStreamProperties"`

	LoadRetries           int           `json:"loadRetries"`
	LoadRetryDelay        time.Duration `json:"loadRetryDelay"`
	ImportRefreshInterval time.Duration `json:"importRefreshInterval"`
	RequestTimeout        time.Duration `json:"requestTimeout"`

	InspectCacheDuration time.Duration `json:"inspectCacheDuration"`
	InspectRatePerSecond int           `json:"inspectRatePerSecond"`
	InspectPrefixBytes   int64         `json:"inspectPrefixBytes"`
	WorkerThreads        int           `json:"workerThreads"`

	DatabasePath   string `json:"databasePath"`
	ListenAddr     string `json:"listenAddr"`
	AdminTokenHash string `json:"adminTokenHash"` // bcrypt hash guarding the reload endpoint
	UserAgent      string `json:"userAgent"`
	LogLevel       string `json:"logLevel"`
	Debug          bool   `json:"debug"`
	ObfuscateUrls  bool   `json:"obfuscateUrls"`

	Filters FilterConfig `json:"filters"`
}

// FilterConfig holds the include/exclude patterns applied to playlist
// channels by content type. Patterns are matched against the lower-cased
// channel name; an invalid pattern is logged and ignored.
type FilterConfig struct {
	LiveIncludeRegex   string `json:"liveIncludeRegex,omitempty"`
	LiveExcludeRegex   string `json:"liveExcludeRegex,omitempty"`
	SeriesIncludeRegex string `json:"seriesIncludeRegex,omitempty"`
	SeriesExcludeRegex string `json:"seriesExcludeRegex,omitempty"`
	VODIncludeRegex    string `json:"vodIncludeRegex,omitempty"`
	VODExcludeRegex    string `json:"vodExcludeRegex,omitempty"`
}

// ConfigFile is the on-disk JSON layout. Durations are strings ("2s", "12h")
// and are parsed into time.Duration by convertFromFile.
type ConfigFile struct {
	M3UPath                         string  `json:"m3uPath"`
	EpgPath                         string  `json:"epgPath"`
	GenresPath                      string  `json:"genresPath"`
	LogoPath                        string  `json:"logoPath"`
	StartNumber                     int     `json:"startNumber"`
	EpgTimeShiftHours               float64 `json:"epgTimeShiftHours"`
	TsOverride                      bool    `json:"tsOverride"`
	EpgLogos                        int     `json:"epgLogos"`
	CatchupDays                     int     `json:"catchupDays"`
	CatchupWatchEpgBeginBufferMins  int     `json:"catchupWatchEpgBeginBufferMins"`
	CatchupWatchEpgEndBufferMins    int     `json:"catchupWatchEpgEndBufferMins"`
	CatchupQueryFormat              string  `json:"catchupQueryFormat"`
	CatchupPlayEpgAsLive            bool    `json:"catchupPlayEpgAsLive"`
	CatchupOnlyOnFinishedProgrammes bool    `json:"catchupOnlyOnFinishedProgrammes"`
	UseInputstreamAdaptiveForHls    bool    `json:"useInputstreamAdaptiveForHls"`
	UseFFmpegReconnect              bool    `json:"useFFmpegReconnect"`
	MaxStreamProperties             int     `json:"maxStreamProperties"`
	LoadRetries                     int     `json:"loadRetries"`
	LoadRetryDelay                  string  `json:"loadRetryDelay"`
	ImportRefreshInterval           string  `json:"importRefreshInterval"`
	RequestTimeout                  string  `json:"requestTimeout"`
	InspectCacheDuration            string  `json:"inspectCacheDuration"`
	InspectRatePerSecond            int     `json:"inspectRatePerSecond"`
	InspectPrefixBytes              int64   `json:"inspectPrefixBytes"`
	WorkerThreads                   int     `json:"workerThreads"`
	DatabasePath                    string  `json:"databasePath"`
	ListenAddr                      string  `json:"listenAddr"`
	AdminTokenHash                  string  `json:"adminTokenHash"`
	UserAgent                       string  `json:"userAgent"`
	LogLevel                        string  `json:"logLevel"`
	Debug                           bool    `json:"debug"`
	ObfuscateUrls                   bool    `json:"obfuscateUrls"`

	Filters FilterConfig `json:"filters"`
}

// LoadConfig reads the configuration at path.
//
// Process:
//   - Attempts to parse the JSON file.
//   - Falls back to the default configuration if the file is missing or invalid.
//   - Runs validation so every consumer sees usable values.
//
// Returns:
//   - *Config: fully validated configuration object
func LoadConfig(path string) *Config {
	cfg, err := loadFromFile(path)
	if err != nil {
		logger.Warn("{config/config - LoadConfig} failed to load %s: %v", path, err)
		logger.Warn("{config/config - LoadConfig} falling back to default configuration")
		cfg = getDefaultConfig()
	}

	validateAndSetDefaults(cfg)

	if cfg.Debug {
		logger.Debug("{config/config - LoadConfig} playlist: %s", obfuscateIf(cfg.ObfuscateUrls, cfg.M3UPath))
		logger.Debug("{config/config - LoadConfig} guide: %s", obfuscateIf(cfg.ObfuscateUrls, cfg.EpgPath))
		logger.Debug("{config/config - LoadConfig} catchup window: %d days, buffers %d/%d mins",
			cfg.CatchupDays, cfg.CatchupWatchEpgBeginBufferMins, cfg.CatchupWatchEpgEndBufferMins)
	}

	return cfg
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config, parsing duration strings.
// Empty duration strings are left at zero and picked up by validateAndSetDefaults.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	cfg := &Config{
		M3UPath:                         cf.M3UPath,
		EpgPath:                         cf.EpgPath,
		GenresPath:                      cf.GenresPath,
		LogoPath:                        cf.LogoPath,
		StartNumber:                     cf.StartNumber,
		EpgTimeShiftHours:               cf.EpgTimeShiftHours,
		TsOverride:                      cf.TsOverride,
		EpgLogos:                        cf.EpgLogos,
		CatchupDays:                     cf.CatchupDays,
		CatchupWatchEpgBeginBufferMins:  cf.CatchupWatchEpgBeginBufferMins,
		CatchupWatchEpgEndBufferMins:    cf.CatchupWatchEpgEndBufferMins,
		CatchupQueryFormat:              cf.CatchupQueryFormat,
		CatchupPlayEpgAsLive:            cf.CatchupPlayEpgAsLive,
		CatchupOnlyOnFinishedProgrammes: cf.CatchupOnlyOnFinishedProgrammes,
		UseInputstreamAdaptiveForHls:    cf.UseInputstreamAdaptiveForHls,
		UseFFmpegReconnect:              cf.UseFFmpegReconnect,
		MaxStreamProperties:             cf.MaxStreamProperties,
		LoadRetries:                     cf.LoadRetries,
		InspectRatePerSecond:            cf.InspectRatePerSecond,
		InspectPrefixBytes:              cf.InspectPrefixBytes,
		WorkerThreads:                   cf.WorkerThreads,
		DatabasePath:                    cf.DatabasePath,
		ListenAddr:                      cf.ListenAddr,
		AdminTokenHash:                  cf.AdminTokenHash,
		UserAgent:                       cf.UserAgent,
		LogLevel:                        cf.LogLevel,
		Debug:                           cf.Debug,
		ObfuscateUrls:                   cf.ObfuscateUrls,
		Filters:                         cf.Filters,
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"loadRetryDelay", cf.LoadRetryDelay, &cfg.LoadRetryDelay},
		{"importRefreshInterval", cf.ImportRefreshInterval, &cfg.ImportRefreshInterval},
		{"requestTimeout", cf.RequestTimeout, &cfg.RequestTimeout},
		{"inspectCacheDuration", cf.InspectCacheDuration, &cfg.InspectCacheDuration},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	return cfg, nil
}

// getDefaultConfig returns the baseline used when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		StartNumber:                    1,
		EpgLogos:                       EpgLogosIgnore,
		CatchupDays:                    defaultCatchupDays,
		CatchupWatchEpgBeginBufferMins: defaultBeginBufferMins,
		CatchupWatchEpgEndBufferMins:   defaultEndBufferMins,
		CatchupQueryFormat:             defaultQueryFormat,
		MaxStreamProperties:            defaultMaxProperties,
		LoadRetries:                    3,
		LoadRetryDelay:                 2 * time.Second,
		ImportRefreshInterval:          12 * time.Hour,
		RequestTimeout:                 30 * time.Second,
		InspectCacheDuration:           30 * time.Minute,
		InspectRatePerSecond:           5,
		InspectPrefixBytes:             4096,
		WorkerThreads:                  4,
		DatabasePath:                   defaultDatabasePath,
		ListenAddr:                     defaultListenAddr,
		UserAgent:                      defaultUserAgent,
		LogLevel:                       "INFO",
	}
}

// validateAndSetDefaults fills in defaults for missing or invalid values.
func validateAndSetDefaults(cfg *Config) {
	if cfg.StartNumber <= 0 {
		cfg.StartNumber = 1
	}
	if cfg.EpgLogos < EpgLogosIgnore || cfg.EpgLogos > EpgLogosPreferXMLTV {
		cfg.EpgLogos = EpgLogosIgnore
	}
	if cfg.CatchupDays <= 0 {
		cfg.CatchupDays = defaultCatchupDays
	}
	if cfg.CatchupWatchEpgBeginBufferMins <= 0 {
		cfg.CatchupWatchEpgBeginBufferMins = defaultBeginBufferMins
	}
	if cfg.CatchupWatchEpgEndBufferMins <= 0 {
		cfg.CatchupWatchEpgEndBufferMins = defaultEndBufferMins
	}
	if cfg.MaxStreamProperties <= 0 {
		cfg.MaxStreamProperties = defaultMaxProperties
	}
	if cfg.LoadRetries <= 0 {
		cfg.LoadRetries = 3
	}
	if cfg.LoadRetryDelay <= 0 {
		cfg.LoadRetryDelay = 2 * time.Second
	}
	if cfg.ImportRefreshInterval <= 0 {
		cfg.ImportRefreshInterval = 12 * time.Hour
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.InspectCacheDuration <= 0 {
		cfg.InspectCacheDuration = 30 * time.Minute
	}
	if cfg.InspectRatePerSecond <= 0 {
		cfg.InspectRatePerSecond = 5
	}
	if cfg.InspectPrefixBytes <= 0 {
		cfg.InspectPrefixBytes = 4096
	}
	if cfg.WorkerThreads <= 0 {
		cfg.WorkerThreads = 4
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = defaultDatabasePath
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
		if cfg.Debug {
			cfg.LogLevel = "DEBUG"
		}
	}
}

// Default returns a validated default configuration.
func Default() *Config {
	cfg := getDefaultConfig()
	validateAndSetDefaults(cfg)
	return cfg
}

// CatchupDaysInSeconds is the size of the catchup window.
func (c *Config) CatchupDaysInSeconds() int64 {
	return int64(c.CatchupDays) * 24 * 60 * 60
}

// CatchupWatchEpgBeginBufferSecs is the pre-roll applied to EPG initiated playback.
func (c *Config) CatchupWatchEpgBeginBufferSecs() int64 {
	return int64(c.CatchupWatchEpgBeginBufferMins) * 60
}

// CatchupWatchEpgEndBufferSecs is the post-roll applied to EPG initiated playback.
func (c *Config) CatchupWatchEpgEndBufferSecs() int64 {
	return int64(c.CatchupWatchEpgEndBufferMins) * 60
}

// EpgTimeShiftSecs converts the global guide shift to seconds.
func (c *Config) EpgTimeShiftSecs() int {
	return int(c.EpgTimeShiftHours * 60 * 60)
}

// CreateExampleConfig writes an example config file to path.
func CreateExampleConfig(path string) error {
	example := ConfigFile{
		M3UPath:                        "http://example.com/playlist.m3u",
		EpgPath:                        "http://example.com/guide.xml.gz",
		GenresPath:                     "/settings/genres.xml",
		StartNumber:                    1,
		CatchupDays:                    defaultCatchupDays,
		CatchupWatchEpgBeginBufferMins: defaultBeginBufferMins,
		CatchupWatchEpgEndBufferMins:   defaultEndBufferMins,
		CatchupQueryFormat:             "?utc={utc}&lutc={lutc}",
		MaxStreamProperties:            defaultMaxProperties,
		LoadRetries:                    3,
		LoadRetryDelay:                 "2s",
		ImportRefreshInterval:          "12h",
		RequestTimeout:                 "30s",
		InspectCacheDuration:           "30m",
		InspectRatePerSecond:           5,
		InspectPrefixBytes:             4096,
		WorkerThreads:                  4,
		DatabasePath:                   defaultDatabasePath,
		ListenAddr:                     defaultListenAddr,
		UserAgent:                      defaultUserAgent,
		LogLevel:                       "INFO",
		ObfuscateUrls:                  true,
		Filters: FilterConfig{
			VODExcludeRegex: "trailer",
		},
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func obfuscateIf(obfuscate bool, s string) string {
	if obfuscate && s != "" {
		return "***"
	}
	return s
}
