package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))

	assert.Equal(t, 5, cfg.CatchupDays)
	assert.Equal(t, int64(5*24*3600), cfg.CatchupDaysInSeconds())
	assert.Equal(t, 3, cfg.LoadRetries)
	assert.Equal(t, 2*time.Second, cfg.LoadRetryDelay)
	assert.Equal(t, defaultMaxProperties, cfg.MaxStreamProperties)
}

func TestLoadConfigParsesDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"m3uPath": "/data/list.m3u",
		"catchupDays": 2,
		"catchupWatchEpgBeginBufferMins": 1,
		"catchupWatchEpgEndBufferMins": 3,
		"loadRetryDelay": "500ms",
		"importRefreshInterval": "1h",
		"epgTimeShiftHours": 1.5
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg := LoadConfig(path)

	assert.Equal(t, "/data/list.m3u", cfg.M3UPath)
	assert.Equal(t, 500*time.Millisecond, cfg.LoadRetryDelay)
	assert.Equal(t, time.Hour, cfg.ImportRefreshInterval)
	assert.Equal(t, int64(60), cfg.CatchupWatchEpgBeginBufferSecs())
	assert.Equal(t, int64(180), cfg.CatchupWatchEpgEndBufferSecs())
	assert.Equal(t, 5400, cfg.EpgTimeShiftSecs())
	// unset values still get defaults
	assert.Equal(t, 30*time.Minute, cfg.InspectCacheDuration)
	assert.Equal(t, 1, cfg.StartNumber)
}

func TestLoadConfigDefaultsZeroCatchupValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"catchupDays": 0,
		"catchupWatchEpgBeginBufferMins": 0,
		"catchupWatchEpgEndBufferMins": -2
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg := LoadConfig(path)

	assert.Equal(t, 5, cfg.CatchupDays)
	assert.Equal(t, 5, cfg.CatchupWatchEpgBeginBufferMins)
	assert.Equal(t, 15, cfg.CatchupWatchEpgEndBufferMins)
	assert.Equal(t, int64(900), cfg.CatchupWatchEpgEndBufferSecs())
}

func TestConvertFromFileRejectsBadDuration(t *testing.T) {
	_, err := convertFromFile(&ConfigFile{LoadRetryDelay: "soon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loadRetryDelay")
}

func TestCreateExampleConfigRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.json")
	require.NoError(t, CreateExampleConfig(path))

	cfg := LoadConfig(path)
	assert.Equal(t, "?utc={utc}&lutc={lutc}", cfg.CatchupQueryFormat)
	assert.True(t, cfg.ObfuscateUrls)
	assert.Equal(t, "trailer", cfg.Filters.VODExcludeRegex)
}
