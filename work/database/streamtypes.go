package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kptv-catchup/work/types"
)

// StreamTypeRow is a stream type detected for a channel.
type StreamTypeRow struct {
	ChannelUID  int
	ChannelName string
	TestURL     string
	StreamType  types.StreamType
	MimeType    string // manifest mime type handed to the player
	ContentType string // mime type sniffed from the response body
	DetectedAt  time.Time
}

// ImportRow records one catalog import.
type ImportRow struct {
	ID          int64
	StartedAt   time.Time
	Duration    time.Duration
	Channels    int
	Groups      int
	EpgChannels int
	Programmes  int
	Success     bool
	Error       string
}

// SaveStreamType stores or replaces the detection result for a channel.
func (db *DB) SaveStreamType(row StreamTypeRow) error {
	detectedAt := row.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO stream_types (channel_uid, channel_name, test_url, stream_type, mime_type, content_type, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel_uid) DO UPDATE SET
			channel_name = excluded.channel_name,
			test_url = excluded.test_url,
			stream_type = excluded.stream_type,
			mime_type = excluded.mime_type,
			content_type = excluded.content_type,
			detected_at = excluded.detected_at
	`, row.ChannelUID, row.ChannelName, row.TestURL, row.StreamType.String(), row.MimeType, row.ContentType, detectedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save stream type: %w", err)
	}
	return nil
}

// GetStreamType returns the stored detection for a channel, or types.ErrNotFound.
func (db *DB) GetStreamType(channelUID int) (StreamTypeRow, error) {
	var (
		row        StreamTypeRow
		streamType string
		detectedAt int64
	)
	err := db.QueryRow(`
		SELECT channel_uid, channel_name, test_url, stream_type, mime_type, content_type, detected_at
		FROM stream_types WHERE channel_uid = ?
	`, channelUID).Scan(&row.ChannelUID, &row.ChannelName, &row.TestURL, &streamType, &row.MimeType, &row.ContentType, &detectedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return StreamTypeRow{}, types.ErrNotFound
	}
	if err != nil {
		return StreamTypeRow{}, fmt.Errorf("failed to load stream type: %w", err)
	}
	row.StreamType = types.ParseStreamType(streamType)
	row.DetectedAt = time.Unix(detectedAt, 0)
	return row, nil
}

// LoadStreamTypes returns every stored detection.
func (db *DB) LoadStreamTypes() ([]StreamTypeRow, error) {
	rows, err := db.Query(`
		SELECT channel_uid, channel_name, test_url, stream_type, mime_type, content_type, detected_at
		FROM stream_types ORDER BY channel_uid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stream types: %w", err)
	}
	defer rows.Close()

	var out []StreamTypeRow
	for rows.Next() {
		var (
			row        StreamTypeRow
			streamType string
			detectedAt int64
		)
		if err := rows.Scan(&row.ChannelUID, &row.ChannelName, &row.TestURL, &streamType, &row.MimeType, &row.ContentType, &detectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stream type: %w", err)
		}
		row.StreamType = types.ParseStreamType(streamType)
		row.DetectedAt = time.Unix(detectedAt, 0)
		out = append(out, row)
	}
	return out, rows.Err()
}

// DeleteStreamTypesNotIn removes detections for channels that left the playlist.
func (db *DB) DeleteStreamTypesNotIn(uids []int) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("CREATE TEMP TABLE IF NOT EXISTS keep_uids (uid INTEGER PRIMARY KEY)"); err != nil {
		return 0, fmt.Errorf("failed to create temp table: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM keep_uids"); err != nil {
		return 0, fmt.Errorf("failed to reset temp table: %w", err)
	}

	stmt, err := tx.Prepare("INSERT OR IGNORE INTO keep_uids (uid) VALUES (?)")
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, uid := range uids {
		if _, err := stmt.Exec(uid); err != nil {
			return 0, fmt.Errorf("failed to insert uid: %w", err)
		}
	}

	res, err := tx.Exec("DELETE FROM stream_types WHERE channel_uid NOT IN (SELECT uid FROM keep_uids)")
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale stream types: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return res.RowsAffected()
}

// RecordImport appends an import to the history.
func (db *DB) RecordImport(row ImportRow) error {
	success := 0
	if row.Success {
		success = 1
	}
	_, err := db.Exec(`
		INSERT INTO import_history (started_at, duration_ms, channels, groups_count, epg_channels, programmes, success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, row.StartedAt.Unix(), row.Duration.Milliseconds(), row.Channels, row.Groups, row.EpgChannels, row.Programmes, success, row.Error)
	if err != nil {
		return fmt.Errorf("failed to record import: %w", err)
	}
	return nil
}

// RecentImports returns the latest imports, newest first.
func (db *DB) RecentImports(limit int) ([]ImportRow, error) {
	rows, err := db.Query(`
		SELECT id, started_at, duration_ms, channels, groups_count, epg_channels, programmes, success, error
		FROM import_history ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query imports: %w", err)
	}
	defer rows.Close()

	var out []ImportRow
	for rows.Next() {
		var (
			row        ImportRow
			startedAt  int64
			durationMs int64
			success    int
		)
		if err := rows.Scan(&row.ID, &startedAt, &durationMs, &row.Channels, &row.Groups, &row.EpgChannels, &row.Programmes, &success, &row.Error); err != nil {
			return nil, fmt.Errorf("failed to scan import: %w", err)
		}
		row.StartedAt = time.Unix(startedAt, 0)
		row.Duration = time.Duration(durationMs) * time.Millisecond
		row.Success = success == 1
		out = append(out, row)
	}
	return out, rows.Err()
}
