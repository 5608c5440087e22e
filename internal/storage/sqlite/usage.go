package sqlite

import (
	"context"
	"database/sql"
	"time"

	"kidfun/internal/core"
)

const usageLogColumns = `id, profile_id, device_id, session_id, app_name, activity_type,
	start_time, end_time, duration_seconds`

// ListUsageLogs returns logs for a profile whose start is in [from, to)
func (s *SQLiteStorage) ListUsageLogs(ctx context.Context, profileID string, from, to time.Time) ([]*core.UsageLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+usageLogColumns+`
		FROM usage_logs
		WHERE profile_id = ? AND start_time >= ? AND start_time < ?
		ORDER BY start_time
	`, profileID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	return collectUsageLogs(rows)
}

// GetUsageStats sums the closed logs of a profile whose start is in [from, to)
func (s *SQLiteStorage) GetUsageStats(ctx context.Context, profileID string, from, to time.Time) (*core.UsageStats, error) {
	stats := &core.UsageStats{ProfileID: profileID, From: from, To: to}

	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(duration_seconds), 0), COUNT(*)
		FROM usage_logs
		WHERE profile_id = ? AND end_time IS NOT NULL
		AND start_time >= ? AND start_time < ?
	`, profileID, from.UTC(), to.UTC()).Scan(&stats.TotalSeconds, &stats.LogCount)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// PurgeUsageLogs deletes closed logs that ended before the cutoff
func (s *SQLiteStorage) PurgeUsageLogs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM usage_logs WHERE end_time IS NOT NULL AND end_time < ?
	`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListOpenUsageLogs returns the open logs for profile+device, newest first
func (t *sqliteTx) ListOpenUsageLogs(ctx context.Context, profileID, deviceID string) ([]*core.UsageLog, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+usageLogColumns+`
		FROM usage_logs
		WHERE profile_id = ? AND device_id = ? AND end_time IS NULL
		ORDER BY start_time DESC
	`, profileID, deviceID)
	if err != nil {
		return nil, err
	}
	return collectUsageLogs(rows)
}

// CreateUsageLog opens a new usage log
func (t *sqliteTx) CreateUsageLog(ctx context.Context, log *core.UsageLog) error {
	var duration sql.NullInt64
	if log.DurationSeconds != nil {
		duration = sql.NullInt64{Int64: *log.DurationSeconds, Valid: true}
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO usage_logs (id, profile_id, device_id, session_id, app_name, activity_type,
			start_time, end_time, duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, log.ID, log.ProfileID, log.DeviceID, log.SessionID, log.AppName, log.ActivityType,
		log.StartTime.UTC(), nullTime(log.EndTime), duration)

	return err
}

// CloseUsageLog sets the end time and duration of an open log
func (t *sqliteTx) CloseUsageLog(ctx context.Context, id string, end time.Time, durationSeconds int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE usage_logs SET end_time = ?, duration_seconds = ?
		WHERE id = ? AND end_time IS NULL
	`, end.UTC(), durationSeconds, id)
	if err != nil {
		return err
	}
	return affected(res, core.ErrSessionNotActive)
}

func collectUsageLogs(rows *sql.Rows) ([]*core.UsageLog, error) {
	defer rows.Close()

	var logs []*core.UsageLog
	for rows.Next() {
		var log core.UsageLog
		var endTime sql.NullTime
		var duration sql.NullInt64

		if err := rows.Scan(&log.ID, &log.ProfileID, &log.DeviceID, &log.SessionID, &log.AppName,
			&log.ActivityType, &log.StartTime, &endTime, &duration); err != nil {
			return nil, err
		}

		log.EndTime = timePtr(endTime)
		if duration.Valid {
			d := duration.Int64
			log.DurationSeconds = &d
		}
		logs = append(logs, &log)
	}

	return logs, rows.Err()
}

// CreateWarning records a warning
func (s *SQLiteStorage) CreateWarning(ctx context.Context, warning *core.Warning) error {
	if warning.Type == "" {
		return core.ErrInvalidWarningType
	}
	if warning.CreatedAt.IsZero() {
		warning.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO warnings (id, profile_id, device_id, type, message, remaining_minutes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, warning.ID, warning.ProfileID, warning.DeviceID, warning.Type, warning.Message,
		warning.RemainingMinutes, warning.CreatedAt.UTC())

	return err
}

// ListWarnings returns warnings for profile+device created in [from, to)
func (s *SQLiteStorage) ListWarnings(ctx context.Context, profileID, deviceID string, from, to time.Time) ([]*core.Warning, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile_id, device_id, type, message, remaining_minutes, created_at
		FROM warnings
		WHERE profile_id = ? AND device_id = ? AND created_at >= ? AND created_at < ?
		ORDER BY created_at
	`, profileID, deviceID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	return collectWarnings(rows)
}

// ListRecentWarnings returns the latest warnings of a profile, newest first
func (s *SQLiteStorage) ListRecentWarnings(ctx context.Context, profileID string, limit int) ([]*core.Warning, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile_id, device_id, type, message, remaining_minutes, created_at
		FROM warnings WHERE profile_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, profileID, limit)
	if err != nil {
		return nil, err
	}
	return collectWarnings(rows)
}

// PurgeWarnings deletes warnings created before the cutoff
func (s *SQLiteStorage) PurgeWarnings(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM warnings WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func collectWarnings(rows *sql.Rows) ([]*core.Warning, error) {
	defer rows.Close()

	var warnings []*core.Warning
	for rows.Next() {
		var w core.Warning
		if err := rows.Scan(&w.ID, &w.ProfileID, &w.DeviceID, &w.Type, &w.Message,
			&w.RemainingMinutes, &w.CreatedAt); err != nil {
			return nil, err
		}
		warnings = append(warnings, &w)
	}

	return warnings, rows.Err()
}
