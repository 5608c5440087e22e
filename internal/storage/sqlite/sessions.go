package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"kidfun/internal/core"

	"github.com/mattn/go-sqlite3"
)

const sessionColumns = `id, profile_id, device_id, start_time, end_time, status,
	elapsed_minutes, reported_minutes, bonus_minutes, end_reason, created_at, updated_at`

// GetSession retrieves a session by ID
func (s *SQLiteStorage) GetSession(ctx context.Context, id string) (*core.Session, error) {
	return getSession(ctx, s.db, id)
}

// GetActiveSessionByDevice retrieves the active session of a device
func (s *SQLiteStorage) GetActiveSessionByDevice(ctx context.Context, deviceID string) (*core.Session, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions WHERE device_id = ? AND status = ?
	`, deviceID, core.SessionStatusActive))

	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNoActiveSession
	}
	return session, err
}

// GetActiveSessionByProfile retrieves the most recently started active session of a profile
func (s *SQLiteStorage) GetActiveSessionByProfile(ctx context.Context, profileID string) (*core.Session, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions WHERE profile_id = ? AND status = ?
		ORDER BY start_time DESC LIMIT 1
	`, profileID, core.SessionStatusActive))

	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNoActiveSession
	}
	return session, err
}

// IncrementSessionBonus adds minutes to the bonus of an active session in a
// single UPDATE so concurrent grants never lose an increment.
func (s *SQLiteStorage) IncrementSessionBonus(ctx context.Context, sessionID string, minutes int, now time.Time) (int, error) {
	if minutes <= 0 {
		return 0, core.ErrInvalidBonus
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions SET bonus_minutes = bonus_minutes + ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, minutes, now.UTC(), sessionID, core.SessionStatusActive)
	if err != nil {
		return 0, err
	}
	if err := affected(res, core.ErrSessionNotActive); err != nil {
		return 0, err
	}

	var total int
	err = tx.QueryRowContext(ctx, `SELECT bonus_minutes FROM sessions WHERE id = ?`, sessionID).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, tx.Commit()
}

// GetSession retrieves a session by ID within the transaction
func (t *sqliteTx) GetSession(ctx context.Context, id string) (*core.Session, error) {
	return getSession(ctx, t.tx, id)
}

// ListActiveSessionsByDevice returns every active session of a device
func (t *sqliteTx) ListActiveSessionsByDevice(ctx context.Context, deviceID string) ([]*core.Session, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions WHERE device_id = ? AND status = ?
		ORDER BY start_time
	`, deviceID, core.SessionStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*core.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	return sessions, rows.Err()
}

// CreateSession creates a new session
func (t *sqliteTx) CreateSession(ctx context.Context, session *core.Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = session.StartTime
	}
	session.UpdatedAt = session.CreatedAt

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sessions (id, profile_id, device_id, start_time, end_time, status,
			elapsed_minutes, reported_minutes, bonus_minutes, end_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, session.ID, session.ProfileID, session.DeviceID, session.StartTime.UTC(), nullTime(session.EndTime),
		session.Status, session.ElapsedMinutes, session.ReportedMinutes, session.BonusMinutes,
		session.EndReason, session.CreatedAt.UTC(), session.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		// Another writer started a session for this device first
		return core.ErrSessionAlreadyActive
	}

	return err
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// CompleteSession persists the terminal state of a session
func (t *sqliteTx) CompleteSession(ctx context.Context, session *core.Session) error {
	updatedAt := time.Now()
	if session.EndTime != nil {
		updatedAt = *session.EndTime
	}
	session.UpdatedAt = updatedAt

	res, err := t.tx.ExecContext(ctx, `
		UPDATE sessions
		SET status = ?, end_time = ?, elapsed_minutes = ?, end_reason = ?, updated_at = ?
		WHERE id = ?
	`, session.Status, nullTime(session.EndTime), session.ElapsedMinutes, session.EndReason,
		updatedAt.UTC(), session.ID)
	if err != nil {
		return err
	}
	return affected(res, core.ErrSessionNotFound)
}

// UpdateReportedMinutes stores the client's own elapsed count
func (t *sqliteTx) UpdateReportedMinutes(ctx context.Context, sessionID string, minutes int, now time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sessions SET reported_minutes = ?, updated_at = ? WHERE id = ?
	`, minutes, now.UTC(), sessionID)
	if err != nil {
		return err
	}
	return affected(res, core.ErrSessionNotFound)
}

func getSession(ctx context.Context, q queryer, id string) (*core.Session, error) {
	session, err := scanSession(q.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions WHERE id = ?
	`, id))

	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrSessionNotFound
	}
	return session, err
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*core.Session, error) {
	var session core.Session
	var endTime sql.NullTime
	var status string

	err := row.Scan(&session.ID, &session.ProfileID, &session.DeviceID, &session.StartTime, &endTime,
		&status, &session.ElapsedMinutes, &session.ReportedMinutes, &session.BonusMinutes,
		&session.EndReason, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, err
	}

	session.Status = core.SessionStatus(status)
	session.EndTime = timePtr(endTime)
	return &session, nil
}
