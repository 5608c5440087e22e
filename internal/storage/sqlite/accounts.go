package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"kidfun/internal/core"
)

// CreateAccount creates a new parent account
func (s *SQLiteStorage) CreateAccount(ctx context.Context, account *core.Account) error {
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	if account.Email == "" {
		return fmt.Errorf("%w: email cannot be empty", core.ErrInvalidInput)
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`, account.ID, account.Email, account.PasswordHash, account.CreatedAt.UTC())

	return err
}

// GetAccountByEmail retrieves an account by its (case-insensitive) email
func (s *SQLiteStorage) GetAccountByEmail(ctx context.Context, email string) (*core.Account, error) {
	var account core.Account

	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at
		FROM accounts WHERE email = ?
	`, strings.ToLower(strings.TrimSpace(email))).Scan(&account.ID, &account.Email, &account.PasswordHash, &account.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	return &account, nil
}

// CreateProfile creates a new profile
func (s *SQLiteStorage) CreateProfile(ctx context.Context, profile *core.Profile) error {
	if strings.TrimSpace(profile.Name) == "" {
		return core.ErrInvalidName
	}

	now := time.Now()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, account_id, name, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, profile.ID, profile.AccountID, profile.Name, profile.Active, now.UTC(), now.UTC())

	return err
}

// GetProfile retrieves a profile by ID
func (s *SQLiteStorage) GetProfile(ctx context.Context, id string) (*core.Profile, error) {
	var profile core.Profile

	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, name, active, created_at, updated_at
		FROM profiles WHERE id = ?
	`, id).Scan(&profile.ID, &profile.AccountID, &profile.Name, &profile.Active,
		&profile.CreatedAt, &profile.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}

	return &profile, nil
}

// ListProfiles retrieves all profiles of an account
func (s *SQLiteStorage) ListProfiles(ctx context.Context, accountID string) ([]*core.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, name, active, created_at, updated_at
		FROM profiles WHERE account_id = ? ORDER BY name
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*core.Profile
	for rows.Next() {
		var profile core.Profile
		if err := rows.Scan(&profile.ID, &profile.AccountID, &profile.Name, &profile.Active,
			&profile.CreatedAt, &profile.UpdatedAt); err != nil {
			return nil, err
		}
		profiles = append(profiles, &profile)
	}

	return profiles, rows.Err()
}

// UpsertDayLimit creates or replaces the limit for one weekday
func (s *SQLiteStorage) UpsertDayLimit(ctx context.Context, limit *core.DayLimit) error {
	if limit.Weekday < time.Sunday || limit.Weekday > time.Saturday {
		return core.ErrInvalidWeekday
	}
	if limit.DailyMinutes < 0 {
		return core.ErrInvalidDailyMinutes
	}

	limit.UpdatedAt = time.Now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO day_limits (profile_id, weekday, daily_minutes, gradual_increase, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(profile_id, weekday) DO UPDATE SET
			daily_minutes = excluded.daily_minutes,
			gradual_increase = excluded.gradual_increase,
			updated_at = excluded.updated_at
	`, limit.ProfileID, int(limit.Weekday), limit.DailyMinutes, limit.GradualIncrease, limit.UpdatedAt.UTC())

	return err
}

// GetDayLimit retrieves the limit for one weekday
func (s *SQLiteStorage) GetDayLimit(ctx context.Context, profileID string, weekday time.Weekday) (*core.DayLimit, error) {
	var limit core.DayLimit
	var day int

	err := s.db.QueryRowContext(ctx, `
		SELECT profile_id, weekday, daily_minutes, gradual_increase, updated_at
		FROM day_limits WHERE profile_id = ? AND weekday = ?
	`, profileID, int(weekday)).Scan(&limit.ProfileID, &day, &limit.DailyMinutes,
		&limit.GradualIncrease, &limit.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrDayLimitNotFound
	}
	if err != nil {
		return nil, err
	}

	limit.Weekday = time.Weekday(day)
	return &limit, nil
}

// CreateDevice registers a new device
func (s *SQLiteStorage) CreateDevice(ctx context.Context, device *core.Device) error {
	if strings.TrimSpace(device.Name) == "" {
		return core.ErrInvalidName
	}
	if device.Code == "" {
		return core.ErrInvalidDeviceCode
	}

	device.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (id, account_id, profile_id, name, code, is_online, last_seen, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, device.ID, device.AccountID, nullString(device.ProfileID), device.Name, device.Code,
		device.IsOnline, nullTime(device.LastSeen), device.CreatedAt.UTC())

	return err
}

// GetDevice retrieves a device by ID
func (s *SQLiteStorage) GetDevice(ctx context.Context, id string) (*core.Device, error) {
	return s.getDevice(ctx, "id = ?", id)
}

// GetDeviceByCode retrieves a device by the code it presents
func (s *SQLiteStorage) GetDeviceByCode(ctx context.Context, code string) (*core.Device, error) {
	return s.getDevice(ctx, "code = ?", code)
}

// UnassignDevice removes the profile binding of a device and marks it offline
func (s *SQLiteStorage) UnassignDevice(ctx context.Context, deviceID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE devices SET profile_id = NULL, is_online = 0 WHERE id = ?
	`, deviceID)
	if err != nil {
		return err
	}
	return affected(res, core.ErrDeviceNotFound)
}

func (s *SQLiteStorage) getDevice(ctx context.Context, condition string, arg any) (*core.Device, error) {
	var device core.Device
	var profileID sql.NullString
	var lastSeen sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, profile_id, name, code, is_online, last_seen, created_at
		FROM devices WHERE `+condition, arg).Scan(&device.ID, &device.AccountID, &profileID,
		&device.Name, &device.Code, &device.IsOnline, &lastSeen, &device.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}

	device.ProfileID = profileID.String
	device.LastSeen = timePtr(lastSeen)
	return &device, nil
}

// SetDeviceOnline records liveness of a device
func (t *sqliteTx) SetDeviceOnline(ctx context.Context, deviceID string, online bool, seen time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE devices SET is_online = ?, last_seen = ? WHERE id = ?
	`, online, seen.UTC(), deviceID)
	if err != nil {
		return err
	}
	return affected(res, core.ErrDeviceNotFound)
}
