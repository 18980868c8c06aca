package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/rosterauth/internal/database"
	"github.com/BradenHooton/rosterauth/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LoginAttemptRepository is the postgres-backed attempt log.
// Rows are only ever inserted or bulk-deleted by age.
type LoginAttemptRepository struct {
	db *database.DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

const loginAttemptColumns = `id, username, ip_address, attempt_time, success, reason, account_id`

// Append records a login attempt and returns its id
func (r *LoginAttemptRepository) Append(ctx context.Context, attempt *models.LoginAttempt) (string, error) {
	id := attempt.ID
	if id == "" {
		id = uuid.New().String()
	}

	query := `
		INSERT INTO login_attempts (` + loginAttemptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		id,
		attempt.Username,
		attempt.IPAddress,
		attempt.Timestamp,
		attempt.Success,
		attempt.Reason,
		attempt.AccountID,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record login attempt: %w", database.MapPostgresError(err))
	}

	return id, nil
}

// QueryByIP returns attempts from an IP address with attempt_time >= since
func (r *LoginAttemptRepository) QueryByIP(ctx context.Context, ipAddress string, since time.Time) ([]*models.LoginAttempt, error) {
	query := `
		SELECT ` + loginAttemptColumns + ` FROM login_attempts
		WHERE ip_address = $1 AND attempt_time >= $2
	`

	rows, err := r.db.Pool.Query(ctx, query, ipAddress, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts by ip: %w", err)
	}
	return scanLoginAttempts(rows)
}

// QueryByUsername returns attempts for a username with attempt_time >= since
func (r *LoginAttemptRepository) QueryByUsername(ctx context.Context, username string, since time.Time) ([]*models.LoginAttempt, error) {
	query := `
		SELECT ` + loginAttemptColumns + ` FROM login_attempts
		WHERE username = $1 AND attempt_time >= $2
	`

	rows, err := r.db.Pool.Query(ctx, query, username, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts by username: %w", err)
	}
	return scanLoginAttempts(rows)
}

// DeleteOlderThan removes attempts with attempt_time < cutoff and returns how many went
func (r *LoginAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM login_attempts WHERE attempt_time < $1`

	tag, err := r.db.Pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old login attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanLoginAttempts(rows pgx.Rows) ([]*models.LoginAttempt, error) {
	defer rows.Close()

	attempts := make([]*models.LoginAttempt, 0)
	for rows.Next() {
		var a models.LoginAttempt
		if err := rows.Scan(&a.ID, &a.Username, &a.IPAddress, &a.Timestamp, &a.Success, &a.Reason, &a.AccountID); err != nil {
			return nil, fmt.Errorf("failed to scan login attempt: %w", err)
		}
		attempts = append(attempts, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return attempts, nil
}
