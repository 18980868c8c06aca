package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/rosterauth/internal/database"
	"github.com/BradenHooton/rosterauth/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AccountRepository reads credential records from the personnel store and
// writes back the two password fields
type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{pool: db.Pool}
}

// rowScanner interface for scanning account rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var account models.Account

	err := scanner.Scan(
		&account.ID, &account.Username, &account.Email, &account.DisplayName,
		&account.PasswordHash, &account.PasswordSalt, &account.IsActive,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &account, nil
}

// FindByUsername returns the account for username, with its roles.
// Returns models.ErrNotFound when no account matches.
func (r *AccountRepository) FindByUsername(ctx context.Context, username string) (*models.Account, error) {
	query := `
		SELECT id, username, email, display_name, password_hash, password_salt, is_active
		FROM accounts WHERE username = $1
	`

	account, err := scanAccountRow(r.pool.QueryRow(ctx, query, username))
	if err != nil {
		return nil, err
	}

	roles, err := r.RolesOf(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	account.Roles = roles

	return account, nil
}

// GetByID returns the account with the given id, with its roles
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `
		SELECT id, username, email, display_name, password_hash, password_salt, is_active
		FROM accounts WHERE id = $1
	`

	account, err := scanAccountRow(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}

	roles, err := r.RolesOf(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	account.Roles = roles

	return account, nil
}

// RolesOf lists role names assigned to an account, oldest assignment first
func (r *AccountRepository) RolesOf(ctx context.Context, accountID string) ([]string, error) {
	query := `
		SELECT role_name FROM account_roles
		WHERE account_id = $1
		ORDER BY assigned_at, role_name
	`

	rows, err := r.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}

	roles, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan roles: %w", err)
	}
	return roles, nil
}

// SetPasswordFields replaces the stored hash and salt together
func (r *AccountRepository) SetPasswordFields(ctx context.Context, accountID, passwordHash, passwordSalt string) error {
	query := `
		UPDATE accounts
		SET password_hash = $2, password_salt = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, accountID, passwordHash, passwordSalt)
	if err != nil {
		return fmt.Errorf("failed to update password fields: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
