package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/astralink/server/internal/model"
)

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetOrCreateByEmail(ctx context.Context, email, username string) (model.User, error)
	// MarkTrialUsed flips the global free-trial flag. The update is a
	// compare-and-swap: it reports true only for the single call that
	// actually set the flag, so the trial is granted at most once per user.
	MarkTrialUsed(ctx context.Context, id uuid.UUID) (bool, error)
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	query := `
		SELECT id, email, username, free_trial_used, created_at
		FROM users
		WHERE id = $1
	`
	var user model.User
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.FreeTrialUsed,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// GetOrCreateByEmail retrieves a user by email or creates one if it doesn't exist
func (r *userRepo) GetOrCreateByEmail(ctx context.Context, email, username string) (model.User, error) {
	query := `
		INSERT INTO users (email, username)
		VALUES ($1, $2)
		ON CONFLICT (email) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query, email, username)
	if err != nil {
		return model.User{}, fmt.Errorf("failed to insert user: %w", err)
	}

	// Now select the user (whether it was just created or already existed)
	var user model.User
	err = r.db.QueryRowContext(ctx, `
		SELECT id, email, username, free_trial_used, created_at
		FROM users
		WHERE email = $1
	`, email).Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.FreeTrialUsed,
		&user.CreatedAt,
	)
	if err != nil {
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

func (r *userRepo) MarkTrialUsed(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET free_trial_used = TRUE
		WHERE id = $1 AND free_trial_used = FALSE
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark trial used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
