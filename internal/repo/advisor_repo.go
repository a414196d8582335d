package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/astralink/server/internal/model"
)

// AdvisorRepo defines the interface for advisor repository operations
type AdvisorRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.Advisor, error)
	List(ctx context.Context) ([]model.Advisor, error)
}

type advisorRepo struct {
	db *sql.DB
}

// NewAdvisorRepo creates a new AdvisorRepo instance
func NewAdvisorRepo(db *sql.DB) AdvisorRepo {
	return &advisorRepo{db: db}
}

func (r *advisorRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Advisor, error) {
	var a model.Advisor
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, specialty, bio, created_at
		FROM advisors
		WHERE id = $1
	`, id).Scan(&a.ID, &a.Name, &a.Specialty, &a.Bio, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Advisor{}, fmt.Errorf("advisor %s: %w", id, ErrNotFound)
		}
		return model.Advisor{}, fmt.Errorf("failed to query advisor: %w", err)
	}
	return a, nil
}

func (r *advisorRepo) List(ctx context.Context) ([]model.Advisor, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, specialty, bio, created_at
		FROM advisors
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list advisors: %w", err)
	}
	defer rows.Close()

	var advisors []model.Advisor
	for rows.Next() {
		var a model.Advisor
		if err := rows.Scan(&a.ID, &a.Name, &a.Specialty, &a.Bio, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan advisor: %w", err)
		}
		advisors = append(advisors, a)
	}
	return advisors, rows.Err()
}
