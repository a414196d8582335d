package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/astralink/server/internal/model"
)

// FeedbackWithAuthor is a feedback row joined with the author's username for
// display.
type FeedbackWithAuthor struct {
	model.Feedback
	Username string
}

// FeedbackRepo defines the interface for feedback repository operations
type FeedbackRepo interface {
	Create(ctx context.Context, userID, advisorID uuid.UUID, rating int, message string) (model.Feedback, error)
	ListByAdvisor(ctx context.Context, advisorID uuid.UUID) ([]FeedbackWithAuthor, error)
}

type feedbackRepo struct {
	db *sql.DB
}

// NewFeedbackRepo creates a new FeedbackRepo instance
func NewFeedbackRepo(db *sql.DB) FeedbackRepo {
	return &feedbackRepo{db: db}
}

func (r *feedbackRepo) Create(ctx context.Context, userID, advisorID uuid.UUID, rating int, message string) (model.Feedback, error) {
	var f model.Feedback
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO feedback (user_id, advisor_id, rating, message)
		VALUES ($1, $2, $3, $4)
		RETURNING id, user_id, advisor_id, rating, message, created_at
	`, userID, advisorID, rating, message).Scan(
		&f.ID, &f.UserID, &f.AdvisorID, &f.Rating, &f.Message, &f.CreatedAt,
	)
	if err != nil {
		return model.Feedback{}, fmt.Errorf("failed to insert feedback: %w", err)
	}
	return f, nil
}

func (r *feedbackRepo) ListByAdvisor(ctx context.Context, advisorID uuid.UUID) ([]FeedbackWithAuthor, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT f.id, f.user_id, f.advisor_id, f.rating, f.message, f.created_at, u.username
		FROM feedback f
		JOIN users u ON u.id = f.user_id
		WHERE f.advisor_id = $1
		ORDER BY f.created_at DESC
	`, advisorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	var out []FeedbackWithAuthor
	for rows.Next() {
		var f FeedbackWithAuthor
		if err := rows.Scan(&f.ID, &f.UserID, &f.AdvisorID, &f.Rating, &f.Message, &f.CreatedAt, &f.Username); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
