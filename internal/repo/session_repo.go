package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/astralink/server/internal/model"
)

// SessionRepo defines the interface for session repository operations used
// by the synchronous metering path. Each method is a single atomic
// statement; the background sweeps go through SweepStore instead, which
// holds row locks across a whole per-session visit.
type SessionRepo interface {
	// GetActive returns the one non-archived session for the pair.
	GetActive(ctx context.Context, userID, advisorID uuid.UUID) (model.Session, error)
	// CreateTrial opens a fresh trial session. If another request won the
	// creation race, the existing active session is returned instead.
	CreateTrial(ctx context.Context, userID, advisorID uuid.UUID, start time.Time, trialDuration time.Duration) (model.Session, error)
	// CreatePaid opens a fresh session already past its trial (the user's
	// global flag is set), ready for paid evaluation.
	CreatePaid(ctx context.Context, userID, advisorID uuid.UUID, now time.Time) (model.Session, error)
	// ConsumeTrial marks the trial spent and archives the session.
	ConsumeTrial(ctx context.Context, sessionID uuid.UUID) error
	// ClosePaidWindow clears the paid window and archives the session.
	ClosePaidWindow(ctx context.Context, sessionID uuid.UUID) error
	// StartPaidWindow anchors a paid window at start with the credit grant.
	StartPaidWindow(ctx context.Context, sessionID uuid.UUID, start time.Time, initialCredits int) error
	// ChargeMinutes deducts whole minutes from the wallet and moves the
	// session's last_charge_time forward in one transaction, so the charge
	// and its checkpoint can never diverge. Returns ErrInsufficientCredits
	// when the balance does not cover the minutes.
	ChargeMinutes(ctx context.Context, sessionID, userID uuid.UUID, minutes int, checkpoint time.Time) (model.Wallet, error)
	// HasOtherActivePaidWindow reports whether the user has an open paid
	// window with any advisor other than the given one.
	HasOtherActivePaidWindow(ctx context.Context, userID, advisorID uuid.UUID) (bool, error)
}

type sessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a new SessionRepo instance
func NewSessionRepo(db *sql.DB) SessionRepo {
	return &sessionRepo{db: db}
}

const sessionColumns = `id, user_id, advisor_id, start_time, trial_end_time,
	remaining_trial_seconds, last_charge_time, paid_mode, paid_start_time,
	trial_consumed, initial_credits, archived, created_at, updated_at`

func scanSession(row *sql.Row) (model.Session, error) {
	var s model.Session
	var paidStart sql.NullTime
	var initialCredits sql.NullInt64
	err := row.Scan(
		&s.ID, &s.UserID, &s.AdvisorID, &s.StartTime, &s.TrialEndTime,
		&s.RemainingTrialSeconds, &s.LastChargeTime, &s.PaidMode, &paidStart,
		&s.TrialConsumed, &initialCredits, &s.Archived, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return model.Session{}, err
	}
	if paidStart.Valid {
		t := paidStart.Time
		s.PaidStartTime = &t
	}
	if initialCredits.Valid {
		n := int(initialCredits.Int64)
		s.InitialCredits = &n
	}
	return s, nil
}

func (r *sessionRepo) GetActive(ctx context.Context, userID, advisorID uuid.UUID) (model.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE user_id = $1 AND advisor_id = $2 AND NOT archived
	`, userID, advisorID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, fmt.Errorf("session for %s/%s: %w", userID, advisorID, ErrNotFound)
		}
		return model.Session{}, fmt.Errorf("failed to query session: %w", err)
	}
	return s, nil
}

func (r *sessionRepo) CreateTrial(ctx context.Context, userID, advisorID uuid.UUID, start time.Time, trialDuration time.Duration) (model.Session, error) {
	trialEnd := start.Add(trialDuration)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, advisor_id, start_time, trial_end_time,
			remaining_trial_seconds, last_charge_time)
		VALUES ($1, $2, $3, $4, $5, $3)
		ON CONFLICT (user_id, advisor_id) WHERE NOT archived DO NOTHING
	`, userID, advisorID, start, trialEnd, int(trialDuration.Seconds()))
	if err != nil {
		return model.Session{}, fmt.Errorf("failed to insert trial session: %w", err)
	}
	return r.GetActive(ctx, userID, advisorID)
}

func (r *sessionRepo) CreatePaid(ctx context.Context, userID, advisorID uuid.UUID, now time.Time) (model.Session, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, advisor_id, start_time, trial_end_time,
			remaining_trial_seconds, last_charge_time, trial_consumed)
		VALUES ($1, $2, $3, $3, 0, $3, TRUE)
		ON CONFLICT (user_id, advisor_id) WHERE NOT archived DO NOTHING
	`, userID, advisorID, now)
	if err != nil {
		return model.Session{}, fmt.Errorf("failed to insert paid session: %w", err)
	}
	return r.GetActive(ctx, userID, advisorID)
}

func (r *sessionRepo) ConsumeTrial(ctx context.Context, sessionID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET trial_consumed = TRUE, remaining_trial_seconds = 0, archived = TRUE, updated_at = now()
		WHERE id = $1 AND NOT archived
	`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to consume trial: %w", err)
	}
	return nil
}

func (r *sessionRepo) ClosePaidWindow(ctx context.Context, sessionID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET paid_mode = FALSE, paid_start_time = NULL, archived = TRUE, updated_at = now()
		WHERE id = $1 AND NOT archived
	`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to close paid window: %w", err)
	}
	return nil
}

func (r *sessionRepo) StartPaidWindow(ctx context.Context, sessionID uuid.UUID, start time.Time, initialCredits int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET paid_mode = TRUE, paid_start_time = $2, initial_credits = $3,
			last_charge_time = $2, updated_at = now()
		WHERE id = $1 AND NOT archived AND NOT paid_mode
	`, sessionID, start, initialCredits)
	if err != nil {
		return fmt.Errorf("failed to start paid window: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

func (r *sessionRepo) ChargeMinutes(ctx context.Context, sessionID, userID uuid.UUID, minutes int, checkpoint time.Time) (model.Wallet, error) {
	if minutes <= 0 {
		return model.Wallet{}, fmt.Errorf("minutes must be positive, got %d", minutes)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Wallet{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	w, err := scanWallet(tx.QueryRowContext(ctx, `
		UPDATE wallets
		SET credits = credits - $2, updated_at = now()
		WHERE user_id = $1 AND credits >= $2
		RETURNING `+walletColumns+`
	`, userID, minutes))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Wallet{}, ErrInsufficientCredits
		}
		return model.Wallet{}, fmt.Errorf("failed to deduct from wallet: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET last_charge_time = $2, updated_at = now()
		WHERE id = $1 AND NOT archived
	`, sessionID, checkpoint); err != nil {
		return model.Wallet{}, fmt.Errorf("failed to advance charge checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Wallet{}, fmt.Errorf("commit: %w", err)
	}
	return w, nil
}

func (r *sessionRepo) HasOtherActivePaidWindow(ctx context.Context, userID, advisorID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sessions
			WHERE user_id = $1 AND advisor_id <> $2
				AND paid_mode AND paid_start_time IS NOT NULL AND NOT archived
		)
	`, userID, advisorID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query paid windows: %w", err)
	}
	return exists, nil
}
