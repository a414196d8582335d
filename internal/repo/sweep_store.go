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

// SweepStore is the background schedulers' view of the store. Each Visit*
// call runs one per-session transaction: the session row (and, for billing,
// the wallet row) is taken with SELECT ... FOR UPDATE SKIP LOCKED, the
// callback computes the mutation from the locked snapshot, and the
// transaction applies it. A row held by another actor yields ErrLocked, which
// means skip this tick. Locks always release with the transaction, on
// success, error and crash alike.
type SweepStore interface {
	ListBillable(ctx context.Context) ([]uuid.UUID, error)
	VisitBillable(ctx context.Context, sessionID uuid.UUID, fn BillableFunc) error

	ListTrial(ctx context.Context) ([]uuid.UUID, error)
	VisitTrial(ctx context.Context, sessionID uuid.UUID, fn TrialFunc) error
}

// BillableVisit is the locked snapshot handed to the paid-deduction callback.
type BillableVisit struct {
	Session model.Session
	Wallet  model.Wallet
}

// BillableResult describes the mutation to apply before commit.
type BillableResult struct {
	SetCredits      *int       // floor-correct the wallet to this value
	StampChargeTime *time.Time // update last_charge_time
	CloseAndArchive bool       // clear the paid window and archive
}

// BillableFunc computes a BillableResult from a locked snapshot.
type BillableFunc func(v BillableVisit) (BillableResult, error)

// TrialVisit is the locked snapshot handed to the trial-expiry callback.
// TrialUsed is the user's global flag; Credits is the wallet balance read
// for the broadcast snapshot (zero when no wallet exists yet).
type TrialVisit struct {
	Session   model.Session
	TrialUsed bool
	Credits   int
}

// TrialResult describes the mutation to apply before commit.
type TrialResult struct {
	RemainingTrialSeconds *int
	ConsumeAndArchive     bool
	MarkUserTrialUsed     bool
}

// TrialFunc computes a TrialResult from a locked snapshot.
type TrialFunc func(v TrialVisit) (TrialResult, error)

type sweepStore struct {
	db *sql.DB
}

// NewSweepStore creates a new SweepStore instance
func NewSweepStore(db *sql.DB) SweepStore {
	return &sweepStore{db: db}
}

func (s *sweepStore) ListBillable(ctx context.Context) ([]uuid.UUID, error) {
	return s.listIDs(ctx, `
		SELECT id FROM sessions
		WHERE paid_mode AND paid_start_time IS NOT NULL AND NOT archived
	`)
}

func (s *sweepStore) ListTrial(ctx context.Context) ([]uuid.UUID, error) {
	return s.listIDs(ctx, `
		SELECT id FROM sessions
		WHERE NOT trial_consumed AND NOT archived
	`)
}

func (s *sweepStore) listIDs(ctx context.Context, query string) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sweepStore) VisitBillable(ctx context.Context, sessionID uuid.UUID, fn BillableFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	sess, err := lockSession(ctx, tx, sessionID, `paid_mode AND paid_start_time IS NOT NULL AND NOT archived`)
	if err != nil {
		return err
	}

	wallet, err := lockWallet(ctx, tx, sess.UserID)
	if err != nil {
		return err
	}

	res, err := fn(BillableVisit{Session: sess, Wallet: wallet})
	if err != nil {
		return err
	}

	if res.SetCredits != nil {
		if _, err := tx.ExecContext(ctx, `
			UPDATE wallets SET credits = $2, updated_at = now() WHERE user_id = $1
		`, sess.UserID, *res.SetCredits); err != nil {
			return fmt.Errorf("update wallet: %w", err)
		}
	}
	if res.StampChargeTime != nil {
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions SET last_charge_time = $2, updated_at = now() WHERE id = $1
		`, sess.ID, *res.StampChargeTime); err != nil {
			return fmt.Errorf("stamp charge time: %w", err)
		}
	}
	if res.CloseAndArchive {
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions
			SET paid_mode = FALSE, paid_start_time = NULL, archived = TRUE, updated_at = now()
			WHERE id = $1
		`, sess.ID); err != nil {
			return fmt.Errorf("close paid window: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *sweepStore) VisitTrial(ctx context.Context, sessionID uuid.UUID, fn TrialFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	sess, err := lockSession(ctx, tx, sessionID, `NOT trial_consumed AND NOT archived`)
	if err != nil {
		return err
	}

	var trialUsed bool
	if err := tx.QueryRowContext(ctx, `
		SELECT free_trial_used FROM users WHERE id = $1
	`, sess.UserID).Scan(&trialUsed); err != nil {
		return fmt.Errorf("load user trial flag: %w", err)
	}

	var credits int
	err = tx.QueryRowContext(ctx, `
		SELECT credits FROM wallets WHERE user_id = $1
	`, sess.UserID).Scan(&credits)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load wallet credits: %w", err)
	}

	res, err := fn(TrialVisit{Session: sess, TrialUsed: trialUsed, Credits: credits})
	if err != nil {
		return err
	}

	if res.RemainingTrialSeconds != nil {
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions SET remaining_trial_seconds = $2, updated_at = now() WHERE id = $1
		`, sess.ID, *res.RemainingTrialSeconds); err != nil {
			return fmt.Errorf("update remaining trial: %w", err)
		}
	}
	if res.ConsumeAndArchive {
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions
			SET trial_consumed = TRUE, remaining_trial_seconds = 0, archived = TRUE, updated_at = now()
			WHERE id = $1
		`, sess.ID); err != nil {
			return fmt.Errorf("consume trial: %w", err)
		}
	}
	if res.MarkUserTrialUsed {
		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET free_trial_used = TRUE WHERE id = $1 AND free_trial_used = FALSE
		`, sess.UserID); err != nil {
			return fmt.Errorf("mark user trial used: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// lockSession takes the row lock for one session, skipping instead of
// blocking when another actor holds it. Zero rows means either the lock is
// held elsewhere or the session left the sweep's criteria since listing;
// both map to skipping this tick.
func lockSession(ctx context.Context, tx *sql.Tx, sessionID uuid.UUID, criteria string) (model.Session, error) {
	s, err := scanSession(tx.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE id = $1 AND `+criteria+`
		FOR UPDATE SKIP LOCKED
	`, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, ErrLocked
		}
		return model.Session{}, fmt.Errorf("lock session: %w", err)
	}
	return s, nil
}

func lockWallet(ctx context.Context, tx *sql.Tx, userID uuid.UUID) (model.Wallet, error) {
	w, err := scanWallet(tx.QueryRowContext(ctx, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE SKIP LOCKED
	`, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Wallet{}, ErrLocked
		}
		return model.Wallet{}, fmt.Errorf("lock wallet: %w", err)
	}
	return w, nil
}
