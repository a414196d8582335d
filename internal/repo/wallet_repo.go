package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/astralink/server/internal/model"
)

// WalletRepo defines the interface for wallet repository operations. The
// metering engine only ever decrements; Credit is the external top-up
// boundary and the sole path that increases a balance.
type WalletRepo interface {
	Get(ctx context.Context, userID uuid.UUID) (model.Wallet, error)
	GetOrCreate(ctx context.Context, userID uuid.UUID) (model.Wallet, error)
	Credit(ctx context.Context, userID uuid.UUID, amount int) (model.Wallet, error)
	// Deduct atomically subtracts amount if and only if the balance covers
	// it; returns ErrInsufficientCredits otherwise. The balance can never
	// go negative through this path.
	Deduct(ctx context.Context, userID uuid.UUID, amount int) (model.Wallet, error)
}

type walletRepo struct {
	db *sql.DB
}

// NewWalletRepo creates a new WalletRepo instance
func NewWalletRepo(db *sql.DB) WalletRepo {
	return &walletRepo{db: db}
}

const walletColumns = `id, user_id, credits, created_at, updated_at`

func scanWallet(row *sql.Row) (model.Wallet, error) {
	var w model.Wallet
	err := row.Scan(&w.ID, &w.UserID, &w.Credits, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

func (r *walletRepo) Get(ctx context.Context, userID uuid.UUID) (model.Wallet, error) {
	w, err := scanWallet(r.db.QueryRowContext(ctx, `
		SELECT `+walletColumns+` FROM wallets WHERE user_id = $1
	`, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Wallet{}, fmt.Errorf("wallet for user %s: %w", userID, ErrNotFound)
		}
		return model.Wallet{}, fmt.Errorf("failed to query wallet: %w", err)
	}
	return w, nil
}

// GetOrCreate returns the user's wallet, lazily creating a zero-balance one.
func (r *walletRepo) GetOrCreate(ctx context.Context, userID uuid.UUID) (model.Wallet, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wallets (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return model.Wallet{}, fmt.Errorf("failed to insert wallet: %w", err)
	}
	return r.Get(ctx, userID)
}

func (r *walletRepo) Credit(ctx context.Context, userID uuid.UUID, amount int) (model.Wallet, error) {
	if amount <= 0 {
		return model.Wallet{}, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	w, err := scanWallet(r.db.QueryRowContext(ctx, `
		INSERT INTO wallets (user_id, credits)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET credits = wallets.credits + EXCLUDED.credits, updated_at = now()
		RETURNING `+walletColumns+`
	`, userID, amount))
	if err != nil {
		return model.Wallet{}, fmt.Errorf("failed to credit wallet: %w", err)
	}
	return w, nil
}

func (r *walletRepo) Deduct(ctx context.Context, userID uuid.UUID, amount int) (model.Wallet, error) {
	if amount <= 0 {
		return model.Wallet{}, fmt.Errorf("deduct amount must be positive, got %d", amount)
	}
	w, err := scanWallet(r.db.QueryRowContext(ctx, `
		UPDATE wallets
		SET credits = credits - $2, updated_at = now()
		WHERE user_id = $1 AND credits >= $2
		RETURNING `+walletColumns+`
	`, userID, amount))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Wallet{}, ErrInsufficientCredits
		}
		return model.Wallet{}, fmt.Errorf("failed to deduct from wallet: %w", err)
	}
	return w, nil
}
