package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/burnerpost/creditd/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicateSignature is returned when a purchase insert collides with an
// existing transaction signature. The unique constraint is the concurrency
// primitive here: a concurrent writer losing the race gets this error, not a
// failure.
var ErrDuplicateSignature = errors.New("transaction signature already recorded")

// PurchaseStatusCompleted is the only status this subsystem writes. Purchase
// rows are created once on successful verification and never mutated.
const PurchaseStatusCompleted = "completed"

// uniqueViolation is the Postgres error code for unique constraint
// violations.
const uniqueViolation = "23505"

// Store provides database operations for the credit ledger.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If m is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// CreditPurchase is a persisted record of a verified, applied purchase.
type CreditPurchase struct {
	ID                   int64
	WalletAddress        string
	Credits              int32
	AmountLamports       int64
	SolAmount            float64
	TransactionSignature string
	Status               string
	CreatedAt            time.Time
}

// ApplyPurchaseParams contains the parameters for applying a verified
// purchase.
type ApplyPurchaseParams struct {
	WalletAddress        string
	Credits              int32
	AmountLamports       int64
	SolAmount            float64
	TransactionSignature string
}

// ApplyPurchase records a verified purchase and increments the wallet's
// credit balance, in one transaction: a crash between the two never leaves a
// ledger entry without a matching balance change or vice versa. The balance
// update is an atomic increment at the storage layer, never read-modify-write.
// Returns the new balance, or ErrDuplicateSignature if this transaction
// signature was already redeemed.
func (s *Store) ApplyPurchase(ctx context.Context, params ApplyPurchaseParams) (int64, error) {
	start := time.Now()
	newBalance, err := s.applyPurchase(ctx, params)
	if s.metrics != nil {
		s.metrics.RecordDBQuery("apply_purchase", time.Since(start).Seconds(), err)
	}
	return newBalance, err
}

func (s *Store) applyPurchase(ctx context.Context, params ApplyPurchaseParams) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin purchase transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO credit_purchases
			(wallet_address, credits, amount_lamports, sol_amount, transaction_signature, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		params.WalletAddress,
		params.Credits,
		params.AmountLamports,
		params.SolAmount,
		params.TransactionSignature,
		PurchaseStatusCompleted,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, ErrDuplicateSignature
		}
		return 0, fmt.Errorf("insert credit purchase: %w", err)
	}

	var newBalance int64
	err = tx.QueryRow(ctx, `
		INSERT INTO users (wallet_address, credits)
		VALUES ($1, $2)
		ON CONFLICT (wallet_address) DO UPDATE
			SET credits = users.credits + EXCLUDED.credits,
			    updated_at = now()
		RETURNING credits`,
		params.WalletAddress,
		params.Credits,
	).Scan(&newBalance)
	if err != nil {
		return 0, fmt.Errorf("increment user credits: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit purchase transaction: %w", err)
	}

	return newBalance, nil
}

// GetPurchaseBySignature retrieves a purchase by its transaction signature.
// Returns (nil, nil) when no purchase exists for the signature.
func (s *Store) GetPurchaseBySignature(ctx context.Context, signature string) (*CreditPurchase, error) {
	start := time.Now()
	purchase, err := s.getPurchaseBySignature(ctx, signature)
	if s.metrics != nil {
		s.metrics.RecordDBQuery("get_purchase_by_signature", time.Since(start).Seconds(), err)
	}
	return purchase, err
}

func (s *Store) getPurchaseBySignature(ctx context.Context, signature string) (*CreditPurchase, error) {
	var p CreditPurchase
	err := s.pool.QueryRow(ctx, `
		SELECT id, wallet_address, credits, amount_lamports, sol_amount,
		       transaction_signature, status, created_at
		FROM credit_purchases
		WHERE transaction_signature = $1`,
		signature,
	).Scan(&p.ID, &p.WalletAddress, &p.Credits, &p.AmountLamports, &p.SolAmount,
		&p.TransactionSignature, &p.Status, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get purchase by signature: %w", err)
	}
	return &p, nil
}

// GetUserCredits returns the current credit balance for a wallet. An unknown
// wallet has a balance of zero.
func (s *Store) GetUserCredits(ctx context.Context, walletAddress string) (int64, error) {
	start := time.Now()
	var credits int64
	err := s.pool.QueryRow(ctx,
		`SELECT credits FROM users WHERE wallet_address = $1`,
		walletAddress,
	).Scan(&credits)
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
		credits = 0
	}
	if s.metrics != nil {
		s.metrics.RecordDBQuery("get_user_credits", time.Since(start).Seconds(), err)
	}
	if err != nil {
		return 0, fmt.Errorf("get user credits: %w", err)
	}
	return credits, nil
}

// ListPurchasesByWallet retrieves purchase history for a wallet, newest
// first.
func (s *Store) ListPurchasesByWallet(ctx context.Context, walletAddress string, limit, offset int32) ([]*CreditPurchase, error) {
	start := time.Now()
	purchases, err := s.listPurchasesByWallet(ctx, walletAddress, limit, offset)
	if s.metrics != nil {
		s.metrics.RecordDBQuery("list_purchases_by_wallet", time.Since(start).Seconds(), err)
	}
	return purchases, err
}

func (s *Store) listPurchasesByWallet(ctx context.Context, walletAddress string, limit, offset int32) ([]*CreditPurchase, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, wallet_address, credits, amount_lamports, sol_amount,
		       transaction_signature, status, created_at
		FROM credit_purchases
		WHERE wallet_address = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		walletAddress, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []*CreditPurchase
	for rows.Next() {
		var p CreditPurchase
		if err := rows.Scan(&p.ID, &p.WalletAddress, &p.Credits, &p.AmountLamports, &p.SolAmount,
			&p.TransactionSignature, &p.Status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan purchase row: %w", err)
		}
		purchases = append(purchases, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchase rows: %w", err)
	}

	return purchases, nil
}

// ListRecentPurchases retrieves the most recent purchases across all wallets.
// Used by the ops CLI.
func (s *Store) ListRecentPurchases(ctx context.Context, limit int32) ([]*CreditPurchase, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, wallet_address, credits, amount_lamports, sol_amount,
		       transaction_signature, status, created_at
		FROM credit_purchases
		ORDER BY created_at DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent purchases: %w", err)
	}
	defer rows.Close()

	var purchases []*CreditPurchase
	for rows.Next() {
		var p CreditPurchase
		if err := rows.Scan(&p.ID, &p.WalletAddress, &p.Credits, &p.AmountLamports, &p.SolAmount,
			&p.TransactionSignature, &p.Status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan purchase row: %w", err)
		}
		purchases = append(purchases, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchase rows: %w", err)
	}

	return purchases, nil
}
