package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/burnerpost/creditd/service/db"
	"github.com/burnerpost/creditd/service/metrics"
	natspkg "github.com/burnerpost/creditd/service/nats"
	"github.com/burnerpost/creditd/service/pricing"
	"github.com/burnerpost/creditd/service/verify"
	"github.com/gagliardetto/solana-go"
)

// Status is the outcome of a purchase attempt.
type Status string

const (
	StatusApplied          Status = "applied"
	StatusAlreadyProcessed Status = "already_processed"
	StatusRejected         Status = "rejected"
)

// Result is the outcome of a purchase attempt. Rejections are results, not
// errors: the error return is reserved for infrastructure failures (chain
// reads, database) that are safe to retry.
type Result struct {
	Status        Status
	WalletAddress string
	Credits       int
	NewBalance    int64
	Reason        verify.Reason // set when Status is StatusRejected
	Detail        string
}

// Ledger is the persistence the orchestrator needs: the idempotency fast
// path, the exactly-once apply, and balance reads.
type Ledger interface {
	GetPurchaseBySignature(ctx context.Context, signature string) (*db.CreditPurchase, error)
	ApplyPurchase(ctx context.Context, params db.ApplyPurchaseParams) (int64, error)
	GetUserCredits(ctx context.Context, walletAddress string) (int64, error)
}

// Orchestrator sequences the full purchase flow: tier precheck, idempotency
// fast path, both verification channels, the amount cross-check, and the
// exactly-once ledger apply. Each request is handled independently; the only
// mutual exclusion is the ledger's uniqueness constraint on the transaction
// signature.
type Orchestrator struct {
	ledger     Ledger
	txVerifier *verify.TransactionVerifier
	ixVerifier *verify.InstructionVerifier
	publisher  natspkg.Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewOrchestrator creates a purchase orchestrator.
// The publisher is optional: if nil, no credit events are published.
// If m is nil, no metrics are recorded.
func NewOrchestrator(
	ledger Ledger,
	txVerifier *verify.TransactionVerifier,
	ixVerifier *verify.InstructionVerifier,
	publisher natspkg.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		ledger:     ledger,
		txVerifier: txVerifier,
		ixVerifier: ixVerifier,
		publisher:  publisher,
		metrics:    m,
		logger:     logger,
	}
}

// Purchase verifies a claimed payment transaction and, if every check passes,
// grants the claimed credits to the wallet exactly once. Verification never
// mutates the ledger; the ledger apply happens only after both channels
// agree.
func (o *Orchestrator) Purchase(ctx context.Context, signature solana.Signature, claimedTier int, walletAddress string) (*Result, error) {
	// Closed tier set: reject before any chain read.
	if !pricing.ValidTier(claimedTier) {
		return o.rejected(ctx, walletAddress, verify.Reject(verify.ReasonInvalidTier,
			"%d is not a purchasable credit tier", claimedTier)), nil
	}

	// Idempotency fast path: a known signature never touches the chain
	// again.
	existing, err := o.ledger.GetPurchaseBySignature(ctx, signature.String())
	if err != nil {
		return nil, fmt.Errorf("check existing purchase: %w", err)
	}
	if existing != nil {
		return o.alreadyProcessed(ctx, existing)
	}

	// First channel: confirmation status, program involvement, balance-delta
	// reconciliation, amount correctness.
	txResult, err := o.txVerifier.Verify(ctx, signature, claimedTier)
	if err != nil {
		if rej, ok := verify.AsRejection(err); ok {
			return o.rejected(ctx, walletAddress, rej), nil
		}
		return nil, err
	}

	// Second, independent channel: the raw instruction bytes.
	if _, err := o.ixVerifier.VerifyInstruction(ctx, signature, claimedTier); err != nil {
		if rej, ok := verify.AsRejection(err); ok {
			return o.rejected(ctx, walletAddress, rej), nil
		}
		return nil, err
	}

	// Defense in depth: re-confirm the paid amount against the pricing
	// table before any write.
	required, ok := pricing.AmountFor(claimedTier)
	if !ok || txResult.AmountPaid != required {
		return o.rejected(ctx, walletAddress, verify.Reject(verify.ReasonIncorrectPaymentAmount,
			"paid %d lamports, tier %d requires %d", txResult.AmountPaid, claimedTier, required)), nil
	}

	params := db.ApplyPurchaseParams{
		WalletAddress:        walletAddress,
		Credits:              int32(claimedTier),
		AmountLamports:       int64(txResult.AmountPaid),
		SolAmount:            pricing.SolEquivalent(txResult.AmountPaid),
		TransactionSignature: signature.String(),
	}

	newBalance, err := o.ledger.ApplyPurchase(ctx, params)
	if errors.Is(err, db.ErrDuplicateSignature) {
		// A concurrent submission won the race at the uniqueness
		// constraint. That is a success-adjacent outcome, not an error.
		existing, lookupErr := o.ledger.GetPurchaseBySignature(ctx, signature.String())
		if lookupErr != nil || existing == nil {
			return nil, fmt.Errorf("purchase already recorded but lookup failed: %w", lookupErr)
		}
		return o.alreadyProcessed(ctx, existing)
	}
	if err != nil {
		return nil, fmt.Errorf("apply purchase: %w", err)
	}

	if o.metrics != nil {
		o.metrics.RecordVerification("verified", "ok")
		o.metrics.RecordPurchaseApplied(claimedTier)
	}
	o.logger.InfoContext(ctx, "credit purchase applied",
		"wallet", walletAddress,
		"credits", claimedTier,
		"amount_lamports", txResult.AmountPaid,
		"signature", signature.String(),
		"new_balance", newBalance,
	)

	// Best-effort event: a publish failure never un-grants credits.
	if o.publisher != nil {
		publishErr := o.publisher.PublishCreditEvent(ctx, natspkg.FromPurchase(&params, newBalance))
		if o.metrics != nil {
			o.metrics.RecordNATSPublish(publishErr)
		}
		if publishErr != nil {
			o.logger.WarnContext(ctx, "failed to publish credit event",
				"wallet", walletAddress,
				"signature", signature.String(),
				"error", publishErr,
			)
		}
	}

	return &Result{
		Status:        StatusApplied,
		WalletAddress: walletAddress,
		Credits:       claimedTier,
		NewBalance:    newBalance,
	}, nil
}

// alreadyProcessed builds the result for a signature that was redeemed
// before: the caller's credits were already granted.
func (o *Orchestrator) alreadyProcessed(ctx context.Context, existing *db.CreditPurchase) (*Result, error) {
	balance, err := o.ledger.GetUserCredits(ctx, existing.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("read balance for already-processed purchase: %w", err)
	}

	if o.metrics != nil {
		o.metrics.RecordDuplicateSubmission()
	}
	o.logger.InfoContext(ctx, "purchase already processed",
		"wallet", existing.WalletAddress,
		"signature", existing.TransactionSignature,
	)

	return &Result{
		Status:        StatusAlreadyProcessed,
		WalletAddress: existing.WalletAddress,
		Credits:       int(existing.Credits),
		NewBalance:    balance,
	}, nil
}

// rejected builds a rejection result and records it. Every rejection is
// surfaced with its specific reason; none is retried automatically and none
// mutates the ledger.
func (o *Orchestrator) rejected(ctx context.Context, walletAddress string, rej *verify.RejectionError) *Result {
	if o.metrics != nil {
		o.metrics.RecordVerification("rejected", string(rej.Reason))
	}
	o.logger.InfoContext(ctx, "purchase rejected",
		"wallet", walletAddress,
		"reason", string(rej.Reason),
		"detail", rej.Detail,
	)

	return &Result{
		Status:        StatusRejected,
		WalletAddress: walletAddress,
		Reason:        rej.Reason,
		Detail:        rej.Detail,
	}
}
