package verify

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/burnerpost/creditd/service/pricing"
	sol "github.com/burnerpost/creditd/service/solana"
	"github.com/gagliardetto/solana-go"
)

// Success markers the program emits in its logs. Their presence is required
// evidence that the program participated; the embedded credit count is only a
// corroborating signal (the instruction verifier is the authoritative
// channel).
const (
	markerCreditsPurchased = "credits purchased"
	markerCustomEmail      = "custom email minted"
)

// errMissingBalances marks a record that arrived without balance arrays;
// verification never proceeds on partial data.
var errMissingBalances = errors.New("balance arrays missing from transaction record")

// logCreditsRe extracts the credit count the program logs alongside the
// purchase marker, e.g. "Program log: Credits purchased: 5".
var logCreditsRe = regexp.MustCompile(`(?i)credits purchased:?\s*([0-9]+)`)

// Result is the outcome of a successful verification: the reconciled amounts
// and credit count. It is never persisted directly; only an accepted outcome
// feeds the ledger.
type Result struct {
	AmountPaid    uint64 // lamports the fee payer spent, net of fee
	VaultReceived uint64 // lamports the vault gained
	Credits       int    // reconciled credit count
	LogCredits    *int   // credit count scraped from logs, if present
}

// TransactionVerifier re-derives the truth about a claimed payment from the
// chain. It trusts nothing the client supplies beyond the signature and the
// claimed tier: the program identifier is configured, the vault address is
// derived, and the amounts come from the transaction's own balance arrays.
type TransactionVerifier struct {
	reader    sol.ChainReader
	programID solana.PublicKey
	vault     solana.PublicKey
	logger    *slog.Logger
}

// NewTransactionVerifier creates a verifier for the given program. The vault
// address is derived once up front; derivation is deterministic.
func NewTransactionVerifier(reader sol.ChainReader, programID solana.PublicKey, logger *slog.Logger) (*TransactionVerifier, error) {
	vault, err := sol.VaultAddress(programID)
	if err != nil {
		return nil, err
	}
	return &TransactionVerifier{
		reader:    reader,
		programID: programID,
		vault:     vault,
		logger:    logger,
	}, nil
}

// Vault returns the derived vault address.
func (v *TransactionVerifier) Vault() solana.PublicKey {
	return v.vault
}

// Verify checks a claimed payment transaction against the claimed credit
// tier. It short-circuits with a *RejectionError on the first failed check,
// and returns a *ChainReadError for transient RPC failures.
func (v *TransactionVerifier) Verify(ctx context.Context, signature solana.Signature, claimedTier int) (*Result, error) {
	record, err := v.reader.GetTransaction(ctx, signature)
	if err != nil {
		return nil, &ChainReadError{Err: err}
	}
	if record == nil {
		return nil, Reject(ReasonTransactionNotFound, "transaction %s not found on chain", signature)
	}

	if record.Failed() {
		return nil, Reject(ReasonTransactionFailed, "transaction failed on chain: %v", record.Err)
	}

	if !v.programInvolved(record.LogMessages) {
		return nil, Reject(ReasonProgramNotInvolved, "program %s did not emit a purchase marker", v.programID)
	}

	vaultIndex := record.AccountIndex(v.vault)
	if vaultIndex < 0 {
		return nil, Reject(ReasonVaultNotInTransaction, "vault %s not in transaction account list", v.vault)
	}

	if len(record.PreBalances) == 0 || len(record.PostBalances) == 0 {
		return nil, &ChainReadError{Err: errMissingBalances}
	}

	// Account index 0 is always the fee payer/initiator. What the user lost
	// net of the fee must equal what the vault gained, exactly. The deltas
	// must also point the right way: user down, vault up.
	userDelta := int64(record.PreBalances[0]) - int64(record.PostBalances[0])
	userSent := userDelta - int64(record.Fee)
	vaultDelta := int64(record.PostBalances[vaultIndex]) - int64(record.PreBalances[vaultIndex])

	if userSent < 0 {
		return nil, Reject(ReasonAmountMismatch, "fee payer balance did not decrease beyond the fee (delta %d, fee %d)", userDelta, record.Fee)
	}
	if vaultDelta <= 0 {
		return nil, Reject(ReasonAmountMismatch, "vault balance did not increase (delta %d)", vaultDelta)
	}
	if userSent != vaultDelta {
		return nil, Reject(ReasonAmountMismatch, "user sent %d lamports but vault received %d", userSent, vaultDelta)
	}

	required, ok := pricing.AmountFor(claimedTier)
	if !ok {
		return nil, Reject(ReasonInvalidTier, "%d is not a purchasable credit tier", claimedTier)
	}
	if uint64(userSent) != required {
		return nil, Reject(ReasonIncorrectPaymentAmount, "tier %d requires %d lamports, got %d", claimedTier, required, userSent)
	}

	result := &Result{
		AmountPaid:    uint64(userSent),
		VaultReceived: uint64(vaultDelta),
		Credits:       claimedTier,
	}

	// Best-effort corroboration from the logs: a parseable count must agree
	// with the claim, an absent count falls through on the claimed tier.
	if logCredits, found := parseLogCredits(record.LogMessages); found {
		result.LogCredits = &logCredits
		if logCredits != claimedTier {
			return nil, Reject(ReasonCreditsMismatch, "logs report %d credits but claim is %d", logCredits, claimedTier)
		}
	}

	v.logger.DebugContext(ctx, "transaction verified",
		"signature", signature.String(),
		"credits", result.Credits,
		"amount_lamports", result.AmountPaid,
	)

	return result, nil
}

// programInvolved scans log lines for evidence that the configured program
// participated and emitted one of the recognized success markers.
func (v *TransactionVerifier) programInvolved(logs []string) bool {
	programStr := v.programID.String()
	involved := false
	marker := false
	for _, line := range logs {
		if strings.Contains(line, programStr) {
			involved = true
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, markerCreditsPurchased) || strings.Contains(lower, markerCustomEmail) {
			marker = true
		}
	}
	return involved && marker
}

// parseLogCredits extracts the embedded credit count from the log lines.
func parseLogCredits(logs []string) (int, bool) {
	for _, line := range logs {
		if m := logCreditsRe.FindStringSubmatch(line); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			return n, true
		}
	}
	return 0, false
}
