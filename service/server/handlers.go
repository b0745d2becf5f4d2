package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"
	"unicode"

	"github.com/burnerpost/creditd/service/config"
	"github.com/burnerpost/creditd/service/db"
	"github.com/burnerpost/creditd/service/pricing"
	"github.com/burnerpost/creditd/service/purchase"
	"github.com/burnerpost/creditd/service/verify"
	solanago "github.com/gagliardetto/solana-go"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for purchase requests
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	defaultPageLimit   = 50
	maxPageLimit       = 500
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// purchaser verifies a payment transaction and grants credits. Satisfied by
// *purchase.Orchestrator.
type purchaser interface {
	Purchase(ctx context.Context, signature solanago.Signature, claimedTier int, walletAddress string) (*purchase.Result, error)
}

// userStore is the read-side the user handlers need. Satisfied by *db.Store.
type userStore interface {
	GetUserCredits(ctx context.Context, walletAddress string) (int64, error)
	ListPurchasesByWallet(ctx context.Context, walletAddress string, limit, offset int32) ([]*db.CreditPurchase, error)
}

type quoteRequest struct {
	WalletAddress string `json:"walletAddress"`
	Credits       int    `json:"credits"`
}

type quoteResponse struct {
	Credits        int     `json:"credits"`
	ExpectedAmount int64   `json:"expectedAmount"`
	ExpectedSol    float64 `json:"expectedSol"`
	ProgramID      string  `json:"programId"`
}

// handlePurchaseQuote returns a handler that quotes the exact payment a
// credit tier requires. Pure pricing lookup, no chain access.
// POST /purchase
func handlePurchaseQuote(cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req quoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if req.WalletAddress != "" {
			if err := validateAddress(req.WalletAddress); err != nil {
				logger.Debug("invalid address", "address", req.WalletAddress, "error", err)
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		amount, ok := pricing.AmountFor(req.Credits)
		if !ok {
			writeError(w, fmt.Sprintf("invalid credit amount: %d is not a purchasable tier", req.Credits), http.StatusBadRequest)
			return
		}

		logger.Debug("purchase quoted", "wallet", req.WalletAddress, "credits", req.Credits, "amount_lamports", amount)

		writeJSON(w, quoteResponse{
			Credits:        req.Credits,
			ExpectedAmount: int64(amount),
			ExpectedSol:    pricing.SolEquivalent(amount),
			ProgramID:      cfg.CreditsProgramID.String(),
		}, http.StatusOK)
	})
}

type verifyPurchaseRequest struct {
	TransactionHash string `json:"transactionHash"`
	Credits         int    `json:"credits"`
	WalletAddress   string `json:"walletAddress"`
}

type verifyPurchaseResponse struct {
	Credits          int64 `json:"credits"`
	PurchasedCredits int   `json:"purchasedCredits"`
}

// handleVerifyPurchase returns a handler that verifies an on-chain payment
// and grants credits exactly once.
// POST /verify-purchase
func handleVerifyPurchase(p purchaser, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req verifyPurchaseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		if err := validateAddress(req.WalletAddress); err != nil {
			logger.Debug("invalid address", "address", req.WalletAddress, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		signature, err := solanago.SignatureFromBase58(req.TransactionHash)
		if err != nil {
			writeError(w, "invalid transaction hash: must be a base58 signature", http.StatusBadRequest)
			return
		}

		result, err := p.Purchase(r.Context(), signature, req.Credits, req.WalletAddress)
		if err != nil {
			if verify.IsChainRead(err) {
				logger.Error("chain read failed during verification", "signature", req.TransactionHash, "error", err)
				writeError(w, "unable to read transaction from chain, retry later", http.StatusBadGateway)
				return
			}
			logger.Error("purchase verification failed", "signature", req.TransactionHash, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		switch result.Status {
		case purchase.StatusApplied:
			writeJSON(w, verifyPurchaseResponse{
				Credits:          result.NewBalance,
				PurchasedCredits: result.Credits,
			}, http.StatusOK)

		case purchase.StatusAlreadyProcessed:
			writeJSON(w, map[string]interface{}{
				"error":   "transaction already processed",
				"credits": result.NewBalance,
			}, http.StatusConflict)

		case purchase.StatusRejected:
			writeJSON(w, map[string]interface{}{
				"error":  result.Detail,
				"reason": string(result.Reason),
			}, http.StatusBadRequest)

		default:
			logger.Error("unexpected purchase status", "status", result.Status)
			writeError(w, "internal server error", http.StatusInternalServerError)
		}
	})
}

// handleGetUser returns a handler that reports a wallet's credit balance.
// Unknown wallets read as zero credits.
// GET /user/{walletAddress}
func handleGetUser(store userStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("walletAddress")

		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		credits, err := store.GetUserCredits(r.Context(), address)
		if err != nil {
			logger.Error("failed to get user credits", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, map[string]interface{}{
			"walletAddress": address,
			"credits":       credits,
		}, http.StatusOK)
	})
}

type purchaseResponse struct {
	Credits              int32     `json:"credits"`
	AmountLamports       int64     `json:"amountLamports"`
	SolAmount            float64   `json:"solAmount"`
	TransactionSignature string    `json:"transactionSignature"`
	Status               string    `json:"status"`
	CreatedAt            time.Time `json:"createdAt"`
}

// handleListUserPurchases returns a handler that lists a wallet's purchase
// history, newest first.
// GET /user/{walletAddress}/purchases?limit={limit}&offset={offset}
func handleListUserPurchases(store userStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("walletAddress")

		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit, offset, err := parsePagination(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		purchases, err := store.ListPurchasesByWallet(r.Context(), address, limit, offset)
		if err != nil {
			logger.Error("failed to list purchases", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]purchaseResponse, len(purchases))
		for i, p := range purchases {
			resp[i] = purchaseResponse{
				Credits:              p.Credits,
				AmountLamports:       p.AmountLamports,
				SolAmount:            p.SolAmount,
				TransactionSignature: p.TransactionSignature,
				Status:               p.Status,
				CreatedAt:            p.CreatedAt,
			}
		}

		writeJSON(w, map[string]interface{}{
			"walletAddress": address,
			"purchases":     resp,
		}, http.StatusOK)
	})
}

// parsePagination reads limit/offset query parameters with sane bounds.
func parsePagination(r *http.Request) (limit, offset int32, err error) {
	limit = defaultPageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, perr := strconv.Atoi(v)
		if perr != nil || n < 1 || n > maxPageLimit {
			return 0, 0, fmt.Errorf("limit must be an integer between 1 and %d", maxPageLimit)
		}
		limit = int32(n)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, perr := strconv.Atoi(v)
		if perr != nil || n < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
		offset = int32(n)
	}
	return limit, offset, nil
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates a wallet address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("walletAddress is required")
	}

	if len(address) > maxAddressLength {
		return fmt.Errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	// Check for null bytes and control characters
	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return fmt.Errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return fmt.Errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}
