package solana

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/burnerpost/creditd/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ChainReader is the capability the verifiers depend on: fetch a confirmed
// transaction by signature. A nil record with a nil error means the
// transaction was not found on chain. Implementations must be safe for
// concurrent use.
type ChainReader interface {
	GetTransaction(ctx context.Context, signature solana.Signature) (*TransactionRecord, error)
}

// Client implements ChainReader over an RPC client. It bounds every call with
// a timeout and retries transient failures with exponential backoff. Reads
// are pure, so retries are always safe.
type Client struct {
	rpc         RPCClient
	logger      *slog.Logger
	metrics     *metrics.Metrics
	timeout     time.Duration
	maxAttempts int
}

// NewClient creates a new chain-reading client.
// If m is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, timeout time.Duration, maxAttempts int, m *metrics.Metrics, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Client{
		rpc:         rpcClient,
		logger:      logger,
		metrics:     m,
		timeout:     timeout,
		maxAttempts: maxAttempts,
	}
}

// GetTransaction fetches and decodes a transaction by signature.
// Returns (nil, nil) when the chain does not know the signature.
func (c *Client) GetTransaction(ctx context.Context, signature solana.Signature) (*TransactionRecord, error) {
	maxVersion := uint64(0)
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		MaxSupportedTransactionVersion: &maxVersion,
	}

	var result *rpc.GetTransactionResult
	var err error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		start := time.Now()
		result, err = c.rpc.GetTransaction(callCtx, signature, opts)
		duration := time.Since(start).Seconds()
		cancel()

		status := "success"
		if err != nil {
			status = "error"
		}
		if c.metrics != nil {
			c.metrics.RecordRPCCall("GetTransaction", status, duration)
		}

		if err == nil {
			break
		}

		// Do not retry once the caller's context is gone.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("get transaction %s: %w", signature, ctx.Err())
		}

		// Rate limiting (429) gets a longer backoff than ordinary failures.
		backoff := time.Duration(1<<uint(attempt)) * 200 * time.Millisecond
		reason := "timeout_or_error"
		if strings.Contains(err.Error(), "429") {
			backoff = time.Duration(1<<uint(attempt)) * time.Second
			reason = "rate_limit"
		}

		c.logger.WarnContext(ctx, "failed to get transaction, retrying",
			"signature", signature.String(),
			"attempt", attempt+1,
			"error", err,
			"backoff", backoff.String(),
		)
		if c.metrics != nil {
			c.metrics.RecordRPCRetry("GetTransaction", reason)
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, fmt.Errorf("get transaction %s: %w", signature, ctx.Err())
		}
	}

	if err != nil {
		return nil, fmt.Errorf("get transaction %s after %d attempts: %w", signature, c.maxAttempts, err)
	}

	// The RPC returns a null result for unknown signatures.
	if result == nil {
		c.logger.DebugContext(ctx, "transaction not found", "signature", signature.String())
		return nil, nil
	}

	record, err := recordFromResult(signature, result)
	if err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", signature, err)
	}
	return record, nil
}

// recordFromResult converts an RPC GetTransactionResult into our domain
// TransactionRecord. A result without meta or with misaligned balance arrays
// is treated as partial data and rejected with an error; the verifiers must
// never proceed on partial data.
func recordFromResult(signature solana.Signature, result *rpc.GetTransactionResult) (*TransactionRecord, error) {
	if result.Meta == nil {
		return nil, fmt.Errorf("transaction meta missing")
	}
	if result.Transaction == nil {
		return nil, fmt.Errorf("transaction envelope missing")
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	accountKeys := tx.Message.AccountKeys
	if len(result.Meta.PreBalances) != len(accountKeys) || len(result.Meta.PostBalances) != len(accountKeys) {
		return nil, fmt.Errorf("balance arrays misaligned: %d accounts, %d pre, %d post",
			len(accountKeys), len(result.Meta.PreBalances), len(result.Meta.PostBalances))
	}

	record := &TransactionRecord{
		Signature:    signature,
		Slot:         result.Slot,
		Err:          result.Meta.Err,
		Fee:          result.Meta.Fee,
		AccountKeys:  accountKeys,
		PreBalances:  result.Meta.PreBalances,
		PostBalances: result.Meta.PostBalances,
		LogMessages:  result.Meta.LogMessages,
	}
	if result.BlockTime != nil {
		record.BlockTime = result.BlockTime.Time()
	}

	record.Instructions = make([]InstructionRecord, len(tx.Message.Instructions))
	for i, inst := range tx.Message.Instructions {
		record.Instructions[i] = InstructionRecord{
			ProgramIDIndex: inst.ProgramIDIndex,
			Accounts:       inst.Accounts,
			Data:           []byte(inst.Data),
		}
	}

	return record, nil
}
