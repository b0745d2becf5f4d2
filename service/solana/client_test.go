package solana

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSig = solana.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	result     *rpc.GetTransactionResult
	err        error
	failsFirst int // number of leading calls that return err before result
	calls      int
}

func (m *mockRPCClient) GetTransaction(
	ctx context.Context,
	signature solana.Signature,
	opts *rpc.GetTransactionOpts,
) (*rpc.GetTransactionResult, error) {
	m.calls++
	if m.calls <= m.failsFirst {
		return nil, m.err
	}
	if m.failsFirst == 0 && m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func newTestClient(mock *mockRPCClient, maxAttempts int) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(mock, 5*time.Second, maxAttempts, nil, logger)
}

func TestGetTransaction_NotFound(t *testing.T) {
	// A null RPC result means the chain does not know the signature.
	mock := &mockRPCClient{result: nil}
	client := newTestClient(mock, 3)

	record, err := client.GetTransaction(context.Background(), testSig)
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.Equal(t, 1, mock.calls)
}

func TestGetTransaction_RetriesTransientFailures(t *testing.T) {
	mock := &mockRPCClient{
		err:        errors.New("connection reset"),
		failsFirst: 2,
		result:     nil, // succeeds with not-found on the third attempt
	}
	client := newTestClient(mock, 3)

	record, err := client.GetTransaction(context.Background(), testSig)
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.Equal(t, 3, mock.calls)
}

func TestGetTransaction_ExhaustsRetries(t *testing.T) {
	mock := &mockRPCClient{err: errors.New("connection reset")}
	client := newTestClient(mock, 2)

	_, err := client.GetTransaction(context.Background(), testSig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, 2, mock.calls)
}

func TestGetTransaction_ContextCanceledStopsRetries(t *testing.T) {
	mock := &mockRPCClient{err: errors.New("connection reset")}
	client := newTestClient(mock, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetTransaction(ctx, testSig)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, mock.calls, 5)
}

func TestGetTransaction_MissingMetaIsPartialData(t *testing.T) {
	mock := &mockRPCClient{result: &rpc.GetTransactionResult{Slot: 100}}
	client := newTestClient(mock, 1)

	_, err := client.GetTransaction(context.Background(), testSig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "meta missing")
}

func TestGetTransaction_MissingEnvelopeIsPartialData(t *testing.T) {
	mock := &mockRPCClient{result: &rpc.GetTransactionResult{
		Slot: 100,
		Meta: &rpc.TransactionMeta{},
	}}
	client := newTestClient(mock, 1)

	_, err := client.GetTransaction(context.Background(), testSig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "envelope missing")
}

func TestTransactionRecord_Failed(t *testing.T) {
	ok := &TransactionRecord{Err: nil}
	failed := &TransactionRecord{Err: map[string]interface{}{"InstructionError": []interface{}{}}}

	assert.False(t, ok.Failed())
	assert.True(t, failed.Failed())
}

func TestTransactionRecord_AccountIndex(t *testing.T) {
	a := solana.NewWallet().PublicKey()
	b := solana.NewWallet().PublicKey()
	record := &TransactionRecord{AccountKeys: []solana.PublicKey{a, b}}

	assert.Equal(t, 0, record.AccountIndex(a))
	assert.Equal(t, 1, record.AccountIndex(b))
	assert.Equal(t, -1, record.AccountIndex(solana.NewWallet().PublicKey()))
}
