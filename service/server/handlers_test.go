package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/burnerpost/creditd/service/config"
	"github.com/burnerpost/creditd/service/db"
	"github.com/burnerpost/creditd/service/purchase"
	"github.com/burnerpost/creditd/service/verify"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWallet    = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	testSignature = "5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	programID, err := solanago.PublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	require.NoError(t, err)
	return &config.Config{CreditsProgramID: programID}
}

// fakePurchaser scripts the orchestrator outcome for handler tests.
type fakePurchaser struct {
	result *purchase.Result
	err    error
}

func (f *fakePurchaser) Purchase(ctx context.Context, signature solanago.Signature, claimedTier int, walletAddress string) (*purchase.Result, error) {
	return f.result, f.err
}

// fakeUserStore scripts the read side.
type fakeUserStore struct {
	credits   int64
	purchases []*db.CreditPurchase
	err       error
}

func (f *fakeUserStore) GetUserCredits(ctx context.Context, walletAddress string) (int64, error) {
	return f.credits, f.err
}

func (f *fakeUserStore) ListPurchasesByWallet(ctx context.Context, walletAddress string, limit, offset int32) ([]*db.CreditPurchase, error) {
	return f.purchases, f.err
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestHandlePurchaseQuote(t *testing.T) {
	handler := handlePurchaseQuote(testConfig(t), testLogger())

	rec := postJSON(t, handler, "/purchase", quoteRequest{WalletAddress: testWallet, Credits: 5})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(5), body["credits"])
	assert.Equal(t, float64(90_000_000), body["expectedAmount"])
	assert.InDelta(t, 0.09, body["expectedSol"], 1e-12)
	assert.Equal(t, "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", body["programId"])
}

func TestHandlePurchaseQuote_InvalidTier(t *testing.T) {
	handler := handlePurchaseQuote(testConfig(t), testLogger())

	for _, credits := range []int{0, 4, 7, 11, -1} {
		rec := postJSON(t, handler, "/purchase", quoteRequest{WalletAddress: testWallet, Credits: credits})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "credits=%d", credits)
		assert.Contains(t, decodeBody(t, rec)["error"], "not a purchasable tier")
	}
}

func TestHandlePurchaseQuote_BadBody(t *testing.T) {
	handler := handlePurchaseQuote(testConfig(t), testLogger())

	req := httptest.NewRequest(http.MethodPost, "/purchase", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleVerifyPurchase_Applied(t *testing.T) {
	p := &fakePurchaser{result: &purchase.Result{
		Status:        purchase.StatusApplied,
		WalletAddress: testWallet,
		Credits:       5,
		NewBalance:    12,
	}}
	handler := handleVerifyPurchase(p, testLogger())

	rec := postJSON(t, handler, "/verify-purchase", verifyPurchaseRequest{
		TransactionHash: testSignature,
		Credits:         5,
		WalletAddress:   testWallet,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(12), body["credits"])
	assert.Equal(t, float64(5), body["purchasedCredits"])
}

func TestHandleVerifyPurchase_AlreadyProcessed(t *testing.T) {
	p := &fakePurchaser{result: &purchase.Result{
		Status:        purchase.StatusAlreadyProcessed,
		WalletAddress: testWallet,
		Credits:       5,
		NewBalance:    12,
	}}
	handler := handleVerifyPurchase(p, testLogger())

	rec := postJSON(t, handler, "/verify-purchase", verifyPurchaseRequest{
		TransactionHash: testSignature,
		Credits:         5,
		WalletAddress:   testWallet,
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	body := decodeBody(t, rec)
	assert.Contains(t, body["error"], "already processed")
	assert.Equal(t, float64(12), body["credits"])
}

func TestHandleVerifyPurchase_Rejected(t *testing.T) {
	p := &fakePurchaser{result: &purchase.Result{
		Status: purchase.StatusRejected,
		Reason: verify.ReasonIncorrectPaymentAmount,
		Detail: "paid 20000000 lamports, tier 1 requires 25000000",
	}}
	handler := handleVerifyPurchase(p, testLogger())

	rec := postJSON(t, handler, "/verify-purchase", verifyPurchaseRequest{
		TransactionHash: testSignature,
		Credits:         1,
		WalletAddress:   testWallet,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "incorrect_payment_amount", body["reason"])
	assert.Contains(t, body["error"], "requires 25000000")
}

func TestHandleVerifyPurchase_ChainReadFailure(t *testing.T) {
	p := &fakePurchaser{err: &verify.ChainReadError{Err: errors.New("rpc timeout")}}
	handler := handleVerifyPurchase(p, testLogger())

	rec := postJSON(t, handler, "/verify-purchase", verifyPurchaseRequest{
		TransactionHash: testSignature,
		Credits:         1,
		WalletAddress:   testWallet,
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleVerifyPurchase_InternalError(t *testing.T) {
	p := &fakePurchaser{err: errors.New("database down")}
	handler := handleVerifyPurchase(p, testLogger())

	rec := postJSON(t, handler, "/verify-purchase", verifyPurchaseRequest{
		TransactionHash: testSignature,
		Credits:         1,
		WalletAddress:   testWallet,
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleVerifyPurchase_InvalidSignature(t *testing.T) {
	handler := handleVerifyPurchase(&fakePurchaser{}, testLogger())

	rec := postJSON(t, handler, "/verify-purchase", verifyPurchaseRequest{
		TransactionHash: "not-a-signature",
		Credits:         1,
		WalletAddress:   testWallet,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "transaction hash")
}

func TestHandleVerifyPurchase_InvalidAddress(t *testing.T) {
	handler := handleVerifyPurchase(&fakePurchaser{}, testLogger())

	rec := postJSON(t, handler, "/verify-purchase", verifyPurchaseRequest{
		TransactionHash: testSignature,
		Credits:         1,
		WalletAddress:   "bad address!",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetUser(t *testing.T) {
	handler := handleGetUser(&fakeUserStore{credits: 42}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/user/"+testWallet, nil)
	req.SetPathValue("walletAddress", testWallet)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, testWallet, body["walletAddress"])
	assert.Equal(t, float64(42), body["credits"])
}

func TestHandleGetUser_UnknownWalletReadsZero(t *testing.T) {
	handler := handleGetUser(&fakeUserStore{credits: 0}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/user/"+testWallet, nil)
	req.SetPathValue("walletAddress", testWallet)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decodeBody(t, rec)["credits"])
}

func TestHandleGetUser_InvalidAddress(t *testing.T) {
	handler := handleGetUser(&fakeUserStore{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/user/zzz", nil)
	req.SetPathValue("walletAddress", "bad address!")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListUserPurchases(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeUserStore{purchases: []*db.CreditPurchase{
		{
			Credits:              5,
			AmountLamports:       90_000_000,
			SolAmount:            0.09,
			TransactionSignature: testSignature,
			Status:               db.PurchaseStatusCompleted,
			CreatedAt:            now,
		},
	}}
	handler := handleListUserPurchases(store, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/user/"+testWallet+"/purchases", nil)
	req.SetPathValue("walletAddress", testWallet)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	purchases, ok := body["purchases"].([]interface{})
	require.True(t, ok)
	require.Len(t, purchases, 1)

	first := purchases[0].(map[string]interface{})
	assert.Equal(t, float64(5), first["credits"])
	assert.Equal(t, float64(90_000_000), first["amountLamports"])
	assert.Equal(t, testSignature, first["transactionSignature"])
}

func TestHandleListUserPurchases_BadPagination(t *testing.T) {
	handler := handleListUserPurchases(&fakeUserStore{}, testLogger())

	for _, query := range []string{"?limit=0", "?limit=9999", "?limit=abc", "?offset=-1"} {
		req := httptest.NewRequest(http.MethodGet, "/user/"+testWallet+"/purchases"+query, nil)
		req.SetPathValue("walletAddress", testWallet)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "query=%s", query)
	}
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{"valid address", testWallet, false},
		{"empty", "", true},
		{"contains zero", "0xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin", true},
		{"contains space", "9xQeWvG816 bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin", true},
		{"control character", "9xQeWvG\x00816bUx", true},
		{"too long", string(bytes.Repeat([]byte{'a'}, maxAddressLength+1)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAddress(tt.address)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
