package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoepeyemi/solick-sub001/internal/chain"
	"github.com/hoepeyemi/solick-sub001/internal/db/dbtest"
	"github.com/hoepeyemi/solick-sub001/internal/models"
	"github.com/hoepeyemi/solick-sub001/internal/services"
	"github.com/hoepeyemi/solick-sub001/internal/verifier"
)

type stubVerifier struct {
	amount uint64
	err    error
}

func (s *stubVerifier) Verify(_ context.Context, signature string, _ verifier.Target, expected uint64) (*verifier.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &verifier.Result{
		Signature: signature, Verified: true, AmountReceived: s.amount, Expected: expected,
		Method: verifier.MethodDirectAccount,
	}, nil
}

type stubSubmitter struct {
	err error
}

func (s *stubSubmitter) Submit(_ context.Context, op chain.Operation) (*chain.Submission, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &chain.Submission{Signature: "sponsored-" + op.UserID, Fee: 5000}, nil
}

type testServer struct {
	router    *gin.Engine
	verifier  *stubVerifier
	submitter *stubSubmitter
	ledger    *services.CreditLedger
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn := dbtest.Open(t)
	quotes := services.NewQuoteGenerator(services.QuoteConfig{
		Recipient: "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
		TokenMint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Price:     decimal.RequireFromString("0.0003"),
		Decimals:  6,
		Network:   "devnet",
	})
	v := &stubVerifier{amount: 300}
	sub := &stubSubmitter{}
	ledger := services.NewCreditLedger(conn, nil, nil)
	wallets := services.NewWalletResolver(conn)

	r := gin.New()
	RegisterRoutes(r, &Handler{
		DB:           conn,
		Quotes:       quotes,
		Payments:     services.NewPaymentService(quotes, v, ledger, wallets, nil),
		Ledger:       ledger,
		Sponsorship:  services.NewSponsorshipAccountant(conn, ledger, sub, quotes, services.KeepOnFailure, "devnet", nil, nil),
		Wallets:      wallets,
		PayerAddress: "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T",
		Network:      "devnet",
	})
	return &testServer{router: r, verifier: v, submitter: sub, ledger: ledger}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	out := map[string]interface{}{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func TestGetQuote(t *testing.T) {
	s := newTestServer(t)
	code, body := s.do(t, http.MethodGet, "/quote", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(300), body["amountSmallestUnits"])
	assert.Equal(t, "0.0003", body["amountMajorUnits"])
	assert.Equal(t, "devnet", body["network"])
	assert.NotEmpty(t, body["destinationTokenAccount"])
}

func TestVerifyPaymentAndCredit(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPost, "/payments/verify", gin.H{"userId": "alice", "signature": "sig-1"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "sig-1", body["signature"])
	assert.Equal(t, "https://explorer.solana.com/tx/sig-1?cluster=devnet", body["explorerUrl"])

	code, body = s.do(t, http.MethodGet, "/credit/alice", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(300), body["balance"])
	assert.Len(t, body["payments"], 1)

	code, body = s.do(t, http.MethodGet, "/payments/sig-1", nil)
	require.Equal(t, http.StatusOK, code)
	payment := body["payment"].(map[string]interface{})
	assert.Equal(t, "VERIFIED", payment["status"])
}

func TestVerifyPayment_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"unconfirmed", models.NewSignatureError(models.ErrUnconfirmed, "sig-1", "not found"), http.StatusAccepted, "unconfirmed"},
		{"mismatch", models.NewSignatureError(models.ErrVerificationMismatch, "sig-1", "received 200"), http.StatusUnprocessableEntity, "verification_mismatch"},
		{"malformed", models.NewSignatureError(models.ErrMalformedData, "sig-1", "bad index"), http.StatusUnprocessableEntity, "malformed_data"},
		{"rpc down", errors.New("connection refused"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.verifier.err = tt.err

			code, body := s.do(t, http.MethodPost, "/payments/verify", gin.H{"userId": "alice", "signature": "sig-1"})
			assert.Equal(t, tt.want, code)
			assert.Equal(t, tt.code, body["code"])
			assert.Equal(t, "sig-1", body["signature"])
			assert.NotEmpty(t, body["explorerUrl"])
		})
	}
}

func TestVerifyPayment_BadRequest(t *testing.T) {
	s := newTestServer(t)
	code, body := s.do(t, http.MethodPost, "/payments/verify", gin.H{"userId": "alice"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", body["code"])
}

func TestVerifyPayment_DuplicateAcrossUsers(t *testing.T) {
	s := newTestServer(t)
	code, _ := s.do(t, http.MethodPost, "/payments/verify", gin.H{"userId": "alice", "signature": "sig-1"})
	require.Equal(t, http.StatusOK, code)

	code, body := s.do(t, http.MethodPost, "/payments/verify", gin.H{"userId": "bob", "signature": "sig-1"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "duplicate_signature", body["code"])
}

func TestRegisterPendingPayment(t *testing.T) {
	s := newTestServer(t)
	code, body := s.do(t, http.MethodPost, "/payments/pending", gin.H{"userId": "alice", "signature": "sig-9"})
	require.Equal(t, http.StatusAccepted, code)
	payment := body["payment"].(map[string]interface{})
	assert.Equal(t, "PENDING", payment["status"])

	code, _ = s.do(t, http.MethodGet, "/payments/unknown", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSponsor(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPost, "/sponsor", gin.H{"userId": "alice", "serializedTx": "AQID"})
	assert.Equal(t, http.StatusPaymentRequired, code)
	assert.Equal(t, "insufficient_credit", body["code"])

	_, err := s.ledger.RecordPayment(context.Background(), "alice", "pay-1", 600, services.PaymentMetadata{})
	require.NoError(t, err)

	code, body = s.do(t, http.MethodPost, "/sponsor", gin.H{"userId": "alice", "serializedTx": "AQID", "category": "mint"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "sponsored-alice", body["signature"])
	st := body["sponsoredTransaction"].(map[string]interface{})
	assert.Equal(t, "CONFIRMED", st["status"])
	assert.Equal(t, float64(300), st["creditConsumed"])

	code, body = s.do(t, http.MethodGet, fmt.Sprintf("/sponsor/%s", st["id"]), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "mint", body["category"])

	s.submitter.err = models.NewSignatureError(models.ErrSubmission, "tx-x", "blockhash not found")
	code, body = s.do(t, http.MethodPost, "/sponsor", gin.H{"userId": "alice", "serializedTx": "AQID"})
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "submission_failed", body["code"])
	failed := body["sponsoredTransaction"].(map[string]interface{})
	assert.Equal(t, "FAILED", failed["status"])

	code, body = s.do(t, http.MethodGet, "/credit/alice", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["balance"])
}

func TestGetCredit_BadLimit(t *testing.T) {
	s := newTestServer(t)
	code, _ := s.do(t, http.MethodGet, "/credit/alice?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := s.do(t, http.MethodGet, "/credit/alice?limit=5", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["balance"])
	assert.Empty(t, body["payments"])
}

func TestRegisterWallet(t *testing.T) {
	s := newTestServer(t)
	code, body := s.do(t, http.MethodPost, "/wallets", gin.H{"userId": "alice", "address": "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alice", body["userId"])

	code, _ = s.do(t, http.MethodPost, "/wallets", gin.H{"userId": "alice", "address": "not-an-address"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestProbes(t *testing.T) {
	s := newTestServer(t)
	code, body := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = s.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])

	code, body = s.do(t, http.MethodGet, "/payer", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T", body["address"])
}

func TestMetricsLocalOnly(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "203.0.113.5:4000"
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusFor(t *testing.T) {
	status, code := statusFor(fmt.Errorf("wrap: %w", models.ErrConfiguration))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "configuration", code)
}
