package listener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/hoepeyemi/solick-sub001/internal/db/dbtest"
	"github.com/hoepeyemi/solick-sub001/internal/models"
	"github.com/hoepeyemi/solick-sub001/internal/services"
)

type fakeReconciler struct {
	mu      sync.Mutex
	results map[string]error
	seen    []string
}

func (f *fakeReconciler) Reconcile(_ context.Context, p *models.Payment) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, p.Signature)
	return p, f.results[p.Signature]
}

func pending(t *testing.T, conn *gorm.DB, signature string, createdAt time.Time) {
	t.Helper()
	user := "alice"
	require.NoError(t, conn.Create(&models.Payment{
		UserID:    &user,
		Signature: signature,
		Status:    models.PaymentPending,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}).Error)
}

func TestRunOnce(t *testing.T) {
	conn := dbtest.Open(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	pending(t, conn, "sig-ok", now.Add(-time.Minute))
	pending(t, conn, "sig-bad", now.Add(-time.Minute))
	pending(t, conn, "sig-wait", now.Add(-time.Minute))
	pending(t, conn, "sig-stale", now.Add(-2*time.Hour))
	pending(t, conn, "sig-broken", now.Add(-time.Minute))

	unconfirmed := models.NewSignatureError(models.ErrUnconfirmed, "", "not found")
	rec := &fakeReconciler{results: map[string]error{
		"sig-bad":    models.NewSignatureError(models.ErrVerificationMismatch, "sig-bad", "received 1, expected 300"),
		"sig-wait":   unconfirmed,
		"sig-stale":  unconfirmed,
		"sig-broken": errors.New("rpc unavailable"),
	}}
	ledger := services.NewCreditLedger(conn, nil, nil)

	l := New(conn, rec, ledger, Options{Workers: 2, PendingTTL: 30 * time.Minute}, nil)
	l.now = func() time.Time { return now }

	summary, err := l.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Verified: 1, Failed: 1, Pending: 1, Expired: 1, Errors: 1}, summary)
	assert.ElementsMatch(t, []string{"sig-ok", "sig-bad", "sig-wait", "sig-stale", "sig-broken"}, rec.seen)

	stale, err := ledger.GetPaymentBySignature(context.Background(), "sig-stale")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, stale.Status)
	assert.Contains(t, stale.FailureReason, "not confirmed within")

	waiting, err := ledger.GetPaymentBySignature(context.Background(), "sig-wait")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, waiting.Status)
}

func TestRunOnce_SkipsNonPending(t *testing.T) {
	conn := dbtest.Open(t)
	ledger := services.NewCreditLedger(conn, nil, nil)
	_, err := ledger.RecordPayment(context.Background(), "alice", "sig-done", 300, services.PaymentMetadata{})
	require.NoError(t, err)

	rec := &fakeReconciler{}
	l := New(conn, rec, ledger, Options{}, nil)

	summary, err := l.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
	assert.Empty(t, rec.seen)
}

func TestRunOnce_SkipsInFlight(t *testing.T) {
	conn := dbtest.Open(t)
	pending(t, conn, "sig-1", time.Now().UTC())

	rec := &fakeReconciler{}
	l := New(conn, rec, services.NewCreditLedger(conn, nil, nil), Options{}, nil)
	l.inFlight.Store("sig-1", struct{}{})

	summary, err := l.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
	assert.Empty(t, rec.seen)
}

func TestStart_RejectsBadSpec(t *testing.T) {
	conn := dbtest.Open(t)
	l := New(conn, &fakeReconciler{}, services.NewCreditLedger(conn, nil, nil), Options{}, nil)
	assert.Error(t, l.Start(context.Background(), "not a cron spec"))
}
