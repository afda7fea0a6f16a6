package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/hoepeyemi/solick-sub001/internal/db"
	"github.com/hoepeyemi/solick-sub001/internal/events"
	"github.com/hoepeyemi/solick-sub001/internal/metrics"
	"github.com/hoepeyemi/solick-sub001/internal/models"
	"github.com/hoepeyemi/solick-sub001/utils"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// PaymentMetadata is everything about a payment besides who paid and how much.
type PaymentMetadata struct {
	AmountMajor             decimal.Decimal
	DestinationTokenAccount string
	DestinationWallet       string
	SourceAddress           string
	Network                 string
	TokenMint               string
	EvidenceMethod          string
	Evidence                []byte
}

// Deduction is the credit taken from one payment.
type Deduction struct {
	PaymentID string `json:"paymentId"`
	Amount    uint64 `json:"amount"`
}

type CreditUsage struct {
	Success        bool        `json:"success"`
	Consumed       uint64      `json:"consumed"`
	Touched        []Deduction `json:"paymentsTouched"`
	RemainingAfter uint64      `json:"remainingCreditAfter"`
}

// CreditHook runs inside the deduction transaction after the payments were
// updated. Returning an error rolls the deduction back.
type CreditHook func(tx *gorm.DB, usage *CreditUsage) error

// CreditLedger is the only writer of payment credit fields.
type CreditLedger struct {
	db     *gorm.DB
	locks  *userLocks
	now    func() time.Time
	events events.Publisher
	log    *utils.Logger
}

func NewCreditLedger(conn *gorm.DB, publisher events.Publisher, log *utils.Logger) *CreditLedger {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if log == nil {
		log = utils.DefaultLogger
	}
	return &CreditLedger{
		db:     conn,
		locks:  newUserLocks(),
		now:    func() time.Time { return time.Now().UTC() },
		events: publisher,
		log:    log.WithField("component", "ledger"),
	}
}

// WithClock replaces the time source used for row timestamps.
func (l *CreditLedger) WithClock(now func() time.Time) *CreditLedger {
	l.now = now
	return l
}

func (l *CreditLedger) publish(ctx context.Context, e events.Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = l.now()
	}
	if err := l.events.Publish(ctx, e); err != nil {
		l.log.WithField("event", e.Type).Warn("publish failed: %v", err)
	}
}

// RecordPayment credits a verified payment. It is idempotent on signature: an
// existing VERIFIED or FAILED row is returned unchanged, and a PENDING row is
// promoted to VERIFIED exactly once.
func (l *CreditLedger) RecordPayment(ctx context.Context, userID, signature string, amount uint64, meta PaymentMetadata) (*models.Payment, error) {
	if userID == "" || signature == "" || amount == 0 {
		return nil, models.ErrInvalidRequest
	}

	var out *models.Payment
	created := false
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := l.now()
		p := &models.Payment{
			ID:                      uuid.NewString(),
			UserID:                  &userID,
			Signature:               signature,
			Amount:                  amount,
			AmountMajor:             meta.AmountMajor,
			DestinationTokenAccount: meta.DestinationTokenAccount,
			DestinationWallet:       meta.DestinationWallet,
			SourceAddress:           meta.SourceAddress,
			Network:                 meta.Network,
			TokenMint:               meta.TokenMint,
			Status:                  models.PaymentVerified,
			CreditRemaining:         amount,
			CreditUsed:              0,
			EvidenceMethod:          meta.EvidenceMethod,
			Evidence:                datatypes.JSON(meta.Evidence),
			CreatedAt:               now,
			UpdatedAt:               now,
		}
		if err := db.InsertPaymentIfAbsent(tx, p); err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		existing, err := db.LockPaymentBySignature(tx, signature)
		if err != nil {
			return fmt.Errorf("read payment back: %w", err)
		}
		if existing.ID == p.ID {
			created = true
			out = existing
			return nil
		}
		if existing.Status != models.PaymentPending {
			out = existing
			return nil
		}

		promoted, err := db.UpdatePendingPayment(tx, existing.ID, map[string]interface{}{
			"user_id":                   userID,
			"status":                    models.PaymentVerified,
			"amount":                    amount,
			"amount_major":              meta.AmountMajor,
			"destination_token_account": meta.DestinationTokenAccount,
			"destination_wallet":        meta.DestinationWallet,
			"source_address":            meta.SourceAddress,
			"network":                   meta.Network,
			"token_mint":                meta.TokenMint,
			"credit_remaining":          amount,
			"credit_used":               0,
			"evidence_method":           meta.EvidenceMethod,
			"evidence":                  datatypes.JSON(meta.Evidence),
			"updated_at":                now,
		})
		if err != nil {
			return fmt.Errorf("promote pending payment: %w", err)
		}
		created = promoted
		out, err = db.GetPaymentBySignature(tx, signature)
		return err
	})
	if err != nil {
		return nil, err
	}

	log := l.log.WithField("signature", signature).WithField("user_id", userID)
	if !created {
		metrics.PaymentsRecordedTotal.WithLabelValues("duplicate").Inc()
		log.Info("payment already recorded with status %s", out.Status)
		return out, nil
	}
	metrics.PaymentsRecordedTotal.WithLabelValues("new").Inc()
	metrics.CreditCreditedTotal.Add(float64(amount))
	log.Info("credited %d", amount)
	l.publish(ctx, events.Event{
		Type: events.TypePaymentVerified, UserID: userID, Signature: signature,
		PaymentID: out.ID, Amount: amount, Status: string(out.Status),
	})
	return out, nil
}

// CreatePending registers a submitted payment before it can be verified.
// An existing row with the same signature is returned unchanged.
func (l *CreditLedger) CreatePending(ctx context.Context, userID, signature string, meta PaymentMetadata) (*models.Payment, error) {
	if signature == "" {
		return nil, models.ErrInvalidRequest
	}
	var out *models.Payment
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := l.now()
		p := &models.Payment{
			ID:                      uuid.NewString(),
			Signature:               signature,
			AmountMajor:             meta.AmountMajor,
			DestinationTokenAccount: meta.DestinationTokenAccount,
			DestinationWallet:       meta.DestinationWallet,
			SourceAddress:           meta.SourceAddress,
			Network:                 meta.Network,
			TokenMint:               meta.TokenMint,
			Status:                  models.PaymentPending,
			CreatedAt:               now,
			UpdatedAt:               now,
		}
		if userID != "" {
			p.UserID = &userID
		}
		if err := db.InsertPaymentIfAbsent(tx, p); err != nil {
			return fmt.Errorf("insert pending payment: %w", err)
		}
		var err error
		out, err = db.GetPaymentBySignature(tx, signature)
		return err
	})
	return out, err
}

// MarkFailed moves a PENDING payment to FAILED. Rows in any other state are
// returned unchanged.
func (l *CreditLedger) MarkFailed(ctx context.Context, signature, reason string, evidence []byte) (*models.Payment, error) {
	var out *models.Payment
	changed := false
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := db.LockPaymentBySignature(tx, signature)
		if err != nil {
			return err
		}
		updates := map[string]interface{}{
			"status":           models.PaymentFailed,
			"credit_remaining": 0,
			"failure_reason":   reason,
			"updated_at":       l.now(),
		}
		if len(evidence) > 0 {
			updates["evidence"] = datatypes.JSON(evidence)
		}
		if changed, err = db.UpdatePendingPayment(tx, p.ID, updates); err != nil {
			return err
		}
		out, err = db.GetPaymentBySignature(tx, signature)
		return err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		user := ""
		if out.UserID != nil {
			user = *out.UserID
		}
		l.log.WithField("signature", signature).Warn("payment marked failed: %s", reason)
		l.publish(ctx, events.Event{
			Type: events.TypePaymentFailed, UserID: user, Signature: signature,
			PaymentID: out.ID, Status: string(out.Status), Detail: reason,
		})
	}
	return out, nil
}

func (l *CreditLedger) GetPaymentBySignature(ctx context.Context, signature string) (*models.Payment, error) {
	return db.GetPaymentBySignature(l.db.WithContext(ctx), signature)
}

// GetUserCredit sums the remaining credit of the user's verified payments.
func (l *CreditLedger) GetUserCredit(ctx context.Context, userID string) (uint64, error) {
	return db.SumUserCredit(l.db.WithContext(ctx), userID)
}

// GetPaymentHistory lists the user's payments newest first.
func (l *CreditLedger) GetPaymentHistory(ctx context.Context, userID string, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return db.ListPaymentsByUser(l.db.WithContext(ctx), userID, limit)
}

func (l *CreditLedger) UseCredit(ctx context.Context, userID string, amount uint64) (*CreditUsage, error) {
	return l.UseCreditWith(ctx, userID, amount, nil)
}

// UseCreditWith deducts amount from the user's verified payments, oldest
// first, in one transaction. Calls for the same user are serialized in
// process and by row locks in the database. If the user holds less than
// amount nothing is changed and the error wraps ErrInsufficientCredit.
func (l *CreditLedger) UseCreditWith(ctx context.Context, userID string, amount uint64, hook CreditHook) (*CreditUsage, error) {
	if userID == "" || amount == 0 {
		return nil, models.ErrInvalidRequest
	}

	usage := &CreditUsage{}
	err := l.withUserLock(userID, func() error {
		return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			payments, err := db.LockSpendablePayments(tx, userID)
			if err != nil {
				return fmt.Errorf("lock payments: %w", err)
			}
			var total uint64
			for _, p := range payments {
				total += p.CreditRemaining
			}
			usage.RemainingAfter = total
			if total < amount {
				return fmt.Errorf("%w: need %d, have %d", models.ErrInsufficientCredit, amount, total)
			}

			need := amount
			for _, p := range payments {
				if need == 0 {
					break
				}
				take := min(p.CreditRemaining, need)
				if err := db.UpdatePaymentCredit(tx, p.ID, p.CreditRemaining-take, p.CreditUsed+take); err != nil {
					return fmt.Errorf("update payment %s: %w", p.ID, err)
				}
				usage.Touched = append(usage.Touched, Deduction{PaymentID: p.ID, Amount: take})
				need -= take
			}
			usage.Success = true
			usage.Consumed = amount
			usage.RemainingAfter = total - amount
			if hook != nil {
				return hook(tx, usage)
			}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, models.ErrInsufficientCredit) {
			metrics.InsufficientCreditTotal.Inc()
			return &CreditUsage{Success: false, RemainingAfter: usage.RemainingAfter}, err
		}
		return nil, err
	}

	metrics.CreditUsedTotal.Add(float64(amount))
	l.log.WithField("user_id", userID).Info("used %d credit across %d payments, %d left", amount, len(usage.Touched), usage.RemainingAfter)
	l.publish(ctx, events.Event{Type: events.TypeCreditUsed, UserID: userID, Amount: amount})
	return usage, nil
}

// RestoreCredit gives back the credit a sponsored transaction consumed, to
// the same payments it was taken from. A second call is a no-op.
func (l *CreditLedger) RestoreCredit(ctx context.Context, sponsoredID string) (uint64, error) {
	st, err := db.GetSponsoredTransaction(l.db.WithContext(ctx), sponsoredID)
	if err != nil {
		return 0, err
	}

	var restored uint64
	err = l.withUserLock(st.UserID, func() error {
		return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			st, err := db.LockSponsoredTransaction(tx, sponsoredID)
			if err != nil {
				return err
			}
			if st.CreditRestored {
				return nil
			}
			allocations, err := db.ListCreditAllocations(tx, sponsoredID)
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(allocations))
			for _, a := range allocations {
				ids = append(ids, a.PaymentID)
			}
			payments, err := db.LockPaymentsByID(tx, ids)
			if err != nil {
				return err
			}
			byID := make(map[string]*models.Payment, len(payments))
			for i := range payments {
				byID[payments[i].ID] = &payments[i]
			}
			for _, a := range allocations {
				p, ok := byID[a.PaymentID]
				if !ok {
					return fmt.Errorf("%w: payment %s of allocation missing", models.ErrNotFound, a.PaymentID)
				}
				if p.CreditUsed < a.Amount {
					return fmt.Errorf("payment %s used %d, cannot restore %d", p.ID, p.CreditUsed, a.Amount)
				}
				p.CreditRemaining += a.Amount
				p.CreditUsed -= a.Amount
				if err := db.UpdatePaymentCredit(tx, p.ID, p.CreditRemaining, p.CreditUsed); err != nil {
					return err
				}
				restored += a.Amount
			}
			return db.UpdateSponsoredTransaction(tx, sponsoredID, map[string]interface{}{
				"credit_restored": true,
				"updated_at":      l.now(),
			})
		})
	})
	if err != nil {
		return 0, err
	}
	if restored > 0 {
		metrics.CreditRestoredTotal.Add(float64(restored))
		l.log.WithField("sponsored_id", sponsoredID).Info("restored %d credit", restored)
		l.publish(ctx, events.Event{
			Type: events.TypeCreditRestored, UserID: st.UserID, SponsoredID: sponsoredID, Amount: restored,
		})
	}
	return restored, nil
}

// withUserLock runs fn holding the user's lock. Events are published only
// after it returns.
func (l *CreditLedger) withUserLock(userID string, fn func() error) error {
	unlock := l.locks.lock(userID)
	defer unlock()
	return fn()
}

// AuditConservation returns payments whose credit fields disagree with their
// amount and status.
func (l *CreditLedger) AuditConservation(ctx context.Context) ([]models.Payment, error) {
	var bad []models.Payment
	err := l.db.WithContext(ctx).
		Where("(status = ? AND credit_remaining + credit_used <> amount) OR (status <> ? AND credit_remaining <> 0)",
			models.PaymentVerified, models.PaymentVerified).
		Find(&bad).Error
	return bad, err
}

// userLocks hands out one mutex per user and forgets it once unused.
type userLocks struct {
	mu sync.Mutex
	m  map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{m: make(map[string]*userLock)}
}

func (u *userLocks) lock(userID string) func() {
	u.mu.Lock()
	l, ok := u.m[userID]
	if !ok {
		l = &userLock{}
		u.m[userID] = l
	}
	l.refs++
	u.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		u.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(u.m, userID)
		}
		u.mu.Unlock()
	}
}
