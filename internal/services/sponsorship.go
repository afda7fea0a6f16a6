package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/hoepeyemi/solick-sub001/internal/chain"
	"github.com/hoepeyemi/solick-sub001/internal/db"
	"github.com/hoepeyemi/solick-sub001/internal/events"
	"github.com/hoepeyemi/solick-sub001/internal/metrics"
	"github.com/hoepeyemi/solick-sub001/internal/models"
	"github.com/hoepeyemi/solick-sub001/utils"
)

// RefundPolicy decides what happens to reserved credit when submission fails.
type RefundPolicy string

const (
	// KeepOnFailure leaves consumed credit spent.
	KeepOnFailure RefundPolicy = "keep"
	// RefundOnSubmissionError returns the credit to the payments it came from.
	RefundOnSubmissionError RefundPolicy = "refund"
)

func ParseRefundPolicy(s string) (RefundPolicy, error) {
	switch RefundPolicy(s) {
	case "", KeepOnFailure:
		return KeepOnFailure, nil
	case RefundOnSubmissionError:
		return RefundOnSubmissionError, nil
	}
	return "", models.Configurationf("unknown refund policy %q", s)
}

// Pricer gives the credit cost of one sponsored operation in smallest units.
type Pricer interface {
	Price() (uint64, error)
}

type OperationDescriptor struct {
	Category     string                 `json:"category"`
	SerializedTx string                 `json:"-"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

type SponsorshipAccountant struct {
	db        *gorm.DB
	ledger    *CreditLedger
	submitter chain.Submitter
	pricer    Pricer
	policy    RefundPolicy
	network   string
	events    events.Publisher
	log       *utils.Logger
}

func NewSponsorshipAccountant(
	conn *gorm.DB,
	ledger *CreditLedger,
	submitter chain.Submitter,
	pricer Pricer,
	policy RefundPolicy,
	network string,
	publisher events.Publisher,
	log *utils.Logger,
) *SponsorshipAccountant {
	if policy == "" {
		policy = KeepOnFailure
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	if log == nil {
		log = utils.DefaultLogger
	}
	return &SponsorshipAccountant{
		db:        conn,
		ledger:    ledger,
		submitter: submitter,
		pricer:    pricer,
		policy:    policy,
		network:   network,
		events:    publisher,
		log:       log.WithField("component", "sponsorship"),
	}
}

// Sponsor reserves credit for one operation, hands it to the submitter and
// records the outcome. When the user lacks credit no row is written.
//
// A failed submission returns the FAILED row together with an error wrapping
// ErrSubmission.
func (a *SponsorshipAccountant) Sponsor(ctx context.Context, userID string, op OperationDescriptor) (*models.SponsoredTransaction, error) {
	if userID == "" || op.SerializedTx == "" {
		return nil, models.ErrInvalidRequest
	}
	if a.submitter == nil {
		return nil, models.Configurationf("no fee payer configured for sponsorship")
	}
	cost, err := a.pricer.Price()
	if err != nil {
		return nil, err
	}
	descriptor, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("%w: descriptor: %v", models.ErrInvalidRequest, err)
	}

	var st *models.SponsoredTransaction
	_, err = a.ledger.UseCreditWith(ctx, userID, cost, func(tx *gorm.DB, usage *CreditUsage) error {
		now := a.ledger.now()
		st = &models.SponsoredTransaction{
			ID:             uuid.NewString(),
			UserID:         userID,
			Category:       op.Category,
			CreditConsumed: usage.Consumed,
			Status:         models.SponsoredPending,
			Network:        a.network,
			Descriptor:     datatypes.JSON(descriptor),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if len(usage.Touched) > 0 {
			oldest := usage.Touched[0].PaymentID
			st.PaymentID = &oldest
		}
		if err := db.SaveSponsoredTransaction(tx, st); err != nil {
			return fmt.Errorf("save sponsored transaction: %w", err)
		}
		allocations := make([]models.CreditAllocation, 0, len(usage.Touched))
		for _, d := range usage.Touched {
			allocations = append(allocations, models.CreditAllocation{
				SponsoredTransactionID: st.ID,
				PaymentID:              d.PaymentID,
				Amount:                 d.Amount,
				CreatedAt:              now,
			})
		}
		return db.SaveCreditAllocations(tx, allocations)
	})
	if err != nil {
		return nil, err
	}

	log := a.log.WithField("sponsored_id", st.ID).WithField("user_id", userID)
	if err := a.transition(ctx, st, map[string]interface{}{"status": models.SponsoredSubmitted}); err != nil {
		return st, err
	}

	start := time.Now()
	sub, subErr := a.submitter.Submit(ctx, chain.Operation{
		SerializedTx: op.SerializedTx,
		UserID:       userID,
		Category:     op.Category,
	})
	metrics.SubmissionDuration.Observe(time.Since(start).Seconds())

	if subErr != nil {
		log.Warn("submission failed: %v", subErr)
		if err := a.transition(ctx, st, map[string]interface{}{
			"status":       models.SponsoredFailed,
			"error_detail": subErr.Error(),
		}); err != nil {
			return st, err
		}
		a.settleFailure(ctx, st)
		a.finalized(ctx, st)
		return st, asSubmissionError(subErr)
	}

	sig := sub.Signature
	if err := a.transition(ctx, st, map[string]interface{}{
		"status":    models.SponsoredConfirmed,
		"signature": sig,
		"fee_paid":  sub.Fee,
	}); err != nil {
		return st, err
	}
	log.WithField("signature", sig).Info("sponsored transaction confirmed, %d credit consumed", st.CreditConsumed)
	a.finalized(ctx, st)
	return st, nil
}

// settleFailure is the single place the refund policy is applied.
func (a *SponsorshipAccountant) settleFailure(ctx context.Context, st *models.SponsoredTransaction) {
	switch a.policy {
	case RefundOnSubmissionError:
		restored, err := a.ledger.RestoreCredit(ctx, st.ID)
		if err != nil {
			a.log.WithField("sponsored_id", st.ID).Error("restore credit: %v", err)
			return
		}
		if restored > 0 {
			st.CreditRestored = true
		}
	default:
		// credit stays consumed
	}
}

func (a *SponsorshipAccountant) transition(ctx context.Context, st *models.SponsoredTransaction, updates map[string]interface{}) error {
	updates["updated_at"] = a.ledger.now()
	if err := db.UpdateSponsoredTransaction(a.db.WithContext(ctx), st.ID, updates); err != nil {
		return fmt.Errorf("update sponsored transaction %s: %w", st.ID, err)
	}
	if s, ok := updates["status"].(models.SponsoredStatus); ok {
		st.Status = s
	}
	if sig, ok := updates["signature"].(string); ok {
		st.Signature = &sig
	}
	if fee, ok := updates["fee_paid"].(uint64); ok {
		st.FeePaid = fee
	}
	if detail, ok := updates["error_detail"].(string); ok {
		st.ErrorDetail = detail
	}
	return nil
}

func (a *SponsorshipAccountant) finalized(ctx context.Context, st *models.SponsoredTransaction) {
	metrics.SponsorshipsTotal.WithLabelValues(string(st.Status)).Inc()
	e := events.Event{
		Type: events.TypeSponsorshipFinalized, UserID: st.UserID, SponsoredID: st.ID,
		Amount: st.CreditConsumed, Status: string(st.Status), Detail: st.ErrorDetail,
		OccurredAt: a.ledger.now(),
	}
	if st.Signature != nil {
		e.Signature = *st.Signature
	}
	if err := a.events.Publish(ctx, e); err != nil {
		a.log.WithField("sponsored_id", st.ID).Warn("publish failed: %v", err)
	}
}

func (a *SponsorshipAccountant) Get(ctx context.Context, id string) (*models.SponsoredTransaction, error) {
	return db.GetSponsoredTransaction(a.db.WithContext(ctx), id)
}

func asSubmissionError(err error) error {
	if errors.Is(err, models.ErrSubmission) {
		return err
	}
	sig, url := models.SignatureOf(err)
	return &models.SignatureError{Err: models.ErrSubmission, Signature: sig, ExplorerURL: url, Detail: err.Error()}
}
