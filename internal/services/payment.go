package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/hoepeyemi/solick-sub001/internal/models"
	"github.com/hoepeyemi/solick-sub001/internal/verifier"
	"github.com/hoepeyemi/solick-sub001/utils"
)

// PaymentVerifier is the part of verifier.Verifier the payment flow needs.
type PaymentVerifier interface {
	Verify(ctx context.Context, signature string, t verifier.Target, expected uint64) (*verifier.Result, error)
}

// PaymentService turns an on-chain payment signature into ledger credit.
type PaymentService struct {
	quotes   *QuoteGenerator
	verifier PaymentVerifier
	ledger   *CreditLedger
	identity IdentityResolver
	log      *utils.Logger
}

// NewPaymentService builds the service. identity may be nil, in which case
// user ids are taken as given.
func NewPaymentService(quotes *QuoteGenerator, v PaymentVerifier, ledger *CreditLedger, identity IdentityResolver, log *utils.Logger) *PaymentService {
	if log == nil {
		log = utils.DefaultLogger
	}
	return &PaymentService{
		quotes:   quotes,
		verifier: v,
		ledger:   ledger,
		identity: identity,
		log:      log.WithField("component", "payments"),
	}
}

func (s *PaymentService) resolveUser(ctx context.Context, userKey string) (*Identity, error) {
	if s.identity == nil {
		return &Identity{UserID: userKey, Active: true}, nil
	}
	id, err := s.identity.Resolve(ctx, userKey)
	if errors.Is(err, models.ErrNotFound) {
		// no wallet registered: the key is the user id
		return &Identity{UserID: userKey, Active: true}, nil
	}
	if err != nil {
		return nil, err
	}
	if !id.Active {
		return nil, fmt.Errorf("%w: user %s is inactive", models.ErrNotFound, userKey)
	}
	return id, nil
}

func (s *PaymentService) metadata(quote *models.Quote, res *verifier.Result, amount uint64) PaymentMetadata {
	meta := PaymentMetadata{
		AmountMajor:             s.quotes.MajorUnits(amount),
		DestinationTokenAccount: quote.DestinationTokenAccount,
		DestinationWallet:       quote.DestinationWallet,
		Network:                 quote.Network,
		TokenMint:               quote.TokenMint,
	}
	if res != nil {
		meta.SourceAddress = res.Source
		meta.EvidenceMethod = string(res.Method)
		meta.Evidence = res.Evidence
	}
	return meta
}

// RegisterPending records a payment the user says they submitted, so the
// reconciler can verify it later.
func (s *PaymentService) RegisterPending(ctx context.Context, userKey, signature string) (*models.Payment, error) {
	user, err := s.resolveUser(ctx, userKey)
	if err != nil {
		return nil, err
	}
	quote, err := s.quotes.Quote()
	if err != nil {
		return nil, err
	}
	meta := s.metadata(quote, nil, quote.AmountSmallestUnits)
	return s.ledger.CreatePending(ctx, user.UserID, signature, meta)
}

// RecordVerifiedPayment verifies signature against the current quote and
// credits the user. Calling it again for the same signature returns the
// recorded payment without touching the chain.
func (s *PaymentService) RecordVerifiedPayment(ctx context.Context, userKey, signature string) (*models.Payment, error) {
	if signature == "" {
		return nil, models.ErrInvalidRequest
	}
	user, err := s.resolveUser(ctx, userKey)
	if err != nil {
		return nil, err
	}

	existing, err := s.ledger.GetPaymentBySignature(ctx, signature)
	switch {
	case err == nil && existing.Status != models.PaymentPending:
		return s.settled(existing, user.UserID)
	case err == nil && existing.UserID != nil && *existing.UserID != user.UserID && user.PayableAddress == "":
		// only a registered wallet can prove a pending claim by someone else wrong
		return s.settled(existing, user.UserID)
	case err != nil && !errors.Is(err, models.ErrNotFound):
		return nil, err
	}
	return s.verifyAndRecord(ctx, user, signature, false)
}

// Reconcile re-verifies a PENDING payment. Unconfirmed payments stay PENDING.
func (s *PaymentService) Reconcile(ctx context.Context, p *models.Payment) (*models.Payment, error) {
	if p.UserID == nil || *p.UserID == "" {
		return nil, fmt.Errorf("%w: pending payment %s has no user", models.ErrInvalidRequest, p.Signature)
	}
	user, err := s.resolveUser(ctx, *p.UserID)
	if err != nil {
		return nil, err
	}
	return s.verifyAndRecord(ctx, user, p.Signature, true)
}

// senderMismatch rejects a verified payment that the user's registered
// wallet did not send.
func senderMismatch(user *Identity, res *verifier.Result) error {
	if user.PayableAddress == "" || res.SentBy(user.PayableAddress) {
		return nil
	}
	return &models.SignatureError{
		Err: models.ErrVerificationMismatch, Signature: res.Signature, ExplorerURL: res.ExplorerURL,
		Amount: res.AmountReceived,
		Detail: fmt.Sprintf("sent by %s, not by wallet %s of user %s", res.Source, user.PayableAddress, user.UserID),
	}
}

// verifyAndRecord checks signature on chain and credits user. A payment sent
// from another wallet writes nothing, unless it settles the user's own
// pending claim, which is then failed.
func (s *PaymentService) verifyAndRecord(ctx context.Context, user *Identity, signature string, pending bool) (*models.Payment, error) {
	userID := user.UserID
	quote, err := s.quotes.Quote()
	if err != nil {
		return nil, err
	}
	target, err := s.quotes.Target()
	if err != nil {
		return nil, err
	}
	log := s.log.WithField("signature", signature).WithField("user_id", userID)

	res, err := s.verifier.Verify(ctx, signature, target, quote.AmountSmallestUnits)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnconfirmed):
			if _, perr := s.ledger.CreatePending(ctx, userID, signature, s.metadata(quote, nil, quote.AmountSmallestUnits)); perr != nil {
				log.Error("register pending payment: %v", perr)
			}
		case errors.Is(err, models.ErrVerificationMismatch):
			if _, perr := s.ledger.CreatePending(ctx, userID, signature, s.metadata(quote, res, quote.AmountSmallestUnits)); perr != nil {
				log.Error("register failed payment: %v", perr)
			} else {
				var evidence []byte
				if res != nil {
					evidence = res.Evidence
				}
				if _, ferr := s.ledger.MarkFailed(ctx, signature, err.Error(), evidence); ferr != nil {
					log.Error("mark payment failed: %v", ferr)
				}
			}
		case errors.Is(err, models.ErrMalformedData):
			log.Error("malformed transaction data, needs manual audit: %v", err)
		}
		return nil, err
	}

	if err := senderMismatch(user, res); err != nil {
		log.Warn("rejecting payment: %v", err)
		if pending {
			if _, ferr := s.ledger.MarkFailed(ctx, signature, err.Error(), res.Evidence); ferr != nil {
				log.Error("mark payment failed: %v", ferr)
			}
		}
		return nil, err
	}
	if res.Permissive {
		log.Warn("crediting payment verified by permissive fallback")
	}
	p, err := s.ledger.RecordPayment(ctx, userID, signature, res.AmountReceived, s.metadata(quote, res, res.AmountReceived))
	if err != nil {
		return nil, err
	}
	return s.settled(p, userID)
}

// settled reports an already decided payment to the user asking for it.
func (s *PaymentService) settled(p *models.Payment, userID string) (*models.Payment, error) {
	if p.UserID != nil && *p.UserID != userID {
		return nil, &models.SignatureError{
			Err: models.ErrDuplicateSignature, Signature: p.Signature,
			Detail: "payment is already credited to another user",
		}
	}
	if p.Status == models.PaymentFailed {
		return p, &models.SignatureError{
			Err: models.ErrVerificationMismatch, Signature: p.Signature, Detail: p.FailureReason,
		}
	}
	return p, nil
}
