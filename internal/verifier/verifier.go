package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/hoepeyemi/solick-sub001/internal/chain"
	"github.com/hoepeyemi/solick-sub001/internal/metrics"
	"github.com/hoepeyemi/solick-sub001/internal/models"
	"github.com/hoepeyemi/solick-sub001/utils"
)

// Target is where the payment was expected to land. At least one of Owner
// and TokenAccount must be set; Mint is required.
type Target struct {
	Owner        solana.PublicKey
	TokenAccount solana.PublicKey
	Mint         solana.PublicKey
}

type Result struct {
	Signature      string
	Verified       bool
	AmountReceived uint64
	Expected       uint64
	Method         Method
	Permissive     bool
	// Source is the first of Senders, or the fee payer when the record names
	// no sender.
	Source      string
	Senders     []string
	FeePayer    string
	Slot        uint64
	ExplorerURL string
	Evidence    json.RawMessage
}

// SentBy reports whether address moved the funds. Without transfer evidence
// the fee payer stands in for the sender.
func (r *Result) SentBy(address string) bool {
	if address == "" {
		return false
	}
	if len(r.Senders) == 0 {
		return r.FeePayer == address
	}
	for _, s := range r.Senders {
		if s == address {
			return true
		}
	}
	return false
}

type Verifier struct {
	reader     chain.Reader
	policy     RetryPolicy
	clock      Clock
	network    string
	strategies []Strategy
	log        *utils.Logger
}

type Option func(*Verifier)

func WithRetryPolicy(p RetryPolicy) Option { return func(v *Verifier) { v.policy = p } }
func WithClock(c Clock) Option             { return func(v *Verifier) { v.clock = c } }
func WithNetwork(n string) Option          { return func(v *Verifier) { v.network = n } }
func WithLogger(l *utils.Logger) Option    { return func(v *Verifier) { v.log = l } }

// WithPermissiveFallback enables the last-resort strategy that accepts a
// positive balance increase on a target account whose rows name no mint.
func WithPermissiveFallback(allow bool) Option {
	return func(v *Verifier) { v.strategies = DefaultStrategies(allow) }
}

func WithStrategies(s []Strategy) Option { return func(v *Verifier) { v.strategies = s } }

func New(reader chain.Reader, opts ...Option) *Verifier {
	v := &Verifier{
		reader:     reader,
		policy:     DefaultRetryPolicy(),
		clock:      realClock{},
		strategies: DefaultStrategies(false),
		log:        utils.DefaultLogger,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.log = v.log.WithField("component", "verifier")
	return v
}

// Verify waits for signature to be confirmed and decides whether at least
// expected smallest units of t.Mint reached t. It never writes anything.
//
// On an insufficient amount it returns both the Result (Verified false) and a
// *models.SignatureError wrapping ErrVerificationMismatch.
func (v *Verifier) Verify(ctx context.Context, signature string, t Target, expected uint64) (*Result, error) {
	if signature == "" || t.Mint.IsZero() || (t.Owner.IsZero() && t.TokenAccount.IsZero()) {
		return nil, models.ErrInvalidRequest
	}
	explorer := chain.ExplorerURL(signature, v.network)
	log := v.log.WithField("signature", signature)

	rec, err := v.fetch(ctx, signature)
	if err != nil {
		metrics.VerificationsTotal.WithLabelValues("none", outcomeOf(err)).Inc()
		var se *models.SignatureError
		if errors.As(err, &se) && se.ExplorerURL == "" {
			se.ExplorerURL = explorer
		}
		return nil, err
	}

	rt := resolveTarget(t)
	res := &Result{
		Signature:   signature,
		Expected:    expected,
		Slot:        rec.Slot,
		FeePayer:    rec.FeePayer().String(),
		Source:      rec.FeePayer().String(),
		ExplorerURL: explorer,
	}
	for _, k := range senders(rec, rt) {
		res.Senders = append(res.Senders, k.String())
	}
	if len(res.Senders) > 0 {
		res.Source = res.Senders[0]
	}

	if !rec.Success {
		res.Evidence = v.evidence(rec, res)
		metrics.VerificationsTotal.WithLabelValues("none", "mismatch").Inc()
		log.Warn("transaction failed on chain: %v", rec.Err)
		return res, &models.SignatureError{
			Err: models.ErrVerificationMismatch, Signature: signature, ExplorerURL: explorer,
			Detail: fmt.Sprintf("transaction failed on chain: %v", rec.Err),
		}
	}

	for _, s := range v.strategies {
		amount, ok := s.Extract(rec, rt)
		if !ok {
			log.Debug("strategy %s not applicable", s.Method)
			continue
		}
		res.Method = s.Method
		res.Permissive = s.Method == MethodPermissive
		res.AmountReceived = amount
		res.Verified = amount >= expected
		res.Evidence = v.evidence(rec, res)

		if !res.Verified {
			metrics.VerificationsTotal.WithLabelValues(string(s.Method), "mismatch").Inc()
			log.Warn("received %d via %s, expected %d", amount, s.Method, expected)
			return res, &models.SignatureError{
				Err: models.ErrVerificationMismatch, Signature: signature, ExplorerURL: explorer,
				Amount: amount, Detail: fmt.Sprintf("received %d, expected %d (%s)", amount, expected, s.Method),
			}
		}
		if res.Permissive {
			log.Warn("verified by permissive fallback: received %d, expected %d", amount, expected)
		} else {
			log.Info("verified via %s: received %d, expected %d", s.Method, amount, expected)
		}
		metrics.VerificationsTotal.WithLabelValues(string(s.Method), "verified").Inc()
		return res, nil
	}

	res.Evidence = v.evidence(rec, res)
	if unusable(rec) {
		metrics.VerificationsTotal.WithLabelValues("none", "malformed").Inc()
		log.Error("transaction carries no balances, instructions or logs")
		return res, &models.SignatureError{
			Err: models.ErrMalformedData, Signature: signature, ExplorerURL: explorer,
			Detail: "transaction carries no balances, instructions or logs",
		}
	}
	metrics.VerificationsTotal.WithLabelValues("none", "mismatch").Inc()
	log.Warn("no transfer to the target found")
	return res, &models.SignatureError{
		Err: models.ErrVerificationMismatch, Signature: signature, ExplorerURL: explorer,
		Detail: "no transfer to the target found",
	}
}

// unusable reports a record no strategy could ever read.
func unusable(rec *chain.TransactionRecord) bool {
	return len(rec.PreTokenBalances) == 0 && len(rec.PostTokenBalances) == 0 &&
		len(rec.Instructions) == 0 && len(rec.InnerInstructions) == 0 &&
		len(rec.Logs) == 0 && len(rec.Parsed) == 0
}

func (v *Verifier) fetch(ctx context.Context, signature string) (*chain.TransactionRecord, error) {
	var rec *chain.TransactionRecord
	err := v.policy.Run(ctx, v.clock, func(attempt int) (bool, error) {
		r, err := v.reader.GetConfirmedTransaction(ctx, signature)
		switch {
		case err == nil:
			rec = r
			return true, nil
		case errors.Is(err, models.ErrMalformedData), errors.Is(err, models.ErrInvalidRequest):
			return true, err
		default:
			v.log.WithField("signature", signature).Debug("attempt %d/%d: %v", attempt+1, v.policy.Attempts(), err)
			return false, err
		}
	})
	if rec != nil {
		return rec, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if errors.Is(err, models.ErrMalformedData) || errors.Is(err, models.ErrInvalidRequest) {
		return nil, err
	}
	detail := fmt.Sprintf("not found after %d attempts", v.policy.Attempts())
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		detail += ": " + err.Error()
	}
	return nil, models.NewSignatureError(models.ErrUnconfirmed, signature, detail)
}

func (v *Verifier) evidence(rec *chain.TransactionRecord, res *Result) json.RawMessage {
	doc := map[string]interface{}{
		"method":         res.Method,
		"permissive":     res.Permissive,
		"amountReceived": res.AmountReceived,
		"expected":       res.Expected,
		"slot":           rec.Slot,
		"source":         res.Source,
		"senders":        res.Senders,
		"versioned":      rec.Versioned,
		"success":        rec.Success,
		"accountCount":   len(rec.AccountKeys),
		"staticKeyCount": rec.StaticKeyCount,
	}
	if rec.BlockTime != nil {
		doc["blockTime"] = rec.BlockTime.Unix()
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil
	}
	return b
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, models.ErrUnconfirmed):
		return "unconfirmed"
	case errors.Is(err, models.ErrMalformedData):
		return "malformed"
	default:
		return "error"
	}
}
