package chain

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/hoepeyemi/solick-sub001/internal/models"
	"github.com/hoepeyemi/solick-sub001/utils"
)

// lamportsPerSignature is the base fee the network charges per signature.
const lamportsPerSignature = 5000

// Operation is a user-signed transaction waiting for the sponsor's fee payer
// signature.
type Operation struct {
	SerializedTx string
	UserID       string
	Category     string
}

type Submission struct {
	Signature   string
	ExplorerURL string
	Fee         uint64
}

type Submitter interface {
	Submit(ctx context.Context, op Operation) (*Submission, error)
}

// FeePayerSubmitter co-signs transactions whose fee payer is the sponsor
// account and broadcasts them.
type FeePayerSubmitter struct {
	client     *rpc.Client
	payer      solana.PrivateKey
	network    string
	maxRetries int
	statusWait time.Duration
	log        *utils.Logger

	// serializes broadcasts from the single fee payer account
	mu sync.Mutex
}

func NewFeePayerSubmitter(client *rpc.Client, payer solana.PrivateKey, network string, maxRetries int, log *utils.Logger) *FeePayerSubmitter {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if log == nil {
		log = utils.DefaultLogger
	}
	return &FeePayerSubmitter{
		client:     client,
		payer:      payer,
		network:    network,
		maxRetries: maxRetries,
		statusWait: 2 * time.Second,
		log:        log.WithField("component", "submitter"),
	}
}

func (s *FeePayerSubmitter) PayerAddress() string {
	return s.payer.PublicKey().String()
}

func submissionErr(signature, format string, args ...interface{}) error {
	return models.NewSignatureError(models.ErrSubmission, signature, fmt.Sprintf(format, args...))
}

func (s *FeePayerSubmitter) Submit(ctx context.Context, op Operation) (*Submission, error) {
	if op.SerializedTx == "" {
		return nil, models.ErrInvalidRequest
	}
	tx, err := utils.DecodeBase64Tx(op.SerializedTx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}
	if len(tx.Message.AccountKeys) == 0 {
		return nil, fmt.Errorf("%w: transaction has no accounts", models.ErrInvalidRequest)
	}
	if !tx.Message.AccountKeys[0].Equals(s.payer.PublicKey()) {
		return nil, fmt.Errorf("%w: fee payer %s is not the sponsor account", models.ErrInvalidRequest, tx.Message.AccountKeys[0])
	}

	required := int(tx.Message.Header.NumRequiredSignatures)
	for len(tx.Signatures) < required {
		tx.Signatures = append(tx.Signatures, solana.Signature{})
	}
	if len(tx.Signatures) == 0 {
		return nil, fmt.Errorf("%w: transaction requires no signatures", models.ErrInvalidRequest)
	}

	if tx.Signatures[0].IsZero() {
		msg, err := tx.Message.MarshalBinary()
		if err != nil {
			return nil, submissionErr("", "marshal message: %v", err)
		}
		sig, err := s.payer.Sign(msg)
		if err != nil {
			return nil, submissionErr("", "fee payer sign: %v", err)
		}
		tx.Signatures[0] = sig
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	encBase64, err := utils.EncodeBase64Tx(tx)
	if err != nil {
		return nil, submissionErr("", "serialize: %v", err)
	}
	expected := tx.Signatures[0]
	log := s.log.WithField("signature", expected.String()).WithField("user_id", op.UserID)

	var lastErr error
	for i := 0; i < s.maxRetries; i++ {
		var sig solana.Signature
		lastErr = s.client.RPCCallForInto(ctx, &sig, "sendTransaction", []interface{}{
			encBase64,
			map[string]interface{}{
				"skipPreflight":       true,
				"preflightCommitment": "confirmed",
				"encoding":            "base64",
			},
		})
		if lastErr == nil && sig.IsZero() {
			lastErr = fmt.Errorf("node returned an empty signature")
		}
		if lastErr == nil {
			lastErr = s.checkStatus(ctx, sig)
		}
		if lastErr == nil {
			log.Info("sponsored transaction broadcast (attempt %d/%d)", i+1, s.maxRetries)
			return &Submission{
				Signature:   sig.String(),
				ExplorerURL: ExplorerURL(sig.String(), s.network),
				Fee:         s.feePaid(ctx, sig, required),
			}, nil
		}

		log.Warn("broadcast attempt %d/%d failed: %v", i+1, s.maxRetries, lastErr)
		msg := lastErr.Error()
		if strings.Contains(msg, "Blockhash not found") || strings.Contains(msg, "BlockhashNotFound") {
			return nil, submissionErr(expected.String(), "blockhash %s expired, rebuild and re-sign the transaction", tx.Message.RecentBlockhash)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, submissionErr(expected.String(), "broadcast failed after %d attempts: %v", s.maxRetries, lastErr)
}

// feePaid reads the fee the network charged, priority fees included. Until
// the transaction is readable it falls back to the base signature fee.
func (s *FeePayerSubmitter) feePaid(ctx context.Context, sig solana.Signature, signatures int) uint64 {
	base := uint64(signatures) * lamportsPerSignature
	out, err := s.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: rpc.NewTransactionVersion(0),
	})
	if err != nil || out == nil || out.Meta == nil {
		s.log.WithField("signature", sig.String()).Debug("fee not readable yet, using base fee: %v", err)
		return base
	}
	return out.Meta.Fee
}

// checkStatus makes sure the node knows the signature and that it did not fail.
func (s *FeePayerSubmitter) checkStatus(ctx context.Context, sig solana.Signature) error {
	for attempt := 0; attempt < 2; attempt++ {
		statuses, err := s.client.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			return fmt.Errorf("get signature status: %w", err)
		}
		if statuses != nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
			if statuses.Value[0].Err != nil {
				return fmt.Errorf("transaction failed: %v", statuses.Value[0].Err)
			}
			return nil
		}
		if attempt == 0 {
			t := time.NewTimer(s.statusWait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	return fmt.Errorf("signature %s not visible to the node", sig)
}
