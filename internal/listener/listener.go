package listener

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/hoepeyemi/solick-sub001/internal/db"
	"github.com/hoepeyemi/solick-sub001/internal/metrics"
	"github.com/hoepeyemi/solick-sub001/internal/models"
	"github.com/hoepeyemi/solick-sub001/utils"
)

// PaymentReconciler re-verifies one pending payment.
type PaymentReconciler interface {
	Reconcile(ctx context.Context, p *models.Payment) (*models.Payment, error)
}

// Ledger is the part of the credit ledger the listener needs.
type Ledger interface {
	MarkFailed(ctx context.Context, signature, reason string, evidence []byte) (*models.Payment, error)
	AuditConservation(ctx context.Context) ([]models.Payment, error)
}

type Options struct {
	Workers    int
	BatchSize  int
	PendingTTL time.Duration
}

// Summary counts the outcomes of one pass.
type Summary struct {
	Verified int
	Failed   int
	Pending  int
	Expired  int
	Errors   int
}

// Listener periodically re-verifies PENDING payments so a user who paid but
// never came back still gets credited.
type Listener struct {
	db       *gorm.DB
	payments PaymentReconciler
	ledger   Ledger
	opts     Options
	now      func() time.Time
	log      *utils.Logger

	workerPool chan struct{}
	inFlight   sync.Map // signature -> struct{}
	cron       *cron.Cron
}

func New(conn *gorm.DB, payments PaymentReconciler, ledger Ledger, opts Options, log *utils.Logger) *Listener {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if log == nil {
		log = utils.DefaultLogger
	}
	return &Listener{
		db:         conn,
		payments:   payments,
		ledger:     ledger,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log.WithField("component", "listener"),
		workerPool: make(chan struct{}, opts.Workers),
	}
}

// Start schedules RunOnce on spec (standard cron syntax or "@every 1m") until
// ctx is done.
func (l *Listener) Start(ctx context.Context, spec string) error {
	l.cron = cron.New()
	if _, err := l.cron.AddFunc(spec, func() {
		s, err := l.RunOnce(ctx)
		if err != nil {
			l.log.Error("reconcile pass failed: %v", err)
			return
		}
		l.log.Info("reconcile pass: %d verified, %d failed, %d pending, %d expired, %d errors",
			s.Verified, s.Failed, s.Pending, s.Expired, s.Errors)
	}); err != nil {
		return err
	}
	l.cron.Start()
	go func() {
		<-ctx.Done()
		<-l.cron.Stop().Done()
		l.log.Info("listener stopped")
	}()
	return nil
}

// RunOnce processes one batch of PENDING payments and then audits the ledger.
func (l *Listener) RunOnce(ctx context.Context) (Summary, error) {
	var summary Summary
	pending, err := db.ListPendingPayments(l.db.WithContext(ctx), l.opts.BatchSize)
	if err != nil {
		return summary, err
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := range pending {
		p := pending[i]
		if _, busy := l.inFlight.LoadOrStore(p.Signature, struct{}{}); busy {
			continue
		}
		select {
		case l.workerPool <- struct{}{}:
		case <-ctx.Done():
			l.inFlight.Delete(p.Signature)
			wg.Wait()
			return summary, ctx.Err()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-l.workerPool }()
			defer l.inFlight.Delete(p.Signature)

			outcome := l.process(ctx, &p)
			metrics.ReconciledTotal.WithLabelValues(outcome).Inc()
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case "verified":
				summary.Verified++
			case "failed":
				summary.Failed++
			case "pending":
				summary.Pending++
			case "expired":
				summary.Expired++
			default:
				summary.Errors++
			}
		}()
	}
	wg.Wait()

	if bad, err := l.ledger.AuditConservation(ctx); err != nil {
		l.log.Error("conservation audit failed: %v", err)
	} else {
		for _, p := range bad {
			l.log.WithField("signature", p.Signature).
				Error("credit mismatch: amount %d, remaining %d, used %d, status %s",
					p.Amount, p.CreditRemaining, p.CreditUsed, p.Status)
		}
	}
	return summary, nil
}

func (l *Listener) process(ctx context.Context, p *models.Payment) string {
	log := l.log.WithField("signature", p.Signature)
	_, err := l.payments.Reconcile(ctx, p)
	switch {
	case err == nil:
		return "verified"
	case errors.Is(err, models.ErrVerificationMismatch):
		return "failed"
	case errors.Is(err, models.ErrUnconfirmed):
		if l.opts.PendingTTL > 0 && l.now().Sub(p.CreatedAt) > l.opts.PendingTTL {
			if _, ferr := l.ledger.MarkFailed(ctx, p.Signature, "not confirmed within "+l.opts.PendingTTL.String(), nil); ferr != nil {
				log.Error("expire pending payment: %v", ferr)
				return "error"
			}
			return "expired"
		}
		return "pending"
	default:
		log.Warn("reconcile: %v", err)
		return "error"
	}
}
