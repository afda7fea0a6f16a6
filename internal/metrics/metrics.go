package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VerificationsTotal counts payment verifications by deciding method and outcome.
	VerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sponsor_payment_verifications_total",
		Help: "Payment verifications by evidence method and outcome",
	}, []string{"method", "outcome"})

	PaymentsRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sponsor_payments_recorded_total",
		Help: "Payments written to the ledger, by whether the signature was new",
	}, []string{"result"})

	CreditCreditedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sponsor_credit_credited_units_total",
		Help: "Credit added from verified payments, in smallest token units",
	})

	CreditUsedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sponsor_credit_used_units_total",
		Help: "Credit consumed by sponsored transactions, in smallest token units",
	})

	CreditRestoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sponsor_credit_restored_units_total",
		Help: "Credit returned to payments after a failed submission",
	})

	InsufficientCreditTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sponsor_insufficient_credit_total",
		Help: "Credit deductions rejected for insufficient balance",
	})

	SponsorshipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sponsor_sponsorships_total",
		Help: "Sponsored transactions by final status",
	}, []string{"status"})

	SubmissionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sponsor_submission_duration_seconds",
		Help:    "Time spent handing sponsored transactions to the submitter",
		Buckets: prometheus.DefBuckets,
	})

	ReconciledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sponsor_reconciled_payments_total",
		Help: "Pending payments processed by the reconciler, by outcome",
	}, []string{"outcome"})
)
