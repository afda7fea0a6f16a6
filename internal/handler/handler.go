package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/hoepeyemi/solick-sub001/internal/chain"
	"github.com/hoepeyemi/solick-sub001/internal/middleware"
	"github.com/hoepeyemi/solick-sub001/internal/models"
	"github.com/hoepeyemi/solick-sub001/internal/services"
)

type Handler struct {
	DB           *gorm.DB
	Quotes       *services.QuoteGenerator
	Payments     *services.PaymentService
	Ledger       *services.CreditLedger
	Sponsorship  *services.SponsorshipAccountant
	Wallets      *services.WalletResolver
	PayerAddress string
	Network      string
	// ReadyAfter delays readiness after start.
	ReadyAfter time.Duration

	started time.Time
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	if h.started.IsZero() {
		h.started = time.Now()
	}

	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readiness)
	r.GET("/metrics", middleware.LocalOnly(), gin.WrapH(promhttp.Handler()))

	r.GET("/quote", h.GetQuote)
	r.GET("/payer", h.GetPayerAddress)

	r.POST("/wallets", h.RegisterWallet)

	r.POST("/payments/verify", h.VerifyPayment)
	r.POST("/payments/pending", h.RegisterPendingPayment)
	r.GET("/payments/:signature", h.GetPayment)

	r.GET("/credit/:userId", h.GetCredit)

	r.POST("/sponsor", h.Sponsor)
	r.GET("/sponsor/:id", h.GetSponsoredTransaction)
}

func (h *Handler) GetQuote(c *gin.Context) {
	q, err := h.Quotes.Quote()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrUnconfirmed):
		return http.StatusAccepted, "unconfirmed"
	case errors.Is(err, models.ErrVerificationMismatch):
		return http.StatusUnprocessableEntity, "verification_mismatch"
	case errors.Is(err, models.ErrMalformedData):
		return http.StatusUnprocessableEntity, "malformed_data"
	case errors.Is(err, models.ErrDuplicateSignature):
		return http.StatusConflict, "duplicate_signature"
	case errors.Is(err, models.ErrInsufficientCredit):
		return http.StatusPaymentRequired, "insufficient_credit"
	case errors.Is(err, models.ErrSubmission):
		return http.StatusBadGateway, "submission_failed"
	case errors.Is(err, models.ErrConfiguration):
		return http.StatusInternalServerError, "configuration"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// respondError writes err with its status code. The signature and explorer
// link are included whenever the error carries them.
func respondError(c *gin.Context, err error, extra ...gin.H) {
	status, code := statusFor(err)
	body := gin.H{"error": err.Error(), "code": code}
	if sig, url := models.SignatureOf(err); sig != "" {
		body["signature"] = sig
		if url == "" {
			url = chain.ExplorerURL(sig, "")
		}
		body["explorerUrl"] = url
	}
	for _, e := range extra {
		for k, v := range e {
			body[k] = v
		}
	}
	c.JSON(status, body)
}
