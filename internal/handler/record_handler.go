package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hoepeyemi/solick-sub001/internal/chain"
	"github.com/hoepeyemi/solick-sub001/internal/models"
)

// VerifyPayment verifies an on-chain payment and credits it.
func (h *Handler) VerifyPayment(c *gin.Context) {
	var req models.VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error(), "code": "invalid_request"})
		return
	}

	p, err := h.Payments.RecordVerifiedPayment(c.Request.Context(), req.UserID, req.Signature)
	if err != nil {
		extra := gin.H{"signature": req.Signature, "explorerUrl": chain.ExplorerURL(req.Signature, h.Network)}
		if p != nil {
			extra["payment"] = p
		}
		respondError(c, err, extra)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payment":     p,
		"signature":   p.Signature,
		"explorerUrl": chain.ExplorerURL(p.Signature, h.Network),
	})
}

// RegisterPendingPayment records a submitted payment for later verification.
func (h *Handler) RegisterPendingPayment(c *gin.Context) {
	var req models.VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error(), "code": "invalid_request"})
		return
	}
	p, err := h.Payments.RegisterPending(c.Request.Context(), req.UserID, req.Signature)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"payment":     p,
		"signature":   p.Signature,
		"explorerUrl": chain.ExplorerURL(p.Signature, h.Network),
	})
}

func (h *Handler) GetPayment(c *gin.Context) {
	sig := c.Param("signature")
	p, err := h.Ledger.GetPaymentBySignature(c.Request.Context(), sig)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payment":     p,
		"explorerUrl": chain.ExplorerURL(p.Signature, h.Network),
	})
}

// GetCredit returns the user's balance and payment history.
func (h *Handler) GetCredit(c *gin.Context) {
	userID := c.Param("userId")
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit", "code": "invalid_request"})
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	balance, err := h.Ledger.GetUserCredit(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	payments, err := h.Ledger.GetPaymentHistory(ctx, userID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if payments == nil {
		payments = []models.Payment{}
	}
	c.JSON(http.StatusOK, models.CreditResponse{UserID: userID, Balance: balance, Payments: payments})
}

// RegisterWallet links a user to the address they pay from.
func (h *Handler) RegisterWallet(c *gin.Context) {
	var req struct {
		UserID  string `json:"userId" binding:"required"`
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error(), "code": "invalid_request"})
		return
	}
	id, err := h.Wallets.Register(c.Request.Context(), req.UserID, req.Address)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, id)
}
