package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hoepeyemi/solick-sub001/internal/chain"
	"github.com/hoepeyemi/solick-sub001/internal/models"
	"github.com/hoepeyemi/solick-sub001/internal/services"
)

// Sponsor spends one unit of credit to pay the fee of a user-signed transaction.
func (h *Handler) Sponsor(c *gin.Context) {
	var req models.SponsorTxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error(), "code": "invalid_request"})
		return
	}

	st, err := h.Sponsorship.Sponsor(c.Request.Context(), req.UserID, services.OperationDescriptor{
		Category:     req.Category,
		SerializedTx: req.SerializedTx,
	})
	if err != nil {
		if st != nil {
			respondError(c, err, gin.H{"sponsoredTransaction": st})
			return
		}
		respondError(c, err)
		return
	}

	body := gin.H{"sponsoredTransaction": st}
	if st.Signature != nil {
		body["signature"] = *st.Signature
		body["explorerUrl"] = chain.ExplorerURL(*st.Signature, h.Network)
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) GetSponsoredTransaction(c *gin.Context) {
	st, err := h.Sponsorship.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// GetPayerAddress returns the fee payer users must put first in their transactions.
func (h *Handler) GetPayerAddress(c *gin.Context) {
	if h.PayerAddress == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "fee payer not configured", "code": "configuration"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": h.PayerAddress})
}
