package models

import "github.com/shopspring/decimal"

// Quote is what a user has to pay to buy one unit of sponsorship credit.
type Quote struct {
	DestinationWallet       string          `json:"destinationWallet"`
	DestinationTokenAccount string          `json:"destinationTokenAccount"`
	TokenMint               string          `json:"tokenMint"`
	AmountSmallestUnits     uint64          `json:"amountSmallestUnits"`
	AmountMajorUnits        decimal.Decimal `json:"amountMajorUnits"`
	Network                 string          `json:"network"`
}

// VerifyPaymentRequest asks to verify an on-chain payment and credit it to a user.
type VerifyPaymentRequest struct {
	UserID    string `json:"userId" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// SponsorTxRequest asks the service to pay the fee of a user-signed transaction.
type SponsorTxRequest struct {
	UserID       string `json:"userId" binding:"required"`
	Category     string `json:"category"`
	SerializedTx string `json:"serializedTx" binding:"required"`
}

type CreditResponse struct {
	UserID   string    `json:"userId"`
	Balance  uint64    `json:"balance"`
	Payments []Payment `json:"payments"`
}
