package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentVerified  PaymentStatus = "VERIFIED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

type SponsoredStatus string

const (
	SponsoredPending   SponsoredStatus = "PENDING"
	SponsoredSubmitted SponsoredStatus = "SUBMITTED"
	SponsoredConfirmed SponsoredStatus = "CONFIRMED"
	SponsoredFailed    SponsoredStatus = "FAILED"
)

// Payment is one token payment made by a user to buy sponsorship credit.
// Amounts are in the token's smallest units.
type Payment struct {
	ID                      string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID                  *string         `gorm:"type:varchar(64);index" json:"userId"`
	Signature               string          `gorm:"type:varchar(88);uniqueIndex;not null" json:"signature"`
	Amount                  uint64          `gorm:"not null;default:0" json:"amount"`
	AmountMajor             decimal.Decimal `gorm:"type:numeric(30,9)" json:"amountMajor"`
	DestinationTokenAccount string          `gorm:"size:44" json:"destinationTokenAccount"`
	DestinationWallet       string          `gorm:"size:44" json:"destinationWallet"`
	SourceAddress           string          `gorm:"size:44" json:"sourceAddress"`
	Network                 string          `gorm:"size:20" json:"network"`
	TokenMint               string          `gorm:"size:44" json:"tokenMint"`
	Status                  PaymentStatus   `gorm:"size:20;index;not null;default:'PENDING'" json:"status"`
	CreditRemaining         uint64          `gorm:"not null;default:0" json:"creditRemaining"`
	CreditUsed              uint64          `gorm:"not null;default:0" json:"creditUsed"`
	EvidenceMethod          string          `gorm:"size:40" json:"evidenceMethod,omitempty"`
	Evidence                datatypes.JSON  `json:"evidence,omitempty"`
	FailureReason           string          `gorm:"type:text" json:"failureReason,omitempty"`
	CreatedAt               time.Time       `gorm:"index" json:"createdAt"`
	UpdatedAt               time.Time       `json:"updatedAt"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// SponsoredTransaction is one operation whose network fee was paid out of credit.
type SponsoredTransaction struct {
	ID             string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID         string          `gorm:"type:varchar(64);index;not null" json:"userId"`
	PaymentID      *string         `gorm:"type:varchar(36);index" json:"paymentId"`
	Payment        *Payment        `gorm:"foreignKey:PaymentID;constraint:OnDelete:SET NULL" json:"-"`
	Category       string          `gorm:"size:64" json:"category"`
	Signature      *string         `gorm:"type:varchar(88);uniqueIndex" json:"signature"`
	FeePaid        uint64          `gorm:"not null;default:0" json:"feePaid"`
	CreditConsumed uint64          `gorm:"not null;default:0" json:"creditConsumed"`
	CreditRestored bool            `gorm:"not null;default:false" json:"creditRestored"`
	Status         SponsoredStatus `gorm:"size:20;index;not null;default:'PENDING'" json:"status"`
	ErrorDetail    string          `gorm:"type:text" json:"errorDetail,omitempty"`
	Network        string          `gorm:"size:20" json:"network"`
	Descriptor     datatypes.JSON  `json:"descriptor,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func (s *SponsoredTransaction) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// CreditAllocation records how much of one payment's credit a sponsored
// transaction consumed.
type CreditAllocation struct {
	ID                     uint      `gorm:"primaryKey" json:"-"`
	SponsoredTransactionID string    `gorm:"type:varchar(36);index;not null" json:"sponsoredTransactionId"`
	PaymentID              string    `gorm:"type:varchar(36);index;not null" json:"paymentId"`
	Amount                 uint64    `gorm:"not null" json:"amount"`
	CreatedAt              time.Time `json:"createdAt"`
}

// Wallet links a user to the address they pay from.
type Wallet struct {
	gorm.Model
	UserID  string `gorm:"uniqueIndex;size:64"`
	Address string `gorm:"index;size:44"`
	Active  bool   `gorm:"not null;default:true"`
}
