package services

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
	"gorm.io/gorm"

	"github.com/hoepeyemi/solick-sub001/internal/db"
	"github.com/hoepeyemi/solick-sub001/internal/models"
)

type Identity struct {
	UserID         string `json:"userId"`
	PayableAddress string `json:"payableAddress"`
	Active         bool   `json:"active"`
}

// IdentityResolver maps a user id or wallet address to the user behind it.
type IdentityResolver interface {
	Resolve(ctx context.Context, userKey string) (*Identity, error)
}

// WalletResolver resolves identities from the wallets table.
type WalletResolver struct {
	db *gorm.DB
}

func NewWalletResolver(conn *gorm.DB) *WalletResolver {
	return &WalletResolver{db: conn}
}

func (r *WalletResolver) Resolve(ctx context.Context, userKey string) (*Identity, error) {
	if userKey == "" {
		return nil, models.ErrInvalidRequest
	}
	w, err := db.GetWallet(r.db.WithContext(ctx), userKey)
	if err != nil {
		return nil, err
	}
	return &Identity{UserID: w.UserID, PayableAddress: w.Address, Active: w.Active}, nil
}

// Register links userID to address, replacing any previous address.
func (r *WalletResolver) Register(ctx context.Context, userID, address string) (*Identity, error) {
	if userID == "" {
		return nil, models.ErrInvalidRequest
	}
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return nil, models.ErrInvalidRequest
	}
	conn := r.db.WithContext(ctx)
	w, err := db.GetWallet(conn, userID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		w = &models.Wallet{UserID: userID}
	case err != nil:
		return nil, err
	}
	w.Address = address
	w.Active = true
	if err := db.SaveWallet(conn, w); err != nil {
		return nil, err
	}
	return &Identity{UserID: w.UserID, PayableAddress: w.Address, Active: w.Active}, nil
}
