package services

import (
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/hoepeyemi/solick-sub001/internal/models"
	"github.com/hoepeyemi/solick-sub001/internal/verifier"
)

type QuoteConfig struct {
	Recipient    string
	TokenMint    string
	TokenProgram string // empty or "token" for SPL Token, "token-2022" or a program id otherwise
	Price        decimal.Decimal
	Decimals     uint8
	Network      string
}

// QuoteGenerator computes what a user pays for one unit of sponsorship. It
// makes no network calls.
type QuoteGenerator struct {
	cfg QuoteConfig
}

func NewQuoteGenerator(cfg QuoteConfig) *QuoteGenerator {
	return &QuoteGenerator{cfg: cfg}
}

func (q *QuoteGenerator) tokenProgram() (solana.PublicKey, error) {
	switch q.cfg.TokenProgram {
	case "", "token", "spl-token":
		return solana.TokenProgramID, nil
	case "token-2022", "token2022":
		return solana.Token2022ProgramID, nil
	}
	id, err := solana.PublicKeyFromBase58(q.cfg.TokenProgram)
	if err != nil {
		return solana.PublicKey{}, models.Configurationf("token program %q: %v", q.cfg.TokenProgram, err)
	}
	return id, nil
}

// Price returns the configured price in smallest token units.
func (q *QuoteGenerator) Price() (uint64, error) {
	if q.cfg.Price.IsZero() || q.cfg.Price.IsNegative() {
		return 0, models.Configurationf("price must be positive, got %s", q.cfg.Price)
	}
	units := q.cfg.Price.Shift(int32(q.cfg.Decimals))
	if !units.Equal(units.Truncate(0)) {
		return 0, models.Configurationf("price %s has more than %d decimals", q.cfg.Price, q.cfg.Decimals)
	}
	n := units.BigInt()
	if !n.IsUint64() {
		return 0, models.Configurationf("price %s out of range", q.cfg.Price)
	}
	return n.Uint64(), nil
}

// Target is where a quoted payment must arrive.
func (q *QuoteGenerator) Target() (verifier.Target, error) {
	if q.cfg.Recipient == "" {
		return verifier.Target{}, models.Configurationf("recipient is not configured")
	}
	if q.cfg.TokenMint == "" {
		return verifier.Target{}, models.Configurationf("token mint is not configured")
	}
	owner, err := solana.PublicKeyFromBase58(q.cfg.Recipient)
	if err != nil {
		return verifier.Target{}, models.Configurationf("recipient %q: %v", q.cfg.Recipient, err)
	}
	mint, err := solana.PublicKeyFromBase58(q.cfg.TokenMint)
	if err != nil {
		return verifier.Target{}, models.Configurationf("token mint %q: %v", q.cfg.TokenMint, err)
	}
	program, err := q.tokenProgram()
	if err != nil {
		return verifier.Target{}, err
	}

	var ata solana.PublicKey
	if program.Equals(solana.TokenProgramID) {
		ata, _, err = solana.FindAssociatedTokenAddress(owner, mint)
	} else {
		ata, _, err = solana.FindProgramAddress([][]byte{owner[:], program[:], mint[:]},
			solana.SPLAssociatedTokenAccountProgramID)
	}
	if err != nil {
		return verifier.Target{}, models.Configurationf("derive token account: %v", err)
	}
	return verifier.Target{Owner: owner, TokenAccount: ata, Mint: mint}, nil
}

func (q *QuoteGenerator) Quote() (*models.Quote, error) {
	t, err := q.Target()
	if err != nil {
		return nil, err
	}
	units, err := q.Price()
	if err != nil {
		return nil, err
	}
	return &models.Quote{
		DestinationWallet:       t.Owner.String(),
		DestinationTokenAccount: t.TokenAccount.String(),
		TokenMint:               t.Mint.String(),
		AmountSmallestUnits:     units,
		AmountMajorUnits:        q.cfg.Price,
		Network:                 q.cfg.Network,
	}, nil
}

// MajorUnits converts smallest units back to a decimal amount.
func (q *QuoteGenerator) MajorUnits(units uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -int32(q.cfg.Decimals))
}
