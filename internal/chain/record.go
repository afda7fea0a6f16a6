package chain

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Reader fetches confirmed transactions. Implementations return
// models.ErrNotFound when the signature is unknown to the node.
type Reader interface {
	GetConfirmedTransaction(ctx context.Context, signature string) (*TransactionRecord, error)
}

// TokenBalance is one row of a transaction's pre or post token balance table.
type TokenBalance struct {
	AccountIndex int
	Account      solana.PublicKey
	Owner        solana.PublicKey // zero when the node did not report it
	Mint         solana.PublicKey
	Amount       uint64
	Decimals     uint8
}

// Instruction is a compiled instruction with its accounts resolved to keys.
// Parent is the index of the top-level instruction an inner instruction was
// invoked from, or -1.
type Instruction struct {
	ProgramID solana.PublicKey
	Accounts  []solana.PublicKey
	Data      []byte
	Parent    int
}

// ParsedInstruction is an instruction the node already decoded (jsonParsed).
type ParsedInstruction struct {
	Program     string
	ProgramID   solana.PublicKey
	Type        string
	Source      string
	Destination string
	Mint        string
	Authority   string
	Amount      uint64
	HasAmount   bool
	Inner       bool
}

// TransactionRecord is a confirmed transaction in a shape independent of the
// RPC encoding it was fetched with. AccountKeys holds the static keys followed
// by keys loaded from address lookup tables (writable, then readonly).
type TransactionRecord struct {
	Signature         string
	Slot              uint64
	BlockTime         *time.Time
	Versioned         bool
	AccountKeys       solana.PublicKeySlice
	StaticKeyCount    int
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
	Logs              []string
	Instructions      []Instruction
	InnerInstructions []Instruction
	Parsed            []ParsedInstruction
	Success           bool
	Err               interface{}
	Fee               uint64
}

// IndexOf returns the position of key in the full account list, or -1.
func (r *TransactionRecord) IndexOf(key solana.PublicKey) int {
	for i, k := range r.AccountKeys {
		if k.Equals(key) {
			return i
		}
	}
	return -1
}

// FeePayer is the first account of the message.
func (r *TransactionRecord) FeePayer() solana.PublicKey {
	if len(r.AccountKeys) == 0 {
		return solana.PublicKey{}
	}
	return r.AccountKeys[0]
}

// AllInstructions returns top-level instructions followed by inner ones.
func (r *TransactionRecord) AllInstructions() []Instruction {
	out := make([]Instruction, 0, len(r.Instructions)+len(r.InnerInstructions))
	out = append(out, r.Instructions...)
	return append(out, r.InnerInstructions...)
}

// BalanceAt finds the balance row for the account at index in rows.
// A zero mint matches any mint.
func BalanceAt(rows []TokenBalance, index int, mint solana.PublicKey) (TokenBalance, bool) {
	for _, b := range rows {
		if b.AccountIndex != index {
			continue
		}
		if !mint.IsZero() && !b.Mint.Equals(mint) {
			continue
		}
		return b, true
	}
	return TokenBalance{}, false
}
