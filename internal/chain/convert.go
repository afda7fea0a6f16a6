package chain

import (
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/hoepeyemi/solick-sub001/internal/models"
)

func malformed(signature, format string, args ...interface{}) error {
	return models.NewSignatureError(models.ErrMalformedData, signature, fmt.Sprintf(format, args...))
}

// NewRecord builds a TransactionRecord from a getTransaction result and its
// decoded transaction. tables is consulted only for versioned transactions
// whose meta does not carry loaded addresses; it may be nil otherwise.
func NewRecord(
	signature string,
	res *rpc.GetTransactionResult,
	tx *solana.Transaction,
	tables map[solana.PublicKey]solana.PublicKeySlice,
) (*TransactionRecord, error) {
	if res == nil || res.Meta == nil || tx == nil {
		return nil, malformed(signature, "transaction or meta missing")
	}
	meta := res.Meta

	keys, err := resolveKeys(signature, tx, meta, tables)
	if err != nil {
		return nil, err
	}

	rec := &TransactionRecord{
		Signature:      signature,
		Slot:           res.Slot,
		Versioned:      tx.Message.IsVersioned(),
		AccountKeys:    keys,
		StaticKeyCount: len(tx.Message.AccountKeys),
		Logs:           meta.LogMessages,
		Success:        meta.Err == nil,
		Err:            meta.Err,
		Fee:            meta.Fee,
	}
	if res.BlockTime != nil {
		t := res.BlockTime.Time().UTC()
		rec.BlockTime = &t
	}

	for i, ci := range tx.Message.Instructions {
		ins, err := resolveInstruction(signature, keys, ci, -1)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		rec.Instructions = append(rec.Instructions, ins)
	}
	for _, group := range meta.InnerInstructions {
		for _, ci := range group.Instructions {
			ins, err := resolveInstruction(signature, keys, ci, int(group.Index))
			if err != nil {
				return nil, fmt.Errorf("inner instruction of %d: %w", group.Index, err)
			}
			rec.InnerInstructions = append(rec.InnerInstructions, ins)
		}
	}

	if rec.PreTokenBalances, err = convertBalances(signature, keys, meta.PreTokenBalances); err != nil {
		return nil, err
	}
	if rec.PostTokenBalances, err = convertBalances(signature, keys, meta.PostTokenBalances); err != nil {
		return nil, err
	}
	return rec, nil
}

func resolveKeys(
	signature string,
	tx *solana.Transaction,
	meta *rpc.TransactionMeta,
	tables map[solana.PublicKey]solana.PublicKeySlice,
) (solana.PublicKeySlice, error) {
	keys := make(solana.PublicKeySlice, 0, len(tx.Message.AccountKeys))
	keys = append(keys, tx.Message.AccountKeys...)
	if !tx.Message.IsVersioned() || tx.Message.AddressTableLookups.NumLookups() == 0 {
		return keys, nil
	}

	loaded := meta.LoadedAddresses
	if len(loaded.Writable)+len(loaded.ReadOnly) > 0 {
		keys = append(keys, loaded.Writable...)
		return append(keys, loaded.ReadOnly...), nil
	}
	if len(tables) == 0 {
		return nil, malformed(signature, "versioned transaction references %d lookup tables that were not resolved",
			tx.Message.AddressTableLookups.NumLookups())
	}
	if err := tx.Message.SetAddressTables(tables); err != nil {
		return nil, malformed(signature, "set address tables: %v", err)
	}
	lookedUp, err := tx.Message.GetAddressTableLookupAccounts()
	if err != nil {
		return nil, malformed(signature, "resolve lookups: %v", err)
	}
	return append(keys, lookedUp...), nil
}

func resolveInstruction(signature string, keys solana.PublicKeySlice, ci solana.CompiledInstruction, parent int) (Instruction, error) {
	if int(ci.ProgramIDIndex) >= len(keys) {
		return Instruction{}, malformed(signature, "program index %d out of range (%d keys)", ci.ProgramIDIndex, len(keys))
	}
	ins := Instruction{
		ProgramID: keys[ci.ProgramIDIndex],
		Accounts:  make([]solana.PublicKey, 0, len(ci.Accounts)),
		Data:      []byte(ci.Data),
		Parent:    parent,
	}
	for _, idx := range ci.Accounts {
		if int(idx) >= len(keys) {
			return Instruction{}, malformed(signature, "account index %d out of range (%d keys)", idx, len(keys))
		}
		ins.Accounts = append(ins.Accounts, keys[idx])
	}
	return ins, nil
}

func convertBalances(signature string, keys solana.PublicKeySlice, rows []rpc.TokenBalance) ([]TokenBalance, error) {
	out := make([]TokenBalance, 0, len(rows))
	for _, row := range rows {
		idx := int(row.AccountIndex)
		if idx >= len(keys) {
			return nil, malformed(signature, "token balance index %d out of range (%d keys)", idx, len(keys))
		}
		if row.UiTokenAmount == nil {
			return nil, malformed(signature, "token balance %d has no amount", idx)
		}
		amount, err := strconv.ParseUint(row.UiTokenAmount.Amount, 10, 64)
		if err != nil {
			return nil, malformed(signature, "token balance %d amount %q: %v", idx, row.UiTokenAmount.Amount, err)
		}
		b := TokenBalance{
			AccountIndex: idx,
			Account:      keys[idx],
			Mint:         row.Mint,
			Amount:       amount,
			Decimals:     row.UiTokenAmount.Decimals,
		}
		if row.Owner != nil {
			b.Owner = *row.Owner
		}
		out = append(out, b)
	}
	return out, nil
}
