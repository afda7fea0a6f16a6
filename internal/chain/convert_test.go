package chain

import (
	"encoding/json"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoepeyemi/solick-sub001/internal/models"
	"github.com/hoepeyemi/solick-sub001/utils"
)

type testKeys struct {
	payer, source, dest, owner, mint, loadedW, loadedR, table solana.PublicKey
}

func newKeys() testKeys {
	k := func() solana.PublicKey { return solana.NewWallet().PublicKey() }
	return testKeys{k(), k(), k(), k(), k(), k(), k(), k()}
}

func balance(index uint16, owner, mint solana.PublicKey, amount string) rpc.TokenBalance {
	return rpc.TokenBalance{
		AccountIndex:  index,
		Owner:         &owner,
		Mint:          mint,
		UiTokenAmount: &rpc.UiTokenAmount{Amount: amount, Decimals: 6},
	}
}

func legacyTx(k testKeys) *solana.Transaction {
	return &solana.Transaction{
		Message: solana.Message{
			AccountKeys: solana.PublicKeySlice{k.payer, k.source, k.dest, solana.TokenProgramID},
			Instructions: []solana.CompiledInstruction{{
				ProgramIDIndex: 3,
				Accounts:       []uint16{1, 2, 0},
				Data:           utils.EncodeTransferData(300),
			}},
		},
	}
}

func TestNewRecord_Legacy(t *testing.T) {
	k := newKeys()
	res := &rpc.GetTransactionResult{
		Slot: 99,
		Meta: &rpc.TransactionMeta{
			Fee:               5000,
			LogMessages:       []string{"Program log: Instruction: Transfer"},
			PreTokenBalances:  []rpc.TokenBalance{balance(2, k.owner, k.mint, "1000000")},
			PostTokenBalances: []rpc.TokenBalance{balance(2, k.owner, k.mint, "1000300")},
			InnerInstructions: []rpc.InnerInstruction{{
				Index: 0,
				Instructions: []solana.CompiledInstruction{{
					ProgramIDIndex: 3,
					Accounts:       []uint16{1, 2, 0},
					Data:           utils.EncodeTransferData(1),
				}},
			}},
		},
	}

	rec, err := NewRecord("sig", res, legacyTx(k), nil)
	require.NoError(t, err)
	assert.False(t, rec.Versioned)
	assert.True(t, rec.Success)
	assert.Equal(t, uint64(99), rec.Slot)
	assert.Equal(t, uint64(5000), rec.Fee)
	assert.Equal(t, 4, rec.StaticKeyCount)
	assert.Equal(t, k.payer, rec.FeePayer())
	assert.Equal(t, 2, rec.IndexOf(k.dest))
	assert.Equal(t, -1, rec.IndexOf(k.owner))

	require.Len(t, rec.Instructions, 1)
	ins := rec.Instructions[0]
	assert.Equal(t, solana.TokenProgramID, ins.ProgramID)
	assert.Equal(t, []solana.PublicKey{k.source, k.dest, k.payer}, ins.Accounts)
	assert.Equal(t, -1, ins.Parent)

	require.Len(t, rec.InnerInstructions, 1)
	assert.Equal(t, 0, rec.InnerInstructions[0].Parent)
	assert.Len(t, rec.AllInstructions(), 2)

	require.Len(t, rec.PostTokenBalances, 1)
	post := rec.PostTokenBalances[0]
	assert.Equal(t, k.dest, post.Account)
	assert.Equal(t, k.owner, post.Owner)
	assert.Equal(t, uint64(1000300), post.Amount)

	got, ok := BalanceAt(rec.PreTokenBalances, 2, k.mint)
	require.True(t, ok)
	assert.Equal(t, uint64(1000000), got.Amount)
	_, ok = BalanceAt(rec.PreTokenBalances, 2, k.owner)
	assert.False(t, ok)
	_, ok = BalanceAt(rec.PreTokenBalances, 2, solana.PublicKey{})
	assert.True(t, ok)
}

func TestNewRecord_VersionedWithLoadedAddresses(t *testing.T) {
	k := newKeys()
	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: solana.PublicKeySlice{k.payer, k.source, solana.TokenProgramID},
			AddressTableLookups: solana.MessageAddressTableLookupSlice{{
				AccountKey:      k.table,
				WritableIndexes: []uint8{0},
				ReadonlyIndexes: []uint8{1},
			}},
			Instructions: []solana.CompiledInstruction{{
				ProgramIDIndex: 2,
				// destination lives in the lookup table
				Accounts: []uint16{1, 3, 0},
				Data:     utils.EncodeTransferData(300),
			}},
		},
	}
	tx.Message.SetVersion(solana.MessageVersionV0)

	res := &rpc.GetTransactionResult{
		Meta: &rpc.TransactionMeta{
			LoadedAddresses: rpc.LoadedAddresses{
				Writable: solana.PublicKeySlice{k.loadedW},
				ReadOnly: solana.PublicKeySlice{k.loadedR},
			},
			PostTokenBalances: []rpc.TokenBalance{balance(3, k.owner, k.mint, "300")},
		},
	}

	rec, err := NewRecord("sig", res, tx, nil)
	require.NoError(t, err)
	assert.True(t, rec.Versioned)
	assert.Equal(t, 3, rec.StaticKeyCount)
	assert.Equal(t, solana.PublicKeySlice{k.payer, k.source, solana.TokenProgramID, k.loadedW, k.loadedR}, rec.AccountKeys)
	assert.Equal(t, k.loadedW, rec.Instructions[0].Accounts[1])
	assert.Equal(t, k.loadedW, rec.PostTokenBalances[0].Account)
}

func TestNewRecord_UnresolvedLookupsAreMalformed(t *testing.T) {
	k := newKeys()
	tx := legacyTx(k)
	tx.Message.AddressTableLookups = solana.MessageAddressTableLookupSlice{{
		AccountKey:      k.table,
		WritableIndexes: []uint8{0},
	}}
	tx.Message.SetVersion(solana.MessageVersionV0)

	_, err := NewRecord("sig", &rpc.GetTransactionResult{Meta: &rpc.TransactionMeta{}}, tx, nil)
	require.ErrorIs(t, err, models.ErrMalformedData)
}

func TestNewRecord_IndexOutOfRange(t *testing.T) {
	k := newKeys()
	tx := legacyTx(k)
	tx.Message.Instructions[0].Accounts = []uint16{1, 9, 0}

	_, err := NewRecord("sig-bad", &rpc.GetTransactionResult{Meta: &rpc.TransactionMeta{}}, tx, nil)
	require.ErrorIs(t, err, models.ErrMalformedData)
	sig, _ := models.SignatureOf(err)
	assert.Equal(t, "sig-bad", sig)

	res := &rpc.GetTransactionResult{Meta: &rpc.TransactionMeta{
		PostTokenBalances: []rpc.TokenBalance{balance(7, k.owner, k.mint, "1")},
	}}
	_, err = NewRecord("sig-bad", res, legacyTx(k), nil)
	assert.ErrorIs(t, err, models.ErrMalformedData)
}

func TestNewRecord_BadAmountIsMalformed(t *testing.T) {
	k := newKeys()
	res := &rpc.GetTransactionResult{Meta: &rpc.TransactionMeta{
		PostTokenBalances: []rpc.TokenBalance{balance(2, k.owner, k.mint, "-5")},
	}}
	_, err := NewRecord("sig", res, legacyTx(k), nil)
	assert.ErrorIs(t, err, models.ErrMalformedData)
}

func TestNewRecord_FailedTransaction(t *testing.T) {
	k := newKeys()
	res := &rpc.GetTransactionResult{Meta: &rpc.TransactionMeta{
		Err: map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}},
	}}
	rec, err := NewRecord("sig", res, legacyTx(k), nil)
	require.NoError(t, err)
	assert.False(t, rec.Success)
	assert.NotNil(t, rec.Err)
}

func TestNewRecord_MissingMeta(t *testing.T) {
	_, err := NewRecord("sig", &rpc.GetTransactionResult{}, legacyTx(newKeys()), nil)
	assert.ErrorIs(t, err, models.ErrMalformedData)
}

func TestDecodeParsed(t *testing.T) {
	raw := `{
	  "transaction": {"message": {"instructions": [
	    {"program": "spl-memo", "programId": "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr", "parsed": "order-42"},
	    {"program": "spl-token", "programId": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
	     "parsed": {"type": "transferChecked", "info": {
	       "source": "src", "destination": "dst", "mint": "mint", "authority": "auth",
	       "tokenAmount": {"amount": "300", "decimals": 6}}}}
	  ]}},
	  "meta": {"innerInstructions": [{"index": 1, "instructions": [
	    {"program": "spl-token", "programId": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
	     "parsed": {"type": "transfer", "info": {"source": "src", "destination": "dst", "amount": "25"}}}
	  ]}]}
	}`
	var tx parsedTransactionJSON
	require.NoError(t, json.Unmarshal([]byte(raw), &tx))

	out := decodeParsed(&tx)
	require.Len(t, out, 2)

	assert.Equal(t, "transferChecked", out[0].Type)
	assert.Equal(t, solana.TokenProgramID, out[0].ProgramID)
	assert.Equal(t, "dst", out[0].Destination)
	assert.Equal(t, "mint", out[0].Mint)
	assert.True(t, out[0].HasAmount)
	assert.Equal(t, uint64(300), out[0].Amount)
	assert.False(t, out[0].Inner)

	assert.Equal(t, "transfer", out[1].Type)
	assert.Equal(t, uint64(25), out[1].Amount)
	assert.True(t, out[1].Inner)
}

func TestExplorerURL(t *testing.T) {
	assert.Equal(t, "https://explorer.solana.com/tx/abc", ExplorerURL("abc", "mainnet-beta"))
	assert.Equal(t, "https://explorer.solana.com/tx/abc", ExplorerURL("abc", ""))
	assert.Equal(t, "https://explorer.solana.com/tx/abc?cluster=devnet", ExplorerURL("abc", "Devnet"))
	assert.Empty(t, ExplorerURL("", "devnet"))
}
