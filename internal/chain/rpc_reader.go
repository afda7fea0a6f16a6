package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	addresslookuptable "github.com/gagliardetto/solana-go/programs/address-lookup-table"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/hoepeyemi/solick-sub001/internal/models"
	"github.com/hoepeyemi/solick-sub001/utils"
)

// RPCReader reads confirmed transactions from a Solana JSON-RPC node. The
// binary (base64) encoding gives the account and instruction structure; a
// second jsonParsed request adds the node's decoded instructions.
type RPCReader struct {
	client     *rpc.Client
	commitment rpc.CommitmentType
	log        *utils.Logger
}

func NewRPCReader(client *rpc.Client, commitment rpc.CommitmentType, log *utils.Logger) *RPCReader {
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	if log == nil {
		log = utils.DefaultLogger
	}
	return &RPCReader{client: client, commitment: commitment, log: log.WithField("component", "chain_reader")}
}

func (r *RPCReader) GetConfirmedTransaction(ctx context.Context, signature string) (*TransactionRecord, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: bad signature %q", models.ErrInvalidRequest, signature)
	}

	res, err := r.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     r.commitment,
		MaxSupportedTransactionVersion: rpc.NewTransactionVersion(0),
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get transaction %s: %w", signature, err)
	}
	if res == nil || res.Transaction == nil || res.Meta == nil {
		return nil, models.ErrNotFound
	}

	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		return nil, malformed(signature, "decode transaction: %v", err)
	}

	var tables map[solana.PublicKey]solana.PublicKeySlice
	loaded := res.Meta.LoadedAddresses
	if tx.Message.IsVersioned() && tx.Message.AddressTableLookups.NumLookups() > 0 &&
		len(loaded.Writable)+len(loaded.ReadOnly) == 0 {
		tables, err = r.fetchLookupTables(ctx, tx.Message.AddressTableLookups.GetTableIDs())
		if err != nil {
			return nil, fmt.Errorf("resolve lookup tables for %s: %w", signature, err)
		}
	}

	rec, err := NewRecord(signature, res, tx, tables)
	if err != nil {
		return nil, err
	}

	parsed, err := r.getParsedInstructions(ctx, signature)
	if err != nil {
		// The decoded view only feeds one strategy; the record is still usable.
		r.log.WithField("signature", signature).Warn("jsonParsed fetch failed: %v", err)
	} else {
		rec.Parsed = parsed
	}
	return rec, nil
}

func (r *RPCReader) fetchLookupTables(ctx context.Context, ids solana.PublicKeySlice) (map[solana.PublicKey]solana.PublicKeySlice, error) {
	tables := make(map[solana.PublicKey]solana.PublicKeySlice, len(ids))
	for _, id := range ids {
		state, err := addresslookuptable.GetAddressLookupTable(ctx, r.client, id)
		if err != nil {
			return nil, fmt.Errorf("lookup table %s: %w", id, err)
		}
		tables[id] = state.Addresses
	}
	return tables, nil
}

type parsedTransactionJSON struct {
	Transaction struct {
		Message struct {
			Instructions []parsedInstructionJSON `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
	Meta *struct {
		InnerInstructions []struct {
			Index        int                     `json:"index"`
			Instructions []parsedInstructionJSON `json:"instructions"`
		} `json:"innerInstructions"`
	} `json:"meta"`
}

type parsedInstructionJSON struct {
	Program   string          `json:"program"`
	ProgramID string          `json:"programId"`
	Parsed    json.RawMessage `json:"parsed"`
}

type parsedBodyJSON struct {
	Type string `json:"type"`
	Info struct {
		Source      string          `json:"source"`
		Destination string          `json:"destination"`
		Mint        string          `json:"mint"`
		Authority   string          `json:"authority"`
		Amount      json.RawMessage `json:"amount"`
		TokenAmount *struct {
			Amount string `json:"amount"`
		} `json:"tokenAmount"`
	} `json:"info"`
}

func (r *RPCReader) getParsedInstructions(ctx context.Context, signature string) ([]ParsedInstruction, error) {
	var out *parsedTransactionJSON
	err := r.client.RPCCallForInto(ctx, &out, "getTransaction", []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "jsonParsed",
			"commitment":                     string(r.commitment),
			"maxSupportedTransactionVersion": 0,
		},
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, models.ErrNotFound
	}
	return decodeParsed(out), nil
}

func decodeParsed(tx *parsedTransactionJSON) []ParsedInstruction {
	var out []ParsedInstruction
	for _, raw := range tx.Transaction.Message.Instructions {
		if p, ok := decodeParsedInstruction(raw, false); ok {
			out = append(out, p)
		}
	}
	if tx.Meta != nil {
		for _, group := range tx.Meta.InnerInstructions {
			for _, raw := range group.Instructions {
				if p, ok := decodeParsedInstruction(raw, true); ok {
					out = append(out, p)
				}
			}
		}
	}
	return out
}

// decodeParsedInstruction keeps only instructions the node decoded into an
// object; memo and unknown programs come back as strings or not at all.
func decodeParsedInstruction(raw parsedInstructionJSON, inner bool) (ParsedInstruction, bool) {
	if len(raw.Parsed) == 0 || raw.Parsed[0] != '{' {
		return ParsedInstruction{}, false
	}
	var body parsedBodyJSON
	if err := json.Unmarshal(raw.Parsed, &body); err != nil {
		return ParsedInstruction{}, false
	}
	p := ParsedInstruction{
		Program:     raw.Program,
		Type:        body.Type,
		Source:      body.Info.Source,
		Destination: body.Info.Destination,
		Mint:        body.Info.Mint,
		Authority:   body.Info.Authority,
		Inner:       inner,
	}
	if id, err := solana.PublicKeyFromBase58(raw.ProgramID); err == nil {
		p.ProgramID = id
	}
	if body.Info.TokenAmount != nil {
		p.Amount, p.HasAmount = parseAmount(body.Info.TokenAmount.Amount)
	} else if len(body.Info.Amount) > 0 {
		p.Amount, p.HasAmount = parseAmount(strings.Trim(string(body.Info.Amount), `"`))
	}
	return p, true
}

func parseAmount(s string) (uint64, bool) {
	v, err := strconv.ParseUint(s, 10, 64)
	return v, err == nil
}
