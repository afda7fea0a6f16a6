package utils

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// SPL token instruction discriminators.
const (
	TokenInstructionTransfer        byte = 3
	TokenInstructionTransferChecked byte = 12
)

func DecodeBase64Tx(b64 string) (*solana.Transaction, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(data))
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return tx, nil
}

func EncodeBase64Tx(tx *solana.Transaction) (string, error) {
	enc, err := tx.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(enc), nil
}

// EncodeTransferData builds the data of an SPL Transfer instruction.
func EncodeTransferData(amount uint64) []byte {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteByte(TokenInstructionTransfer)
	_ = enc.WriteUint64(amount, bin.LE)
	return buf.Bytes()
}

// EncodeTransferCheckedData builds the data of an SPL TransferChecked instruction.
func EncodeTransferCheckedData(amount uint64, decimals uint8) []byte {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteByte(TokenInstructionTransferChecked)
	_ = enc.WriteUint64(amount, bin.LE)
	_ = enc.WriteUint8(decimals)
	return buf.Bytes()
}

// DecodeTokenTransfer reads the discriminator and amount of an SPL
// Transfer or TransferChecked instruction. ok is false for any other data.
func DecodeTokenTransfer(data []byte) (kind byte, amount uint64, ok bool) {
	if len(data) == 0 {
		return 0, 0, false
	}
	kind = data[0]
	switch kind {
	case TokenInstructionTransfer:
		if len(data) != 9 {
			return 0, 0, false
		}
	case TokenInstructionTransferChecked:
		if len(data) != 10 {
			return 0, 0, false
		}
	default:
		return 0, 0, false
	}
	dec := bin.NewBinDecoder(data[1:9])
	amount, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return 0, 0, false
	}
	return kind, amount, true
}
