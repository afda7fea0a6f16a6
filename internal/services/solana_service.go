package services

import (
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/hoepeyemi/solick-sub001/internal/chain"
	"github.com/hoepeyemi/solick-sub001/internal/config"
	"github.com/hoepeyemi/solick-sub001/internal/models"
	"github.com/hoepeyemi/solick-sub001/utils"
)

// Solana holds the RPC client and the optional fee payer key.
type Solana struct {
	Client     *rpc.Client
	Payer      solana.PrivateKey
	Commitment rpc.CommitmentType
	Network    string
}

// InitSolana builds the RPC client and parses the fee payer from config.
// The payer secret must be base58. Without one, sponsorship is disabled.
func InitSolana(cfg *config.Config) (*Solana, error) {
	if cfg.Solana.RPCURL == "" {
		return nil, models.Configurationf("solana.rpc_url is empty")
	}
	s := &Solana{
		Client:     rpc.New(cfg.Solana.RPCURL),
		Commitment: rpc.CommitmentType(cfg.Solana.Commitment),
		Network:    cfg.Solana.Network,
	}
	if cfg.Solana.PayerSecret != "" {
		pk, err := solana.PrivateKeyFromBase58(cfg.Solana.PayerSecret)
		if err != nil {
			return nil, models.Configurationf("solana.payer_secret is not base58: %v", err)
		}
		s.Payer = pk
	}
	return s, nil
}

// PayerAddress returns the fee payer's address, or "" when none is configured.
func (s *Solana) PayerAddress() string {
	if len(s.Payer) != 64 {
		return ""
	}
	return s.Payer.PublicKey().String()
}

func (s *Solana) Reader(log *utils.Logger) *chain.RPCReader {
	return chain.NewRPCReader(s.Client, s.Commitment, log)
}

// Submitter returns nil when no fee payer is configured.
func (s *Solana) Submitter(maxRetries int, log *utils.Logger) chain.Submitter {
	if s.PayerAddress() == "" {
		return nil
	}
	return chain.NewFeePayerSubmitter(s.Client, s.Payer, s.Network, maxRetries, log)
}
