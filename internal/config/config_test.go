package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoepeyemi/solick-sub001/internal/models"
)

const sampleConfig = `
database:
  driver: mysql
  host: db.internal
  port: 3306
solana:
  rpc_url: https://api.devnet.solana.com
  network: devnet
  recipient: 9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM
  token_mint: EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v
pricing:
  price: "0.0003"
verifier:
  max_retries: 3
  retry_interval: 500ms
kafka:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
`

func TestLoad_FileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(sampleConfig), 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, "devnet", cfg.Solana.Network)
	assert.Equal(t, uint8(6), cfg.Solana.Decimals)
	assert.Equal(t, 3, cfg.Verifier.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Verifier.RetryInterval)
	assert.Equal(t, 2*time.Second, cfg.Verifier.InitialDelay)
	assert.False(t, cfg.Verifier.AllowPermissive)
	assert.Equal(t, "keep", cfg.Sponsorship.RefundPolicy)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 8080, cfg.App.Port)

	price, err := cfg.Price()
	require.NoError(t, err)
	assert.Equal(t, "0.0003", price.String())
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(sampleConfig), 0o600))
	t.Setenv("SPONSOR_SOLANA_NETWORK", "testnet")
	t.Setenv("SPONSOR_PRICING_PRICE", "0.5")
	t.Setenv("SPONSOR_SOLANA_PAYER_SECRET", "secret")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "testnet", cfg.Solana.Network)
	assert.Equal(t, "0.5", cfg.Pricing.Price)
	assert.Equal(t, "secret", cfg.Solana.PayerSecret)
}

func TestLoad_MissingFileUsesEnv(t *testing.T) {
	t.Setenv("SPONSOR_SOLANA_RPC_URL", "http://localhost:8899")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8899", cfg.Solana.RPCURL)
	assert.Equal(t, "postgres", cfg.Database.Driver)

	err = cfg.Validate()
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestPrice_Invalid(t *testing.T) {
	var cfg Config
	_, err := cfg.Price()
	assert.ErrorIs(t, err, models.ErrConfiguration)

	cfg.Pricing.Price = "abc"
	_, err = cfg.Price()
	assert.ErrorIs(t, err, models.ErrConfiguration)
}
