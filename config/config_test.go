package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func validConfig() Config {
	cfg := Config{
		RPCURL:           "ws://localhost:8546",
		PrivateKey:       testKey,
		DispenserAddress: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		AssetAddress:     "0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359",
		AppAddress:       "0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
	}
	cfg.applyDefaults()
	return cfg
}

func TestValidateEnumeratesMissingFields(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()
	_, err := cfg.Validate()
	require.Error(t, err)
	for _, field := range []string{"rpc_url", "private_key", "dispenser_address", "asset_address", "app_address"} {
		require.Contains(t, err.Error(), field)
	}
}

func TestValidateNormalisesAddresses(t *testing.T) {
	cfg := validConfig()
	params, err := cfg.Validate()
	require.NoError(t, err)
	// Lowercase input comes back in canonical checksum form.
	require.Equal(t, "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359", params.AssetAddress.Hex())
	require.NotNil(t, params.Signer)
	require.NotEqual(t, params.SignerAddress.Hex(), "0x0000000000000000000000000000000000000000")
}

func TestValidateRejectsMalformedAddress(t *testing.T) {
	cfg := validConfig()
	cfg.DispenserAddress = "not-an-address"
	_, err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "dispenser_address")
}

func TestValidateRejectsBadKey(t *testing.T) {
	cfg := validConfig()
	cfg.PrivateKey = "zzzz"
	_, err := cfg.Validate()
	require.Error(t, err)
}

func TestDefaultsApplied(t *testing.T) {
	cfg := validConfig()
	params, err := cfg.Validate()
	require.NoError(t, err)
	require.EqualValues(t, DefaultRequiredUpvotes, params.RequiredUpvotes)
	require.Equal(t, DefaultPollInterval, params.PollInterval)
	require.Equal(t, DefaultConfigTTL, params.ConfigTTL)
	require.Equal(t, DefaultStateFile, params.StateFile)
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := strings.Join([]string{
		"rpc_url: ws://file:8546",
		"required_upvotes: 100",
		"poll_interval: 5s",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("UPVOTEBOT_RPC_URL", "ws://env:8546")
	t.Setenv("UPVOTEBOT_CONFIG_TTL", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "ws://env:8546", cfg.RPCURL)
	require.EqualValues(t, 100, cfg.RequiredUpvotes)
	require.Equal(t, 5*time.Second, cfg.PollInterval.Duration)
	require.Equal(t, 90*time.Second, cfg.ConfigTTL.Duration)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
