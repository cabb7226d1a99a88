package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix scopes every environment variable read by the bot.
const EnvPrefix = "UPVOTEBOT"

// Defaults applied when neither the config file nor the environment set a value.
const (
	DefaultRequiredUpvotes = 420
	DefaultPollInterval    = 15 * time.Second
	DefaultConfigTTL       = 60 * time.Second
	DefaultStateFile       = "upvotebot-state.json"
	DefaultLogDir          = "logs"
	DefaultListenAddress   = ":9464"
)

// Duration wraps time.Duration so values parse from YAML scalars and
// environment strings alike.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText parses human readable duration strings from the environment.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the raw runtime configuration for upvotebotd. Values come
// from an optional YAML file overridden by UPVOTEBOT_* environment variables.
type Config struct {
	RPCURL           string   `yaml:"rpc_url" envconfig:"RPC_URL"`
	PrivateKey       string   `yaml:"private_key" envconfig:"PRIVATE_KEY"`
	DispenserAddress string   `yaml:"dispenser_address" envconfig:"DISPENSER_ADDRESS"`
	AssetAddress     string   `yaml:"asset_address" envconfig:"ASSET_ADDRESS"`
	AppAddress       string   `yaml:"app_address" envconfig:"APP_ADDRESS"`
	RequiredUpvotes  uint64   `yaml:"required_upvotes" envconfig:"REQUIRED_UPVOTES"`
	PollInterval     Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL"`
	ConfigTTL        Duration `yaml:"config_ttl" envconfig:"CONFIG_TTL"`
	StateFile        string   `yaml:"state_file" envconfig:"STATE_FILE"`
	LogDir           string   `yaml:"log_dir" envconfig:"LOG_DIR"`
	ListenAddress    string   `yaml:"listen" envconfig:"LISTEN"`
	Environment      string   `yaml:"environment" envconfig:"ENV"`
}

// Params is the validated, normalised view of Config handed to the rest of
// the bot. Addresses are canonical checksum form and the signing key is
// parsed and ready to use.
type Params struct {
	RPCURL           string
	Signer           *ecdsa.PrivateKey
	SignerAddress    common.Address
	DispenserAddress common.Address
	AssetAddress     common.Address
	AppAddress       common.Address
	RequiredUpvotes  uint64
	PollInterval     time.Duration
	ConfigTTL        time.Duration
	StateFile        string
	LogDir           string
	ListenAddress    string
	Environment      string
}

// Load reads the optional YAML file at path, overlays the environment, and
// fills in defaults. An empty path skips the file entirely.
func Load(path string) (Config, error) {
	cfg := Config{}
	if strings.TrimSpace(path) != "" {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		dec := yaml.NewDecoder(file)
		if err := dec.Decode(&cfg); err != nil {
			file.Close()
			return cfg, fmt.Errorf("decode config: %w", err)
		}
		file.Close()
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("read environment: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RequiredUpvotes == 0 {
		c.RequiredUpvotes = DefaultRequiredUpvotes
	}
	if c.PollInterval.Duration <= 0 {
		c.PollInterval.Duration = DefaultPollInterval
	}
	if c.ConfigTTL.Duration <= 0 {
		c.ConfigTTL.Duration = DefaultConfigTTL
	}
	if strings.TrimSpace(c.StateFile) == "" {
		c.StateFile = DefaultStateFile
	}
	if strings.TrimSpace(c.LogDir) == "" {
		c.LogDir = DefaultLogDir
	}
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = DefaultListenAddress
	}
}

// Validate checks every required field and normalises addresses. All missing
// fields are reported in a single error so an operator can fix the
// environment in one pass.
func (c Config) Validate() (Params, error) {
	var missing []string
	require := func(name, value string) string {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			missing = append(missing, name)
		}
		return trimmed
	}

	rpcURL := require("rpc_url", c.RPCURL)
	keyHex := require("private_key", c.PrivateKey)
	dispenser := require("dispenser_address", c.DispenserAddress)
	asset := require("asset_address", c.AssetAddress)
	app := require("app_address", c.AppAddress)
	if len(missing) > 0 {
		return Params{}, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	params := Params{
		RPCURL:          rpcURL,
		RequiredUpvotes: c.RequiredUpvotes,
		PollInterval:    c.PollInterval.Duration,
		ConfigTTL:       c.ConfigTTL.Duration,
		StateFile:       strings.TrimSpace(c.StateFile),
		LogDir:          strings.TrimSpace(c.LogDir),
		ListenAddress:   strings.TrimSpace(c.ListenAddress),
		Environment:     strings.TrimSpace(c.Environment),
	}

	var err error
	if params.DispenserAddress, err = parseAddress("dispenser_address", dispenser); err != nil {
		return Params{}, err
	}
	if params.AssetAddress, err = parseAddress("asset_address", asset); err != nil {
		return Params{}, err
	}
	if params.AppAddress, err = parseAddress("app_address", app); err != nil {
		return Params{}, err
	}

	signer, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return Params{}, fmt.Errorf("parse private_key: %w", err)
	}
	params.Signer = signer
	params.SignerAddress = crypto.PubkeyToAddress(signer.PublicKey)

	if params.RequiredUpvotes == 0 {
		return Params{}, errors.New("required_upvotes must be positive")
	}
	return params, nil
}

func parseAddress(name, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("malformed %s: %q", name, value)
	}
	return common.HexToAddress(value), nil
}
