package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AquaToken/aqua-bribes/bribes"
	"github.com/AquaToken/aqua-bribes/model"
	"github.com/AquaToken/aqua-bribes/rewards"
	"github.com/AquaToken/aqua-bribes/store"
)

// Config represents the application configuration
type Config struct {
	Service struct {
		Name       string `yaml:"name"`
		HealthPort int    `yaml:"health_port"`
	} `yaml:"service"`

	Horizon struct {
		URL               string `yaml:"url"`
		NetworkPassphrase string `yaml:"network_passphrase"`
		BaseFee           int64  `yaml:"base_fee"`
	} `yaml:"horizon"`

	Wallet struct {
		Account string `yaml:"account"`
		// SignerSecret is normally supplied via BRIBE_WALLET_SIGNER rather
		// than the config file.
		SignerSecret string `yaml:"signer_secret"`
	} `yaml:"wallet"`

	Reward struct {
		Asset            string `yaml:"asset"`
		ConversionAmount string `yaml:"conversion_amount"`
	} `yaml:"reward"`

	Tracker struct {
		URL string `yaml:"url"`
	} `yaml:"tracker"`

	Delegation struct {
		Marker string `yaml:"marker"`
		Pairs  []struct {
			Delegatable string `yaml:"delegatable"`
			Delegated   string `yaml:"delegated"`
		} `yaml:"pairs"`
	} `yaml:"delegation"`

	AMMSponsors []string `yaml:"amm_sponsors"`

	Postgres store.Config `yaml:"postgres"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// LoadConfig loads configuration from a YAML file, applying environment
// overrides and defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if signer := os.Getenv("BRIBE_WALLET_SIGNER"); signer != "" {
		cfg.Wallet.SignerSecret = signer
	}
	if password := os.Getenv("BRIBE_DB_PASSWORD"); password != "" {
		cfg.Postgres.Password = password
	}

	// Set defaults
	if cfg.Service.Name == "" {
		cfg.Service.Name = "aqua-bribes"
	}
	if cfg.Service.HealthPort == 0 {
		cfg.Service.HealthPort = 8088
	}
	if cfg.Horizon.URL == "" {
		cfg.Horizon.URL = "https://horizon.stellar.org"
	}
	if cfg.Horizon.BaseFee == 0 {
		cfg.Horizon.BaseFee = 10000
	}
	if cfg.Reward.ConversionAmount == "" {
		cfg.Reward.ConversionAmount = "100000"
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}

	if cfg.Wallet.Account == "" {
		return nil, fmt.Errorf("wallet.account is required")
	}
	if cfg.Wallet.SignerSecret == "" {
		return nil, fmt.Errorf("wallet signer is required (BRIBE_WALLET_SIGNER)")
	}
	if cfg.Horizon.NetworkPassphrase == "" {
		return nil, fmt.Errorf("horizon.network_passphrase is required")
	}
	if cfg.Reward.Asset == "" {
		return nil, fmt.Errorf("reward.asset is required")
	}
	if cfg.Tracker.URL == "" {
		return nil, fmt.Errorf("tracker.url is required")
	}

	return &cfg, nil
}

// BribesConfig builds the bribe-engine settings.
func (c *Config) BribesConfig() (bribes.Config, error) {
	rewardAsset, err := model.ParseAsset(c.Reward.Asset)
	if err != nil {
		return bribes.Config{}, fmt.Errorf("invalid reward.asset: %w", err)
	}
	conversion, err := model.ParseAmount(c.Reward.ConversionAmount)
	if err != nil {
		return bribes.Config{}, fmt.Errorf("invalid reward.conversion_amount: %w", err)
	}
	return bribes.Config{
		HouseAccount:      c.Wallet.Account,
		SignerSecret:      c.Wallet.SignerSecret,
		NetworkPassphrase: c.Horizon.NetworkPassphrase,
		BaseFee:           c.Horizon.BaseFee,
		RewardAsset:       rewardAsset,
		ConversionAmount:  conversion,
		AMMSponsors:       c.AMMSponsors,
	}, nil
}

// RewardsConfig builds the reward-side settings.
func (c *Config) RewardsConfig() (rewards.Config, error) {
	cfg := rewards.Config{
		HouseAccount:      c.Wallet.Account,
		SignerSecret:      c.Wallet.SignerSecret,
		NetworkPassphrase: c.Horizon.NetworkPassphrase,
		BaseFee:           c.Horizon.BaseFee,
		TrackerURL:        c.Tracker.URL,
		DelegateMarker:    c.Delegation.Marker,
		PayPeriod:         time.Hour,
	}
	for _, pair := range c.Delegation.Pairs {
		delegatable, err := model.ParseAsset(pair.Delegatable)
		if err != nil {
			return rewards.Config{}, fmt.Errorf("invalid delegation pair: %w", err)
		}
		delegated, err := model.ParseAsset(pair.Delegated)
		if err != nil {
			return rewards.Config{}, fmt.Errorf("invalid delegation pair: %w", err)
		}
		cfg.DelegationPairs = append(cfg.DelegationPairs, rewards.AssetPair{
			Delegatable: delegatable,
			Delegated:   delegated,
		})
	}
	return cfg, nil
}
