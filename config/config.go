// Package config loads the process's named parameters (spec.md §6) from
// environment variables, with an optional YAML file that only fills the
// fields the environment leaves empty — mirroring the teacher's cmd/client/config.LoadConfig entrypoint,
// which this pack does not carry the source for.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"go.yaml.in/yaml/v2"
)

// Config holds every named parameter the process recognizes.
type Config struct {
	Full          string `yaml:"full"`           // HTTP RPC URL
	IPC           string `yaml:"ipc"`            // IPC path for newHeads subscription
	Weth          string `yaml:"weth"`           // reference token address
	PrivateKey    string `yaml:"private_key"`    // signing key, hex without 0x
	Account       string `yaml:"account"`        // address of PrivateKey
	SwapContract  string `yaml:"swap_contract"`  // FlashSwap deployment address
	Sim           bool   `yaml:"sim"`            // dry-run: suppress transaction emission
	BirdeyeKey    string `yaml:"birdeye_key"`    // optional volume oracle credential
	DBPath        string `yaml:"db_path"`        // optional historical state provider
	ChainID       uint64 `yaml:"chain_id"`       // defaults to 8453 (Base)
	MaxHops       int    `yaml:"max_hops"`       // defaults to 2
	AmountWei     string `yaml:"amount_wei"`     // reference swap size, decimal string
	SequencerURL  string `yaml:"sequencer_url"`  // tx submission endpoint
	PoolsPath     string `yaml:"pools_path"`     // seed pool set JSON file (external discovery library stand-in)
}

// WethAddress parses Weth as an Address.
func (c *Config) WethAddress() common.Address {
	return common.HexToAddress(c.Weth)
}

// Amount parses AmountWei as a *big.Int, defaulting to 1 WETH (1e18).
func (c *Config) Amount() *big.Int {
	if c.AmountWei == "" {
		return new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	}
	v, ok := new(big.Int).SetString(c.AmountWei, 10)
	if !ok {
		return new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	}
	return v
}

func (c *Config) validate() error {
	if c.Full == "" {
		return fmt.Errorf("config: FULL (http rpc url) is required")
	}
	if c.Weth == "" {
		return fmt.Errorf("config: WETH (reference token address) is required")
	}
	if c.PoolsPath == "" {
		return fmt.Errorf("config: POOLS_PATH (seed pool set file) is required")
	}
	if !c.Sim {
		if c.PrivateKey == "" || c.Account == "" || c.SwapContract == "" {
			return fmt.Errorf("config: PRIVATE_KEY, ACCOUNT, SWAP_CONTRACT are required unless SIM is set")
		}
	}
	if c.ChainID == 0 {
		c.ChainID = 8453
	}
	if c.MaxHops == 0 {
		c.MaxHops = 2
	}
	return nil
}

// Load reads the named parameters from the environment, then — if path
// names an existing file — layers a YAML override on top. Env vars take
// precedence when both are set, matching the teacher's flag-plus-file
// convention in cmd/client/main.go.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Full:         os.Getenv("FULL"),
		IPC:          os.Getenv("IPC"),
		Weth:         os.Getenv("WETH"),
		PrivateKey:   os.Getenv("PRIVATE_KEY"),
		Account:      os.Getenv("ACCOUNT"),
		SwapContract: os.Getenv("SWAP_CONTRACT"),
		BirdeyeKey:   os.Getenv("BIRDEYE_KEY"),
		DBPath:       os.Getenv("DB_PATH"),
		AmountWei:    os.Getenv("AMOUNT_WEI"),
		SequencerURL: os.Getenv("SEQUENCER_URL"),
		PoolsPath:    os.Getenv("POOLS_PATH"),
	}
	if v := os.Getenv("SIM"); v != "" {
		sim, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid SIM value %q: %w", v, err)
		}
		cfg.Sim = sim
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: invalid CHAIN_ID value %q: %w", v, err)
		}
		cfg.ChainID = id
	}
	if v := os.Getenv("MAX_HOPS"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid MAX_HOPS value %q: %w", v, err)
		}
		cfg.MaxHops = h
	}

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			var fileCfg Config
			if err := yaml.Unmarshal(data, &fileCfg); err != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", path, err)
			}
			mergeEmpty(cfg, &fileCfg)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeEmpty fills zero-valued fields of dst from src, giving the
// environment precedence over the file.
func mergeEmpty(dst, src *Config) {
	if dst.Full == "" {
		dst.Full = src.Full
	}
	if dst.IPC == "" {
		dst.IPC = src.IPC
	}
	if dst.Weth == "" {
		dst.Weth = src.Weth
	}
	if dst.PrivateKey == "" {
		dst.PrivateKey = src.PrivateKey
	}
	if dst.Account == "" {
		dst.Account = src.Account
	}
	if dst.SwapContract == "" {
		dst.SwapContract = src.SwapContract
	}
	if !dst.Sim {
		dst.Sim = src.Sim
	}
	if dst.BirdeyeKey == "" {
		dst.BirdeyeKey = src.BirdeyeKey
	}
	if dst.DBPath == "" {
		dst.DBPath = src.DBPath
	}
	if dst.ChainID == 0 {
		dst.ChainID = src.ChainID
	}
	if dst.MaxHops == 0 {
		dst.MaxHops = src.MaxHops
	}
	if dst.AmountWei == "" {
		dst.AmountWei = src.AmountWei
	}
	if dst.SequencerURL == "" {
		dst.SequencerURL = src.SequencerURL
	}
	if dst.PoolsPath == "" {
		dst.PoolsPath = src.PoolsPath
	}
}
