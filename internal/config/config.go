// Package config loads the proxy's on-disk configuration and overlays it
// with command-line flags.
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Config holds everything the proxy needs to run a listener set and the
// upstream pool connections it fans sessions out to.
type Config struct {
	Listen    ListenConfig    `json:"listen"`
	Main      MainConfig      `json:"main"`
	Fee       FeeConfig       `json:"fee"`
	Develop   DevelopConfig   `json:"develop"`
	Encrypt   EncryptConfig   `json:"encrypt"`
	LogLevel  string          `json:"logLevel"`

	path string
	mu   sync.RWMutex
}

// MainConfig configures the primary upstream pool every session forwards
// its (undiverted) work to and from. Exposed as an ordered failover list,
// the same shape as Fee and Develop's address lists.
type MainConfig struct {
	TCPAddress []string `json:"tcpAddress"`
}

// ListenConfig configures the miner-facing listeners.
type ListenConfig struct {
	Plain     string `json:"plain"`     // e.g. "0.0.0.0:3333", empty disables
	Encrypted string `json:"encrypted"` // e.g. "0.0.0.0:3334", empty disables
}

// FeeConfig configures diversion to the fee pool.
type FeeConfig struct {
	Share      int      `json:"share"`      // 0-100, percent of slots diverted
	Wallet     string    `json:"wallet"`
	TCPAddress []string `json:"tcpAddress"` // ordered candidates, first reachable wins
}

// DevelopConfig configures the secondary develop-pool diversion.
type DevelopConfig struct {
	Wallet     string   `json:"wallet"`
	TCPAddress []string `json:"tcpAddress"`
	Ratio      int      `json:"ratio"` // every Ratio-th fee slot tries develop first
}

// EncryptConfig carries the AES-256-CBC material and delimiter byte used
// by the encrypted miner-leg listener.
type EncryptConfig struct {
	KeyHex    string `json:"keyHex"`    // 64 hex chars -> 32 bytes
	IVHex     string `json:"ivHex"`     // 32 hex chars -> 16 bytes
	Delimiter byte   `json:"delimiter"`
}

// Key decodes the configured hex key into 32 raw bytes.
func (e EncryptConfig) Key() ([]byte, error) {
	b, err := hex.DecodeString(e.KeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode key hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("key must decode to 32 bytes, got %d", len(b))
	}
	return b, nil
}

// IV decodes the configured hex IV into 16 raw bytes.
func (e EncryptConfig) IV() ([]byte, error) {
	b, err := hex.DecodeString(e.IVHex)
	if err != nil {
		return nil, fmt.Errorf("decode iv hex: %w", err)
	}
	if len(b) != 16 {
		return nil, fmt.Errorf("iv must decode to 16 bytes, got %d", len(b))
	}
	return b, nil
}

func configDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable path: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("resolve symlinks: %w", err)
	}
	return filepath.Join(filepath.Dir(exe), "data"), nil
}

// Load reads data/config.json in the executable's directory, writing out
// the defaults the first time it is run.
func Load() (*Config, error) {
	dir, err := configDir()
	if err != nil {
		return nil, fmt.Errorf("config dir: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	path := filepath.Join(dir, "config.json")
	cfg := Defaults()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config tmp: %w", err)
	}

	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}

	return nil
}

// Validate checks the fields the core session machinery relies on.
func (c *Config) Validate() error {
	if c.Listen.Plain == "" && c.Listen.Encrypted == "" {
		return fmt.Errorf("at least one of listen.plain or listen.encrypted must be set")
	}
	if len(c.Main.TCPAddress) == 0 {
		return fmt.Errorf("main.tcpAddress requires at least one candidate")
	}
	if c.Fee.Share < 0 || c.Fee.Share > 100 {
		return fmt.Errorf("fee.share must be between 0 and 100, got %d", c.Fee.Share)
	}
	if c.Fee.Share > 0 {
		if c.Fee.Wallet == "" {
			return fmt.Errorf("fee.wallet is required when fee.share > 0")
		}
		if len(c.Fee.TCPAddress) == 0 {
			return fmt.Errorf("fee.tcpAddress requires at least one candidate when fee.share > 0")
		}
	}
	if c.Develop.Ratio < 1 {
		return fmt.Errorf("develop.ratio must be >= 1")
	}
	if c.Listen.Encrypted != "" {
		if _, err := c.Encrypt.Key(); err != nil {
			return fmt.Errorf("encrypt config: %w", err)
		}
		if _, err := c.Encrypt.IV(); err != nil {
			return fmt.Errorf("encrypt config: %w", err)
		}
	}
	return nil
}

func (c *Config) GetPath() string {
	return c.path
}

func (c *Config) LogDir() string {
	return filepath.Join(filepath.Dir(c.path), "logs")
}
