package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"solbox/core/genesis"
	"solbox/crypto"

	"github.com/BurntSushi/toml"
)

// KeystorePassphraseEnv names the environment variable holding the owner
// keystore passphrase.
const KeystorePassphraseEnv = "SOLBOX_KEYSTORE_PASSPHRASE"

type Config struct {
	RPCAddress        string       `toml:"RPCAddress"`
	DataDir           string       `toml:"DataDir"`
	Environment       string       `toml:"Environment"`
	JournalPath       string       `toml:"JournalPath"`
	GenesisFile       string       `toml:"GenesisFile,omitempty"`
	OwnerKeystorePath string       `toml:"OwnerKeystorePath"`
	Storage           Storage      `toml:"Storage"`
	Logging           Logging      `toml:"Logging"`
	Auth              Auth         `toml:"Auth"`
	RateLimit         RateLimit    `toml:"RateLimit"`
	Telemetry         Telemetry    `toml:"Telemetry"`
	Store             genesis.Spec `toml:"Store"`
}

// Option customises Load.
type Option func(*loadOptions)

type loadOptions struct {
	passphrase func() (string, error)
}

// WithKeystorePassphraseSource supplies the passphrase used to encrypt a
// freshly generated owner keystore. The default reads KeystorePassphraseEnv.
func WithKeystorePassphraseSource(fn func() (string, error)) Option {
	return func(o *loadOptions) {
		if fn != nil {
			o.passphrase = fn
		}
	}
}

// Load loads the configuration from the given path. A missing file is
// replaced by a default configuration with a freshly generated owner key.
func Load(path string, opts ...Option) (*Config, error) {
	options := loadOptions{passphrase: func() (string, error) { return KeystorePassphrase(), nil }}
	for _, opt := range opts {
		opt(&options)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, options.passphrase)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %q", path, undecoded[0].String())
	}
	applyDefaults(cfg)
	if cfg.JournalPath == "" {
		cfg.JournalPath = filepath.Join(cfg.DataDir, "journal.db")
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./solbox-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if strings.TrimSpace(cfg.Storage.Backend) == "" {
		cfg.Storage.Backend = "leveldb"
	}
	if strings.TrimSpace(cfg.Auth.Issuer) == "" {
		cfg.Auth.Issuer = "solbox"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew = Duration{30 * time.Second}
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
}

// Genesis resolves the store genesis, preferring GenesisFile over the inline
// [Store] section.
func (c *Config) Genesis() (*genesis.Genesis, error) {
	spec := &c.Store
	if path := strings.TrimSpace(c.GenesisFile); path != "" {
		loaded, err := genesis.Load(path)
		if err != nil {
			return nil, err
		}
		spec = loaded
	}
	return spec.Resolve()
}

// KeystorePassphrase returns the owner keystore passphrase from the
// environment.
func KeystorePassphrase() string {
	return os.Getenv(KeystorePassphraseEnv)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string, passphrase func() (string, error)) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	pass, err := passphrase()
	if err != nil {
		return nil, fmt.Errorf("owner keystore passphrase: %w", err)
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, pass); err != nil {
		return nil, err
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate auth secret: %w", err)
	}

	owner := key.PubKey().Address().String()
	cfg := &Config{
		RPCAddress:        ":8080",
		DataDir:           "./solbox-data",
		OwnerKeystorePath: keystorePath,
		Auth:              Auth{HMACSecret: hex.EncodeToString(secret)},
		Store:             genesis.Spec{Owner: owner, Custody: owner},
	}
	applyDefaults(cfg)
	cfg.JournalPath = filepath.Join(cfg.DataDir, "journal.db")

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "owner.keystore")
}
