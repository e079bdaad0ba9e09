package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"solbox/core/genesis"
	"solbox/crypto"
)

func init() {
	crypto.KeystoreScryptN = 1 << 4
	crypto.KeystoreScryptP = 1
}

func testIdentity(b byte) string {
	var raw [crypto.AddressLength]byte
	raw[19] = b
	return crypto.FromRaw(raw).String()
}

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.FileExists(t, filepath.Join(dir, "owner.keystore"))
	require.Equal(t, ":8080", cfg.RPCAddress)
	require.Equal(t, "leveldb", cfg.Storage.Backend)
	require.Len(t, cfg.Auth.HMACSecret, 64)
	require.NoError(t, cfg.Validate())

	key, err := crypto.LoadFromKeystore(cfg.OwnerKeystorePath, KeystorePassphrase())
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address().String(), cfg.Store.Owner)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Auth.HMACSecret, reloaded.Auth.HMACSecret)
	require.Equal(t, cfg.Store.Owner, reloaded.Store.Owner)
}

func TestLoadParsesSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := fmt.Sprintf(`RPCAddress = "127.0.0.1:9000"
DataDir = "%s"
Environment = "staging"

[Storage]
Backend = "bolt"

[Logging]
Level = "debug"
File = "solbox.log"
MaxSizeMB = 10
MaxBackups = 2

[Auth]
HMACSecret = "0123456789abcdef0123"
Audience = "solbox-api"
ClockSkew = "45s"

[RateLimit]
RequestsPerMinute = 30
Burst = 5

[Telemetry]
Endpoint = "otel:4318"
Traces = true

[Store]
Owner = "%s"
Custody = "%s"
ReferralLimit = 4
CommissionPercentage = 80
BonusPercentage = 10
BonusRecipient = "%s"
ValidAmounts = [100, 500]

[[Store.Alloc]]
Address = "%s"
Balance = 1000
`, filepath.ToSlash(dir), testIdentity(1), testIdentity(2), testIdentity(3), testIdentity(4))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, "bolt", cfg.Storage.Backend)
	require.Equal(t, 45*time.Second, cfg.Auth.ClockSkew.Duration)
	require.Equal(t, "solbox", cfg.Auth.Issuer)
	require.Equal(t, 30, cfg.RateLimit.RequestsPerMinute)
	require.Equal(t, filepath.Join(dir, "journal.db"), cfg.JournalPath)
	require.True(t, cfg.Telemetry.Traces)

	gen, err := cfg.Genesis()
	require.NoError(t, err)
	require.EqualValues(t, 4, gen.Config.ReferralLimit)
	require.EqualValues(t, 80, gen.Config.CommissionPercentage)
	require.Equal(t, []uint64{100, 500}, gen.Config.ValidAmounts)
	require.Len(t, gen.Alloc, 1)
	require.EqualValues(t, 1000, gen.Alloc[0].Balance)
}

func TestLoadUsesPassphraseSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path, WithKeystorePassphraseSource(func() (string, error) { return "s3cret", nil }))
	require.NoError(t, err)
	_, err = crypto.LoadFromKeystore(cfg.OwnerKeystorePath, "s3cret")
	require.NoError(t, err)

	_, err = Load(filepath.Join(dir, "other", "config.toml"), WithKeystorePassphraseSource(func() (string, error) {
		return "", errors.New("no terminal")
	}))
	require.Error(t, err)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("ListenAddress = \":6001\"\n"), 0o600))
	_, err := Load(path)
	require.ErrorContains(t, err, "ListenAddress")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{
			Auth:  Auth{HMACSecret: "0123456789abcdef"},
			Store: genesisSpec(),
		}
		applyDefaults(cfg)
		return cfg
	}
	require.NoError(t, base().Validate())

	cfg := base()
	cfg.Storage.Backend = "rocksdb"
	require.ErrorContains(t, cfg.Validate(), "unknown backend")

	cfg = base()
	cfg.Auth.HMACSecret = "short"
	require.ErrorContains(t, cfg.Validate(), "HMACSecret")

	cfg = base()
	cfg.Store.Owner = "nhb1invalid"
	require.ErrorContains(t, cfg.Validate(), "store")

	cfg = base()
	cfg.RateLimit.Burst = -1
	require.Error(t, cfg.Validate())
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	require.Equal(t, 90*time.Second, d.Duration)
	out, err := d.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "1m30s", string(out))
	require.Error(t, d.UnmarshalText([]byte("soon")))
}

func genesisSpec() genesis.Spec {
	return genesis.Spec{Owner: testIdentity(1), Custody: testIdentity(2)}
}
