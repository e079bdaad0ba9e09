package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"solbox/cmd/internal/passphrase"
	"solbox/config"
	"solbox/crypto"
	"solbox/rpc"
)

var keystorePassphrase = func() (string, error) {
	return passphrase.NewSource(config.KeystorePassphraseEnv, "keystore").Get()
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string, stderr io.Writer) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return false
	}
	return true
}

func runGenerateKey(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("generate-key", stderr)
	var keystorePath, out string
	fs.StringVar(&keystorePath, "keystore", "", "write an encrypted keystore to FILE")
	fs.StringVar(&out, "out", "wallet.key", "write the raw key to FILE")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	target := out
	if keystorePath != "" {
		pass, err := keystorePassphrase()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if err := crypto.SaveToKeystore(keystorePath, key, pass); err != nil {
			fmt.Fprintf(stderr, "Error: save keystore: %v\n", err)
			return 1
		}
		target = keystorePath
	} else if err := os.WriteFile(out, []byte(hex.EncodeToString(key.Bytes())), 0o600); err != nil {
		fmt.Fprintf(stderr, "Error: save key: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Saved key to %s\n", target)
	fmt.Fprintf(stdout, "Address: %s\n", key.PubKey().Address().String())
	return 0
}

func loadKeystoreAddress(path string) (string, error) {
	pass, err := keystorePassphrase()
	if err != nil {
		return "", err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return "", fmt.Errorf("load keystore: %w", err)
	}
	return key.PubKey().Address().String(), nil
}

func runAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("address", stderr)
	var keystorePath string
	fs.StringVar(&keystorePath, "keystore", "", "keystore file")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(keystorePath) == "" {
		fmt.Fprintln(stderr, "Error: --keystore is required")
		return 1
	}
	addr, err := loadKeystoreAddress(keystorePath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, addr)
	return 0
}

func runToken(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token", stderr)
	var subject, keystorePath, secret, issuer, audience string
	var ttl time.Duration
	fs.StringVar(&subject, "subject", "", "bech32 identity the token speaks for")
	fs.StringVar(&keystorePath, "keystore", "", "derive the subject from a keystore")
	fs.StringVar(&secret, "secret", os.Getenv(secretEnv), "HMAC secret shared with the daemon")
	fs.StringVar(&issuer, "issuer", "solbox", "token issuer")
	fs.StringVar(&audience, "audience", "", "token audience")
	fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if (subject == "") == (keystorePath == "") {
		fmt.Fprintln(stderr, "Error: exactly one of --subject or --keystore is required")
		return 1
	}
	if keystorePath != "" {
		addr, err := loadKeystoreAddress(keystorePath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		subject = addr
	}
	cfg := rpc.AuthConfig{HMACSecret: secret, Issuer: issuer, Audience: audience}
	token, err := rpc.IssueToken(cfg, strings.TrimSpace(subject), ttl, time.Now())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func runStore(args []string, stdout, stderr io.Writer) int {
	if !parseFlags(newFlagSet("store", stderr), args, stderr) {
		return 1
	}
	raw, apiErr, err := apiCall(http.MethodGet, "/v1/store", nil, false)
	return handleCall(stdout, stderr, raw, apiErr, err)
}

func identityArg(name string, args []string, stderr io.Writer) (string, bool) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		fmt.Fprintf(stderr, "Error: %s requires exactly one address\n", name)
		return "", false
	}
	addr := strings.TrimSpace(args[0])
	if _, err := crypto.ParseIdentity(addr); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return "", false
	}
	return addr, true
}

func runBalance(args []string, stdout, stderr io.Writer) int {
	addr, ok := identityArg("balance", args, stderr)
	if !ok {
		return 1
	}
	raw, apiErr, err := apiCall(http.MethodGet, "/v1/accounts/"+url.PathEscape(addr), nil, false)
	return handleCall(stdout, stderr, raw, apiErr, err)
}

func runSponsor(args []string, stdout, stderr io.Writer) int {
	addr, ok := identityArg("sponsor", args, stderr)
	if !ok {
		return 1
	}
	raw, apiErr, err := apiCall(http.MethodGet, "/v1/sponsors/"+url.PathEscape(addr), nil, false)
	return handleCall(stdout, stderr, raw, apiErr, err)
}

func runRelationships(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("relationships", stderr)
	var offset, limit uint64
	fs.Uint64Var(&offset, "offset", 0, "first sequence to return")
	fs.Uint64Var(&limit, "limit", 100, "maximum rows")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	q := url.Values{}
	q.Set("offset", strconv.FormatUint(offset, 10))
	q.Set("limit", strconv.FormatUint(limit, 10))
	raw, apiErr, err := apiCall(http.MethodGet, "/v1/relationships?"+q.Encode(), nil, false)
	return handleCall(stdout, stderr, raw, apiErr, err)
}

func runEvents(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("events", stderr)
	var after, limit uint64
	fs.Uint64Var(&after, "after", 0, "return events after this sequence")
	fs.Uint64Var(&limit, "limit", 100, "maximum rows")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	q := url.Values{}
	q.Set("after", strconv.FormatUint(after, 10))
	q.Set("limit", strconv.FormatUint(limit, 10))
	raw, apiErr, err := apiCall(http.MethodGet, "/v1/events?"+q.Encode(), nil, false)
	return handleCall(stdout, stderr, raw, apiErr, err)
}

func runPurchase(name string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(name, stderr)
	var sponsor string
	var amount uint64
	fs.StringVar(&sponsor, "sponsor", "", "bech32 identity of the requested sponsor")
	fs.Uint64Var(&amount, "amount", 0, "gift card denomination")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	sponsor = strings.TrimSpace(sponsor)
	if sponsor == "" {
		fmt.Fprintln(stderr, "Error: --sponsor is required")
		return 1
	}
	if amount == 0 {
		fmt.Fprintln(stderr, "Error: --amount is required")
		return 1
	}
	body := rpc.PurchaseRequest{Sponsor: sponsor, Amount: strconv.FormatUint(amount, 10)}
	raw, apiErr, err := apiCall(http.MethodPost, "/v1/"+name, body, true)
	return handleCall(stdout, stderr, raw, apiErr, err)
}

func runPause(args []string, stdout, stderr io.Writer) int {
	if !parseFlags(newFlagSet("pause", stderr), args, stderr) {
		return 1
	}
	raw, apiErr, err := apiCall(http.MethodPost, "/v1/admin/pause", nil, true)
	return handleCall(stdout, stderr, raw, apiErr, err)
}

func runSetConfig(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("set-config", stderr)
	var (
		referralLimit uint
		commission    uint
		bonus         uint
		amounts       string
		recipient     string
	)
	fs.UintVar(&referralLimit, "referral-limit", 0, "direct referrals per sponsor")
	fs.UintVar(&commission, "commission", 0, "commission percentage")
	fs.UintVar(&bonus, "bonus", 0, "bonus percentage")
	fs.StringVar(&amounts, "amounts", "", "comma separated catalogue of denominations")
	fs.StringVar(&recipient, "bonus-recipient", "", "identity receiving the bonus share")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if referralLimit == 0 || strings.TrimSpace(amounts) == "" {
		fmt.Fprintln(stderr, "Error: --referral-limit and --amounts are required")
		return 1
	}
	if referralLimit > 1<<32-1 {
		fmt.Fprintln(stderr, "Error: --referral-limit out of range")
		return 1
	}
	if commission > 100 || bonus > 100 {
		fmt.Fprintln(stderr, "Error: percentages must be at most 100")
		return 1
	}
	payload := rpc.ConfigPayload{
		ReferralLimit:        uint32(referralLimit),
		CommissionPercentage: uint8(commission),
		BonusPercentage:      uint8(bonus),
		BonusRecipient:       strings.TrimSpace(recipient),
	}
	for _, part := range strings.Split(amounts, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, err := strconv.ParseUint(part, 10, 64); err != nil {
			fmt.Fprintf(stderr, "Error: invalid amount %q\n", part)
			return 1
		}
		payload.ValidAmounts = append(payload.ValidAmounts, part)
	}
	raw, apiErr, err := apiCall(http.MethodPut, "/v1/admin/config", payload, true)
	return handleCall(stdout, stderr, raw, apiErr, err)
}
