package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"solbox/rpc"
)

const (
	tokenEnv  = "SOLBOX_RPC_TOKEN"
	secretEnv = "SOLBOX_HMAC_SECRET"
)

var (
	rpcEndpoint  = defaultRPCEndpoint()
	rpcAuthToken = os.Getenv(tokenEnv)
	httpClient   = &http.Client{Timeout: 15 * time.Second}
	apiCall      = callAPI
)

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(run(args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}
	rest := args[1:]
	switch args[0] {
	case "generate-key":
		return runGenerateKey(rest, stdout, stderr)
	case "address":
		return runAddress(rest, stdout, stderr)
	case "token":
		return runToken(rest, stdout, stderr)
	case "store":
		return runStore(rest, stdout, stderr)
	case "balance":
		return runBalance(rest, stdout, stderr)
	case "sponsor":
		return runSponsor(rest, stdout, stderr)
	case "relationships":
		return runRelationships(rest, stdout, stderr)
	case "events":
		return runEvents(rest, stdout, stderr)
	case "quote":
		return runPurchase("quote", rest, stdout, stderr)
	case "purchase":
		return runPurchase("purchase", rest, stdout, stderr)
	case "pause":
		return runPause(rest, stdout, stderr)
	case "set-config":
		return runSetConfig(rest, stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: solbox-cli [--rpc URL] [--token JWT] <command> [arguments]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Keys and tokens:")
	fmt.Fprintln(w, "  generate-key [--keystore FILE | --out FILE]   Create a new identity")
	fmt.Fprintln(w, "  address --keystore FILE                       Print the identity stored in a keystore")
	fmt.Fprintln(w, "  token (--subject ADDR | --keystore FILE)      Sign an API token (secret from "+secretEnv+" or --secret)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Queries:")
	fmt.Fprintln(w, "  store                                         Show store totals and configuration")
	fmt.Fprintln(w, "  balance <address>                             Show an account balance")
	fmt.Fprintln(w, "  sponsor <address>                             Show a sponsor's referral count")
	fmt.Fprintln(w, "  relationships [--offset N] [--limit N]        Page through the referral ledger")
	fmt.Fprintln(w, "  events [--after SEQ] [--limit N]              Page through committed events")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Calls (require --token):")
	fmt.Fprintln(w, "  quote --sponsor ADDR --amount N               Preview a purchase")
	fmt.Fprintln(w, "  purchase --sponsor ADDR --amount N            Buy a gift card")
	fmt.Fprintln(w, "  pause                                         Toggle the pause flag (owner)")
	fmt.Fprintln(w, "  set-config --referral-limit N --commission P --bonus P --amounts A,B,C [--bonus-recipient ADDR]")
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("SOLBOX_RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc" || arg == "--token":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for %s", arg)
			}
			if arg == "--rpc" {
				rpcEndpoint = args[i+1]
			} else {
				rpcAuthToken = args[i+1]
			}
			i++
		case strings.HasPrefix(arg, "--rpc="):
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
		case strings.HasPrefix(arg, "--token="):
			rpcAuthToken = strings.TrimPrefix(arg, "--token=")
		default:
			out = append(out, arg)
		}
	}
	return out, nil
}

type apiError struct {
	Status int
	rpc.ErrorResponse
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// callAPI performs a JSON request against the daemon. Non-2xx responses are
// returned as *apiError.
func callAPI(method, path string, body any, requireAuth bool) (json.RawMessage, *apiError, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, strings.TrimRight(rpcEndpoint, "/")+path, reader)
	if err != nil {
		return nil, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth {
		token := strings.TrimSpace(rpcAuthToken)
		if token == "" {
			return nil, nil, fmt.Errorf("an API token is required; pass --token or set %s", tokenEnv)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		if err := json.Unmarshal(data, &apiErr.ErrorResponse); err != nil || apiErr.Code == "" {
			apiErr.Code = "http_error"
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return nil, apiErr, nil
	}
	return json.RawMessage(data), nil, nil
}

func writeResult(w io.Writer, raw json.RawMessage) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Fprintln(w, string(raw))
		return
	}
	fmt.Fprintln(w, buf.String())
}

func handleCall(stdout, stderr io.Writer, raw json.RawMessage, apiErr *apiError, err error) int {
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if apiErr != nil {
		fmt.Fprintf(stderr, "Error: %v\n", apiErr)
		return 2
	}
	writeResult(stdout, raw)
	return 0
}
