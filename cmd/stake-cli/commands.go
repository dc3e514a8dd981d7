package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"stakeledger/cmd/internal/passphrase"
	"stakeledger/crypto"
	"stakeledger/gateway/middleware"
)

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

func defaultHTTPClient() httpDoer {
	return &http.Client{Timeout: 15 * time.Second}
}

type apiError struct {
	Status int
	Code   string `json:"code"`
	Msg    string `json:"error"`
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s (HTTP %d)", e.Code, e.Msg, e.Status)
}

// parseInterspersed lets flags follow positional arguments.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if len(rest) == 0 {
			return positional, nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}

func (c *cli) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) fail(err error) int {
	fmt.Fprintf(c.stderr, "Error: %v\n", err)
	return 1
}

func (c *cli) runKeygen(args []string) int {
	fs := c.newFlagSet("keygen")
	authority := fs.Bool("authority", false, "derive a pool authority address")
	rest, err := parseInterspersed(fs, args)
	if err != nil {
		return 1
	}
	if len(rest) != 1 {
		fmt.Fprintln(c.stderr, "Usage: stake-cli keygen <keystore> [--authority]")
		return 1
	}
	path := rest[0]
	if _, err := os.Stat(path); err == nil {
		return c.fail(fmt.Errorf("%s already exists", path))
	}
	pass, err := passphrase.NewSource(passphraseEnv, "new keystore").WithConfirmation().Get()
	if err != nil {
		return c.fail(err)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return c.fail(err)
	}
	if err := crypto.SaveToKeystore(path, key, pass); err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, key.PubKey().Address(addressPrefix(*authority)).String())
	return 0
}

func (c *cli) runAddress(args []string) int {
	fs := c.newFlagSet("address")
	authority := fs.Bool("authority", false, "print the pool authority address")
	rest, err := parseInterspersed(fs, args)
	if err != nil {
		return 1
	}
	if len(rest) != 1 {
		fmt.Fprintln(c.stderr, "Usage: stake-cli address <keystore> [--authority]")
		return 1
	}
	pass, err := passphrase.NewSource(passphraseEnv, "keystore").Get()
	if err != nil {
		return c.fail(err)
	}
	key, err := crypto.LoadFromKeystore(rest[0], pass)
	if err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, key.PubKey().Address(addressPrefix(*authority)).String())
	return 0
}

func addressPrefix(authority bool) crypto.AddressPrefix {
	if authority {
		return crypto.AuthorityPrefix
	}
	return crypto.StakerPrefix
}

func (c *cli) runToken(args []string) int {
	fs := c.newFlagSet("token")
	subject := fs.String("subject", "", "bech32 address the token acts for")
	scopes := fs.String("scopes", middleware.ScopeWrite, "comma separated scopes")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	secret := fs.String("secret", "", "HMAC secret")
	secretEnv := fs.String("secret-env", "STAKELEDGER_JWT_SECRET", "environment variable holding the HMAC secret")
	issuer := fs.String("issuer", "stakeledger", "token issuer")
	audience := fs.String("audience", "stakeledger-api", "token audience")
	if _, err := parseInterspersed(fs, args); err != nil {
		return 1
	}
	if _, err := crypto.DecodeAddress(strings.TrimSpace(*subject)); err != nil {
		return c.fail(fmt.Errorf("--subject: %w", err))
	}
	key := strings.TrimSpace(*secret)
	if key == "" && *secretEnv != "" {
		key = strings.TrimSpace(os.Getenv(*secretEnv))
	}
	var scopeList []string
	for _, scope := range strings.Split(*scopes, ",") {
		if scope = strings.TrimSpace(scope); scope != "" {
			scopeList = append(scopeList, scope)
		}
	}
	token, err := middleware.IssueToken(key, *issuer, *audience, strings.TrimSpace(*subject), scopeList, *ttl, time.Now())
	if err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, token)
	return 0
}

func (c *cli) runPool(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(c.stderr, "Usage: stake-cli pool <pool>")
		return 1
	}
	return c.call(http.MethodGet, "/v1/pools/"+url.PathEscape(args[0]), nil)
}

func (c *cli) runPosition(args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(c.stderr, "Usage: stake-cli position <pool> <owner>")
		return 1
	}
	return c.call(http.MethodGet, "/v1/pools/"+url.PathEscape(args[0])+"/positions/"+url.PathEscape(args[1]), nil)
}

func (c *cli) runStake(args []string) int {
	fs := c.newFlagSet("stake")
	owner := fs.String("owner", "", "position owner when the API runs without auth")
	rest, err := parseInterspersed(fs, args)
	if err != nil {
		return 1
	}
	if len(rest) != 3 {
		fmt.Fprintln(c.stderr, "Usage: stake-cli stake <pool> <amount> <lock> [--owner ADDR]")
		return 1
	}
	lock, err := parseLockDuration(rest[2])
	if err != nil {
		return c.fail(err)
	}
	body := map[string]interface{}{"owner": *owner, "amount": rest[1], "lockDuration": lock}
	return c.call(http.MethodPost, "/v1/pools/"+url.PathEscape(rest[0])+"/stake", body)
}

func (c *cli) runUnstake(args []string) int {
	fs := c.newFlagSet("unstake")
	owner := fs.String("owner", "", "position owner when the API runs without auth")
	rest, err := parseInterspersed(fs, args)
	if err != nil {
		return 1
	}
	if len(rest) != 2 {
		fmt.Fprintln(c.stderr, "Usage: stake-cli unstake <pool> <amount> [--owner ADDR]")
		return 1
	}
	body := map[string]interface{}{"owner": *owner, "amount": rest[1]}
	return c.call(http.MethodPost, "/v1/pools/"+url.PathEscape(rest[0])+"/unstake", body)
}

func (c *cli) runClaim(args []string) int {
	fs := c.newFlagSet("claim")
	owner := fs.String("owner", "", "position owner when the API runs without auth")
	rest, err := parseInterspersed(fs, args)
	if err != nil {
		return 1
	}
	if len(rest) != 1 {
		fmt.Fprintln(c.stderr, "Usage: stake-cli claim <pool> [--owner ADDR]")
		return 1
	}
	return c.call(http.MethodPost, "/v1/pools/"+url.PathEscape(rest[0])+"/claim", map[string]interface{}{"owner": *owner})
}

func (c *cli) runAdmin(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(c.stderr, usage())
		return 1
	}
	fs := c.newFlagSet("admin " + args[0])
	caller := fs.String("caller", "", "authority address when the API runs without auth")
	stakeAsset := fs.String("stake-asset", "", "asset staked into the pool")
	rewardAsset := fs.String("reward-asset", "", "asset paid as rewards")
	rate := fs.String("rate", "0", "reward emission per second")
	reserve := fs.String("reserve", "", "initial reward reserve")
	minLock := fs.String("min-lock", "", "minimum lock duration")
	maxLock := fs.String("max-lock", "", "maximum lock duration")
	rest, err := parseInterspersed(fs, args[1:])
	if err != nil {
		return 1
	}

	needPool := func(extra int) (string, bool) {
		if len(rest) != 1+extra {
			fmt.Fprintf(c.stderr, "Usage: stake-cli admin %s <pool>%s\n", args[0], strings.Repeat(" <value>", extra))
			return "", false
		}
		return "/v1/pools/" + url.PathEscape(rest[0]), true
	}

	switch args[0] {
	case "init":
		body := map[string]interface{}{
			"caller":              *caller,
			"stakeAsset":          *stakeAsset,
			"rewardAsset":         *rewardAsset,
			"rewardRatePerSecond": *rate,
			"initialReserve":      *reserve,
		}
		for key, raw := range map[string]string{"minLockDuration": *minLock, "maxLockDuration": *maxLock} {
			if raw == "" {
				continue
			}
			secs, err := parseLockDuration(raw)
			if err != nil {
				return c.fail(err)
			}
			body[key] = secs
		}
		return c.call(http.MethodPost, "/v1/pools", body)
	case "pause", "resume":
		path, ok := needPool(0)
		if !ok {
			return 1
		}
		return c.call(http.MethodPost, path+"/"+args[0], map[string]interface{}{"caller": *caller})
	case "fund":
		path, ok := needPool(1)
		if !ok {
			return 1
		}
		return c.call(http.MethodPost, path+"/fund", map[string]interface{}{"caller": *caller, "amount": rest[1]})
	case "rate":
		path, ok := needPool(1)
		if !ok {
			return 1
		}
		return c.call(http.MethodPost, path+"/rate", map[string]interface{}{"caller": *caller, "rewardRatePerSecond": rest[1]})
	case "audit":
		path, ok := needPool(0)
		if !ok {
			return 1
		}
		return c.call(http.MethodGet, path+"/audit", nil)
	default:
		fmt.Fprintf(c.stderr, "Unknown admin command %q\n", args[0])
		return 1
	}
}

// parseLockDuration accepts whole seconds, a day count such as "90d", or a
// Go duration string.
const secondsPerDay = 24 * 60 * 60

func parseLockDuration(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return secs, nil
	}
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.ParseInt(days, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid lock duration %q", raw)
		}
		if n > math.MaxInt64/secondsPerDay || n < math.MinInt64/secondsPerDay {
			return 0, fmt.Errorf("lock duration %q out of range", raw)
		}
		return n * secondsPerDay, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid lock duration %q", raw)
	}
	return int64(d / time.Second), nil
}

func (c *cli) call(method, path string, body map[string]interface{}) int {
	out, err := c.do(method, path, body)
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			fmt.Fprintf(c.stderr, "Error: %s\n", apiErr.Error())
			return 2
		}
		return c.fail(err)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, out, "", "  "); err != nil {
		c.stdout.Write(out)
		return 0
	}
	fmt.Fprintln(c.stdout, pretty.String())
	return 0
}

func (c *cli) do(method, path string, body map[string]interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		for key, value := range body {
			if s, ok := value.(string); ok && s == "" {
				delete(body, key)
			}
		}
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, c.api+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return nil, apiErr
	}
	return data, nil
}
