package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	defaultAPI          = "http://127.0.0.1:8646"
	passphraseEnv       = "STAKE_KEYSTORE_PASSPHRASE"
	defaultTokenTTLHint = "24h"
)

type cli struct {
	api    string
	token  string
	stdout io.Writer
	stderr io.Writer
	client httpDoer
}

func main() {
	c := &cli{
		api:    envOr("STAKE_API_URL", defaultAPI),
		token:  strings.TrimSpace(os.Getenv("STAKE_API_TOKEN")),
		stdout: os.Stdout,
		stderr: os.Stderr,
		client: defaultHTTPClient(),
	}
	os.Exit(c.run(os.Args[1:]))
}

func (c *cli) run(args []string) int {
	args, err := c.applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(c.stderr, err)
		return 1
	}
	if len(args) == 0 {
		fmt.Fprintln(c.stderr, usage())
		return 1
	}
	switch args[0] {
	case "keygen":
		return c.runKeygen(args[1:])
	case "address":
		return c.runAddress(args[1:])
	case "token":
		return c.runToken(args[1:])
	case "pool":
		return c.runPool(args[1:])
	case "position":
		return c.runPosition(args[1:])
	case "stake":
		return c.runStake(args[1:])
	case "unstake":
		return c.runUnstake(args[1:])
	case "claim":
		return c.runClaim(args[1:])
	case "admin":
		return c.runAdmin(args[1:])
	case "help", "-h", "--help":
		fmt.Fprintln(c.stdout, usage())
		return 0
	default:
		fmt.Fprintf(c.stderr, "Unknown command %q\n%s\n", args[0], usage())
		return 1
	}
}

// applyGlobalFlags strips --api and --token from the front of args.
func (c *cli) applyGlobalFlags(args []string) ([]string, error) {
	for len(args) > 0 {
		name, value, hasValue := strings.Cut(args[0], "=")
		switch name {
		case "--api", "--token":
		default:
			return args, nil
		}
		consumed := 1
		if !hasValue {
			if len(args) < 2 {
				return nil, fmt.Errorf("%s requires a value", name)
			}
			value = args[1]
			consumed = 2
		}
		value = strings.TrimSpace(value)
		if name == "--api" {
			c.api = strings.TrimRight(value, "/")
		} else {
			c.token = value
		}
		args = args[consumed:]
	}
	return args, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return strings.TrimRight(v, "/")
	}
	return fallback
}

func usage() string {
	return `Usage: stake-cli [--api URL] [--token JWT] <command> [args]

Keys:
  keygen <keystore> [--authority]          create a key and print its address
  address <keystore> [--authority]         print the address of a keystore
  token --subject ADDR [--scopes s1,s2] [--ttl ` + defaultTokenTTLHint + `] [--secret S | --secret-env VAR]

Queries:
  pool <pool>
  position <pool> <owner>

Staking:
  stake <pool> <amount> <lock> [--owner ADDR]   lock is seconds or a duration such as 90d or 720h
  unstake <pool> <amount> [--owner ADDR]
  claim <pool> [--owner ADDR]

Administration:
  admin init --stake-asset A --reward-asset A --rate N [--reserve N] [--min-lock D] [--max-lock D]
  admin pause|resume <pool>
  admin fund <pool> <amount>
  admin rate <pool> <rate>
  admin audit <pool>

Environment: STAKE_API_URL, STAKE_API_TOKEN, ` + passphraseEnv
}
