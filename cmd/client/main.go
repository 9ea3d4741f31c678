// Package main is the keyvault command line client.
package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/atinyakov/keyvault/internal/crypto"
)

var (
	version   string
	buildDate string
)

const usage = `Usage: keyvault [flags] <command> [args]

Commands:
  signup <handle>                 create an account and print its secret
  login [secret]                  start a session
  logout                          forget the session
  whoami                          show the current session
  master init|unlock              create or check the master passphrase
  connect <identity>              connect to another identity
  share <item> <recipient>        share name=value pairs read from stdin
  update <item>                   re-key every share of an item
  incoming                        list shares addressed to you
  receive <share>                 open a share
  reshare <share> <recipient>     pass a received share on
  delegate open <delegate> <role> open a delegation
  delegate claim <owner>          claim a delegation
  delegate share <token>          share your KEK with the claimant
  delegate reencrypt <token>      store the delegated KEK under your own KEK
  child <handle>                  create a dependent identity

Flags:
`

// newCrypto is replaced in tests with a faster suite.
var newCrypto = crypto.New

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Getenv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// run parses flags and executes one command.
func run(ctx context.Context, args []string, in io.Reader, out io.Writer, getenv func(string) string) error {
	fset := flag.NewFlagSet("keyvault", flag.ContinueOnError)
	fset.SetOutput(out)
	fset.Usage = func() {
		fmt.Fprint(out, usage)
		fset.PrintDefaults()
	}

	var (
		cfg     appConfig
		showVer bool
	)
	fset.StringVar(&cfg.profilePath, "profile", defaultProfilePath(getenv), "path to the profile file")
	fset.StringVar(&cfg.connectionsPath, "connections", "", "path to a connections file shared between profiles")
	fset.StringVar(&cfg.server, "server", "", "keystore base URL")
	fset.StringVar(&cfg.caFile, "ca", "", "path to a CA certificate trusted for the keystore")
	fset.IntVar(&cfg.iterations, "iterations", crypto.DefaultIterations, "PBKDF2 iterations")
	fset.DurationVar(&cfg.timeout, "timeout", 30*time.Second, "request timeout")
	fset.BoolVar(&cfg.verbose, "v", false, "log debug output to stderr")
	fset.BoolVar(&showVer, "version", false, "show build version and date")
	if err := fset.Parse(args); err != nil {
		return err
	}

	if showVer {
		fmt.Fprintf(out, "keyvault client\nVersion: %s\nBuild Date: %s\n",
			cmp.Or(version, "N/A"), cmp.Or(buildDate, "N/A"))
		return nil
	}
	if fset.NArg() == 0 {
		fset.Usage()
		return errors.New("no command given")
	}

	a, err := newApp(cfg, in, out, getenv)
	if err != nil {
		return err
	}
	defer a.close()
	return a.dispatch(ctx, fset.Arg(0), fset.Args()[1:])
}

func defaultProfilePath(getenv func(string) string) string {
	if p := getenv("KEYVAULT_PROFILE"); p != "" {
		return p
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "keyvault", "profile.json")
	}
	return "keyvault.json"
}
