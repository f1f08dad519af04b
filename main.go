package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/go-authgate/meetgate/config"
	"github.com/go-authgate/meetgate/tui"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		var shown *reportedError
		if !errors.As(err, &shown) {
			fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// reportedError marks an error the displayer has already shown.
type reportedError struct{ err error }

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// cli carries the state shared by every subcommand.
type cli struct {
	cfgFile string
	plain   bool
	cfg     *config.Config
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           config.AppName,
		Short:         "Token-backed client for the meet booking API",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgFile, "config", "", "Config file (YAML)")
	pf.BoolVar(&c.plain, "plain", false, "Plain text progress output even on a terminal")
	pf.String(config.FlagName(config.KeyBaseURL), "", "Meet API base URL (or MEET_BASE_URL env)")
	pf.String(config.FlagName(config.KeyUsername), "", "Username, usually a phone number (or MEET_USERNAME env)")
	pf.String(config.FlagName(config.KeyPassword), "", "Password or OTP (or MEET_PASSWORD env)")
	pf.String(config.FlagName(config.KeyTokenStore), config.StoreFile, "Token store: file, keyring or redis")
	pf.String(config.FlagName(config.KeyTokenFile), "", "Token file for the file store (default <tmp>/meet/token.json)")
	pf.String(config.FlagName(config.KeyRedisAddr), "", "Redis address for the redis store")
	pf.String(config.FlagName(config.KeyRedisKey), "", "Redis key for the redis store")
	pf.String(config.FlagName(config.KeyLogLevel), "info", "Log level")
	pf.Bool(config.FlagName(config.KeyLogPretty), false, "Human readable logs")
	pf.Int(config.FlagName(config.KeyHTTPMaxRetries), 0, "Transport retries for meet API calls")
	pf.Bool(config.FlagName(config.KeySingleFlight), false, "Share one refresh between concurrent calls")
	pf.Duration(config.FlagName(config.KeyRequestTimeout), 0, "Per-command timeout (default 30s)")

	root.AddCommand(
		c.loginCommand(),
		c.logoutCommand(),
		c.tokenCommand(),
		c.doctorsCommand(),
		c.availabilityCommand(),
		c.productsCommand(),
		c.orderCommand(),
		c.payCommand(),
		c.requestCommand(),
		c.serveCommand(),
	)
	return root
}

func (c *cli) load(cmd *cobra.Command) error {
	cfg, err := config.Load(c.cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	// Warn if using HTTP instead of HTTPS
	if cfg.Insecure() {
		w := cmd.ErrOrStderr()
		fmt.Fprintln(w, "⚠️  WARNING: Using HTTP instead of HTTPS. Tokens will be transmitted in plaintext!")
		fmt.Fprintln(w, "⚠️  This is only safe for local development. Use HTTPS in production.")
		fmt.Fprintln(w)
	}
	c.cfg = cfg
	return nil
}

// action is the body of a client subcommand. Its result is printed to
// stdout after the progress display has finished.
type action func(ctx context.Context, a *app) (any, error)

// run wires an app for cmd, shows progress under title and prints the
// result.
func (c *cli) run(cmd *cobra.Command, title string, fn action) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var result any
	err := withDisplayer(c.cfg, c.plain, cmd.ErrOrStderr(), func(d tui.Displayer, log *zap.Logger) error {
		d.Banner(title)
		a, err := newApp(ctx, c.cfg, log, d)
		if err != nil {
			d.Fatal(err)
			return err
		}
		defer a.Close()

		result, err = fn(ctx, a)
		if err != nil {
			d.Fatal(err)
			return err
		}
		return nil
	})
	if err != nil {
		return &reportedError{err: err}
	}
	return printResult(cmd.OutOrStdout(), result)
}

func printResult(w io.Writer, v any) error {
	switch v := v.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		_, err := fmt.Fprintln(w, strings.TrimRight(v, "\n"))
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
