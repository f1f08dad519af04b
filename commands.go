package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/go-authgate/meetgate/config"
	"github.com/go-authgate/meetgate/meet"
	"github.com/go-authgate/meetgate/obs"
	"github.com/go-authgate/meetgate/server"
	"github.com/go-authgate/meetgate/tui"
)

// previewLen bounds how much of a token is ever shown.
const previewLen = 12

func preview(token string) string {
	if len(token) > previewLen {
		return token[:previewLen]
	}
	return token
}

func (c *cli) loginCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Exchange username and password for a token pair and store it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, "meetgate login", func(ctx context.Context, a *app) (any, error) {
				a.display.Issuing()
				token, err := a.tokens.Issue(ctx)
				if err != nil {
					return nil, err
				}
				a.display.IssueOK()
				a.display.TokenSaved(a.store.Location())

				if rec, ok := a.store.Load(ctx); ok {
					a.display.TokenInfo(preview(token), time.Until(rec.Expiry()))
				}
				a.display.Done("Logged in")
				return nil, nil
			})
		},
	}
}

func (c *cli) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored token pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, "meetgate logout", func(ctx context.Context, a *app) (any, error) {
				if err := a.store.Clear(ctx); err != nil {
					return nil, err
				}
				a.display.TokenCleared(a.store.Location())
				a.display.Done("Logged out")
				return nil, nil
			})
		},
	}
}

// tokenSummary is what `meetgate token` prints. It never carries the full
// access or refresh token.
type tokenSummary struct {
	Location    string         `json:"location"`
	Preview     string         `json:"preview"`
	ExpiresAt   time.Time      `json:"expiresAt"`
	Expired     bool           `json:"expired"`
	Refreshable bool           `json:"refreshable"`
	Claims      map[string]any `json:"claims,omitempty"`
}

func (c *cli) tokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Show the stored token record and its unverified JWT claims",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, "meetgate token", func(ctx context.Context, a *app) (any, error) {
				rec, ok := a.store.Load(ctx)
				if !ok {
					a.display.TokensNotFound(a.store.Location())
					return nil, fmt.Errorf("no stored token in %s, run `meetgate login`", a.store.Location())
				}
				now := time.Now()
				a.display.TokensFound(a.store.Location(), rec.Expiry().Sub(now))

				summary := tokenSummary{
					Location:    a.store.Location(),
					Preview:     preview(rec.AccessToken) + "...",
					ExpiresAt:   rec.Expiry(),
					Expired:     rec.Expired(now),
					Refreshable: rec.RefreshToken != "",
				}
				if claims, err := rec.Claims(); err == nil {
					summary.Claims = claims
				} else {
					a.log.Debug("access token is not a JWT", zap.Error(err))
				}

				a.display.TokenInfo(preview(rec.AccessToken), rec.Expiry().Sub(now))
				a.display.Done("")
				return summary, nil
			})
		},
	}
}

// call wraps one meet API call with request progress events.
func call[T any](a *app, method, endpoint string, fn func() (T, error)) (T, error) {
	a.display.Requesting(method, endpoint)
	v, err := fn()
	if err != nil {
		a.display.RequestFailed(err)
		return v, err
	}
	a.display.RequestOK(endpoint)
	a.display.Done("")
	return v, nil
}

func (c *cli) doctorsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctors [ID]",
		Short: "List doctors, or show one doctor",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, "meetgate doctors", func(ctx context.Context, a *app) (any, error) {
				if len(args) == 1 {
					return call(a, http.MethodGet, "/doctors/"+args[0], func() (*meet.Doctor, error) {
						return a.meet.GetDoctor(ctx, args[0])
					})
				}
				return call(a, http.MethodGet, "/doctors", func() ([]meet.Doctor, error) {
					return a.meet.ListDoctors(ctx)
				})
			})
		},
	}
}

func (c *cli) availabilityCommand() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "availability DOCTOR_ID",
		Short: "Show a doctor's slots on a day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			day := time.Now()
			if date != "" {
				parsed, err := time.Parse(meet.DateLayout, date)
				if err != nil {
					return fmt.Errorf("--date must be formatted as YYYY-MM-DD: %w", err)
				}
				day = parsed
			}
			return c.run(cmd, "meetgate availability", func(ctx context.Context, a *app) (any, error) {
				return call(a, http.MethodGet, "/doctors/"+args[0]+"/availability", func() (*meet.Availability, error) {
					return a.meet.GetAvailability(ctx, args[0], day)
				})
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Day as YYYY-MM-DD (default today)")
	return cmd
}

func (c *cli) productsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "products",
		Short: "List bookable services and their prices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, "meetgate products", func(ctx context.Context, a *app) (any, error) {
				return call(a, http.MethodGet, "/products", func() ([]meet.Product, error) {
					return a.meet.ListProducts(ctx)
				})
			})
		},
	}
}

func (c *cli) orderCommand() *cobra.Command {
	var (
		req   meet.OrderRequest
		start string
	)
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Book a slot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := time.Parse(time.RFC3339, start)
			if err != nil {
				return fmt.Errorf("--start must be RFC 3339: %w", err)
			}
			req.Start = t
			return c.run(cmd, "meetgate order", func(ctx context.Context, a *app) (any, error) {
				return call(a, http.MethodPost, "/orders", func() (*meet.Order, error) {
					return a.meet.CreateOrder(ctx, req)
				})
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.DoctorID, "doctor", "", "Doctor ID")
	f.StringVar(&req.ProductID, "product", "", "Product ID")
	f.StringVar(&req.PriceID, "price", "", "Price tier ID")
	f.StringVar(&start, "start", "", "Slot start time (RFC 3339)")
	f.StringVar(&req.Note, "note", "", "Note for the doctor")
	_ = cmd.MarkFlagRequired("doctor")
	_ = cmd.MarkFlagRequired("product")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func (c *cli) payCommand() *cobra.Command {
	var req meet.PaymentRequest
	cmd := &cobra.Command{
		Use:   "pay ORDER_ID",
		Short: "Start payment for an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.OrderID = args[0]
			return c.run(cmd, "meetgate pay", func(ctx context.Context, a *app) (any, error) {
				return call(a, http.MethodPost, "/payments", func() (*meet.Payment, error) {
					return a.meet.CreatePayment(ctx, req)
				})
			})
		},
	}
	cmd.Flags().StringVar(&req.ReturnURL, "return-url", "", "Where the payment page sends the user back to")
	return cmd
}

func (c *cli) requestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "request METHOD PATH [BODY]",
		Short: "Send an arbitrary authenticated request to the meet API",
		Long: "Send an arbitrary request to the meet API. The stored token is attached and\n" +
			"refreshed once on a 401. A BODY of \"-\" is read from stdin.",
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := strings.ToUpper(args[0])
			var body []byte
			if len(args) == 3 {
				if args[2] == "-" {
					data, err := io.ReadAll(cmd.InOrStdin())
					if err != nil {
						return fmt.Errorf("reading body from stdin: %w", err)
					}
					body = data
				} else {
					body = []byte(args[2])
				}
			}
			return c.run(cmd, "meetgate request", func(ctx context.Context, a *app) (any, error) {
				return call(a, method, args[1], func() (any, error) {
					return a.meet.Do(ctx, method, args[1], body)
				})
			})
		},
	}
}

func (c *cli) serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the meet API routes, /metrics and /healthz",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := obs.NewLogger(c.cfg.AsLogConfig())
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, c.cfg, log, tui.NoopDisplayer{})
			if err != nil {
				log.Error("startup failed", zap.Error(err))
				return err
			}
			defer a.Close()

			if c.cfg.BaseURL == "" {
				log.Warn("base URL is not configured, API routes will answer 503")
			}
			log.Info("token store", zap.String("location", a.store.Location()))

			srv := server.New(c.cfg.ListenAddr, a.meet, a.health, log)
			return server.Run(ctx, srv, log)
		},
	}
	cmd.Flags().String(config.FlagName(config.KeyListenAddr), ":8080", "HTTP listen address")
	return cmd
}
