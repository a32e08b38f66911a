package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/activemerchant/active-merchant-sub021/internal/config"
	"github.com/activemerchant/active-merchant-sub021/internal/gateway"
	"github.com/activemerchant/active-merchant-sub021/internal/payment"
	"github.com/activemerchant/active-merchant-sub021/internal/pkg/httpclient"
	"github.com/activemerchant/active-merchant-sub021/internal/pkg/utils"
	"github.com/activemerchant/active-merchant-sub021/internal/tokencache"
)

// app holds the global flags and collaborators shared by every command.
type app struct {
	fixtures   string
	name       string
	output     string
	transcript bool
	redisAddr  string
	verbose    bool

	out io.Writer
	in  io.Reader

	// resolve is replaced in tests.
	resolve func(a *app) (payment.Gateway, error)
}

func newApp() *app {
	return &app{out: os.Stdout, in: os.Stdin, resolve: resolveGateway}
}

func (a *app) bindFlags(root *cobra.Command) {
	fixtures := os.Getenv("FIXTURES_PATH")
	if fixtures == "" {
		fixtures = "fixtures.yml"
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&a.fixtures, "fixtures", "f", fixtures, "Gateway fixtures file")
	pf.StringVarP(&a.name, "gateway", "g", "", "Gateway name from the fixtures file")
	pf.StringVarP(&a.output, "output", "o", "yaml", "Output format (yaml, json)")
	pf.BoolVar(&a.transcript, "transcript", false, "Print the scrubbed wire transcript")
	pf.StringVar(&a.redisAddr, "redis", os.Getenv("REDIS_ADDR"), "Redis address for the OAuth token cache")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Log at debug level to stderr")
}

func resolveGateway(a *app) (payment.Gateway, error) {
	if a.name == "" {
		return nil, fmt.Errorf("--gateway is required")
	}
	cfgs, err := config.LoadGateways(a.fixtures)
	if err != nil {
		return nil, err
	}
	cfg, ok := cfgs[a.name]
	if !ok {
		return nil, fmt.Errorf("gateway %q not found in %s", a.name, a.fixtures)
	}

	logger := zap.NewNop()
	if a.verbose {
		if l, err := zap.NewDevelopment(); err == nil {
			logger = l
		}
	}
	store, err := tokencache.NewStore(a.redisAddr, "", 0)
	if err != nil {
		logger.Warn("Redis unavailable, using in-memory token cache", zap.Error(err))
	}
	return gateway.New(cfg, gateway.Deps{Logger: logger, Tokens: tokencache.New(store, tokencache.WithLogger(logger))})
}

// run resolves the gateway, runs call with transcript capture and prints
// the outcome.
func (a *app) run(cmd *cobra.Command, call func(ctx context.Context, gw payment.Gateway) (*payment.Result, error)) error {
	gw, err := a.resolve(a)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()
	tr := httpclient.NewTranscript()
	if a.transcript {
		ctx = httpclient.WithTranscript(ctx, tr)
	}

	r, err := call(ctx, gw)
	if a.transcript {
		fmt.Fprintln(a.out, "# transcript")
		fmt.Fprintln(a.out, gw.Scrub(tr.String()))
	}
	if err != nil {
		return err
	}
	return a.print(r)
}

func (a *app) print(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	switch a.output {
	case "json":
		_, err = fmt.Fprintln(a.out, string(raw))
		return err
	case "yaml", "":
		// Round-trip through JSON so Result's wire names are kept.
		var generic interface{}
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(a.out)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", a.output)
	}
}

// methodFlags collects a payment method from the command line.
type methodFlags struct {
	card  string
	exp   string
	cvv   string
	name  string
	token string
}

func (m *methodFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&m.card, "card", "", "Card number")
	cmd.Flags().StringVar(&m.exp, "exp", "", "Card expiry as MM/YYYY")
	cmd.Flags().StringVar(&m.cvv, "cvv", "", "Card verification value")
	cmd.Flags().StringVar(&m.name, "name", "", "Cardholder name")
	cmd.Flags().StringVar(&m.token, "token", "", "Stored payment method token instead of a card")
}

func (m *methodFlags) method() (payment.Method, error) {
	if m.token != "" {
		return payment.StoredToken(m.token), nil
	}
	if m.card == "" {
		return nil, fmt.Errorf("--card or --token is required")
	}
	month, year, err := parseExpiry(m.exp)
	if err != nil {
		return nil, err
	}
	first, last := utils.SplitName(m.name)
	return &payment.CreditCard{
		Number:            m.card,
		Month:             month,
		Year:              year,
		VerificationValue: m.cvv,
		FirstName:         first,
		LastName:          last,
	}, nil
}

func parseExpiry(exp string) (month, year int, err error) {
	mm, yy, ok := strings.Cut(exp, "/")
	if !ok {
		return 0, 0, fmt.Errorf("--exp must be MM/YYYY, got %q", exp)
	}
	if month, err = strconv.Atoi(mm); err != nil || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("invalid expiry month %q", mm)
	}
	if year, err = strconv.Atoi(yy); err != nil {
		return 0, 0, fmt.Errorf("invalid expiry year %q", yy)
	}
	if year < 100 {
		year += 2000
	}
	return month, year, nil
}

// optionFlags collects the common per-call options.
type optionFlags struct {
	orderID     string
	currency    string
	description string
	email       string
	idempotency string
}

func (o *optionFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.orderID, "order-id", "", "Merchant order id")
	cmd.Flags().StringVar(&o.currency, "currency", "", "ISO currency code")
	cmd.Flags().StringVar(&o.description, "description", "", "Transaction description")
	cmd.Flags().StringVar(&o.email, "email", "", "Customer email")
	cmd.Flags().StringVar(&o.idempotency, "idempotency-key", "", "Vendor idempotency key")
}

func (o *optionFlags) options() payment.Options {
	return payment.Options{
		OrderID:        o.orderID,
		Currency:       o.currency,
		Description:    o.description,
		Email:          o.email,
		IdempotencyKey: o.idempotency,
	}
}
