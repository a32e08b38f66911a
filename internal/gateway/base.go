package gateway

import (
	"time"

	"go.uber.org/zap"

	"github.com/activemerchant/active-merchant-sub021/internal/config"
	"github.com/activemerchant/active-merchant-sub021/internal/payment"
	"github.com/activemerchant/active-merchant-sub021/internal/pkg/httpclient"
	"github.com/activemerchant/active-merchant-sub021/internal/pkg/utils"
	"github.com/activemerchant/active-merchant-sub021/internal/tokencache"
)

// Deps are the collaborators shared by every adapter.
type Deps struct {
	Logger *zap.Logger
	Tokens *tokencache.Cache
	Now    func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Tokens == nil {
		d.Tokens = tokencache.New(tokencache.NewMemoryStore(), tokencache.WithClock(d.Now), tokencache.WithLogger(d.Logger))
	}
	return d
}

// base carries what every HTTP adapter needs. It holds no per-call state.
type base struct {
	name     string
	test     bool
	currency string
	logger   *zap.Logger
	client   *httpclient.Client
	now      func() time.Time
}

func newBase(name string, cfg config.GatewayConfig, deps Deps, defaultCurrency string) base {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return base{
		name:     name,
		test:     cfg.Test,
		currency: utils.FirstNonEmpty(cfg.Currency, defaultCurrency),
		logger:   deps.Logger.With(zap.String("gateway", name)),
		client:   httpclient.New().WithTimeout(timeout),
		now:      deps.Now,
	}
}

func (b *base) Name() string {
	return b.name
}

// endpoint picks the sandbox or live URL unless an override is configured.
func endpoint(cfg config.GatewayConfig, live, sandbox string) string {
	if cfg.BaseURL != "" {
		return cfg.BaseURL
	}
	if cfg.Test {
		return sandbox
	}
	return live
}

func (b *base) transportError(op payment.Operation, err error) error {
	b.logger.Warn("gateway transport failure", zap.String("operation", string(op)), zap.Error(err))
	return &payment.TransportError{Gateway: b.name, Op: string(op), Err: err}
}

func (b *base) statusError(op payment.Operation, resp *httpclient.Response, err error) error {
	b.logger.Warn("gateway returned unusable response",
		zap.String("operation", string(op)),
		zap.Int("status", resp.StatusCode),
		zap.Error(err),
	)
	return &payment.TransportError{Gateway: b.name, Op: string(op), StatusCode: resp.StatusCode, Err: err}
}

func (b *base) currencyFor(opts payment.Options) string {
	return opts.CurrencyOr(b.currency)
}

func (b *base) orderID(opts payment.Options) string {
	return utils.FirstNonEmpty(opts.OrderID, utils.GenerateOrderID())
}

func (b *base) invalidAuthorization(err error) *payment.Result {
	return payment.Failure(payment.ProcessingError, "Invalid authorization: "+err.Error(), b.test)
}

// unencodable reports a vendor answer whose identifiers cannot be packed
// into an authorization. The vendor params are kept so the transaction can
// still be found.
func (b *base) unencodable(params map[string]interface{}, err error) *payment.Result {
	b.logger.Warn("authorization cannot be encoded", zap.Error(err))
	return payment.NewResult(false, "Unusable authorization: "+err.Error(), params, payment.ResultOptions{
		ErrorCode: payment.ProcessingError,
		Test:      b.test,
	})
}
