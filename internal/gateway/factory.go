package gateway

import (
	"fmt"
	"sort"
	"strings"

	"github.com/activemerchant/active-merchant-sub021/internal/config"
	"github.com/activemerchant/active-merchant-sub021/internal/payment"
)

// Types lists the adapter types New understands.
var Types = []string{"beanstream", "cardconnect", "dlocal", "paypal", "realex", "safecharge", "stripe"}

// New creates a gateway adapter based on the configured type.
func New(cfg config.GatewayConfig, deps Deps) (payment.Gateway, error) {
	switch strings.ToLower(cfg.Type) {
	case "realex", "global_payments":
		return NewRealexGateway(cfg, deps), nil
	case "beanstream", "bambora":
		return NewBeanstreamGateway(cfg, deps), nil
	case "safecharge", "safe_charge", "nuvei":
		return NewSafeChargeGateway(cfg, deps), nil
	case "cardconnect", "card_connect":
		return NewCardConnectGateway(cfg, deps), nil
	case "dlocal", "d_local":
		return NewDLocalGateway(cfg, deps), nil
	case "paypal", "paypal_commerce_platform":
		return NewPayPalGateway(cfg, deps), nil
	case "stripe", "stripe_payment_intents":
		return NewStripeGateway(cfg, deps), nil
	default:
		return nil, fmt.Errorf("unsupported gateway type: %q", cfg.Type)
	}
}

// Set holds the configured gateways by name.
type Set struct {
	gateways map[string]payment.Gateway
}

// NewSet builds every configured gateway. A missing type defaults to the
// entry name. Every gateway shares deps, including the token cache, and is
// wrapped with Instrument.
func NewSet(cfgs map[string]config.GatewayConfig, deps Deps) (*Set, error) {
	deps = deps.withDefaults()
	s := &Set{gateways: make(map[string]payment.Gateway, len(cfgs))}
	for name, cfg := range cfgs {
		if cfg.Type == "" {
			cfg.Type = name
		}
		gw, err := New(cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("gateway %s: %w", name, err)
		}
		s.gateways[name] = Instrument(gw, deps.Logger)
	}
	return s, nil
}

// Get returns the gateway registered under name.
func (s *Set) Get(name string) (payment.Gateway, bool) {
	gw, ok := s.gateways[name]
	return gw, ok
}

// Names returns the registered names in order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.gateways))
	for name := range s.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
