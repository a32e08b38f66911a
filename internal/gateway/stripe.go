package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"go.uber.org/zap"

	"github.com/activemerchant/active-merchant-sub021/internal/config"
	"github.com/activemerchant/active-merchant-sub021/internal/payment"
	"github.com/activemerchant/active-merchant-sub021/internal/pkg/httpclient"
	"github.com/activemerchant/active-merchant-sub021/internal/scrub"
)

var (
	stripeCodec      = payment.OpaqueCodec("payment_intent")
	stripeStoreCodec = payment.NewCodec("|", "customer", "payment_method").Required("payment_method")
)

// stripeDeclines maps decline_code values; they win over the error code.
var stripeDeclines = payment.NewClassifier(map[string]payment.ErrorCode{
	"call_issuer":         payment.CallIssuer,
	"expired_card":        payment.ExpiredCard,
	"fraudulent":          payment.CardDeclined,
	"incorrect_cvc":       payment.IncorrectCVC,
	"incorrect_number":    payment.IncorrectNumber,
	"incorrect_pin":       payment.IncorrectPIN,
	"incorrect_zip":       payment.IncorrectZip,
	"insufficient_funds":  payment.CardDeclined,
	"invalid_cvc":         payment.InvalidCVC,
	"invalid_expiry_year": payment.InvalidExpiryDate,
	"invalid_number":      payment.InvalidNumber,
	"lost_card":           payment.PickupCard,
	"pickup_card":         payment.PickupCard,
	"processing_error":    payment.ProcessingError,
	"stolen_card":         payment.PickupCard,
	"test_mode_live_card": payment.TestModeLiveCard,
}, "")

var stripeErrors = payment.NewClassifier(map[string]payment.ErrorCode{
	"card_declined":        payment.CardDeclined,
	"expired_card":         payment.ExpiredCard,
	"incorrect_address":    payment.IncorrectAddress,
	"incorrect_cvc":        payment.IncorrectCVC,
	"incorrect_number":     payment.IncorrectNumber,
	"incorrect_zip":        payment.IncorrectZip,
	"invalid_cvc":          payment.InvalidCVC,
	"invalid_expiry_month": payment.InvalidExpiryDate,
	"invalid_expiry_year":  payment.InvalidExpiryDate,
	"invalid_number":       payment.InvalidNumber,
	"processing_error":     payment.ProcessingError,
	"amount_too_small":     payment.InvalidAmount,
	"amount_too_large":     payment.InvalidAmount,
}, payment.ProcessingError)

// StripeGateway implements payment.Gateway on top of stripe-go with
// PaymentIntents, Refunds, Customers, PaymentMethods and SetupIntents.
type StripeGateway struct {
	base
	api *client.API
}

// NewStripeGateway creates a Stripe adapter. Login (or Secret) is the
// secret API key. The SDK runs on a transcript-capturing HTTP client with
// network retries disabled.
func NewStripeGateway(cfg config.GatewayConfig, deps Deps) *StripeGateway {
	deps = deps.withDefaults()
	b := newBase("stripe", cfg, deps, "USD")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 80 * time.Second
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        httpclient.NewHTTPClient(timeout),
		LeveledLogger:     b.logger.Sugar(),
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(strings.TrimSuffix(cfg.BaseURL, "/"))
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	key := cfg.Login
	if key == "" {
		key = cfg.Secret
	}
	return &StripeGateway{
		base: b,
		api:  client.New(key, &stripe.Backends{API: backend, Connect: backend, Uploads: backend}),
	}
}

func (g *StripeGateway) Capabilities() payment.Capabilities {
	return payment.Capabilities{
		PartialCapture:   true,
		PartialRefund:    true,
		RefundCeiling:    true,
		Verify:           true,
		Store:            true,
		Unstore:          true,
		Update:           true,
		VoidAfterCapture: payment.VoidAfterCaptureRejected,
		IdempotentVoid:   false,
		Methods:          []payment.MethodKind{payment.KindCard, payment.KindToken},
	}
}

func (g *StripeGateway) Purchase(ctx context.Context, amount int64, method payment.Method, opts payment.Options) (*payment.Result, error) {
	return g.intent(ctx, payment.OpPurchase, amount, method, opts, true)
}

func (g *StripeGateway) Authorize(ctx context.Context, amount int64, method payment.Method, opts payment.Options) (*payment.Result, error) {
	return g.intent(ctx, payment.OpAuthorize, amount, method, opts, false)
}

// intent confirms a PaymentIntent. Raw cards are first turned into a
// PaymentMethod, so the outcome may be composed of two calls.
func (g *StripeGateway) intent(ctx context.Context, op payment.Operation, amount int64, method payment.Method, opts payment.Options, capture bool) (*payment.Result, error) {
	if !payment.ValidAmount(amount) {
		return payment.InvalidAmountResult(amount, g.test), nil
	}

	var (
		m        payment.Multi
		pmID     string
		customer = opts.CustomerID
	)
	switch pm := method.(type) {
	case *payment.CreditCard:
		if err := m.Process(func() (*payment.Result, error) {
			r, err := g.createPaymentMethod(ctx, op, pm, opts)
			if r != nil && r.Success() {
				pmID = r.Authorization()
			}
			return r, err
		}); err != nil {
			return nil, err
		}
	case payment.StoredToken:
		stored, err := stripeStoreCodec.Decode(string(pm))
		if err == nil {
			err = stored.Require("payment_method")
		}
		if err != nil {
			return g.invalidAuthorization(err), nil
		}
		customer, pmID = stored.Get("customer"), stored.Get("payment_method")
	default:
		return payment.UnsupportedMethod(g.name, method, g.test), nil
	}

	if err := m.ProcessPrimary(func() (*payment.Result, error) {
		params := &stripe.PaymentIntentParams{
			Amount:             stripe.Int64(amount),
			Currency:           stripe.String(strings.ToLower(g.currencyFor(opts))),
			PaymentMethod:      stripe.String(pmID),
			Confirm:            stripe.Bool(true),
			PaymentMethodTypes: []*string{stripe.String("card")},
			Metadata:           opts.Metadata,
		}
		params.Context = ctx
		params.AddExpand("latest_charge")
		if !capture {
			params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
		}
		if customer != "" {
			params.Customer = stripe.String(customer)
		}
		if opts.Description != "" {
			params.Description = stripe.String(opts.Description)
		}
		if opts.Email != "" {
			params.ReceiptEmail = stripe.String(opts.Email)
		}
		if opts.OrderID != "" {
			params.AddMetadata("order_id", opts.OrderID)
		}
		if opts.IdempotencyKey != "" {
			params.SetIdempotencyKey(opts.IdempotencyKey)
		}
		addStripeStoredCredential(params, opts.StoredCredential)
		addStripeThreeDS(params, opts.ThreeDSecure)

		pi, err := g.api.PaymentIntents.New(params)
		if err != nil {
			return g.failure(op, err)
		}
		return g.intentResult(pi), nil
	}); err != nil {
		return nil, err
	}
	return m.Result(), nil
}

func (g *StripeGateway) Capture(ctx context.Context, amount int64, authorization string, opts payment.Options) (*payment.Result, error) {
	if !payment.ValidAmount(amount) {
		return payment.InvalidAmountResult(amount, g.test), nil
	}
	auth, err := stripeCodec.Decode(authorization)
	if err != nil {
		return g.invalidAuthorization(err), nil
	}
	params := &stripe.PaymentIntentCaptureParams{AmountToCapture: stripe.Int64(amount)}
	params.Context = ctx
	params.AddExpand("latest_charge")

	pi, err := g.api.PaymentIntents.Capture(auth.Get("payment_intent"), params)
	if err != nil {
		return g.failure(payment.OpCapture, err)
	}
	return g.intentResult(pi), nil
}

func (g *StripeGateway) Refund(ctx context.Context, amount int64, authorization string, opts payment.Options) (*payment.Result, error) {
	if !payment.ValidAmount(amount) {
		return payment.InvalidAmountResult(amount, g.test), nil
	}
	auth, err := stripeCodec.Decode(authorization)
	if err != nil {
		return g.invalidAuthorization(err), nil
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(auth.Get("payment_intent")),
		Amount:        stripe.Int64(amount),
	}
	params.Context = ctx
	if reason := opts.ExtraValue("refund_reason"); reason != "" {
		params.Reason = stripe.String(reason)
	}

	refund, err := g.api.Refunds.New(params)
	if err != nil {
		return g.failure(payment.OpRefund, err)
	}
	success := refund.Status == stripe.RefundStatusSucceeded || refund.Status == stripe.RefundStatusPending
	ro := payment.ResultOptions{Test: g.test}
	if success {
		ro.Authorization = refund.ID
	} else {
		ro.ErrorCode = payment.ProcessingError
	}
	return payment.NewResult(success, string(refund.Status), rawParams(refund.LastResponse), ro), nil
}

// Void cancels an uncaptured PaymentIntent.
func (g *StripeGateway) Void(ctx context.Context, authorization string, opts payment.Options) (*payment.Result, error) {
	auth, err := stripeCodec.Decode(authorization)
	if err != nil {
		return g.invalidAuthorization(err), nil
	}
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if reason := opts.ExtraValue("cancellation_reason"); reason != "" {
		params.CancellationReason = stripe.String(reason)
	}

	pi, err := g.api.PaymentIntents.Cancel(auth.Get("payment_intent"), params)
	if err != nil {
		return g.failure(payment.OpVoid, err)
	}
	return g.intentResult(pi), nil
}

func (g *StripeGateway) Credit(context.Context, int64, payment.Method, payment.Options) (*payment.Result, error) {
	return nil, payment.NotSupported(g.name, payment.OpCredit)
}

// Verify confirms a SetupIntent, which checks the card without moving funds.
func (g *StripeGateway) Verify(ctx context.Context, method payment.Method, opts payment.Options) (*payment.Result, error) {
	card, ok := method.(*payment.CreditCard)
	if !ok {
		return payment.UnsupportedMethod(g.name, method, g.test), nil
	}

	var (
		m    payment.Multi
		pmID string
	)
	if err := m.Process(func() (*payment.Result, error) {
		r, err := g.createPaymentMethod(ctx, payment.OpVerify, card, opts)
		if r != nil && r.Success() {
			pmID = r.Authorization()
		}
		return r, err
	}); err != nil {
		return nil, err
	}
	if err := m.ProcessPrimary(func() (*payment.Result, error) {
		params := &stripe.SetupIntentParams{
			PaymentMethod:      stripe.String(pmID),
			Confirm:            stripe.Bool(true),
			PaymentMethodTypes: []*string{stripe.String("card")},
		}
		params.Context = ctx
		if opts.CustomerID != "" {
			params.Customer = stripe.String(opts.CustomerID)
		}
		si, err := g.api.SetupIntents.New(params)
		if err != nil {
			return g.failure(payment.OpVerify, err)
		}
		success := si.Status == stripe.SetupIntentStatusSucceeded
		ro := payment.ResultOptions{Test: g.test}
		if success {
			ro.Authorization = si.ID
		} else {
			ro.ErrorCode = payment.ProcessingError
		}
		return payment.NewResult(success, string(si.Status), rawParams(si.LastResponse), ro), nil
	}); err != nil {
		return nil, err
	}
	return m.Result(), nil
}

// Store creates (or reuses) a customer and attaches a new PaymentMethod.
// The token is customer|payment_method.
func (g *StripeGateway) Store(ctx context.Context, method payment.Method, opts payment.Options) (*payment.Result, error) {
	card, ok := method.(*payment.CreditCard)
	if !ok {
		return payment.UnsupportedMethod(g.name, method, g.test), nil
	}

	var (
		m        payment.Multi
		customer = opts.CustomerID
		pmID     string
	)
	if customer == "" {
		if err := m.Process(func() (*payment.Result, error) {
			params := &stripe.CustomerParams{Name: stripe.String(card.Name())}
			params.Context = ctx
			if opts.Email != "" {
				params.Email = stripe.String(opts.Email)
			}
			if opts.Description != "" {
				params.Description = stripe.String(opts.Description)
			}
			c, err := g.api.Customers.New(params)
			if err != nil {
				return g.failure(payment.OpStore, err)
			}
			customer = c.ID
			return payment.NewResult(true, "customer created", rawParams(c.LastResponse), payment.ResultOptions{Authorization: c.ID, Test: g.test}), nil
		}); err != nil {
			return nil, err
		}
	}
	if err := m.Process(func() (*payment.Result, error) {
		r, err := g.createPaymentMethod(ctx, payment.OpStore, card, opts)
		if r != nil && r.Success() {
			pmID = r.Authorization()
		}
		return r, err
	}); err != nil {
		return nil, err
	}
	if err := m.ProcessPrimary(func() (*payment.Result, error) {
		params := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customer)}
		params.Context = ctx
		pm, err := g.api.PaymentMethods.Attach(pmID, params)
		if err != nil {
			return g.failure(payment.OpStore, err)
		}
		raw := rawParams(pm.LastResponse)
		token, err := stripeStoreCodec.Encode(customer, pm.ID)
		if err != nil {
			return g.unencodable(raw, err), nil
		}
		return payment.NewResult(true, "payment method attached", raw, payment.ResultOptions{Authorization: token, Test: g.test}), nil
	}); err != nil {
		return nil, err
	}
	return m.Result(), nil
}

// Unstore detaches the PaymentMethod from its customer.
func (g *StripeGateway) Unstore(ctx context.Context, token string, opts payment.Options) (*payment.Result, error) {
	stored, err := stripeStoreCodec.Decode(token)
	if err == nil {
		err = stored.Require("payment_method")
	}
	if err != nil {
		return g.invalidAuthorization(err), nil
	}
	params := &stripe.PaymentMethodDetachParams{}
	params.Context = ctx
	pm, err := g.api.PaymentMethods.Detach(stored.Get("payment_method"), params)
	if err != nil {
		return g.failure(payment.OpUnstore, err)
	}
	return payment.NewResult(true, "payment method detached", rawParams(pm.LastResponse), payment.ResultOptions{Test: g.test}), nil
}

// Update changes the expiry and cardholder name of a stored card.
func (g *StripeGateway) Update(ctx context.Context, token string, method payment.Method, opts payment.Options) (*payment.Result, error) {
	stored, err := stripeStoreCodec.Decode(token)
	if err == nil {
		err = stored.Require("payment_method")
	}
	if err != nil {
		return g.invalidAuthorization(err), nil
	}
	card, ok := method.(*payment.CreditCard)
	if !ok {
		return payment.UnsupportedMethod(g.name, method, g.test), nil
	}

	params := &stripe.PaymentMethodParams{
		Card: &stripe.PaymentMethodCardParams{
			ExpMonth: stripe.Int64(int64(card.Month)),
			ExpYear:  stripe.Int64(int64(card.Year)),
		},
		BillingDetails: stripeBillingDetails(card, opts),
	}
	params.Context = ctx
	pm, err := g.api.PaymentMethods.Update(stored.Get("payment_method"), params)
	if err != nil {
		return g.failure(payment.OpUpdate, err)
	}
	return payment.NewResult(true, "payment method updated", rawParams(pm.LastResponse), payment.ResultOptions{Authorization: token, Test: g.test}), nil
}

func (g *StripeGateway) Scrub(transcript string) string {
	return scrub.Apply(transcript,
		scrub.AuthorizationHeader(),
		scrub.FormField("card[number]"),
		scrub.FormField("card%5Bnumber%5D"),
		scrub.FormField("card[cvc]"),
		scrub.FormField("card%5Bcvc%5D"),
		scrub.Custom(`(three_d_secure(?:\]|%5D)(?:\[|%5B)cryptogram(?:\]|%5D)=)[^&\s]*`, "${1}"+scrub.Filtered),
		scrub.CardNumbers(),
	)
}

func (g *StripeGateway) createPaymentMethod(ctx context.Context, op payment.Operation, card *payment.CreditCard, opts payment.Options) (*payment.Result, error) {
	params := &stripe.PaymentMethodParams{
		Type: stripe.String(string(stripe.PaymentMethodTypeCard)),
		Card: &stripe.PaymentMethodCardParams{
			Number:   stripe.String(card.Number),
			ExpMonth: stripe.Int64(int64(card.Month)),
			ExpYear:  stripe.Int64(int64(card.Year)),
		},
		BillingDetails: stripeBillingDetails(card, opts),
	}
	if card.VerificationValue != "" {
		params.Card.CVC = stripe.String(card.VerificationValue)
	}
	params.Context = ctx

	pm, err := g.api.PaymentMethods.New(params)
	if err != nil {
		return g.failure(op, err)
	}
	return payment.NewResult(true, "payment method created", rawParams(pm.LastResponse), payment.ResultOptions{Authorization: pm.ID, Test: g.test}), nil
}

func stripeBillingDetails(card *payment.CreditCard, opts payment.Options) *stripe.PaymentMethodBillingDetailsParams {
	details := &stripe.PaymentMethodBillingDetailsParams{Name: stripe.String(card.Name())}
	if opts.Email != "" {
		details.Email = stripe.String(opts.Email)
	}
	if a := opts.BillingAddress; a != nil {
		details.Address = &stripe.AddressParams{
			Line1:      stripe.String(a.Address1),
			Line2:      stripe.String(a.Address2),
			City:       stripe.String(a.City),
			State:      stripe.String(a.State),
			PostalCode: stripe.String(a.Zip),
			Country:    stripe.String(a.Country),
		}
		if a.Phone != "" {
			details.Phone = stripe.String(a.Phone)
		}
	}
	return details
}

func addStripeStoredCredential(params *stripe.PaymentIntentParams, sc *payment.StoredCredential) {
	if sc == nil {
		return
	}
	if sc.Initiator == payment.InitiatorMerchant && !sc.InitialTransaction {
		params.OffSession = stripe.Bool(true)
		if sc.NetworkTransactionID != "" {
			params.AddExtra("payment_method_options[card][mit_exemption][network_transaction_id]", sc.NetworkTransactionID)
		}
		return
	}
	if sc.InitialTransaction {
		params.SetupFutureUsage = stripe.String(string(stripe.PaymentIntentSetupFutureUsageOffSession))
	}
}

func addStripeThreeDS(params *stripe.PaymentIntentParams, tds *payment.ThreeDSecure) {
	if tds == nil {
		return
	}
	prefix := "payment_method_options[card][three_d_secure]"
	params.AddExtra(prefix+"[cryptogram]", tds.CAVV)
	params.AddExtra(prefix+"[electronic_commerce_indicator]", tds.ECI)
	params.AddExtra(prefix+"[version]", tds.Version)
	if tds.DSTransactionID != "" {
		params.AddExtra(prefix+"[transaction_id]", tds.DSTransactionID)
	}
}

// intentResult maps a PaymentIntent. Asynchronous processing counts as
// accepted.
func (g *StripeGateway) intentResult(pi *stripe.PaymentIntent) *payment.Result {
	raw := rawParams(pi.LastResponse)
	var success bool
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded,
		stripe.PaymentIntentStatusRequiresCapture,
		stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusCanceled:
		success = true
	}

	opts := payment.ResultOptions{Test: g.test}
	message := string(pi.Status)
	if success {
		opts.Authorization = pi.ID
	} else {
		opts.ErrorCode = payment.ProcessingError
		if e := pi.LastPaymentError; e != nil {
			opts.ErrorCode = stripeErrorCode(e)
			message = e.Msg
		}
	}

	if charge, ok := raw["latest_charge"].(map[string]interface{}); ok {
		if outcome, ok := charge["outcome"].(map[string]interface{}); ok {
			opts.FraudReview = payment.GetString(outcome, "type") == "manual_review"
		}
		if details, ok := charge["payment_method_details"].(map[string]interface{}); ok {
			if card, ok := details["card"].(map[string]interface{}); ok {
				opts.NetworkTransactionID = payment.GetString(card, "network_transaction_id")
				if checks, ok := card["checks"].(map[string]interface{}); ok {
					opts.AVS = stripeAVS(payment.GetString(checks, "address_line1_check"), payment.GetString(checks, "address_postal_code_check"))
					if cvc := payment.GetString(checks, "cvc_check"); cvc != "" {
						opts.CVV = payment.NewCVVResult(stripeCVC(cvc))
					}
				}
			}
		}
	}
	return payment.NewResult(success, message, raw, opts)
}

func stripeCheck(check string) string {
	switch check {
	case "pass":
		return "Y"
	case "fail":
		return "N"
	}
	return ""
}

func stripeAVS(line1, postal string) *payment.AVSResult {
	street, zip := stripeCheck(line1), stripeCheck(postal)
	var code string
	switch {
	case street == "Y" && zip == "Y":
		code = "Y"
	case street == "Y" && zip == "N":
		code = "A"
	case street == "N" && zip == "Y":
		code = "Z"
	case street == "N" && zip == "N":
		code = "N"
	default:
		return nil
	}
	return payment.NewAVSResult(code, street, zip)
}

func stripeCVC(check string) string {
	switch check {
	case "pass":
		return "M"
	case "fail":
		return "N"
	case "unavailable":
		return "U"
	}
	return "P"
}

func stripeErrorCode(e *stripe.Error) payment.ErrorCode {
	if e.DeclineCode != "" && stripeDeclines.Known(string(e.DeclineCode)) {
		return stripeDeclines.Classify(string(e.DeclineCode))
	}
	return stripeErrors.Classify(string(e.Code))
}

// failure turns an SDK error into a failed Result or a transport error.
func (g *StripeGateway) failure(op payment.Operation, err error) (*payment.Result, error) {
	var se *stripe.Error
	if !errors.As(err, &se) || se.HTTPStatusCode >= http.StatusInternalServerError || se.HTTPStatusCode == 0 {
		status := 0
		if se != nil {
			status = se.HTTPStatusCode
		}
		g.logger.Warn("gateway transport failure", zap.String("operation", string(op)), zap.Error(err))
		return nil, &payment.TransportError{Gateway: g.name, Op: string(op), StatusCode: status, Err: err}
	}

	params := map[string]interface{}{
		"type":         string(se.Type),
		"code":         string(se.Code),
		"decline_code": string(se.DeclineCode),
		"message":      se.Msg,
		"request_id":   se.RequestID,
		"status":       se.HTTPStatusCode,
	}
	if se.Param != "" {
		params["param"] = se.Param
	}

	code := stripeErrorCode(se)
	switch se.HTTPStatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		code = payment.ConfigError
	}
	g.logger.Debug("stripe declined",
		zap.String("operation", string(op)),
		zap.String("code", string(se.Code)),
		zap.String("decline_code", string(se.DeclineCode)),
	)
	return payment.NewResult(false, se.Msg, params, payment.ResultOptions{ErrorCode: code, Test: g.test}), nil
}

// rawParams exposes the JSON body behind an SDK resource.
func rawParams(resp *stripe.APIResponse) map[string]interface{} {
	out := map[string]interface{}{}
	if resp == nil || len(resp.RawJSON) == 0 {
		return out
	}
	_ = json.Unmarshal(resp.RawJSON, &out)
	return out
}
