package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/activemerchant/active-merchant-sub021/internal/config"
	"github.com/activemerchant/active-merchant-sub021/internal/metrics"
	"github.com/activemerchant/active-merchant-sub021/internal/payment"
	"github.com/activemerchant/active-merchant-sub021/internal/pkg/utils"
	"github.com/activemerchant/active-merchant-sub021/internal/scrub"
	"github.com/activemerchant/active-merchant-sub021/internal/tokencache"
)

const (
	paypalLiveURL    = "https://api-m.paypal.com"
	paypalSandboxURL = "https://api-m.sandbox.paypal.com"
)

// Kinds of PayPal objects a token can reference.
const (
	ppAuthorization = "authorization"
	ppCapture       = "capture"
	ppRefund        = "refund"
)

// parent is the object a capture or refund was made from.
var paypalCodec = payment.NewCodec("|", "type", "id", "order", "parent").Required("type", "id")

var paypalIssues = payment.NewClassifier(map[string]payment.ErrorCode{
	"INSTRUMENT_DECLINED":            payment.CardDeclined,
	"TRANSACTION_REFUSED":            payment.CardDeclined,
	"CARD_EXPIRED":                   payment.ExpiredCard,
	"CARD_CLOSED":                    payment.CardDeclined,
	"CARD_TYPE_NOT_SUPPORTED":        payment.InvalidNumber,
	"INVALID_STRING_LENGTH":          payment.ProcessingError,
	"INVALID_SECURITY_CODE_LENGTH":   payment.InvalidCVC,
	"INVALID_EXPIRY_DATE":            payment.InvalidExpiryDate,
	"CARD_NUMBER_INVALID":            payment.InvalidNumber,
	"AUTHORIZATION_ALREADY_CAPTURED": payment.ProcessingError,
	"AUTHORIZATION_VOIDED":           payment.ProcessingError,
	"REFUND_AMOUNT_EXCEEDED":         payment.ProcessingError,
	"PERMISSION_DENIED":              payment.ConfigError,
}, payment.ProcessingError)

var paypalProcessor = payment.NewClassifier(map[string]payment.ErrorCode{
	"0500": payment.CardDeclined,
	"0580": payment.CardDeclined,
	"1330": payment.InvalidNumber,
	"5100": payment.CardDeclined,
	"5110": payment.IncorrectCVC,
	"5120": payment.CardDeclined,
	"5400": payment.ExpiredCard,
	"5800": payment.CardDeclined,
	"9500": payment.CardDeclined,
	"00N7": payment.IncorrectCVC,
	"PPMD": payment.PickupCard,
}, payment.CardDeclined)

// PayPalGateway implements payment.Gateway for the PayPal REST API
// (Orders v2, Payments v2 and Vault v3) with OAuth client credentials.
type PayPalGateway struct {
	base
	url      string
	clientID string
	secret   string
	tokens   *tokencache.Cache
}

// NewPayPalGateway creates a PayPal adapter. Login is the client id and
// Secret the client secret. Bearer tokens are shared through deps.Tokens.
func NewPayPalGateway(cfg config.GatewayConfig, deps Deps) *PayPalGateway {
	deps = deps.withDefaults()
	return &PayPalGateway{
		base:     newBase("paypal", cfg, deps, "USD"),
		url:      strings.TrimSuffix(endpoint(cfg, paypalLiveURL, paypalSandboxURL), "/"),
		clientID: cfg.Login,
		secret:   utils.FirstNonEmpty(cfg.Secret, cfg.Password),
		tokens:   deps.Tokens,
	}
}

func (g *PayPalGateway) Capabilities() payment.Capabilities {
	return payment.Capabilities{
		PartialCapture:   true,
		MultipleCapture:  true,
		PartialRefund:    true,
		RefundCeiling:    true,
		Verify:           true,
		Store:            true,
		Unstore:          true,
		VoidAfterCapture: payment.VoidAfterCaptureRejected,
		Methods:          []payment.MethodKind{payment.KindCard, payment.KindToken, payment.KindNetworkToken},
	}
}

type paypalMoney struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalAddress struct {
	AddressLine1 string `json:"address_line_1,omitempty"`
	AddressLine2 string `json:"address_line_2,omitempty"`
	AdminArea2   string `json:"admin_area_2,omitempty"`
	AdminArea1   string `json:"admin_area_1,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	CountryCode  string `json:"country_code"`
}

type paypalStoredCredential struct {
	PaymentInitiator string            `json:"payment_initiator"`
	PaymentType      string            `json:"payment_type"`
	Usage            string            `json:"usage,omitempty"`
	PreviousNetwork  *paypalNetworkRef `json:"previous_network_transaction_reference,omitempty"`
}

type paypalNetworkRef struct {
	ID      string `json:"id"`
	Network string `json:"network,omitempty"`
}

type paypalNetworkToken struct {
	Number     string `json:"number"`
	Expiry     string `json:"expiry"`
	Cryptogram string `json:"cryptogram,omitempty"`
	ECIFlag    string `json:"eci_flag,omitempty"`
}

type paypalCard struct {
	Name             string                  `json:"name,omitempty"`
	Number           string                  `json:"number,omitempty"`
	Expiry           string                  `json:"expiry,omitempty"`
	SecurityCode     string                  `json:"security_code,omitempty"`
	VaultID          string                  `json:"vault_id,omitempty"`
	NetworkToken     *paypalNetworkToken     `json:"network_token,omitempty"`
	BillingAddress   *paypalAddress          `json:"billing_address,omitempty"`
	StoredCredential *paypalStoredCredential `json:"stored_credential,omitempty"`
}

type paypalPaymentSource struct {
	Card *paypalCard `json:"card"`
}

type paypalPurchaseUnit struct {
	ReferenceID string      `json:"reference_id,omitempty"`
	InvoiceID   string      `json:"invoice_id,omitempty"`
	CustomID    string      `json:"custom_id,omitempty"`
	Description string      `json:"description,omitempty"`
	Amount      paypalMoney `json:"amount"`
}

type paypalOrderRequest struct {
	Intent        string               `json:"intent"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
	PaymentSource paypalPaymentSource  `json:"payment_source"`
}

type paypalVaultRequest struct {
	PaymentSource paypalPaymentSource `json:"payment_source"`
	Customer      *paypalCustomer     `json:"customer,omitempty"`
}

type paypalCustomer struct {
	ID string `json:"id"`
}

// paypalPayment is an authorization, capture or refund object.
type paypalPayment struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	StatusDetails struct {
		Reason string `json:"reason"`
	} `json:"status_details"`
	ProcessorResponse struct {
		AVSCode      string `json:"avs_code"`
		CVVCode      string `json:"cvv_code"`
		ResponseCode string `json:"response_code"`
	} `json:"processor_response"`
	NetworkTransactionReference struct {
		ID string `json:"id"`
	} `json:"network_transaction_reference"`
}

type paypalOrderResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Payments struct {
			Authorizations []paypalPayment `json:"authorizations"`
			Captures       []paypalPayment `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type paypalErrorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	DebugID string `json:"debug_id"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type paypalTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// paypalAuthError is a token request the vendor rejected.
type paypalAuthError struct {
	status  int
	message string
}

func (e *paypalAuthError) Error() string {
	return fmt.Sprintf("paypal oauth rejected (%d): %s", e.status, e.message)
}

func (g *PayPalGateway) Purchase(ctx context.Context, amount int64, method payment.Method, opts payment.Options) (*payment.Result, error) {
	return g.order(ctx, payment.OpPurchase, "CAPTURE", amount, method, opts)
}

func (g *PayPalGateway) Authorize(ctx context.Context, amount int64, method payment.Method, opts payment.Options) (*payment.Result, error) {
	return g.order(ctx, payment.OpAuthorize, "AUTHORIZE", amount, method, opts)
}

func (g *PayPalGateway) order(ctx context.Context, op payment.Operation, intent string, amount int64, method payment.Method, opts payment.Options) (*payment.Result, error) {
	if !payment.ValidAmount(amount) {
		return payment.InvalidAmountResult(amount, g.test), nil
	}
	card, ok := paypalCardFor(method, opts)
	if !ok {
		return payment.UnsupportedMethod(g.name, method, g.test), nil
	}

	orderID := g.orderID(opts)
	req := paypalOrderRequest{
		Intent: intent,
		PurchaseUnits: []paypalPurchaseUnit{{
			ReferenceID: "default",
			InvoiceID:   orderID,
			CustomID:    opts.CustomerID,
			Description: utils.Truncate(opts.Description, 127),
			Amount:      g.money(amount, opts),
		}},
		PaymentSource: paypalPaymentSource{Card: card},
	}

	raw, resp, result, err := g.send(ctx, op, http.MethodPost, "/v2/checkout/orders", req, opts)
	if result != nil || err != nil {
		return result, err
	}

	var order paypalOrderResponse
	if err := json.Unmarshal(resp, &order); err != nil {
		return nil, &payment.TransportError{Gateway: g.name, Op: string(op), Err: fmt.Errorf("paypal parse error: %w", err)}
	}

	kind := ppCapture
	var p *paypalPayment
	if len(order.PurchaseUnits) > 0 {
		payments := order.PurchaseUnits[0].Payments
		switch {
		case intent == "AUTHORIZE" && len(payments.Authorizations) > 0:
			kind, p = ppAuthorization, &payments.Authorizations[0]
		case len(payments.Captures) > 0:
			p = &payments.Captures[0]
		}
	}
	if p == nil {
		// the order was created without a payment attempt
		return payment.NewResult(false, "Order "+order.Status, raw, payment.ResultOptions{
			ErrorCode: payment.ProcessingError,
			Test:      g.test,
		}), nil
	}
	return g.paymentResult(raw, kind, order.ID, "", p), nil
}

func (g *PayPalGateway) Capture(ctx context.Context, amount int64, authorization string, opts payment.Options) (*payment.Result, error) {
	if !payment.ValidAmount(amount) {
		return payment.InvalidAmountResult(amount, g.test), nil
	}
	auth, err := paypalCodec.Decode(authorization)
	if err != nil {
		return g.invalidAuthorization(err), nil
	}
	body := map[string]interface{}{"amount": g.money(amount, opts)}
	if opts.OrderID != "" {
		body["invoice_id"] = opts.OrderID
	}
	id := paypalReference(auth, ppAuthorization)
	return g.follow(ctx, payment.OpCapture, "/v2/payments/authorizations/"+id+"/capture", body, ppCapture, id, auth, opts)
}

func (g *PayPalGateway) Refund(ctx context.Context, amount int64, authorization string, opts payment.Options) (*payment.Result, error) {
	if !payment.ValidAmount(amount) {
		return payment.InvalidAmountResult(amount, g.test), nil
	}
	auth, err := paypalCodec.Decode(authorization)
	if err != nil {
		return g.invalidAuthorization(err), nil
	}
	body := map[string]interface{}{"amount": g.money(amount, opts)}
	id := paypalReference(auth, ppCapture)
	return g.follow(ctx, payment.OpRefund, "/v2/payments/captures/"+id+"/refund", body, ppRefund, id, auth, opts)
}

// Void releases an authorization. A capture token voids the authorization
// it came from, so PayPal reports whether that is still possible.
func (g *PayPalGateway) Void(ctx context.Context, authorization string, opts payment.Options) (*payment.Result, error) {
	auth, err := paypalCodec.Decode(authorization)
	if err != nil {
		return g.invalidAuthorization(err), nil
	}
	id := paypalReference(auth, ppAuthorization)
	raw, resp, result, err := g.send(ctx, payment.OpVoid, http.MethodPost, "/v2/payments/authorizations/"+id+"/void", nil, opts)
	if result != nil || err != nil {
		return result, err
	}
	if len(resp) == 0 {
		// 204 No Content
		return payment.NewResult(true, "VOIDED", raw, payment.ResultOptions{Authorization: authorization, Test: g.test}), nil
	}
	var p paypalPayment
	if err := json.Unmarshal(resp, &p); err != nil {
		return nil, &payment.TransportError{Gateway: g.name, Op: string(payment.OpVoid), Err: fmt.Errorf("paypal parse error: %w", err)}
	}
	return g.paymentResult(raw, ppAuthorization, auth.Get("order"), "", &p), nil
}

func (g *PayPalGateway) Verify(ctx context.Context, method payment.Method, opts payment.Options) (*payment.Result, error) {
	return payment.VerifyByAuthVoid(ctx, g, method, opts)
}

func (g *PayPalGateway) Credit(context.Context, int64, payment.Method, payment.Options) (*payment.Result, error) {
	return nil, payment.NotSupported(g.name, payment.OpCredit)
}

// Store saves the card in the vault; the payment token id is the token.
func (g *PayPalGateway) Store(ctx context.Context, method payment.Method, opts payment.Options) (*payment.Result, error) {
	cc, ok := method.(*payment.CreditCard)
	if !ok {
		return payment.UnsupportedMethod(g.name, method, g.test), nil
	}
	card, _ := paypalCardFor(cc, opts)
	req := paypalVaultRequest{PaymentSource: paypalPaymentSource{Card: card}}
	if opts.CustomerID != "" {
		req.Customer = &paypalCustomer{ID: opts.CustomerID}
	}

	raw, resp, result, err := g.send(ctx, payment.OpStore, http.MethodPost, "/v3/vault/payment-tokens", req, opts)
	if result != nil || err != nil {
		return result, err
	}
	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, &payment.TransportError{Gateway: g.name, Op: string(payment.OpStore), Err: fmt.Errorf("paypal parse error: %w", err)}
	}
	success := out.ID != ""
	ro := payment.ResultOptions{Authorization: out.ID, Test: g.test}
	if !success {
		ro.ErrorCode = payment.ProcessingError
	}
	return payment.NewResult(success, utils.FirstNonEmpty(out.Status, "CREATED"), raw, ro), nil
}

func (g *PayPalGateway) Unstore(ctx context.Context, token string, opts payment.Options) (*payment.Result, error) {
	if strings.TrimSpace(token) == "" {
		return g.invalidAuthorization(&payment.AuthorizationError{Token: token, Reason: payment.ErrEmptyAuthorization}), nil
	}
	raw, _, result, err := g.send(ctx, payment.OpUnstore, http.MethodDelete, "/v3/vault/payment-tokens/"+token, nil, opts)
	if result != nil || err != nil {
		return result, err
	}
	return payment.NewResult(true, "DELETED", raw, payment.ResultOptions{Test: g.test}), nil
}

func (g *PayPalGateway) Update(context.Context, string, payment.Method, payment.Options) (*payment.Result, error) {
	return nil, payment.NotSupported(g.name, payment.OpUpdate)
}

func (g *PayPalGateway) Scrub(transcript string) string {
	return scrub.Apply(transcript,
		scrub.AuthorizationHeader(),
		scrub.JSONField("number"),
		scrub.JSONField("security_code"),
		scrub.JSONField("cryptogram"),
		scrub.JSONField("access_token"),
	)
}

// paypalReference returns the id of the kind object behind a token: the
// token itself, or the object it was made from. Mismatches go to PayPal
// unchanged and come back as its own rejection.
func paypalReference(auth payment.Authorization, kind string) string {
	if auth.Get("type") == kind {
		return auth.Get("id")
	}
	return utils.FirstNonEmpty(auth.Get("parent"), auth.Get("id"))
}

func (g *PayPalGateway) follow(ctx context.Context, op payment.Operation, path string, body interface{}, kind, parent string, auth payment.Authorization, opts payment.Options) (*payment.Result, error) {
	raw, resp, result, err := g.send(ctx, op, http.MethodPost, path, body, opts)
	if result != nil || err != nil {
		return result, err
	}
	var p paypalPayment
	if err := json.Unmarshal(resp, &p); err != nil {
		return nil, &payment.TransportError{Gateway: g.name, Op: string(op), Err: fmt.Errorf("paypal parse error: %w", err)}
	}
	return g.paymentResult(raw, kind, auth.Get("order"), parent, &p), nil
}

func (g *PayPalGateway) money(amount int64, opts payment.Options) paypalMoney {
	currency := g.currencyFor(opts)
	return paypalMoney{CurrencyCode: currency, Value: payment.FormatAmount(amount, currency)}
}

func paypalCardFor(method payment.Method, opts payment.Options) (*paypalCard, bool) {
	var card *paypalCard
	switch m := method.(type) {
	case *payment.CreditCard:
		card = &paypalCard{
			Name:         m.Name(),
			Number:       m.Number,
			Expiry:       m.ExpYear() + "-" + m.ExpMonth(),
			SecurityCode: m.VerificationValue,
		}
	case *payment.NetworkTokenCard:
		card = &paypalCard{
			Name: m.Name(),
			NetworkToken: &paypalNetworkToken{
				Number:     m.Number,
				Expiry:     m.ExpYear() + "-" + m.ExpMonth(),
				Cryptogram: m.Cryptogram,
				ECIFlag:    paypalECI(m.ECI),
			},
		}
	case payment.StoredToken:
		card = &paypalCard{VaultID: string(m)}
	default:
		return nil, false
	}
	if a := opts.BillingAddress; a != nil && a.Country != "" {
		card.BillingAddress = &paypalAddress{
			AddressLine1: a.Address1,
			AddressLine2: a.Address2,
			AdminArea2:   a.City,
			AdminArea1:   a.State,
			PostalCode:   a.Zip,
			CountryCode:  strings.ToUpper(a.Country),
		}
	}
	card.StoredCredential = paypalStoredCredentialFor(opts.StoredCredential)
	return card, true
}

func paypalECI(eci string) string {
	switch eci {
	case "05", "02":
		return "FULLY_AUTHENTICATED_TRANSACTION"
	case "06", "01":
		return "ATTEMPTED_AUTHENTICATION_TRANSACTION"
	case "07", "00":
		return "NON_3D_SECURE_TRANSACTION"
	}
	return ""
}

func paypalStoredCredentialFor(sc *payment.StoredCredential) *paypalStoredCredential {
	if sc == nil {
		return nil
	}
	out := &paypalStoredCredential{PaymentInitiator: "CUSTOMER", PaymentType: "UNSCHEDULED", Usage: "SUBSEQUENT"}
	if sc.Initiator == payment.InitiatorMerchant {
		out.PaymentInitiator = "MERCHANT"
	}
	switch sc.ReasonType {
	case payment.ReasonRecurring, payment.ReasonInstallment:
		out.PaymentType = "RECURRING"
	}
	if sc.InitialTransaction {
		out.Usage = "FIRST"
	}
	if sc.NetworkTransactionID != "" {
		out.PreviousNetwork = &paypalNetworkRef{ID: sc.NetworkTransactionID}
	}
	return out
}

// paymentResult maps an authorization, capture or refund object.
func (g *PayPalGateway) paymentResult(raw map[string]interface{}, kind, order, parent string, p *paypalPayment) *payment.Result {
	opts := payment.ResultOptions{
		Test:                 g.test,
		NetworkTransactionID: p.NetworkTransactionReference.ID,
	}
	if code := p.ProcessorResponse.AVSCode; code != "" {
		opts.AVS = payment.NewAVSResult(code, "", "")
	}
	if code := p.ProcessorResponse.CVVCode; code != "" {
		opts.CVV = payment.NewCVVResult(code)
	}

	var success bool
	switch p.Status {
	case "COMPLETED", "CREATED", "CAPTURED", "PARTIALLY_CAPTURED", "VOIDED":
		success = true
	case "PENDING":
		success = p.StatusDetails.Reason != "PENDING_REVIEW"
		opts.FraudReview = !success
	}

	if success {
		token, err := paypalCodec.Encode(kind, p.ID, order, parent)
		if err != nil {
			return g.unencodable(raw, err)
		}
		opts.Authorization = token
	} else if opts.FraudReview {
		opts.ErrorCode = payment.ProcessingError
	} else {
		opts.ErrorCode = paypalProcessor.Classify(p.ProcessorResponse.ResponseCode)
	}

	message := p.Status
	if p.StatusDetails.Reason != "" {
		message += ": " + p.StatusDetails.Reason
	}
	return payment.NewResult(success, message, raw, opts)
}

func (g *PayPalGateway) tokenKey() string {
	return "paypal:" + g.clientID
}

func (g *PayPalGateway) accessToken(ctx context.Context) (tokencache.Token, error) {
	return g.tokens.Token(ctx, g.tokenKey(), g.fetchToken)
}

func (g *PayPalGateway) fetchToken(ctx context.Context) (tokencache.Token, error) {
	req := g.client.Request(ctx).
		SetBasicAuth(g.clientID, g.secret).
		SetFormData(map[string]string{"grant_type": "client_credentials"})
	resp, err := g.client.Send(req, http.MethodPost, g.url+"/v1/oauth2/token")
	if err != nil {
		metrics.TokenFetchesTotal.WithLabelValues(g.name, "error").Inc()
		return tokencache.Token{}, g.transportError(payment.Operation("oauth"), err)
	}
	if resp.ServerError() {
		metrics.TokenFetchesTotal.WithLabelValues(g.name, "error").Inc()
		return tokencache.Token{}, g.statusError(payment.Operation("oauth"), resp, fmt.Errorf("paypal oauth server error"))
	}

	var out paypalTokenResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil || !resp.OK() || out.AccessToken == "" {
		metrics.TokenFetchesTotal.WithLabelValues(g.name, "rejected").Inc()
		var e paypalErrorResponse
		_ = json.Unmarshal(resp.Body, &e)
		return tokencache.Token{}, &paypalAuthError{status: resp.StatusCode, message: utils.FirstNonEmpty(e.ErrorDescription, e.Error, http.StatusText(resp.StatusCode))}
	}

	metrics.TokenFetchesTotal.WithLabelValues(g.name, "ok").Inc()
	return tokencache.Token{
		AccessToken: out.AccessToken,
		TokenType:   out.TokenType,
		ExpiresAt:   g.now().Add(time.Duration(out.ExpiresIn) * time.Second),
	}, nil
}

// send performs an authenticated call. It returns the decoded body on 2xx,
// a failed Result for vendor rejections and an error for transport problems.
func (g *PayPalGateway) send(ctx context.Context, op payment.Operation, method, path string, body interface{}, opts payment.Options) (map[string]interface{}, []byte, *payment.Result, error) {
	tok, err := g.accessToken(ctx)
	if err != nil {
		var authErr *paypalAuthError
		if errors.As(err, &authErr) {
			return nil, nil, payment.Failure(payment.ConfigError, authErr.message, g.test), nil
		}
		var te *payment.TransportError
		if errors.As(err, &te) {
			return nil, nil, nil, &payment.TransportError{Gateway: g.name, Op: string(op), StatusCode: te.StatusCode, Err: te.Err}
		}
		return nil, nil, nil, g.transportError(op, err)
	}

	req := g.client.Request(ctx).
		SetAuthToken(tok.AccessToken).
		SetHeader("Content-Type", "application/json").
		SetHeader("Prefer", "return=representation")
	if method == http.MethodPost {
		req.SetHeader("PayPal-Request-Id", utils.FirstNonEmpty(opts.IdempotencyKey, utils.GenerateIdempotencyKey()))
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := g.client.Send(req, method, g.url+path)
	if err != nil {
		return nil, nil, nil, g.transportError(op, err)
	}
	if resp.ServerError() {
		return nil, nil, nil, g.statusError(op, resp, fmt.Errorf("paypal server error"))
	}

	raw := map[string]interface{}{}
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &raw); err != nil {
			return nil, nil, nil, g.statusError(op, resp, fmt.Errorf("paypal parse error: %w", err))
		}
	}
	g.logger.Debug("paypal response",
		zap.String("operation", string(op)),
		zap.Int("status", resp.StatusCode),
		zap.String("debug_id", resp.Header.Get("Paypal-Debug-Id")),
	)

	if resp.StatusCode == http.StatusUnauthorized {
		// the next call fetches a fresh token; this one is not retried
		if err := g.tokens.Invalidate(ctx, g.tokenKey()); err != nil {
			g.logger.Warn("token invalidation failed", zap.Error(err))
		}
		return nil, nil, payment.NewResult(false, "Authentication failed", raw, payment.ResultOptions{ErrorCode: payment.ConfigError, Test: g.test}), nil
	}
	if !resp.OK() {
		return nil, nil, g.errorResult(resp.Body, raw), nil
	}
	return raw, resp.Body, nil, nil
}

func (g *PayPalGateway) errorResult(body []byte, raw map[string]interface{}) *payment.Result {
	var e paypalErrorResponse
	_ = json.Unmarshal(body, &e)

	code := payment.ProcessingError
	message := utils.FirstNonEmpty(e.Message, e.Name, "Request rejected")
	if len(e.Details) > 0 {
		code = paypalIssues.Classify(e.Details[0].Issue)
		message = e.Details[0].Issue
		if e.Details[0].Description != "" {
			message += ": " + e.Details[0].Description
		}
	}
	return payment.NewResult(false, message, raw, payment.ResultOptions{ErrorCode: code, Test: g.test})
}
