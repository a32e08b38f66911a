package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/activemerchant/active-merchant-sub021/internal/config"
	"github.com/activemerchant/active-merchant-sub021/internal/payment"
	"github.com/activemerchant/active-merchant-sub021/internal/pkg/httpclient"
	"github.com/activemerchant/active-merchant-sub021/internal/pkg/utils"
	"github.com/activemerchant/active-merchant-sub021/internal/scrub"
)

const (
	dlocalLiveURL    = "https://api.dlocal.com"
	dlocalSandboxURL = "https://sandbox.dlocal.com"

	dlocalVersion    = "2.1"
	dlocalDateFormat = "2006-01-02T15:04:05.000Z"
)

var dlocalCodec = payment.OpaqueCodec("id")

// dlocalAccepted are statuses the gateway answers when it has taken the
// request, including asynchronous ones.
var dlocalAccepted = map[string]bool{
	"AUTHORIZED": true,
	"CANCELLED":  true,
	"PAID":       true,
	"PENDING":    true,
	"SUCCESS":    true,
	"VERIFIED":   true,
}

var dlocalErrors = payment.NewClassifier(map[string]payment.ErrorCode{
	"300":  payment.CardDeclined,
	"301":  payment.CardDeclined,
	"302":  payment.CardDeclined,
	"303":  payment.CardDeclined,
	"304":  payment.CardDeclined,
	"305":  payment.CardDeclined,
	"309":  payment.ExpiredCard,
	"310":  payment.ProcessingError,
	"314":  payment.InvalidNumber,
	"315":  payment.InvalidCVC,
	"316":  payment.CardDeclined,
	"319":  payment.CardDeclined,
	"322":  payment.InvalidAmount,
	"3001": payment.ConfigError,
	"3003": payment.ConfigError,
	"5008": payment.InvalidNumber,
	"5014": payment.InvalidExpiryDate,
}, payment.ProcessingError)

// dlocalFraud are status codes returned by the fraud screen.
var dlocalFraud = map[string]bool{"304": true, "320": true}

// DLocalGateway implements payment.Gateway for the dLocal payins API.
type DLocalGateway struct {
	base
	url             string
	login           string
	transKey        string
	secret          string
	country         string
	notificationURL string
}

// NewDLocalGateway creates a dLocal adapter. Login is X-Login, Password
// X-Trans-Key and Secret the signing key. The "country" extra is used when
// a call carries no billing country.
func NewDLocalGateway(cfg config.GatewayConfig, deps Deps) *DLocalGateway {
	deps = deps.withDefaults()
	return &DLocalGateway{
		base:            newBase("dlocal", cfg, deps, "USD"),
		url:             strings.TrimSuffix(endpoint(cfg, dlocalLiveURL, dlocalSandboxURL), "/"),
		login:           cfg.Login,
		transKey:        cfg.Password,
		secret:          cfg.Secret,
		country:         cfg.ExtraValue("country"),
		notificationURL: cfg.ExtraValue("notification_url"),
	}
}

func (g *DLocalGateway) Capabilities() payment.Capabilities {
	return payment.Capabilities{
		PartialCapture:   true,
		PartialRefund:    true,
		RefundCeiling:    true,
		Verify:           true,
		Store:            true,
		Unstore:          true,
		VoidAfterCapture: payment.VoidAfterCaptureRejected,
		Methods:          []payment.MethodKind{payment.KindCard, payment.KindToken, payment.KindNetworkToken},
	}
}

type dlocalCard struct {
	HolderName              string `json:"holder_name,omitempty"`
	ExpirationMonth         int    `json:"expiration_month,omitempty"`
	ExpirationYear          int    `json:"expiration_year,omitempty"`
	Number                  string `json:"number,omitempty"`
	CVV                     string `json:"cvv,omitempty"`
	CardID                  string `json:"card_id,omitempty"`
	NetworkToken            string `json:"network_token,omitempty"`
	Cryptogram              string `json:"cryptogram,omitempty"`
	ECI                     string `json:"eci,omitempty"`
	Capture                 *bool  `json:"capture,omitempty"`
	Verify                  *bool  `json:"verify,omitempty"`
	Installments            string `json:"installments,omitempty"`
	StoredCredentialType    string `json:"stored_credential_type,omitempty"`
	StoredCredentialUsage   string `json:"stored_credential_usage,omitempty"`
	NetworkPaymentReference string `json:"network_payment_reference,omitempty"`
}

type dlocalAddress struct {
	State   string `json:"state,omitempty"`
	City    string `json:"city,omitempty"`
	ZipCode string `json:"zip_code,omitempty"`
	Street  string `json:"street,omitempty"`
	Number  string `json:"number,omitempty"`
}

type dlocalPayer struct {
	Name          string         `json:"name,omitempty"`
	Email         string         `json:"email,omitempty"`
	Document      string         `json:"document,omitempty"`
	Phone         string         `json:"phone,omitempty"`
	UserReference string         `json:"user_reference,omitempty"`
	IP            string         `json:"ip,omitempty"`
	Address       *dlocalAddress `json:"address,omitempty"`
}

type dlocalThreeDS struct {
	MPI             bool   `json:"mpi"`
	ECI             string `json:"eci,omitempty"`
	CAVV            string `json:"cavv,omitempty"`
	XID             string `json:"xid,omitempty"`
	DSTransactionID string `json:"ds_transaction_id,omitempty"`
	Version         string `json:"three_dsecure_version,omitempty"`
}

type dlocalPaymentRequest struct {
	Amount            json.Number    `json:"amount"`
	Currency          string         `json:"currency"`
	Country           string         `json:"country"`
	PaymentMethodID   string         `json:"payment_method_id"`
	PaymentMethodFlow string         `json:"payment_method_flow"`
	Payer             dlocalPayer    `json:"payer"`
	Card              *dlocalCard    `json:"card,omitempty"`
	ThreeDSecure      *dlocalThreeDS `json:"three_dsecure,omitempty"`
	OrderID           string         `json:"order_id"`
	Description       string         `json:"description,omitempty"`
	NotificationURL   string         `json:"notification_url,omitempty"`
}

type dlocalCaptureRequest struct {
	AuthorizationID string      `json:"authorization_id"`
	Amount          json.Number `json:"amount,omitempty"`
	Currency        string      `json:"currency,omitempty"`
	OrderID         string      `json:"order_id,omitempty"`
}

type dlocalRefundRequest struct {
	PaymentID       string      `json:"payment_id"`
	Amount          json.Number `json:"amount,omitempty"`
	Currency        string      `json:"currency,omitempty"`
	NotificationURL string      `json:"notification_url,omitempty"`
}

type dlocalCardRequest struct {
	Country string      `json:"country"`
	Payer   dlocalPayer `json:"payer"`
	Card    *dlocalCard `json:"card"`
}

func (g *DLocalGateway) Purchase(ctx context.Context, amount int64, method payment.Method, opts payment.Options) (*payment.Result, error) {
	return g.pay(ctx, payment.OpPurchase, amount, method, opts, true)
}

func (g *DLocalGateway) Authorize(ctx context.Context, amount int64, method payment.Method, opts payment.Options) (*payment.Result, error) {
	return g.pay(ctx, payment.OpAuthorize, amount, method, opts, false)
}

func (g *DLocalGateway) pay(ctx context.Context, op payment.Operation, amount int64, method payment.Method, opts payment.Options, capture bool) (*payment.Result, error) {
	if !payment.ValidAmount(amount) {
		return payment.InvalidAmountResult(amount, g.test), nil
	}
	req, ok := g.paymentRequest(amount, method, opts)
	if !ok {
		return payment.UnsupportedMethod(g.name, method, g.test), nil
	}
	req.Card.Capture = &capture
	return g.commit(ctx, op, "/secure_payments", req)
}

// Verify validates the card with a zero amount verification payment.
func (g *DLocalGateway) Verify(ctx context.Context, method payment.Method, opts payment.Options) (*payment.Result, error) {
	req, ok := g.paymentRequest(0, method, opts)
	if !ok {
		return payment.UnsupportedMethod(g.name, method, g.test), nil
	}
	verify := true
	req.Card.Verify = &verify
	return g.commit(ctx, payment.OpVerify, "/secure_payments", req)
}

func (g *DLocalGateway) paymentRequest(amount int64, method payment.Method, opts payment.Options) (*dlocalPaymentRequest, bool) {
	card, ok := dlocalCardFor(method)
	if !ok {
		return nil, false
	}
	if opts.Installments > 1 {
		card.Installments = fmt.Sprint(opts.Installments)
	}
	addDLocalStoredCredential(card, opts.StoredCredential)

	currency := g.currencyFor(opts)
	return &dlocalPaymentRequest{
		Amount:            json.Number(payment.FormatAmount(amount, currency)),
		Currency:          currency,
		Country:           g.countryFor(opts),
		PaymentMethodID:   "CARD",
		PaymentMethodFlow: "DIRECT",
		Payer:             dlocalPayerFor(method, opts),
		Card:              card,
		ThreeDSecure:      dlocalThreeDSFor(opts.ThreeDSecure),
		OrderID:           g.orderID(opts),
		Description:       opts.Description,
		NotificationURL:   g.notificationURL,
	}, true
}

func (g *DLocalGateway) Capture(ctx context.Context, amount int64, authorization string, opts payment.Options) (*payment.Result, error) {
	if !payment.ValidAmount(amount) {
		return payment.InvalidAmountResult(amount, g.test), nil
	}
	auth, err := dlocalCodec.Decode(authorization)
	if err != nil {
		return g.invalidAuthorization(err), nil
	}
	currency := g.currencyFor(opts)
	req := dlocalCaptureRequest{
		AuthorizationID: auth.Get("id"),
		Amount:          json.Number(payment.FormatAmount(amount, currency)),
		Currency:        currency,
		OrderID:         opts.OrderID,
	}
	return g.commit(ctx, payment.OpCapture, "/payments", req)
}

func (g *DLocalGateway) Refund(ctx context.Context, amount int64, authorization string, opts payment.Options) (*payment.Result, error) {
	if !payment.ValidAmount(amount) {
		return payment.InvalidAmountResult(amount, g.test), nil
	}
	auth, err := dlocalCodec.Decode(authorization)
	if err != nil {
		return g.invalidAuthorization(err), nil
	}
	currency := g.currencyFor(opts)
	req := dlocalRefundRequest{
		PaymentID:       auth.Get("id"),
		Amount:          json.Number(payment.FormatAmount(amount, currency)),
		Currency:        currency,
		NotificationURL: g.notificationURL,
	}
	return g.commit(ctx, payment.OpRefund, "/refunds", req)
}

// Void cancels an authorization that has not been captured.
func (g *DLocalGateway) Void(ctx context.Context, authorization string, opts payment.Options) (*payment.Result, error) {
	auth, err := dlocalCodec.Decode(authorization)
	if err != nil {
		return g.invalidAuthorization(err), nil
	}
	return g.commit(ctx, payment.OpVoid, "/payments/"+auth.Get("id")+"/cancel", nil)
}

func (g *DLocalGateway) Credit(context.Context, int64, payment.Method, payment.Options) (*payment.Result, error) {
	return nil, payment.NotSupported(g.name, payment.OpCredit)
}

// Store saves the card; the card_id is the token.
func (g *DLocalGateway) Store(ctx context.Context, method payment.Method, opts payment.Options) (*payment.Result, error) {
	card, ok := method.(*payment.CreditCard)
	if !ok {
		return payment.UnsupportedMethod(g.name, method, g.test), nil
	}
	c, _ := dlocalCardFor(card)
	req := dlocalCardRequest{
		Country: g.countryFor(opts),
		Payer:   dlocalPayerFor(card, opts),
		Card:    c,
	}
	return g.commit(ctx, payment.OpStore, "/secure_cards", req)
}

func (g *DLocalGateway) Unstore(ctx context.Context, token string, opts payment.Options) (*payment.Result, error) {
	auth, err := dlocalCodec.Decode(token)
	if err != nil {
		return g.invalidAuthorization(err), nil
	}
	return g.send(ctx, payment.OpUnstore, http.MethodDelete, "/cards/"+auth.Get("id"), nil)
}

func (g *DLocalGateway) Update(context.Context, string, payment.Method, payment.Options) (*payment.Result, error) {
	return nil, payment.NotSupported(g.name, payment.OpUpdate)
}

func (g *DLocalGateway) Scrub(transcript string) string {
	return scrub.Apply(transcript,
		scrub.AuthorizationHeader(),
		scrub.Header("X-Trans-Key"),
		scrub.JSONField("number"),
		scrub.JSONField("cvv"),
		scrub.JSONField("network_token"),
		scrub.JSONField("cryptogram"),
		scrub.JSONField("cavv"),
	)
}

func (g *DLocalGateway) countryFor(opts payment.Options) string {
	if opts.BillingAddress != nil && opts.BillingAddress.Country != "" {
		return strings.ToUpper(opts.BillingAddress.Country)
	}
	return strings.ToUpper(utils.FirstNonEmpty(opts.ExtraValue("country"), g.country))
}

func dlocalCardFor(method payment.Method) (*dlocalCard, bool) {
	switch m := method.(type) {
	case *payment.CreditCard:
		return &dlocalCard{
			HolderName:      m.Name(),
			ExpirationMonth: m.Month,
			ExpirationYear:  m.Year,
			Number:          m.Number,
			CVV:             m.VerificationValue,
		}, true
	case *payment.NetworkTokenCard:
		return &dlocalCard{
			HolderName:      m.Name(),
			ExpirationMonth: m.Month,
			ExpirationYear:  m.Year,
			NetworkToken:    m.Number,
			Cryptogram:      m.Cryptogram,
			ECI:             m.ECI,
		}, true
	case payment.StoredToken:
		return &dlocalCard{CardID: string(m)}, true
	}
	return nil, false
}

func dlocalPayerFor(method payment.Method, opts payment.Options) dlocalPayer {
	p := dlocalPayer{
		Email:         opts.Email,
		Document:      opts.ExtraValue("document"),
		UserReference: opts.CustomerID,
		IP:            opts.IP,
	}
	if card, ok := method.(*payment.CreditCard); ok {
		p.Name = card.Name()
	}
	if a := opts.BillingAddress; a != nil {
		p.Name = utils.FirstNonEmpty(a.Name, p.Name)
		p.Phone = a.Phone
		p.Address = &dlocalAddress{
			State:   a.State,
			City:    a.City,
			ZipCode: a.Zip,
			Street:  a.Address1,
			Number:  a.Address2,
		}
	}
	return p
}

func dlocalThreeDSFor(tds *payment.ThreeDSecure) *dlocalThreeDS {
	if tds == nil {
		return nil
	}
	return &dlocalThreeDS{
		MPI:             true,
		ECI:             tds.ECI,
		CAVV:            tds.CAVV,
		XID:             tds.XID,
		DSTransactionID: tds.DSTransactionID,
		Version:         tds.Version,
	}
}

func addDLocalStoredCredential(card *dlocalCard, sc *payment.StoredCredential) {
	if sc == nil {
		return
	}
	switch sc.ReasonType {
	case payment.ReasonRecurring:
		card.StoredCredentialType = "SUBSCRIPTION"
	case payment.ReasonInstallment:
		card.StoredCredentialType = "INSTALLMENTS"
	default:
		card.StoredCredentialType = "UNSCHEDULED_CARD_ON_FILE"
	}
	if sc.InitialTransaction {
		card.StoredCredentialUsage = "FIRST"
	} else {
		card.StoredCredentialUsage = "USED"
		card.NetworkPaymentReference = sc.NetworkTransactionID
	}
}

// sign returns the V2-HMAC-SHA256 signature over login, date and body.
func (g *DLocalGateway) sign(date string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(g.secret))
	mac.Write([]byte(g.login + date))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *DLocalGateway) commit(ctx context.Context, op payment.Operation, path string, body interface{}) (*payment.Result, error) {
	return g.send(ctx, op, http.MethodPost, path, body)
}

func (g *DLocalGateway) send(ctx context.Context, op payment.Operation, method, path string, body interface{}) (*payment.Result, error) {
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("dlocal: encode %s request: %w", op, err)
		}
	}

	date := g.now().UTC().Format(dlocalDateFormat)
	headers := map[string]string{
		"X-Date":        date,
		"X-Login":       g.login,
		"X-Trans-Key":   g.transKey,
		"X-Version":     dlocalVersion,
		"Authorization": "V2-HMAC-SHA256, Signature: " + g.sign(date, raw),
	}

	var (
		resp *httpclient.Response
		err  error
	)
	switch {
	case method == http.MethodDelete:
		resp, err = g.client.Delete(ctx, g.url+path, headers)
	case raw != nil:
		resp, err = g.client.PostJSON(ctx, g.url+path, raw, headers)
	default:
		resp, err = g.client.PostJSON(ctx, g.url+path, nil, headers)
	}
	if err != nil {
		return nil, g.transportError(op, err)
	}
	if resp.ServerError() {
		return nil, g.statusError(op, resp, fmt.Errorf("dlocal server error"))
	}

	parsed := map[string]interface{}{}
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &parsed); err != nil {
			return nil, g.statusError(op, resp, fmt.Errorf("dlocal parse error: %w", err))
		}
	}

	g.logger.Debug("dlocal response",
		zap.String("operation", string(op)),
		zap.Int("status", resp.StatusCode),
		zap.String("id", payment.GetString(parsed, "id")),
		zap.String("payment_status", payment.GetString(parsed, "status")),
	)

	if !resp.OK() {
		return g.errorResult(resp.StatusCode, parsed), nil
	}
	return g.buildResult(op, parsed), nil
}

// errorResult handles 4xx answers, which carry code and message.
func (g *DLocalGateway) errorResult(status int, raw map[string]interface{}) *payment.Result {
	code := payment.GetString(raw, "code")
	errCode := dlocalErrors.Classify(code)
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		errCode = payment.ConfigError
	}
	message := utils.FirstNonEmpty(payment.GetString(raw, "message"), http.StatusText(status))
	return payment.NewResult(false, message, raw, payment.ResultOptions{ErrorCode: errCode, Test: g.test})
}

func (g *DLocalGateway) buildResult(op payment.Operation, raw map[string]interface{}) *payment.Result {
	status := payment.GetString(raw, "status")
	statusCode := payment.GetString(raw, "status_code")
	id := payment.GetString(raw, "id")
	success := dlocalAccepted[status]
	switch op {
	case payment.OpStore:
		// saved cards answer with the card and no status
		id = payment.GetString(raw, "card_id")
		success = id != ""
	case payment.OpUnstore:
		success = true
	}

	opts := payment.ResultOptions{Test: g.test}
	if success {
		opts.Authorization = id
	} else {
		opts.ErrorCode = dlocalErrors.Classify(statusCode)
		if status == "REJECTED" && !dlocalErrors.Known(statusCode) {
			opts.ErrorCode = payment.CardDeclined
		}
		opts.FraudReview = dlocalFraud[statusCode]
	}
	if card, ok := raw["card"].(map[string]interface{}); ok {
		opts.NetworkTransactionID = payment.GetString(card, "network_tx_reference")
		if cvv := payment.GetString(card, "cvv_result"); cvv != "" {
			opts.CVV = payment.NewCVVResult(cvv)
		}
		if avs := payment.GetString(card, "avs_result"); avs != "" {
			opts.AVS = payment.NewAVSResult(avs, "", "")
		}
	}

	message := utils.FirstNonEmpty(payment.GetString(raw, "status_detail"), status)
	return payment.NewResult(success, message, raw, opts)
}
