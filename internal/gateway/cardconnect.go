package gateway

import (
	"context"
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
	cardconnectLiveURL    = "https://fts.cardconnect.com/cardconnect/rest"
	cardconnectSandboxURL = "https://fts-uat.cardconnect.com/cardconnect/rest"
)

var (
	cardconnectCodec        = payment.OpaqueCodec("retref")
	cardconnectProfileCodec = payment.NewCodec("|", "profileid", "acctid").Required("profileid")
)

var cardconnectErrors = payment.NewClassifier(map[string]payment.ErrorCode{
	"11": payment.CardDeclined,
	"12": payment.IncorrectNumber,
	"13": payment.IncorrectCVC,
	"14": payment.IncorrectCVC,
	"15": payment.InvalidExpiryDate,
	"16": payment.ExpiredCard,
	"17": payment.IncorrectZip,
	"21": payment.ConfigError,
	"22": payment.ConfigError,
	"23": payment.ConfigError,
	"24": payment.ProcessingError,
	"25": payment.ProcessingError,
	"27": payment.ProcessingError,
	"33": payment.CardDeclined,
	"35": payment.IncorrectZip,
	"37": payment.IncorrectCVC,
	"41": payment.CardDeclined,
	"43": payment.PickupCard,
	"61": payment.ProcessingError,
	"62": payment.ProcessingError,
}, payment.CardDeclined)

// CardConnectGateway implements payment.Gateway for the CardPointe REST API.
type CardConnectGateway struct {
	base
	payment.Unsupported
	root       string
	merchantID string
}

// NewCardConnectGateway creates a CardConnect adapter. Login/Password are
// the API credentials and Account the merchant id. A "domain" extra points
// the adapter at a merchant specific CardPointe host.
func NewCardConnectGateway(cfg config.GatewayConfig, deps Deps) *CardConnectGateway {
	deps = deps.withDefaults()
	root := endpoint(cfg, cardconnectLiveURL, cardconnectSandboxURL)
	if domain := cfg.ExtraValue("domain"); domain != "" && cfg.BaseURL == "" {
		root = "https://" + strings.TrimSuffix(domain, "/") + "/cardconnect/rest"
	}

	g := &CardConnectGateway{
		base:        newBase("cardconnect", cfg, deps, "USD"),
		Unsupported: payment.Unsupported{Gateway: "cardconnect"},
		root:        strings.TrimSuffix(root, "/"),
		merchantID:  cfg.Account,
	}
	g.client.WithBasicAuth(cfg.Login, cfg.Password)
	return g
}

func (g *CardConnectGateway) Capabilities() payment.Capabilities {
	return payment.Capabilities{
		PartialCapture:   true,
		PartialRefund:    true,
		RefundCeiling:    true,
		Verify:           true,
		Store:            true,
		Unstore:          true,
		Update:           true,
		VoidAfterCapture: payment.VoidAfterCaptureAccepted,
		IdempotentVoid:   true,
		Methods:          []payment.MethodKind{payment.KindCard, payment.KindBankAccount, payment.KindToken, payment.KindNetworkToken},
	}
}

func (g *CardConnectGateway) Purchase(ctx context.Context, amount int64, method payment.Method, opts payment.Options) (*payment.Result, error) {
	if !payment.ValidAmount(amount) {
		return payment.InvalidAmountResult(amount, g.test), nil
	}
	return g.auth(ctx, payment.OpPurchase, amount, method, opts, true)
}

func (g *CardConnectGateway) Authorize(ctx context.Context, amount int64, method payment.Method, opts payment.Options) (*payment.Result, error) {
	if !payment.ValidAmount(amount) {
		return payment.InvalidAmountResult(amount, g.test), nil
	}
	return g.auth(ctx, payment.OpAuthorize, amount, method, opts, false)
}

// Verify runs a zero amount authorization.
func (g *CardConnectGateway) Verify(ctx context.Context, method payment.Method, opts payment.Options) (*payment.Result, error) {
	return g.auth(ctx, payment.OpVerify, 0, method, opts, false)
}

func (g *CardConnectGateway) auth(ctx context.Context, op payment.Operation, amount int64, method payment.Method, opts payment.Options, capture bool) (*payment.Result, error) {
	body := map[string]interface{}{
		"merchid":  g.merchantID,
		"amount":   payment.FormatAmount(amount, g.currencyFor(opts)),
		"currency": g.currencyFor(opts),
		"orderid":  utils.Truncate(g.orderID(opts), 19),
		"ecomind":  "E",
		"capture":  yesNo(capture),
	}
	if !addCardConnectMethod(body, method, opts) {
		return payment.UnsupportedMethod(g.name, method, g.test), nil
	}
	addCardConnectAddress(body, opts)
	addCardConnectStoredCredential(body, opts.StoredCredential)
	if opts.Description != "" {
		body["userfields"] = []map[string]string{{"description": opts.Description}}
	}

	return g.commit(ctx, op, http.MethodPut, "/auth", body)
}

func (g *CardConnectGateway) Capture(ctx context.Context, amount int64, authorization string, opts payment.Options) (*payment.Result, error) {
	if !payment.ValidAmount(amount) {
		return payment.InvalidAmountResult(amount, g.test), nil
	}
	auth, err := cardconnectCodec.Decode(authorization)
	if err != nil {
		return g.invalidAuthorization(err), nil
	}
	body := map[string]interface{}{
		"merchid": g.merchantID,
		"retref":  auth.Get("retref"),
		"amount":  payment.FormatAmount(amount, g.currencyFor(opts)),
	}
	return g.commit(ctx, payment.OpCapture, http.MethodPut, "/capture", body)
}

func (g *CardConnectGateway) Refund(ctx context.Context, amount int64, authorization string, opts payment.Options) (*payment.Result, error) {
	if !payment.ValidAmount(amount) {
		return payment.InvalidAmountResult(amount, g.test), nil
	}
	auth, err := cardconnectCodec.Decode(authorization)
	if err != nil {
		return g.invalidAuthorization(err), nil
	}
	body := map[string]interface{}{
		"merchid": g.merchantID,
		"retref":  auth.Get("retref"),
		"amount":  payment.FormatAmount(amount, g.currencyFor(opts)),
	}
	return g.commit(ctx, payment.OpRefund, http.MethodPut, "/refund", body)
}

func (g *CardConnectGateway) Void(ctx context.Context, authorization string, opts payment.Options) (*payment.Result, error) {
	auth, err := cardconnectCodec.Decode(authorization)
	if err != nil {
		return g.invalidAuthorization(err), nil
	}
	body := map[string]interface{}{
		"merchid": g.merchantID,
		"retref":  auth.Get("retref"),
	}
	return g.commit(ctx, payment.OpVoid, http.MethodPut, "/void", body)
}

// Store creates a profile holding the card; the token is profileid|acctid.
func (g *CardConnectGateway) Store(ctx context.Context, method payment.Method, opts payment.Options) (*payment.Result, error) {
	body := map[string]interface{}{"merchid": g.merchantID}
	if !addCardConnectMethod(body, method, opts) {
		return payment.UnsupportedMethod(g.name, method, g.test), nil
	}
	addCardConnectAddress(body, opts)
	return g.commit(ctx, payment.OpStore, http.MethodPut, "/profile", body)
}

func (g *CardConnectGateway) Update(ctx context.Context, token string, method payment.Method, opts payment.Options) (*payment.Result, error) {
	profile, err := cardconnectProfileCodec.Decode(token)
	if err == nil {
		err = profile.Require("acctid")
	}
	if err != nil {
		return g.invalidAuthorization(err), nil
	}
	body := map[string]interface{}{
		"merchid":       g.merchantID,
		"profile":       profile.Get("profileid") + "/" + profile.Get("acctid"),
		"profileupdate": "Y",
	}
	if !addCardConnectMethod(body, method, opts) {
		return payment.UnsupportedMethod(g.name, method, g.test), nil
	}
	addCardConnectAddress(body, opts)
	return g.commit(ctx, payment.OpUpdate, http.MethodPut, "/profile", body)
}

func (g *CardConnectGateway) Unstore(ctx context.Context, token string, opts payment.Options) (*payment.Result, error) {
	profile, err := cardconnectProfileCodec.Decode(token)
	if err == nil {
		err = profile.Require("acctid")
	}
	if err != nil {
		return g.invalidAuthorization(err), nil
	}
	path := fmt.Sprintf("/profile/%s/%s/%s", profile.Get("profileid"), profile.Get("acctid"), g.merchantID)
	return g.commit(ctx, payment.OpUnstore, http.MethodDelete, path, nil)
}

func (g *CardConnectGateway) Scrub(transcript string) string {
	return scrub.Apply(transcript,
		scrub.AuthorizationHeader(),
		scrub.JSONField("account"),
		scrub.JSONField("cvv2"),
		scrub.JSONField("securevalue"),
	)
}

func addCardConnectMethod(body map[string]interface{}, method payment.Method, opts payment.Options) bool {
	switch m := method.(type) {
	case *payment.CreditCard:
		addCardConnectCard(body, m)
		if tds := opts.ThreeDSecure; tds != nil {
			body["secureflag"] = tds.ECI
			body["securevalue"] = tds.CAVV
			body["securedstid"] = tds.DSTransactionID
		}
	case *payment.NetworkTokenCard:
		addCardConnectCard(body, &m.CreditCard)
		body["secureflag"] = m.ECI
		body["securevalue"] = m.Cryptogram
	case *payment.BankAccount:
		body["account"] = m.AccountNumber
		body["bankaba"] = m.RoutingNumber
		body["accttype"] = "ECHK"
		body["name"] = m.AccountHolder
	case payment.StoredToken:
		profile, err := cardconnectProfileCodec.Decode(string(m))
		if err != nil {
			return false
		}
		body["profile"] = strings.TrimSuffix(profile.Get("profileid")+"/"+profile.Get("acctid"), "/")
	default:
		return false
	}
	return true
}

func addCardConnectCard(body map[string]interface{}, card *payment.CreditCard) {
	body["account"] = card.Number
	body["expiry"] = card.ExpMonth() + card.ExpYear2()
	body["name"] = card.Name()
	if card.VerificationValue != "" {
		body["cvv2"] = card.VerificationValue
	}
}

func addCardConnectAddress(body map[string]interface{}, opts payment.Options) {
	if opts.Email != "" {
		body["email"] = opts.Email
	}
	a := opts.BillingAddress
	if a == nil {
		return
	}
	body["address"] = a.Address1
	body["address2"] = a.Address2
	body["city"] = a.City
	body["region"] = a.State
	body["country"] = a.Country
	body["postal"] = a.Zip
	body["phone"] = utils.DigitsOnly(a.Phone)
	if a.Company != "" {
		body["company"] = a.Company
	}
}

// addCardConnectStoredCredential maps credential on file flags.
func addCardConnectStoredCredential(body map[string]interface{}, sc *payment.StoredCredential) {
	if sc == nil {
		return
	}
	if sc.Initiator == payment.InitiatorMerchant {
		body["cof"] = "M"
	} else {
		body["cof"] = "C"
	}
	switch sc.ReasonType {
	case payment.ReasonRecurring, payment.ReasonInstallment:
		body["cofscheduled"] = "Y"
	default:
		body["cofscheduled"] = "N"
	}
}

func (g *CardConnectGateway) commit(ctx context.Context, op payment.Operation, method, path string, body interface{}) (*payment.Result, error) {
	var (
		resp *httpclient.Response
		err  error
	)
	if method == http.MethodDelete {
		resp, err = g.client.Delete(ctx, g.root+path, nil)
	} else {
		resp, err = g.client.PutJSON(ctx, g.root+path, body, nil)
	}
	if err != nil {
		return nil, g.transportError(op, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return payment.Failure(payment.ConfigError, "Unable to authenticate. Please check your credentials.", g.test), nil
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(resp.Body, &raw); err != nil || !resp.OK() {
		if err == nil {
			err = fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return nil, g.statusError(op, resp, fmt.Errorf("cardconnect parse error: %w", err))
	}

	g.logger.Debug("cardconnect response",
		zap.String("operation", string(op)),
		zap.String("retref", payment.GetString(raw, "retref")),
		zap.String("respstat", payment.GetString(raw, "respstat")),
	)
	return g.buildResult(op, raw), nil
}

func (g *CardConnectGateway) buildResult(op payment.Operation, raw map[string]interface{}) *payment.Result {
	respstat := payment.GetString(raw, "respstat")
	setlstat := payment.GetString(raw, "setlstat")
	message := payment.GetString(raw, "resptext")

	// a capture accepted for the next settlement batch is a success
	success := respstat == "A" || (op == payment.OpCapture && strings.Contains(setlstat, "Queued for Capture"))

	opts := payment.ResultOptions{Test: g.test}
	switch {
	case !success && respstat == "B":
		opts.ErrorCode = payment.ProcessingError
	case !success:
		opts.ErrorCode = cardconnectErrors.Classify(payment.GetString(raw, "respcode"))
	case op == payment.OpStore || op == payment.OpUpdate:
		token, err := cardconnectProfileCodec.Encode(payment.GetString(raw, "profileid"), payment.GetString(raw, "acctid"))
		if err != nil {
			return g.unencodable(raw, err)
		}
		opts.Authorization = token
	default:
		opts.Authorization = payment.GetString(raw, "retref")
	}
	if avs := payment.GetString(raw, "avsresp"); avs != "" {
		opts.AVS = payment.NewAVSResult(avs, "", "")
	}
	if cvv := payment.GetString(raw, "cvvresp"); cvv != "" {
		opts.CVV = payment.NewCVVResult(cvv)
	}

	return payment.NewResult(success, message, raw, opts)
}

func yesNo(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}
