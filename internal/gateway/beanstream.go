package gateway

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/activemerchant/active-merchant-sub021/internal/config"
	"github.com/activemerchant/active-merchant-sub021/internal/payment"
	"github.com/activemerchant/active-merchant-sub021/internal/pkg/utils"
	"github.com/activemerchant/active-merchant-sub021/internal/scrub"
)

const (
	beanstreamLiveURL    = "https://api.na.bambora.com"
	beanstreamSandboxURL = "https://api.na.bambora.com"

	beanstreamTransactionPath = "/scripts/process_transaction.asp"
	beanstreamProfilePath     = "/scripts/payment_profile.asp"
)

// Beanstream transaction types.
const (
	bsPurchase      = "P"
	bsAuthorization = "PA"
	bsCapture       = "PAC"
	bsRefund        = "R"
	bsVoidPurchase  = "VP"
	bsVoidRefund    = "VR"
)

// beanstreamCodec echoes the original amount and type: void must pick VP or
// VR and resend the amount.
var beanstreamCodec = payment.NewCodec(";", "trn_id", "amount", "type").Required("trn_id")

var beanstreamCVV = map[string]string{
	"1": "M",
	"2": "N",
	"3": "P",
	"4": "S",
	"5": "U",
	"6": "P",
}

var beanstreamErrors = payment.NewClassifier(map[string]payment.ErrorCode{
	"7":   payment.CardDeclined,
	"9":   payment.CallIssuer,
	"16":  payment.ProcessingError,
	"52":  payment.InvalidNumber,
	"54":  payment.InvalidExpiryDate,
	"208": payment.ExpiredCard,
	"211": payment.IncorrectCVC,
}, "")

// BeanstreamGateway implements payment.Gateway for the Beanstream (Bambora
// legacy) form API and its secure payment profiles.
type BeanstreamGateway struct {
	base
	root       string
	merchantID string
	username   string
	password   string
	passcode   string
}

// NewBeanstreamGateway creates a Beanstream adapter. Login is the merchant
// id, Account/Password the API user and Secret the profile passcode.
func NewBeanstreamGateway(cfg config.GatewayConfig, deps Deps) *BeanstreamGateway {
	deps = deps.withDefaults()
	return &BeanstreamGateway{
		base:       newBase("beanstream", cfg, deps, "CAD"),
		root:       endpoint(cfg, beanstreamLiveURL, beanstreamSandboxURL),
		merchantID: cfg.Login,
		username:   cfg.Account,
		password:   cfg.Password,
		passcode:   cfg.Secret,
	}
}

func (g *BeanstreamGateway) Capabilities() payment.Capabilities {
	return payment.Capabilities{
		PartialCapture:   true,
		PartialRefund:    true,
		RefundCeiling:    true,
		Credit:           true,
		Verify:           true,
		Store:            true,
		Unstore:          true,
		Update:           true,
		VoidAfterCapture: payment.VoidAfterCaptureAccepted,
		Methods:          []payment.MethodKind{payment.KindCard, payment.KindToken, payment.KindNetworkToken},
	}
}

func (g *BeanstreamGateway) Purchase(ctx context.Context, amount int64, method payment.Method, opts payment.Options) (*payment.Result, error) {
	return g.sale(ctx, payment.OpPurchase, bsPurchase, amount, method, opts)
}

func (g *BeanstreamGateway) Authorize(ctx context.Context, amount int64, method payment.Method, opts payment.Options) (*payment.Result, error) {
	return g.sale(ctx, payment.OpAuthorize, bsAuthorization, amount, method, opts)
}

// Credit returns funds to a card without a prior transaction.
func (g *BeanstreamGateway) Credit(ctx context.Context, amount int64, method payment.Method, opts payment.Options) (*payment.Result, error) {
	return g.sale(ctx, payment.OpCredit, bsRefund, amount, method, opts)
}

func (g *BeanstreamGateway) sale(ctx context.Context, op payment.Operation, trnType string, amount int64, method payment.Method, opts payment.Options) (*payment.Result, error) {
	if !payment.ValidAmount(amount) {
		return payment.InvalidAmountResult(amount, g.test), nil
	}
	form := g.newForm(trnType)
	if !addBeanstreamMethod(form, method, opts) {
		return payment.UnsupportedMethod(g.name, method, g.test), nil
	}
	form.Set("trnAmount", payment.FormatAmount(amount, g.currencyFor(opts)))
	form.Set("trnOrderNumber", utils.Truncate(g.orderID(opts), 30))
	addBeanstreamAddress(form, opts)

	return g.commit(ctx, op, form)
}

func (g *BeanstreamGateway) Capture(ctx context.Context, amount int64, authorization string, opts payment.Options) (*payment.Result, error) {
	if !payment.ValidAmount(amount) {
		return payment.InvalidAmountResult(amount, g.test), nil
	}
	auth, err := beanstreamCodec.Decode(authorization)
	if err != nil {
		return g.invalidAuthorization(err), nil
	}
	form := g.newForm(bsCapture)
	form.Set("adjId", auth.Get("trn_id"))
	form.Set("trnAmount", payment.FormatAmount(amount, g.currencyFor(opts)))
	return g.commit(ctx, payment.OpCapture, form)
}

func (g *BeanstreamGateway) Refund(ctx context.Context, amount int64, authorization string, opts payment.Options) (*payment.Result, error) {
	if !payment.ValidAmount(amount) {
		return payment.InvalidAmountResult(amount, g.test), nil
	}
	auth, err := beanstreamCodec.Decode(authorization)
	if err != nil {
		return g.invalidAuthorization(err), nil
	}
	form := g.newForm(bsRefund)
	form.Set("adjId", auth.Get("trn_id"))
	form.Set("trnAmount", payment.FormatAmount(amount, g.currencyFor(opts)))
	return g.commit(ctx, payment.OpRefund, form)
}

// Void cancels a transaction for its full original amount. A
// pre-authorization is released by capturing zero.
func (g *BeanstreamGateway) Void(ctx context.Context, authorization string, opts payment.Options) (*payment.Result, error) {
	auth, err := beanstreamCodec.Decode(authorization)
	if err == nil {
		err = auth.Require("amount", "type")
	}
	if err != nil {
		return g.invalidAuthorization(err), nil
	}

	var form url.Values
	switch auth.Get("type") {
	case bsAuthorization:
		form = g.newForm(bsCapture)
		form.Set("trnAmount", "0.00")
	case bsRefund, bsVoidRefund:
		form = g.newForm(bsVoidRefund)
		form.Set("trnAmount", auth.Get("amount"))
	default:
		form = g.newForm(bsVoidPurchase)
		form.Set("trnAmount", auth.Get("amount"))
	}
	form.Set("adjId", auth.Get("trn_id"))
	return g.commit(ctx, payment.OpVoid, form)
}

func (g *BeanstreamGateway) Verify(ctx context.Context, method payment.Method, opts payment.Options) (*payment.Result, error) {
	return payment.VerifyByAuthVoid(ctx, g, method, opts)
}

// Store creates a secure payment profile; the customer code is the token.
func (g *BeanstreamGateway) Store(ctx context.Context, method payment.Method, opts payment.Options) (*payment.Result, error) {
	card, ok := method.(*payment.CreditCard)
	if !ok {
		return payment.UnsupportedMethod(g.name, method, g.test), nil
	}
	form := g.newProfileForm("N")
	form.Set("status", "A")
	addBeanstreamCard(form, card)
	addBeanstreamAddress(form, opts)
	return g.commitProfile(ctx, payment.OpStore, form)
}

func (g *BeanstreamGateway) Update(ctx context.Context, token string, method payment.Method, opts payment.Options) (*payment.Result, error) {
	if token == "" {
		return g.invalidAuthorization(&payment.AuthorizationError{Token: token, Reason: payment.ErrEmptyAuthorization}), nil
	}
	card, ok := method.(*payment.CreditCard)
	if !ok {
		return payment.UnsupportedMethod(g.name, method, g.test), nil
	}
	form := g.newProfileForm("M")
	form.Set("customerCode", token)
	addBeanstreamCard(form, card)
	addBeanstreamAddress(form, opts)
	return g.commitProfile(ctx, payment.OpUpdate, form)
}

// Unstore closes the profile.
func (g *BeanstreamGateway) Unstore(ctx context.Context, token string, opts payment.Options) (*payment.Result, error) {
	if token == "" {
		return g.invalidAuthorization(&payment.AuthorizationError{Token: token, Reason: payment.ErrEmptyAuthorization}), nil
	}
	form := g.newProfileForm("M")
	form.Set("customerCode", token)
	form.Set("status", "C")
	return g.commitProfile(ctx, payment.OpUnstore, form)
}

func (g *BeanstreamGateway) Scrub(transcript string) string {
	return scrub.Apply(transcript,
		scrub.FormField("trnCardNumber"),
		scrub.FormField("trnCardCvd"),
		scrub.FormField("password"),
		scrub.FormField("passCode"),
		scrub.FormField("SecureCAVV"),
	)
}

func (g *BeanstreamGateway) newForm(trnType string) url.Values {
	return url.Values{
		"requestType": {"BACKEND"},
		"merchant_id": {g.merchantID},
		"username":    {g.username},
		"password":    {g.password},
		"trnType":     {trnType},
	}
}

func (g *BeanstreamGateway) newProfileForm(operation string) url.Values {
	return url.Values{
		"serviceVersion": {"1.0"},
		"merchantId":     {g.merchantID},
		"passCode":       {g.passcode},
		"operationType":  {operation},
		"responseFormat": {"QS"},
	}
}

func addBeanstreamMethod(form url.Values, method payment.Method, opts payment.Options) bool {
	switch m := method.(type) {
	case *payment.CreditCard:
		addBeanstreamCard(form, m)
		if tds := opts.ThreeDSecure; tds != nil {
			form.Set("SecureXID", tds.XID)
			form.Set("SecureECI", tds.ECI)
			form.Set("SecureCAVV", tds.CAVV)
		}
	case *payment.NetworkTokenCard:
		addBeanstreamCard(form, &m.CreditCard)
		form.Set("SecureECI", m.ECI)
		form.Set("SecureCAVV", m.Cryptogram)
	case payment.StoredToken:
		form.Set("customerCode", string(m))
	default:
		return false
	}
	return true
}

func addBeanstreamCard(form url.Values, card *payment.CreditCard) {
	form.Set("trnCardOwner", card.Name())
	form.Set("trnCardNumber", card.Number)
	form.Set("trnExpMonth", card.ExpMonth())
	form.Set("trnExpYear", card.ExpYear2())
	if card.VerificationValue != "" {
		form.Set("trnCardCvd", card.VerificationValue)
	}
}

func addBeanstreamAddress(form url.Values, opts payment.Options) {
	if opts.Email != "" {
		form.Set("ordEmailAddress", opts.Email)
	}
	if opts.IP != "" {
		form.Set("customerIp", opts.IP)
	}
	a := opts.BillingAddress
	if a == nil {
		return
	}
	form.Set("ordName", a.Name)
	form.Set("ordAddress1", a.Address1)
	form.Set("ordAddress2", a.Address2)
	form.Set("ordCity", a.City)
	form.Set("ordProvince", a.State)
	form.Set("ordPostalCode", a.Zip)
	form.Set("ordCountry", a.Country)
	form.Set("ordPhoneNumber", a.Phone)
}

func (g *BeanstreamGateway) commit(ctx context.Context, op payment.Operation, form url.Values) (*payment.Result, error) {
	resp, err := g.client.PostForm(ctx, g.root+beanstreamTransactionPath, form)
	if err != nil {
		return nil, g.transportError(op, err)
	}

	values, err := url.ParseQuery(string(resp.Body))
	if err != nil || values.Get("trnApproved") == "" {
		if err == nil {
			err = fmt.Errorf("response has no trnApproved")
		}
		return nil, g.statusError(op, resp, fmt.Errorf("beanstream parse error: %w", err))
	}

	g.logger.Debug("beanstream response",
		zap.String("operation", string(op)),
		zap.String("trnId", values.Get("trnId")),
		zap.String("messageId", values.Get("messageId")),
	)
	return g.buildResult(values), nil
}

func (g *BeanstreamGateway) buildResult(v url.Values) *payment.Result {
	params := flattenValues(v)
	success := v.Get("trnApproved") == "1"

	opts := payment.ResultOptions{Test: g.test}
	if success {
		token, err := beanstreamCodec.Encode(v.Get("trnId"), v.Get("trnAmount"), v.Get("trnType"))
		if err != nil {
			return g.unencodable(params, err)
		}
		opts.Authorization = token
	} else {
		opts.ErrorCode = g.errorCode(v)
	}
	if v.Get("avsProcessed") == "1" || v.Get("avsId") != "" {
		opts.AVS = payment.NewAVSResult(v.Get("avsId"), beanstreamMatch(v.Get("avsAddrMatch")), beanstreamMatch(v.Get("avsPostalMatch")))
	}
	if cvd := v.Get("cvdId"); cvd != "" {
		opts.CVV = payment.NewCVVResult(payment.Translate(beanstreamCVV, cvd))
	}

	return payment.NewResult(success, v.Get("messageText"), params, opts)
}

func (g *BeanstreamGateway) errorCode(v url.Values) payment.ErrorCode {
	switch v.Get("errorType") {
	case "S":
		return payment.ConfigError
	case "U":
		return payment.ProcessingError
	}
	return beanstreamErrors.Classify(v.Get("messageId"))
}

func beanstreamMatch(flag string) string {
	switch flag {
	case "1":
		return "Y"
	case "0":
		return "N"
	}
	return ""
}

func (g *BeanstreamGateway) commitProfile(ctx context.Context, op payment.Operation, form url.Values) (*payment.Result, error) {
	resp, err := g.client.PostForm(ctx, g.root+beanstreamProfilePath, form)
	if err != nil {
		return nil, g.transportError(op, err)
	}

	values, err := url.ParseQuery(string(resp.Body))
	if err != nil || values.Get("responseCode") == "" {
		if err == nil {
			err = fmt.Errorf("response has no responseCode")
		}
		return nil, g.statusError(op, resp, fmt.Errorf("beanstream profile parse error: %w", err))
	}

	success := values.Get("responseCode") == "1"
	opts := payment.ResultOptions{Test: g.test}
	if success {
		opts.Authorization = values.Get("customerCode")
	} else {
		opts.ErrorCode = payment.ProcessingError
	}
	return payment.NewResult(success, values.Get("responseMessage"), flattenValues(values), opts), nil
}

func flattenValues(v url.Values) map[string]interface{} {
	out := make(map[string]interface{}, len(v))
	for k := range v {
		out[k] = v.Get(k)
	}
	return out
}
