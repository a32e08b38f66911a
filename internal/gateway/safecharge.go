package gateway

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/activemerchant/active-merchant-sub021/internal/config"
	"github.com/activemerchant/active-merchant-sub021/internal/payment"
	"github.com/activemerchant/active-merchant-sub021/internal/pkg/utils"
	"github.com/activemerchant/active-merchant-sub021/internal/scrub"
)

const (
	safechargeLiveURL    = "https://process.safecharge.com/service.asmx/Process"
	safechargeSandboxURL = "https://process.sandbox.safecharge.com/service.asmx/Process"

	safechargeVersion = "4.1.0"
)

// SafeCharge sg_TransType values.
const (
	scSale   = "Sale"
	scAuth   = "Auth"
	scSettle = "Settle"
	scCredit = "Credit"
	scVoid   = "Void"
)

// safechargeCodec carries everything a follow-up must echo: void and
// settle resend the original amount, currency and card expiry.
var safechargeCodec = payment.NewCodec("|", "authcode", "txnid", "token", "month", "year", "type", "amount", "currency").
	Required("txnid")

var safechargeErrors = payment.NewClassifier(map[string]payment.ErrorCode{
	"-1001": payment.ConfigError,
	"1001":  payment.InvalidExpiryDate,
	"1002":  payment.ExpiredCard,
	"1101":  payment.InvalidNumber,
	"1102":  payment.InvalidNumber,
	"1103":  payment.IncorrectNumber,
	"1104":  payment.InvalidCVC,
	"1105":  payment.ProcessingError,
}, payment.ProcessingError)

// SafeChargeGateway implements payment.Gateway for the SafeCharge (Nuvei)
// gateway API: form-encoded requests with XML responses.
type SafeChargeGateway struct {
	base
	payment.Unsupported
	url      string
	login    string
	password string
	siteID   string
}

// NewSafeChargeGateway creates a SafeCharge adapter. Login and Password
// are the client login id and password; the "website_id" extra is sent
// as sg_WebsiteID when present.
func NewSafeChargeGateway(cfg config.GatewayConfig, deps Deps) *SafeChargeGateway {
	deps = deps.withDefaults()
	return &SafeChargeGateway{
		base:        newBase("safecharge", cfg, deps, "USD"),
		Unsupported: payment.Unsupported{Gateway: "safecharge"},
		url:         endpoint(cfg, safechargeLiveURL, safechargeSandboxURL),
		login:       cfg.Login,
		password:    cfg.Password,
		siteID:      cfg.ExtraValue("website_id"),
	}
}

func (g *SafeChargeGateway) Capabilities() payment.Capabilities {
	return payment.Capabilities{
		PartialCapture:   true,
		PartialRefund:    true,
		RefundCeiling:    true,
		Credit:           true,
		Verify:           true,
		VoidAfterCapture: payment.VoidAfterCaptureAccepted,
		Methods:          []payment.MethodKind{payment.KindCard, payment.KindNetworkToken},
	}
}

func (g *SafeChargeGateway) Purchase(ctx context.Context, amount int64, method payment.Method, opts payment.Options) (*payment.Result, error) {
	return g.sale(ctx, payment.OpPurchase, scSale, amount, method, opts)
}

func (g *SafeChargeGateway) Authorize(ctx context.Context, amount int64, method payment.Method, opts payment.Options) (*payment.Result, error) {
	return g.sale(ctx, payment.OpAuthorize, scAuth, amount, method, opts)
}

// Credit is an unreferenced credit to a card.
func (g *SafeChargeGateway) Credit(ctx context.Context, amount int64, method payment.Method, opts payment.Options) (*payment.Result, error) {
	return g.sale(ctx, payment.OpCredit, scCredit, amount, method, opts)
}

func (g *SafeChargeGateway) sale(ctx context.Context, op payment.Operation, transType string, amount int64, method payment.Method, opts payment.Options) (*payment.Result, error) {
	if !payment.ValidAmount(amount) {
		return payment.InvalidAmountResult(amount, g.test), nil
	}

	var card *payment.CreditCard
	form := g.newForm(transType)
	switch m := method.(type) {
	case *payment.CreditCard:
		card = m
		if tds := opts.ThreeDSecure; tds != nil {
			form.Set("sg_CAVV", tds.CAVV)
			form.Set("sg_ECI", tds.ECI)
			form.Set("sg_Xid", tds.XID)
			if tds.DSTransactionID != "" {
				form.Set("sg_dsTransID", tds.DSTransactionID)
			}
		}
	case *payment.NetworkTokenCard:
		card = &m.CreditCard
		form.Set("sg_CAVV", m.Cryptogram)
		form.Set("sg_ECI", m.ECI)
		form.Set("sg_ExternalTokenProvider", m.Source)
	default:
		return payment.UnsupportedMethod(g.name, method, g.test), nil
	}

	currency := g.currencyFor(opts)
	addSafeChargeCard(form, card)
	form.Set("sg_Amount", payment.FormatAmount(amount, currency))
	form.Set("sg_Currency", currency)
	form.Set("sg_ClientUniqueID", utils.Truncate(g.orderID(opts), 64))
	if transType == scCredit {
		form.Set("sg_CreditType", "1")
	}
	if opts.Description != "" {
		form.Set("sg_Descriptor", opts.Description)
	}
	if sc := opts.StoredCredential; sc != nil {
		if sc.InitialTransaction {
			form.Set("sg_StoredCredentialMode", "0")
		} else {
			form.Set("sg_StoredCredentialMode", "1")
		}
		if sc.Initiator == payment.InitiatorMerchant && sc.ReasonType == payment.ReasonRecurring {
			form.Set("sg_IsRebill", "1")
		}
	}
	addSafeChargeAddress(form, opts)

	return g.commit(ctx, op, form, card.ExpMonth(), card.ExpYear2())
}

// Capture settles an authorization.
func (g *SafeChargeGateway) Capture(ctx context.Context, amount int64, authorization string, opts payment.Options) (*payment.Result, error) {
	if !payment.ValidAmount(amount) {
		return payment.InvalidAmountResult(amount, g.test), nil
	}
	auth, err := g.decode(authorization)
	if err != nil {
		return g.invalidAuthorization(err), nil
	}
	form := g.followUp(scSettle, auth)
	form.Set("sg_Amount", payment.FormatAmount(amount, auth.Get("currency")))
	return g.commit(ctx, payment.OpCapture, form, auth.Get("month"), auth.Get("year"))
}

func (g *SafeChargeGateway) Refund(ctx context.Context, amount int64, authorization string, opts payment.Options) (*payment.Result, error) {
	if !payment.ValidAmount(amount) {
		return payment.InvalidAmountResult(amount, g.test), nil
	}
	auth, err := g.decode(authorization)
	if err != nil {
		return g.invalidAuthorization(err), nil
	}
	form := g.followUp(scCredit, auth)
	form.Set("sg_CreditType", "2")
	form.Set("sg_Amount", payment.FormatAmount(amount, auth.Get("currency")))
	return g.commit(ctx, payment.OpRefund, form, auth.Get("month"), auth.Get("year"))
}

// Void cancels a transaction for its original amount.
func (g *SafeChargeGateway) Void(ctx context.Context, authorization string, opts payment.Options) (*payment.Result, error) {
	auth, err := g.decode(authorization)
	if err != nil {
		return g.invalidAuthorization(err), nil
	}
	form := g.followUp(scVoid, auth)
	form.Set("sg_Amount", auth.Get("amount"))
	return g.commit(ctx, payment.OpVoid, form, auth.Get("month"), auth.Get("year"))
}

func (g *SafeChargeGateway) Verify(ctx context.Context, method payment.Method, opts payment.Options) (*payment.Result, error) {
	return payment.VerifyByAuthVoid(ctx, g, method, opts)
}

func (g *SafeChargeGateway) Scrub(transcript string) string {
	return scrub.Apply(transcript,
		scrub.FormField("sg_CardNumber"),
		scrub.FormField("sg_CVV2"),
		scrub.FormField("sg_ClientPassword"),
		scrub.FormField("sg_CAVV"),
	)
}

func (g *SafeChargeGateway) decode(authorization string) (payment.Authorization, error) {
	auth, err := safechargeCodec.Decode(authorization)
	if err == nil {
		err = auth.Require("txnid", "amount", "currency")
	}
	return auth, err
}

func (g *SafeChargeGateway) newForm(transType string) url.Values {
	form := url.Values{
		"sg_ClientLoginID":  {g.login},
		"sg_ClientPassword": {g.password},
		"sg_ResponseFormat": {"4"},
		"sg_Version":        {safechargeVersion},
		"sg_TransType":      {transType},
	}
	if g.siteID != "" {
		form.Set("sg_WebsiteID", g.siteID)
	}
	return form
}

func (g *SafeChargeGateway) followUp(transType string, auth payment.Authorization) url.Values {
	form := g.newForm(transType)
	form.Set("sg_AuthCode", auth.Get("authcode"))
	form.Set("sg_TransactionID", auth.Get("txnid"))
	form.Set("sg_CCToken", auth.Get("token"))
	form.Set("sg_ExpMonth", auth.Get("month"))
	form.Set("sg_ExpYear", auth.Get("year"))
	form.Set("sg_Currency", auth.Get("currency"))
	return form
}

func addSafeChargeCard(form url.Values, card *payment.CreditCard) {
	form.Set("sg_NameOnCard", card.Name())
	form.Set("sg_CardNumber", card.Number)
	form.Set("sg_ExpMonth", card.ExpMonth())
	form.Set("sg_ExpYear", card.ExpYear2())
	if card.VerificationValue != "" {
		form.Set("sg_CVV2", card.VerificationValue)
	}
}

func addSafeChargeAddress(form url.Values, opts payment.Options) {
	if opts.Email != "" {
		form.Set("sg_Email", opts.Email)
	}
	if opts.IP != "" {
		form.Set("sg_IPAddress", opts.IP)
	}
	a := opts.BillingAddress
	if a == nil {
		return
	}
	first, last := utils.SplitName(a.Name)
	form.Set("sg_FirstName", first)
	form.Set("sg_LastName", last)
	form.Set("sg_Address", strings.TrimSpace(a.Address1+" "+a.Address2))
	form.Set("sg_City", a.City)
	form.Set("sg_State", a.State)
	form.Set("sg_Zip", a.Zip)
	form.Set("sg_Country", a.Country)
	form.Set("sg_Phone", a.Phone)
}

func (g *SafeChargeGateway) commit(ctx context.Context, op payment.Operation, form url.Values, month, year string) (*payment.Result, error) {
	resp, err := g.client.PostForm(ctx, g.url, form)
	if err != nil {
		return nil, g.transportError(op, err)
	}

	values, err := flattenXML(resp.Body)
	if err == nil && safechargeStatus(values) == "" {
		err = errors.New("response has no Status")
	}
	if err != nil {
		return nil, g.statusError(op, resp, fmt.Errorf("safecharge parse error: %w", err))
	}

	g.logger.Debug("safecharge response",
		zap.String("operation", string(op)),
		zap.String("transactionId", payment.GetString(values, "TransactionID")),
		zap.String("status", safechargeStatus(values)),
	)
	return g.buildResult(form, values, month, year), nil
}

func safechargeStatus(values map[string]interface{}) string {
	return strings.ToUpper(payment.GetString(values, "Status"))
}

func (g *SafeChargeGateway) buildResult(form url.Values, values map[string]interface{}, month, year string) *payment.Result {
	success := safechargeStatus(values) == "APPROVED"

	opts := payment.ResultOptions{Test: g.test}
	message := "Success"
	if success {
		token, err := safechargeCodec.Encode(
			payment.GetString(values, "AuthCode"),
			payment.GetString(values, "TransactionID"),
			payment.GetString(values, "Token"),
			month,
			year,
			form.Get("sg_TransType"),
			form.Get("sg_Amount"),
			form.Get("sg_Currency"),
		)
		if err != nil {
			return g.unencodable(values, err)
		}
		opts.Authorization = token
	} else {
		message = utils.FirstNonEmpty(payment.GetString(values, "Reason"), payment.GetString(values, "ErrorMessage"), "Failed")
		opts.ErrorCode = safechargeErrorCode(values)
	}
	if avs := payment.GetString(values, "AVSCode"); avs != "" {
		opts.AVS = payment.NewAVSResult(avs, "", "")
	}
	if cvv := payment.GetString(values, "CVV2Reply"); cvv != "" {
		opts.CVV = payment.NewCVVResult(cvv)
	}
	return payment.NewResult(success, message, values, opts)
}

func safechargeErrorCode(values map[string]interface{}) payment.ErrorCode {
	ex := payment.GetString(values, "ExErrCode")
	if ex != "" && ex != "0" && safechargeErrors.Known(ex) {
		return safechargeErrors.Classify(ex)
	}
	if errCode := payment.GetString(values, "ErrCode"); safechargeErrors.Known(errCode) {
		return safechargeErrors.Classify(errCode)
	}
	if safechargeStatus(values) == "DECLINED" {
		return payment.CardDeclined
	}
	return payment.ProcessingError
}

// flattenXML collects the text of every leaf element under the document
// root. Repeated names keep the first non-empty value; attributes of a
// leaf are stored as name.attr.
func flattenXML(body []byte) (map[string]interface{}, error) {
	dec := xml.NewDecoder(strings.NewReader(string(body)))
	out := map[string]interface{}{}

	var (
		stack []string
		text  strings.Builder
		root  bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if !root {
				root = true
				continue
			}
			stack = append(stack, t.Name.Local)
			text.Reset()
			for _, a := range t.Attr {
				key := t.Name.Local + "." + a.Name.Local
				if _, ok := out[key]; !ok {
					out[key] = a.Value
				}
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if len(stack) == 0 {
				continue
			}
			name := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			v := strings.TrimSpace(text.String())
			text.Reset()
			if existing, ok := out[name]; !ok || existing == "" {
				out[name] = v
			}
		}
	}
	if !root {
		return nil, errors.New("empty document")
	}
	return out, nil
}
