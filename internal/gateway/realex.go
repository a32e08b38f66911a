package gateway

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/activemerchant/active-merchant-sub021/internal/config"
	"github.com/activemerchant/active-merchant-sub021/internal/payment"
	"github.com/activemerchant/active-merchant-sub021/internal/pkg/utils"
	"github.com/activemerchant/active-merchant-sub021/internal/scrub"
)

const (
	realexLiveURL    = "https://api.realexpayments.com/epage-remote.cgi"
	realexSandboxURL = "https://api.sandbox.realexpayments.com/epage-remote.cgi"
)

var realexCodec = payment.NewCodec(";", "order_id", "pasref", "authcode").Required("order_id")

var realexCardTypes = map[string]string{
	"visa":             "VISA",
	"master":           "MC",
	"american_express": "AMEX",
	"diners_club":      "DINERS",
	"jcb":              "JCB",
	"maestro":          "MC",
	"discover":         "DISCOVER",
}

var realexCVV = map[string]string{
	"M": "M",
	"N": "N",
	"I": "P",
	"U": "U",
	"P": "P",
}

var realexErrors = payment.NewClassifier(map[string]payment.ErrorCode{
	"101": payment.CardDeclined,
	"102": payment.CallIssuer,
	"103": payment.PickupCard,
	"107": payment.CardDeclined,
	"501": payment.ProcessingError,
	"504": payment.ConfigError,
	"506": payment.ProcessingError,
	"508": payment.InvalidNumber,
	"509": payment.InvalidExpiryDate,
}, "")

// RealexGateway implements payment.Gateway for the Realex/Global Payments
// remote XML API.
type RealexGateway struct {
	base
	payment.Unsupported
	url          string
	merchantID   string
	account      string
	secret       string
	rebateSecret string
}

// NewRealexGateway creates a Realex adapter. Login is the merchant id and
// Secret the shared secret; Password is the rebate password.
func NewRealexGateway(cfg config.GatewayConfig, deps Deps) *RealexGateway {
	deps = deps.withDefaults()
	return &RealexGateway{
		base:         newBase("realex", cfg, deps, "EUR"),
		Unsupported:  payment.Unsupported{Gateway: "realex"},
		url:          endpoint(cfg, realexLiveURL, realexSandboxURL),
		merchantID:   cfg.Login,
		account:      utils.FirstNonEmpty(cfg.Account, "internet"),
		secret:       cfg.Secret,
		rebateSecret: utils.FirstNonEmpty(cfg.Password, cfg.ExtraValue("rebate_secret")),
	}
}

func (g *RealexGateway) Capabilities() payment.Capabilities {
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

type realexRequest struct {
	XMLName          xml.Name                `xml:"request"`
	Type             string                  `xml:"type,attr"`
	Timestamp        string                  `xml:"timestamp,attr"`
	MerchantID       string                  `xml:"merchantid"`
	Account          string                  `xml:"account"`
	OrderID          string                  `xml:"orderid"`
	PasRef           string                  `xml:"pasref,omitempty"`
	AuthCode         string                  `xml:"authcode,omitempty"`
	Amount           *realexAmount           `xml:"amount,omitempty"`
	Card             *realexCard             `xml:"card,omitempty"`
	AutoSettle       *realexFlag             `xml:"autosettle,omitempty"`
	MPI              *realexMPI              `xml:"mpi,omitempty"`
	StoredCredential *realexStoredCredential `xml:"storedcredential,omitempty"`
	TSSInfo          *realexTSSInfo          `xml:"tssinfo,omitempty"`
	Comments         *realexComments         `xml:"comments,omitempty"`
	RefundHash       string                  `xml:"refundhash,omitempty"`
	SHA1Hash         string                  `xml:"sha1hash"`
}

type realexAmount struct {
	Currency string `xml:"currency,attr"`
	Value    string `xml:",chardata"`
}

type realexCard struct {
	Number  string     `xml:"number"`
	ExpDate string     `xml:"expdate"`
	ChName  string     `xml:"chname"`
	Type    string     `xml:"type"`
	CVN     *realexCVN `xml:"cvn,omitempty"`
}

type realexCVN struct {
	Number  string `xml:"number"`
	PresInd string `xml:"presind"`
}

type realexFlag struct {
	Flag string `xml:"flag,attr"`
}

type realexMPI struct {
	CAVV           string `xml:"cavv,omitempty"`
	XID            string `xml:"xid,omitempty"`
	ECI            string `xml:"eci,omitempty"`
	MessageVersion string `xml:"message_version,omitempty"`
	DSTransID      string `xml:"ds_trans_id,omitempty"`
}

type realexStoredCredential struct {
	Type      string `xml:"type"`
	Initiator string `xml:"initiator"`
	Sequence  string `xml:"sequence"`
	SRD       string `xml:"srd,omitempty"`
}

type realexTSSInfo struct {
	CustIPAddress string          `xml:"custipaddress,omitempty"`
	Address       []realexTSSAddr `xml:"address,omitempty"`
}

type realexTSSAddr struct {
	Type    string `xml:"type,attr"`
	Code    string `xml:"code,omitempty"`
	Country string `xml:"country,omitempty"`
}

type realexComments struct {
	Comment []realexComment `xml:"comment"`
}

type realexComment struct {
	ID   string `xml:"id,attr"`
	Text string `xml:",chardata"`
}

type realexResponse struct {
	XMLName     xml.Name `xml:"response"`
	Timestamp   string   `xml:"timestamp,attr"`
	MerchantID  string   `xml:"merchantid"`
	Account     string   `xml:"account"`
	OrderID     string   `xml:"orderid"`
	AuthCode    string   `xml:"authcode"`
	Result      string   `xml:"result"`
	CVNResult   string   `xml:"cvnresult"`
	AVSPostcode string   `xml:"avspostcoderesponse"`
	AVSAddress  string   `xml:"avsaddressresponse"`
	BatchID     string   `xml:"batchid"`
	Message     string   `xml:"message"`
	PasRef      string   `xml:"pasref"`
	SRD         string   `xml:"srd"`
	TimeTaken   string   `xml:"timetaken"`
	CardIssuer  struct {
		Bank        string `xml:"bank"`
		Country     string `xml:"country"`
		CountryCode string `xml:"countrycode"`
	} `xml:"cardissuer"`
}

func (g *RealexGateway) Purchase(ctx context.Context, amount int64, method payment.Method, opts payment.Options) (*payment.Result, error) {
	return g.auth(ctx, payment.OpPurchase, amount, method, opts, true)
}

func (g *RealexGateway) Authorize(ctx context.Context, amount int64, method payment.Method, opts payment.Options) (*payment.Result, error) {
	return g.auth(ctx, payment.OpAuthorize, amount, method, opts, false)
}

func (g *RealexGateway) auth(ctx context.Context, op payment.Operation, amount int64, method payment.Method, opts payment.Options, settle bool) (*payment.Result, error) {
	if !payment.ValidAmount(amount) {
		return payment.InvalidAmountResult(amount, g.test), nil
	}
	card, mpi, ok := g.cardFor(method, opts)
	if !ok {
		return payment.UnsupportedMethod(g.name, method, g.test), nil
	}

	currency := g.currencyFor(opts)
	req := g.newRequest("auth", g.orderID(opts))
	req.Amount = &realexAmount{Currency: currency, Value: strconv.FormatInt(amount, 10)}
	req.Card = card
	req.AutoSettle = &realexFlag{Flag: "0"}
	if settle {
		req.AutoSettle.Flag = "1"
	}
	req.MPI = mpi
	req.StoredCredential = buildRealexStoredCredential(opts.StoredCredential)
	req.TSSInfo = buildRealexTSSInfo(opts)
	req.Comments = buildRealexComments(opts)
	req.SHA1Hash = g.hash(req.Timestamp, req.OrderID, req.Amount.Value, currency, card.Number)

	return g.commit(ctx, op, req, payment.Authorization{})
}

func (g *RealexGateway) Capture(ctx context.Context, amount int64, authorization string, opts payment.Options) (*payment.Result, error) {
	if !payment.ValidAmount(amount) {
		return payment.InvalidAmountResult(amount, g.test), nil
	}
	auth, err := realexCodec.Decode(authorization)
	if err == nil {
		err = auth.Require("pasref")
	}
	if err != nil {
		return g.invalidAuthorization(err), nil
	}

	currency := g.currencyFor(opts)
	req := g.newRequest("settle", auth.Get("order_id"))
	req.PasRef = auth.Get("pasref")
	req.AuthCode = auth.Get("authcode")
	req.Amount = &realexAmount{Currency: currency, Value: strconv.FormatInt(amount, 10)}
	req.SHA1Hash = g.hash(req.Timestamp, req.OrderID, req.Amount.Value, currency, "")

	return g.commit(ctx, payment.OpCapture, req, auth)
}

func (g *RealexGateway) Refund(ctx context.Context, amount int64, authorization string, opts payment.Options) (*payment.Result, error) {
	if !payment.ValidAmount(amount) {
		return payment.InvalidAmountResult(amount, g.test), nil
	}
	auth, err := realexCodec.Decode(authorization)
	if err == nil {
		err = auth.Require("pasref")
	}
	if err != nil {
		return g.invalidAuthorization(err), nil
	}

	currency := g.currencyFor(opts)
	req := g.newRequest("rebate", auth.Get("order_id"))
	req.PasRef = auth.Get("pasref")
	req.AuthCode = auth.Get("authcode")
	req.Amount = &realexAmount{Currency: currency, Value: strconv.FormatInt(amount, 10)}
	req.RefundHash = sha1Hex(g.rebateSecret)
	req.SHA1Hash = g.hash(req.Timestamp, req.OrderID, req.Amount.Value, currency, "")

	return g.commit(ctx, payment.OpRefund, req, auth)
}

func (g *RealexGateway) Void(ctx context.Context, authorization string, opts payment.Options) (*payment.Result, error) {
	auth, err := realexCodec.Decode(authorization)
	if err == nil {
		err = auth.Require("pasref")
	}
	if err != nil {
		return g.invalidAuthorization(err), nil
	}

	req := g.newRequest("void", auth.Get("order_id"))
	req.PasRef = auth.Get("pasref")
	req.AuthCode = auth.Get("authcode")
	req.SHA1Hash = g.hash(req.Timestamp, req.OrderID, "", "", "")

	return g.commit(ctx, payment.OpVoid, req, auth)
}

// Credit sends an unreferenced refund to a card.
func (g *RealexGateway) Credit(ctx context.Context, amount int64, method payment.Method, opts payment.Options) (*payment.Result, error) {
	if !payment.ValidAmount(amount) {
		return payment.InvalidAmountResult(amount, g.test), nil
	}
	card, _, ok := g.cardFor(method, opts)
	if !ok {
		return payment.UnsupportedMethod(g.name, method, g.test), nil
	}

	currency := g.currencyFor(opts)
	req := g.newRequest("credit", g.orderID(opts))
	req.Amount = &realexAmount{Currency: currency, Value: strconv.FormatInt(amount, 10)}
	req.Card = card
	req.RefundHash = sha1Hex(g.rebateSecret)
	req.SHA1Hash = g.hash(req.Timestamp, req.OrderID, req.Amount.Value, currency, card.Number)

	return g.commit(ctx, payment.OpCredit, req, payment.Authorization{})
}

// Verify runs an open-to-buy check; no funds are reserved.
func (g *RealexGateway) Verify(ctx context.Context, method payment.Method, opts payment.Options) (*payment.Result, error) {
	card, _, ok := g.cardFor(method, opts)
	if !ok {
		return payment.UnsupportedMethod(g.name, method, g.test), nil
	}

	req := g.newRequest("otb", g.orderID(opts))
	req.Card = card
	req.SHA1Hash = g.hash(req.Timestamp, req.OrderID, card.Number)

	return g.commit(ctx, payment.OpVerify, req, payment.Authorization{})
}

func (g *RealexGateway) Scrub(transcript string) string {
	return scrub.Apply(transcript,
		scrub.XMLElement("number"),
		scrub.XMLElement("refundhash"),
		scrub.XMLElement("cavv"),
	)
}

func (g *RealexGateway) newRequest(kind, orderID string) *realexRequest {
	return &realexRequest{
		Type:       kind,
		Timestamp:  g.now().UTC().Format("20060102150405"),
		MerchantID: g.merchantID,
		Account:    g.account,
		OrderID:    realexOrderID(orderID),
	}
}

// realexOrderID keeps the characters the vendor accepts in an order id.
func realexOrderID(id string) string {
	var b strings.Builder
	for _, r := range id {
		if r == '-' || r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	return utils.Truncate(b.String(), 50)
}

func (g *RealexGateway) cardFor(method payment.Method, opts payment.Options) (*realexCard, *realexMPI, bool) {
	var cc *payment.CreditCard
	var mpi *realexMPI
	switch m := method.(type) {
	case *payment.CreditCard:
		cc = m
		if tds := opts.ThreeDSecure; tds != nil {
			mpi = &realexMPI{CAVV: tds.CAVV, XID: tds.XID, ECI: tds.ECI, MessageVersion: tds.Version, DSTransID: tds.DSTransactionID}
		}
	case *payment.NetworkTokenCard:
		cc = &m.CreditCard
		mpi = &realexMPI{CAVV: m.Cryptogram, ECI: m.ECI}
	default:
		return nil, nil, false
	}

	card := &realexCard{
		Number:  cc.Number,
		ExpDate: cc.ExpMonth() + cc.ExpYear2(),
		ChName:  cc.Name(),
		Type:    payment.Translate(realexCardTypes, cc.CardBrand()),
	}
	if cc.VerificationValue != "" {
		card.CVN = &realexCVN{Number: cc.VerificationValue, PresInd: "1"}
	}
	return card, mpi, true
}

func buildRealexStoredCredential(sc *payment.StoredCredential) *realexStoredCredential {
	if sc == nil {
		return nil
	}
	out := &realexStoredCredential{
		Type:      "oneoff",
		Initiator: "cardholder",
		Sequence:  "subsequent",
		SRD:       sc.NetworkTransactionID,
	}
	switch sc.ReasonType {
	case payment.ReasonRecurring:
		out.Type = "recurring"
	case payment.ReasonInstallment:
		out.Type = "installment"
	}
	if sc.Initiator == payment.InitiatorMerchant {
		out.Initiator = "merchant"
	}
	if sc.InitialTransaction {
		out.Sequence = "first"
		out.SRD = ""
	}
	return out
}

func buildRealexTSSInfo(opts payment.Options) *realexTSSInfo {
	if opts.IP == "" && opts.BillingAddress == nil {
		return nil
	}
	info := &realexTSSInfo{CustIPAddress: opts.IP}
	if a := opts.BillingAddress; a != nil {
		info.Address = append(info.Address, realexTSSAddr{
			Type:    "billing",
			Code:    realexAVSCode(a.Zip, a.Address1),
			Country: a.Country,
		})
	}
	return info
}

// realexAVSCode is the digits of the postcode and of the first address line
// joined with a pipe, the form the vendor's AVS check expects.
func realexAVSCode(zip, address string) string {
	return utils.DigitsOnly(zip) + "|" + utils.DigitsOnly(address)
}

func buildRealexComments(opts payment.Options) *realexComments {
	if opts.Description == "" {
		return nil
	}
	return &realexComments{Comment: []realexComment{{ID: "1", Text: opts.Description}}}
}

func (g *RealexGateway) hash(parts ...string) string {
	fields := append([]string{parts[0], g.merchantID}, parts[1:]...)
	return sha1Hex(sha1Hex(strings.Join(fields, ".")) + "." + g.secret)
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (g *RealexGateway) commit(ctx context.Context, op payment.Operation, req *realexRequest, prior payment.Authorization) (*payment.Result, error) {
	body, err := xml.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("realex encode %s: %w", op, err)
	}

	resp, err := g.client.PostXML(ctx, g.url, body)
	if err != nil {
		return nil, g.transportError(op, err)
	}

	var parsed realexResponse
	if err := xml.Unmarshal(resp.Body, &parsed); err != nil || parsed.Result == "" {
		if err == nil {
			err = fmt.Errorf("response has no result")
		}
		return nil, g.statusError(op, resp, fmt.Errorf("realex parse error: %w", err))
	}

	g.logger.Debug("realex response",
		zap.String("operation", string(op)),
		zap.String("result", parsed.Result),
		zap.String("orderid", parsed.OrderID),
	)
	return g.buildResult(parsed, req, prior), nil
}

func (g *RealexGateway) buildResult(r realexResponse, req *realexRequest, prior payment.Authorization) *payment.Result {
	success := r.Result == "00"
	params := map[string]interface{}{
		"result":              r.Result,
		"message":             r.Message,
		"orderid":             r.OrderID,
		"pasref":              r.PasRef,
		"authcode":            r.AuthCode,
		"batchid":             r.BatchID,
		"cvnresult":           r.CVNResult,
		"avspostcoderesponse": r.AVSPostcode,
		"avsaddressresponse":  r.AVSAddress,
		"srd":                 r.SRD,
		"timetaken":           r.TimeTaken,
		"type":                req.Type,
	}
	if req.Amount != nil {
		params["amount"] = req.Amount.Value
		params["currency"] = req.Amount.Currency
	}
	if r.CardIssuer.Bank != "" {
		params["cardissuer_bank"] = r.CardIssuer.Bank
		params["cardissuer_country"] = r.CardIssuer.CountryCode
	}

	opts := payment.ResultOptions{
		Test:                 g.test,
		NetworkTransactionID: r.SRD,
	}
	if success {
		token, err := realexCodec.Encode(
			utils.FirstNonEmpty(r.OrderID, req.OrderID, prior.Get("order_id")),
			utils.FirstNonEmpty(r.PasRef, prior.Get("pasref")),
			utils.FirstNonEmpty(r.AuthCode, prior.Get("authcode")),
		)
		if err != nil {
			return g.unencodable(params, err)
		}
		opts.Authorization = token
	} else {
		opts.ErrorCode = realexErrorCode(r.Result)
		opts.FraudReview = r.Result == "107"
	}
	if r.AVSPostcode != "" || r.AVSAddress != "" {
		opts.AVS = payment.NewAVSResult(realexAVSLetter(r.AVSAddress, r.AVSPostcode), realexMatch(r.AVSAddress), realexMatch(r.AVSPostcode))
	}
	if r.CVNResult != "" {
		opts.CVV = payment.NewCVVResult(payment.Translate(realexCVV, r.CVNResult))
	}

	return payment.NewResult(success, strings.TrimSpace(r.Message), params, opts)
}

func realexErrorCode(result string) payment.ErrorCode {
	if realexErrors.Known(result) {
		return realexErrors.Classify(result)
	}
	switch {
	case strings.HasPrefix(result, "1"):
		return payment.CardDeclined
	case strings.HasPrefix(result, "2"), strings.HasPrefix(result, "3"), strings.HasPrefix(result, "5"):
		return payment.ProcessingError
	}
	return payment.ErrorCode(result)
}

func realexMatch(code string) string {
	switch code {
	case "M":
		return "Y"
	case "N":
		return "N"
	}
	return ""
}

func realexAVSLetter(address, postcode string) string {
	switch {
	case address == "M" && postcode == "M":
		return "D"
	case address == "M" && postcode == "N":
		return "A"
	case address == "N" && postcode == "M":
		return "Z"
	case address == "N" && postcode == "N":
		return "N"
	}
	return "I"
}
