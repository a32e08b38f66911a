package payment

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MethodKind discriminates payment method variants.
type MethodKind string

const (
	KindCard         MethodKind = "card"
	KindBankAccount  MethodKind = "bank_account"
	KindToken        MethodKind = "token"
	KindNetworkToken MethodKind = "network_token"
)

// Method is a payment instrument. Adapters dispatch on the concrete type.
type Method interface {
	Kind() MethodKind
	isMethod()
}

// CreditCard is a raw card.
type CreditCard struct {
	Number            string `json:"number"`
	Month             int    `json:"month"`
	Year              int    `json:"year"`
	VerificationValue string `json:"verification_value,omitempty"`
	FirstName         string `json:"first_name,omitempty"`
	LastName          string `json:"last_name,omitempty"`
	Brand             string `json:"brand,omitempty"`
}

func (*CreditCard) Kind() MethodKind { return KindCard }
func (*CreditCard) isMethod()        {}

// Name returns the cardholder name.
func (c *CreditCard) Name() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Last4 returns the last four digits of the number.
func (c *CreditCard) Last4() string {
	if len(c.Number) <= 4 {
		return c.Number
	}
	return c.Number[len(c.Number)-4:]
}

// CardBrand returns Brand, or detects it from the number.
func (c *CreditCard) CardBrand() string {
	if c.Brand != "" {
		return c.Brand
	}
	return DetectBrand(c.Number)
}

// ExpMonth returns the zero-padded month.
func (c *CreditCard) ExpMonth() string {
	return fmt.Sprintf("%02d", c.Month)
}

// ExpYear returns the four digit year.
func (c *CreditCard) ExpYear() string {
	return fmt.Sprintf("%04d", c.Year)
}

// ExpYear2 returns the two digit year.
func (c *CreditCard) ExpYear2() string {
	return fmt.Sprintf("%02d", c.Year%100)
}

// Expired reports whether the card is past its expiry month at now.
func (c *CreditCard) Expired(now time.Time) bool {
	y, m, _ := now.Date()
	return c.Year < y || (c.Year == y && c.Month < int(m))
}

// Validate checks the card locally. It returns the shared error code for the
// first problem found.
func (c *CreditCard) Validate(now time.Time) (ErrorCode, error) {
	switch {
	case !Luhn(c.Number):
		return InvalidNumber, fmt.Errorf("card number is invalid")
	case c.Month < 1 || c.Month > 12 || c.Year < 1000:
		return InvalidExpiryDate, fmt.Errorf("expiry date is invalid")
	case c.Expired(now):
		return ExpiredCard, fmt.Errorf("card has expired")
	case c.VerificationValue != "" && !digitsRe.MatchString(c.VerificationValue):
		return InvalidCVC, fmt.Errorf("verification value is invalid")
	}
	return "", nil
}

// BankAccount is an ACH/direct debit account.
type BankAccount struct {
	RoutingNumber string `json:"routing_number"`
	AccountNumber string `json:"account_number"`
	AccountType   string `json:"account_type,omitempty"`
	AccountHolder string `json:"account_holder,omitempty"`
}

func (*BankAccount) Kind() MethodKind { return KindBankAccount }
func (*BankAccount) isMethod()        {}

// StoredToken references an instrument stored with the vendor.
type StoredToken string

func (StoredToken) Kind() MethodKind { return KindToken }
func (StoredToken) isMethod()        {}

// Wallet sources for NetworkTokenCard.
const (
	SourceApplePay     = "apple_pay"
	SourceGooglePay    = "google_pay"
	SourceNetworkToken = "network_token"
)

// NetworkTokenCard is a tokenized card bearing a cryptogram.
type NetworkTokenCard struct {
	CreditCard
	Cryptogram string `json:"cryptogram"`
	ECI        string `json:"eci,omitempty"`
	Source     string `json:"source"`
}

func (*NetworkTokenCard) Kind() MethodKind { return KindNetworkToken }
func (*NetworkTokenCard) isMethod()        {}

var (
	digitsRe = regexp.MustCompile(`^\d+$`)

	brandPatterns = []struct {
		brand string
		re    *regexp.Regexp
	}{
		{"visa", regexp.MustCompile(`^4\d{12}(\d{3})?(\d{3})?$`)},
		{"master", regexp.MustCompile(`^(5[1-5]\d{4}|677189|222[1-9]\d{2}|22[3-9]\d{3}|2[3-6]\d{4}|27[01]\d{3}|2720\d{2})\d{10}$`)},
		{"american_express", regexp.MustCompile(`^3[47]\d{13}$`)},
		{"discover", regexp.MustCompile(`^(6011|65\d{2}|64[4-9]\d)\d{12,15}$`)},
		{"diners_club", regexp.MustCompile(`^3(0[0-5]|[68]\d)\d{11,16}$`)},
		{"jcb", regexp.MustCompile(`^35(28|29|[3-8]\d)\d{12}$`)},
		{"maestro", regexp.MustCompile(`^(5018|5020|5038|6304|6759|676[1-3])\d{8,15}$`)},
	}
)

// DetectBrand guesses the card brand from the number.
func DetectBrand(number string) string {
	for _, p := range brandPatterns {
		if p.re.MatchString(number) {
			return p.brand
		}
	}
	return ""
}

// Luhn validates the card number check digit.
func Luhn(number string) bool {
	if len(number) < 12 || !digitsRe.MatchString(number) {
		return false
	}
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

type methodEnvelope struct {
	Kind  MethodKind `json:"kind"`
	Token string     `json:"token"`
}

// DecodeMethod builds a Method from a JSON object carrying a "kind" field.
func DecodeMethod(data []byte) (Method, error) {
	var env methodEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode payment method: %w", err)
	}
	switch env.Kind {
	case KindCard:
		var c CreditCard
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode card: %w", err)
		}
		return &c, nil
	case KindBankAccount:
		var b BankAccount
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("decode bank account: %w", err)
		}
		return &b, nil
	case KindToken:
		if env.Token == "" {
			return nil, fmt.Errorf("decode token: token is empty")
		}
		return StoredToken(env.Token), nil
	case KindNetworkToken:
		var n NetworkTokenCard
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, fmt.Errorf("decode network token: %w", err)
		}
		return &n, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, env.Kind)
	}
}

// UnsupportedMethod is the local failure for a method an adapter cannot use.
func UnsupportedMethod(gateway string, m Method, test bool) *Result {
	kind := MethodKind("none")
	if m != nil {
		kind = m.Kind()
	}
	return Failure(UnsupportedFeature, fmt.Sprintf("%s does not support %s payment methods", gateway, kind), test)
}
