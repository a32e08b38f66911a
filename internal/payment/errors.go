package payment

import (
	"errors"
	"fmt"
)

// ErrorCode is the shared decline vocabulary.
type ErrorCode string

const (
	IncorrectNumber    ErrorCode = "incorrect_number"
	InvalidNumber      ErrorCode = "invalid_number"
	InvalidExpiryDate  ErrorCode = "invalid_expiry_date"
	InvalidCVC         ErrorCode = "invalid_cvc"
	ExpiredCard        ErrorCode = "expired_card"
	IncorrectCVC       ErrorCode = "incorrect_cvc"
	IncorrectZip       ErrorCode = "incorrect_zip"
	IncorrectAddress   ErrorCode = "incorrect_address"
	IncorrectPIN       ErrorCode = "incorrect_pin"
	CardDeclined       ErrorCode = "card_declined"
	ProcessingError    ErrorCode = "processing_error"
	CallIssuer         ErrorCode = "call_issuer"
	PickupCard         ErrorCode = "pickup_card"
	ConfigError        ErrorCode = "config_error"
	TestModeLiveCard   ErrorCode = "test_mode_live_card"
	UnsupportedFeature ErrorCode = "unsupported_feature"
	InvalidAmount      ErrorCode = "invalid_amount"
)

// Classifier maps raw vendor codes onto the shared vocabulary.
type Classifier struct {
	codes    map[string]ErrorCode
	fallback ErrorCode
}

// NewClassifier returns a classifier. An empty fallback keeps the raw code.
func NewClassifier(codes map[string]ErrorCode, fallback ErrorCode) Classifier {
	return Classifier{codes: codes, fallback: fallback}
}

// Classify returns the normalized code for raw.
func (c Classifier) Classify(raw string) ErrorCode {
	if code, ok := c.codes[raw]; ok {
		return code
	}
	if c.fallback != "" {
		return c.fallback
	}
	return ErrorCode(raw)
}

// Known reports whether raw has an explicit mapping.
func (c Classifier) Known(raw string) bool {
	_, ok := c.codes[raw]
	return ok
}

var (
	ErrNotSupported           = errors.New("operation not supported by gateway")
	ErrEmptyAuthorization     = errors.New("authorization is empty")
	ErrMalformedAuthorization = errors.New("authorization is malformed")
	ErrDelimiterInValue       = errors.New("authorization value contains delimiter")
	ErrUnknownMethod          = errors.New("unknown payment method kind")
)

// TransportError is a failure to complete the HTTP exchange. It never
// means the vendor declined; callers decide whether to retry.
type TransportError struct {
	Gateway    string
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: transport failure (http %d): %v", e.Gateway, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: transport failure: %v", e.Gateway, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// AuthorizationError reports an authorization token that cannot be decoded.
type AuthorizationError struct {
	Token  string
	Reason error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization %q: %v", e.Token, e.Reason)
}

func (e *AuthorizationError) Unwrap() error { return e.Reason }

// NotSupported wraps ErrNotSupported with the gateway and operation.
func NotSupported(gateway string, op Operation) error {
	return fmt.Errorf("%s %s: %w", gateway, op, ErrNotSupported)
}
