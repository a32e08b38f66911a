package payment

import (
	"fmt"
	"slices"
	"strings"
)

// Codec encodes the state a follow-up call needs into one opaque string.
// Field order and delimiter are fixed per gateway. Any field may be an
// empty placeholder unless the codec marks it required; trailing fields may
// be absent from older tokens.
type Codec struct {
	delim    string
	fields   []string
	required []string
}

// NewCodec returns a composite codec joining fields with delim.
func NewCodec(delim string, fields ...string) Codec {
	if delim == "" || len(fields) == 0 {
		panic("payment: codec needs a delimiter and at least one field")
	}
	return Codec{delim: delim, fields: fields}
}

// OpaqueCodec passes a single vendor identifier through unchanged.
func OpaqueCodec(field string) Codec {
	return Codec{fields: []string{field}}
}

// Required returns a copy of c whose Decode rejects tokens missing any of
// fields.
func (c Codec) Required(fields ...string) Codec {
	for _, f := range fields {
		if !slices.Contains(c.fields, f) {
			panic("payment: codec has no field " + f)
		}
	}
	c.required = append(append([]string(nil), c.required...), fields...)
	return c
}

// Fields returns the field order.
func (c Codec) Fields() []string {
	return append([]string(nil), c.fields...)
}

// Encode joins values in field order. Missing trailing values are encoded
// as empty placeholders.
func (c Codec) Encode(values ...string) (string, error) {
	if len(values) > len(c.fields) {
		return "", fmt.Errorf("codec: %d values for %d fields", len(values), len(c.fields))
	}
	if c.delim == "" {
		if len(values) == 0 {
			return "", nil
		}
		return values[0], nil
	}
	parts := make([]string, len(c.fields))
	for i, v := range values {
		if strings.Contains(v, c.delim) {
			return "", &AuthorizationError{Token: v, Reason: ErrDelimiterInValue}
		}
		parts[i] = v
	}
	return strings.Join(parts, c.delim), nil
}

// Decode splits token back into its fields.
func (c Codec) Decode(token string) (Authorization, error) {
	if strings.TrimSpace(token) == "" {
		return Authorization{}, &AuthorizationError{Token: token, Reason: ErrEmptyAuthorization}
	}
	values := map[string]string{}
	if c.delim == "" {
		values[c.fields[0]] = token
		return Authorization{raw: token, values: values}, nil
	}
	parts := strings.Split(token, c.delim)
	if len(parts) > len(c.fields) {
		return Authorization{}, &AuthorizationError{Token: token, Reason: ErrMalformedAuthorization}
	}
	empty := true
	for i, p := range parts {
		values[c.fields[i]] = p
		empty = empty && p == ""
	}
	if empty {
		return Authorization{}, &AuthorizationError{Token: token, Reason: ErrMalformedAuthorization}
	}
	auth := Authorization{raw: token, values: values}
	if err := auth.Require(c.required...); err != nil {
		return Authorization{}, err
	}
	return auth, nil
}

// Authorization is a decoded token.
type Authorization struct {
	raw    string
	values map[string]string
}

// Get returns a field value, empty when absent.
func (a Authorization) Get(field string) string {
	return a.values[field]
}

// Has reports whether field was present and non-empty.
func (a Authorization) Has(field string) bool {
	return a.values[field] != ""
}

// Require fails when any of fields is absent.
func (a Authorization) Require(fields ...string) error {
	for _, f := range fields {
		if !a.Has(f) {
			return &AuthorizationError{Token: a.raw, Reason: fmt.Errorf("%w: missing %s", ErrMalformedAuthorization, f)}
		}
	}
	return nil
}

// String returns the original token.
func (a Authorization) String() string {
	return a.raw
}
