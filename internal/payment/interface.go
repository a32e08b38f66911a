package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

//go:generate mockgen -source interface.go -destination mock_gateway.go -package payment

// Gateway defines the uniform API every vendor adapter implements.
// Business declines come back as a failed Result with a nil error; the
// error return is reserved for transport failures and unsupported calls.
type Gateway interface {
	// Name returns the gateway identifier.
	Name() string

	// Capabilities describes the supported operations and edges.
	Capabilities() Capabilities

	Purchase(ctx context.Context, amount int64, method Method, opts Options) (*Result, error)
	Authorize(ctx context.Context, amount int64, method Method, opts Options) (*Result, error)
	Capture(ctx context.Context, amount int64, authorization string, opts Options) (*Result, error)
	Refund(ctx context.Context, amount int64, authorization string, opts Options) (*Result, error)
	Void(ctx context.Context, authorization string, opts Options) (*Result, error)
	Credit(ctx context.Context, amount int64, method Method, opts Options) (*Result, error)
	Verify(ctx context.Context, method Method, opts Options) (*Result, error)
	Store(ctx context.Context, method Method, opts Options) (*Result, error)
	Unstore(ctx context.Context, token string, opts Options) (*Result, error)
	Update(ctx context.Context, token string, method Method, opts Options) (*Result, error)

	// Scrub removes card data and credentials from a wire transcript.
	Scrub(transcript string) string
}

// Unsupported is embedded by adapters to reject operations the vendor
// does not offer.
type Unsupported struct {
	Gateway string
}

func (u Unsupported) Credit(context.Context, int64, Method, Options) (*Result, error) {
	return nil, NotSupported(u.Gateway, OpCredit)
}

func (u Unsupported) Verify(context.Context, Method, Options) (*Result, error) {
	return nil, NotSupported(u.Gateway, OpVerify)
}

func (u Unsupported) Store(context.Context, Method, Options) (*Result, error) {
	return nil, NotSupported(u.Gateway, OpStore)
}

func (u Unsupported) Unstore(context.Context, string, Options) (*Result, error) {
	return nil, NotSupported(u.Gateway, OpUnstore)
}

func (u Unsupported) Update(context.Context, string, Method, Options) (*Result, error) {
	return nil, NotSupported(u.Gateway, OpUpdate)
}

// Multi composes dependent calls into a single result.
type Multi struct {
	steps   []*Result
	primary int
	failed  bool
}

// Process runs step and records its result. Once a step has failed the
// remaining steps are skipped.
func (m *Multi) Process(step func() (*Result, error)) error {
	if m.failed {
		return nil
	}
	r, err := step()
	if err != nil {
		return err
	}
	m.steps = append(m.steps, r)
	if !r.Success() {
		m.failed = true
	}
	return nil
}

// ProcessPrimary is Process for the step whose result represents the whole
// composition.
func (m *Multi) ProcessPrimary(step func() (*Result, error)) error {
	n := len(m.steps)
	err := m.Process(step)
	if err == nil && len(m.steps) > n {
		m.primary = n
	}
	return err
}

// ProcessIgnoringFailure runs step without letting its outcome fail the
// composition. Transport errors are swallowed as well.
func (m *Multi) ProcessIgnoringFailure(step func() (*Result, error)) {
	if m.failed {
		return
	}
	r, err := step()
	if err != nil || r == nil {
		return
	}
	m.steps = append(m.steps, r)
}

// Result returns the composed outcome. The primary step supplies every field
// except Responses; the success flag is false when any required step failed.
func (m *Multi) Result() *Result {
	if len(m.steps) == 0 {
		return Failure(ProcessingError, "no steps processed", false)
	}
	p := m.steps[m.primary]
	if m.failed {
		p = m.steps[len(m.steps)-1]
	}
	return NewResult(!m.failed, p.Message(), p.params, ResultOptions{
		Authorization:        p.Authorization(),
		ErrorCode:            p.ErrorCode(),
		Test:                 p.Test(),
		AVS:                  avsPtr(p.AVS()),
		CVV:                  cvvPtr(p.CVV()),
		NetworkTransactionID: p.NetworkTransactionID(),
		FraudReview:          p.FraudReview(),
		Responses:            m.steps,
	})
}

func avsPtr(a AVSResult) *AVSResult {
	if a.Code == "" {
		return nil
	}
	return &a
}

func cvvPtr(c CVVResult) *CVVResult {
	if c.Code == "" {
		return nil
	}
	return &c
}

// VerifyAmount is the authorization amount used by VerifyByAuthVoid.
const VerifyAmount int64 = 100

// VerifyByAuthVoid verifies a method with an authorization that is voided
// straight away. A failed void does not fail the verification.
func VerifyByAuthVoid(ctx context.Context, gw Gateway, method Method, opts Options) (*Result, error) {
	var m Multi
	if err := m.Process(func() (*Result, error) {
		return gw.Authorize(ctx, VerifyAmount, method, opts)
	}); err != nil {
		return nil, err
	}
	auth := ""
	if len(m.steps) > 0 {
		auth = m.steps[0].Authorization()
	}
	m.ProcessIgnoringFailure(func() (*Result, error) {
		return gw.Void(ctx, auth, opts)
	})
	return m.Result(), nil
}

// getString reads a scalar vendor field as a string.
func getString(raw map[string]interface{}, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// GetString is getString for adapters.
func GetString(raw map[string]interface{}, key string) string {
	return getString(raw, key)
}
