package payment

import (
	"encoding/json"
)

// ResultOptions carries the optional parts of a Result.
type ResultOptions struct {
	Authorization        string
	ErrorCode            ErrorCode
	Test                 bool
	AVS                  *AVSResult
	CVV                  *CVVResult
	NetworkTransactionID string
	FraudReview          bool
	Responses            []*Result
}

// Result is the normalized outcome of a single gateway operation.
// It is immutable once built.
type Result struct {
	success              bool
	message              string
	authorization        string
	params               map[string]interface{}
	errorCode            ErrorCode
	test                 bool
	avs                  AVSResult
	cvv                  CVVResult
	networkTransactionID string
	fraudReview          bool
	responses            []*Result
}

// NewResult builds a Result. params is copied.
func NewResult(success bool, message string, params map[string]interface{}, opts ResultOptions) *Result {
	r := &Result{
		success:              success,
		message:              message,
		authorization:        opts.Authorization,
		params:               copyParams(params),
		errorCode:            opts.ErrorCode,
		test:                 opts.Test,
		networkTransactionID: opts.NetworkTransactionID,
		fraudReview:          opts.FraudReview,
	}
	if opts.AVS != nil {
		r.avs = *opts.AVS
	}
	if opts.CVV != nil {
		r.cvv = *opts.CVV
	}
	if len(opts.Responses) > 0 {
		r.responses = append([]*Result(nil), opts.Responses...)
	}
	return r
}

// Failure builds a failed result produced locally, without a network call.
func Failure(code ErrorCode, message string, test bool) *Result {
	return NewResult(false, message, nil, ResultOptions{ErrorCode: code, Test: test})
}

func (r *Result) Success() bool                { return r.success }
func (r *Result) Message() string              { return r.message }
func (r *Result) Authorization() string        { return r.authorization }
func (r *Result) ErrorCode() ErrorCode         { return r.errorCode }
func (r *Result) Test() bool                   { return r.test }
func (r *Result) AVS() AVSResult               { return r.avs }
func (r *Result) CVV() CVVResult               { return r.cvv }
func (r *Result) NetworkTransactionID() string { return r.networkTransactionID }
func (r *Result) FraudReview() bool            { return r.fraudReview }

// Params returns a copy of the raw vendor fields.
func (r *Result) Params() map[string]interface{} {
	return copyParams(r.params)
}

// Param returns a single raw vendor field as a string.
func (r *Result) Param(key string) string {
	return getString(r.params, key)
}

// Responses returns the individual step results of a composed operation.
func (r *Result) Responses() []*Result {
	return append([]*Result(nil), r.responses...)
}

// Primary returns the first step of a composed result, or r itself.
func (r *Result) Primary() *Result {
	if len(r.responses) > 0 {
		return r.responses[0]
	}
	return r
}

type resultJSON struct {
	Success              bool                   `json:"success"`
	Message              string                 `json:"message"`
	Authorization        string                 `json:"authorization,omitempty"`
	ErrorCode            ErrorCode              `json:"error_code,omitempty"`
	Test                 bool                   `json:"test"`
	AVS                  *AVSResult             `json:"avs_result,omitempty"`
	CVV                  *CVVResult             `json:"cvv_result,omitempty"`
	NetworkTransactionID string                 `json:"network_transaction_id,omitempty"`
	FraudReview          bool                   `json:"fraud_review"`
	Params               map[string]interface{} `json:"params,omitempty"`
	Responses            []*Result              `json:"responses,omitempty"`
}

func (r *Result) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		Success:              r.success,
		Message:              r.message,
		Authorization:        r.authorization,
		ErrorCode:            r.errorCode,
		Test:                 r.test,
		NetworkTransactionID: r.networkTransactionID,
		FraudReview:          r.fraudReview,
		Params:               r.params,
		Responses:            r.responses,
	}
	if r.avs.Code != "" {
		avs := r.avs
		out.AVS = &avs
	}
	if r.cvv.Code != "" {
		cvv := r.cvv
		out.CVV = &cvv
	}
	return json.Marshal(out)
}

func copyParams(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
