package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/activemerchant/active-merchant-sub021/internal/payment"
)

// Request carries the arguments of any gateway operation. Each operation
// reads only the fields it takes.
type Request struct {
	Amount        int64           `json:"amount"`
	Authorization string          `json:"authorization,omitempty"`
	Token         string          `json:"token,omitempty"`
	Method        json.RawMessage `json:"payment_method,omitempty"`
	Options       payment.Options `json:"options"`

	// PaymentMethod, when set, is used instead of decoding Method.
	PaymentMethod payment.Method `json:"-"`
}

func (r Request) method() (payment.Method, error) {
	if r.PaymentMethod != nil {
		return r.PaymentMethod, nil
	}
	if len(r.Method) == 0 {
		return nil, fmt.Errorf("payment_method is required")
	}
	return payment.DecodeMethod(r.Method)
}

// BadRequestError marks arguments that could not be turned into a call.
type BadRequestError struct {
	Err error
}

func (e *BadRequestError) Error() string { return e.Err.Error() }

func (e *BadRequestError) Unwrap() error { return e.Err }

// Call runs op on gw with the arguments in req.
func Call(ctx context.Context, gw payment.Gateway, op payment.Operation, req Request) (*payment.Result, error) {
	switch op {
	case payment.OpCapture:
		return gw.Capture(ctx, req.Amount, req.Authorization, req.Options)
	case payment.OpRefund:
		return gw.Refund(ctx, req.Amount, req.Authorization, req.Options)
	case payment.OpVoid:
		return gw.Void(ctx, req.Authorization, req.Options)
	case payment.OpUnstore:
		return gw.Unstore(ctx, req.Token, req.Options)
	}

	m, err := req.method()
	if err != nil {
		return nil, &BadRequestError{Err: err}
	}
	switch op {
	case payment.OpPurchase:
		return gw.Purchase(ctx, req.Amount, m, req.Options)
	case payment.OpAuthorize:
		return gw.Authorize(ctx, req.Amount, m, req.Options)
	case payment.OpCredit:
		return gw.Credit(ctx, req.Amount, m, req.Options)
	case payment.OpVerify:
		return gw.Verify(ctx, m, req.Options)
	case payment.OpStore:
		return gw.Store(ctx, m, req.Options)
	case payment.OpUpdate:
		return gw.Update(ctx, req.Token, m, req.Options)
	}
	return nil, &BadRequestError{Err: fmt.Errorf("unknown operation %q", op)}
}
