package gateway

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/activemerchant/active-merchant-sub021/internal/metrics"
	"github.com/activemerchant/active-merchant-sub021/internal/payment"
)

// instrumented records metrics and a log line for every operation of the
// wrapped gateway. Results and errors pass through untouched.
type instrumented struct {
	payment.Gateway
	logger *zap.Logger
}

// Instrument wraps gw with request metrics and structured logging.
func Instrument(gw payment.Gateway, logger *zap.Logger) payment.Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, ok := gw.(*instrumented); ok {
		return gw
	}
	return &instrumented{Gateway: gw, logger: logger.With(zap.String("gateway", gw.Name()))}
}

// Outcome classifies a call for the gateway_requests_total metric.
func Outcome(r *payment.Result, err error) string {
	switch {
	case errors.Is(err, payment.ErrNotSupported):
		return metrics.OutcomeNotSupported
	case payment.IsTransport(err):
		return metrics.OutcomeTransportError
	case err != nil:
		return metrics.OutcomeError
	case r == nil:
		return metrics.OutcomeError
	case r.FraudReview():
		return metrics.OutcomeFraudReview
	case r.Success():
		return metrics.OutcomeSuccess
	}
	return metrics.OutcomeFailure
}

func (i *instrumented) observe(op payment.Operation, call func() (*payment.Result, error)) (*payment.Result, error) {
	start := time.Now()
	r, err := call()
	elapsed := time.Since(start)

	outcome := Outcome(r, err)
	name := i.Name()
	metrics.GatewayRequestDuration.WithLabelValues(name, string(op)).Observe(elapsed.Seconds())
	metrics.GatewayRequestsTotal.WithLabelValues(name, string(op), outcome).Inc()

	fields := []zap.Field{
		zap.String("operation", string(op)),
		zap.String("outcome", outcome),
		zap.Duration("elapsed", elapsed),
	}
	switch {
	case err != nil:
		i.logger.Warn("gateway call failed", append(fields, zap.Error(err))...)
	case r != nil && !r.Success():
		i.logger.Info("gateway call declined", append(fields,
			zap.String("error_code", string(r.ErrorCode())),
			zap.String("message", r.Message()),
		)...)
	default:
		i.logger.Info("gateway call", fields...)
	}
	return r, err
}

func (i *instrumented) Purchase(ctx context.Context, amount int64, method payment.Method, opts payment.Options) (*payment.Result, error) {
	return i.observe(payment.OpPurchase, func() (*payment.Result, error) {
		return i.Gateway.Purchase(ctx, amount, method, opts)
	})
}

func (i *instrumented) Authorize(ctx context.Context, amount int64, method payment.Method, opts payment.Options) (*payment.Result, error) {
	return i.observe(payment.OpAuthorize, func() (*payment.Result, error) {
		return i.Gateway.Authorize(ctx, amount, method, opts)
	})
}

func (i *instrumented) Capture(ctx context.Context, amount int64, authorization string, opts payment.Options) (*payment.Result, error) {
	return i.observe(payment.OpCapture, func() (*payment.Result, error) {
		return i.Gateway.Capture(ctx, amount, authorization, opts)
	})
}

func (i *instrumented) Refund(ctx context.Context, amount int64, authorization string, opts payment.Options) (*payment.Result, error) {
	return i.observe(payment.OpRefund, func() (*payment.Result, error) {
		return i.Gateway.Refund(ctx, amount, authorization, opts)
	})
}

func (i *instrumented) Void(ctx context.Context, authorization string, opts payment.Options) (*payment.Result, error) {
	return i.observe(payment.OpVoid, func() (*payment.Result, error) {
		return i.Gateway.Void(ctx, authorization, opts)
	})
}

func (i *instrumented) Credit(ctx context.Context, amount int64, method payment.Method, opts payment.Options) (*payment.Result, error) {
	return i.observe(payment.OpCredit, func() (*payment.Result, error) {
		return i.Gateway.Credit(ctx, amount, method, opts)
	})
}

func (i *instrumented) Verify(ctx context.Context, method payment.Method, opts payment.Options) (*payment.Result, error) {
	return i.observe(payment.OpVerify, func() (*payment.Result, error) {
		return i.Gateway.Verify(ctx, method, opts)
	})
}

func (i *instrumented) Store(ctx context.Context, method payment.Method, opts payment.Options) (*payment.Result, error) {
	return i.observe(payment.OpStore, func() (*payment.Result, error) {
		return i.Gateway.Store(ctx, method, opts)
	})
}

func (i *instrumented) Unstore(ctx context.Context, token string, opts payment.Options) (*payment.Result, error) {
	return i.observe(payment.OpUnstore, func() (*payment.Result, error) {
		return i.Gateway.Unstore(ctx, token, opts)
	})
}

func (i *instrumented) Update(ctx context.Context, token string, method payment.Method, opts payment.Options) (*payment.Result, error) {
	return i.observe(payment.OpUpdate, func() (*payment.Result, error) {
		return i.Gateway.Update(ctx, token, method, opts)
	})
}
