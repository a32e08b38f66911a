package gateway

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/activemerchant/active-merchant-sub021/internal/config"
	"github.com/activemerchant/active-merchant-sub021/internal/metrics"
	"github.com/activemerchant/active-merchant-sub021/internal/payment"
)

func TestNew(t *testing.T) {
	for _, typ := range Types {
		t.Run(typ, func(t *testing.T) {
			gw, err := New(config.GatewayConfig{Type: typ, Test: true}, testDeps())

			require.NoError(t, err)
			assert.Equal(t, typ, gw.Name())
			assert.NotEmpty(t, gw.Capabilities().Methods)
		})
	}

	_, err := New(config.GatewayConfig{Type: "authorize_net"}, testDeps())
	assert.Error(t, err)
}

func TestFollowUpAmountIsCheckedLocally(t *testing.T) {
	for _, typ := range Types {
		t.Run(typ, func(t *testing.T) {
			vendor := newFakeVendor(t, func(w http.ResponseWriter, r *http.Request, body string) {
				w.WriteHeader(http.StatusInternalServerError)
			})
			gw, err := New(config.GatewayConfig{Type: typ, Test: true, BaseURL: vendor.URL}, testDeps())
			require.NoError(t, err)
			ctx := context.Background()

			capture, err := gw.Capture(ctx, 0, "AUTH-1", payment.Options{})
			require.NoError(t, err)
			refund, err := gw.Refund(ctx, -5, "AUTH-1", payment.Options{})
			require.NoError(t, err)

			assert.False(t, capture.Success())
			assert.Equal(t, payment.InvalidAmount, capture.ErrorCode())
			assert.Equal(t, "Invalid amount: 0", capture.Message())
			assert.False(t, refund.Success())
			assert.Equal(t, payment.InvalidAmount, refund.ErrorCode())
			assert.Empty(t, vendor.Requests())
		})
	}
}

func TestNewSet(t *testing.T) {
	set, err := NewSet(map[string]config.GatewayConfig{
		"stripe":    {Test: true},
		"eu-paypal": {Type: "paypal", Test: true},
	}, testDeps())
	require.NoError(t, err)

	assert.Equal(t, []string{"eu-paypal", "stripe"}, set.Names())
	gw, ok := set.Get("eu-paypal")
	require.True(t, ok)
	assert.Equal(t, "paypal", gw.Name())
	_, ok = set.Get("realex")
	assert.False(t, ok)

	_, err = NewSet(map[string]config.GatewayConfig{"x": {Type: "nope"}}, testDeps())
	assert.ErrorContains(t, err, "gateway x")
}

func TestOutcome(t *testing.T) {
	fraud := payment.NewResult(false, "PENDING", nil, payment.ResultOptions{FraudReview: true})
	testCases := []struct {
		name string
		r    *payment.Result
		err  error
		want string
	}{
		{"success", payment.NewResult(true, "ok", nil, payment.ResultOptions{}), nil, metrics.OutcomeSuccess},
		{"decline", payment.Failure(payment.CardDeclined, "no", false), nil, metrics.OutcomeFailure},
		{"fraud review", fraud, nil, metrics.OutcomeFraudReview},
		{"transport", nil, &payment.TransportError{Gateway: "x", Op: "purchase", Err: errors.New("eof")}, metrics.OutcomeTransportError},
		{"not supported", nil, payment.NotSupported("x", payment.OpCredit), metrics.OutcomeNotSupported},
		{"other", nil, errors.New("boom"), metrics.OutcomeError},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Outcome(tc.r, tc.err))
		})
	}
}

func TestInstrument(t *testing.T) {
	ctrl := gomock.NewController(t)
	mock := payment.NewMockGateway(ctrl)
	mock.EXPECT().Name().Return("instrument-test").AnyTimes()

	approved := payment.NewResult(true, "Approved", nil, payment.ResultOptions{Authorization: "a1"})
	transport := &payment.TransportError{Gateway: "instrument-test", Op: "capture", Err: errors.New("reset")}
	mock.EXPECT().Purchase(gomock.Any(), int64(100), gomock.Any(), gomock.Any()).Return(approved, nil)
	mock.EXPECT().Capture(gomock.Any(), int64(100), "a1", gomock.Any()).Return(nil, transport)

	gw := Instrument(mock, nil)
	assert.Same(t, gw, Instrument(gw, nil))

	r, err := gw.Purchase(context.Background(), 100, testCard(), payment.Options{})
	require.NoError(t, err)
	assert.Same(t, approved, r)

	_, err = gw.Capture(context.Background(), 100, "a1", payment.Options{})
	assert.Same(t, transport, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GatewayRequestsTotal.WithLabelValues("instrument-test", "purchase", metrics.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GatewayRequestsTotal.WithLabelValues("instrument-test", "capture", metrics.OutcomeTransportError)))
}
