package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/activemerchant/active-merchant-sub021/internal/config"
	"github.com/activemerchant/active-merchant-sub021/internal/payment"
	"github.com/activemerchant/active-merchant-sub021/internal/pkg/httpclient"
)

const dlocalPaid = `{
  "id": "D-15104-9f5246d5-34e2-4f63-9d29-380ab1567ec8",
  "amount": 1.00,
  "currency": "BRL",
  "payment_method_id": "CARD",
  "payment_method_type": "CARD",
  "payment_method_flow": "DIRECT",
  "country": "BR",
  "card": {
    "holder_name": "Longbob Longsen",
    "expiration_month": 9,
    "expiration_year": 2030,
    "brand": "VI",
    "last4": "5262",
    "network_tx_reference": "MCC000000355"
  },
  "created_date": "2026-03-14T15:09:26.000+0000",
  "approved_date": "2026-03-14T15:09:27.000+0000",
  "status": "PAID",
  "status_detail": "The payment was paid.",
  "status_code": "200",
  "order_id": "order-1"
}`

func newDLocal(url string) *DLocalGateway {
	return NewDLocalGateway(config.GatewayConfig{
		Test:     true,
		BaseURL:  url,
		Login:    "login",
		Password: "transkey",
		Secret:   "secret",
		Currency: "BRL",
		Extra:    map[string]string{"country": "br"},
	}, testDeps())
}

func dlocalResponder(body string) func(w http.ResponseWriter, r *http.Request, _ string) {
	return func(w http.ResponseWriter, r *http.Request, _ string) {
		_, _ = w.Write([]byte(body))
	}
}

func TestDLocal_PurchaseSignsRequest(t *testing.T) {
	// given
	vendor := newFakeVendor(t, dlocalResponder(dlocalPaid))
	gw := newDLocal(vendor.URL)

	// when
	r, err := gw.Purchase(context.Background(), 100, testCard(), payment.Options{
		OrderID: "order-1",
		Email:   "joe@example.com",
		Extra:   map[string]string{"document": "71575743221"},
	})

	// then
	require.NoError(t, err)
	assert.True(t, r.Success())
	assert.Equal(t, "The payment was paid.", r.Message())
	assert.Equal(t, "D-15104-9f5246d5-34e2-4f63-9d29-380ab1567ec8", r.Authorization())
	assert.Equal(t, "MCC000000355", r.NetworkTransactionID())

	last := vendor.Last()
	assert.Equal(t, "/secure_payments", last.Path)
	assert.Equal(t, "login", last.Header.Get("X-Login"))
	assert.Equal(t, "transkey", last.Header.Get("X-Trans-Key"))
	assert.Equal(t, "2.1", last.Header.Get("X-Version"))
	assert.Equal(t, "2026-03-14T15:09:26.000Z", last.Header.Get("X-Date"))

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("login" + last.Header.Get("X-Date") + last.Body))
	assert.Equal(t, "V2-HMAC-SHA256, Signature: "+hex.EncodeToString(mac.Sum(nil)), last.Header.Get("Authorization"))

	sent := decodeJSON(t, last.Body)
	assert.Equal(t, 1.0, sent["amount"])
	assert.Equal(t, "BR", sent["country"])
	assert.Contains(t, last.Body, `"amount":1.00`)
	card := sent["card"].(map[string]interface{})
	assert.Equal(t, true, card["capture"])
	assert.Equal(t, "4263970000005262", card["number"])
	payer := sent["payer"].(map[string]interface{})
	assert.Equal(t, "71575743221", payer["document"])
}

func TestDLocal_AuthorizeStoredCredential(t *testing.T) {
	vendor := newFakeVendor(t, dlocalResponder(strings.Replace(dlocalPaid, `"PAID"`, `"AUTHORIZED"`, 1)))
	gw := newDLocal(vendor.URL)

	r, err := gw.Authorize(context.Background(), 100, testCard(), payment.Options{
		StoredCredential: &payment.StoredCredential{
			Initiator:            payment.InitiatorMerchant,
			ReasonType:           payment.ReasonUnscheduled,
			NetworkTransactionID: "MCC000000355",
		},
	})

	require.NoError(t, err)
	assert.True(t, r.Success())
	card := decodeJSON(t, vendor.Last().Body)["card"].(map[string]interface{})
	assert.Equal(t, false, card["capture"])
	assert.Equal(t, "UNSCHEDULED_CARD_ON_FILE", card["stored_credential_type"])
	assert.Equal(t, "USED", card["stored_credential_usage"])
	assert.Equal(t, "MCC000000355", card["network_payment_reference"])
}

func TestDLocal_Rejections(t *testing.T) {
	testCases := []struct {
		name        string
		statusCode  string
		code        payment.ErrorCode
		fraudReview bool
	}{
		{"rejected", "300", payment.CardDeclined, false},
		{"fraud screen", "304", payment.CardDeclined, true},
		{"expired", "309", payment.ExpiredCard, false},
		{"invalid number", "314", payment.InvalidNumber, false},
		{"invalid cvc", "315", payment.InvalidCVC, false},
		{"unmapped rejection", "399", payment.CardDeclined, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			body := `{"id":"D-1","status":"REJECTED","status_detail":"The payment was rejected.","status_code":"` + tc.statusCode + `"}`
			vendor := newFakeVendor(t, dlocalResponder(body))
			gw := newDLocal(vendor.URL)

			r, err := gw.Purchase(context.Background(), 100, testCard(), payment.Options{})

			require.NoError(t, err)
			assert.False(t, r.Success())
			assert.Equal(t, tc.code, r.ErrorCode())
			assert.Equal(t, tc.fraudReview, r.FraudReview())
			assert.Empty(t, r.Authorization())
		})
	}
}

func TestDLocal_ClientErrors(t *testing.T) {
	t.Run("invalid parameter", func(t *testing.T) {
		vendor := newFakeVendor(t, func(w http.ResponseWriter, r *http.Request, body string) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":5014,"message":"Invalid request: card expiration"}`))
		})
		gw := newDLocal(vendor.URL)

		r, err := gw.Purchase(context.Background(), 100, testCard(), payment.Options{})

		require.NoError(t, err)
		assert.False(t, r.Success())
		assert.Equal(t, payment.InvalidExpiryDate, r.ErrorCode())
		assert.Equal(t, "Invalid request: card expiration", r.Message())
	})

	t.Run("bad credentials", func(t *testing.T) {
		vendor := newFakeVendor(t, func(w http.ResponseWriter, r *http.Request, body string) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":3001,"message":"Invalid credentials"}`))
		})
		gw := newDLocal(vendor.URL)

		r, err := gw.Purchase(context.Background(), 100, testCard(), payment.Options{})

		require.NoError(t, err)
		assert.Equal(t, payment.ConfigError, r.ErrorCode())
	})
}

func TestDLocal_FollowUps(t *testing.T) {
	ctx := context.Background()
	vendor := newFakeVendor(t, func(w http.ResponseWriter, r *http.Request, body string) {
		switch {
		case r.URL.Path == "/refunds":
			_, _ = w.Write([]byte(`{"id":"REF-15104-1","payment_id":"D-1","status":"SUCCESS","currency":"BRL","amount":0.50,"status_detail":"The refund was paid","status_code":200}`))
		case strings.HasSuffix(r.URL.Path, "/cancel"):
			_, _ = w.Write([]byte(`{"id":"D-1","status":"CANCELLED","status_detail":"The payment was cancelled.","status_code":"400"}`))
		default:
			_, _ = w.Write([]byte(`{"id":"D-2","authorization_id":"D-1","status":"PAID","status_detail":"The payment was paid.","status_code":"200"}`))
		}
	})
	gw := newDLocal(vendor.URL)

	t.Run("capture", func(t *testing.T) {
		r, err := gw.Capture(ctx, 99, "D-1", payment.Options{})

		require.NoError(t, err)
		assert.True(t, r.Success())
		assert.Equal(t, "D-2", r.Authorization())
		assert.Equal(t, "/payments", vendor.Last().Path)
		sent := decodeJSON(t, vendor.Last().Body)
		assert.Equal(t, "D-1", sent["authorization_id"])
		assert.Equal(t, 0.99, sent["amount"])
	})

	t.Run("refund accepted", func(t *testing.T) {
		r, err := gw.Refund(ctx, 50, "D-1", payment.Options{})

		require.NoError(t, err)
		assert.True(t, r.Success())
		assert.Equal(t, "REF-15104-1", r.Authorization())
		assert.Equal(t, "D-1", decodeJSON(t, vendor.Last().Body)["payment_id"])
	})

	t.Run("void", func(t *testing.T) {
		r, err := gw.Void(ctx, "D-1", payment.Options{})

		require.NoError(t, err)
		assert.True(t, r.Success())
		assert.Equal(t, "/payments/D-1/cancel", vendor.Last().Path)
	})

	t.Run("void without authorization", func(t *testing.T) {
		before := len(vendor.Requests())

		r, err := gw.Void(ctx, "", payment.Options{})

		require.NoError(t, err)
		assert.False(t, r.Success())
		assert.Len(t, vendor.Requests(), before)
	})
}

func TestDLocal_PendingIsAccepted(t *testing.T) {
	vendor := newFakeVendor(t, dlocalResponder(`{"id":"D-3","status":"PENDING","status_detail":"The payment is pending.","status_code":"100"}`))
	gw := newDLocal(vendor.URL)

	r, err := gw.Purchase(context.Background(), 100, testCard(), payment.Options{})

	require.NoError(t, err)
	assert.True(t, r.Success())
	assert.Equal(t, "D-3", r.Authorization())
}

func TestDLocal_VerifyAndCards(t *testing.T) {
	ctx := context.Background()
	vendor := newFakeVendor(t, func(w http.ResponseWriter, r *http.Request, body string) {
		switch r.URL.Path {
		case "/secure_cards":
			_, _ = w.Write([]byte(`{"card_id":"CV-ecd897ac-5361-486b-a240-1b96ed248354","holder_name":"Longbob Longsen","expiration_month":9,"expiration_year":2030,"last4":"5262","brand":"VI"}`))
		case "/secure_payments":
			_, _ = w.Write([]byte(`{"id":"D-4","status":"VERIFIED","status_detail":"The payment was verified.","status_code":"700"}`))
		default:
			w.WriteHeader(http.StatusOK)
		}
	})
	gw := newDLocal(vendor.URL)

	r, err := gw.Verify(ctx, testCard(), payment.Options{})
	require.NoError(t, err)
	assert.True(t, r.Success())
	sent := decodeJSON(t, vendor.Last().Body)
	assert.Equal(t, 0.0, sent["amount"])
	assert.Equal(t, true, sent["card"].(map[string]interface{})["verify"])

	r, err = gw.Store(ctx, testCard(), payment.Options{})
	require.NoError(t, err)
	assert.True(t, r.Success())
	assert.Equal(t, "CV-ecd897ac-5361-486b-a240-1b96ed248354", r.Authorization())

	_, err = gw.Purchase(ctx, 100, payment.StoredToken(r.Authorization()), payment.Options{})
	require.NoError(t, err)
	card := decodeJSON(t, vendor.Last().Body)["card"].(map[string]interface{})
	assert.Equal(t, "CV-ecd897ac-5361-486b-a240-1b96ed248354", card["card_id"])
	assert.NotContains(t, card, "number")

	r, err = gw.Unstore(ctx, "CV-ecd897ac-5361-486b-a240-1b96ed248354", payment.Options{})
	require.NoError(t, err)
	assert.True(t, r.Success())
	assert.Equal(t, http.MethodDelete, vendor.Last().Method)
	assert.Equal(t, "login", vendor.Last().Header.Get("X-Login"))
	assert.Contains(t, vendor.Last().Header.Get("Authorization"), "V2-HMAC-SHA256, Signature: ")

	_, err = gw.Update(ctx, "CV-1", testCard(), payment.Options{})
	assert.ErrorIs(t, err, payment.ErrNotSupported)
	_, err = gw.Credit(ctx, 100, testCard(), payment.Options{})
	assert.ErrorIs(t, err, payment.ErrNotSupported)
}

func TestDLocal_TransportFailures(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		vendor := newFakeVendor(t, func(w http.ResponseWriter, r *http.Request, body string) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"code":100,"message":"Internal error"}`))
		})
		gw := newDLocal(vendor.URL)

		_, err := gw.Purchase(context.Background(), 100, testCard(), payment.Options{})

		var te *payment.TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
		assert.Len(t, vendor.Requests(), 1)
	})

	t.Run("connection refused", func(t *testing.T) {
		gw := newDLocal(closedURL())

		_, err := gw.Void(context.Background(), "D-1", payment.Options{})

		assert.True(t, payment.IsTransport(err))
	})
}

func TestDLocal_Scrub(t *testing.T) {
	vendor := newFakeVendor(t, dlocalResponder(dlocalPaid))
	gw := newDLocal(vendor.URL)
	tr := httpclient.NewTranscript()

	_, err := gw.Purchase(httpclient.WithTranscript(context.Background(), tr), 100, testCard(), payment.Options{})
	require.NoError(t, err)

	raw := tr.String()
	require.Contains(t, raw, "4263970000005262")
	scrubbed := gw.Scrub(raw)
	assert.NotContains(t, scrubbed, "4263970000005262")
	assert.NotContains(t, scrubbed, `"cvv":"123"`)
	assert.NotContains(t, scrubbed, "transkey")
	assert.Contains(t, scrubbed, `"number":"[FILTERED]"`)
}
