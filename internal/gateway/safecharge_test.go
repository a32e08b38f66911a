package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/activemerchant/active-merchant-sub021/internal/config"
	"github.com/activemerchant/active-merchant-sub021/internal/payment"
	"github.com/activemerchant/active-merchant-sub021/internal/pkg/httpclient"
)

const safechargeApprovedTmpl = `<?xml version="1.0" encoding="utf-8"?>
<Response>
  <Version>4.1.0</Version>
  <ClientLoginID>SpreedlyTestTRX</ClientLoginID>
  <ClientUniqueID>order-1</ClientUniqueID>
  <TransactionID>%s</TransactionID>
  <Status>APPROVED</Status>
  <AuthCode>111951</AuthCode>
  <AVSCode>Y</AVSCode>
  <CVV2Reply>M</CVV2Reply>
  <ReasonCodes><Reason code="0"></Reason></ReasonCodes>
  <ErrCode>0</ErrCode>
  <ExErrCode>0</ExErrCode>
  <Token>MQBVAG4ASABkAEgAagB3AEsAbgAtACoAWgAzAFwAWwBNAF8AdAB8AE4AZQA</Token>
  <CustomData></CustomData>
</Response>`

func newSafeCharge(url string) *SafeChargeGateway {
	return NewSafeChargeGateway(config.GatewayConfig{
		Test:     true,
		BaseURL:  url,
		Login:    "SpreedlyTestTRX",
		Password: "5Jp5xKmgqY",
		Extra:    map[string]string{"website_id": "110437"},
	}, testDeps())
}

func safechargeApprover(t *testing.T) *fakeVendor {
	var n atomic.Int32
	return newFakeVendor(t, func(w http.ResponseWriter, r *http.Request, body string) {
		_, _ = fmt.Fprintf(w, safechargeApprovedTmpl, fmt.Sprintf("10151010831%d", n.Add(1)))
	})
}

func TestSafeCharge_Purchase(t *testing.T) {
	// given
	vendor := safechargeApprover(t)
	gw := newSafeCharge(vendor.URL)

	// when
	r, err := gw.Purchase(context.Background(), 1050, testCard(), payment.Options{
		OrderID:        "order-1",
		Currency:       "EUR",
		BillingAddress: &payment.Address{Name: "Jim Smith", Address1: "456 My Street", Address2: "Apt 1", City: "Ottawa", State: "ON", Zip: "K1C2N6", Country: "CA"},
	})

	// then
	require.NoError(t, err)
	assert.True(t, r.Success())
	assert.Equal(t, "Success", r.Message())
	assert.Equal(t, "111951|101510108311|MQBVAG4ASABkAEgAagB3AEsAbgAtACoAWgAzAFwAWwBNAF8AdAB8AE4AZQA|09|30|Sale|10.50|EUR", r.Authorization())
	assert.Equal(t, "Y", r.AVS().Code)
	assert.Equal(t, "M", r.CVV().Code)
	assert.Equal(t, "0", r.Param("Reason.code"))

	sent := parseForm(t, vendor.Last().Body)
	assert.Equal(t, "Sale", sent.Get("sg_TransType"))
	assert.Equal(t, "10.50", sent.Get("sg_Amount"))
	assert.Equal(t, "EUR", sent.Get("sg_Currency"))
	assert.Equal(t, "4", sent.Get("sg_ResponseFormat"))
	assert.Equal(t, "110437", sent.Get("sg_WebsiteID"))
	assert.Equal(t, "Jim", sent.Get("sg_FirstName"))
	assert.Equal(t, "Smith", sent.Get("sg_LastName"))
	assert.Equal(t, "456 My Street Apt 1", sent.Get("sg_Address"))
	assert.Empty(t, sent.Get("sg_CreditType"))
}

func TestSafeCharge_FollowUpsEchoOriginal(t *testing.T) {
	vendor := safechargeApprover(t)
	gw := newSafeCharge(vendor.URL)
	ctx := context.Background()

	auth, err := gw.Authorize(ctx, 1000, testCard(), payment.Options{})
	require.NoError(t, err)
	require.True(t, auth.Success())

	testCases := []struct {
		name      string
		run       func() (*payment.Result, error)
		transType string
		amount    string
		credit    string
	}{
		{
			name:      "partial capture sends requested amount",
			run:       func() (*payment.Result, error) { return gw.Capture(ctx, 600, auth.Authorization(), payment.Options{}) },
			transType: "Settle",
			amount:    "6.00",
		},
		{
			name:      "refund is a referenced credit",
			run:       func() (*payment.Result, error) { return gw.Refund(ctx, 300, auth.Authorization(), payment.Options{}) },
			transType: "Credit",
			amount:    "3.00",
			credit:    "2",
		},
		{
			name:      "void echoes original amount",
			run:       func() (*payment.Result, error) { return gw.Void(ctx, auth.Authorization(), payment.Options{}) },
			transType: "Void",
			amount:    "10.00",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := tc.run()

			require.NoError(t, err)
			assert.True(t, r.Success())
			sent := parseForm(t, vendor.Last().Body)
			assert.Equal(t, tc.transType, sent.Get("sg_TransType"))
			assert.Equal(t, tc.amount, sent.Get("sg_Amount"))
			assert.Equal(t, "USD", sent.Get("sg_Currency"))
			assert.Equal(t, "111951", sent.Get("sg_AuthCode"))
			assert.Equal(t, "101510108311", sent.Get("sg_TransactionID"))
			assert.Equal(t, "09", sent.Get("sg_ExpMonth"))
			assert.Equal(t, "30", sent.Get("sg_ExpYear"))
			assert.Equal(t, tc.credit, sent.Get("sg_CreditType"))
			assert.Empty(t, sent.Get("sg_CardNumber"))
		})
	}
}

func TestSafeCharge_SettleWithoutAuthCode(t *testing.T) {
	// given
	vendor := newFakeVendor(t, func(w http.ResponseWriter, r *http.Request, body string) {
		reply := fmt.Sprintf(safechargeApprovedTmpl, "101510108312")
		if parseForm(t, body).Get("sg_TransType") == "Settle" {
			reply = strings.Replace(reply, "<AuthCode>111951</AuthCode>", "<AuthCode></AuthCode>", 1)
		}
		_, _ = w.Write([]byte(reply))
	})
	gw := newSafeCharge(vendor.URL)
	ctx := context.Background()

	auth, err := gw.Authorize(ctx, 1000, testCard(), payment.Options{})
	require.NoError(t, err)
	capture, err := gw.Capture(ctx, 1000, auth.Authorization(), payment.Options{})
	require.NoError(t, err)
	require.True(t, capture.Success())
	assert.Equal(t, "|101510108312|MQBVAG4ASABkAEgAagB3AEsAbgAtACoAWgAzAFwAWwBNAF8AdAB8AE4AZQA|09|30|Settle|10.00|USD", capture.Authorization())

	// when
	void, err := gw.Void(ctx, capture.Authorization(), payment.Options{})

	// then
	require.NoError(t, err)
	assert.True(t, void.Success(), void.Message())
	assert.Len(t, vendor.Requests(), 3)
	sent := parseForm(t, vendor.Last().Body)
	assert.Equal(t, "Void", sent.Get("sg_TransType"))
	assert.Equal(t, "101510108312", sent.Get("sg_TransactionID"))
	assert.Empty(t, sent.Get("sg_AuthCode"))
}

func TestSafeCharge_Credit(t *testing.T) {
	vendor := safechargeApprover(t)
	gw := newSafeCharge(vendor.URL)

	r, err := gw.Credit(context.Background(), 500, testCard(), payment.Options{})

	require.NoError(t, err)
	assert.True(t, r.Success())
	assert.True(t, strings.HasSuffix(r.Authorization(), "|Credit|5.00|USD"))
	sent := parseForm(t, vendor.Last().Body)
	assert.Equal(t, "1", sent.Get("sg_CreditType"))
	assert.Equal(t, "4263970000005262", sent.Get("sg_CardNumber"))
}

func TestSafeCharge_Declines(t *testing.T) {
	testCases := []struct {
		name     string
		response string
		code     payment.ErrorCode
		message  string
	}{
		{
			name:     "declined",
			response: `<Response><Status>DECLINED</Status><Reason>Decline</Reason><ErrCode>-1</ErrCode><ExErrCode>0</ExErrCode><TransactionID>1</TransactionID></Response>`,
			code:     payment.CardDeclined,
			message:  "Decline",
		},
		{
			name:     "expired card",
			response: `<Response><Status>ERROR</Status><Reason>Expiration Date Too Old</Reason><ErrCode>-1100</ErrCode><ExErrCode>1002</ExErrCode></Response>`,
			code:     payment.ExpiredCard,
			message:  "Expiration Date Too Old",
		},
		{
			name:     "invalid login",
			response: `<Response><Status>ERROR</Status><Reason>Invalid login</Reason><ErrCode>-1001</ErrCode><ExErrCode>0</ExErrCode></Response>`,
			code:     payment.ConfigError,
			message:  "Invalid login",
		},
		{
			name:     "unmapped error",
			response: `<Response><Status>ERROR</Status><ErrorMessage>Unknown</ErrorMessage><ErrCode>-1100</ErrCode><ExErrCode>5555</ExErrCode></Response>`,
			code:     payment.ProcessingError,
			message:  "Unknown",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			vendor := newFakeVendor(t, func(w http.ResponseWriter, r *http.Request, body string) {
				_, _ = w.Write([]byte(tc.response))
			})
			gw := newSafeCharge(vendor.URL)

			r, err := gw.Purchase(context.Background(), 100, testCard(), payment.Options{})

			require.NoError(t, err)
			assert.False(t, r.Success())
			assert.Equal(t, tc.code, r.ErrorCode())
			assert.Equal(t, tc.message, r.Message())
			assert.Empty(t, r.Authorization())
		})
	}
}

func TestSafeCharge_InvalidAuthorization(t *testing.T) {
	vendor := safechargeApprover(t)
	gw := newSafeCharge(vendor.URL)

	for _, token := range []string{"", "111951", "111951|1|tok|09|30|Sale||USD"} {
		r, err := gw.Void(context.Background(), token, payment.Options{})

		require.NoError(t, err)
		assert.False(t, r.Success(), token)
		assert.Equal(t, payment.ProcessingError, r.ErrorCode())
	}
	assert.Empty(t, vendor.Requests())
}

func TestSafeCharge_Verify(t *testing.T) {
	vendor := safechargeApprover(t)
	gw := newSafeCharge(vendor.URL)

	r, err := gw.Verify(context.Background(), testCard(), payment.Options{})

	require.NoError(t, err)
	assert.True(t, r.Success())
	reqs := vendor.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "Auth", parseForm(t, reqs[0].Body).Get("sg_TransType"))
	void := parseForm(t, reqs[1].Body)
	assert.Equal(t, "Void", void.Get("sg_TransType"))
	assert.Equal(t, "1.00", void.Get("sg_Amount"))
}

func TestSafeCharge_Unsupported(t *testing.T) {
	gw := newSafeCharge(closedURL())

	_, err := gw.Store(context.Background(), testCard(), payment.Options{})
	assert.ErrorIs(t, err, payment.ErrNotSupported)

	r, err := gw.Purchase(context.Background(), 100, payment.StoredToken("abc"), payment.Options{})
	require.NoError(t, err)
	assert.False(t, r.Success())
	assert.Equal(t, payment.UnsupportedFeature, r.ErrorCode())
}

func TestSafeCharge_TransportFailures(t *testing.T) {
	t.Run("connection refused", func(t *testing.T) {
		gw := newSafeCharge(closedURL())

		_, err := gw.Purchase(context.Background(), 100, testCard(), payment.Options{})

		assert.True(t, payment.IsTransport(err))
	})

	t.Run("unparseable body", func(t *testing.T) {
		vendor := newFakeVendor(t, func(w http.ResponseWriter, r *http.Request, body string) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("<html><body>Bad Gateway"))
		})
		gw := newSafeCharge(vendor.URL)

		_, err := gw.Purchase(context.Background(), 100, testCard(), payment.Options{})

		var te *payment.TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, http.StatusBadGateway, te.StatusCode)
		assert.Len(t, vendor.Requests(), 1)
	})
}

func TestSafeCharge_Scrub(t *testing.T) {
	vendor := safechargeApprover(t)
	gw := newSafeCharge(vendor.URL)
	tr := httpclient.NewTranscript()

	_, err := gw.Purchase(httpclient.WithTranscript(context.Background(), tr), 100, testCard(), payment.Options{})
	require.NoError(t, err)

	raw := tr.String()
	require.Contains(t, raw, "sg_CardNumber=4263970000005262")
	scrubbed := gw.Scrub(raw)
	assert.NotContains(t, scrubbed, "4263970000005262")
	assert.NotContains(t, scrubbed, "sg_CVV2=123")
	assert.NotContains(t, scrubbed, "5Jp5xKmgqY")
	assert.Contains(t, scrubbed, "sg_CardNumber=[FILTERED]")
}
