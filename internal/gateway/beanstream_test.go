package gateway

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/activemerchant/active-merchant-sub021/internal/config"
	"github.com/activemerchant/active-merchant-sub021/internal/payment"
	"github.com/activemerchant/active-merchant-sub021/internal/pkg/httpclient"
)

func newBeanstream(url string) *BeanstreamGateway {
	return NewBeanstreamGateway(config.GatewayConfig{
		Test:     true,
		BaseURL:  url,
		Login:    "300200578",
		Account:  "apiuser",
		Password: "apipass",
		Secret:   "profilepass",
	}, testDeps())
}

// beanstreamVendor approves everything and echoes the type and amount.
func beanstreamVendor(t *testing.T) *fakeVendor {
	return newFakeVendor(t, func(w http.ResponseWriter, r *http.Request, body string) {
		form, err := url.ParseQuery(body)
		require.NoError(t, err)

		if r.URL.Path == beanstreamProfilePath {
			_, _ = w.Write([]byte(url.Values{
				"responseCode":    {"1"},
				"responseMessage": {"Operation Successful"},
				"customerCode":    {"B2c1D4e5F6"},
			}.Encode()))
			return
		}

		_, _ = w.Write([]byte(url.Values{
			"trnApproved":    {"1"},
			"trnId":          {"10000123"},
			"messageId":      {"1"},
			"messageText":    {"Approved"},
			"authCode":       {"TEST"},
			"errorType":      {"N"},
			"trnType":        {form.Get("trnType")},
			"trnAmount":      {form.Get("trnAmount")},
			"trnOrderNumber": {form.Get("trnOrderNumber")},
			"avsProcessed":   {"1"},
			"avsId":          {"Y"},
			"avsAddrMatch":   {"1"},
			"avsPostalMatch": {"1"},
			"cvdId":          {"1"},
		}.Encode()))
	})
}

func lastForm(t *testing.T, fv *fakeVendor) url.Values {
	t.Helper()
	form, err := url.ParseQuery(fv.Last().Body)
	require.NoError(t, err)
	return form
}

func TestBeanstream_PurchaseAndAuthorize(t *testing.T) {
	ctx := context.Background()
	vendor := beanstreamVendor(t)
	gw := newBeanstream(vendor.URL)

	t.Run("purchase", func(t *testing.T) {
		r, err := gw.Purchase(ctx, 1000, testCard(), payment.Options{
			OrderID:        "order-1",
			BillingAddress: &payment.Address{Name: "Jim Smith", Address1: "456 My Street", Zip: "K1C2N6", Country: "CA"},
		})

		require.NoError(t, err)
		assert.True(t, r.Success())
		assert.Equal(t, "Approved", r.Message())
		assert.Equal(t, "10000123;10.00;P", r.Authorization())
		assert.Equal(t, "Y", r.AVS().Code)
		assert.Equal(t, "M", r.CVV().Code)

		form := lastForm(t, vendor)
		assert.Equal(t, "BACKEND", form.Get("requestType"))
		assert.Equal(t, "P", form.Get("trnType"))
		assert.Equal(t, "10.00", form.Get("trnAmount"))
		assert.Equal(t, "09", form.Get("trnExpMonth"))
		assert.Equal(t, "30", form.Get("trnExpYear"))
		assert.Equal(t, "K1C2N6", form.Get("ordPostalCode"))
	})

	t.Run("authorize", func(t *testing.T) {
		r, err := gw.Authorize(ctx, 1000, testCard(), payment.Options{})

		require.NoError(t, err)
		assert.Equal(t, "10000123;10.00;PA", r.Authorization())
	})

	t.Run("purchase with stored profile", func(t *testing.T) {
		r, err := gw.Purchase(ctx, 500, payment.StoredToken("B2c1D4e5F6"), payment.Options{})

		require.NoError(t, err)
		assert.True(t, r.Success())
		form := lastForm(t, vendor)
		assert.Equal(t, "B2c1D4e5F6", form.Get("customerCode"))
		assert.Empty(t, form.Get("trnCardNumber"))
	})
}

func TestBeanstream_Void(t *testing.T) {
	testCases := []struct {
		name   string
		auth   string
		typ    string
		amount string
	}{
		{name: "purchase", auth: "10000123;10.00;P", typ: "VP", amount: "10.00"},
		{name: "capture", auth: "10000124;9.99;PAC", typ: "VP", amount: "9.99"},
		{name: "refund", auth: "10000125;5.00;R", typ: "VR", amount: "5.00"},
		{name: "pre-authorization", auth: "10000126;10.00;PA", typ: "PAC", amount: "0.00"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			vendor := beanstreamVendor(t)
			gw := newBeanstream(vendor.URL)

			r, err := gw.Void(context.Background(), tc.auth, payment.Options{})

			require.NoError(t, err)
			assert.True(t, r.Success())
			form := lastForm(t, vendor)
			assert.Equal(t, tc.typ, form.Get("trnType"))
			assert.Equal(t, tc.amount, form.Get("trnAmount"))
			assert.Equal(t, tc.auth[:8], form.Get("adjId"))
		})
	}

	t.Run("token without the echoed amount", func(t *testing.T) {
		vendor := beanstreamVendor(t)
		gw := newBeanstream(vendor.URL)

		r, err := gw.Void(context.Background(), "10000123", payment.Options{})

		require.NoError(t, err)
		assert.False(t, r.Success())
		assert.Empty(t, vendor.Requests())
	})
}

func TestBeanstream_CaptureAndRefund(t *testing.T) {
	ctx := context.Background()
	vendor := beanstreamVendor(t)
	gw := newBeanstream(vendor.URL)

	r, err := gw.Capture(ctx, 999, "10000123;10.00;PA", payment.Options{})
	require.NoError(t, err)
	assert.True(t, r.Success())
	assert.Equal(t, "9.99", r.Param("trnAmount"))
	assert.Equal(t, "PAC", lastForm(t, vendor).Get("trnType"))

	r, err = gw.Refund(ctx, 500, r.Authorization(), payment.Options{})
	require.NoError(t, err)
	assert.True(t, r.Success())
	form := lastForm(t, vendor)
	assert.Equal(t, "R", form.Get("trnType"))
	assert.Equal(t, "5.00", form.Get("trnAmount"))
	assert.Equal(t, "10000123", form.Get("adjId"))
}

func TestBeanstream_Declines(t *testing.T) {
	testCases := []struct {
		name     string
		response url.Values
		code     payment.ErrorCode
	}{
		{
			name:     "card declined",
			response: url.Values{"trnApproved": {"0"}, "messageId": {"7"}, "messageText": {"DECLINE"}, "errorType": {"N"}},
			code:     payment.CardDeclined,
		},
		{
			name:     "refund above original",
			response: url.Values{"trnApproved": {"0"}, "messageId": {"312"}, "messageText": {"Return amount exceeds original"}, "errorType": {"U"}},
			code:     payment.ProcessingError,
		},
		{
			name:     "bad credentials",
			response: url.Values{"trnApproved": {"0"}, "messageId": {"0"}, "messageText": {"Authorization Failed"}, "errorType": {"S"}},
			code:     payment.ConfigError,
		},
		{
			name:     "unmapped vendor code",
			response: url.Values{"trnApproved": {"0"}, "messageId": {"1234"}, "messageText": {"Something"}, "errorType": {"N"}},
			code:     payment.ErrorCode("1234"),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			vendor := newFakeVendor(t, func(w http.ResponseWriter, r *http.Request, body string) {
				_, _ = w.Write([]byte(tc.response.Encode()))
			})
			gw := newBeanstream(vendor.URL)

			r, err := gw.Refund(context.Background(), 100000, "10000123;10.00;P", payment.Options{})

			require.NoError(t, err)
			assert.False(t, r.Success())
			assert.Equal(t, tc.code, r.ErrorCode())
			assert.Equal(t, tc.response.Get("messageText"), r.Message())
		})
	}
}

func TestBeanstream_UnencodableTransactionID(t *testing.T) {
	vendor := newFakeVendor(t, func(w http.ResponseWriter, r *http.Request, body string) {
		_, _ = w.Write([]byte(url.Values{
			"trnApproved": {"1"},
			"trnId":       {"10000123;7"},
			"messageId":   {"1"},
			"messageText": {"Approved"},
			"trnType":     {"P"},
			"trnAmount":   {"10.00"},
		}.Encode()))
	})
	gw := newBeanstream(vendor.URL)

	r, err := gw.Purchase(context.Background(), 1000, testCard(), payment.Options{})

	require.NoError(t, err)
	assert.False(t, r.Success())
	assert.Equal(t, payment.ProcessingError, r.ErrorCode())
	assert.Contains(t, r.Message(), "Unusable authorization")
	assert.Empty(t, r.Authorization())
	assert.Equal(t, "10000123;7", r.Param("trnId"))
}

func TestBeanstream_Verify(t *testing.T) {
	vendor := beanstreamVendor(t)
	gw := newBeanstream(vendor.URL)

	r, err := gw.Verify(context.Background(), testCard(), payment.Options{})

	require.NoError(t, err)
	assert.True(t, r.Success())
	require.Len(t, r.Responses(), 2)
	requests := vendor.Requests()
	require.Len(t, requests, 2)
	first, _ := url.ParseQuery(requests[0].Body)
	second, _ := url.ParseQuery(requests[1].Body)
	assert.Equal(t, "PA", first.Get("trnType"))
	assert.Equal(t, "1.00", first.Get("trnAmount"))
	assert.Equal(t, "PAC", second.Get("trnType"))
	assert.Equal(t, "0.00", second.Get("trnAmount"))
}

func TestBeanstream_Profiles(t *testing.T) {
	ctx := context.Background()
	vendor := beanstreamVendor(t)
	gw := newBeanstream(vendor.URL)

	r, err := gw.Store(ctx, testCard(), payment.Options{})
	require.NoError(t, err)
	assert.True(t, r.Success())
	assert.Equal(t, "B2c1D4e5F6", r.Authorization())
	form := lastForm(t, vendor)
	assert.Equal(t, "N", form.Get("operationType"))
	assert.Equal(t, "profilepass", form.Get("passCode"))

	r, err = gw.Update(ctx, "B2c1D4e5F6", testCard(), payment.Options{})
	require.NoError(t, err)
	assert.True(t, r.Success())
	assert.Equal(t, "M", lastForm(t, vendor).Get("operationType"))

	r, err = gw.Unstore(ctx, "B2c1D4e5F6", payment.Options{})
	require.NoError(t, err)
	assert.True(t, r.Success())
	assert.Equal(t, "C", lastForm(t, vendor).Get("status"))

	r, err = gw.Unstore(ctx, "", payment.Options{})
	require.NoError(t, err)
	assert.False(t, r.Success())
}

func TestBeanstream_TransportFailure(t *testing.T) {
	vendor := newFakeVendor(t, func(w http.ResponseWriter, r *http.Request, body string) {
		w.WriteHeader(http.StatusBadGateway)
	})
	gw := newBeanstream(vendor.URL)

	_, err := gw.Purchase(context.Background(), 100, testCard(), payment.Options{})

	assert.True(t, payment.IsTransport(err))
}

func TestBeanstream_Scrub(t *testing.T) {
	vendor := beanstreamVendor(t)
	gw := newBeanstream(vendor.URL)
	tr := httpclient.NewTranscript()

	_, err := gw.Purchase(httpclient.WithTranscript(context.Background(), tr), 100, testCard(), payment.Options{})
	require.NoError(t, err)

	scrubbed := gw.Scrub(tr.String())
	assert.NotContains(t, scrubbed, "4263970000005262")
	assert.NotContains(t, scrubbed, "trnCardCvd=123")
	assert.NotContains(t, scrubbed, "apipass")
	assert.Contains(t, scrubbed, "trnCardNumber=[FILTERED]")
}
