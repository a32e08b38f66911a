//go:build remote

package gateway

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/activemerchant/active-merchant-sub021/internal/config"
	"github.com/activemerchant/active-merchant-sub021/internal/payment"
	"github.com/activemerchant/active-merchant-sub021/internal/pkg/httpclient"
)

// remoteGateways builds every sandbox gateway listed in the fixtures file.
// Tests skip when no fixtures are configured.
func remoteGateways(t *testing.T) map[string]payment.Gateway {
	t.Helper()
	path := os.Getenv("FIXTURES_PATH")
	if path == "" {
		path = "../../fixtures.yml"
	}
	cfgs, err := config.LoadGateways(path)
	require.NoError(t, err)
	if len(cfgs) == 0 {
		t.Skipf("no gateway fixtures in %s", path)
	}

	out := map[string]payment.Gateway{}
	for name, cfg := range cfgs {
		if !cfg.Test {
			continue
		}
		gw, err := New(cfg, Deps{Logger: zaptest.NewLogger(t)})
		require.NoError(t, err, name)
		out[name] = gw
	}
	return out
}

func remoteCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)
	return ctx
}

func remoteOptions() payment.Options {
	return payment.Options{
		OrderID:     "remote-" + time.Now().UTC().Format("20060102150405.000"),
		Description: "Store Purchase",
		Email:       "longbob@example.com",
	}
}

func TestRemote_Purchase(t *testing.T) {
	for name, gw := range remoteGateways(t) {
		t.Run(name, func(t *testing.T) {
			r, err := gw.Purchase(remoteCtx(t), 100, testCard(), remoteOptions())

			require.NoError(t, err)
			assert.True(t, r.Success(), r.Message())
			assert.True(t, r.Test())
			assert.NotEmpty(t, r.Authorization())
		})
	}
}

func TestRemote_AuthorizeCaptureRefund(t *testing.T) {
	for name, gw := range remoteGateways(t) {
		t.Run(name, func(t *testing.T) {
			ctx := remoteCtx(t)
			tx := payment.NewTransaction(gw.Name())

			auth, err := gw.Authorize(ctx, 100, testCard(), remoteOptions())
			require.NoError(t, err)
			require.True(t, auth.Success(), auth.Message())
			tx.Record(payment.OpAuthorize, 100, auth)

			capture, err := gw.Capture(ctx, 100, tx.Authorization(), payment.Options{})
			require.NoError(t, err)
			require.True(t, capture.Success(), capture.Message())
			tx.Record(payment.OpCapture, 100, capture)

			refund, err := gw.Refund(ctx, 100, tx.Authorization(), payment.Options{})
			require.NoError(t, err)
			assert.True(t, refund.Success(), refund.Message())
			tx.Record(payment.OpRefund, 100, refund)

			assert.Equal(t, payment.StateRefunded, tx.State())
		})
	}
}

func TestRemote_PartialCapture(t *testing.T) {
	for name, gw := range remoteGateways(t) {
		if !gw.Capabilities().PartialCapture {
			continue
		}
		t.Run(name, func(t *testing.T) {
			ctx := remoteCtx(t)
			auth, err := gw.Authorize(ctx, 100, testCard(), remoteOptions())
			require.NoError(t, err)
			require.True(t, auth.Success(), auth.Message())

			capture, err := gw.Capture(ctx, 99, auth.Authorization(), payment.Options{})
			require.NoError(t, err)
			assert.True(t, capture.Success(), capture.Message())
		})
	}
}

func TestRemote_AuthorizeVoid(t *testing.T) {
	for name, gw := range remoteGateways(t) {
		t.Run(name, func(t *testing.T) {
			ctx := remoteCtx(t)
			auth, err := gw.Authorize(ctx, 100, testCard(), remoteOptions())
			require.NoError(t, err)
			require.True(t, auth.Success(), auth.Message())

			void, err := gw.Void(ctx, auth.Authorization(), payment.Options{})
			require.NoError(t, err)
			assert.True(t, void.Success(), void.Message())
		})
	}
}

func TestRemote_VoidAfterCapture(t *testing.T) {
	for name, gw := range remoteGateways(t) {
		policy := gw.Capabilities().VoidAfterCapture
		if policy == payment.VoidAfterCaptureUnknown {
			continue
		}
		t.Run(name, func(t *testing.T) {
			ctx := remoteCtx(t)
			auth, err := gw.Authorize(ctx, 100, testCard(), remoteOptions())
			require.NoError(t, err)
			require.True(t, auth.Success(), auth.Message())
			capture, err := gw.Capture(ctx, 100, auth.Authorization(), payment.Options{})
			require.NoError(t, err)
			require.True(t, capture.Success(), capture.Message())

			void, err := gw.Void(ctx, capture.Authorization(), payment.Options{})

			require.NoError(t, err)
			assert.Equal(t, policy == payment.VoidAfterCaptureAccepted, void.Success(), void.Message())
		})
	}
}

func TestRemote_RefundAboveOriginal(t *testing.T) {
	for name, gw := range remoteGateways(t) {
		if !gw.Capabilities().RefundCeiling {
			continue
		}
		t.Run(name, func(t *testing.T) {
			ctx := remoteCtx(t)
			purchase, err := gw.Purchase(ctx, 100, testCard(), remoteOptions())
			require.NoError(t, err)
			require.True(t, purchase.Success(), purchase.Message())

			refund, err := gw.Refund(ctx, 200, purchase.Authorization(), payment.Options{})

			require.NoError(t, err)
			assert.False(t, refund.Success(), refund.Message())
		})
	}
}

func TestRemote_CaptureWithBogusAuthorization(t *testing.T) {
	for name, gw := range remoteGateways(t) {
		t.Run(name, func(t *testing.T) {
			r, err := gw.Capture(remoteCtx(t), 100, "bogus", payment.Options{})

			require.NoError(t, err)
			assert.False(t, r.Success())
		})
	}
}

func TestRemote_Verify(t *testing.T) {
	for name, gw := range remoteGateways(t) {
		if !gw.Capabilities().Verify {
			continue
		}
		t.Run(name, func(t *testing.T) {
			r, err := gw.Verify(remoteCtx(t), testCard(), remoteOptions())

			require.NoError(t, err)
			assert.True(t, r.Success(), r.Message())
		})
	}
}

func TestRemote_StoreThenPurchase(t *testing.T) {
	for name, gw := range remoteGateways(t) {
		caps := gw.Capabilities()
		if !caps.Store || !caps.Accepts(payment.KindToken) {
			continue
		}
		t.Run(name, func(t *testing.T) {
			ctx := remoteCtx(t)
			stored, err := gw.Store(ctx, testCard(), remoteOptions())
			require.NoError(t, err)
			require.True(t, stored.Success(), stored.Message())
			require.NotEmpty(t, stored.Authorization())

			purchase, err := gw.Purchase(ctx, 100, payment.StoredToken(stored.Authorization()), remoteOptions())
			require.NoError(t, err)
			assert.True(t, purchase.Success(), purchase.Message())

			if caps.Unstore {
				unstore, err := gw.Unstore(ctx, stored.Authorization(), payment.Options{})
				require.NoError(t, err)
				assert.True(t, unstore.Success(), unstore.Message())
			}
		})
	}
}

func TestRemote_TranscriptScrubbing(t *testing.T) {
	for name, gw := range remoteGateways(t) {
		t.Run(name, func(t *testing.T) {
			tr := httpclient.NewTranscript()
			ctx := httpclient.WithTranscript(remoteCtx(t), tr)
			card := testCard()

			_, err := gw.Purchase(ctx, 100, card, remoteOptions())
			require.NoError(t, err)

			scrubbed := gw.Scrub(tr.String())
			assert.NotEmpty(t, scrubbed)
			assert.False(t, strings.Contains(scrubbed, card.Number), "card number leaked")
			assert.NotRegexp(t, `(?i)(cvv|cvc|cvd|securitycode)\W+`+card.VerificationValue+`\b`, scrubbed)
		})
	}
}
