package gateway

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/activemerchant/active-merchant-sub021/internal/payment"
)

var fixedNow = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func testDeps() Deps {
	return Deps{Now: func() time.Time { return fixedNow }}
}

func testCard() *payment.CreditCard {
	return &payment.CreditCard{
		Number:            "4263970000005262",
		Month:             9,
		Year:              2030,
		VerificationValue: "123",
		FirstName:         "Longbob",
		LastName:          "Longsen",
	}
}

// recordedRequest is one call seen by a fake vendor server.
type recordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   string
}

// fakeVendor is an httptest server answering from a handler and recording
// every request.
type fakeVendor struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func newFakeVendor(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body string)) *fakeVendor {
	t.Helper()
	fv := &fakeVendor{}
	fv.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		fv.mu.Lock()
		fv.requests = append(fv.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Header: r.Header.Clone(),
			Body:   string(raw),
		})
		fv.mu.Unlock()
		handler(w, r, string(raw))
	}))
	t.Cleanup(fv.Close)
	return fv
}

func (fv *fakeVendor) Requests() []recordedRequest {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	return append([]recordedRequest(nil), fv.requests...)
}

func (fv *fakeVendor) Last() recordedRequest {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	if len(fv.requests) == 0 {
		return recordedRequest{}
	}
	return fv.requests[len(fv.requests)-1]
}

// closedURL returns the address of a server that is no longer listening.
func closedURL() string {
	s := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := s.URL
	s.Close()
	return url
}
