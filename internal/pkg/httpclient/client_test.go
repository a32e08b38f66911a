package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_DoesNotRetry(t *testing.T) {
	// given
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("busy"))
	}))
	defer server.Close()

	// when
	resp, err := New().PostJSON(context.Background(), server.URL, map[string]string{"a": "b"}, nil)

	// then
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.True(t, resp.ServerError())
	assert.False(t, resp.OK())
	assert.Equal(t, "busy", string(resp.Body))
}

func TestClient_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	resp, err := New().Delete(context.Background(), addr, nil)

	assert.Error(t, err)
	assert.Nil(t, resp)
}

func TestClient_Transcript(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "amount=1.00&card=4111111111111111", string(body))
		_, _ = w.Write([]byte("approved=1"))
	}))
	defer server.Close()

	tr := NewTranscript()
	ctx := WithTranscript(context.Background(), tr)

	resp, err := New().WithBasicAuth("user", "pass").PostForm(ctx, server.URL, url.Values{
		"amount": {"1.00"},
		"card":   {"4111111111111111"},
	})

	require.NoError(t, err)
	assert.Equal(t, "approved=1", string(resp.Body))
	out := tr.String()
	assert.Contains(t, out, "POST / HTTP/1.1")
	assert.Contains(t, out, "Authorization: Basic")
	assert.Contains(t, out, "card=4111111111111111")
	assert.Contains(t, out, "approved=1")
}

func TestClient_NoTranscriptWithoutContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	tr := NewTranscript()
	_, err := New().PutJSON(context.Background(), server.URL, map[string]string{"a": "b"}, map[string]string{"X-Test": "1"})

	require.NoError(t, err)
	assert.Empty(t, tr.String())
}

func TestClient_MethodsAndHeaders(t *testing.T) {
	type seen struct {
		method, contentType, custom, body string
	}
	var got seen
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = seen{r.Method, r.Header.Get("Content-Type"), r.Header.Get("X-Test"), string(body)}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()
	ctx := context.Background()
	headers := map[string]string{"X-Test": "1"}

	resp, err := New().PutJSON(ctx, server.URL, map[string]string{"a": "b"}, headers)
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, seen{http.MethodPut, "application/json", "1", `{"a":"b"}`}, got)

	_, err = New().PostJSON(ctx, server.URL, nil, headers)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, got.method)
	assert.Empty(t, got.body)

	_, err = New().Delete(ctx, server.URL, headers)
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, got.method)
	assert.Equal(t, "1", got.custom)
}
