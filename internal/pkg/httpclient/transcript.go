package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"sync"
)

// Transcript accumulates raw request and response text for one call.
type Transcript struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

func (t *Transcript) write(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(&t.buf, format, args...)
}

// String returns everything recorded so far. It is not scrubbed.
func (t *Transcript) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

type transcriptKey struct{}

// WithTranscript attaches t to ctx; requests made with the returned
// context are recorded into t.
func WithTranscript(ctx context.Context, t *Transcript) context.Context {
	return context.WithValue(ctx, transcriptKey{}, t)
}

// TranscriptFrom returns the transcript attached to ctx, if any.
func TranscriptFrom(ctx context.Context) *Transcript {
	t, _ := ctx.Value(transcriptKey{}).(*Transcript)
	return t
}

// TranscriptTransport records exchanges whose request context carries a
// Transcript.
type TranscriptTransport struct {
	Base http.RoundTripper
}

func (t *TranscriptTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *TranscriptTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tr := TranscriptFrom(req.Context())
	if tr == nil {
		return t.base().RoundTrip(req)
	}

	if dump, err := httputil.DumpRequestOut(req, true); err == nil {
		tr.write("-> %s\n", dump)
	}
	resp, err := t.base().RoundTrip(req)
	if err != nil {
		tr.write("!! %v\n", err)
		return nil, err
	}
	if dump, err := httputil.DumpResponse(resp, true); err == nil {
		tr.write("<- %s\n", dump)
	}
	return resp, nil
}
