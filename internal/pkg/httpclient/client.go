package httpclient

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client wraps resty for requests to gateway endpoints. Retries are
// disabled: a failed exchange is reported to the caller once.
type Client struct {
	r *resty.Client
}

// Response is the raw outcome of an exchange that reached the server.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ServerError reports a 5xx status.
func (r *Response) ServerError() bool {
	return r.StatusCode >= 500
}

// New creates a new HTTP client with sensible defaults.
func New() *Client {
	r := resty.New().
		SetTimeout(30 * time.Second).
		SetRetryCount(0).
		SetTransport(&TranscriptTransport{Base: http.DefaultTransport.(*http.Transport).Clone()})

	return &Client{r: r}
}

// WithTimeout sets a custom timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.r.SetTimeout(d)
	return c
}

// WithBasicAuth sets HTTP basic credentials on every request.
func (c *Client) WithBasicAuth(username, password string) *Client {
	c.r.SetBasicAuth(username, password)
	return c
}

// Request returns a new resty Request bound to ctx.
func (c *Client) Request(ctx context.Context) *resty.Request {
	return c.r.R().SetContext(ctx)
}

// Send executes req. The error is non-nil only when no response was received.
func (c *Client) Send(req *resty.Request, method, url string) (*Response, error) {
	resp, err := req.Execute(method, url)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: resp.StatusCode(),
		Body:       resp.Body(),
		Header:     resp.Header(),
	}, nil
}

// PostJSON sends a POST request with a JSON body.
func (c *Client) PostJSON(ctx context.Context, url string, body interface{}, headers map[string]string) (*Response, error) {
	req := c.Request(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeaders(headers)
	if body != nil {
		req.SetBody(body)
	}
	return c.Send(req, http.MethodPost, url)
}

// PutJSON sends a PUT request with a JSON body.
func (c *Client) PutJSON(ctx context.Context, url string, body interface{}, headers map[string]string) (*Response, error) {
	req := c.Request(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeaders(headers).
		SetBody(body)
	return c.Send(req, http.MethodPut, url)
}

// PostForm sends a POST request with form data.
func (c *Client) PostForm(ctx context.Context, url string, data url.Values) (*Response, error) {
	return c.Send(c.Request(ctx).SetFormDataFromValues(data), http.MethodPost, url)
}

// PostXML sends a POST request with a raw XML body.
func (c *Client) PostXML(ctx context.Context, url string, body []byte) (*Response, error) {
	req := c.Request(ctx).
		SetHeader("Content-Type", "text/xml").
		SetBody(body)
	return c.Send(req, http.MethodPost, url)
}

// Delete sends a DELETE request.
func (c *Client) Delete(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return c.Send(c.Request(ctx).SetHeaders(headers), http.MethodDelete, url)
}

// NewHTTPClient returns a plain net/http client with transcript capture,
// for SDKs that bring their own request layer.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &TranscriptTransport{Base: http.DefaultTransport.(*http.Transport).Clone()},
	}
}
