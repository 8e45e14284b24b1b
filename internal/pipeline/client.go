package pipeline

import (
	"context"
	"crypto/tls"
	"net/http"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"

	"github.com/ppiankov/legiscrape/internal/model"
	"github.com/ppiankov/legiscrape/internal/util"
)

// Request describes one outbound call
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Get builds a GET request
func Get(url string) *Request {
	return &Request{Method: http.MethodGet, URL: url}
}

// Response is a fully read HTTP response
type Response struct {
	StatusCode int         `json:"status_code"`
	Status     string      `json:"status"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	URL        string      `json:"url"` // Final URL after redirects
}

// Text returns the body as a string
func (r *Response) Text() string {
	return string(r.Body)
}

// OK reports whether the status is 2xx
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client is the plain HTTP client the Fetcher decorates. Do returns an error
// only for transport failures; any status code is a successful Do.
type Client interface {
	Do(ctx context.Context, req *Request) (*Response, error)
	SetUserAgent(ua string)
	Close()
}

// ClientFactory builds a fresh client with its own connection pool
type ClientFactory func() (Client, error)

type restyClient struct {
	http *resty.Client
}

// NewRestyClient creates a resty-backed client from HTTP settings
func NewRestyClient(cfg model.HTTPConfig) Client {
	transport := &http.Transport{
		Proxy:           util.NewProxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy, cfg.NoProxy),
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS},
	}

	client := resty.New()
	client.SetTransport(transport)
	if cfg.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	client.SetTimeout(cfg.Timeout)
	client.SetRetryCount(0)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))

	return &restyClient{http: client}
}

// RestyClientFactory returns a factory producing resty clients for cfg
func RestyClientFactory(cfg model.HTTPConfig) ClientFactory {
	return func() (Client, error) {
		return NewRestyClient(cfg), nil
	}
}

func (c *restyClient) Do(ctx context.Context, req *Request) (*Response, error) {
	r := c.http.R().SetContext(ctx)
	for key, values := range req.Header {
		for _, v := range values {
			r.Header.Add(key, v)
		}
	}
	if len(req.Body) > 0 {
		r.SetBody(req.Body)
	}

	res, err := r.Execute(req.Method, req.URL)
	if err != nil {
		return nil, err
	}

	final := req.URL
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		final = res.RawResponse.Request.URL.String()
	}

	return &Response{
		StatusCode: res.StatusCode(),
		Status:     res.Status(),
		Header:     res.Header(),
		Body:       res.Body(),
		URL:        final,
	}, nil
}

func (c *restyClient) SetUserAgent(ua string) {
	c.http.SetHeader("User-Agent", ua)
}

func (c *restyClient) Close() {
	c.http.GetClient().CloseIdleConnections()
}
