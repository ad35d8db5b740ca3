package httpclient

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const UserAgent = "LinkIt REST Client"

type Client struct {
	*resty.Client
}

type ClientFunc func(*Client)

type RequestFunc func(*resty.Request)

// New returns a JSON client with a 10 second timeout.
func New(cfs ...ClientFunc) *Client {
	return newClient(resty.New(), cfs...)
}

// NewWithClient wraps an existing http.Client, such as one returned by an
// oauth2 token source.
func NewWithClient(hc *http.Client, cfs ...ClientFunc) *Client {
	return newClient(resty.NewWithClient(hc), cfs...)
}

func newClient(r *resty.Client, cfs ...ClientFunc) *Client {
	r.SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", UserAgent).
		SetTimeout(10 * time.Second)

	c := &Client{Client: r}
	for _, cf := range cfs {
		cf(c)
	}
	return c
}

func SetBaseURL(url string) ClientFunc {
	return func(c *Client) {
		c.Client.SetBaseURL(url)
	}
}

func SetTimeout(d time.Duration) ClientFunc {
	return func(c *Client) {
		c.Client.SetTimeout(d)
	}
}

func SetClientHeader(key, value string) ClientFunc {
	return func(c *Client) {
		c.Client.SetHeader(key, value)
	}
}

func (c *Client) Get(url string, rfs ...RequestFunc) (*resty.Response, error) {
	return c.Request(resty.MethodGet, url, rfs...)
}

func (c *Client) Post(url string, rfs ...RequestFunc) (*resty.Response, error) {
	return c.Request(resty.MethodPost, url, rfs...)
}

func (c *Client) Patch(url string, rfs ...RequestFunc) (*resty.Response, error) {
	return c.Request(resty.MethodPatch, url, rfs...)
}

func (c *Client) Delete(url string, rfs ...RequestFunc) (*resty.Response, error) {
	return c.Request(resty.MethodDelete, url, rfs...)
}

func (c *Client) Request(method, url string, rfs ...RequestFunc) (*resty.Response, error) {
	r := c.R()
	for _, rf := range rfs {
		rf(r)
	}
	return wrapError(r.Execute(method, url))
}

func wrapError(res *resty.Response, err error) (*resty.Response, error) {
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		return nil, NewErrorFromRestyResponse(res)
	}
	return res, nil
}

func SetContext(ctx context.Context) RequestFunc {
	return func(r *resty.Request) {
		r.SetContext(ctx)
	}
}

func SetQueryParam(key, value string) RequestFunc {
	return func(r *resty.Request) {
		r.SetQueryParam(key, value)
	}
}

func SetQueryParams(params map[string]string) RequestFunc {
	return func(r *resty.Request) {
		r.SetQueryParams(params)
	}
}

func SetHeader(key, value string) RequestFunc {
	return func(r *resty.Request) {
		r.SetHeader(key, value)
	}
}

func SetAuthToken(token string) RequestFunc {
	return func(r *resty.Request) {
		r.SetAuthToken(token)
	}
}

// SetAuthScheme overrides the "Bearer" scheme used by SetAuthToken.
func SetAuthScheme(scheme string) RequestFunc {
	return func(r *resty.Request) {
		r.SetAuthScheme(scheme)
	}
}

func SetBody(body interface{}) RequestFunc {
	return func(r *resty.Request) {
		r.SetBody(body)
	}
}

func SetResult(result interface{}) RequestFunc {
	return func(r *resty.Request) {
		r.SetResult(result)
	}
}
