package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"dronesync-desktop/internal/logging"
)

var log = logging.Get("api")

// Client is the field-operations backend REST client
type Client struct {
	baseURL string
	token   string
	http    *resty.Client
}

// NewClient creates a REST client authenticating with a bearer token.
// An empty token sends unauthenticated requests.
func NewClient(baseURL, token string) *Client {
	client := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}

	client.http = resty.New().
		SetHeader("Accept", "application/json").
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil {
				return false
			}
			// Retry on 429 (Too Many Requests) and 5xx server errors
			return r.StatusCode() == 429 || (r.StatusCode() >= 500 && r.StatusCode() <= 504)
		})

	if token != "" {
		client.http.SetAuthToken(token)
	}

	return client
}

// Get performs a GET request against the backend
func (c *Client) Get(ctx context.Context, endpoint string, params map[string]string) (*resty.Response, error) {
	req := c.http.R().SetContext(ctx)
	if params != nil {
		req.SetQueryParams(params)
	}
	return req.Get(c.buildURL(endpoint))
}

// Patch performs a PATCH request with a JSON body
func (c *Client) Patch(ctx context.Context, endpoint string, payload interface{}) (*resty.Response, error) {
	return c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Patch(c.buildURL(endpoint))
}

// BaseURL returns the normalized base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// buildURL constructs the full URL for an endpoint
func (c *Client) buildURL(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "/")
	return fmt.Sprintf("%s/%s", c.baseURL, endpoint)
}

// SetTimeout allows customizing the request timeout
func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.http.SetTimeout(timeout)
	}
}

// SetRetry sets how many times a request is retried and the initial wait between attempts
func (c *Client) SetRetry(count int, wait time.Duration) {
	if count >= 0 {
		c.http.SetRetryCount(count)
	}
	if wait > 0 {
		c.http.SetRetryWaitTime(wait)
	}
}
