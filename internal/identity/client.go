package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dev-xero/chessio-server/internal/game"
	"github.com/valyala/fasthttp"
)

// ErrUnauthorized means the credential did not resolve to an identity.
var ErrUnauthorized = errors.New("credential rejected by identity service")

// Client resolves bearer credentials against the external identity service.
// This layer never verifies credentials itself; it only trusts what the
// service hands back.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	timeout time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type whoamiResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Verify exchanges a bearer token for the verified identity behind it.
func (c *Client) Verify(ctx context.Context, token string) (*game.Player, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthorized
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + "/v1/auth/whoami")
	req.Header.Set("Authorization", "Bearer "+token)

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if err := c.http.DoTimeout(req, resp, timeout); err != nil {
		return nil, fmt.Errorf("identity request: %w", err)
	}

	switch resp.StatusCode() {
	case fasthttp.StatusOK:
	case fasthttp.StatusUnauthorized, fasthttp.StatusForbidden:
		return nil, ErrUnauthorized
	default:
		return nil, fmt.Errorf("identity service status %d", resp.StatusCode())
	}

	var who whoamiResponse
	if err := json.Unmarshal(resp.Body(), &who); err != nil {
		return nil, fmt.Errorf("decode identity response: %w", err)
	}
	if who.ID == "" || who.Username == "" {
		return nil, ErrUnauthorized
	}
	return &game.Player{ID: who.ID, Username: who.Username}, nil
}
