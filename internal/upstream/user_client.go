package upstream

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// UserClient is a data-plane client bound to one user's live upstream
// access token. Requests made through it are authorized by the upstream
// store's own row-level policies; this service never re-implements them.
type UserClient struct {
	baseURL     string
	serviceKey  string
	accessToken string
	http        *http.Client
}

// UserClient scopes a client to the given access token. The token is the
// decrypted upstream credential of a live session and must not outlive the
// request it was resolved for.
func (c *Client) UserClient(accessToken string) *UserClient {
	return &UserClient{
		baseURL:     c.baseURL,
		serviceKey:  c.serviceKey,
		accessToken: accessToken,
		http:        c.http,
	}
}

// NewUserClient builds a scoped client without a parent Client; used by
// adapters that only hold configuration.
func NewUserClient(baseURL, serviceKey, accessToken string, timeout time.Duration) *UserClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &UserClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		serviceKey:  serviceKey,
		accessToken: accessToken,
		http:        &http.Client{Timeout: timeout},
	}
}

// AccessToken exposes the bound token for adapters that forward it
// verbatim (e.g. proxied storage downloads).
func (uc *UserClient) AccessToken() string { return uc.accessToken }

// Do performs an authenticated request against a data-plane path
// (joined to the configured base URL).
func (uc *UserClient) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, uc.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", uc.serviceKey)
	req.Header.Set("Authorization", "Bearer "+uc.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return uc.http.Do(req)
}
