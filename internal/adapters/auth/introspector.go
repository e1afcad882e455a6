// Package auth provides core.TokenIntrospector implementations: an
// HTTP client for an OAuth-style introspection endpoint, and a
// passthrough variant for development setups without an identity
// provider.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/haveloc/servehub/internal/core"
)

// HTTPIntrospector posts bearer tokens to an introspection endpoint
// authenticated with client credentials. The endpoint answers with the
// token's activity flag and the owning username.
type HTTPIntrospector struct {
	introspectURL string
	clientID      string
	clientSecret  string
	client        *http.Client
}

var _ core.TokenIntrospector = (*HTTPIntrospector)(nil)

// NewHTTPIntrospector creates an introspection client.
func NewHTTPIntrospector(introspectURL, clientID, clientSecret string) *HTTPIntrospector {
	return &HTTPIntrospector{
		introspectURL: introspectURL,
		clientID:      clientID,
		clientSecret:  clientSecret,
		client:        &http.Client{Timeout: 10 * time.Second},
	}
}

type introspectResponse struct {
	Active   bool   `json:"active"`
	Username string `json:"username"`
}

// Introspect resolves a token to its username, or fails for inactive
// and unknown tokens.
func (i *HTTPIntrospector) Introspect(ctx context.Context, token string) (string, error) {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.introspectURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(i.clientID, i.clientSecret)

	resp, err := i.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("introspecting token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("introspection endpoint returned %d", resp.StatusCode)
	}

	var body introspectResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding introspection response: %w", err)
	}
	if !body.Active || body.Username == "" {
		return "", errors.New("token is not active")
	}
	return body.Username, nil
}

// Passthrough treats the bearer token itself as the username. Only for
// development runs without an identity provider.
type Passthrough struct{}

var _ core.TokenIntrospector = Passthrough{}

// Introspect returns the token as the username.
func (Passthrough) Introspect(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", errors.New("empty token")
	}
	return token, nil
}
