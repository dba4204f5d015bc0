package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ClientCredentialsTokenSource fetches and caches bearer tokens from an
// OpenID Connect token endpoint using the client_credentials grant
// (spec.md §6: LTA_AUTH_OPENID_URL / CLIENT_ID / CLIENT_SECRET), refreshing
// once the cached token is within 30 seconds of expiry.
type ClientCredentialsTokenSource struct {
	tokenURL     string
	clientID     string
	clientSecret string
	http         *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewClientCredentialsTokenSource builds a TokenSource against tokenURL,
// the OpenID provider's token endpoint.
func NewClientCredentialsTokenSource(tokenURL, clientID, clientSecret string, httpClient *http.Client) *ClientCredentialsTokenSource {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ClientCredentialsTokenSource{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         httpClient,
	}
}

// Token returns a cached bearer token, fetching a new one if the cached
// token is missing or within 30 seconds of expiry.
func (s *ClientCredentialsTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Until(s.expires) > 30*time.Second {
		return s.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {s.clientID},
		"client_secret": {s.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("oauth: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("oauth: token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oauth: token endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("oauth: decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("oauth: token response missing access_token")
	}

	s.token = body.AccessToken
	s.expires = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	return s.token, nil
}
