package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"
)

// Credentials is the JSON credential object returned by a custodian
// endpoint (§6: "optional cache-backend-specific credentials delivered via
// a custodian endpoint (URL read from an environment variable) that returns
// a JSON credential object").
type Credentials struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
}

// CustodianEndpointEnv is the environment variable naming the custodian
// endpoint URL.
const CustodianEndpointEnv = "WIREIT_CACHE_CUSTODIAN_ENDPOINT"

// FetchCredentials calls the custodian endpoint named by the
// CustodianEndpointEnv environment variable and decodes its JSON response.
// It returns (nil, nil) when the environment variable is unset, meaning the
// remote backend should be constructed without credentials.
func FetchCredentials(ctx context.Context, httpClient *http.Client) (*Credentials, error) {
	endpoint := os.Getenv(CustodianEndpointEnv)
	if endpoint == "" {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("custodian endpoint %s: unexpected status %s", endpoint, resp.Status)
	}
	var creds Credentials
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return nil, fmt.Errorf("custodian endpoint %s: %w", endpoint, err)
	}
	return &creds, nil
}

// TokenSource adapts Credentials to an oauth2.TokenSource for use by the
// remote cache's HTTP transport.
func (c *Credentials) TokenSource() oauth2.TokenSource {
	tokenType := c.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: c.AccessToken,
		TokenType:   tokenType,
	})
}
