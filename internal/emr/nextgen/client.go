// Package nextgen implements the emr.Gateway interface against the NextGen
// Enterprise API.
package nextgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/wavelinehealth/frontdesk/pkg/logging"
)

// Client talks to the NextGen Enterprise API. Besides the bearer token it
// maintains the NextGen session header (x-ng-sessionid) obtained through the
// login-defaults endpoint; both are cached and refreshed on demand.
type Client struct {
	baseURL      string
	authURL      string
	clientID     string
	clientSecret string
	siteID       string
	enterpriseID string
	practiceID   string
	locationID   string
	httpClient   *http.Client
	logger       *logging.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
	sessionID   string
}

// Config holds configuration for the NextGen client.
type Config struct {
	BaseURL      string // e.g. "https://nativeapi.nextgen.com/nge/prod/nge-api/api"
	AuthURL      string // OAuth 2.0 token endpoint
	ClientID     string
	ClientSecret string
	SiteID       string
	EnterpriseID string
	PracticeID   string
	LocationID   string // default location for slot searches
	Timeout      time.Duration
	Logger       *logging.Logger
}

// New creates a new NextGen Enterprise API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("nextgen: BaseURL is required")
	}
	if cfg.AuthURL == "" {
		return nil, fmt.Errorf("nextgen: AuthURL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("nextgen: ClientID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("nextgen: ClientSecret is required")
	}
	if cfg.LocationID == "" {
		return nil, fmt.Errorf("nextgen: LocationID is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	return &Client{
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		authURL:      cfg.AuthURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		siteID:       cfg.SiteID,
		enterpriseID: cfg.EnterpriseID,
		practiceID:   cfg.PracticeID,
		locationID:   cfg.LocationID,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger,
	}, nil
}

// apiResponse carries the parts of a NextGen response the gateway operations
// care about. Created resources report their IDs through the Location header,
// not the body.
type apiResponse struct {
	statusCode int
	header     http.Header
	body       []byte
}

func (r *apiResponse) decode(v any) error {
	if len(r.body) == 0 {
		return fmt.Errorf("nextgen: empty response body")
	}
	return json.Unmarshal(r.body, v)
}

// locationID returns the trailing path segment of the Location header, the way
// NextGen reports IDs of newly created resources.
func (r *apiResponse) locationID() (string, error) {
	loc := r.header.Get("Location")
	if loc == "" {
		return "", fmt.Errorf("nextgen: Location header missing from response")
	}
	id := loc[strings.LastIndex(loc, "/")+1:]
	if id == "" {
		return "", fmt.Errorf("nextgen: Location header %q has no trailing ID", loc)
	}
	return id, nil
}

// request performs an authenticated API call. An error response whose body
// mentions the session clears the cached session ID so the next call
// re-establishes it through login-defaults.
func (c *Client) request(ctx context.Context, method, endpoint string, query url.Values, payload any) (*apiResponse, error) {
	token, sessionID, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	fullURL := c.baseURL + "/" + endpoint
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("nextgen: failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("nextgen: failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("x-ng-sessionid", sessionID)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nextgen: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("nextgen: failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if strings.Contains(strings.ToLower(string(respBody)), "session") {
			c.mu.Lock()
			c.sessionID = ""
			c.mu.Unlock()
			c.logger.Warn("nextgen session rejected, cached session ID cleared")
		}
		return nil, fmt.Errorf("nextgen: API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return &apiResponse{
		statusCode: resp.StatusCode,
		header:     resp.Header,
		body:       respBody,
	}, nil
}

// ensureSession returns a valid bearer token and NextGen session ID, fetching
// or refreshing either as needed.
func (c *Client) ensureSession(ctx context.Context) (token, sessionID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken == "" || !time.Now().Add(time.Minute).Before(c.tokenExpiry) {
		if err := c.authenticate(ctx); err != nil {
			return "", "", err
		}
	}
	if c.sessionID == "" {
		if err := c.establishSession(ctx); err != nil {
			return "", "", err
		}
	}
	return c.accessToken, c.sessionID, nil
}

// authenticate performs the OAuth 2.0 client credentials exchange. The site ID
// rides in the form body alongside the client credentials. Callers hold c.mu.
func (c *Client) authenticate(ctx context.Context) error {
	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", c.clientID)
	data.Set("client_secret", c.clientSecret)
	data.Set("site_id", c.siteID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("nextgen: failed to create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("nextgen: auth request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("nextgen: auth failed (status %d): %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return fmt.Errorf("nextgen: failed to decode auth response: %w", err)
	}
	if tokenResp.ExpiresIn == 0 {
		tokenResp.ExpiresIn = 3600
	}

	c.accessToken = tokenResp.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	c.logger.Info("nextgen access token refreshed", "expires_in_seconds", tokenResp.ExpiresIn)
	return nil
}

// establishSession obtains the x-ng-sessionid header by setting the login
// defaults for the configured enterprise and practice. Callers hold c.mu.
func (c *Client) establishSession(ctx context.Context) error {
	payload := map[string]string{
		"enterpriseId": c.enterpriseID,
		"practiceId":   c.practiceID,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("nextgen: failed to marshal login defaults: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/users/me/login-defaults", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("nextgen: failed to create login-defaults request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("nextgen: login-defaults request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("nextgen: login-defaults failed (status %d): %s", resp.StatusCode, string(body))
	}

	sessionID := resp.Header.Get("x-ng-sessionid")
	if sessionID == "" {
		return fmt.Errorf("nextgen: x-ng-sessionid header missing from login-defaults response")
	}
	c.sessionID = sessionID
	c.logger.Info("nextgen session established")
	return nil
}
