// Package meadtools implements the MeadTools hydrometer HTTP protocol:
// authentication with bearer-token refresh, idempotent hydrometer and brew
// registration, and telemetry publication.
package meadtools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultHTTPTimeout = 10 * time.Second

// Identity is the client's remote identity. It is mutated only as a result
// of successful HTTP responses; every mutation is handed to the persistence
// hook so tokens survive restarts.
type Identity struct {
	DeviceToken  string `json:"MTDeviceToken"`
	AccessToken  string `json:"AccessToken"`
	RefreshToken string `json:"RefreshToken"`
}

// Credentials is the email/password pair used for full logins.
type Credentials struct {
	Email    string
	Password string
}

// Options configures a Client.
type Options struct {
	// BaseURL is the MeadTools API root, without a trailing slash.
	BaseURL string

	Credentials Credentials
	Identity    Identity

	// OnIdentityChange is invoked after every identity mutation. The config
	// layer uses it to persist tokens; nil disables persistence.
	OnIdentityChange func(Identity)

	// HTTPClient overrides the default 10s-timeout client, mainly for tests.
	HTTPClient *http.Client

	Logger *logrus.Logger
}

// Client talks to one MeadTools account. Safe for use from multiple session
// goroutines.
type Client struct {
	baseURL  string
	creds    Credentials
	http     *http.Client
	logger   *logrus.Entry
	onChange func(Identity)

	mu       sync.Mutex
	identity Identity
}

// NewClient creates a Client from options.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		baseURL:  opts.BaseURL,
		creds:    opts.Credentials,
		http:     httpClient,
		logger:   logger.WithField("component", "meadtools"),
		onChange: opts.OnIdentityChange,
		identity: opts.Identity,
	}
}

// Identity returns a snapshot of the current remote identity.
func (c *Client) Identity() Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Client) mutateIdentity(fn func(*Identity)) {
	c.mu.Lock()
	fn(&c.identity)
	snapshot := c.identity
	c.mu.Unlock()

	if c.onChange != nil {
		c.onChange(snapshot)
	}
}

func (c *Client) accessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity.AccessToken
}

// Login performs a full email/password login. On success both tokens are
// replaced; on rejection the stored tokens are left untouched.
func (c *Client) Login(ctx context.Context) error {
	body := map[string]string{
		"email":    c.creds.Email,
		"password": c.creds.Password,
	}

	var out struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	status, err := c.post(ctx, "login", c.baseURL+"/auth/login", body, &out)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		c.logger.WithField("status", status).Warn("Login rejected")
		return &AuthError{Op: "login", Status: status}
	}

	c.mutateIdentity(func(id *Identity) {
		id.AccessToken = out.AccessToken
		id.RefreshToken = out.RefreshToken
	})
	c.logger.Info("Logged in to MeadTools")
	return nil
}

// Refresh exchanges the stored refresh token for a new access token. It
// returns false on any failure; the caller falls back to a full Login.
func (c *Client) Refresh(ctx context.Context) bool {
	c.mu.Lock()
	body := map[string]string{
		"email":        c.creds.Email,
		"refreshToken": c.identity.RefreshToken,
	}
	c.mu.Unlock()

	var out struct {
		AccessToken string `json:"accessToken"`
	}
	status, err := c.post(ctx, "refresh", c.baseURL+"/auth/refresh", body, &out)
	if err != nil {
		c.logger.WithError(err).Warn("Token refresh failed")
		return false
	}
	if status != http.StatusOK {
		c.logger.WithField("status", status).Warn("Token refresh rejected")
		return false
	}

	c.mutateIdentity(func(id *Identity) {
		id.AccessToken = out.AccessToken
	})
	c.logger.Debug("Refreshed MeadTools access token")
	return true
}

// EnsureLoggedIn establishes a usable access token: refresh when a token
// pair is stored, falling back to a full login; a full login when only
// credentials are stored; ErrNotConfigured when neither exists.
func (c *Client) EnsureLoggedIn(ctx context.Context) error {
	c.mu.Lock()
	hasTokens := c.identity.AccessToken != "" && c.identity.RefreshToken != ""
	c.mu.Unlock()

	if hasTokens {
		if c.Refresh(ctx) {
			return nil
		}
		c.logger.Info("Refresh failed, attempting full login")
		return c.Login(ctx)
	}
	if c.creds.Email != "" && c.creds.Password != "" {
		return c.Login(ctx)
	}
	return ErrNotConfigured
}

// EnsureDeviceToken returns the configured device token, generating one from
// the service when none is stored. A device token is required for every
// hydrometer and brew operation.
func (c *Client) EnsureDeviceToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.identity.DeviceToken
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "generate device token", c.baseURL+"/hydrometer/token", nil, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", ErrNoDeviceToken
	}

	c.mutateIdentity(func(id *Identity) {
		id.DeviceToken = out.Token
	})
	c.logger.Info("Generated new MeadTools device token")
	return out.Token, nil
}

// post sends an unauthenticated JSON POST and decodes a 200 response into
// out. It returns the status code so auth endpoints can map rejections to
// AuthError themselves; transport failures come back as RemoteError.
func (c *Client) post(ctx context.Context, op, url string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("meadtools: encode %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, &RemoteError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return 0, &RemoteError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return resp.StatusCode, nil
}

// doJSON sends an authenticated request and requires a 200 response, decoded
// into out when non-nil.
func (c *Client) doJSON(ctx context.Context, method, op, url string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("meadtools: encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return &RemoteError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken())

	resp, err := c.http.Do(req)
	if err != nil {
		return &RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Op: op, Status: resp.StatusCode}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &RemoteError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}
