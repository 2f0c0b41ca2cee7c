// Package netatmo controls a single household's Netatmo heating setup: one
// relay, one thermostat and one thermostatic valve. It manages the OAuth2
// token lifecycle, caches expensive upstream reads, and derives composite
// device state from the "home status" call.
//
// The Netatmo API is documented at https://dev.netatmo.com/apidocumentation/energy
// and the OAuth2 flow at https://dev.netatmo.com/apidocumentation/oauth . The
// one-time interactive authorization-code exchange happens outside this
// package; the client starts from an already-issued refresh token.
package netatmo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	chaidata "github.com/chai-project/chai-data-sources"
	"github.com/chai-project/chai-data-sources/internal/cache"
	"github.com/chai-project/chai-data-sources/internal/clock"
	"github.com/chai-project/chai-data-sources/internal/oauth"
)

const (
	// DefaultAPIURL is the production API endpoint, without trailing slash.
	DefaultAPIURL = "https://api.netatmo.com/api"
	// DefaultOAuthURL is the production OAuth2 endpoint, without trailing slash.
	DefaultOAuthURL = "https://api.netatmo.com/oauth2"

	temperatureTTL = 4 * time.Minute
	statusTTL      = 15 * time.Second

	statusCacheKey = "home-status"

	// DefaultSetpointMinutes is the window applied to manual setpoints when
	// no duration is given: a full day.
	DefaultSetpointMinutes = 24 * 60

	onTemperature  = 30 // °C used by TurnOn
	offTemperature = 7  // °C used by TurnOff for the valve (frost guard floor)
)

var (
	ErrMissingCredentials = errors.New("netatmo: client id, client secret and refresh token are required")
	ErrRelayNotFound      = errors.New("netatmo: expected exactly one relay")
	ErrThermostatNotFound = errors.New("netatmo: expected exactly one thermostat")
	ErrValveNotFound      = errors.New("netatmo: expected exactly one valve")
	ErrHomeNotFound       = errors.New("netatmo: expected exactly one home")
	ErrBoilerStatus       = errors.New("netatmo: boiler status unavailable")
	ErrMeasurement        = errors.New("netatmo: expected a single measurement")
	ErrInvalidDuration    = errors.New("netatmo: a strictly positive duration is required")
	ErrInvalidTemperature = errors.New("netatmo: temperature must be between 7 and 30 °C")
	ErrEndBeforeStart     = errors.New("netatmo: the end date must be after the start date")
	ErrInvalidInterval    = errors.New("netatmo: interval must be a divisor of 30 minutes")
)

// Config configures a Client.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	AccessToken  string // optional; when empty the first call refreshes

	APIURL     string       // defaults to DefaultAPIURL
	OAuthURL   string       // defaults to DefaultOAuthURL
	HTTPClient *http.Client // defaults to a client with a 30s timeout
	Logger     *slog.Logger // defaults to slog.Default()

	// OnTokenRotate is invoked after every successful token refresh. The
	// refresh token is single-use: persist the rotated pair, or the next
	// process restart requires re-authorization.
	OnTokenRotate func(TokenPair)
}

// Client accesses one household's Netatmo heating devices. Safe for
// concurrent use; independent clients do not share state.
type Client struct {
	apiURL     string
	oauthURL   string
	httpClient *http.Client
	logger     *slog.Logger
	clk        clock.Clock

	tokens   *oauth.Store
	topology Topology

	temps  *cache.Cache[DeviceTemperature]
	status *cache.Cache[Status]
}

// NewClient builds a client and resolves the device topology. Topology
// resolution failures are fatal and reported as *chaidata.ConfigError.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, &chaidata.ConfigError{Service: "netatmo", Err: ErrMissingCredentials}
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.OAuthURL == "" {
		cfg.OAuthURL = DefaultOAuthURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	clk := clock.Real{}
	temps, err := cache.New[DeviceTemperature](0, clk)
	if err != nil {
		return nil, err
	}
	status, err := cache.New[Status](0, clk)
	if err != nil {
		return nil, err
	}

	c := &Client{
		apiURL:     cfg.APIURL,
		oauthURL:   cfg.OAuthURL,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		clk:        clk,
		temps:      temps,
		status:     status,
	}

	refresh := func(ctx context.Context, refreshToken string) (oauth.Credentials, error) {
		return c.refreshTokens(ctx, cfg.ClientID, cfg.ClientSecret, refreshToken)
	}
	var rotate oauth.RotateFunc
	if cfg.OnTokenRotate != nil {
		onRotate := cfg.OnTokenRotate
		rotate = func(creds oauth.Credentials) {
			onRotate(TokenPair{
				AccessToken:  creds.AccessToken,
				RefreshToken: creds.RefreshToken,
				ExpiresAt:    creds.ExpiresAt,
			})
		}
	}
	c.tokens = oauth.NewStore(oauth.Credentials{
		AccessToken:  cfg.AccessToken,
		RefreshToken: cfg.RefreshToken,
	}, refresh, rotate, clk)

	if err := c.resolveTopology(ctx); err != nil {
		var authErr *chaidata.AuthError
		if errors.As(err, &authErr) {
			return nil, err
		}
		return nil, &chaidata.ConfigError{Service: "netatmo", Err: err}
	}
	c.logger.Info("netatmo topology resolved",
		"home", c.topology.HomeID,
		"relay", c.topology.RelayID,
		"thermostat", c.topology.ThermostatID,
		"valve", c.topology.ValveID)
	return c, nil
}

// Topology returns the resolved device topology.
func (c *Client) Topology() Topology {
	return c.topology
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// refreshTokens exchanges the refresh token for a new pair at the token
// endpoint. The old refresh token is spent by this call regardless of the
// outcome on our side.
func (c *Client) refreshTokens(ctx context.Context, clientID, clientSecret, refreshToken string) (oauth.Credentials, error) {
	const op = "token"
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.oauthURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return oauth.Credentials{}, &chaidata.UpstreamError{Service: "netatmo", Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return oauth.Credentials{}, &chaidata.UpstreamError{Service: "netatmo", Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return oauth.Credentials{}, &chaidata.UpstreamError{Service: "netatmo", Op: op, Err: err}
	}

	if resp.StatusCode == http.StatusBadRequest {
		var oauthErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &oauthErr) == nil {
			switch oauthErr.Error {
			case "invalid_client", "invalid_grant":
				return oauth.Credentials{}, &chaidata.AuthError{
					Service: "netatmo", Op: op, Terminal: true,
					Err: fmt.Errorf("token refresh rejected: %s", oauthErr.Error),
				}
			}
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return oauth.Credentials{}, &chaidata.UpstreamError{Service: "netatmo", Op: op, StatusCode: resp.StatusCode}
	}

	var tokens tokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return oauth.Credentials{}, &chaidata.UpstreamError{Service: "netatmo", Op: op, Err: fmt.Errorf("malformed token response: %w", err)}
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return oauth.Credentials{}, &chaidata.UpstreamError{Service: "netatmo", Op: op, Err: errors.New("token response missing tokens")}
	}

	creds := oauth.Credentials{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	}
	if tokens.ExpiresIn > 0 {
		creds.ExpiresAt = c.clk.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
	}
	c.logger.Debug("access token renewed")
	return creds, nil
}

// call posts a form to an API endpoint with a valid access token and decodes
// the JSON response into out. An authorization rejection triggers one token
// refresh and one retry; a second rejection is terminal for this call.
func (c *Client) call(ctx context.Context, endpoint string, form url.Values, out interface{}) error {
	op := strings.TrimPrefix(endpoint, "/")

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return c.tokenError(op, err)
	}

	status, body, err := c.post(ctx, endpoint, form, token)
	if err != nil {
		return &chaidata.UpstreamError{Service: "netatmo", Op: op, Err: err}
	}
	if isAuthStatus(status) {
		c.logger.Debug("authorization rejected; renewing the access token", "endpoint", endpoint)
		c.tokens.MarkExpired(token)
		token, err = c.tokens.Token(ctx)
		if err != nil {
			return c.tokenError(op, err)
		}
		status, body, err = c.post(ctx, endpoint, form, token)
		if err != nil {
			return &chaidata.UpstreamError{Service: "netatmo", Op: op, Err: err}
		}
		if isAuthStatus(status) {
			return &chaidata.AuthError{
				Service: "netatmo", Op: op,
				Err: fmt.Errorf("still unauthorized after token refresh (status %d)", status),
			}
		}
	}
	if status < 200 || status >= 300 {
		return &chaidata.UpstreamError{Service: "netatmo", Op: op, StatusCode: status}
	}
	if len(body) == 0 {
		return &chaidata.UpstreamError{Service: "netatmo", Op: op, Err: errors.New("empty response")}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &chaidata.UpstreamError{Service: "netatmo", Op: op, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}

func (c *Client) post(ctx context.Context, endpoint string, form url.Values, token string) (int, []byte, error) {
	if form == nil {
		form = url.Values{}
	}
	form.Set("access_token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func (c *Client) tokenError(op string, err error) error {
	var authErr *chaidata.AuthError
	if errors.As(err, &authErr) {
		return err
	}
	if errors.Is(err, oauth.ErrInvalidated) {
		return &chaidata.AuthError{Service: "netatmo", Op: op, Terminal: true, Err: err}
	}
	return err
}

func isAuthStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}
