// Package efergy reads current and historic power data for a single
// energy-clamp meter through the Energyhive API.
//
// The API is documented at http://napi.hbcontent.com/document/index.php . A
// meter is addressed directly by its app token; there is no refresh protocol
// for this service.
package efergy

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
	"github.com/chai-project/chai-data-sources/internal/ratelimit"
)

const (
	// DefaultBaseURL is the production Energyhive endpoint. It must not
	// contain a trailing slash; point it at a mock server in tests.
	DefaultBaseURL = "http://www.energyhive.com/mobile_proxy"

	// currentRefreshInterval is how often the service publishes a new
	// current-power value.
	currentRefreshInterval = 30 * time.Second

	// historicCallsPerSecond is the documented ceiling for historic
	// retrieval calls.
	historicCallsPerSecond = 20
)

var (
	ErrNoToken          = errors.New("efergy: an app token is required")
	ErrInvalidToken     = errors.New("efergy: bad token")
	ErrNoMeter          = errors.New("efergy: no meter found")
	ErrMultipleMeters   = errors.New("efergy: multiple meters reported, expected one")
	ErrNoReading        = errors.New("efergy: zero or ambiguous meter readings")
	ErrEndBeforeStart   = errors.New("efergy: the end date must be after the start date")
	ErrInvalidInterval  = errors.New("efergy: interval must be a divisor of 30 minutes")
	ErrIntervalMismatch = errors.New("efergy: reported interval duration does not match the request")
)

// Config configures a Meter.
type Config struct {
	Token      string       // app token, created at https://www.energyhive.com/settings/tokens
	BaseURL    string       // defaults to DefaultBaseURL
	HTTPClient *http.Client // defaults to a client with a 30s timeout
	Logger     *slog.Logger // defaults to slog.Default()
}

// Meter reads data for one Efergy meter. Safe for concurrent use.
type Meter struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	clk        clock.Clock
	current    *cache.Cache[CurrentPower]
	limiter    *ratelimit.Limiter
}

// NewMeter creates a meter client for the given configuration.
func NewMeter(cfg Config) (*Meter, error) {
	if cfg.Token == "" {
		return nil, ErrNoToken
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	clk := clock.Real{}
	current, err := cache.New[CurrentPower](0, clk)
	if err != nil {
		return nil, err
	}
	return &Meter{
		token:      cfg.Token,
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		clk:        clk,
		current:    current,
		limiter:    ratelimit.New(historicCallsPerSecond),
	}, nil
}

// Current returns the current power reading, served from cache until the
// server-declared expiry passes.
func (m *Meter) Current(ctx context.Context) (CurrentPower, error) {
	reading, err := m.current.GetOrFetch(ctx, m.token, currentRefreshInterval, m.fetchCurrent)
	if err != nil {
		return CurrentPower{}, err
	}
	if !m.clk.Now().Before(reading.Expires) {
		// The server declared a newer value available before our TTL ran out.
		m.current.Invalidate(m.token)
		return m.current.GetOrFetch(ctx, m.token, currentRefreshInterval, m.fetchCurrent)
	}
	return reading, nil
}

type powerSummary struct {
	SID   string           `json:"sid"`
	Data  []map[string]int `json:"data"`
	Units string           `json:"units"`
	Age   int              `json:"age"`
}

type apiFailure struct {
	Status      string `json:"status"`
	Desc        string `json:"desc"`
	Description string `json:"description"`
	Error       *struct {
		ID int `json:"id"`
	} `json:"error"`
}

func (m *Meter) fetchCurrent(ctx context.Context) (CurrentPower, error) {
	const op = "getCurrentValuesSummary"
	body, err := m.get(ctx, "/getCurrentValuesSummary", nil)
	if err != nil {
		return CurrentPower{}, err
	}

	var summaries []powerSummary
	if err := json.Unmarshal(body, &summaries); err != nil {
		return CurrentPower{}, m.classifyFailure(op, body)
	}
	switch {
	case len(summaries) == 0:
		return CurrentPower{}, &chaidata.UpstreamError{Service: "efergy", Op: op, Err: ErrNoMeter}
	case len(summaries) > 1:
		return CurrentPower{}, &chaidata.UpstreamError{Service: "efergy", Op: op, Err: ErrMultipleMeters}
	}

	readings := summaries[0].Data
	if len(readings) != 1 || len(readings[0]) != 1 {
		return CurrentPower{}, &chaidata.UpstreamError{Service: "efergy", Op: op, Err: ErrNoReading}
	}
	for stamp, watts := range readings[0] {
		measuredAt, err := chaidata.ParseUnixMilli(stamp)
		if err != nil {
			return CurrentPower{}, &chaidata.UpstreamError{Service: "efergy", Op: op, Err: err}
		}
		return CurrentPower{Value: watts, Expires: measuredAt.Add(currentRefreshInterval)}, nil
	}
	return CurrentPower{}, &chaidata.UpstreamError{Service: "efergy", Op: op, Err: ErrNoReading}
}

// classifyFailure maps a non-summary response body onto the error taxonomy.
func (m *Meter) classifyFailure(op string, body []byte) error {
	var failure apiFailure
	if err := json.Unmarshal(body, &failure); err != nil {
		return &chaidata.UpstreamError{Service: "efergy", Op: op, Err: fmt.Errorf("unexpected response: %w", err)}
	}
	if failure.Error != nil && failure.Error.ID == 500 {
		return &chaidata.UpstreamError{Service: "efergy", Op: op, StatusCode: 500, Err: errors.New("server error")}
	}
	if failure.Status == "error" {
		desc := failure.Desc
		if desc == "" {
			desc = failure.Description
		}
		if strings.EqualFold(desc, "bad token") {
			return &chaidata.AuthError{Service: "efergy", Op: op, Terminal: true, Err: ErrInvalidToken}
		}
		return &chaidata.UpstreamError{Service: "efergy", Op: op, Err: fmt.Errorf("got server error: %s", strings.ToLower(desc))}
	}
	return &chaidata.UpstreamError{Service: "efergy", Op: op, Err: fmt.Errorf("unexpected response: %s", string(body))}
}

// get performs a GET against the API and returns the raw body. The app token
// is appended to every request.
func (m *Meter) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	op := strings.TrimPrefix(endpoint, "/")
	if params == nil {
		params = url.Values{}
	}
	params.Set("token", m.token)

	requestURL := m.baseURL + endpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, &chaidata.UpstreamError{Service: "efergy", Op: op, Err: err}
	}
	m.logger.Debug("accessing efergy endpoint", "endpoint", endpoint)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, &chaidata.UpstreamError{Service: "efergy", Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusInternalServerError {
		return nil, &chaidata.UpstreamError{Service: "efergy", Op: op, StatusCode: resp.StatusCode, Err: errors.New("server error")}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &chaidata.UpstreamError{Service: "efergy", Op: op, Err: err}
	}
	if len(body) == 0 {
		return nil, &chaidata.UpstreamError{Service: "efergy", Op: op, StatusCode: resp.StatusCode, Err: errors.New("empty response")}
	}
	return body, nil
}
