// Package oauth manages an OAuth2 access/refresh token pair: caching the
// access token, refreshing it transparently when it expires, and rotating the
// single-use refresh token on every successful refresh.
package oauth

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	chaidata "github.com/chai-project/chai-data-sources"
	"github.com/chai-project/chai-data-sources/internal/clock"
)

// State is the lifecycle state of the token pair.
type State int

const (
	StateValid State = iota
	StateExpired
	StateRefreshing
	StateInvalid // terminal: the refresh token was rejected
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateExpired:
		return "expired"
	case StateRefreshing:
		return "refreshing"
	case StateInvalid:
		return "invalid"
	}
	return "unknown"
}

// ErrInvalidated is returned for every operation once the refresh token has
// been rejected. Recovery requires out-of-band re-authorization.
var ErrInvalidated = errors.New("refresh token rejected; re-authorization required")

// Credentials is an access/refresh token pair. ExpiresAt may be zero when the
// upstream service does not declare an expiry; the access token is then used
// until a call reports it rejected.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// RefreshFunc exchanges a refresh token for a new credential pair at the
// token endpoint. A *chaidata.AuthError return marks the refresh token as
// rejected and the store as terminally invalid; any other error leaves the
// store expired so that a later call can retry.
type RefreshFunc func(ctx context.Context, refreshToken string) (Credentials, error)

// RotateFunc is invoked after every successful refresh with the new pair, so
// that callers can persist the rotated refresh token. Losing a rotated
// refresh token is unrecoverable without re-authorization.
type RotateFunc func(Credentials)

// Store holds the current token pair and drives the refresh protocol. Safe
// for concurrent use; concurrent expiry detections collapse into a single
// refresh attempt.
type Store struct {
	refresh  RefreshFunc
	onRotate RotateFunc
	clk      clock.Clock

	mu    sync.Mutex
	state State
	creds Credentials

	group singleflight.Group
}

// NewStore creates a store seeded with creds. The store starts valid when an
// access token is present and not yet expired, otherwise expired. onRotate
// may be nil.
func NewStore(creds Credentials, refresh RefreshFunc, onRotate RotateFunc, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	s := &Store{refresh: refresh, onRotate: onRotate, clk: clk, creds: creds}
	if creds.AccessToken != "" && (creds.ExpiresAt.IsZero() || clk.Now().Before(creds.ExpiresAt)) {
		s.state = StateValid
	} else {
		s.state = StateExpired
	}
	return s
}

// Token returns a valid access token, refreshing first if the current one has
// expired. Callers arriving while a refresh is in flight wait for it and
// share its outcome.
func (s *Store) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	switch s.state {
	case StateInvalid:
		s.mu.Unlock()
		return "", ErrInvalidated
	case StateValid:
		if s.creds.ExpiresAt.IsZero() || s.clk.Now().Before(s.creds.ExpiresAt) {
			token := s.creds.AccessToken
			s.mu.Unlock()
			return token, nil
		}
		s.state = StateExpired
	}
	s.mu.Unlock()

	token, err, _ := s.group.Do("refresh", func() (interface{}, error) {
		return s.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// MarkExpired records that an API call using token was rejected as
// unauthorized. The next Token call triggers a refresh. A token other than
// the currently stored one is ignored: the pair has already rotated.
func (s *Store) MarkExpired(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateValid && s.creds.AccessToken == token {
		s.state = StateExpired
	}
}

// State returns the current lifecycle state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RefreshToken returns the current refresh token.
func (s *Store) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds.RefreshToken
}

func (s *Store) doRefresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	switch s.state {
	case StateInvalid:
		s.mu.Unlock()
		return "", ErrInvalidated
	case StateValid:
		// Another flight finished between our state check and this call.
		if s.creds.ExpiresAt.IsZero() || s.clk.Now().Before(s.creds.ExpiresAt) {
			token := s.creds.AccessToken
			s.mu.Unlock()
			return token, nil
		}
		s.state = StateExpired
	}
	s.state = StateRefreshing
	refreshToken := s.creds.RefreshToken
	s.mu.Unlock()

	creds, err := s.refresh(ctx, refreshToken)
	if err != nil {
		s.mu.Lock()
		var authErr *chaidata.AuthError
		if errors.As(err, &authErr) {
			s.state = StateInvalid
		} else {
			s.state = StateExpired
		}
		s.mu.Unlock()
		return "", err
	}

	s.mu.Lock()
	s.creds = creds
	s.state = StateValid
	s.mu.Unlock()

	if s.onRotate != nil {
		s.onRotate(creds)
	}
	return creds.AccessToken, nil
}
