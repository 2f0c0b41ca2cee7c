package chaidata

import "fmt"

// AuthError indicates that an upstream service rejected the credentials used
// for a call. Terminal marks rejections that cannot be recovered from without
// out-of-band re-authorization (for example a revoked refresh token).
type AuthError struct {
	Service  string // "efergy" or "netatmo"
	Op       string // the upstream operation that failed
	Terminal bool
	Err      error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("%s: %s: authorization rejected", e.Service, e.Op)
	if e.Terminal {
		msg += " (re-authorization required)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// UpstreamError indicates a transport failure, a malformed response, or a
// non-2xx response unrelated to authorization. It is surfaced to the caller
// without automatic retries.
type UpstreamError struct {
	Service    string
	Op         string
	StatusCode int // zero when the failure happened before a response arrived
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("%s: %s: upstream failure", e.Service, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ConfigError indicates that a client could not be constructed, typically
// because the device topology could not be resolved.
type ConfigError struct {
	Service string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: configuration: %v", e.Service, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
