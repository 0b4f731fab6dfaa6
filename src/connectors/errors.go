package connectors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AuthenticationError reports invalid or expired credentials. It is never
// retried automatically.
type AuthenticationError struct {
	Source  string
	Message string
}

func (e *AuthenticationError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("[%s] %s", e.Source, e.Message)
	}
	return e.Message
}

// RateLimitError reports provider throttling. RetryAfter, when nonzero, is
// the delay the provider asked callers to honor before the next attempt.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return e.Message }

// DataFetchError reports a transport or parse failure while fetching data.
type DataFetchError struct {
	Source   string
	Endpoint string
	Message  string
	Err      error
}

func (e *DataFetchError) Error() string {
	var details []string
	if e.Source != "" {
		details = append(details, "source="+e.Source)
	}
	if e.Endpoint != "" {
		details = append(details, "endpoint="+e.Endpoint)
	}
	msg := e.Message
	if len(details) > 0 {
		msg = fmt.Sprintf("%s (%s)", msg, strings.Join(details, ", "))
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DataFetchError) Unwrap() error { return e.Err }

// ConfigurationError reports missing or invalid connector configuration.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing required config keys: %v", e.Missing)
}

func IsAuthenticationError(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}

func IsRateLimitError(err error) bool {
	var re *RateLimitError
	return errors.As(err, &re)
}

func IsDataFetchError(err error) bool {
	var de *DataFetchError
	return errors.As(err, &de)
}

// IsRetryable is the default retry predicate: transient fetch failures and
// provider throttling are retryable, credential problems are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsAuthenticationError(err) {
		return false
	}
	return IsDataFetchError(err) || IsRateLimitError(err)
}
