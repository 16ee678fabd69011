// Package http holds the request helpers shared by the catalog, search and
// submission clients. Requests are issued exactly once; callers classify the
// returned errors and leave redelivery to the notification transport.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// StatusError reports a non-successful HTTP response.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http error: %s %s: %d %s: %s", e.Method, e.URL, e.Status, http.StatusText(e.Status), e.Body)
}

// Transient reports whether the status is worth trying again later.
func (e *StatusError) Transient() bool {
	return TransientStatus(e.Status)
}

// TransientStatus reports whether code signals a temporary condition.
func TransientStatus(code int) bool {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

// IsTransient reports whether err is a temporary failure: a transient status,
// a network error, or a deadline. Unknown errors are treated as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}
	return true
}

// IsRejection reports whether err is a definitive client-side rejection.
func IsRejection(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && !statusErr.Transient()
}

// IsTimeout reports whether err came from a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Doer executes HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Do issues the request once under ctx.
func Do(ctx context.Context, client Doer, req *http.Request) (*http.Response, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if client == nil {
		return nil, errors.New("http client is required")
	}
	return client.Do(req.WithContext(ctx))
}

// CheckResponse returns a *StatusError for responses outside 2xx. The body of
// failed responses is consumed up to 4096 bytes.
func CheckResponse(resp *http.Response) error {
	if resp == nil {
		return errors.New("nil response")
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	statusErr := &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	if resp.Request != nil {
		statusErr.Method = resp.Request.Method
		statusErr.URL = resp.Request.URL.Redacted()
	}
	return statusErr
}

// DecodeJSON decodes a JSON payload from r into v.
func DecodeJSON(r io.Reader, v any) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}
