package http

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"
)

// Authenticator applies authentication information to a request.
type Authenticator interface {
	Authenticate(req *http.Request) error
}

// BearerToken authenticates with a bearer token header.
type BearerToken string

// Authenticate applies the bearer token header.
func (b BearerToken) Authenticate(req *http.Request) error {
	if string(b) == "" {
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+string(b))
	return nil
}

// Session mediates authenticated HTTP traffic. It satisfies Doer.
type Session struct {
	client        *http.Client
	authenticator Authenticator
	userAgent     string
}

// SessionOption configures a session.
type SessionOption func(*Session)

// WithHTTPClient overrides the HTTP client used by the session.
func WithHTTPClient(hc *http.Client) SessionOption {
	return func(s *Session) {
		if hc != nil {
			s.client = hc
		}
	}
}

// WithAuthenticator sets the session authenticator.
func WithAuthenticator(auth Authenticator) SessionOption {
	return func(s *Session) {
		s.authenticator = auth
	}
}

// WithUserAgent sets the User-Agent header of every request.
func WithUserAgent(ua string) SessionOption {
	return func(s *Session) {
		s.userAgent = ua
	}
}

// NewSession constructs a session with cookie jar and timeout defaults.
func NewSession(opts ...SessionOption) *Session {
	session := &Session{client: NewClient(30 * time.Second)}
	for _, opt := range opts {
		opt(session)
	}
	return session
}

// Do issues an HTTP request with authentication applied.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	if s == nil {
		return nil, fmt.Errorf("http: nil session")
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	if s.authenticator != nil {
		if err := s.authenticator.Authenticate(req); err != nil {
			return nil, fmt.Errorf("http: authenticate request: %w", err)
		}
	}
	return s.client.Do(req)
}

// NewClient returns an HTTP client with a cookie jar that re-applies the
// Authorization header across redirects.
func NewClient(timeout time.Duration) *http.Client {
	jar, _ := cookiejar.New(nil)
	client := &http.Client{
		Timeout: timeout,
		Jar:     jar,
	}
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) == 0 {
			return nil
		}
		if len(via) >= 10 {
			return fmt.Errorf("http: stopped after %d redirects", len(via))
		}
		prev := via[len(via)-1]
		if auth := prev.Header.Get("Authorization"); auth != "" {
			req.Header.Set("Authorization", auth)
		}
		return nil
	}
	return client
}
