package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
)

const (
	edlClientID  = "BO_n7nTIlMljdvU6kRRB3g"
	ursHost      = "urs.earthdata.nasa.gov"
	asfAuthHost  = "auth.asf.alaska.edu"
	authRedirect = "https://auth.asf.alaska.edu/login"
	maxRedirects = 10
)

var (
	authDomains     = []string{"asf.alaska.edu", "earthdata.nasa.gov"}
	authCookieNames = map[string]struct{}{
		"urs_user_already_logged":     {},
		"uat_urs_user_already_logged": {},
		"asf-urs":                     {},
		"urs-access-token":            {},
	}
)

// ErrLoginFailed is returned when Earthdata Login does not set its cookies.
var ErrLoginFailed = errors.New("earthdata authentication failed")

// EarthdataLogin authenticates requests with NASA Earthdata Login cookies.
// The first request performs the OAuth login with basic credentials; the
// cookies it leaves in the client's jar authenticate every later request to
// ASF hosts, including HyP3.
type EarthdataLogin struct {
	client      *http.Client
	username    string
	password    string
	loginURL    string
	cookieHosts []string

	mu sync.Mutex
}

// EarthdataOption configures an EarthdataLogin.
type EarthdataOption func(*EarthdataLogin)

// WithLoginURL overrides the login endpoint and the hosts whose cookies
// prove a completed login.
func WithLoginURL(loginURL string, cookieHosts ...string) EarthdataOption {
	return func(e *EarthdataLogin) {
		if loginURL != "" {
			e.loginURL = loginURL
		}
		if len(cookieHosts) > 0 {
			e.cookieHosts = cookieHosts
		}
	}
}

// NewEarthdataLogin returns an authenticator that logs in through client.
// The client must be the one the authenticated session sends requests with;
// a cookie jar is added when it has none.
func NewEarthdataLogin(client *http.Client, username, password string, opts ...EarthdataOption) (*EarthdataLogin, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	if client.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		client.Jar = jar
	}
	e := &EarthdataLogin{
		client:   client,
		username: username,
		password: password,
		loginURL: fmt.Sprintf("https://%s/oauth/authorize?client_id=%s&response_type=code&redirect_uri=%s",
			ursHost, edlClientID, url.QueryEscape(authRedirect)),
		cookieHosts: []string{"https://" + ursHost + "/", "https://" + asfAuthHost + "/"},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Authenticate logs in once when the jar holds no login cookies.
func (e *EarthdataLogin) Authenticate(req *http.Request) error {
	if e.username == "" {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loggedIn() {
		return nil
	}

	login, err := http.NewRequestWithContext(req.Context(), http.MethodGet, e.loginURL, nil)
	if err != nil {
		return fmt.Errorf("prepare login request: %w", err)
	}
	if ua := req.Header.Get("User-Agent"); ua != "" {
		login.Header.Set("User-Agent", ua)
	}
	login.SetBasicAuth(e.username, e.password)

	resp, err := e.loginClient().Do(login)
	if err != nil {
		return fmt.Errorf("authenticate with earthdata: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: %w", ErrLoginFailed, &StatusError{Method: login.Method, URL: e.loginURL, Status: resp.StatusCode})
	}
	if !e.loggedIn() {
		return fmt.Errorf("%w: login cookies not set", ErrLoginFailed)
	}
	return nil
}

// loginClient shares the jar but only forwards credentials to auth hosts.
func (e *EarthdataLogin) loginClient() *http.Client {
	clone := *e.client
	clone.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		if len(via) > 0 {
			req.Header = via[len(via)-1].Header.Clone()
		}
		if hostRequiresAuth(req.URL.Hostname()) {
			req.SetBasicAuth(e.username, e.password)
		} else {
			req.Header.Del("Authorization")
		}
		return nil
	}
	return &clone
}

func (e *EarthdataLogin) loggedIn() bool {
	for _, raw := range e.cookieHosts {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		for _, c := range e.client.Jar.Cookies(u) {
			if _, ok := authCookieNames[c.Name]; ok {
				return true
			}
		}
	}
	return false
}

func hostRequiresAuth(host string) bool {
	lower := strings.ToLower(host)
	for _, domain := range authDomains {
		if lower == domain || strings.HasSuffix(lower, "."+domain) {
			return true
		}
	}
	return false
}
