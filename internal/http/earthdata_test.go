package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newEarthdataServer(t *testing.T, logins *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/authorize", func(w http.ResponseWriter, r *http.Request) {
		logins.Add(1)
		if user, pass, ok := r.BasicAuth(); !ok || user != "user" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.Redirect(w, r, "/login?code=abc", http.StatusFound)
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("credentials forwarded to a non-auth host")
		}
		http.SetCookie(w, &http.Cookie{Name: "asf-urs", Value: "session", Path: "/"})
	})
	mux.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("asf-urs"); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return httptest.NewServer(mux)
}

func TestEarthdataLoginSetsCookiesOnce(t *testing.T) {
	var logins atomic.Int32
	server := newEarthdataServer(t, &logins)
	defer server.Close()

	client := NewClient(0)
	auth, err := NewEarthdataLogin(client, "user", "secret", WithLoginURL(server.URL+"/oauth/authorize", server.URL+"/"))
	if err != nil {
		t.Fatalf("NewEarthdataLogin returned error: %v", err)
	}
	session := NewSession(WithHTTPClient(client), WithAuthenticator(auth))

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, server.URL+"/jobs", nil)
		resp, err := session.Do(req)
		if err != nil {
			t.Fatalf("Do returned error: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected authenticated request, got %d", resp.StatusCode)
		}
	}
	if n := logins.Load(); n != 1 {
		t.Fatalf("expected a single login, got %d", n)
	}
}

func TestEarthdataLoginRejectsBadCredentials(t *testing.T) {
	var logins atomic.Int32
	server := newEarthdataServer(t, &logins)
	defer server.Close()

	auth, err := NewEarthdataLogin(&http.Client{}, "user", "wrong", WithLoginURL(server.URL+"/oauth/authorize", server.URL+"/"))
	if err != nil {
		t.Fatalf("NewEarthdataLogin returned error: %v", err)
	}
	req, _ := http.NewRequest(http.MethodGet, server.URL+"/jobs", nil)
	err = auth.Authenticate(req)
	if !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("expected ErrLoginFailed, got %v", err)
	}
	if !IsRejection(err) {
		t.Fatalf("bad credentials should be a rejection: %v", err)
	}
}

func TestEarthdataLoginWithoutUserIsNoop(t *testing.T) {
	auth, err := NewEarthdataLogin(&http.Client{}, "", "")
	if err != nil {
		t.Fatalf("NewEarthdataLogin returned error: %v", err)
	}
	req, _ := http.NewRequest(http.MethodGet, "http://example.invalid", nil)
	if err := auth.Authenticate(req); err != nil {
		t.Fatalf("expected no login without a user, got %v", err)
	}
}

func TestHostRequiresAuth(t *testing.T) {
	for host, want := range map[string]bool{
		"urs.earthdata.nasa.gov":       true,
		"hyp3-its-live.asf.alaska.edu": true,
		"asf.alaska.edu":               true,
		"example.com":                  false,
		"notasf.alaska.edu.example":    false,
	} {
		if got := hostRequiresAuth(host); got != want {
			t.Errorf("hostRequiresAuth(%q) = %v, want %v", host, got, want)
		}
	}
}
