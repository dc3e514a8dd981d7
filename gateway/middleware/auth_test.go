package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const testSecret = "unit-test-secret"

func newTestAuthenticator() *Authenticator {
	return NewAuthenticator(AuthConfig{
		Enabled:    true,
		HMACSecret: testSecret,
		Issuer:     "stakingd",
		Audience:   "stake-api",
	}, nil)
}

func mint(t *testing.T, issuer string, scopes []string, ttl time.Duration, now time.Time) string {
	t.Helper()
	token, err := IssueToken(testSecret, issuer, "stake-api", "stake1alice", scopes, ttl, now)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func TestAuthenticatorRejectsMissingToken(t *testing.T) {
	handler := newTestAuthenticator().Middleware(ScopeWrite)(okHandler())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/pools/abc/stake", nil))
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `"code":"UNAUTHORIZED"`) {
		t.Fatalf("unexpected body %s", res.Body.String())
	}
}

func TestAuthenticatorExposesSubjectAndScopes(t *testing.T) {
	var subject string
	var admin bool
	handler := newTestAuthenticator().Middleware(ScopeWrite)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ = Subject(r.Context())
		admin = HasScope(r.Context(), ScopeAdmin)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/pools/abc/stake", nil)
	req.Header.Set("Authorization", "Bearer "+mint(t, "stakingd", []string{ScopeWrite}, time.Hour, time.Now()))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if subject != "stake1alice" {
		t.Fatalf("subject = %q", subject)
	}
	if admin {
		t.Fatalf("write token must not carry admin scope")
	}
}

func TestAuthenticatorEnforcesScopes(t *testing.T) {
	handler := newTestAuthenticator().Middleware(ScopeAdmin)(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/v1/pools/abc/pause", nil)
	req.Header.Set("Authorization", "Bearer "+mint(t, "stakingd", []string{ScopeWrite}, time.Hour, time.Now()))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.Code)
	}
}

func TestAuthenticatorRejectsBadClaims(t *testing.T) {
	cases := map[string]string{
		"issuer":  mint(t, "someone-else", []string{ScopeWrite}, time.Hour, time.Now()),
		"expired": mint(t, "stakingd", []string{ScopeWrite}, time.Minute, time.Now().Add(-time.Hour)),
		"garbage": "not.a.token",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			handler := newTestAuthenticator().Middleware()(okHandler())
			req := httptest.NewRequest(http.MethodGet, "/v1/pools/abc", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, req)
			if res.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", res.Code)
			}
		})
	}
}

func TestAuthenticatorDisabledPassesThrough(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{}, nil)
	handler := auth.Middleware(ScopeAdmin)(okHandler())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/pools", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected pass-through, got %d", res.Code)
	}
}

func TestIssueTokenRequiresSecret(t *testing.T) {
	if _, err := IssueToken(" ", "", "", "stake1alice", nil, time.Hour, time.Now()); err == nil {
		t.Fatalf("expected error without secret")
	}
}

func TestExtractBearer(t *testing.T) {
	if got := extractBearer("bearer abc"); got != "abc" {
		t.Fatalf("got %q", got)
	}
	if got := extractBearer("Basic abc"); got != "" {
		t.Fatalf("got %q", got)
	}
}
