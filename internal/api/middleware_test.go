package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/autotouch-core/internal/infrastructure/config"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

func withAuth(d *Deps) {
	d.Config.Auth = config.AuthConfig{JWTSecret: testSecret, Issuer: "autotouch"}
}

// ─── Request ID / CORS ──────────────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	f := setup(t, nil)

	w := f.do(t, http.MethodGet, "/health", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	f := setup(t, nil)

	w := f.do(t, http.MethodGet, "/health", nil, "X-Request-ID", "client-id-123")
	if got := w.Header().Get("X-Request-ID"); got != "client-id-123" {
		t.Errorf("X-Request-ID = %q, want client-id-123", got)
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name      string
		allowed   []string
		origin    string
		wantAllow string
	}{
		{"empty list allows all", nil, "http://phone.local", "http://phone.local"},
		{"wildcard", []string{"*"}, "http://phone.local", "http://phone.local"},
		{"listed", []string{"http://a", "http://b"}, "http://b", "http://b"},
		{"not listed", []string{"http://a"}, "http://evil", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, func(d *Deps) { d.Config.CORS.AllowedOrigins = tt.allowed })

			w := f.do(t, http.MethodOptions, "/execute", nil, "Origin", tt.origin)
			if w.Code != http.StatusNoContent {
				t.Errorf("preflight status = %d, want 204", w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
		})
	}
}

func TestRecovery_PanicBecomes500(t *testing.T) {
	f := setup(t, nil)

	h := f.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	body := decode[errorEnvelope](t, w)
	if body.Error.Code != ErrCodeInternal {
		t.Errorf("code = %q", body.Error.Code)
	}
}

// ─── Auth ───────────────────────────────────────────────────────────────────

func TestAuth_DisabledWithoutSecret(t *testing.T) {
	f := setup(t, nil)

	if w := f.do(t, http.MethodGet, "/actions", nil); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with auth disabled", w.Code)
	}
}

func TestAuth_OpenRoutes(t *testing.T) {
	f := setup(t, withAuth)

	for _, path := range []string{"/", "/status", "/health", "/api/v1/health"} {
		if w := f.do(t, http.MethodGet, path, nil); w.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200 without token", path, w.Code)
		}
	}
}

func TestAuth_ProtectedRoutes(t *testing.T) {
	good, err := IssueToken(config.AuthConfig{JWTSecret: testSecret, Issuer: "autotouch"}, "phone", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	otherSecret, err := IssueToken(config.AuthConfig{JWTSecret: "another-secret-of-sufficient-length!", Issuer: "autotouch"}, "phone", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	otherIssuer, err := IssueToken(config.AuthConfig{JWTSecret: testSecret, Issuer: "someone-else"}, "phone", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "phone",
		Issuer:    "autotouch",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign expired: %v", err)
	}

	tests := []struct {
		name   string
		path   string
		header []string
		want   int
	}{
		{"no token", "/actions", nil, http.StatusUnauthorized},
		{"valid header", "/actions", []string{"Authorization", "Bearer " + good}, http.StatusOK},
		{"lowercase scheme", "/actions", []string{"Authorization", "bearer " + good}, http.StatusOK},
		{"basic scheme", "/actions", []string{"Authorization", "Basic abc"}, http.StatusUnauthorized},
		{"query token", "/actions?token=" + good, nil, http.StatusOK},
		{"wrong secret", "/actions", []string{"Authorization", "Bearer " + otherSecret}, http.StatusUnauthorized},
		{"wrong issuer", "/actions", []string{"Authorization", "Bearer " + otherIssuer}, http.StatusUnauthorized},
		{"expired", "/actions", []string{"Authorization", "Bearer " + expired}, http.StatusUnauthorized},
		{"v1 route", "/api/v1/sequences", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, withAuth)
			w := f.do(t, http.MethodGet, tt.path, nil, tt.header...)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestIssueToken(t *testing.T) {
	cfg := config.AuthConfig{JWTSecret: testSecret, Issuer: "autotouch"}

	t.Run("round trip", func(t *testing.T) {
		raw, err := IssueToken(cfg, "tablet", time.Minute)
		if err != nil {
			t.Fatalf("IssueToken: %v", err)
		}
		claims, err := ParseToken(raw, cfg)
		if err != nil {
			t.Fatalf("ParseToken: %v", err)
		}
		if claims.Subject != "tablet" || claims.ExpiresAt == nil {
			t.Errorf("claims = %+v", claims)
		}
	})

	t.Run("no expiry", func(t *testing.T) {
		raw, err := IssueToken(cfg, "tablet", 0)
		if err != nil {
			t.Fatalf("IssueToken: %v", err)
		}
		claims, err := ParseToken(raw, cfg)
		if err != nil {
			t.Fatalf("ParseToken: %v", err)
		}
		if claims.ExpiresAt != nil {
			t.Errorf("ExpiresAt = %v, want nil", claims.ExpiresAt)
		}
	})

	t.Run("missing secret", func(t *testing.T) {
		if _, err := IssueToken(config.AuthConfig{}, "tablet", time.Minute); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("err = %v, want ErrTokenInvalid", err)
		}
	})

	t.Run("unsigned token rejected", func(t *testing.T) {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "x"}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		if err != nil {
			t.Fatalf("sign none: %v", err)
		}
		if _, err := ParseToken(raw, cfg); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("err = %v, want ErrTokenInvalid", err)
		}
	})
}
