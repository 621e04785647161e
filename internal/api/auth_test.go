package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/domo4/IoT23-s/internal/infrastructure/config"
	"github.com/domo4/IoT23-s/internal/infrastructure/logging"
	"github.com/domo4/IoT23-s/internal/journal"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

func TestIssueAndParseToken(t *testing.T) {
	token, err := IssueToken("ops", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "ops" || claims.Issuer != tokenIssuer {
		t.Errorf("claims = %+v", claims)
	}
	if claims.ID == "" {
		t.Error("token ID should be set")
	}
}

func TestIssueToken_Validation(t *testing.T) {
	if _, err := IssueToken("", testSecret, time.Hour); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("empty subject error = %v, want ErrTokenInvalid", err)
	}
	if _, err := IssueToken("ops", "", time.Hour); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("empty secret error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseToken_Rejects(t *testing.T) {
	good, err := IssueToken("ops", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "someone-else",
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:  tokenIssuer,
		Subject: "ops",
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"wrong secret", good, "another-secret-key-of-at-least-32-chars"},
		{"expired", expired, testSecret},
		{"foreign issuer", foreign, testSecret},
		{"no expiry", noExpiry, testSecret},
		{"garbage", "not.a.token", testSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseToken(tt.token, tt.secret); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	token, err := IssueToken("ops", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	srv, err := New(Deps{
		Config:  config.APIConfig{JWTSecret: testSecret},
		Logger:  logging.Discard(),
		Bridge:  &stubBridge{device: "Device 1"},
		Journal: &stubJournal{commands: &journal.CommandList{}},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	tests := []struct {
		name       string
		target     string
		header     string
		wantStatus int
	}{
		{"health needs no token", "/api/v1/health", "", http.StatusOK},
		{"commands without token", "/api/v1/commands", "", http.StatusUnauthorized},
		{"commands with bad token", "/api/v1/commands", "Bearer nope", http.StatusUnauthorized},
		{"commands with wrong scheme", "/api/v1/commands", "Basic " + token, http.StatusUnauthorized},
		{"commands with token", "/api/v1/commands", "Bearer " + token, http.StatusOK},
		{"history with token", "/api/v1/twin/history", "Bearer " + token, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			srv.buildRouter().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}
