package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testUserID = "cq1h9s8000000000000g"

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService("test-secret-at-least-16-chars!!", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// sign builds a token outside TokenService so tests can forge claims.
func sign(t *testing.T, method jwt.SigningMethod, key any, c jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, c).SignedString(key)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	return s
}

func TestNewTokenService(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		ttl     time.Duration
		wantTTL time.Duration
		wantErr bool
	}{
		{"short secret", "short", time.Hour, 0, true},
		{"zero ttl uses default", "this-is-16-chars", 0, DefaultSessionTTL, false},
		{"negative ttl uses default", "this-is-16-chars", -time.Minute, DefaultSessionTTL, false},
		{"configured ttl", "this-is-16-chars", 48 * time.Hour, 48 * time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, err := NewTokenService(tt.secret, tt.ttl)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ts.TTL() != tt.wantTTL {
				t.Errorf("TTL() = %v, want %v", ts.TTL(), tt.wantTTL)
			}
		})
	}
}

// The session cookie's MaxAge is TTL(), so the token must expire with it.
func TestGenerate_LifetimeMatchesTTL(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Generate(testUserID)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if got := c.ExpiresAt.Sub(c.IssuedAt.Time); got != ts.TTL() {
		t.Errorf("lifetime = %v, want %v", got, ts.TTL())
	}
	if c.Issuer != issuer || c.Subject != testUserID {
		t.Errorf("iss=%q sub=%q", c.Issuer, c.Subject)
	}

	got, err := ts.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got != testUserID {
		t.Errorf("Validate() = %q, want %q", got, testUserID)
	}
}

func TestValidate_Rejects(t *testing.T) {
	ts := newTestTokenService(t)
	other, _ := NewTokenService("wrong-secret-32-chars-long!!!!!!", time.Hour)

	valid, _ := ts.Generate(testUserID)
	expired, _ := ts.GenerateWithDuration(testUserID, -time.Second)
	fromOther, _ := other.Generate(testUserID)
	noSubject, _ := ts.Generate("")

	later := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name    string
		token   string
		wantMsg string
	}{
		{"empty", "", "invalid token"},
		{"garbage", "not.a.jwt.token", "invalid token"},
		{"tampered signature", valid[:len(valid)-3] + "xxx", "invalid token"},
		{"expired", expired, "token expired"},
		{"other secret", fromOther, "invalid token"},
		{"no subject", noSubject, "no subject"},
		{
			"foreign issuer",
			sign(t, jwt.SigningMethodHS256, ts.secret, jwt.RegisteredClaims{Subject: testUserID, Issuer: "someone-else", ExpiresAt: later}),
			"invalid token",
		},
		{
			"no expiry",
			sign(t, jwt.SigningMethodHS256, ts.secret, jwt.RegisteredClaims{Subject: testUserID, Issuer: issuer}),
			"invalid token",
		},
		{
			"alg none",
			sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.RegisteredClaims{Subject: testUserID, Issuer: issuer, ExpiresAt: later}),
			"invalid token",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ts.Validate(tt.token)
			if err == nil {
				t.Fatalf("Validate() = %q, want error", id)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}
