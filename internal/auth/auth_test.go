package auth

import (
	"strings"
	"testing"
	"time"
)

func newTestService() *TokenService {
	return NewTokenService([]byte("test-signing-key"), "testdeck-test", 15*time.Minute, 7*24*time.Hour)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	svc := newTestService()

	token, err := svc.GenerateAccessToken("user-1", "a@example.com", []string{"script:read"})
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	claims, err := svc.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken failed: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Errorf("expected user-1, got %q", claims.UserID)
	}
	if claims.Email != "a@example.com" {
		t.Errorf("expected a@example.com, got %q", claims.Email)
	}
	if len(claims.Scopes) != 1 || claims.Scopes[0] != "script:read" {
		t.Errorf("unexpected scopes %v", claims.Scopes)
	}
}

func TestValidateAccessTokenWrongKey(t *testing.T) {
	svc := newTestService()
	other := NewTokenService([]byte("different-key"), "testdeck-test", time.Minute, time.Hour)

	token, err := svc.GenerateAccessToken("user-1", "a@example.com", nil)
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	if _, err := other.ValidateAccessToken(token); err == nil {
		t.Fatal("expected validation to fail with a different signing key")
	}
}

func TestValidateExpiredToken(t *testing.T) {
	svc := NewTokenService([]byte("k"), "testdeck-test", -time.Minute, time.Hour)

	token, err := svc.GenerateAccessToken("user-1", "a@example.com", nil)
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	if _, err := svc.ValidateAccessToken(token); err != ErrTokenExpired {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestGeneratePAT(t *testing.T) {
	token, hash, err := GeneratePAT()
	if err != nil {
		t.Fatalf("GeneratePAT failed: %v", err)
	}
	if !strings.HasPrefix(token, "tdk_") {
		t.Errorf("expected tdk_ prefix, got %q", token)
	}
	if !IsPAT(token) {
		t.Error("IsPAT should recognize generated PAT")
	}
	if hash != HashToken(token) {
		t.Error("hash should match HashToken of the token")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if !CheckPassword("correct horse battery staple", hash) {
		t.Error("correct password should verify")
	}
	if CheckPassword("wrong password", hash) {
		t.Error("wrong password should not verify")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
	}
	for _, tt := range tests {
		if got := ExtractBearerToken(tt.header); got != tt.want {
			t.Errorf("ExtractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
