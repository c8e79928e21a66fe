package auth

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	a := New("test-secret", time.Hour)

	token, err := a.GenerateToken("user-1", "alice")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := a.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", claims.UserID)
	}
	if claims.Username != "alice" {
		t.Errorf("Username = %q, want alice", claims.Username)
	}
}

func TestValidateRejects(t *testing.T) {
	a := New("test-secret", time.Hour)
	other := New("other-secret", time.Hour)
	expired := New("test-secret", -time.Hour)

	tests := []struct {
		name  string
		token func() string
	}{
		{"garbage", func() string { return "not.a.token" }},
		{"wrong secret", func() string {
			tok, _ := other.GenerateToken("user-1", "alice")
			return tok
		}},
		{"expired", func() string {
			tok, _ := expired.GenerateToken("user-1", "alice")
			return tok
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := a.ValidateToken(tt.token()); err == nil {
				t.Error("ValidateToken() error = nil, want failure")
			}
		})
	}
}
