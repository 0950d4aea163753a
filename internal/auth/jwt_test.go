package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResolve_RoundTrip(t *testing.T) {
	r := NewJWTResolver([]byte("test-secret"))

	token, err := r.IssueToken("user-42", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	identity, err := r.Resolve(context.Background(), token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if identity != "user-42" {
		t.Errorf("identity = %q, want %q", identity, "user-42")
	}
}

func TestResolve_InvalidTokens(t *testing.T) {
	r := NewJWTResolver([]byte("test-secret"))

	expired, err := r.IssueToken("user-42", -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	other := NewJWTResolver([]byte("other-secret"))
	wrongKey, err := other.IssueToken("user-42", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"garbage token", "not.a.jwt"},
		{"expired token", expired},
		{"wrong signing key", wrongKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Resolve(%s) error = %v, want ErrInvalidToken", tt.name, err)
			}
		})
	}
}
