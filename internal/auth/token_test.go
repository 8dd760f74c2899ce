package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndParseRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	expires := time.Now().Add(time.Hour)

	token, err := IssueToken(secret, "usr_1", "alice", "STUDENT", "jti-1", expires)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	claims, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Subject != "usr_1" {
		t.Errorf("subject: got %q, want usr_1", claims.Subject)
	}
	if claims.Name != "alice" {
		t.Errorf("name: got %q, want alice", claims.Name)
	}
	if claims.Role != "STUDENT" {
		t.Errorf("role: got %q, want STUDENT", claims.Role)
	}
	if claims.ID != "jti-1" {
		t.Errorf("jti: got %q, want jti-1", claims.ID)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := IssueToken([]byte("secret-a"), "usr_1", "alice", "STUDENT", "jti-1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := ParseToken([]byte("secret-b"), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	token, err := IssueToken(secret, "usr_1", "alice", "STUDENT", "jti-1", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := ParseToken(secret, token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := ParseToken([]byte("test-secret"), "not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestHashTokenIsStable(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Error("expected identical hashes for identical input")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Error("expected different hashes for different input")
	}
}
