package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var secret = []byte("test-secret")

func TestIssueAndParseRoundTrip(t *testing.T) {
	claims := Claims{
		Sub:  "usr_1",
		Name: "Marta",
		Role: "resident",
		JTI:  "jti_1",
		Exp:  time.Now().Add(time.Hour).Unix(),
	}
	token, err := IssueToken(secret, claims)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	parsed, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Sub != claims.Sub || parsed.Role != claims.Role || parsed.JTI != claims.JTI {
		t.Errorf("claims round trip mismatch: %+v", parsed)
	}
}

func TestParseRejectsTamperedToken(t *testing.T) {
	token, err := IssueToken(secret, Claims{Sub: "usr_1", JTI: "j", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	payload, _, _ := strings.Cut(token, ".")

	if _, err := ParseToken(secret, payload+".bogus"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for bad signature, got %v", err)
	}
	if _, err := ParseToken([]byte("other-secret"), token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
	if _, err := ParseToken(secret, "no-dot-here"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for malformed token, got %v", err)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	token, err := IssueToken(secret, Claims{Sub: "usr_1", JTI: "j", Exp: time.Now().Add(-time.Minute).Unix()})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := ParseToken(secret, token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestHashTokenIsStable(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Error("hash not deterministic")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Error("distinct tokens collide")
	}
}
