package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTokens(t *testing.T, secret string, leeway time.Duration, now time.Time) *PilotTokens {
	t.Helper()
	tokens, err := NewPilotTokens(secret, leeway)
	if err != nil {
		t.Fatalf("NewPilotTokens: %v", err)
	}
	tokens.WithClock(func() time.Time { return now })
	return tokens
}

func TestPilotTokensIssueAndVerify(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tokens := newTokens(t, "secret", time.Second, now)
	token, err := tokens.Issue("pilot-7", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := tokens.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "pilot-7" || claims.Audience != PilotAudience || !claims.ExpiresAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestPilotTokensRejectExpired(t *testing.T) {
	now := time.Unix(1700000000, 0)
	issuer := newTokens(t, "secret", 0, now.Add(-time.Hour))
	token, err := issuer.Issue("pilot-7", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	verifier := newTokens(t, "secret", 0, now)
	if _, err := verifier.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestPilotTokensRejectForeignSignatureAndAudience(t *testing.T) {
	now := time.Unix(1700000000, 0)
	verifier := newTokens(t, "secret", time.Second, now)

	other := newTokens(t, "other-secret", time.Second, now)
	forged, err := other.Issue("pilot-7", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := verifier.Verify(forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	foreign := makeToken(t, "secret", "pilot-7", "another-service", now.Add(time.Minute))
	if _, err := verifier.Verify(foreign); !errors.Is(err, ErrWrongAudience) {
		t.Fatalf("expected ErrWrongAudience, got %v", err)
	}
	if _, err := verifier.Verify("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestPilotTokensRequireSecretAndSubject(t *testing.T) {
	if _, err := NewPilotTokens("  ", 0); err == nil {
		t.Fatal("empty secret must be rejected")
	}
	tokens := newTokens(t, "secret", 0, time.Unix(0, 0))
	if _, err := tokens.Issue("", time.Minute); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected subject error, got %v", err)
	}
}

func makeToken(t *testing.T, secret, subject, audience string, expires time.Time) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload := fmt.Sprintf(`{"sub":"%s","exp":%d,"iat":%d,"aud":"%s"}`, subject, expires.Unix(), expires.Add(-time.Minute).Unix(), audience)
	signingInput := header + "." + base64.RawURLEncoding.EncodeToString([]byte(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
