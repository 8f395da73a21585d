package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PilotAudience is stamped into every pilot token and required on verification.
const PilotAudience = "tunnelflight-pilot"

var (
	// ErrInvalidToken indicates the token failed signature checks or had malformed structure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken signals that the token's expiry is in the past.
	ErrExpiredToken = errors.New("token expired")
	// ErrWrongAudience is returned for well-signed tokens minted for another service.
	ErrWrongAudience = errors.New("token audience mismatch")
)

// TokenClaims captures the compact JWT payload that grants control of the craft.
type TokenClaims struct {
	Subject   string    `json:"sub"`
	ExpiresAt time.Time `json:"-"`
	IssuedAt  time.Time `json:"-"`
	Audience  string    `json:"aud"`
}

type tokenHeader struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
}

type tokenPayload struct {
	Subject  string `json:"sub"`
	Expires  int64  `json:"exp"`
	Issued   int64  `json:"iat"`
	Audience string `json:"aud"`
}

// PilotTokens issues and verifies HS256 pilot tokens with a shared secret.
type PilotTokens struct {
	secret []byte
	now    func() time.Time
	leeway time.Duration
}

// NewPilotTokens constructs a signer/verifier for the supplied secret and clock skew allowance.
func NewPilotTokens(secret string, leeway time.Duration) (*PilotTokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("hmac secret must not be empty")
	}
	return &PilotTokens{secret: []byte(secret), now: time.Now, leeway: max(leeway, 0)}, nil
}

// WithClock overrides the clock, enabling deterministic unit tests.
func (p *PilotTokens) WithClock(clock func() time.Time) {
	if clock != nil {
		p.now = clock
	}
}

// Issue mints a pilot token for subject valid for ttl.
func (p *PilotTokens) Issue(subject string, ttl time.Duration) (string, error) {
	if p == nil || len(p.secret) == 0 {
		return "", errors.New("token signer not initialised")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" || ttl <= 0 {
		return "", fmt.Errorf("%w: subject and positive ttl required", ErrInvalidToken)
	}
	now := p.now()
	header, err := json.Marshal(tokenHeader{Algorithm: "HS256", Type: "JWT"})
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(tokenPayload{Subject: subject, Expires: now.Add(ttl).Unix(), Issued: now.Unix(), Audience: PilotAudience})
	if err != nil {
		return "", err
	}
	signingInput := encodeSegment(header) + "." + encodeSegment(payload)
	return signingInput + "." + encodeSegment(p.sign([]byte(signingInput))), nil
}

// Verify parses the token and validates signature, audience and expiry.
func (p *PilotTokens) Verify(token string) (*TokenClaims, error) {
	if p == nil || len(p.secret) == 0 {
		return nil, errors.New("verifier not initialised")
	}
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}

	//1.- Check the algorithm before trusting anything else in the token.
	var header tokenHeader
	if err := decodeJSONSegment(parts[0], &header); err != nil {
		return nil, ErrInvalidToken
	}
	if header.Algorithm != "HS256" {
		return nil, fmt.Errorf("%w: unexpected algorithm %q", ErrInvalidToken, header.Algorithm)
	}
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || !hmac.Equal(signature, p.sign([]byte(parts[0]+"."+parts[1]))) {
		return nil, ErrInvalidToken
	}

	//2.- Signed payloads still need a subject, our audience and a live expiry.
	var payload tokenPayload
	if err := decodeJSONSegment(parts[1], &payload); err != nil {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(payload.Subject) == "" || payload.Expires <= 0 {
		return nil, ErrInvalidToken
	}
	if payload.Audience != PilotAudience {
		return nil, fmt.Errorf("%w: %q", ErrWrongAudience, payload.Audience)
	}
	expiresAt := time.Unix(payload.Expires, 0)
	if expiresAt.Add(p.leeway).Before(p.now()) {
		return nil, ErrExpiredToken
	}
	return &TokenClaims{
		Subject:   payload.Subject,
		ExpiresAt: expiresAt,
		IssuedAt:  time.Unix(payload.Issued, 0),
		Audience:  payload.Audience,
	}, nil
}

func (p *PilotTokens) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

func encodeSegment(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeJSONSegment(segment string, target any) error {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}
