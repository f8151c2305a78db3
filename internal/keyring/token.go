package keyring

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"ms-boxoffice/internal/models"
)

// Ticket token wire format: five dot-separated base64url segments,
// "ed25519.v1.<kid>.<sig>.<payload>". The signature covers the raw
// payload bytes, not their encoding.
const (
	tokenAlg     = "ed25519"
	tokenVersion = "v1"
)

var (
	ErrMalformedToken   = errors.New("keyring: malformed ticket token")
	ErrUnknownKeyID     = errors.New("keyring: unknown key id")
	ErrInvalidSignature = errors.New("keyring: invalid signature")
	ErrTicketExpired    = errors.New("keyring: ticket expired")
	ErrTenantMismatch   = errors.New("keyring: tenant mismatch")
)

// Sign serializes the claims and signs them with the active key.
func (k *Keyring) Sign(claims models.TicketClaims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	k.mu.RLock()
	kid := k.activeKid
	sig := ed25519.Sign(k.private, payload)
	k.mu.RUnlock()

	return strings.Join([]string{
		tokenAlg,
		tokenVersion,
		kid,
		base64.RawURLEncoding.EncodeToString(sig),
		base64.RawURLEncoding.EncodeToString(payload),
	}, "."), nil
}

// Verify checks the token's shape, signature, expiry, and optionally
// its tenant. An unknown kid is rejected outright: the ring retains
// every key it ever activated, so a kid it does not know can only mean
// a foreign or forged token. Expiry allows ClockSkew of drift.
func (k *Keyring) Verify(token, expectedTenant string, now time.Time) (*models.TicketClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 5 || parts[0] != tokenAlg || parts[1] != tokenVersion {
		return nil, ErrMalformedToken
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil || len(sig) != ed25519.SignatureSize {
		return nil, ErrMalformedToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, ErrMalformedToken
	}

	k.mu.RLock()
	pub, known := k.publics[parts[2]]
	skew := k.ClockSkew
	k.mu.RUnlock()
	if !known {
		return nil, ErrUnknownKeyID
	}

	if !ed25519.Verify(pub, payload, sig) {
		return nil, ErrInvalidSignature
	}

	var claims models.TicketClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrMalformedToken
	}

	if now.Unix() > claims.ExpiresAt+int64(skew/time.Second) {
		return nil, ErrTicketExpired
	}
	if expectedTenant != "" && claims.TenantID != expectedTenant {
		return nil, ErrTenantMismatch
	}
	return &claims, nil
}
