// Package hold implements time-bounded exclusive seat claims backed by
// an atomic key-value store. A hold is identified by a fencing token
// ("<version>:<owner>"): version is a caller-supplied monotonically
// increasing integer per session, owner a caller-chosen identifier such
// as a session id. The token proves current ownership; it is not a
// security credential.
package hold

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ms-boxoffice/internal/apperror"
)

const (
	keyPrefix     = "seat_hold"
	maxOwnerBytes = 128
)

// Token is the fencing token written as the hold value.
type Token struct {
	Version int64
	Owner   string
}

func (t Token) String() string {
	return strconv.FormatInt(t.Version, 10) + ":" + t.Owner
}

// ParseToken parses "<version>:<owner>". Version must be a positive
// integer and owner non-empty and at most 128 bytes.
func ParseToken(s string) (Token, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Token{}, apperror.New(apperror.Precondition, "invalid_token", "malformed hold token")
	}
	version, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || version <= 0 {
		return Token{}, apperror.New(apperror.Precondition, "invalid_token", "hold token version must be a positive integer")
	}
	owner := parts[1]
	if owner == "" || len(owner) > maxOwnerBytes {
		return Token{}, apperror.New(apperror.Precondition, "invalid_token", "hold token owner must be 1-128 bytes")
	}
	return Token{Version: version, Owner: owner}, nil
}

// Key addresses one seat's hold in the store.
func Key(tenant, performanceID, seatID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, tenant, performanceID, seatID)
}

type AcquireParams struct {
	Tenant        string
	PerformanceID string
	SeatIDs       []string
	Owner         string
	Version       int64
	TTL           time.Duration
}

type AcquireResult struct {
	OK bool
	// Conflicts lists every requested seat currently held by a
	// different token. Empty when OK.
	Conflicts []string
	// TTL is the clamped lifetime actually applied when OK.
	TTL time.Duration
}

type ExtendParams struct {
	Tenant        string
	PerformanceID string
	SeatID        string
	Owner         string
	Version       int64
	TTL           time.Duration
}

type ReleaseParams struct {
	Tenant        string
	PerformanceID string
	SeatID        string
	Owner         string
	Version       int64
}

// Manager is the seat-hold port. Acquire is all-or-nothing: either
// every requested seat ends up held by the caller's token, or none do
// and every contended seat id is reported. Extend and Release return
// false (NOOP) when the hold is expired or owned by a different token;
// racing a TTL expiry is not an error.
type Manager interface {
	Acquire(ctx context.Context, p AcquireParams) (AcquireResult, error)
	Extend(ctx context.Context, p ExtendParams) (bool, error)
	Release(ctx context.Context, p ReleaseParams) (bool, error)
}

func validateAcquire(p AcquireParams) error {
	if p.Tenant == "" || p.PerformanceID == "" {
		return apperror.New(apperror.Validation, "missing_scope", "tenant and performance id are required")
	}
	if len(p.SeatIDs) == 0 {
		return apperror.New(apperror.Validation, "no_seats", "seat id list must not be empty")
	}
	if p.Owner == "" || len(p.Owner) > maxOwnerBytes {
		return apperror.New(apperror.Validation, "bad_owner", "owner must be 1-128 bytes")
	}
	if p.Version <= 0 {
		return apperror.New(apperror.Validation, "bad_version", "version must be a positive integer")
	}
	return nil
}

// clampTTL keeps hold lifetimes inside the configured window rather
// than rejecting out-of-range requests.
func clampTTL(ttl, min, max, def time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = def
	}
	if ttl < min {
		return min
	}
	if ttl > max {
		return max
	}
	return ttl
}
