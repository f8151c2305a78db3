// Package idempotency deduplicates mutating requests. Begin is a
// single atomic create-if-absent, so exactly one of any set of
// concurrent duplicates wins the right to run the business logic; the
// rest see in_progress or the committed response.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

type State string

const (
	// StateNew: this request won the record and may run.
	StateNew State = "new"
	// StateInProgress: another request holds the record.
	StateInProgress State = "in_progress"
	// StateCommitted: a finished response is cached for replay.
	StateCommitted State = "committed"
	// StateConflict: same key reused with a different body hash.
	StateConflict State = "conflict"
)

// CachedResponse is the replayable outcome of a committed operation.
type CachedResponse struct {
	Status int
	Body   []byte
}

type BeginResult struct {
	State State
	// OwnerRequestID identifies the in-flight request when the state
	// is in_progress.
	OwnerRequestID string
	// Cached is set when the state is committed.
	Cached *CachedResponse
}

// Store is the idempotency port. Release undoes an in-progress record
// after a failure, but only for the request that created it; the
// expire failure policy simply never calls it.
type Store interface {
	Begin(ctx context.Context, scope, key, requestID, bodyHash string, ttl time.Duration) (BeginResult, error)
	Commit(ctx context.Context, scope, key string, resp CachedResponse, ttl time.Duration) error
	Release(ctx context.Context, scope, key, requestID string) error
}

// HeaderKey derives the dedup key from a client-supplied
// Idempotency-Key header, scoped per tenant so tenants cannot collide.
func HeaderKey(tenant, headerValue string) string {
	return tenant + ":" + headerValue
}

// ContentKey derives a dedup key for endpoints without a natural
// client key: a canonical hash over the request envelope.
func ContentKey(tenant, method, path, contentType string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write([]byte(contentType))
	h.Write([]byte{0})
	h.Write(body)
	return tenant + ":sha256-" + hex.EncodeToString(h.Sum(nil))
}

// BodyHash fingerprints the request body so a reused key with a
// different payload is rejected instead of silently replayed.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
