package models

// AcquireHoldRequest is the body of POST /api/v1/holds.
type AcquireHoldRequest struct {
	TenantID      string   `json:"tenant_id"`
	PerformanceID string   `json:"performance_id"`
	SeatIDs       []string `json:"seat_ids"`
	Owner         string   `json:"owner"`
	Version       int64    `json:"version"`
	TTLMillis     int64    `json:"ttl_ms"`
}

type AcquireHoldResponse struct {
	Acquired  bool     `json:"acquired"`
	Conflicts []string `json:"conflicts,omitempty"`
	// Token is the fencing token ("<version>:<owner>") to present on
	// checkout in the X-Seat-Hold-Token header.
	Token     string `json:"token,omitempty"`
	TTLMillis int64  `json:"ttl_ms,omitempty"`
}

// HoldKeyRequest addresses one held seat for extend/release.
type HoldKeyRequest struct {
	TenantID      string `json:"tenant_id"`
	PerformanceID string `json:"performance_id"`
	SeatID        string `json:"seat_id"`
	Owner         string `json:"owner"`
	Version       int64  `json:"version"`
	TTLMillis     int64  `json:"ttl_ms,omitempty"`
}

type HoldOpResponse struct {
	// Applied is false when the hold was already expired or owned by
	// someone else; both are NOOPs, not errors.
	Applied bool `json:"applied"`
}
