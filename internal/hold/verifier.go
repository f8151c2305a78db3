package hold

import (
	"context"

	"ms-boxoffice/internal/apperror"
)

// Reader is the read-only view of hold state that verification needs.
type Reader interface {
	Current(ctx context.Context, tenant, performanceID, seatID string) (string, error)
}

// Verifier checks that every seat in a set is currently held by the
// presented fencing token. It is a fast-reject gate ahead of checkout,
// not the system of record: reads are unsynchronized with concurrent
// extend/release, and the database compare-and-set has the final say.
type Verifier struct {
	Store Reader
}

func NewVerifier(store Reader) *Verifier {
	return &Verifier{Store: store}
}

// Verify parses rawToken and reads each seat's hold. A missing hold,
// owner mismatch, or version mismatch puts the seat in conflicts. Store
// errors surface as system errors; the caller must fail closed.
func (v *Verifier) Verify(ctx context.Context, tenant, performanceID string, seatIDs []string, rawToken string) ([]string, error) {
	token, err := ParseToken(rawToken)
	if err != nil {
		return nil, err
	}
	want := token.String()

	var conflicts []string
	for _, seatID := range seatIDs {
		cur, err := v.Store.Current(ctx, tenant, performanceID, seatID)
		if err != nil {
			return nil, err
		}
		if cur != want {
			conflicts = append(conflicts, seatID)
		}
	}
	if len(conflicts) > 0 {
		return conflicts, apperror.New(apperror.Conflict, "hold_mismatch", "one or more seats are not held by this token")
	}
	return nil, nil
}
