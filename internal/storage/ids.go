package storage

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
)

// ErrTokenUnknown and ErrTokenAlreadyUsed are mapped to the public apperrors
// taxonomy by the enrollment package, which is closer to the HTTP boundary and
// knows whether "unknown" should be indistinguishable from "expired" (spec §7
// groups TokenExpired/TokenUsed under the same 410 response).
var (
	ErrTokenUnknown     = errors.New("storage: enrollment token not found")
	ErrTokenAlreadyUsed = errors.New("storage: enrollment token already used")
)

// nextID assigns the next primary key for table within tx, by taking the current
// max and adding one. Schema tables use plain integer primary keys rather than a
// driver-specific auto-increment/serial column so the same migration file works
// unmodified across postgres, mysql and sqlite; correctness under concurrent
// inserts to the same table relies on the caller already holding a row lock that
// serializes writers (as RedeemEnrollmentToken and the network allocator do).
func nextID(ctx context.Context, tx *sqlx.Tx, driver, table string) (int64, error) {
	var id int64

	query := tx.Rebind(`SELECT COALESCE(MAX(id), 0) + 1 FROM ` + table)

	if err := tx.GetContext(ctx, &id, query); err != nil {
		return 0, err
	}

	return id, nil
}
