// Package regulation implements the sliding-window brute-force throttle that sits in
// front of C2/C3: while MaxRetries or more failures fall within the last BanTime,
// further attempts are refused. Modeled on Authelia's own regulation package
// (find_time/ban_time sliding window over recorded failures), adapted here to read
// failures from the Credential Store's RecordFailedLogin/CountRecentFailures rather
// than a dedicated regulation table.
package regulation

import (
	"context"
	"time"

	"github.com/defguard/defguard-core/internal/apperrors"
	"github.com/defguard/defguard-core/internal/configuration/schema"
)

// FailureRecorder is the subset of the Credential Store this package depends on.
type FailureRecorder interface {
	RecordFailedLogin(ctx context.Context, userID int64) error
	CountRecentFailures(ctx context.Context, userID int64, since time.Time) (int, error)
}

// Regulator enforces the find_time/ban_time policy described in spec §4.3 ("each
// method shares a per-user counter; after N failures within the window the session
// transitions to Failed").
type Regulator struct {
	store      FailureRecorder
	maxRetries int
	findTime   time.Duration
	banTime    time.Duration
}

func New(store FailureRecorder, cfg schema.RegulationConfiguration) *Regulator {
	return &Regulator{
		store:      store,
		maxRetries: cfg.MaxRetries,
		findTime:   cfg.FindTime,
		banTime:    cfg.BanTime,
	}
}

// Check returns apperrors.ErrCredentialInvalid-wrapped PolicyDenied-equivalent error
// (surfaced to callers as a regulation failure, mapped at the boundary the same way
// as CredentialInvalid per spec §7) if userID has accumulated MaxRetries or more
// failures within the ban lookback window (BanTime, the longer of the two so a user
// banned mid-FindTime window stays banned for the full BanTime).
func (r *Regulator) Check(ctx context.Context, userID int64) error {
	count, err := r.store.CountRecentFailures(ctx, userID, time.Now().Add(-r.banTime))
	if err != nil {
		return err
	}

	if count >= r.maxRetries {
		return apperrors.ErrCredentialInvalid
	}

	return nil
}

// RecordFailure records a failed attempt for userID. Call this on every failed
// password or MFA attempt so Check's window reflects the true recent failure count.
func (r *Regulator) RecordFailure(ctx context.Context, userID int64) error {
	return r.store.RecordFailedLogin(ctx, userID)
}

// WithinFindWindow reports whether a timestamp falls within the shorter find_time
// window, used by callers that want to distinguish "actively failing" from
// "previously banned, cooling down" for logging/metrics purposes.
func (r *Regulator) WithinFindWindow(t time.Time) bool {
	return time.Since(t) <= r.findTime
}
