package regulation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defguard/defguard-core/internal/apperrors"
	"github.com/defguard/defguard-core/internal/configuration/schema"
	"github.com/defguard/defguard-core/internal/regulation"
)

type fakeRecorder struct {
	failures map[int64][]time.Time
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{failures: make(map[int64][]time.Time)}
}

func (f *fakeRecorder) RecordFailedLogin(ctx context.Context, userID int64) error {
	f.failures[userID] = append(f.failures[userID], time.Now())

	return nil
}

func (f *fakeRecorder) CountRecentFailures(ctx context.Context, userID int64, since time.Time) (int, error) {
	count := 0
	for _, t := range f.failures[userID] {
		if t.After(since) {
			count++
		}
	}

	return count, nil
}

func TestCheckAllowsUnderThreshold(t *testing.T) {
	store := newFakeRecorder()
	r := regulation.New(store, schema.RegulationConfiguration{MaxRetries: 3, FindTime: time.Minute, BanTime: 5 * time.Minute})

	require.NoError(t, r.RecordFailure(context.Background(), 1))
	require.NoError(t, r.RecordFailure(context.Background(), 1))

	assert.NoError(t, r.Check(context.Background(), 1))
}

func TestCheckDeniesAtThreshold(t *testing.T) {
	store := newFakeRecorder()
	r := regulation.New(store, schema.RegulationConfiguration{MaxRetries: 3, FindTime: time.Minute, BanTime: 5 * time.Minute})

	for i := 0; i < 3; i++ {
		require.NoError(t, r.RecordFailure(context.Background(), 1))
	}

	assert.ErrorIs(t, r.Check(context.Background(), 1), apperrors.ErrCredentialInvalid)
}

func TestCheckIsPerUser(t *testing.T) {
	store := newFakeRecorder()
	r := regulation.New(store, schema.RegulationConfiguration{MaxRetries: 1, FindTime: time.Minute, BanTime: 5 * time.Minute})

	require.NoError(t, r.RecordFailure(context.Background(), 1))

	assert.Error(t, r.Check(context.Background(), 1))
	assert.NoError(t, r.Check(context.Background(), 2))
}
