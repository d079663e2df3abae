package notification

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	events []Event
}

func (d *recordingDispatcher) Emit(ctx context.Context, event Event) error {
	d.events = append(d.events, event)

	return nil
}

func TestEmailMFACodeNotifierEmitsTypedEvent(t *testing.T) {
	d := &recordingDispatcher{}
	n := EmailMFACodeNotifier{Dispatcher: d}

	err := n.NotifyEmailMFACode(context.Background(), 9, "123456")
	require.NoError(t, err)

	require.Len(t, d.events, 1)
	got := d.events[0]
	assert.Equal(t, KindMFAEmailCode, got.Kind)
	assert.Equal(t, int64(9), got.UserID)
	assert.Equal(t, "123456", got.Data["code"])
	assert.NotZero(t, got.IssuedAt)
}

func TestLogDispatcherDoesNotError(t *testing.T) {
	d := LogDispatcher{}

	err := d.Emit(context.Background(), New(KindEnrollmentStarted, 1, "enrollment_started", nil))
	assert.NoError(t, err)
}
