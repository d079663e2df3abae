// Package notification defines the typed events the core emits on
// notification-worthy occurrences. Actual delivery (SMTP, templated HTML
// rendering) is explicitly out of scope (spec §10 Non-goals): the core only
// emits an Event carrying an opaque template key and the data a renderer
// downstream would need, never a rendered message body.
package notification

import (
	"context"
	"strconv"
	"time"

	"github.com/defguard/defguard-core/internal/logging"
)

// Kind tags the occasion an Event was raised for. Closed set, mirroring the
// events spec §1/§4 name explicitly.
type Kind string

const (
	KindMFAEmailCode      Kind = "mfa_email_code"
	KindEnrollmentStarted Kind = "enrollment_started"
	KindRecoveryCodesLow  Kind = "recovery_codes_low"
	KindNewDeviceAdded    Kind = "new_device_added"
)

// Event is the payload handed to a Dispatcher. TemplateKey names the template a
// downstream renderer should use; Data carries the substitution values. Neither
// field is interpreted here.
type Event struct {
	Kind        Kind
	UserID      int64
	TemplateKey string
	Data        map[string]string
	IssuedAt    time.Time
}

// Dispatcher hands an Event off to whatever delivers it. The core depends only
// on this interface; it never imports an SMTP client or template engine.
type Dispatcher interface {
	Emit(ctx context.Context, event Event) error
}

// LogDispatcher is the default Dispatcher: it records the event at info level
// with the user id hashed, the way the teacher logs every other
// privacy-sensitive action (spec §7 "logged with username hash only"). A real
// deployment wires a production Dispatcher (SMTP, queue, webhook) in its place;
// this package never constructs one since that delivery mechanism is a
// non-goal.
type LogDispatcher struct{}

func (LogDispatcher) Emit(ctx context.Context, event Event) error {
	logging.Logger().WithFields(map[string]interface{}{
		"event":        event.Kind,
		"template_key": event.TemplateKey,
		"user_hash":    logging.HashUsername(strconv.FormatInt(event.UserID, 10)),
	}).Info("notification event emitted")

	return nil
}

// New builds an Event stamped with the current time.
func New(kind Kind, userID int64, templateKey string, data map[string]string) Event {
	return Event{
		Kind:        kind,
		UserID:      userID,
		TemplateKey: templateKey,
		Data:        data,
		IssuedAt:    time.Now().UTC(),
	}
}

// EmailMFACodeNotifier adapts a Dispatcher to internal/mfa.Notifier, turning a
// one-time email code into a typed Event rather than sending mail directly.
type EmailMFACodeNotifier struct {
	Dispatcher Dispatcher
}

func (n EmailMFACodeNotifier) NotifyEmailMFACode(ctx context.Context, userID int64, code string) error {
	return n.Dispatcher.Emit(ctx, New(KindMFAEmailCode, userID, "mfa_email_code", map[string]string{
		"code": code,
	}))
}
