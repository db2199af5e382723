/*
hooks.go - Notification trigger hook and post-commit event dispatch

PURPOSE:
  Lifecycle operations produce events (issued, redeemed, expiring) that
  external systems turn into emails, POS receipts, reports. Delivery is
  best-effort and must never affect ledger correctness.

OUTBOX SHAPE:
  The engine collects events while the ledger transaction is staged and
  hands them to the dispatcher only after the commit succeeds. A failed
  operation produces no events; a failed hook never rolls anything back.

EVENT TYPES:
  Each event kind is its own struct implementing the Event marker. The
  dispatcher switches over the concrete types exhaustively - no shape
  guessing on a payload map keyed by a type string.

FAILURE POLICY:
  Hook panics are recovered and logged. Hook errors are logged. Nothing
  propagates to the caller.

SEE ALSO:
  - engine.go: Produces events
  - sweeper.go: Produces ExpiringEvent
*/
package ledger

import (
	"context"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// NOTIFICATION HOOK - Implemented externally
// =============================================================================

// NotificationHook is invoked after a ledger transaction commits.
// Implementations must tolerate being called concurrently.
type NotificationHook interface {
	OnIssued(ctx context.Context, creditID CreditID)
	OnExpiring(ctx context.Context, creditID CreditID, daysUntil int)
	OnRedeemed(ctx context.Context, creditID CreditID, transactionID TransactionID)
}

// NopHook ignores all events.
type NopHook struct{}

func (NopHook) OnIssued(context.Context, CreditID) {}

func (NopHook) OnExpiring(context.Context, CreditID, int) {}

func (NopHook) OnRedeemed(context.Context, CreditID, TransactionID) {}

// =============================================================================
// EVENTS - One struct per kind
// =============================================================================

type Event interface {
	event()
}

type IssuedEvent struct {
	CreditID CreditID
}

type RedeemedEvent struct {
	CreditID      CreditID
	TransactionID TransactionID
}

type ExpiringEvent struct {
	CreditID  CreditID
	DaysUntil int
}

func (IssuedEvent) event() {}

func (RedeemedEvent) event() {}

func (ExpiringEvent) event() {}

// =============================================================================
// DISPATCHER - Best-effort, post-commit
// =============================================================================

// HookDispatcher delivers events to a NotificationHook asynchronously.
type HookDispatcher struct {
	hook NotificationHook
	log  *logrus.Entry
}

func NewHookDispatcher(hook NotificationHook, log *logrus.Entry) *HookDispatcher {
	if hook == nil {
		hook = NopHook{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &HookDispatcher{hook: hook, log: log}
}

// Dispatch fires events in a background goroutine. Call only after the
// ledger mutation has committed.
func (d *HookDispatcher) Dispatch(events []Event) {
	if len(events) == 0 {
		return
	}
	go func() {
		for _, ev := range events {
			d.deliver(ev)
		}
	}()
}

// DispatchSync delivers events on the calling goroutine. Used by the
// sweeper, which already runs on a background timer.
func (d *HookDispatcher) DispatchSync(events []Event) {
	for _, ev := range events {
		d.deliver(ev)
	}
}

func (d *HookDispatcher) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("panic", r).Error("notification hook panicked")
		}
	}()

	ctx := context.Background()
	switch e := ev.(type) {
	case IssuedEvent:
		d.hook.OnIssued(ctx, e.CreditID)
	case RedeemedEvent:
		d.hook.OnRedeemed(ctx, e.CreditID, e.TransactionID)
	case ExpiringEvent:
		d.hook.OnExpiring(ctx, e.CreditID, e.DaysUntil)
	default:
		d.log.WithField("event", ev).Warn("unknown event type dropped")
	}
}
