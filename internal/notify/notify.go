// Package notify is the outbound boundary to the notification
// collaborator. The core hands off payloads after its transaction
// commits; delivery to the customer (email, SMS, push) happens
// elsewhere. A notification failure is logged, never propagated into
// the custody transaction.
package notify

import (
	"context"
	"time"
)

// CodeIssued carries a freshly issued release code. This payload is the
// only place plaintext codes ever leave the core; they are never
// persisted or logged.
type CodeIssued struct {
	PackageID string    `json:"package_id"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PackageDelivered confirms a completed hand-off.
type PackageDelivered struct {
	PackageID   string    `json:"package_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// Notifier dispatches payloads to the notification collaborator.
// Implementations must be safe for concurrent use and must bound their
// own delivery time; callers invoke them fire-and-forget after commit.
type Notifier interface {
	CodeIssued(ctx context.Context, payload CodeIssued) error
	PackageDelivered(ctx context.Context, payload PackageDelivered) error
}

// Noop discards all payloads. Used in tests and when no broker is
// configured.
type Noop struct{}

func (Noop) CodeIssued(context.Context, CodeIssued) error { return nil }

func (Noop) PackageDelivered(context.Context, PackageDelivered) error { return nil }
