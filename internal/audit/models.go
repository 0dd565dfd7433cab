package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	id "simgate/pkg/domain"
)

// Actor identifies who drove a recorded action.
type Actor string

const (
	ActorSystem Actor = "system"
	ActorAdmin  Actor = "admin"
	ActorVendor Actor = "vendor"
)

// Activation log action tags. Free-form tags are allowed for one-off admin
// actions; these cover the regular paths.
const (
	ActionProvisionStarted   = "provision.started"
	ActionProvisionSucceeded = "provision.succeeded"
	ActionProvisionFailed    = "provision.failed"
	ActionEventApplied       = "event.applied"
	ActionEventNoop          = "event.noop"
	ActionEventRejected      = "event.rejected"
)

// Entry is one append-only activation log record: a replayable history of
// transition attempts (including rejected ones) independent of current
// entity state.
type Entry struct {
	ID        uuid.UUID
	EsimID    id.EsimID
	Action    string
	Actor     Actor
	Metadata  map[string]string
	CreatedAt time.Time
}

// WebhookRecord is one raw vendor webhook delivery, persisted before any
// state mutation so replays stay diagnosable even when the update fails.
type WebhookRecord struct {
	ID             uuid.UUID
	EventType      string
	EventID        string
	ICCID          id.ICCID
	VendorOrderRef id.VendorOrderRef
	Payload        json.RawMessage
	ProcessError   string
	ReceivedAt     time.Time
}
