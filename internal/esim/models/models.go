// Package models holds the eSIM entity and its lifecycle state machine.
package models

import (
	"encoding/json"
	"time"

	id "simgate/pkg/domain"
)

// State is the lifecycle state of a vendor-issued eSIM profile.
type State string

const (
	StatePendingActivation State = "PENDING_ACTIVATION"
	StateActive            State = "ACTIVE"
	StateSuspended         State = "SUSPENDED"
	StateCancelled         State = "CANCELLED"
	StateExpired           State = "EXPIRED"
	StateRevoked           State = "REVOKED"
	StateDeactivated       State = "DEACTIVATED"
)

var validStates = map[State]bool{
	StatePendingActivation: true,
	StateActive:            true,
	StateSuspended:         true,
	StateCancelled:         true,
	StateExpired:           true,
	StateRevoked:           true,
	StateDeactivated:       true,
}

// IsValid reports whether s is a known lifecycle state.
func (s State) IsValid() bool { return validStates[s] }

// IsTerminal reports whether s is absorbing: once entered, no further
// transition is accepted for the entity.
func (s State) IsTerminal() bool {
	switch s {
	case StateCancelled, StateExpired, StateRevoked, StateDeactivated:
		return true
	}
	return false
}

// Metadata keys written by the reconciler and the admin lifecycle actions.
const (
	MetaSuspensionReason = "suspension_reason"
	MetaLastUsageBytes   = "last_usage_bytes"
	MetaUsageThreshold   = "usage_threshold"
	MetaUsageRemaining   = "usage_remaining"
	MetaPhoneNumber      = "phone_number"
)

// Esim represents one vendor-issued profile bound to one order line.
//
// Invariants:
//   - at most one entity per (OrderID, SKU) pair, enforced by the store
//   - ICCID is set at most once and immutable thereafter
type Esim struct {
	ID             id.EsimID
	OrderID        id.OrderID
	SKU            id.SKU
	UserID         id.UserID
	VendorOrderRef id.VendorOrderRef
	ICCID          id.ICCID
	State          State

	ActivationCode string
	QRPayload      string
	VendorProfile  json.RawMessage
	Metadata       map[string]string

	CreatedAt          time.Time
	ActivatedAt        *time.Time
	DeactivatedAt      *time.Time
	DeactivationReason string
}

// BindICCID sets the vendor profile identifier. Returns false when the
// entity already carries a different ICCID; rebinding is never allowed.
func (e *Esim) BindICCID(iccid id.ICCID) bool {
	if e.ICCID != "" {
		return e.ICCID == iccid
	}
	e.ICCID = iccid
	return true
}

// SetMeta writes one metadata key, allocating the map on first use.
func (e *Esim) SetMeta(key, value string) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
}

// Outcome classifies the result of applying a lifecycle event.
type Outcome string

const (
	// OutcomeApplied: the entity changed state or recorded the event's
	// side effect.
	OutcomeApplied Outcome = "applied"
	// OutcomeNoop: the event re-entered the current state or targeted an
	// absorbing state; tolerated for duplicate and out-of-order delivery.
	OutcomeNoop Outcome = "noop"
	// OutcomeRejected: the event's precondition does not hold and the
	// event is not a duplicate (e.g. unsuspend while pending).
	OutcomeRejected Outcome = "rejected"
)

// Apply drives the transition table for one normalized lifecycle event.
// Terminal states absorb everything as a no-op; duplicate transitions into
// the current state are no-ops. Only the entity's lifecycle fields are
// touched, never the correlation keys.
func (e *Esim) Apply(event EventType, ev *LifecycleEvent, now time.Time) Outcome {
	if e.State.IsTerminal() {
		return OutcomeNoop
	}

	switch event {
	case EventActivated:
		if e.State == StateActive {
			return OutcomeNoop
		}
		e.State = StateActive
		if e.ActivatedAt == nil {
			at := now
			if ev != nil && ev.ActivationTime != nil {
				at = *ev.ActivationTime
			}
			e.ActivatedAt = &at
		}
		return OutcomeApplied

	case EventSuspended:
		if e.State == StateSuspended {
			return OutcomeNoop
		}
		e.State = StateSuspended
		if ev != nil && ev.Reason != "" {
			e.SetMeta(MetaSuspensionReason, ev.Reason)
		}
		return OutcomeApplied

	case EventUnsuspended:
		if e.State == StateActive {
			return OutcomeNoop
		}
		if e.State != StateSuspended {
			return OutcomeRejected
		}
		e.State = StateActive
		delete(e.Metadata, MetaSuspensionReason)
		return OutcomeApplied

	case EventCancelled:
		return e.deactivate(StateCancelled, ev, now)
	case EventExpired:
		return e.deactivate(StateExpired, ev, now)
	case EventRevoked:
		return e.deactivate(StateRevoked, ev, now)

	case EventUsageThreshold:
		// State unchanged; usage bookkeeping only. The notification fan-out
		// is the reconciler's job, not the entity's.
		if e.State != StateActive {
			return OutcomeRejected
		}
		if ev != nil {
			if ev.Usage != "" {
				e.SetMeta(MetaLastUsageBytes, ev.Usage)
			}
			if ev.Threshold != "" {
				e.SetMeta(MetaUsageThreshold, ev.Threshold)
			}
			if ev.Remaining != "" {
				e.SetMeta(MetaUsageRemaining, ev.Remaining)
			}
		}
		return OutcomeApplied
	}

	return OutcomeRejected
}

func (e *Esim) deactivate(to State, ev *LifecycleEvent, now time.Time) Outcome {
	e.State = to
	at := now
	e.DeactivatedAt = &at
	if ev != nil && ev.Reason != "" {
		e.DeactivationReason = ev.Reason
	}
	return OutcomeApplied
}
