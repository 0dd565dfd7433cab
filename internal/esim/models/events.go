package models

import (
	"encoding/json"
	"strconv"
	"time"

	id "simgate/pkg/domain"
	dErrors "simgate/pkg/domain-errors"
)

// EventType is a normalized vendor lifecycle event tag.
type EventType string

const (
	EventActivated      EventType = "profile.activated"
	EventSuspended      EventType = "profile.suspended"
	EventUnsuspended    EventType = "profile.unsuspended"
	EventCancelled      EventType = "profile.cancelled"
	EventExpired        EventType = "profile.expired"
	EventRevoked        EventType = "profile.revoked"
	EventUsageThreshold EventType = "usage.threshold"
	EventBalanceLow     EventType = "balance.low"
)

// eventAliases maps the tags observed across vendor API versions onto the
// normalized set. The vendor renames events between versions; ingestion must
// not care.
var eventAliases = map[string]EventType{
	"profile.activated":   EventActivated,
	"profile.enabled":     EventActivated,
	"profile.suspended":   EventSuspended,
	"profile.unsuspended": EventUnsuspended,
	"profile.resumed":     EventUnsuspended,
	"profile.cancelled":   EventCancelled,
	"profile.canceled":    EventCancelled,
	"profile.expired":     EventExpired,
	"profile.revoked":     EventRevoked,
	"usage.threshold":     EventUsageThreshold,
	"balance.low":         EventBalanceLow,
}

// NormalizeEventType maps a raw vendor tag to a normalized EventType.
func NormalizeEventType(raw string) (EventType, bool) {
	t, ok := eventAliases[raw]
	return t, ok
}

// EntityBound reports whether the event targets one eSIM entity.
// balance.low is account-level and resolves to no entity.
func (t EventType) EntityBound() bool {
	return t != EventBalanceLow
}

// LifecycleEvent is a parsed vendor webhook payload.
type LifecycleEvent struct {
	RawType        string
	EventID        string
	ICCID          id.ICCID
	VendorOrderRef id.VendorOrderRef
	ActivationTime *time.Time
	Reason         string
	Usage          string
	Threshold      string
	Remaining      string
	Balance        string
	Raw            json.RawMessage
}

// webhookPayload mirrors the vendor wire format. Numeric fields arrive as
// either numbers or strings depending on vendor API version.
type webhookPayload struct {
	Event          string          `json:"event"`
	EventID        string          `json:"eventId"`
	ICCID          string          `json:"iccid"`
	ProfileID      string          `json:"profileId"`
	OrderReference string          `json:"orderReference"`
	ActivationTime string          `json:"activationTime"`
	Reason         string          `json:"reason"`
	Usage          json.RawMessage `json:"usage"`
	Threshold      json.RawMessage `json:"threshold"`
	Remaining      json.RawMessage `json:"remaining"`
	Balance        json.RawMessage `json:"balance"`
}

// ParseLifecycleEvent decodes and structurally validates a raw webhook body.
// The returned event keeps the raw payload for the audit trail.
func ParseLifecycleEvent(raw []byte) (*LifecycleEvent, error) {
	var p webhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed webhook payload")
	}
	if p.Event == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "webhook payload missing event tag")
	}

	ev := &LifecycleEvent{
		RawType:        p.Event,
		EventID:        p.EventID,
		VendorOrderRef: id.VendorOrderRef(p.OrderReference),
		Reason:         p.Reason,
		Usage:          rawScalar(p.Usage),
		Threshold:      rawScalar(p.Threshold),
		Remaining:      rawScalar(p.Remaining),
		Balance:        rawScalar(p.Balance),
		Raw:            json.RawMessage(raw),
	}

	// profileId and iccid are the same key under different vendor API
	// versions; either is accepted.
	iccidRaw := p.ICCID
	if iccidRaw == "" {
		iccidRaw = p.ProfileID
	}
	if iccidRaw != "" {
		iccid, err := id.ParseICCID(iccidRaw)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "webhook payload carries invalid iccid")
		}
		ev.ICCID = iccid
	}

	if p.ActivationTime != "" {
		if at, err := time.Parse(time.RFC3339, p.ActivationTime); err == nil {
			ev.ActivationTime = &at
		}
	}

	return ev, nil
}

// DedupKey identifies one delivered event for idempotent processing. Empty
// when the vendor supplied no event id; absorbing-state semantics cover that
// case.
func (e *LifecycleEvent) DedupKey() string {
	if e.EventID == "" {
		return ""
	}
	return e.RawType + ":" + e.EventID + ":" + e.ICCID.String()
}

func rawScalar(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return string(raw)
}
