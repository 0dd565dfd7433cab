// Package domain holds identifier and value types shared across layers.
// Construct them via the Parse functions at trust boundaries; direct casting
// bypasses validation.
package domain

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	dErrors "simgate/pkg/domain-errors"
)

// EsimID identifies a locally tracked eSIM entity.
type EsimID uuid.UUID

// NewEsimID generates a fresh entity identifier.
func NewEsimID() EsimID {
	return EsimID(uuid.New())
}

// ParseEsimID constructs an EsimID from external input.
func ParseEsimID(s string) (EsimID, error) {
	if s == "" {
		return EsimID(uuid.Nil), dErrors.New(dErrors.CodeInvalidInput, "esim id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil || u == uuid.Nil {
		return EsimID(uuid.Nil), dErrors.New(dErrors.CodeInvalidInput, "esim id must be a valid UUID")
	}
	return EsimID(u), nil
}

func (id EsimID) String() string { return uuid.UUID(id).String() }
func (id EsimID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// OrderID identifies an order in the storefront ledger. The ledger issues
// numeric identifiers.
type OrderID int64

// ParseOrderID constructs an OrderID from external input.
func ParseOrderID(s string) (OrderID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "order id must be a positive integer")
	}
	return OrderIDFromInt(n)
}

// OrderIDFromInt validates a numeric order id from a decoded payload.
func OrderIDFromInt(n int64) (OrderID, error) {
	if n <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "order id must be a positive integer")
	}
	return OrderID(n), nil
}

func (id OrderID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id OrderID) IsNil() bool    { return id == 0 }

// UserID identifies the owning storefront user. Opaque; issued by the
// external identity system.
type UserID string

func (id UserID) String() string { return string(id) }
func (id UserID) IsNil() bool    { return id == "" }

// ICCID is the vendor-issued profile identifier and the primary correlation
// key for lifecycle events.
type ICCID string

// ParseICCID constructs an ICCID from external input. ICCIDs are 18-22 digit
// strings; some vendors append a trailing check character.
func ParseICCID(s string) (ICCID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "iccid cannot be empty")
	}
	if len(s) < 18 || len(s) > 22 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "iccid length out of range")
	}
	for i, r := range s {
		if r >= '0' && r <= '9' {
			continue
		}
		// Trailing check character (e.g. "F") is tolerated.
		if i == len(s)-1 && r >= 'A' && r <= 'Z' {
			continue
		}
		return "", dErrors.New(dErrors.CodeInvalidInput, "iccid must be numeric")
	}
	return ICCID(s), nil
}

func (c ICCID) String() string { return string(c) }
func (c ICCID) IsNil() bool    { return c == "" }

// VendorOrderRef is the opaque token returned by the vendor on order
// placement, used to poll for completion before the ICCID is known.
type VendorOrderRef string

func (r VendorOrderRef) String() string { return string(r) }
func (r VendorOrderRef) IsNil() bool    { return r == "" }

// SKU identifies a storefront product variant.
type SKU string

// ParseSKU validates a raw SKU string from order line items.
func ParseSKU(raw string) (SKU, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "sku is required")
	}
	return SKU(raw), nil
}

func (s SKU) String() string { return string(s) }
func (s SKU) IsNil() bool    { return s == "" }
