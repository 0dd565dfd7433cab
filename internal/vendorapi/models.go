package vendor

import (
	"encoding/json"

	id "simgate/pkg/domain"
	dErrors "simgate/pkg/domain-errors"
)

// OrderRequest asks the vendor to provision one profile for a catalog
// package. TransactionRef keeps re-submission of the same order line
// idempotent on the vendor side.
type OrderRequest struct {
	SKU            id.SKU
	Quantity       int
	TransactionRef string
}

type OrderResponse struct {
	OrderRef id.VendorOrderRef
}

// Profile is a provisioned eSIM as the vendor reports it. Ready is false
// until the vendor has allocated an ICCID for the order.
type Profile struct {
	ICCID          id.ICCID
	ActivationCode string
	QRPayload      string
	Raw            json.RawMessage
}

func (p *Profile) Ready() bool {
	return p != nil && p.ICCID != ""
}

type UsageReport struct {
	TotalBytes     int64 `json:"totalBytes"`
	UsedBytes      int64 `json:"usedBytes"`
	RemainingBytes int64 `json:"remainingBytes"`
}

type profilePayload struct {
	ICCID          string `json:"iccid"`
	ActivationCode string `json:"ac"`
	QRCode         string `json:"qrCode"`
}

func parseProfile(raw json.RawMessage) (*Profile, error) {
	var wire profilePayload
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeVendorTransport, "decode vendor profile")
	}
	if wire.ICCID == "" {
		// Allocated but not yet populated; treat as not ready.
		return &Profile{Raw: raw}, nil
	}
	iccid, err := id.ParseICCID(wire.ICCID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeVendorTransport, "vendor reported malformed iccid")
	}
	return &Profile{
		ICCID:          iccid,
		ActivationCode: wire.ActivationCode,
		QRPayload:      wire.QRCode,
		Raw:            raw,
	}, nil
}
