package handler

import (
	"time"

	"simgate/internal/esim/models"
)

type esimResponse struct {
	ID                 string            `json:"id"`
	OrderID            int64             `json:"order_id"`
	SKU                string            `json:"sku"`
	UserID             string            `json:"user_id,omitempty"`
	VendorOrderRef     string            `json:"vendor_order_ref,omitempty"`
	ICCID              string            `json:"iccid,omitempty"`
	State              string            `json:"state"`
	ActivationCode     string            `json:"activation_code,omitempty"`
	QRPayload          string            `json:"qr_payload,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	ActivatedAt        *time.Time        `json:"activated_at,omitempty"`
	DeactivatedAt      *time.Time        `json:"deactivated_at,omitempty"`
	DeactivationReason string            `json:"deactivation_reason,omitempty"`
}

type historyResponse struct {
	Action    string            `json:"action"`
	Actor     string            `json:"actor"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func toResponse(e *models.Esim) esimResponse {
	return esimResponse{
		ID:                 e.ID.String(),
		OrderID:            int64(e.OrderID),
		SKU:                e.SKU.String(),
		UserID:             e.UserID.String(),
		VendorOrderRef:     e.VendorOrderRef.String(),
		ICCID:              e.ICCID.String(),
		State:              string(e.State),
		ActivationCode:     e.ActivationCode,
		QRPayload:          e.QRPayload,
		Metadata:           e.Metadata,
		CreatedAt:          e.CreatedAt,
		ActivatedAt:        e.ActivatedAt,
		DeactivatedAt:      e.DeactivatedAt,
		DeactivationReason: e.DeactivationReason,
	}
}

func toResponses(list []*models.Esim) []esimResponse {
	out := make([]esimResponse, 0, len(list))
	for _, e := range list {
		out = append(out, toResponse(e))
	}
	return out
}
