// Package handler exposes the HTTP surface: the storefront and vendor
// webhook hooks, and the admin provisioning and lifecycle endpoints.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"simgate/internal/audit"
	"simgate/internal/dispatch"
	"simgate/internal/esim/models"
	"simgate/internal/platform/metrics"
	"simgate/internal/platform/middleware"
	"simgate/internal/reconcile"
	"simgate/internal/transport/http/shared"
	"simgate/internal/vendorapi"
	id "simgate/pkg/domain"
	dErrors "simgate/pkg/domain-errors"
)

// maxWebhookBody bounds inbound webhook payloads.
const maxWebhookBody = 1 << 20

// Provisioner runs the provisioning workflow for an order or a single line.
type Provisioner interface {
	ProvisionOrder(ctx context.Context, orderID id.OrderID) ([]*models.Esim, error)
	ProvisionOrderLine(ctx context.Context, orderID id.OrderID, sku id.SKU, quantity int) (*models.Esim, error)
}

// Reconciler applies one raw vendor webhook delivery.
type Reconciler interface {
	Reconcile(ctx context.Context, raw []byte) reconcile.Ack
}

// EsimService covers queries and operator lifecycle actions.
type EsimService interface {
	Get(ctx context.Context, esimID id.EsimID) (*models.Esim, error)
	ByOrder(ctx context.Context, orderID id.OrderID) ([]*models.Esim, error)
	History(ctx context.Context, esimID id.EsimID) ([]audit.Entry, error)
	Usage(ctx context.Context, esimID id.EsimID) (*vendor.UsageReport, error)
	Cancel(ctx context.Context, esimID id.EsimID, reason string) (*models.Esim, error)
	Suspend(ctx context.Context, esimID id.EsimID, reason string) (*models.Esim, error)
	Unsuspend(ctx context.Context, esimID id.EsimID) (*models.Esim, error)
	Revoke(ctx context.Context, esimID id.EsimID, reason string) (*models.Esim, error)
}

type Handler struct {
	provisioner  Provisioner
	reconciler   Reconciler
	esims        EsimService
	dispatcher   *dispatch.Dispatcher
	logger       *slog.Logger
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

func New(
	provisioner Provisioner,
	reconciler Reconciler,
	esims EsimService,
	dispatcher *dispatch.Dispatcher,
	logger *slog.Logger,
	m *metrics.Metrics,
	jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		provisioner:  provisioner,
		reconciler:   reconciler,
		esims:        esims,
		dispatcher:   dispatcher,
		logger:       logger,
		metrics:      m,
		jwtValidator: jwtValidator,
	}
}

// Register mounts the hook and admin routes.
func (h *Handler) Register(r chi.Router) {
	hooks := chi.NewRouter()
	hooks.Use(middleware.Recovery(h.logger))
	hooks.Use(middleware.RequestID)
	hooks.Use(middleware.Logger(h.logger))
	hooks.Use(middleware.Timeout(30 * time.Second))
	hooks.Use(middleware.LatencyMiddleware(h.metrics))
	hooks.Post("/order-completed", h.handleOrderCompleted)
	hooks.Post("/vendor", h.handleVendorWebhook)
	r.Mount("/hooks", hooks)

	admin := chi.NewRouter()
	admin.Use(middleware.Recovery(h.logger))
	admin.Use(middleware.RequestID)
	admin.Use(middleware.Logger(h.logger))
	admin.Use(middleware.Timeout(2 * time.Minute))
	admin.Use(middleware.ContentTypeJSON)
	admin.Use(middleware.LatencyMiddleware(h.metrics))
	admin.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
	admin.Use(middleware.RequireAdmin(h.logger))
	admin.Post("/esim/provision", h.handleProvision)
	admin.Get("/esim/orders/{orderID}/provisioning", h.handleOrderStatus)
	admin.Get("/esim/{esimID}", h.handleGet)
	admin.Get("/esim/{esimID}/history", h.handleHistory)
	admin.Get("/esim/{esimID}/usage", h.handleUsage)
	admin.Post("/esim/{esimID}/cancel", h.action(func(ctx context.Context, eid id.EsimID, reason string) (*models.Esim, error) {
		return h.esims.Cancel(ctx, eid, reason)
	}))
	admin.Post("/esim/{esimID}/suspend", h.action(func(ctx context.Context, eid id.EsimID, reason string) (*models.Esim, error) {
		return h.esims.Suspend(ctx, eid, reason)
	}))
	admin.Post("/esim/{esimID}/unsuspend", h.action(func(ctx context.Context, eid id.EsimID, _ string) (*models.Esim, error) {
		return h.esims.Unsuspend(ctx, eid)
	}))
	admin.Post("/esim/{esimID}/revoke", h.action(func(ctx context.Context, eid id.EsimID, reason string) (*models.Esim, error) {
		return h.esims.Revoke(ctx, eid, reason)
	}))
	r.Mount("/admin", admin)
}

// orderCompletedPayload is the storefront webhook body. The storefront posts
// the full order object; only the id and status matter here.
type orderCompletedPayload struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// handleOrderCompleted acks immediately and provisions in the background.
// The storefront's webhook timeout is far shorter than a provisioning run.
func (h *Handler) handleOrderCompleted(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unreadable request body"))
		return
	}
	var payload orderCompletedPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger.WarnContext(ctx, "malformed order webhook", "request_id", requestID, "error", err)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed order payload"))
		return
	}
	orderID, err := id.OrderIDFromInt(payload.ID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if payload.Status != "" && payload.Status != "completed" {
		h.logger.InfoContext(ctx, "ignoring order webhook for non-completed order",
			"request_id", requestID, "order_id", orderID, "status", payload.Status)
		shared.WriteJSON(w, http.StatusAccepted, map[string]any{"received": true})
		return
	}

	h.dispatcher.Go("provision-order", func(ctx context.Context) error {
		_, err := h.provisioner.ProvisionOrder(ctx, orderID)
		return err
	})
	h.logger.InfoContext(ctx, "order provisioning dispatched",
		"request_id", requestID, "order_id", orderID)
	shared.WriteJSON(w, http.StatusAccepted, map[string]any{"received": true})
}

// handleVendorWebhook answers 200 with a receipt for every delivery; the
// reconciler owns all failure handling.
func (h *Handler) handleVendorWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		body = nil
	}
	ack := h.reconciler.Reconcile(r.Context(), body)
	shared.WriteJSON(w, http.StatusOK, ack)
}

type provisionRequest struct {
	OrderID  int64  `json:"order_id"`
	SKU      string `json:"sku,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
}

// handleProvision is the manual trigger: synchronous, so the operator sees
// the outcome (or the error) directly.
func (h *Handler) handleProvision(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	orderID, err := id.OrderIDFromInt(req.OrderID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	out, err := h.runProvision(r.Context(), orderID, req)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "manual provisioning failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"order_id", orderID, "sku", req.SKU, "error", err)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"esims": toResponses(out)})
}

// runProvision provisions the whole order, or only the named line when the
// request carries a sku.
func (h *Handler) runProvision(ctx context.Context, orderID id.OrderID, req provisionRequest) ([]*models.Esim, error) {
	if req.SKU == "" {
		return h.provisioner.ProvisionOrder(ctx, orderID)
	}
	sku, err := id.ParseSKU(req.SKU)
	if err != nil {
		return nil, err
	}
	entity, err := h.provisioner.ProvisionOrderLine(ctx, orderID, sku, req.Quantity)
	if err != nil {
		return nil, err
	}
	return []*models.Esim{entity}, nil
}

func (h *Handler) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := id.ParseOrderID(chi.URLParam(r, "orderID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	out, err := h.esims.ByOrder(r.Context(), orderID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"esims": toResponses(out)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	esimID, err := id.ParseEsimID(chi.URLParam(r, "esimID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	entity, err := h.esims.Get(r.Context(), esimID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toResponse(entity))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	esimID, err := id.ParseEsimID(chi.URLParam(r, "esimID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	entries, err := h.esims.History(r.Context(), esimID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	out := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyResponse{
			Action:    e.Action,
			Actor:     string(e.Actor),
			Metadata:  e.Metadata,
			CreatedAt: e.CreatedAt,
		})
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"history": out})
}

func (h *Handler) handleUsage(w http.ResponseWriter, r *http.Request) {
	esimID, err := id.ParseEsimID(chi.URLParam(r, "esimID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	report, err := h.esims.Usage(r.Context(), esimID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, report)
}

type actionRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) action(run func(ctx context.Context, esimID id.EsimID, reason string) (*models.Esim, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		esimID, err := id.ParseEsimID(chi.URLParam(r, "esimID"))
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		var req actionRequest
		if r.Body != nil {
			// Reason is optional; an empty body is fine.
			_ = json.NewDecoder(r.Body).Decode(&req)
		}
		entity, err := run(r.Context(), esimID, req.Reason)
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		shared.WriteJSON(w, http.StatusOK, toResponse(entity))
	}
}
