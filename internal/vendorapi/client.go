// Package vendor wraps the remote eSIM provisioning authority. The client is
// stateless; construct one at startup and inject it wherever vendor calls
// are made.
//
// Error normalization: every failure is returned as a coded domain error.
// Unreachable endpoint and non-success statuses become CodeVendorTransport;
// an order placement the vendor explicitly refuses becomes
// CodeVendorOrderRejected. Callers never see transport-library errors.
package vendor

//go:generate mockgen -source=client.go -destination=mocks/mocks.go -package=mocks Client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"simgate/internal/platform/config"
	id "simgate/pkg/domain"
	dErrors "simgate/pkg/domain-errors"
)

// Client is the outbound surface of the vendor provisioning authority.
type Client interface {
	Balance(ctx context.Context) (float64, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)
	ProfileByOrderRef(ctx context.Context, ref id.VendorOrderRef) (*Profile, error)
	CancelProfile(ctx context.Context, iccid id.ICCID, reason string) error
	SuspendProfile(ctx context.Context, iccid id.ICCID, reason string) error
	UnsuspendProfile(ctx context.Context, iccid id.ICCID) error
	RevokeProfile(ctx context.Context, iccid id.ICCID, reason string) error
	Usage(ctx context.Context, iccid id.ICCID) (*UsageReport, error)
	SendSMS(ctx context.Context, iccid id.ICCID, message string) error
	SetWebhook(ctx context.Context, callbackURL string) error
}

// HTTPClient talks to the vendor REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewHTTPClient(cfg config.Vendor) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *HTTPClient) Balance(ctx context.Context) (float64, error) {
	var resp struct {
		Balance float64 `json:"balance"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/balance", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

func (c *HTTPClient) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	body := map[string]any{
		"transactionId": req.TransactionRef,
		"packageCode":   req.SKU.String(),
		"count":         req.Quantity,
	}
	var resp struct {
		OrderNo string `json:"orderNo"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/orders", body, &resp)
	if err != nil {
		// The vendor answers order placement with a 4xx when it refuses
		// the order (unknown package, exhausted stock); that is a
		// rejection, not a transport fault.
		var httpErr *statusError
		if errors.As(err, &httpErr) && httpErr.status >= 400 && httpErr.status < 500 {
			return nil, dErrors.Wrap(err, dErrors.CodeVendorOrderRejected, "vendor refused order placement")
		}
		return nil, err
	}
	if resp.OrderNo == "" {
		return nil, dErrors.New(dErrors.CodeVendorOrderRejected, "vendor order response carries no order reference")
	}
	return &OrderResponse{OrderRef: id.VendorOrderRef(resp.OrderNo)}, nil
}

func (c *HTTPClient) ProfileByOrderRef(ctx context.Context, ref id.VendorOrderRef) (*Profile, error) {
	var resp struct {
		Profiles []json.RawMessage `json:"profiles"`
	}
	path := "/v1/profiles?orderNo=" + ref.String()
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Profiles) == 0 {
		// Not ready yet; the poll loop treats an empty profile as a miss.
		return &Profile{}, nil
	}
	return parseProfile(resp.Profiles[0])
}

func (c *HTTPClient) CancelProfile(ctx context.Context, iccid id.ICCID, reason string) error {
	return c.profileAction(ctx, iccid, "cancel", reason)
}

func (c *HTTPClient) SuspendProfile(ctx context.Context, iccid id.ICCID, reason string) error {
	return c.profileAction(ctx, iccid, "suspend", reason)
}

func (c *HTTPClient) UnsuspendProfile(ctx context.Context, iccid id.ICCID) error {
	return c.profileAction(ctx, iccid, "unsuspend", "")
}

func (c *HTTPClient) RevokeProfile(ctx context.Context, iccid id.ICCID, reason string) error {
	return c.profileAction(ctx, iccid, "revoke", reason)
}

func (c *HTTPClient) profileAction(ctx context.Context, iccid id.ICCID, action, reason string) error {
	body := map[string]string{}
	if reason != "" {
		body["reason"] = reason
	}
	path := fmt.Sprintf("/v1/profiles/%s/%s", iccid.String(), action)
	return c.do(ctx, http.MethodPost, path, body, nil)
}

func (c *HTTPClient) Usage(ctx context.Context, iccid id.ICCID) (*UsageReport, error) {
	var resp UsageReport
	path := fmt.Sprintf("/v1/profiles/%s/usage", iccid.String())
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) SendSMS(ctx context.Context, iccid id.ICCID, message string) error {
	body := map[string]string{"iccid": iccid.String(), "message": message}
	return c.do(ctx, http.MethodPost, "/v1/sms", body, nil)
}

func (c *HTTPClient) SetWebhook(ctx context.Context, callbackURL string) error {
	body := map[string]string{"url": callbackURL}
	return c.do(ctx, http.MethodPost, "/v1/webhook", body, nil)
}

// do issues one request and decodes the response into out (when non-nil).
// All transport and protocol failures come back as CodeVendorTransport.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "encode vendor request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build vendor request")
	}
	req.Header.Set("RT-AccessCode", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeVendorTransport, "vendor endpoint unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return dErrors.Wrap(
			&statusError{status: resp.StatusCode, body: string(snippet)},
			dErrors.CodeVendorTransport,
			fmt.Sprintf("vendor returned status %d", resp.StatusCode),
		)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return dErrors.Wrap(err, dErrors.CodeVendorTransport, "decode vendor response")
	}
	return nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}
