// Package ledger is the client for the storefront order ledger: the system
// of record for orders, the audience-visible order notes, and the order
// metadata keys other storefront tooling reads.
package ledger

//go:generate mockgen -source=client.go -destination=mocks/mocks.go -package=mocks Client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"simgate/internal/platform/config"
	id "simgate/pkg/domain"
	dErrors "simgate/pkg/domain-errors"
)

// Client is the outbound surface of the order ledger.
type Client interface {
	GetOrder(ctx context.Context, orderID id.OrderID) (*Order, error)
	AppendNote(ctx context.Context, orderID id.OrderID, note string, customerVisible bool) error
	SetMetadata(ctx context.Context, orderID id.OrderID, key, value string) error
}

// Order is the subset of the ledger order record provisioning needs.
type Order struct {
	ID         id.OrderID `json:"id"`
	Status     string     `json:"status"`
	CustomerID int64      `json:"customer_id"`
	Billing    Billing    `json:"billing"`
	LineItems  []LineItem `json:"line_items"`
}

type Billing struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type LineItem struct {
	Name      string `json:"name"`
	SKU       string `json:"sku"`
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// HTTPClient talks to the ledger REST API with basic auth.
type HTTPClient struct {
	baseURL string
	key     string
	secret  string
	http    *http.Client
}

func NewHTTPClient(cfg config.Ledger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		key:     cfg.ConsumerKey,
		secret:  cfg.ConsumerSecret,
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *HTTPClient) GetOrder(ctx context.Context, orderID id.OrderID) (*Order, error) {
	var order Order
	path := fmt.Sprintf("/orders/%d", orderID)
	if err := c.do(ctx, http.MethodGet, path, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *HTTPClient) AppendNote(ctx context.Context, orderID id.OrderID, note string, customerVisible bool) error {
	body := map[string]any{
		"note":          note,
		"customer_note": customerVisible,
	}
	path := fmt.Sprintf("/orders/%d/notes", orderID)
	return c.do(ctx, http.MethodPost, path, body, nil)
}

func (c *HTTPClient) SetMetadata(ctx context.Context, orderID id.OrderID, key, value string) error {
	body := map[string]any{
		"meta_data": []map[string]string{{"key": key, "value": value}},
	}
	path := fmt.Sprintf("/orders/%d", orderID)
	return c.do(ctx, http.MethodPut, path, body, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "encode ledger request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build ledger request")
	}
	req.SetBasicAuth(c.key, c.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "ledger endpoint unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return dErrors.New(dErrors.CodeNotFound, "ledger order not found")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return dErrors.Newf(dErrors.CodeInternal, "ledger returned status %d: %s", resp.StatusCode, snippet)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "decode ledger response")
	}
	return nil
}
