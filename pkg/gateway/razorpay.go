package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultBaseURL = "https://api.razorpay.com/v1"

// ErrNotFound is returned when the gateway has no record of the requested entity.
var ErrNotFound = errors.New("gateway: entity not found")

// Notes is the free-form key/value map attached to gateway entities. The
// gateway sends an empty JSON array instead of an empty object.
type Notes map[string]string

func (n *Notes) UnmarshalJSON(data []byte) error {
	if string(data) == "[]" || string(data) == "null" {
		*n = Notes{}
		return nil
	}
	raw := map[string]interface{}{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Notes, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = val
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	*n = out
	return nil
}

type Payment struct {
	ID             string `json:"id"`
	Entity         string `json:"entity"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	OrderID        string `json:"order_id"`
	InvoiceID      string `json:"invoice_id"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	Method         string `json:"method"`
	Captured       bool   `json:"captured"`
	Email          string `json:"email"`
	Contact        string `json:"contact"`
	Notes          Notes  `json:"notes"`
	ErrorCode      string `json:"error_code"`
	ErrorReason    string `json:"error_reason"`
	CreatedAt      int64  `json:"created_at"`
}

// SubscriptionRef returns the gateway subscription this payment belongs to, if any.
func (p *Payment) SubscriptionRef() string {
	if p.SubscriptionID != "" {
		return p.SubscriptionID
	}
	return p.Notes["subscription_id"]
}

type Subscription struct {
	ID           string `json:"id"`
	Entity       string `json:"entity"`
	PlanID       string `json:"plan_id"`
	CustomerID   string `json:"customer_id"`
	Status       string `json:"status"`
	CurrentStart *int64 `json:"current_start"`
	CurrentEnd   *int64 `json:"current_end"`
	ChargeAt     *int64 `json:"charge_at"`
	PaidCount    int    `json:"paid_count"`
	Notes        Notes  `json:"notes"`
}

// Window returns the billing period reported by the gateway, or ok=false
// when the subscription does not carry one yet.
func (s *Subscription) Window() (start, end time.Time, ok bool) {
	if s.CurrentStart == nil || s.CurrentEnd == nil || *s.CurrentEnd == 0 {
		return time.Time{}, time.Time{}, false
	}
	return time.Unix(*s.CurrentStart, 0).UTC(), time.Unix(*s.CurrentEnd, 0).UTC(), true
}

type Order struct {
	ID         string `json:"id"`
	Entity     string `json:"entity"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	Currency   string `json:"currency"`
	Receipt    string `json:"receipt"`
	Status     string `json:"status"`
	Notes      Notes  `json:"notes"`
	CreatedAt  int64  `json:"created_at"`
}

type OrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// APIError is the error body returned by the gateway on non-2xx responses.
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway error %d %s: %s", e.StatusCode, e.Code, e.Description)
}

type errorEnvelope struct {
	Error APIError `json:"error"`
}

type Client struct {
	http *resty.Client
}

func NewClient(baseURL, keyID, keySecret string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	rc := resty.New().
		SetBaseURL(baseURL).
		SetBasicAuth(keyID, keySecret).
		SetTimeout(15*time.Second).
		SetHeader("Accept", "application/json")
	return &Client{http: rc}
}

func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var payment Payment
	if err := c.get(ctx, "/payments/{id}", paymentID, &payment); err != nil {
		return nil, fmt.Errorf("fetch payment %s: %w", paymentID, err)
	}
	return &payment, nil
}

func (c *Client) FetchSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	var sub Subscription
	if err := c.get(ctx, "/subscriptions/{id}", subscriptionID, &sub); err != nil {
		return nil, fmt.Errorf("fetch subscription %s: %w", subscriptionID, err)
	}
	return &sub, nil
}

func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	var order Order
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&order).
		SetError(&errorEnvelope{}).
		Post("/orders")
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	if err := responseError(resp); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return &order, nil
}

func (c *Client) get(ctx context.Context, path, id string, out interface{}) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(out).
		SetError(&errorEnvelope{}).
		Get(path)
	if err != nil {
		return err
	}
	return responseError(resp)
}

func responseError(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	if resp.StatusCode() == http.StatusNotFound {
		return ErrNotFound
	}
	apiErr := &APIError{StatusCode: resp.StatusCode()}
	if env, ok := resp.Error().(*errorEnvelope); ok && env != nil {
		apiErr.Code = env.Error.Code
		apiErr.Description = env.Error.Description
	}
	return apiErr
}
