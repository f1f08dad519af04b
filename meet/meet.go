// Package meet is a typed client for the upstream booking API. Every call
// goes through client.Executor, so bearer attachment and the single refresh
// retry apply uniformly.
package meet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-authgate/meetgate/apierr"
	"github.com/go-authgate/meetgate/client"
)

// DateLayout is the calendar-date format the availability endpoint expects.
const DateLayout = "2006-01-02"

// Doctor is a bookable practitioner.
type Doctor struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty,omitempty"`
	PhotoURL  string `json:"photoUrl,omitempty"`
	Bio       string `json:"bio,omitempty"`
}

// Slot is one bookable time window.
type Slot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}

// Availability lists a doctor's slots on one day.
type Availability struct {
	DoctorID string `json:"doctorId"`
	Date     string `json:"date"`
	Slots    []Slot `json:"slots"`
}

// Price is one tier of a product.
type Price struct {
	ID       string `json:"id"`
	Label    string `json:"label,omitempty"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Product is a bookable service.
type Product struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Prices      []Price `json:"prices,omitempty"`
}

// OrderRequest books a slot.
type OrderRequest struct {
	DoctorID  string    `json:"doctorId"`
	ProductID string    `json:"productId"`
	PriceID   string    `json:"priceId,omitempty"`
	Start     time.Time `json:"start"`
	Note      string    `json:"note,omitempty"`
}

// Order is the upstream booking record.
type Order struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	DoctorID  string    `json:"doctorId"`
	ProductID string    `json:"productId"`
	Start     time.Time `json:"start"`
}

// PaymentRequest starts payment for an order.
type PaymentRequest struct {
	OrderID   string `json:"orderId"`
	ReturnURL string `json:"returnUrl,omitempty"`
}

// Payment is the upstream payment session.
type Payment struct {
	ID          string `json:"id"`
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	RedirectURL string `json:"redirectUrl,omitempty"`
}

// Client calls the meet API on behalf of the stored user.
type Client struct {
	baseURL string
	exec    *client.Executor
}

// New returns a Client rooted at baseURL. An empty baseURL is accepted here
// and reported as a configuration error on first use.
func New(baseURL string, exec *client.Executor) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), exec: exec}
}

// ListDoctors returns every doctor.
func (c *Client) ListDoctors(ctx context.Context) ([]Doctor, error) {
	var out []Doctor
	if err := c.get(ctx, "list_doctors", "/doctors", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetDoctor returns one doctor.
func (c *Client) GetDoctor(ctx context.Context, id string) (*Doctor, error) {
	const op = "get_doctor"
	if id == "" {
		return nil, apierr.InvalidInput(op, "doctor id is required")
	}
	var out Doctor
	if err := c.get(ctx, op, "/doctors/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAvailability returns the slots of doctorID on date.
func (c *Client) GetAvailability(ctx context.Context, doctorID string, date time.Time) (*Availability, error) {
	const op = "get_availability"
	if doctorID == "" {
		return nil, apierr.InvalidInput(op, "doctor id is required")
	}
	q := url.Values{"date": []string{date.Format(DateLayout)}}
	var out Availability
	if err := c.get(ctx, op, "/doctors/"+url.PathEscape(doctorID)+"/availability", q, &out); err != nil {
		return nil, err
	}
	if out.DoctorID == "" {
		out.DoctorID = doctorID
	}
	if out.Date == "" {
		out.Date = date.Format(DateLayout)
	}
	return &out, nil
}

// ListProducts returns the bookable services and their price tiers.
func (c *Client) ListProducts(ctx context.Context) ([]Product, error) {
	var out []Product
	if err := c.get(ctx, "list_products", "/products", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateOrder books a slot.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	const op = "create_order"
	if req.DoctorID == "" || req.ProductID == "" || req.Start.IsZero() {
		return nil, apierr.InvalidInput(op, "doctorId, productId and start are required")
	}
	var out Order
	if err := c.post(ctx, op, "/orders", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreatePayment opens a payment session for an order.
func (c *Client) CreatePayment(ctx context.Context, req PaymentRequest) (*Payment, error) {
	const op = "create_payment"
	if req.OrderID == "" {
		return nil, apierr.InvalidInput(op, "orderId is required")
	}
	var out Payment
	if err := c.post(ctx, op, "/payments", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Do performs an arbitrary call against the meet API and returns the parsed
// body, JSON-decoded or as text.
func (c *Client) Do(ctx context.Context, method, path string, body []byte) (any, error) {
	const op = "request"
	u, err := c.url(op, path, nil)
	if err != nil {
		return nil, err
	}
	req := client.Request{Method: method, Body: body, Op: op}
	if len(body) > 0 {
		req.Header = http.Header{"Content-Type": []string{"application/json"}}
	}
	return c.exec.Execute(ctx, u, req)
}

func (c *Client) url(op, path string, q url.Values) (string, error) {
	if c.baseURL == "" {
		return "", apierr.Configuration(op, "base URL is not configured (set MEET_BASE_URL)")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u, nil
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values, dst any) error {
	u, err := c.url(op, path, q)
	if err != nil {
		return err
	}
	return c.exec.ExecuteJSON(ctx, u, client.Request{Method: http.MethodGet, Op: op}, dst)
}

func (c *Client) post(ctx context.Context, op, path string, payload, dst any) error {
	u, err := c.url(op, path, nil)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encoding request: %w", op, err)
	}
	return c.exec.ExecuteJSON(ctx, u, client.Request{
		Method: http.MethodPost,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   body,
		Op:     op,
	}, dst)
}
