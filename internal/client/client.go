package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"stayledger/internal/service"

	"github.com/redis/go-redis/v9"
)

// Client calls the stayledger HTTP API on behalf of one user.
type Client struct {
	baseURL    string
	apiKey     string
	apiExtra   string
	userID     int64
	httpClient *http.Client

	redis    *redis.Client
	cacheTTL time.Duration
}

// APIError is a non-2xx reply decoded from the JSON error envelope.
type APIError struct {
	Status  int      `json:"-"`
	Message string   `json:"error"`
	Code    string   `json:"code"`
	Reason  string   `json:"reason,omitempty"`
	Dates   []string `json:"dates,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d (%s)", e.Status, e.Code)
	}
	return fmt.Sprintf("http %d (%s): %s", e.Status, e.Code, e.Message)
}

// New constructs a client with baseURL, API key and extra header.
func New(baseURL, apiKey, apiExtra string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		apiExtra:   apiExtra,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// As returns a copy of the client that acts as userID.
func (c *Client) As(userID int64) *Client {
	cp := *c
	cp.userID = userID
	return &cp
}

// UseRedisCache configures optional Redis caching for availability lookups.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// CheckAvailability asks whether a stay can be booked. Answers are cached
// when a Redis cache is configured.
func (c *Client) CheckAvailability(ctx context.Context, propertyID int64, checkIn, checkOut string, guests int) (*service.AvailabilityResult, error) {
	q := url.Values{}
	q.Set("propertyId", strconv.FormatInt(propertyID, 10))
	q.Set("checkIn", checkIn)
	q.Set("checkOut", checkOut)
	q.Set("guests", strconv.Itoa(guests))
	endpoint := c.baseURL + "/api/v1/availability?" + q.Encode()
	cacheKey := fmt.Sprintf("availability:%d:%s:%s:%d", propertyID, checkIn, checkOut, guests)

	var resp service.AvailabilityResult
	if c.readCache(ctx, cacheKey, &resp) {
		return &resp, nil
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, resp)
	return &resp, nil
}

type CreateBookingParams struct {
	PropertyID int64  `json:"propertyId"`
	CheckIn    string `json:"checkIn"`
	CheckOut   string `json:"checkOut"`
	Guests     int    `json:"guests"`
	OrderID    string `json:"orderId,omitempty"`
}

func (c *Client) CreateBooking(ctx context.Context, p CreateBookingParams) (*service.CreateBookingResult, error) {
	var resp service.CreateBookingResult
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/api/v1/bookings", p, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ConfirmPayment(ctx context.Context, req service.ConfirmPaymentRequest) (*service.ConfirmPaymentResult, error) {
	var resp service.ConfirmPaymentResult
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/api/v1/payments/confirm", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) CancelBooking(ctx context.Context, bookingID int64, reason string) (*service.CancelResult, error) {
	endpoint := fmt.Sprintf("%s/api/v1/bookings/%d/cancel", c.baseURL, bookingID)
	var resp service.CancelResult
	if err := c.do(ctx, http.MethodPatch, endpoint, map[string]string{"reason": reason}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reconcile triggers a reconciliation pass. The acting user must be an admin.
func (c *Client) Reconcile(ctx context.Context) (*service.ReconcileReport, error) {
	var resp service.ReconcileReport
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/api/v1/admin/reconcile", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(val), out) == nil
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, &payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.addHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) addHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if c.apiExtra != "" {
		req.Header.Set("x-api-extra", c.apiExtra)
	}
	if c.userID > 0 {
		req.Header.Set("X-User-ID", strconv.FormatInt(c.userID, 10))
	}
}
