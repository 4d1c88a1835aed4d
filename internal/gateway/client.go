package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stayledger/internal/domain"
	"stayledger/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Client talks to the external payment gateway over HTTP.
type Client struct {
	baseURL    string
	secretKey  string
	timeout    time.Duration
	httpClient *http.Client
	logger     zerolog.Logger
}

var _ domain.PaymentGateway = (*Client)(nil)

// NewClient builds a gateway client. timeout bounds every call.
func NewClient(baseURL, secretKey string, timeout time.Duration, logger *zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     logger.With().Str("component", "gateway").Logger(),
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Confirm approves a payment the guest authorised at checkout.
func (c *Client) Confirm(ctx context.Context, req domain.ConfirmRequest) (*domain.ConfirmResult, error) {
	var res domain.ConfirmResult
	err := c.post(ctx, "confirm", c.baseURL+"/v1/payments/confirm", "confirm-"+req.OrderID, req, &res)
	if err != nil {
		return nil, err
	}
	if res.PaymentKey == "" {
		res.PaymentKey = req.PaymentKey
	}
	return &res, nil
}

// Cancel refunds part or all of an approved payment.
func (c *Client) Cancel(ctx context.Context, paymentKey string, req domain.CancelRequest) (*domain.CancelResult, error) {
	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	endpoint := fmt.Sprintf("%s/v1/payments/%s/cancel", c.baseURL, url.PathEscape(paymentKey))
	var res domain.CancelResult
	if err := c.post(ctx, "cancel", endpoint, key, req, &res); err != nil {
		return nil, err
	}
	if res.CanceledAmount == 0 {
		res.CanceledAmount = req.CancelAmount
	}
	return &res, nil
}

func (c *Client) post(ctx context.Context, op, endpoint, idempotencyKey string, body, out any) (err error) {
	started := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = string(domain.GatewayOutcomeOf(err))
		}
		metrics.ObserveGateway(op, outcome, started)
	}()

	data, err := json.Marshal(body)
	if err != nil {
		return &domain.GatewayError{Outcome: domain.OutcomeUnavailable, Message: "encode request", Err: err}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return &domain.GatewayError{Outcome: domain.OutcomeUnavailable, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	req.SetBasicAuth(c.secretKey, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		// the gateway may have applied the request before the body was cut
		return &domain.GatewayError{Outcome: domain.OutcomeAmbiguous, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(raw, out); err != nil {
			return &domain.GatewayError{Outcome: domain.OutcomeAmbiguous, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
		}
		return nil
	}

	var eb errorBody
	_ = json.Unmarshal(raw, &eb)
	ge := &domain.GatewayError{StatusCode: resp.StatusCode, Code: eb.Code, Message: eb.Message}
	switch {
	case resp.StatusCode == http.StatusGatewayTimeout:
		ge.Outcome = domain.OutcomeAmbiguous
	case resp.StatusCode >= 500:
		ge.Outcome = domain.OutcomeUnavailable
	default:
		ge.Outcome = domain.OutcomeDeclined
	}
	c.logger.Warn().
		Str("op", op).
		Int("status", resp.StatusCode).
		Str("code", eb.Code).
		Str("outcome", string(ge.Outcome)).
		Msg("Gateway call failed")
	return ge
}

// classifyTransport maps an http.Client error to a gateway outcome.
// Only a failed dial proves the request never left this process.
func classifyTransport(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return &domain.GatewayError{Outcome: domain.OutcomeUnavailable, Message: "gateway unreachable", Err: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &domain.GatewayError{Outcome: domain.OutcomeUnavailable, Message: "gateway unreachable", Err: err}
	}
	return &domain.GatewayError{Outcome: domain.OutcomeAmbiguous, Message: "no definitive answer", Err: err}
}
