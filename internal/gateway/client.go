// Package gateway - HTTP-клиент внешнего платёжного шлюза.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Freeeeeet/lesson_booking/internal/model"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type chargeRequest struct {
	AmountCents int64  `json:"amount_cents"`
	CustomerRef string `json:"customer_ref"`
}

type refundRequest struct {
	ChargeRef   string `json:"charge_ref"`
	AmountCents int64  `json:"amount_cents"`
}

type referenceResponse struct {
	Reference string `json:"reference"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// Charge списывает amountCents с карты клиента и возвращает ссылку на списание.
// Повтор с тем же idempotencyKey шлюз не проводит второй раз.
func (c *Client) Charge(ctx context.Context, amountCents int64, customerRef, idempotencyKey string) (string, error) {
	if idempotencyKey == "" {
		return "", &model.GatewayError{Op: "charge", Msg: "idempotency key is required"}
	}
	return c.post(ctx, "charge", "/charges", idempotencyKey, chargeRequest{AmountCents: amountCents, CustomerRef: customerRef})
}

// Refund возвращает amountCents по ранее сделанному списанию.
// Списание возвращается целиком и не больше одного раза, поэтому ключ - сама ссылка.
func (c *Client) Refund(ctx context.Context, chargeRef string, amountCents int64) (string, error) {
	return c.post(ctx, "refund", "/refunds", RefundKey(chargeRef), refundRequest{ChargeRef: chargeRef, AmountCents: amountCents})
}

// RefundKey - Idempotency-Key возврата по списанию chargeRef
func RefundKey(chargeRef string) string {
	return "refund:" + chargeRef
}

func (c *Client) post(ctx context.Context, op, path, idempotencyKey string, body any) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", &model.GatewayError{Op: op, Msg: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return "", &model.GatewayError{Op: op, Msg: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &model.GatewayError{Op: op, Msg: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &model.GatewayError{Op: op, Msg: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e errorResponse
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Message != "" {
			msg = e.Message
		}
		return "", &model.GatewayError{Op: op, Msg: fmt.Sprintf("status %d: %s", resp.StatusCode, msg)}
	}

	var out referenceResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &model.GatewayError{Op: op, Msg: "decode response", Err: err}
	}
	if out.Reference == "" {
		return "", &model.GatewayError{Op: op, Msg: "empty reference in response"}
	}
	return out.Reference, nil
}

// Disabled используется, когда шлюз не настроен: любая операция - GatewayFailure
type Disabled struct{}

func (Disabled) Charge(context.Context, int64, string, string) (string, error) {
	return "", &model.GatewayError{Op: "charge", Msg: "gateway is not configured"}
}

func (Disabled) Refund(context.Context, string, int64) (string, error) {
	return "", &model.GatewayError{Op: "refund", Msg: "gateway is not configured"}
}
