package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-lms-enrollment/internal/config"
)

// OrderRequest is what the gateway needs to open an order.
type OrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// Order is the subset of the gateway order entity the service relies on.
type Order struct {
	ID       string `json:"id"`
	Entity   string `json:"entity"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// Client talks to the Razorpay orders API.
type Client struct {
	http *resty.Client
	log  *zap.Logger
}

func New(cfg config.GatewayConfig, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	h := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetBasicAuth(cfg.KeyID, cfg.KeySecret).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Client{http: h, log: log}
}

// CreateOrder opens an order. Any transport error or non-2xx answer is returned as an error;
// callers treat all of them as the gateway being unavailable.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	ctx, span := otel.Tracer("gateway").Start(ctx, "razorpay.create_order")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("order.amount", req.Amount),
		attribute.String("order.currency", req.Currency),
		attribute.String("order.receipt", req.Receipt),
	)

	var (
		out  Order
		fail apiError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&fail).
		Post("/v1/orders")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return Order{}, errors.Wrap(err, "gateway: create order")
	}
	if resp.IsError() {
		err := fmt.Errorf("gateway: create order: status %d: %s %s",
			resp.StatusCode(), fail.Error.Code, fail.Error.Description)
		span.RecordError(err)
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode()))
		c.log.Warn("gateway rejected order",
			zap.Int("status", resp.StatusCode()),
			zap.String("code", fail.Error.Code),
			zap.String("receipt", req.Receipt),
		)
		return Order{}, err
	}
	if out.ID == "" {
		return Order{}, errors.New("gateway: create order: empty order id")
	}
	span.SetAttributes(attribute.String("order.id", out.ID))
	return out, nil
}
