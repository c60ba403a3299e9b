package enrollment

import (
	"encoding/json"
	"strconv"
	"strings"
)

const (
	GatewayEventCaptured = "payment.captured"
	GatewayEventFailed   = "payment.failed"
)

// Event is one of CapturedEvent, FailedEvent or UnhandledEvent.
type Event interface {
	Type() string
	isEvent()
}

type CapturedEvent struct {
	OrderID   string
	PaymentID string
	// BatchID is the batch reference carried in the order notes, possibly empty.
	BatchID string
}

type FailedEvent struct {
	OrderID   string
	PaymentID string
	Reason    string
}

type UnhandledEvent struct {
	Name string
}

func (CapturedEvent) Type() string    { return GatewayEventCaptured }
func (FailedEvent) Type() string      { return GatewayEventFailed }
func (e UnhandledEvent) Type() string { return e.Name }

func (CapturedEvent) isEvent()  {}
func (FailedEvent) isEvent()    {}
func (UnhandledEvent) isEvent() {}

type webhookBody struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID               string          `json:"id"`
				OrderID          string          `json:"order_id"`
				ErrorDescription string          `json:"error_description"`
				Notes            json.RawMessage `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// ParseEvent decodes a verified webhook body. Bodies that are not JSON, and captured or
// failed events without an order id or payment id, yield ErrMalformedPayload.
func ParseEvent(raw []byte) (Event, error) {
	var b webhookBody
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, ErrMalformedPayload
	}
	ent := b.Payload.Payment.Entity
	orderID := strings.TrimSpace(ent.OrderID)
	paymentID := strings.TrimSpace(ent.ID)

	switch b.Event {
	case GatewayEventCaptured:
		if orderID == "" || paymentID == "" {
			return nil, ErrMalformedPayload
		}
		return CapturedEvent{OrderID: orderID, PaymentID: paymentID, BatchID: noteString(ent.Notes, "batchId")}, nil
	case GatewayEventFailed:
		if orderID == "" || paymentID == "" {
			return nil, ErrMalformedPayload
		}
		return FailedEvent{OrderID: orderID, PaymentID: paymentID, Reason: ent.ErrorDescription}, nil
	default:
		return UnhandledEvent{Name: b.Event}, nil
	}
}

// orderIDOf returns the order the event refers to, if any.
func orderIDOf(ev Event) string {
	switch e := ev.(type) {
	case CapturedEvent:
		return e.OrderID
	case FailedEvent:
		return e.OrderID
	}
	return ""
}

// noteString reads a string note. The gateway sends an empty array instead of an object
// when an order has no notes, so anything that is not an object yields "".
func noteString(notes json.RawMessage, key string) string {
	var m map[string]interface{}
	if len(notes) == 0 || json.Unmarshal(notes, &m) != nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}
