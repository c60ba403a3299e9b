package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-lms-enrollment/internal/enrollment"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func UnmarshalEnvelope(b []byte) (enrollment.Envelope, error) {
	var env enrollment.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// UnwrapPayload decodes the event specific payload of an envelope.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}

// EventHeaders are attached to every published envelope so consumers can route without decoding.
func EventHeaders(env enrollment.Envelope) []kafka.Header {
	return []kafka.Header{
		{Key: HeaderEventType, Value: []byte(env.EventType)},
		{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
	}
}

// EnvelopePublisher adapts Producer to enrollment.EventPublisher.
type EnvelopePublisher struct {
	P *Producer
}

func (e EnvelopePublisher) PublishEvent(topic string, key []byte, env enrollment.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return e.P.Publish(topic, key, b, EventHeaders(env)...)
}
