package redisx

import "time"

const (
	// Webhook delivery dedup: dedup:webhook:{event_id} -> {"transactionId": "...", "outcome": "..."}
	KeyWebhookDedup = "dedup:webhook:%s"

	// Cache status order: order_status:{order_id} -> {"status": "...", "studentId": 7, "updatedAt": "..."}
	KeyOrderStatus = "order_status:%s"

	// Positive enrollment answers: enrolled:{student_id}:{course_id} -> "1"
	KeyEnrolled = "enrolled:%d:%s"

	// Dedup event processing: dedup:{service}:{id} (id = event_id)
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLWebhookDedup = 24 * time.Hour
	TTLStatusCache  = 5 * time.Minute
	TTLEnrolled     = 10 * time.Minute
	TTLDedup        = 48 * time.Hour
)
