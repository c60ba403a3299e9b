package enrollment

const (
	TopicEnrollmentCompleted = "enrollment.completed"
	TopicPaymentFailed       = "enrollment.payment_failed"
)

// Partition key = order_id, so both events of one order keep their relative order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
