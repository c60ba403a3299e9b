package enrollment

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusCompleted PaymentStatus = "completed"
	StatusFailed    PaymentStatus = "failed"
)

var validNext = map[PaymentStatus]map[PaymentStatus]bool{
	StatusPending:   {StatusCompleted: true, StatusFailed: true},
	StatusCompleted: {},
	StatusFailed:    {},
}

func CanTransition(from, to PaymentStatus) bool {
	return validNext[from][to]
}

// Terminal reports whether no further transition is possible from s.
func (s PaymentStatus) Terminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

func (s PaymentStatus) Valid() bool {
	_, ok := validNext[s]
	return ok
}
