// Package memstore is an in-memory enrollment.Store with the same uniqueness and
// conditional-update behaviour as the Postgres repository.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-lms-enrollment/internal/enrollment"
)

type studentRef struct {
	student int64
	ref     string
}

type webhookKey struct{ provider, id string }

type webhookRow struct {
	ev        enrollment.WebhookEvent
	processed bool
	procErr   string
}

type Store struct {
	mu sync.Mutex

	txByID    map[string]*enrollment.Transaction
	txByOrder map[string]string

	courses  map[studentRef]*enrollment.CourseEnrollment
	batches  map[studentRef]*enrollment.BatchEnrollment
	batchIDs map[string]studentRef

	webhooks map[webhookKey]*webhookRow

	now func() time.Time
}

var _ enrollment.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		txByID:    map[string]*enrollment.Transaction{},
		txByOrder: map[string]string{},
		courses:   map[studentRef]*enrollment.CourseEnrollment{},
		batches:   map[studentRef]*enrollment.BatchEnrollment{},
		batchIDs:  map[string]studentRef{},
		webhooks:  map[webhookKey]*webhookRow{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) IsEnrolled(_ context.Context, studentID int64, courseID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.courses[studentRef{studentID, courseID}]
	return ok, nil
}

func (s *Store) CreateTransaction(_ context.Context, t *enrollment.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Amount <= 0 {
		return fmt.Errorf("memstore: amount must be positive")
	}
	if _, dup := s.txByOrder[t.OrderID]; dup {
		return fmt.Errorf("memstore: duplicate order id %s", t.OrderID)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.PaymentStatus == "" {
		t.PaymentStatus = enrollment.StatusPending
	}
	now := s.now()
	t.CreatedAt, t.UpdatedAt = now, now
	cp := *t
	s.txByID[cp.ID] = &cp
	s.txByOrder[cp.OrderID] = cp.ID
	return nil
}

func (s *Store) TransactionByOrderID(_ context.Context, orderID string) (enrollment.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.txByOrder[orderID]
	if !ok {
		return enrollment.Transaction{}, enrollment.ErrTransactionNotFound
	}
	return *s.txByID[id], nil
}

func (s *Store) TransactionByID(_ context.Context, id string) (enrollment.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txByID[id]
	if !ok {
		return enrollment.Transaction{}, enrollment.ErrTransactionNotFound
	}
	return *t, nil
}

func (s *Store) CompleteTransaction(_ context.Context, orderID, paymentID, batchID string) (enrollment.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.txByOrder[orderID]
	if !ok {
		return enrollment.Completion{}, enrollment.ErrTransactionNotFound
	}
	t := s.txByID[id]
	if !enrollment.CanTransition(t.PaymentStatus, enrollment.StatusCompleted) {
		return enrollment.Completion{Transaction: *t}, nil
	}

	now := s.now()
	t.PaymentStatus = enrollment.StatusCompleted
	t.PaymentID = paymentID
	t.UpdatedAt = now
	c := enrollment.Completion{Applied: true}

	cref := studentRef{t.UserID, t.CourseID}
	if _, exists := s.courses[cref]; exists {
		c.DuplicateCourse = true
	} else {
		ce := &enrollment.CourseEnrollment{
			ID: uuid.NewString(), StudentID: t.UserID, CourseID: t.CourseID, TransactionID: t.ID, CreatedAt: now,
		}
		s.courses[cref] = ce
		cp := *ce
		c.Course = &cp
	}

	if t.BatchID == "" {
		t.BatchID = batchID
	}
	if t.BatchID != "" {
		bref := studentRef{t.UserID, t.BatchID}
		if _, exists := s.batches[bref]; !exists {
			be := &enrollment.BatchEnrollment{
				ID: uuid.NewString(), StudentID: t.UserID, BatchID: t.BatchID, TransactionID: t.ID, CreatedAt: now,
			}
			s.batches[bref] = be
			s.batchIDs[be.ID] = bref
			cp := *be
			c.Batch = &cp
		}
	}
	c.Transaction = *t
	return c, nil
}

func (s *Store) FailTransaction(_ context.Context, orderID, paymentID string) (enrollment.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.txByOrder[orderID]
	if !ok {
		return enrollment.Transaction{}, false, enrollment.ErrTransactionNotFound
	}
	t := s.txByID[id]
	if !enrollment.CanTransition(t.PaymentStatus, enrollment.StatusFailed) {
		return *t, false, nil
	}
	t.PaymentStatus = enrollment.StatusFailed
	t.PaymentID = paymentID
	t.UpdatedAt = s.now()
	return *t, true, nil
}

func (s *Store) DeleteTransaction(_ context.Context, id string, force bool) (enrollment.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.txByID[id]
	if !ok {
		return enrollment.Transaction{}, enrollment.ErrTransactionNotFound
	}
	if t.PaymentStatus != enrollment.StatusPending && !force {
		return enrollment.Transaction{}, enrollment.ErrTransactionSettled
	}
	for _, ce := range s.courses {
		if ce.TransactionID == id {
			ce.TransactionID = ""
		}
	}
	for _, be := range s.batches {
		if be.TransactionID == id {
			be.TransactionID = ""
		}
	}
	delete(s.txByID, id)
	delete(s.txByOrder, t.OrderID)
	return *t, nil
}

func (s *Store) EnrolledCourses(_ context.Context, studentID int64) ([]enrollment.CourseEnrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []enrollment.CourseEnrollment
	for k, ce := range s.courses {
		if k.student == studentID {
			out = append(out, *ce)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) EnrolledBatches(_ context.Context, studentID int64) ([]enrollment.BatchEnrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []enrollment.BatchEnrollment
	for k, be := range s.batches {
		if k.student == studentID {
			out = append(out, *be)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) BatchEnrollmentByID(_ context.Context, id string) (enrollment.BatchEnrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.batchIDs[id]
	if !ok {
		return enrollment.BatchEnrollment{}, enrollment.ErrEnrollmentNotFound
	}
	return *s.batches[ref], nil
}

func (s *Store) RecordWebhookEvent(_ context.Context, ev enrollment.WebhookEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := webhookKey{ev.Provider, ev.ProviderEventID}
	if _, dup := s.webhooks[k]; dup {
		return false, nil
	}
	s.webhooks[k] = &webhookRow{ev: ev}
	return true, nil
}

func (s *Store) MarkWebhookEventProcessed(_ context.Context, provider, eventID, procErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.webhooks[webhookKey{provider, eventID}]; ok {
		row.processed = true
		row.procErr = procErr
	}
	return nil
}

// Counts reports the number of course and batch enrollment rows.
func (s *Store) Counts() (courses, batches int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.courses), len(s.batches)
}

// WebhookEvents returns the number of recorded webhook deliveries.
func (s *Store) WebhookEvents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.webhooks)
}
