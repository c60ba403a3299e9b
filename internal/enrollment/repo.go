package enrollment

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres Store.
type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

const txColumns = `id, order_id, user_id, course_id, COALESCE(batch_id, ''), amount, currency, receipt,
	COALESCE(payment_id, ''), payment_status, COALESCE(coupon_id, ''), created_at, updated_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		t  Transaction
		st string
	)
	err := row.Scan(&t.ID, &t.OrderID, &t.UserID, &t.CourseID, &t.BatchID, &t.Amount, &t.Currency, &t.Receipt,
		&t.PaymentID, &st, &t.CouponID, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	t.PaymentStatus = PaymentStatus(st)
	return t, err
}

func (r *Repo) IsEnrolled(ctx context.Context, studentID int64, courseID string) (bool, error) {
	var ok bool
	err := r.DB.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM course_enrollments WHERE student_id=$1 AND course_id=$2)`,
		studentID, courseID).Scan(&ok)
	return ok, err
}

func (r *Repo) CreateTransaction(ctx context.Context, t *Transaction) error {
	if t.PaymentStatus == "" {
		t.PaymentStatus = StatusPending
	}
	return r.DB.QueryRow(ctx, `
		INSERT INTO transactions(id, order_id, user_id, course_id, batch_id, amount, currency, receipt, payment_status, coupon_id)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, NULLIF($10, ''))
		RETURNING created_at, updated_at`,
		t.ID, t.OrderID, t.UserID, t.CourseID, t.BatchID, t.Amount, t.Currency, t.Receipt, string(t.PaymentStatus), t.CouponID,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *Repo) TransactionByOrderID(ctx context.Context, orderID string) (Transaction, error) {
	return scanTransaction(r.DB.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE order_id=$1`, orderID))
}

func (r *Repo) TransactionByID(ctx context.Context, id string) (Transaction, error) {
	if !isUUID(id) {
		return Transaction{}, ErrTransactionNotFound
	}
	return scanTransaction(r.DB.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id=$1`, id))
}

// CompleteTransaction: conditional flip pending -> completed, then enrollments, all in one tx.
// Only the caller whose UPDATE matched the pending row inserts enrollments; concurrent
// redeliveries see zero rows and return the current state.
func (r *Repo) CompleteTransaction(ctx context.Context, orderID, paymentID, batchID string) (Completion, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Completion{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	t, err := scanTransaction(tx.QueryRow(ctx, `
		UPDATE transactions
		SET payment_status='completed', payment_id=$2, batch_id=COALESCE(batch_id, NULLIF($3, '')), updated_at=now()
		WHERE order_id=$1 AND payment_status='pending'
		RETURNING `+txColumns, orderID, paymentID, batchID))
	if errors.Is(err, ErrTransactionNotFound) {
		cur, err := scanTransaction(tx.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE order_id=$1`, orderID))
		if err != nil {
			return Completion{}, err
		}
		return Completion{Transaction: cur}, nil
	}
	if err != nil {
		return Completion{}, err
	}

	c := Completion{Transaction: t, Applied: true}

	ce := CourseEnrollment{StudentID: t.UserID, CourseID: t.CourseID, TransactionID: t.ID}
	err = tx.QueryRow(ctx, `
		INSERT INTO course_enrollments(id, student_id, course_id, transaction_id)
		VALUES (gen_random_uuid(), $1, $2, $3)
		ON CONFLICT (student_id, course_id) DO NOTHING
		RETURNING id, created_at`, t.UserID, t.CourseID, t.ID).Scan(&ce.ID, &ce.CreatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		c.DuplicateCourse = true
	case err != nil:
		return Completion{}, err
	default:
		c.Course = &ce
	}

	if t.BatchID != "" {
		be := BatchEnrollment{StudentID: t.UserID, BatchID: t.BatchID, TransactionID: t.ID}
		err = tx.QueryRow(ctx, `
			INSERT INTO batch_enrollments(id, student_id, batch_id, transaction_id)
			VALUES (gen_random_uuid(), $1, $2, $3)
			ON CONFLICT (student_id, batch_id) DO NOTHING
			RETURNING id, created_at`, t.UserID, t.BatchID, t.ID).Scan(&be.ID, &be.CreatedAt)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return Completion{}, err
		default:
			c.Batch = &be
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Completion{}, err
	}
	return c, nil
}

func (r *Repo) FailTransaction(ctx context.Context, orderID, paymentID string) (Transaction, bool, error) {
	t, err := scanTransaction(r.DB.QueryRow(ctx, `
		UPDATE transactions
		SET payment_status='failed', payment_id=$2, updated_at=now()
		WHERE order_id=$1 AND payment_status='pending'
		RETURNING `+txColumns, orderID, paymentID))
	if errors.Is(err, ErrTransactionNotFound) {
		cur, err := r.TransactionByOrderID(ctx, orderID)
		return cur, false, err
	}
	if err != nil {
		return Transaction{}, false, err
	}
	return t, true, nil
}

// DeleteTransaction removes the row. Enrollments keep existing; the FK sets their
// transaction_id to NULL.
func (r *Repo) DeleteTransaction(ctx context.Context, id string, force bool) (Transaction, error) {
	if !isUUID(id) {
		return Transaction{}, ErrTransactionNotFound
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	t, err := scanTransaction(tx.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Transaction{}, err
	}
	if t.PaymentStatus != StatusPending && !force {
		return Transaction{}, ErrTransactionSettled
	}
	ct, err := tx.Exec(ctx, `DELETE FROM transactions WHERE id=$1`, id)
	if err != nil {
		return Transaction{}, err
	}
	if ct.RowsAffected() != 1 {
		return Transaction{}, ErrTransactionNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, err
	}
	return t, nil
}

func (r *Repo) EnrolledCourses(ctx context.Context, studentID int64) ([]CourseEnrollment, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, student_id, course_id, COALESCE(transaction_id::text, ''), created_at
		FROM course_enrollments WHERE student_id=$1 ORDER BY created_at`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CourseEnrollment
	for rows.Next() {
		var ce CourseEnrollment
		if err := rows.Scan(&ce.ID, &ce.StudentID, &ce.CourseID, &ce.TransactionID, &ce.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ce)
	}
	return out, rows.Err()
}

func (r *Repo) EnrolledBatches(ctx context.Context, studentID int64) ([]BatchEnrollment, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, student_id, batch_id, COALESCE(transaction_id::text, ''), created_at
		FROM batch_enrollments WHERE student_id=$1 ORDER BY created_at`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BatchEnrollment
	for rows.Next() {
		var be BatchEnrollment
		if err := rows.Scan(&be.ID, &be.StudentID, &be.BatchID, &be.TransactionID, &be.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, be)
	}
	return out, rows.Err()
}

func (r *Repo) BatchEnrollmentByID(ctx context.Context, id string) (BatchEnrollment, error) {
	if !isUUID(id) {
		return BatchEnrollment{}, ErrEnrollmentNotFound
	}
	var be BatchEnrollment
	err := r.DB.QueryRow(ctx, `
		SELECT id, student_id, batch_id, COALESCE(transaction_id::text, ''), created_at
		FROM batch_enrollments WHERE id=$1`, id).
		Scan(&be.ID, &be.StudentID, &be.BatchID, &be.TransactionID, &be.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return BatchEnrollment{}, ErrEnrollmentNotFound
	}
	return be, err
}

func (r *Repo) RecordWebhookEvent(ctx context.Context, ev WebhookEvent) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		INSERT INTO webhook_events(provider, provider_event_id, event_type, order_id, payload, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		ev.Provider, ev.ProviderEventID, ev.EventType, ev.OrderID, ev.Payload, ev.ReceivedAt)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) MarkWebhookEventProcessed(ctx context.Context, provider, eventID, procErr string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE webhook_events SET processed_at=now(), processing_error=NULLIF($3, '')
		WHERE provider=$1 AND provider_event_id=$2`, provider, eventID, procErr)
	return err
}
