package notify

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrContactNotFound = errors.New("contact not found")

type Contact struct {
	ID        int64
	Email     string
	FirstName string
}

type Contacts interface {
	Contact(ctx context.Context, userID int64) (Contact, error)
}

// ContactRepo reads recipients from the users table.
type ContactRepo struct{ DB *pgxpool.Pool }

func (r *ContactRepo) Contact(ctx context.Context, userID int64) (Contact, error) {
	var c Contact
	err := r.DB.QueryRow(ctx, `SELECT id, email, first_name FROM users WHERE id=$1`, userID).
		Scan(&c.ID, &c.Email, &c.FirstName)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrContactNotFound
	}
	return c, err
}
