package postgres

import (
	"context"

	"github.com/NordCoder/Campusbell/internal/domain/notification"
)

var _ notification.Directory = (*DirectoryRepo)(nil)

// DefaultDirectoryQuery reads addresses from the identity provider's users
// table.
const DefaultDirectoryQuery = `SELECT email FROM auth.users WHERE id::text = $1`

// DirectoryRepo looks up e-mail addresses in a table this service does not
// own, so the query is configurable.
type DirectoryRepo struct {
	db    *DB
	query string
}

func NewDirectoryRepo(db *DB, query string) *DirectoryRepo {
	if query == "" {
		query = DefaultDirectoryQuery
	}
	return &DirectoryRepo{db: db, query: query}
}

func (r *DirectoryRepo) EmailOf(ctx context.Context, userID string) (string, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var email *string
	err := r.db.Pool.QueryRow(ctx, r.query, userID).Scan(&email)
	if err != nil {
		return "", mapErr(err, notification.ErrNotFound, "lookup email")
	}
	if email == nil || *email == "" {
		return "", notification.ErrNotFound
	}
	return *email, nil
}
