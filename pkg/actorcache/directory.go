package actorcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jecitDev/jec-go-versioning/pkg/versioning"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type userRow struct {
	FirstName sql.NullString `db:"first_name"`
	LastName  sql.NullString `db:"last_name"`
	Username  sql.NullString `db:"username"`
}

// SQLUserDirectory resolves actors from a users table with first_name, last_name and username columns
type SQLUserDirectory struct {
	db    *sqlx.DB
	query string
}

// NewSQLUserDirectory reads from table; an empty name uses "users"
func NewSQLUserDirectory(db *sqlx.DB, table string) *SQLUserDirectory {
	if table == "" {
		table = "users"
	}
	return &SQLUserDirectory{
		db:    db,
		query: fmt.Sprintf("SELECT first_name, last_name, username FROM %s WHERE id::text = $1", pq.QuoteIdentifier(table)),
	}
}

// DisplayName returns "first last", or the username when both names are empty
func (d *SQLUserDirectory) DisplayName(ctx context.Context, actorID string) (string, error) {
	var u userRow
	if err := d.db.GetContext(ctx, &u, d.query, actorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("actor %s: %w", actorID, versioning.ErrNotFound)
		}
		return "", fmt.Errorf("failed to look up actor %s: %w", actorID, err)
	}
	return fullName(u), nil
}

func fullName(u userRow) string {
	if name := strings.TrimSpace(u.FirstName.String + " " + u.LastName.String); name != "" {
		return name
	}
	return u.Username.String
}
