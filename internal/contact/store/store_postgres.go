package store

import (
	"context"
	"database/sql"
	"fmt"

	"reconcile/internal/contact/models"
	"reconcile/pkg/platform/tx"
)

const contactColumns = `id, phone_number, email, linked_id, link_precedence, created_at, updated_at, deleted_at`

// PostgresStore persists contacts in PostgreSQL.
// This store is pure I/O; matching, merging and invariant checks belong in the service.
// Every query filters deleted_at IS NULL so soft-deleted rows never escape.
type PostgresStore struct {
	db tx.Queryer
}

// NewPostgres constructs a store over a *sql.DB or a *sql.Tx.
func NewPostgres(db tx.Queryer) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindByPhoneOrEmail(ctx context.Context, q models.MatchQuery) ([]*models.Contact, error) {
	if q.IsEmpty() {
		return nil, nil
	}
	// A NULL parameter never compares equal, so an absent field drops its clause.
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE deleted_at IS NULL
		  AND (phone_number = $1 OR email = $2)
		ORDER BY created_at ASC, id ASC
	`
	contacts, err := s.queryContacts(ctx, query, nullString(q.PhoneNumber), nullString(q.Email))
	if err != nil {
		return nil, fmt.Errorf("find contacts by phone or email: %w", err)
	}
	return contacts, nil
}

func (s *PostgresStore) FindCluster(ctx context.Context, primaryID models.ContactID) ([]*models.Contact, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE deleted_at IS NULL
		  AND (id = $1 OR linked_id = $1)
		ORDER BY created_at ASC, id ASC
	`
	contacts, err := s.queryContacts(ctx, query, int64(primaryID))
	if err != nil {
		return nil, fmt.Errorf("find contact cluster %d: %w", primaryID, err)
	}
	return contacts, nil
}

func (s *PostgresStore) Create(ctx context.Context, nc models.NewContact) (*models.Contact, error) {
	if !nc.LinkPrecedence.IsValid() {
		return nil, fmt.Errorf("create contact: invalid link precedence %q", nc.LinkPrecedence)
	}
	query := `
		INSERT INTO contacts (phone_number, email, linked_id, link_precedence, created_at, updated_at)
		VALUES ($1, $2, $3, $4::contact_link_precedence, clock_timestamp(), clock_timestamp())
		RETURNING ` + contactColumns
	contact, err := scanContact(s.db.QueryRowContext(ctx, query,
		nullString(nc.PhoneNumber),
		nullString(nc.Email),
		nullID(nc.LinkedID),
		string(nc.LinkPrecedence),
	))
	if err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}
	return contact, nil
}

func (s *PostgresStore) Update(ctx context.Context, id models.ContactID, u models.ContactUpdate) error {
	if !u.LinkPrecedence.IsValid() {
		return fmt.Errorf("update contact: invalid link precedence %q", u.LinkPrecedence)
	}
	query := `
		UPDATE contacts
		SET link_precedence = $2::contact_link_precedence,
			linked_id = $3,
			updated_at = clock_timestamp()
		WHERE id = $1 AND deleted_at IS NULL
	`
	result, err := s.db.ExecContext(ctx, query,
		int64(id),
		string(u.LinkPrecedence),
		nullID(u.LinkedID),
	)
	if err != nil {
		return fmt.Errorf("update contact %d: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update contact %d rows affected: %w", id, err)
	}
	if rows == 0 {
		return fmt.Errorf("update contact %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) queryContacts(ctx context.Context, query string, args ...any) ([]*models.Contact, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []*models.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return contacts, nil
}

type contactRow interface {
	Scan(dest ...any) error
}

func scanContact(row contactRow) (*models.Contact, error) {
	var (
		c          models.Contact
		id         int64
		phone      sql.NullString
		email      sql.NullString
		linkedID   sql.NullInt64
		precedence string
		deletedAt  sql.NullTime
	)
	if err := row.Scan(&id, &phone, &email, &linkedID, &precedence, &c.CreatedAt, &c.UpdatedAt, &deletedAt); err != nil {
		return nil, err
	}
	c.ID = models.ContactID(id)
	c.LinkPrecedence = models.LinkPrecedence(precedence)
	if phone.Valid {
		c.PhoneNumber = &phone.String
	}
	if email.Valid {
		c.Email = &email.String
	}
	if linkedID.Valid {
		linked := models.ContactID(linkedID.Int64)
		c.LinkedID = &linked
	}
	if deletedAt.Valid {
		c.DeletedAt = &deletedAt.Time
	}
	return &c, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullID(id *models.ContactID) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}
