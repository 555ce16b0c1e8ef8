// Package entries provides persistence and the CRUD service for vault
// entries. Entries are stored as plaintext index metadata next to an opaque
// envelope blob; nothing in this package ever interprets the blob.
package entries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dzaharov/passvault/internal/common"
	"github.com/dzaharov/passvault/internal/dbx"
	"github.com/dzaharov/passvault/internal/server/models"
)

const entryColumns = `id, user_id, category, name, username, url, attachment_key, envelope, favorite, created_at, updated_at`

// PostgresRepository implements Repository over PostgreSQL (pgx stdlib driver).
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository constructs a repository bound to the given database.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, entry *models.Entry) error {
	query := `
		INSERT INTO entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.UserID, entry.Category,
		entry.Index.Name, entry.Index.Username, entry.Index.URL, entry.Index.AttachmentKey,
		entry.Envelope, entry.Favorite, entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id, userID string) (*models.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE id=$1 AND user_id=$2`
	return scanEntry(r.db.QueryRowContext(ctx, query, id, userID))
}

func (r *PostgresRepository) List(ctx context.Context, userID string, opts ListOptions) ([]*models.Entry, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + entryColumns + ` FROM entries WHERE user_id=$1`)
	args := []any{userID}

	if opts.Category != "" {
		args = append(args, opts.Category)
		fmt.Fprintf(&sb, " AND category=$%d", len(args))
	}
	if opts.FavoriteOnly {
		sb.WriteString(" AND favorite")
	}
	if opts.Search != "" {
		args = append(args, "%"+opts.Search+"%")
		fmt.Fprintf(&sb, " AND (name ILIKE $%d OR username ILIKE $%d OR url ILIKE $%d)", len(args), len(args), len(args))
	}
	sb.WriteString(" ORDER BY created_at, id")
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	return r.queryEntries(ctx, sb.String(), args...)
}

func (r *PostgresRepository) Update(ctx context.Context, entry *models.Entry) error {
	query := `
		UPDATE entries
		SET category=$3, name=$4, username=$5, url=$6, envelope=$7, favorite=$8, updated_at=$9
		WHERE id=$1 AND user_id=$2
	`
	res, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.UserID, entry.Category,
		entry.Index.Name, entry.Index.Username, entry.Index.URL,
		entry.Envelope, entry.Favorite, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}
	return requireOneRow(res)
}

func (r *PostgresRepository) Delete(ctx context.Context, id, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM entries WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return requireOneRow(res)
}

func (r *PostgresRepository) Probe(ctx context.Context, userID string) (*models.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE user_id=$1 ORDER BY created_at, id LIMIT 1`
	return scanEntry(r.db.QueryRowContext(ctx, query, userID))
}

func (r *PostgresRepository) ListAll(ctx context.Context, userID string) ([]*models.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE user_id=$1 ORDER BY created_at, id`
	return r.queryEntries(ctx, query, userID)
}

// BatchUpdateEnvelopes applies every staged envelope replacement inside one
// transaction. A missing row (deleted concurrently, or not owned by userID)
// aborts the whole batch so rotation never half-commits.
func (r *PostgresRepository) BatchUpdateEnvelopes(ctx context.Context, userID string, updates []models.EnvelopeUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		query := `UPDATE entries SET envelope=$3, updated_at=now() WHERE id=$1 AND user_id=$2`
		for _, u := range updates {
			res, err := tx.ExecContext(ctx, query, u.EntryID, userID, u.Envelope)
			if err != nil {
				return fmt.Errorf("failed to update envelope for entry %s: %w", u.EntryID, err)
			}
			if err := requireOneRow(res); err != nil {
				return fmt.Errorf("entry %s: %w", u.EntryID, err)
			}
		}
		return nil
	})
}

func (r *PostgresRepository) SetAttachmentKey(ctx context.Context, id, userID, key string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE entries SET attachment_key=$3, updated_at=now() WHERE id=$1 AND user_id=$2`, id, userID, key)
	if err != nil {
		return fmt.Errorf("failed to set attachment key: %w", err)
	}
	return requireOneRow(res)
}

func (r *PostgresRepository) queryEntries(ctx context.Context, query string, args ...any) ([]*models.Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select entries: %w", err)
	}
	defer rows.Close()

	var result []*models.Entry
	for rows.Next() {
		var e models.Entry
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.Category,
			&e.Index.Name, &e.Index.Username, &e.Index.URL, &e.Index.AttachmentKey,
			&e.Envelope, &e.Favorite, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanEntry(row *sql.Row) (*models.Entry, error) {
	var e models.Entry
	err := row.Scan(
		&e.ID, &e.UserID, &e.Category,
		&e.Index.Name, &e.Index.Username, &e.Index.URL, &e.Index.AttachmentKey,
		&e.Envelope, &e.Favorite, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select entry: %w", err)
	}
	return &e, nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrNotFound
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}
