package entries

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dzaharov/passvault/internal/common"
	"github.com/dzaharov/passvault/internal/server/models"
)

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

func entryRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "category", "name", "username", "url",
		"attachment_key", "envelope", "favorite", "created_at", "updated_at",
	})
}

func TestPostgresGet(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM entries WHERE id=\$1 AND user_id=\$2`).
		WithArgs("e1", "user-1").
		WillReturnRows(entryRows().
			AddRow("e1", "user-1", "login", "GitHub", "octocat", "https://github.com", "", `{"iv":"..."}`, true, now, now))

	e, err := repo.Get(context.Background(), "e1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "GitHub", e.Index.Name)
	assert.Equal(t, models.CategoryLogin, e.Category)
	assert.True(t, e.Favorite)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGet_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT .+ FROM entries WHERE id=\$1 AND user_id=\$2`).
		WithArgs("missing", "user-1").
		WillReturnRows(entryRows())

	_, err := repo.Get(context.Background(), "missing", "user-1")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestPostgresList_BuildsFilters(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM entries WHERE user_id=\$1 AND category=\$2 AND favorite AND \(name ILIKE \$3 OR username ILIKE \$3 OR url ILIKE \$3\) ORDER BY created_at, id LIMIT \$4 OFFSET \$5`).
		WithArgs("user-1", models.CategoryLogin, "%git%", 10, 5).
		WillReturnRows(entryRows().
			AddRow("e1", "user-1", "login", "GitHub", "octocat", "https://github.com", "", "{}", true, now, now))

	got, err := repo.List(context.Background(), "user-1", ListOptions{
		Category:     models.CategoryLogin,
		FavoriteOnly: true,
		Search:       "git",
		Limit:        10,
		Offset:       5,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0].ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdate_MissingRowIsNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE entries`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &models.Entry{ID: "e1", UserID: "user-1", Category: models.CategoryNote})
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestPostgresBatchUpdateEnvelopes_CommitsInOneTransaction(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE entries SET envelope=\$3`).
		WithArgs("e1", "user-1", "env-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE entries SET envelope=\$3`).
		WithArgs("e2", "user-1", "env-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.BatchUpdateEnvelopes(context.Background(), "user-1", []models.EnvelopeUpdate{
		{EntryID: "e1", Envelope: "env-1"},
		{EntryID: "e2", Envelope: "env-2"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBatchUpdateEnvelopes_MissingRowRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE entries SET envelope=\$3`).
		WithArgs("e1", "user-1", "env-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE entries SET envelope=\$3`).
		WithArgs("gone", "user-1", "env-2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.BatchUpdateEnvelopes(context.Background(), "user-1", []models.EnvelopeUpdate{
		{EntryID: "e1", Envelope: "env-1"},
		{EntryID: "gone", Envelope: "env-2"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBatchUpdateEnvelopes_EmptyBatchIsNoop(t *testing.T) {
	repo, mock := newMockRepo(t)

	require.NoError(t, repo.BatchUpdateEnvelopes(context.Background(), "user-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}
