package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db), mock
}

func TestPostgres_Upsert(t *testing.T) {
	repo, mock := newMockPostgres(t)
	record := sampleRecord()

	mock.ExpectExec(`(?s)INSERT INTO bullhorn_tokens .* ON CONFLICT \(id\)`).
		WithArgs("default", record.AccessToken, record.RefreshToken, sqlmock.AnyArg(),
			record.BhRestToken, sqlmock.AnyArg(), record.RestURL, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Upsert(context.Background(), record))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertTruncatesToMicroseconds(t *testing.T) {
	repo, mock := newMockPostgres(t)
	record := sampleRecord()
	record.AccessTokenExpiresAt = time.Date(2026, 1, 1, 0, 0, 0, 123456789, time.UTC)
	record.RefreshTokenRejectedAt = time.Date(2026, 1, 1, 0, 5, 0, 987654321, time.UTC)

	mock.ExpectExec(`INSERT INTO bullhorn_tokens`).
		WithArgs("default", record.AccessToken, record.RefreshToken,
			time.Date(2026, 1, 1, 0, 0, 0, 123456000, time.UTC),
			record.BhRestToken, sqlmock.AnyArg(), record.RestURL,
			time.Date(2026, 1, 1, 0, 5, 0, 987654000, time.UTC),
			sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Upsert(context.Background(), record))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertError(t *testing.T) {
	repo, mock := newMockPostgres(t)

	mock.ExpectExec(`INSERT INTO bullhorn_tokens`).WillReturnError(errors.New("connection reset"))

	err := repo.Upsert(context.Background(), sampleRecord())
	require.ErrorContains(t, err, "upsert token record")
}

func TestPostgres_Load(t *testing.T) {
	repo, mock := newMockPostgres(t)
	record := sampleRecord()

	record.RefreshTokenRejectedAt = time.Date(2026, 1, 15, 10, 40, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"access_token", "refresh_token", "access_token_expires_at", "bh_rest_token", "bh_rest_token_expires_at", "rest_url", "refresh_token_rejected_at"}).
		AddRow(record.AccessToken, record.RefreshToken, record.AccessTokenExpiresAt, record.BhRestToken, record.BhRestTokenExpiresAt, record.RestURL, record.RefreshTokenRejectedAt)
	mock.ExpectQuery(`(?s)SELECT access_token, refresh_token, .* FROM bullhorn_tokens\s+WHERE id = \$1`).
		WithArgs("default").
		WillReturnRows(rows)

	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, record, got)
}

func TestPostgres_LoadNullExpiries(t *testing.T) {
	repo, mock := newMockPostgres(t)

	rows := sqlmock.NewRows([]string{"access_token", "refresh_token", "access_token_expires_at", "bh_rest_token", "bh_rest_token_expires_at", "rest_url", "refresh_token_rejected_at"}).
		AddRow("a", "r", nil, "", nil, "", nil)
	mock.ExpectQuery(`FROM bullhorn_tokens`).WithArgs("default").WillReturnRows(rows)

	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.True(t, got.AccessTokenExpiresAt.IsZero())
	require.False(t, got.HasSession())
	require.False(t, got.RefreshRejected())
}

func TestPostgres_LoadNotFound(t *testing.T) {
	repo, mock := newMockPostgres(t)

	mock.ExpectQuery(`FROM bullhorn_tokens`).WithArgs("default").WillReturnError(sql.ErrNoRows)

	_, err := repo.Load(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPostgres_Delete(t *testing.T) {
	repo, mock := newMockPostgres(t)

	mock.ExpectExec(`DELETE FROM bullhorn_tokens WHERE id = \$1`).
		WithArgs("default").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RecordEvent(t *testing.T) {
	repo, mock := newMockPostgres(t)

	mock.ExpectExec(`INSERT INTO token_events \(id, kind, detail, created_at\)`).
		WithArgs(sqlmock.AnyArg(), EventRefreshed, "access token refreshed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.RecordEvent(context.Background(), EventRefreshed, "access token refreshed"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListEvents(t *testing.T) {
	repo, mock := newMockPostgres(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "kind", "detail", "created_at"}).
		AddRow("0194a1f0-0000-7000-8000-000000000001", EventAuthorized, "", now).
		AddRow("0194a1f0-0000-7000-8000-000000000000", EventLogout, "", now.Add(-time.Hour))
	mock.ExpectQuery(`(?s)SELECT id, kind, detail, created_at\s+FROM token_events`).
		WithArgs(50).
		WillReturnRows(rows)

	events, err := repo.ListEvents(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, EventAuthorized, events[0].Kind)
}

func TestPostgres_PruneEvents(t *testing.T) {
	repo, mock := newMockPostgres(t)

	mock.ExpectExec(`(?s)WITH stale AS .* DELETE FROM token_events t`).
		WithArgs(sqlmock.AnyArg(), 100).
		WillReturnResult(sqlmock.NewResult(0, 7))

	deleted, err := repo.PruneEvents(context.Background(), 24*time.Hour, 100)
	require.NoError(t, err)
	require.Equal(t, int64(7), deleted)
}
