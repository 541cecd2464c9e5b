package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesserahq/tessera/pkg/contracts"
)

// The sqlite-backed tests exercise real SQL; these pin down behavior
// only a Postgres driver produces, like SQLSTATE 23505 mapping.

func TestUniqueViolationMapsToConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO teams")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "teams_name_key"})
	mock.ExpectRollback()

	err = s.WithTx(context.Background(), func(tx *Tx) error {
		return tx.CreateTeam(context.Background(), &contracts.Team{
			ID:   "team-1",
			Name: "payments",
		})
	})
	assert.ErrorIs(t, err, contracts.ErrConflict)
	assert.Contains(t, err.Error(), "teams_name_key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db)
	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()

	err = s.WithTx(context.Background(), func(tx *Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxCommitFailureSurfaces(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

	err = s.WithTx(context.Background(), func(tx *Tx) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkWebhookDeliveredUpdatesRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db)
	now := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE webhook_deliveries")).
		WithArgs(200, now.UTC(), "delivery-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = s.MarkWebhookDelivered(context.Background(), "delivery-1", 200, now)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordWebhookFailurePassesThreshold(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := New(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE webhook_deliveries")).
		WithArgs(502, "bad gateway", 5, "delivery-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = s.RecordWebhookFailure(context.Background(), "delivery-1", 502, "bad gateway", 5)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
