package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconcile/internal/contact/models"
	"reconcile/internal/contact/ports"
	dErrors "reconcile/pkg/domain-errors"
)

func TestPostgresTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commits when callback succeeds", func(t *testing.T) {
		db, mock, _ := setupMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE contacts`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		runner := NewPostgresTx(db)
		err := runner.RunInTx(ctx, func(store ports.ContactStore) error {
			return store.Update(ctx, 2, models.Demotion(1))
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when callback fails", func(t *testing.T) {
		db, mock, _ := setupMockDB(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err := NewPostgresTx(db).RunInTx(ctx, func(ports.ContactStore) error { return boom })
		require.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replays serialization failures", func(t *testing.T) {
		db, mock, _ := setupMockDB(t)
		mock.ExpectBegin()
		mock.ExpectRollback()
		mock.ExpectBegin()
		mock.ExpectCommit()

		var retries []int
		runner := NewPostgresTx(db,
			WithRetryBackoff(0),
			WithRetryObserver(func(attempt int, _ error) { retries = append(retries, attempt) }),
		)
		calls := 0
		err := runner.RunInTx(ctx, func(ports.ContactStore) error {
			calls++
			if calls == 1 {
				return &pq.Error{Code: sqlStateSerializationFailure}
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.Equal(t, []int{1}, retries)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replays serialization failure raised at commit", func(t *testing.T) {
		db, mock, _ := setupMockDB(t)
		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(&pq.Error{Code: sqlStateSerializationFailure})
		mock.ExpectBegin()
		mock.ExpectCommit()

		err := NewPostgresTx(db, WithRetryBackoff(0)).RunInTx(ctx, func(ports.ContactStore) error { return nil })
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exhausted retries are unavailable", func(t *testing.T) {
		db, mock, _ := setupMockDB(t)
		for i := 0; i < 2; i++ {
			mock.ExpectBegin()
			mock.ExpectRollback()
		}

		err := NewPostgresTx(db, WithMaxRetries(1), WithRetryBackoff(0)).RunInTx(ctx, func(ports.ContactStore) error {
			return &pq.Error{Code: sqlStateDeadlockDetected}
		})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure is unavailable", func(t *testing.T) {
		db, mock, _ := setupMockDB(t)
		mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

		err := NewPostgresTx(db).RunInTx(ctx, func(ports.ContactStore) error { return nil })
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	})

	t.Run("other database errors are not replayed", func(t *testing.T) {
		db, mock, _ := setupMockDB(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		calls := 0
		err := NewPostgresTx(db).RunInTx(ctx, func(ports.ContactStore) error {
			calls++
			return &pq.Error{Code: "23505"}
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}
