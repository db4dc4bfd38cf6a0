package postgresrepo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kirinyoku/raffle-go/internal/repository"
	"github.com/stretchr/testify/assert"
)

func TestWrapDBErr(t *testing.T) {
	assert.NoError(t, wrapDBErr("op", nil))

	err := wrapDBErr("op", pgx.ErrNoRows)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Contains(t, err.Error(), "op:")

	err = wrapDBErr("op", &pgconn.PgError{Code: "23505"})
	assert.ErrorIs(t, err, repository.ErrConflict)

	err = wrapDBErr("op", &pgconn.PgError{Code: "23514"})
	assert.ErrorIs(t, err, repository.ErrConflict)

	boom := errors.New("boom")
	err = wrapDBErr("op", boom)
	assert.ErrorIs(t, err, boom)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40P01"})))
	assert.False(t, IsRetryable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsRetryable(errors.New("boom")))
}
