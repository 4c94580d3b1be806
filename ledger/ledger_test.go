package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/brandguard/errors"
	qtest "github.com/teranos/brandguard/internal/testing"
)

func fixedClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestStore_RoundTrip(t *testing.T) {
	store := NewStore(qtest.CreateTestDB(t), nil)
	store.now = fixedClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	require.NoError(t, store.Start(ctx, "s1", "https://youtu.be/a", "vid_s1"))
	require.NoError(t, store.Start(ctx, "s2", "https://youtu.be/b", "vid_s2"))

	e, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "running", e.State)
	assert.Nil(t, e.FinishedAt)

	require.NoError(t, store.Finish(ctx, "s1", Outcome{
		State:        "completed",
		EventCount:   12,
		FindingCount: 2,
		FinalStatus:  "fail",
	}))

	e, err = store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "completed", e.State)
	assert.Equal(t, 12, e.EventCount)
	assert.Equal(t, 2, e.FindingCount)
	assert.Equal(t, "fail", e.FinalStatus)
	require.NotNil(t, e.FinishedAt)
	assert.True(t, e.FinishedAt.After(e.StartedAt))

	entries, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "s2", entries[0].SessionID, "newest first")
	assert.Equal(t, "s1", entries[1].SessionID)

	entries, err = store.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_NotFound(t *testing.T) {
	store := NewStore(qtest.CreateTestDB(t), nil)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.True(t, errors.IsNotFoundError(err))

	err = store.Finish(ctx, "missing", Outcome{State: "faulted"})
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStore_EmptyListIsNotNil(t *testing.T) {
	store := NewStore(qtest.CreateTestDB(t), nil)
	entries, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestStore_SQLErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewStore(db, nil)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO audit_sessions").
		WillReturnError(errors.New("disk I/O error"))
	err = store.Start(ctx, "s1", "u", "vid_s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record start of session s1")

	mock.ExpectQuery("SELECT session_id").
		WithArgs(MaxListLimit).
		WillReturnError(errors.New("database is locked"))
	_, err = store.List(ctx, 10_000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list audit sessions")

	mock.ExpectExec("UPDATE audit_sessions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Finish(ctx, "s1", Outcome{State: "completed"}))

	assert.NoError(t, mock.ExpectationsWereMet())
}
