package runstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citelab/citepipe/internal/cache"
	"github.com/citelab/citepipe/internal/models"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.NewWithClient(client, "1", nil)
	t.Cleanup(func() { c.Close() })
	return c
}

func sampleBundle() *models.RunBundle {
	published := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	return &models.RunBundle{
		Run: models.Run{
			RunID:      "run-1",
			Query:      "battery recycling",
			CreatedAt:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
			AnswerText: "Recycling recovers most metals.",
		},
		Sources: []models.Source{
			{SourceID: "s1", URL: "https://example.com/a", Domain: "example.com", Title: "A", PublishedAt: &published, RawText: "body"},
		},
		Claims: []models.Claim{
			{ClaimID: "c1", Text: "Recycling recovers most metals.", AnswerSentenceIndex: 0},
		},
		Evidence: []models.Evidence{
			{ClaimID: "c1", SourceID: "s1", Snippet: "recovers most metals", Stance: "supports"},
		},
	}
}

func TestCreateRunPersistsAllTables(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewWithDB(db, nil, nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO runs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO sources").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO claims").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO evidence").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	runID, err := store.CreateRun(context.Background(), sampleBundle())
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRunGeneratesRunID(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewWithDB(db, nil, nil)

	bundle := sampleBundle()
	bundle.Run.RunID = ""
	bundle.Sources = nil
	bundle.Claims = nil
	bundle.Evidence = nil

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO runs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	runID, err := store.CreateRun(context.Background(), bundle)
	require.NoError(t, err)
	assert.NotEmpty(t, runID)
	assert.Equal(t, runID, bundle.Run.RunID)
}

func TestCreateRunRollsBackOnFailure(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewWithDB(db, nil, nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO runs").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := store.CreateRun(context.Background(), sampleBundle())
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRunCachesBundleAndIndex(t *testing.T) {
	db, mock := newMockDB(t)
	c := newTestCache(t)
	store := NewWithDB(db, c, nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO runs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO sources").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO claims").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO evidence").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	runID, err := store.CreateRun(ctx, sampleBundle())
	require.NoError(t, err)

	got, err := store.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "battery recycling", got.Run.Query)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, "s1", got.Sources[0].SourceID)

	recent, err := store.RecentRuns(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{runID}, recent)
}

func TestGetRunMissing(t *testing.T) {
	db, _ := newMockDB(t)
	store := NewWithDB(db, newTestCache(t), nil)

	_, err := store.GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestDomainStatsFromBundle(t *testing.T) {
	fetched := []models.Source{
		{SourceID: "s1", Domain: "example.com"},
		{SourceID: "s2", Domain: "example.com"},
		{SourceID: "s3", Domain: "other.org"},
		{SourceID: "s4", Domain: ""},
	}
	bundle := &models.RunBundle{
		Evidence: []models.Evidence{
			{ClaimID: "c1", SourceID: "s1"},
			{ClaimID: "c2", SourceID: "s1"},
		},
	}

	stats := DomainStatsFromBundle(fetched, bundle)
	require.Len(t, stats, 2, "empty domains are skipped")

	assert.Equal(t, 2, stats["example.com"].Appearances)
	assert.Equal(t, 1, stats["example.com"].Cited, "a source cited twice counts once")
	assert.Equal(t, 1, stats["other.org"].Appearances)
	assert.Equal(t, 0, stats["other.org"].Cited)
}
