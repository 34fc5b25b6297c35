package repository

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/mangaforge/internal/database"
	"github.com/digkill/mangaforge/internal/models"
)

func TestAccountRepository_Load(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, plan_id, diamonds, rubies, updated_at FROM accounts").
		WithArgs("demo-user").
		WillReturnRows(sqlmock.NewRows([]string{"id", "plan_id", "diamonds", "rubies", "updated_at"}).
			AddRow("demo-user", 16, int64(-1), int64(5000), now))

	repo := NewAccountRepository(db)
	rec, err := repo.Load(context.Background(), "demo-user")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 16, rec.PlanID)
	assert.Equal(t, models.UnlimitedSentinel, rec.Diamonds)
	assert.Equal(t, int64(5000), rec.Rubies)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_LoadMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM accounts").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "plan_id", "diamonds", "rubies", "updated_at"}))

	rec, err := NewAccountRepository(db).Load(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_Save(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts (id, plan_id, diamonds, rubies)")).
		WithArgs("demo-user", 4, int64(470), int64(20)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewAccountRepository(db).Save(context.Background(), models.AccountRecord{
		AccountID: "demo-user", PlanID: 4, Diamonds: 470, Rubies: 20,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_SaveError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO accounts").WillReturnError(errors.New("connection reset"))

	err = NewAccountRepository(db).Save(context.Background(), models.AccountRecord{AccountID: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert account")
}

func TestLocalAccountRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := database.OpenLocal(ctx, filepath.Join(t.TempDir(), "nested", "local.db"))
	require.NoError(t, err)
	defer db.Close()

	repo := NewLocalAccountRepository(db)

	rec, err := repo.Load(ctx, "demo-user")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, repo.Save(ctx, models.AccountRecord{AccountID: "demo-user", PlanID: 3, Diamonds: 230, Rubies: 10}))
	require.NoError(t, repo.Save(ctx, models.AccountRecord{AccountID: "demo-user", PlanID: 99, Diamonds: -1, Rubies: -1}))

	rec, err = repo.Load(ctx, "demo-user")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 99, rec.PlanID)
	assert.Equal(t, int64(-1), rec.Diamonds)
	assert.Equal(t, int64(-1), rec.Rubies)
	assert.False(t, rec.UpdatedAt.IsZero())
}

func TestLocalAccountRepository_CanceledContext(t *testing.T) {
	db, err := database.OpenLocal(context.Background(), filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repo := NewLocalAccountRepository(db)
	assert.ErrorIs(t, repo.Save(ctx, models.AccountRecord{AccountID: "a"}), context.Canceled)
	_, err = repo.Load(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
}

func setupRedisAccountTest(t *testing.T) (*RedisAccountRepository, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewRedisAccountRepository(client), mr
}

func TestRedisAccountRepository_RoundTrip(t *testing.T) {
	repo, mr := setupRedisAccountTest(t)
	ctx := context.Background()

	rec, err := repo.Load(ctx, "demo-user")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, repo.Save(ctx, models.AccountRecord{AccountID: "demo-user", PlanID: 17, Diamonds: -1, Rubies: 10000}))
	assert.Equal(t, "17", mr.HGet(accountKeyPrefix+"demo-user", "plan_id"))

	rec, err = repo.Load(ctx, "demo-user")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 17, rec.PlanID)
	assert.Equal(t, int64(-1), rec.Diamonds)
	assert.Equal(t, int64(10000), rec.Rubies)
}

func TestRedisAccountRepository_CorruptRecord(t *testing.T) {
	repo, mr := setupRedisAccountTest(t)
	mr.HSet(accountKeyPrefix+"demo-user", "plan_id", "abc", "diamonds", "1", "rubies", "1")

	_, err := repo.Load(context.Background(), "demo-user")
	assert.Error(t, err)
}

func TestRedisAccountRepository_Unavailable(t *testing.T) {
	repo, mr := setupRedisAccountTest(t)
	mr.Close()

	_, err := repo.Load(context.Background(), "demo-user")
	assert.Error(t, err)
	assert.Error(t, repo.Save(context.Background(), models.AccountRecord{AccountID: "demo-user"}))
}
