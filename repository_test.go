package quill

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Task struct {
	ID      int `orm:"pk,auto"`
	Title   string
	Version int64 `orm:"version"`
}

func mockDB(t *testing.T, driverName string) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return OpenDB(driverName, db), mock
}

func TestInsertReturningKey(t *testing.T) {
	db, mock := mockDB(t, "postgres")
	mock.ExpectQuery("INSERT INTO owners (name, age) VALUES ($1, $2) RETURNING id").
		WithArgs("Ann", 41).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))

	repo := MustRepository[Owner](db)
	e := &Owner{Name: "Ann", Age: 41}
	require.NoError(t, repo.Insert(context.Background(), e))
	assert.Equal(t, 5, e.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertLastInsertID(t *testing.T) {
	db, mock := mockDB(t, "mysql")
	mock.ExpectExec("INSERT INTO owners (name, age) VALUES (?, ?)").
		WithArgs("Ben", 29).
		WillReturnResult(sqlmock.NewResult(7, 1))

	repo := MustRepository[Owner](db)
	e := &Owner{Name: "Ben", Age: 29}
	require.NoError(t, repo.Insert(context.Background(), e))
	assert.Equal(t, 7, e.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertInitializesVersion(t *testing.T) {
	db, mock := mockDB(t, "postgres")
	mock.ExpectQuery("INSERT INTO tasks (title, version) VALUES ($1, $2) RETURNING id").
		WithArgs("write docs", int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

	repo := MustRepository[Task](db)
	e := &Task{Title: "write docs"}
	require.NoError(t, repo.Insert(context.Background(), e))
	assert.Equal(t, int64(1), e.Version)
	assert.Equal(t, 3, e.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateWritesChangedFields(t *testing.T) {
	db, mock := mockDB(t, "postgres")
	mock.ExpectQuery("SELECT tasks.id, tasks.title, tasks.version FROM tasks WHERE tasks.id = $1").
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "version"}).
			AddRow(int64(3), "write docs", int64(1)))
	mock.ExpectExec("UPDATE tasks SET title = $1, version = $2 WHERE id = $3 AND version = $4").
		WithArgs("ship docs", int64(2), 3, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := MustRepository[Task](db)
	e := &Task{ID: 3, Title: "ship docs", Version: 1}
	require.NoError(t, repo.Update(context.Background(), e))
	assert.Equal(t, int64(2), e.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateNoChangesRunsNoStatement(t *testing.T) {
	db, mock := mockDB(t, "postgres")
	mock.ExpectQuery("SELECT tasks.id, tasks.title, tasks.version FROM tasks WHERE tasks.id = $1").
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "version"}).
			AddRow(int64(3), "write docs", int64(1)))

	repo := MustRepository[Task](db)
	e := &Task{ID: 3, Title: "write docs", Version: 1}
	require.NoError(t, repo.Update(context.Background(), e))
	assert.Equal(t, int64(1), e.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOptimisticLockFailure(t *testing.T) {
	db, mock := mockDB(t, "postgres")
	mock.ExpectExec("UPDATE tasks SET title = $1, version = $2 WHERE id = $3 AND version = $4").
		WithArgs("ship docs", int64(2), 3, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := MustRepository[Task](db)
	baseline := &Task{ID: 3, Title: "write docs", Version: 1}
	e := &Task{ID: 3, Title: "ship docs", Version: 1}
	err := repo.UpdateFrom(context.Background(), baseline, e)
	require.Error(t, err)
	assert.True(t, IsOptimisticLock(err))
	var lockErr *OptimisticLockError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, 3, lockErr.ID())
	assert.Equal(t, int64(1), lockErr.Version())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteVersionGuard(t *testing.T) {
	db, mock := mockDB(t, "postgres")
	mock.ExpectExec("DELETE FROM tasks WHERE id = $1 AND version = $2").
		WithArgs(3, int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := MustRepository[Task](db)
	require.NoError(t, repo.Delete(context.Background(), &Task{ID: 3, Version: 2}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteStaleVersionFails(t *testing.T) {
	db, mock := mockDB(t, "postgres")
	mock.ExpectExec("DELETE FROM tasks WHERE id = $1 AND version = $2").
		WithArgs(3, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := MustRepository[Task](db)
	err := repo.Delete(context.Background(), &Task{ID: 3, Version: 1})
	assert.True(t, IsOptimisticLock(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByID(t *testing.T) {
	db, mock := mockDB(t, "postgres")
	mock.ExpectExec("DELETE FROM owners WHERE owners.id = $1").
		WithArgs(9).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := MustRepository[Owner](db)
	ok, err := repo.DeleteByID(context.Background(), 9)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindHydratesRelations(t *testing.T) {
	db, mock := mockDB(t, "postgres")
	mock.ExpectQuery("SELECT pets.id, pets.name, pets.owner_id, owners.id, owners.name, owners.age" +
		" FROM pets LEFT JOIN owners ON pets.owner_id = owners.id WHERE pets.id = $1").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "owner_id", "id", "name", "age"}).
			AddRow(int64(1), "Rex", int64(7), int64(7), "Ann", int64(41)))

	repo := MustRepository[Pet](db)
	pet, err := repo.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Rex", pet.Name)
	require.NotNil(t, pet.Owner)
	assert.Equal(t, 7, pet.Owner.ID)
	assert.Equal(t, "Ann", pet.Owner.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindMissingRelationStaysNil(t *testing.T) {
	db, mock := mockDB(t, "postgres")
	mock.ExpectQuery("SELECT pets.id, pets.name, pets.owner_id, owners.id, owners.name, owners.age" +
		" FROM pets LEFT JOIN owners ON pets.owner_id = owners.id WHERE pets.id = $1").
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "owner_id", "id", "name", "age"}).
			AddRow(int64(2), "Stray", nil, nil, nil, nil))

	repo := MustRepository[Pet](db)
	pet, err := repo.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Nil(t, pet.Owner)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindReturnsNilOnNoRow(t *testing.T) {
	db, mock := mockDB(t, "postgres")
	mock.ExpectQuery("SELECT owners.id, owners.name, owners.age FROM owners WHERE owners.id = $1").
		WithArgs(404).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "age"}))

	repo := MustRepository[Owner](db)
	e, err := repo.Find(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCount(t *testing.T) {
	db, mock := mockDB(t, "postgres")
	mock.ExpectQuery("SELECT COUNT(*) FROM owners").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))

	repo := MustRepository[Owner](db)
	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExistsByID(t *testing.T) {
	db, mock := mockDB(t, "postgres")
	mock.ExpectQuery("SELECT COUNT(*) FROM owners WHERE owners.id = $1").
		WithArgs(8).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery("SELECT COUNT(*) FROM owners WHERE owners.id = $1").
		WithArgs(9).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))

	repo := MustRepository[Owner](db)
	ok, err := repo.ExistsByID(context.Background(), 8)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.ExistsByID(context.Background(), 9)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAll(t *testing.T) {
	db, mock := mockDB(t, "postgres")
	mock.ExpectExec("DELETE FROM owners").
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := MustRepository[Owner](db).DeleteAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveRef(t *testing.T) {
	db, mock := mockDB(t, "postgres")
	mock.ExpectQuery("SELECT owners.id, owners.name, owners.age FROM owners WHERE owners.id = $1").
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "age"}).
			AddRow(int64(7), "Ann", int64(41)))

	repo := MustRepository[Owner](db)
	e, err := repo.Resolve(context.Background(), NewRef[Owner](7))
	require.NoError(t, err)
	assert.Equal(t, "Ann", e.Name)

	e, err = repo.Resolve(context.Background(), Ref[Owner]{})
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxCommitAndRollback(t *testing.T) {
	db, mock := mockDB(t, "postgres")
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM owners WHERE owners.id = $1").
		WithArgs(9).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := db.WithTx(context.Background(), func(tx *Tx) error {
		_, err := DeleteFrom[Owner](tx).Where(Eq(Path[Owner]("ID"), 9)).ExecuteUpdate(context.Background())
		return err
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()
	wantErr := sql.ErrConnDone
	err = db.WithTx(context.Background(), func(*Tx) error { return wantErr })
	assert.ErrorIs(t, err, wantErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}
