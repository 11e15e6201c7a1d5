package quill

import (
	"context"
	"database/sql/driver"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/quill/model"
	"github.com/syssam/quill/sqltemplate"
)

const ownersAll = "SELECT owners.id, owners.name, owners.age FROM owners"

func ownerRows(rows ...[]any) *sqlmock.Rows {
	out := sqlmock.NewRows([]string{"id", "name", "age"})
	for _, r := range rows {
		vals := make([]driver.Value, len(r))
		for i, v := range r {
			vals[i] = v
		}
		out.AddRow(vals...)
	}
	return out
}

func TestGetResultList(t *testing.T) {
	db, mock := mockDB(t, "postgres")
	mock.ExpectQuery(ownersAll).
		WillReturnRows(ownerRows(
			[]any{int64(1), "Ann", int64(41)},
			[]any{int64(2), "Ben", int64(29)},
		))

	list, err := SelectFrom[Owner](db).Query().GetResultList(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Ann", list[0].Name)
	assert.Equal(t, 29, list[1].Age)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSingleResultErrors(t *testing.T) {
	db, mock := mockDB(t, "postgres")
	mock.ExpectQuery(ownersAll).WillReturnRows(ownerRows())

	_, err := SelectFrom[Owner](db).Query().GetSingleResult(context.Background())
	assert.True(t, IsNoResult(err))
	assert.ErrorIs(t, err, ErrNoResult)

	mock.ExpectQuery(ownersAll).
		WillReturnRows(ownerRows(
			[]any{int64(1), "Ann", int64(41)},
			[]any{int64(2), "Ben", int64(29)},
		))
	_, err = SelectFrom[Owner](db).Query().GetSingleResult(context.Background())
	assert.True(t, IsNonUniqueResult(err))
	var nue *NonUniqueResultError
	require.ErrorAs(t, err, &nue)
	assert.Equal(t, 2, nue.Count())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOptionalResult(t *testing.T) {
	db, mock := mockDB(t, "postgres")
	mock.ExpectQuery(ownersAll).WillReturnRows(ownerRows())

	e, err := SelectFrom[Owner](db).Query().GetOptionalResult(context.Background())
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStreamSlice(t *testing.T) {
	db, mock := mockDB(t, "postgres")
	mock.ExpectQuery(ownersAll).
		WillReturnRows(ownerRows(
			[]any{int64(1), "Ann", int64(41)},
			[]any{int64(2), "Ben", int64(29)},
			[]any{int64(3), "Cleo", int64(35)},
		))

	stream, err := SelectFrom[Owner](db).Query().Stream(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	first, err := stream.Slice(2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "Ben", first[1].Name)

	rest, err := stream.Slice(0)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "Cleo", rest[0].Name)

	assert.False(t, stream.Next())
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefList(t *testing.T) {
	db, mock := mockDB(t, "postgres")
	mock.ExpectQuery("SELECT owners.id FROM owners WHERE owners.age > $1").
		WithArgs(30).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(3)))

	refs, err := SelectFrom[Owner](db).Where(Gt(Path[Owner]("Age"), 30)).RefList(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.Ref[Owner]{NewRef[Owner](1), NewRef[Owner](3)}, refs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreparedQueryReuse(t *testing.T) {
	db, mock := mockDB(t, "postgres")
	want := ownersAll + " WHERE owners.age > $1"
	mock.ExpectQuery(want).WithArgs(30).
		WillReturnRows(ownerRows([]any{int64(1), "Ann", int64(41)}))
	mock.ExpectQuery(want).WithArgs(30).
		WillReturnRows(ownerRows([]any{int64(1), "Ann", int64(41)}))

	pq, err := SelectFrom[Owner](db).Where(Gt(Path[Owner]("Age"), 30)).Prepare(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, pq.SQL().Statement)

	for range 2 {
		list, err := pq.GetResultList(context.Background())
		require.NoError(t, err)
		require.Len(t, list, 1)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreparedDeleteBatch(t *testing.T) {
	db, mock := mockDB(t, "postgres")
	stmt := "DELETE FROM owners WHERE owners.id = $1"
	mock.ExpectExec(stmt).WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(stmt).WithArgs(2).WillReturnResult(sqlmock.NewResult(0, 0))

	pq, err := DeleteFrom[Owner](db).
		Where(Eq(Path[Owner]("ID"), 1)).
		Prepare(context.Background())
	require.NoError(t, err)

	affected, err := pq.AddBatch(1).AddBatch(2).ExecuteBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 0}, affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuilderCountStripsOrderAndLimit(t *testing.T) {
	db, mock := mockDB(t, "postgres")
	mock.ExpectQuery("SELECT COUNT(*) FROM owners WHERE owners.age > $1").
		WithArgs(30).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))

	n, err := SelectFrom[Owner](db).
		Where(Gt(Path[Owner]("Age"), 30)).
		OrderBy(Path[Owner]("Name")).
		Limit(5).
		Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryTemplateRaw(t *testing.T) {
	db, mock := mockDB(t, "postgres")
	raw := ownersAll + " WHERE owners.age > 40"
	mock.ExpectQuery(raw).
		WillReturnRows(ownerRows([]any{int64(1), "Ann", int64(41)}))

	list, err := QueryTemplate[Owner](db, Raw(raw)).GetResultList(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Ann", list[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContextInterceptorRewritesStatement(t *testing.T) {
	db, mock := mockDB(t, "postgres")
	mock.ExpectQuery(ownersAll + " -- traced").WillReturnRows(ownerRows())

	var observed []string
	ctx := sqltemplate.WithInterceptor(context.Background(),
		sqltemplate.InterceptorFunc(func(_ context.Context, s sqltemplate.Sql) (sqltemplate.Sql, error) {
			s.Statement += " -- traced"
			return s, nil
		}))
	ctx = sqltemplate.WithObserver(ctx,
		sqltemplate.ObserverFunc(func(_ context.Context, s sqltemplate.Sql) {
			observed = append(observed, s.Statement)
		}))

	_, err := SelectFrom[Owner](db).Query().GetResultList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{ownersAll + " -- traced"}, observed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
