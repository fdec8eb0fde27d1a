package core

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"

	"github.com/BardiaPzK/ribooster/internal/model"
)

// mockDB implements the DB interface for testing.
type mockDB struct {
	mock.Mock
}

func (m *mockDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDB) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Rows), args.Error(1)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// mockRow implements pgx.Row.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (m *mockRow) Scan(dest ...any) error {
	return m.scanFunc(dest...)
}

func errRow(err error) *mockRow {
	return &mockRow{scanFunc: func(...any) error { return err }}
}

// mockRows implements pgx.Rows with one scan function per row.
type mockRows struct {
	idx       int
	scanFuncs []func(dest ...any) error
	err       error
}

func newMockRows(scanFuncs ...func(dest ...any) error) *mockRows {
	return &mockRows{scanFuncs: scanFuncs}
}

func (m *mockRows) Next() bool { return m.idx < len(m.scanFuncs) }

func (m *mockRows) Scan(dest ...any) error {
	fn := m.scanFuncs[m.idx]
	m.idx++
	return fn(dest...)
}

func (m *mockRows) Err() error                                   { return m.err }
func (m *mockRows) Close()                                       {}
func (m *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (m *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (m *mockRows) RawValues() [][]byte                          { return nil }
func (m *mockRows) Values() ([]any, error)                       { return nil, nil }
func (m *mockRows) Conn() *pgx.Conn                              { return nil }

// scanJobRow fills the destinations of scanJob from j.
func scanJobRow(j model.BackupJob) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*string)) = j.JobID
		*(dest[1].(*string)) = j.OrgID
		*(dest[2].(*string)) = j.CompanyID
		*(dest[3].(*string)) = j.UserID
		*(dest[4].(*string)) = j.ProjectID
		*(dest[5].(*string)) = j.ProjectName
		*(dest[6].(*[]byte)) = []byte(`{"include_estimates":true,"include_lineitems":false,"include_resources":false,"include_activities":true}`)
		*(dest[7].(*string)) = string(j.Status)
		*(dest[8].(*int)) = j.Progress
		*(dest[9].(*[]string)) = j.Log
		if j.Archive != nil {
			key, size := j.Archive.Key, j.Archive.SizeBytes
			*(dest[10].(**string)) = &key
			*(dest[11].(**int64)) = &size
		}
		*(dest[12].(*int64)) = j.CreatedAt
		*(dest[13].(*int64)) = j.UpdatedAt
		return nil
	}
}

func tag(rows int) pgconn.CommandTag {
	return pgconn.NewCommandTag("UPDATE " + strconv.Itoa(rows))
}
