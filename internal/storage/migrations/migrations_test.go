package migrations

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	pg, err := sqlFiles(PostgresFS, "postgres")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_datasets.sql", "002_fills.sql", "003_run_reports.sql"}, pg)

	ch, err := sqlFiles(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_market_events.sql", "002_equity_samples.sql"}, ch)
}

func TestClickhouseMigrationsSplitCleanly(t *testing.T) {
	files, err := sqlFiles(ClickhouseFS, "clickhouse")
	require.NoError(t, err)

	for _, file := range files {
		data, err := ClickhouseFS.ReadFile("clickhouse/" + file)
		require.NoError(t, err)
		require.NoError(t, validateNoSemicolonInStrings(string(data)), file)
		assert.Len(t, splitStatements(string(data)), 1, file)
	}
}

func TestSQLFiles_SortsAndFilters(t *testing.T) {
	fsys := fstest.MapFS{
		"m/002_b.sql":   {Data: []byte("B")},
		"m/001_a.sql":   {Data: []byte("A")},
		"m/README.md":   {Data: []byte("docs")},
		"m/sub/003.sql": {Data: []byte("C")},
	}

	files, err := sqlFiles(fsys, "m")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a.sql", "002_b.sql"}, files)

	_, err = sqlFiles(fsys, "missing")
	assert.Error(t, err)
}

func TestSplitStatements(t *testing.T) {
	input := `-- header comment
CREATE TABLE a (x UInt8) ENGINE = Memory;

-- second
CREATE TABLE b (y UInt8) ENGINE = Memory;
`
	stmts := splitStatements(input)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x UInt8) ENGINE = Memory", stmts[0])
	assert.Equal(t, "CREATE TABLE b (y UInt8) ENGINE = Memory", stmts[1])
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	assert.NoError(t, validateNoSemicolonInStrings("SELECT 'a''b'; SELECT 1;"))
	assert.Error(t, validateNoSemicolonInStrings("SELECT 'a;b'"))
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default@localhost:9000/mm")
	require.NoError(t, err)
	assert.Equal(t, "mm", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)

	_, err = databaseFromDSN("clickhouse://localhost:9000/mm;DROP")
	assert.Error(t, err)
}

type recordingExecer struct {
	stmts  []string
	failOn int
}

func (r *recordingExecer) Exec(_ context.Context, query string, _ ...any) error {
	r.stmts = append(r.stmts, query)
	if r.failOn > 0 && len(r.stmts) == r.failOn {
		return errors.New("exec failed")
	}
	return nil
}

func TestClickhousePlan(t *testing.T) {
	plan, err := ClickhousePlan()
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, "001_market_events.sql", plan[0].File)
	assert.Contains(t, plan[0].Statements[0], "CREATE TABLE IF NOT EXISTS market_events")
	assert.Contains(t, plan[1].Statements[0], "CREATE TABLE IF NOT EXISTS equity_samples")
}

func TestApplyClickhouse(t *testing.T) {
	plan, err := ClickhousePlan()
	require.NoError(t, err)

	rec := &recordingExecer{}
	require.NoError(t, applyClickhouse(context.Background(), rec, plan))
	assert.Len(t, rec.stmts, 2)

	failing := &recordingExecer{failOn: 2}
	err = applyClickhouse(context.Background(), failing, plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "002_equity_samples.sql")
}
