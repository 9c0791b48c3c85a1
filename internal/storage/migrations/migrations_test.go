package migrations

import (
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_OrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"pg/010_later.sql":  {Data: []byte("CREATE TABLE b (x INT);")},
		"pg/002_second.sql": {Data: []byte("CREATE TABLE a (x INT);")},
		"pg/003_empty.sql":  {Data: []byte("  \n")},
		"pg/README.md":      {Data: []byte("ignored")},
	}

	files, err := load(fsys, "pg")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, 2, files[0].Version)
	assert.Equal(t, "002_second.sql", files[0].Name)
	assert.Equal(t, 10, files[1].Version)
}

func TestLoad_Rejects(t *testing.T) {
	_, err := load(fstest.MapFS{"d/nounderscore.sql": {Data: []byte("x")}}, "d")
	assert.Error(t, err)

	_, err = load(fstest.MapFS{"d/abc_name.sql": {Data: []byte("x")}}, "d")
	assert.Error(t, err)

	_, err = load(fstest.MapFS{
		"d/001_a.sql": {Data: []byte("x")},
		"d/1_b.sql":   {Data: []byte("y")},
	}, "d")
	assert.ErrorContains(t, err, "version 1")

	_, err = load(fstest.MapFS{}, "missing")
	assert.Error(t, err)
}

func TestSplitStatements(t *testing.T) {
	input := `-- header comment
CREATE TABLE a (x Int64) ENGINE = MergeTree() ORDER BY x;

-- second
CREATE TABLE b (y String) ENGINE = MergeTree() ORDER BY y;
`
	stmts := splitStatements(input)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.Contains(t, stmts[1], "CREATE TABLE b")
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	assert.NoError(t, validateNoSemicolonInStrings(`SELECT 'it''s'; SELECT 1;`))
	assert.Error(t, validateNoSemicolonInStrings(`SELECT 'a;b';`))
}

func TestEmbeddedMigrations(t *testing.T) {
	for _, tc := range []struct {
		fsys fs.FS
		dir  string
	}{
		{PostgresFS, "postgres"},
		{ClickhouseFS, "clickhouse"},
		{SQLiteFS, "sqlite"},
	} {
		files, err := load(tc.fsys, tc.dir)
		require.NoError(t, err, tc.dir)
		require.NotEmpty(t, files, tc.dir)
		assert.Equal(t, 1, files[0].Version, tc.dir)
	}

	files, err := load(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	for _, m := range files {
		assert.NoError(t, validateNoSemicolonInStrings(m.SQL), m.Name)
	}
	assert.Len(t, splitStatements(files[0].SQL), 1)
}
