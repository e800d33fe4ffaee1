package migration

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDatabaseType(t *testing.T) {
	tests := []struct {
		input    string
		expected DatabaseType
		wantErr  bool
	}{
		{"postgres", DatabaseTypePostgres, false},
		{"postgresql", DatabaseTypePostgres, false},
		{"pg", DatabaseTypePostgres, false},
		{"mysql", DatabaseTypeMySQL, false},
		{"mariadb", DatabaseTypeMySQL, false},
		{"sqlite", DatabaseTypeSQLite, false},
		{"SQLITE3", DatabaseTypeSQLite, false},
		{"oracle", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDatabaseType(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestDatabaseType_Versioned(t *testing.T) {
	assert.True(t, DatabaseTypePostgres.Versioned())
	assert.True(t, DatabaseTypeMySQL.Versioned())
	assert.False(t, DatabaseTypeSQLite.Versioned())
}

func TestNewMigrator_InvalidConfig(t *testing.T) {
	_, err := NewMigrator(Config{DatabaseType: DatabaseTypeSQLite, DSN: "file::memory:"}, nil)
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = NewMigrator(Config{DatabaseType: DatabaseTypePostgres}, nil)
	assert.Error(t, err)
}

func TestAvailableMigrations(t *testing.T) {
	for _, dt := range []DatabaseType{DatabaseTypePostgres, DatabaseTypeMySQL} {
		t.Run(string(dt), func(t *testing.T) {
			files, err := AvailableMigrations(dt)
			require.NoError(t, err)
			require.Len(t, files, 2)
			assert.Equal(t, MigrationFile{Version: 1, Name: "create_research_reports"}, files[0])
			assert.Equal(t, MigrationFile{Version: 2, Name: "add_report_query_index"}, files[1])
		})
	}

	_, err := AvailableMigrations(DatabaseTypeSQLite)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	for _, dt := range []DatabaseType{DatabaseTypePostgres, DatabaseTypeMySQL} {
		files, err := AvailableMigrations(dt)
		require.NoError(t, err)
		for _, f := range files {
			base := dt.migrationsDir() + "/" + padVersion(f.Version) + "_" + f.Name
			_, err := migrationsFS.ReadFile(base + ".down.sql")
			assert.NoError(t, err, "missing down migration for %s", base)
		}
	}
}

func padVersion(v uint) string {
	s := []byte("000000")
	for i := len(s) - 1; v > 0; i-- {
		s[i] = byte('0' + v%10)
		v /= 10
	}
	return string(s)
}

func TestBuildStatusAndInfo(t *testing.T) {
	files := []MigrationFile{{1, "a"}, {2, "b"}, {3, "c"}}

	statuses := buildStatus(files, 2, true)
	require.Len(t, statuses, 3)
	assert.True(t, statuses[0].Applied)
	assert.True(t, statuses[1].Applied)
	assert.True(t, statuses[1].Dirty)
	assert.False(t, statuses[2].Applied)

	info := buildInfo(files, 2, false)
	assert.Equal(t, &MigrationInfo{CurrentVersion: 2, TotalMigrations: 3, AppliedMigrations: 2, PendingMigrations: 1}, info)

	assert.Equal(t, 3, buildInfo(files, 0, false).PendingMigrations)
}

// fakeMigrator records calls for CLI tests.
type fakeMigrator struct {
	version uint
	dirty   bool
	files   []MigrationFile
	upErr   error
	calls   []string
}

func (f *fakeMigrator) Up(context.Context) error {
	f.calls = append(f.calls, "up")
	if f.upErr != nil {
		return f.upErr
	}
	f.version = f.files[len(f.files)-1].Version
	return nil
}

func (f *fakeMigrator) Down(context.Context) error {
	f.calls = append(f.calls, "down")
	if f.version > 0 {
		f.version--
	}
	return nil
}

func (f *fakeMigrator) Steps(_ context.Context, n int) error {
	f.calls = append(f.calls, "steps")
	return nil
}

func (f *fakeMigrator) Version(context.Context) (uint, bool, error) {
	return f.version, f.dirty, nil
}

func (f *fakeMigrator) Status(context.Context) ([]MigrationStatus, error) {
	return buildStatus(f.files, f.version, f.dirty), nil
}

func (f *fakeMigrator) Info(context.Context) (*MigrationInfo, error) {
	return buildInfo(f.files, f.version, f.dirty), nil
}

func (f *fakeMigrator) Close() error { return nil }

func newFakeCLI(m *fakeMigrator) (*CLI, *bytes.Buffer) {
	var buf bytes.Buffer
	cli := NewCLI(m)
	cli.SetOutput(&buf)
	return cli, &buf
}

func TestCLI_Up(t *testing.T) {
	m := &fakeMigrator{files: []MigrationFile{{1, "create_research_reports"}, {2, "add_report_query_index"}}}
	cli, out := newFakeCLI(m)

	require.NoError(t, cli.Run(context.Background(), "up"))
	assert.Contains(t, out.String(), "Current version: 2")
	assert.Equal(t, []string{"up"}, m.calls)
}

func TestCLI_UpFailure(t *testing.T) {
	m := &fakeMigrator{files: []MigrationFile{{1, "x"}}, upErr: errors.New("lock timeout")}
	cli, _ := newFakeCLI(m)
	err := cli.Run(context.Background(), "up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock timeout")
}

func TestCLI_DownAndVersion(t *testing.T) {
	m := &fakeMigrator{version: 2, files: []MigrationFile{{1, "a"}, {2, "b"}}}
	cli, out := newFakeCLI(m)

	require.NoError(t, cli.Run(context.Background(), "down"))
	assert.Contains(t, out.String(), "Rollback complete. Current version: 1")

	out.Reset()
	m.dirty = true
	require.NoError(t, cli.Run(context.Background(), "version"))
	assert.Equal(t, "Current version: 1 (dirty)\n", out.String())

	out.Reset()
	m.version = 0
	require.NoError(t, cli.RunVersion(context.Background()))
	assert.Equal(t, "No migrations applied yet.\n", out.String())
}

func TestCLI_Status(t *testing.T) {
	m := &fakeMigrator{version: 1, files: []MigrationFile{{1, "create_research_reports"}, {2, "add_report_query_index"}}}
	cli, out := newFakeCLI(m)

	require.NoError(t, cli.Run(context.Background(), "status"))
	s := out.String()
	assert.Contains(t, s, "000001")
	assert.Contains(t, s, "Applied")
	assert.Contains(t, s, "Pending")
	assert.Contains(t, s, "Total: 2, Applied: 1, Pending: 1")
}

func TestCLI_UnknownAction(t *testing.T) {
	cli, _ := newFakeCLI(&fakeMigrator{})
	assert.Error(t, cli.Run(context.Background(), "sideways"))
}
