package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/dbmigrator/dbmigrator"
	"github.com/dbmigrator/dbmigrator/sqlite"
)

// newConn opens a fresh, fully-migrated sqlite database that is deleted when
// the test is done.
func newConn(t *testing.T) *sqlite.Conn {
	t.Helper()
	ctx := context.Background()
	conn, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "test.db"), "")
	assert.Nil(t, err)
	t.Cleanup(func() { check.Nil(t, conn.Close()) })
	_, err = dbmigrator.Migrate(ctx, conn, migrationsFS, dbmigrator.NewTestLogger(t))
	assert.Nil(t, err)
	return conn
}

// Tests that newConn() works and the new database is queryable.
func TestWithMigratedDatabase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	conn := newConn(t)

	_, err := conn.DB().ExecContext(ctx, `INSERT INTO users (id, email, name) VALUES (1, 'a@example.com', 'a')`)
	assert.Nil(t, err)
	_, err = conn.DB().ExecContext(ctx, `INSERT INTO posts (id, user_id, body) VALUES (1, 1, 'hello world')`)
	assert.Nil(t, err)

	var body string
	assert.Nil(t, conn.DB().GetContext(ctx, &body, `SELECT body FROM posts WHERE user_id = 1`))
	check.Equal(t, "hello world", body)

	plan, err := dbmigrator.PlanMigration(ctx, conn, migrationsFS, nil)
	assert.Nil(t, err)
	check.True(t, plan.Empty())
}
