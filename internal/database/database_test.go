package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/airnav/internal/database"
	"github.com/breatheroute/airnav/internal/incident"
)

func TestConfigFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"DB_HOST", "DB_PORT", "DB_USER", "DB_NAME", "DB_MAX_IDLE_CONNS", "DB_CONN_MAX_LIFETIME"} {
		t.Setenv(k, "")
	}

	cfg := database.ConfigFromEnv()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "airnav", cfg.User)
	assert.Equal(t, "airnav", cfg.Database)
	assert.Equal(t, 2, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
}

func TestConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6432")
	t.Setenv("DB_SSL_MODE", "require")

	cfg := database.ConfigFromEnv()

	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, 6432, cfg.Port)
	assert.Contains(t, cfg.ConnectionString(), "@db.internal:6432/")
	assert.Contains(t, cfg.ConnectionString(), "sslmode=require")
}

type recordingExec struct {
	statements []string
	failOn     int
}

func (r *recordingExec) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	r.statements = append(r.statements, sql)
	if r.failOn > 0 && len(r.statements) == r.failOn {
		return pgconn.CommandTag{}, errors.New("permission denied")
	}
	return pgconn.CommandTag{}, nil
}

func TestMigrate(t *testing.T) {
	exec := &recordingExec{}
	require.NoError(t, database.Migrate(context.Background(), exec, incident.Schema))
	assert.Equal(t, []string{incident.Schema}, exec.statements)
}

func TestMigrate_StopsOnError(t *testing.T) {
	exec := &recordingExec{failOn: 1}
	err := database.Migrate(context.Background(), exec, "CREATE TABLE a ()", "CREATE TABLE b ()")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply schema 0")
	assert.Len(t, exec.statements, 1)
}
