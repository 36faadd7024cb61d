package db

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sendgate/pkg/config"
)

func TestDSNEscapesCredentials(t *testing.T) {
	dsn := DSN(config.DBConfig{
		Host:     "db.internal",
		Port:     5432,
		User:     "send gate",
		Password: "p@ss:w/rd",
		Name:     "sendgate",
	})

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.ConnConfig.Host)
	assert.Equal(t, uint16(5432), cfg.ConnConfig.Port)
	assert.Equal(t, "send gate", cfg.ConnConfig.User)
	assert.Equal(t, "p@ss:w/rd", cfg.ConnConfig.Password)
	assert.Equal(t, "sendgate", cfg.ConnConfig.Database)
	assert.Contains(t, dsn, "sslmode=disable")
}

func TestTruncateSQL(t *testing.T) {
	short := "SELECT 1"
	assert.Equal(t, short, truncateSQL(short))

	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	assert.Less(t, len(truncateSQL(string(long))), 500)
}

func TestSlowQueryTracerDefaultThreshold(t *testing.T) {
	tr := NewSlowQueryTracer(nil, 0)
	assert.Greater(t, tr.slowThreshold, time.Duration(0))
}
