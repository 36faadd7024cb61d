package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadConfigMergesEnvironmentOverBase(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
db:
  host: localhost
  port: 5432
dispatch:
  max_retries: 3
  retry_delay: 10s
`)
	writeFile(t, dir, "staging.yaml", `
db:
  host: db.staging
dispatch:
  retry_delay: 1s
`)

	cfg, err := LoadConfig("staging", dir)
	require.NoError(t, err)

	db := cfg["db"].(map[string]interface{})
	assert.Equal(t, "db.staging", db["host"])
	assert.Equal(t, 5432, db["port"])

	dispatch := cfg["dispatch"].(map[string]interface{})
	assert.Equal(t, 3, dispatch["max_retries"])
	assert.Equal(t, "1s", dispatch["retry_delay"])
}

func TestLoadConfigSubstitutesSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
webhook:
  mailersend_secret: "${SENDGATE_TEST_WEBHOOK_SECRET}"
dns:
  api_key: "${SENDGATE_TEST_DNS_KEY}"
  hosts: ["${SENDGATE_TEST_DNS_KEY}", "fixed"]
`)
	writeFile(t, dir, "secrets.env", "SENDGATE_TEST_WEBHOOK_SECRET=from-file\nSENDGATE_TEST_DNS_KEY='quoted'\n")
	t.Setenv("SENDGATE_TEST_WEBHOOK_SECRET", "from-env")

	cfg, err := LoadConfig("local", dir)
	require.NoError(t, err)

	webhook := cfg["webhook"].(map[string]interface{})
	assert.Equal(t, "from-env", webhook["mailersend_secret"], "system env wins over secrets.env")

	dns := cfg["dns"].(map[string]interface{})
	assert.Equal(t, "quoted", dns["api_key"])
	assert.Equal(t, []interface{}{"quoted", "fixed"}, dns["hosts"])
}

func TestLoadConfigMissingBase(t *testing.T) {
	_, err := LoadConfig("local", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base.yaml")
}

func TestDecodeIntoStruct(t *testing.T) {
	var out struct {
		DB    DBConfig    `yaml:"db"`
		Redis RedisConfig `yaml:"redis"`
	}
	err := Decode(map[string]interface{}{
		"db":    map[string]interface{}{"host": "h", "port": 6543},
		"redis": map[string]interface{}{"addr": "r:6379"},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "h", out.DB.Host)
	assert.Equal(t, 6543, out.DB.Port)
	assert.Equal(t, "r:6379", out.Redis.Addr)
}

func TestMergeMapsDoesNotMutateInputs(t *testing.T) {
	base := map[string]interface{}{"a": map[string]interface{}{"x": 1}}
	over := map[string]interface{}{"a": map[string]interface{}{"y": 2}}

	merged := mergeMaps(base, over)

	assert.Equal(t, map[string]interface{}{"x": 1, "y": 2}, merged["a"])
	assert.Equal(t, map[string]interface{}{"x": 1}, base["a"])
}

func TestOverrideDBFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "db.prod")
	t.Setenv("DB_PORT", "6432")
	t.Setenv("DB_MAX_CONNS", "25")
	t.Setenv("DB_AUTO_MIGRATE", "true")
	t.Setenv("DB_NAME", "")

	cfg := DBConfig{Host: "localhost", Port: 5432, Name: "sendgate"}
	OverrideDBFromEnv(&cfg)

	assert.Equal(t, "db.prod", cfg.Host)
	assert.Equal(t, 6432, cfg.Port)
	assert.Equal(t, int32(25), cfg.MaxConns)
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, "sendgate", cfg.Name)
}

func TestOverrideIgnoresNonNumericPort(t *testing.T) {
	t.Setenv("REDIS_DB", "two")
	cfg := RedisConfig{DB: 1}
	OverrideRedisFromEnv(&cfg)
	assert.Equal(t, 1, cfg.DB)
}
