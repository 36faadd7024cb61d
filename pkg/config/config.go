package config

import (
	"os"
	"strconv"
)

// DBConfig 数据库配置
type DBConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Name        string `yaml:"name"`
	SSLMode     string `yaml:"sslmode"`
	MaxConns    int32  `yaml:"max_conns"`
	MinConns    int32  `yaml:"min_conns"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// MQConfig 消息队列配置
type MQConfig struct {
	URL      string `yaml:"url"`
	Prefetch int    `yaml:"prefetch"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port string `yaml:"port"`
}

// OverrideDBFromEnv 从环境变量覆盖数据库配置
func OverrideDBFromEnv(cfg *DBConfig) {
	OverrideString(&cfg.Host, "DB_HOST")
	overrideInt(&cfg.Port, "DB_PORT")
	OverrideString(&cfg.User, "DB_USER")
	OverrideString(&cfg.Password, "DB_PASSWORD")
	OverrideString(&cfg.Name, "DB_NAME")
	OverrideString(&cfg.SSLMode, "DB_SSLMODE")
	if v, ok := lookupInt("DB_MAX_CONNS"); ok {
		cfg.MaxConns = int32(v)
	}
	if v := os.Getenv("DB_AUTO_MIGRATE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AutoMigrate = b
		}
	}
}

func OverrideMQFromEnv(cfg *MQConfig) {
	OverrideString(&cfg.URL, "MQ_URL")
}

func OverrideRedisFromEnv(cfg *RedisConfig) {
	OverrideString(&cfg.Addr, "REDIS_ADDR")
	OverrideString(&cfg.Password, "REDIS_PASSWORD")
	overrideInt(&cfg.DB, "REDIS_DB")
}

func OverrideJWTFromEnv(cfg *JWTConfig) {
	OverrideString(&cfg.Secret, "JWT_SECRET")
}

func OverrideServerFromEnv(cfg *ServerConfig) {
	OverrideString(&cfg.Port, "SERVER_PORT")
}

// OverrideString sets *dst from the named variable when it is non-empty.
func OverrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// 非数字的值忽略
func overrideInt(dst *int, key string) {
	if v, ok := lookupInt(key); ok {
		*dst = v
	}
}

func lookupInt(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
