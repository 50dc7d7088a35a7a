package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config carries everything a process needs at startup. One instance of the
// banking server and each audit worker load the same file/env surface.
type Config struct {
	ServerPort string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Audit    AuditConfig

	// TenantID scopes every account and user lookup for this deployment.
	TenantID string
	// StackName prefixes all shared redis keys so parallel stacks never collide.
	StackName string
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	SecretKey string
}

type AuditConfig struct {
	BatchSize     int
	PollTimeout   time.Duration
	MaxAttempts   int
	EncryptorKey  string
	EncryptorSalt string
}

// Load reads .env plus process environment the way the rest of the stack
// expects: env vars override the file, defaults fill the gaps.
func Load() *Config {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

	viper.BindEnv("server.port", "SERVER_PORT")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")

	viper.BindEnv("tenant.id", "TENANT_ID")
	viper.BindEnv("stack.name", "STACK_NAME")

	viper.BindEnv("audit.batch_size", "AUDIT_BATCH_SIZE")
	viper.BindEnv("audit.poll_timeout", "AUDIT_POLL_TIMEOUT")
	viper.BindEnv("audit.max_attempts", "AUDIT_MAX_ATTEMPTS")
	viper.BindEnv("audit.encryptor_key", "AUDIT_ENCRYPTOR_KEY")
	viper.BindEnv("audit.encryptor_salt", "AUDIT_ENCRYPTOR_SALT")

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.name", "banking")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", time.Minute*5)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("tenant.id", "default-tenant")
	viper.SetDefault("stack.name", "banking")
	viper.SetDefault("audit.batch_size", 10)
	viper.SetDefault("audit.poll_timeout", 5*time.Second)
	viper.SetDefault("audit.max_attempts", 5)

	return &Config{
		ServerPort: viper.GetString("server.port"),
		Database: DatabaseConfig{
			Host:            viper.GetString("database.host"),
			Port:            viper.GetString("database.port"),
			User:            viper.GetString("database.user"),
			Password:        viper.GetString("database.password"),
			Name:            viper.GetString("database.name"),
			SSLMode:         viper.GetString("database.ssl_mode"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("redis.host"),
			Port:     viper.GetString("redis.port"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			SecretKey: viper.GetString("jwt.secret_key"),
		},
		Audit: AuditConfig{
			BatchSize:     viper.GetInt("audit.batch_size"),
			PollTimeout:   viper.GetDuration("audit.poll_timeout"),
			MaxAttempts:   viper.GetInt("audit.max_attempts"),
			EncryptorKey:  viper.GetString("audit.encryptor_key"),
			EncryptorSalt: viper.GetString("audit.encryptor_salt"),
		},
		TenantID:  viper.GetString("tenant.id"),
		StackName: viper.GetString("stack.name"),
	}
}
