package config

import (
	"os"
	"time"
)

// Server captures process level configuration.
type Server struct {
	Addr          string
	Environment   string
	JWTSigningKey string
	DatabaseURL   string
	RedisURL      string
	KafkaBrokers  string
	AuditTopic    string
	AuditBuffer   int
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("HEALTHSHARE_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	environment := os.Getenv("HEALTHSHARE_ENV")
	if environment == "" {
		environment = "development"
	}
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Addr:          addr,
		Environment:   environment,
		JWTSigningKey: jwtSigningKey,
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		KafkaBrokers:  os.Getenv("KAFKA_BROKERS"),
		AuditTopic:    os.Getenv("AUDIT_TOPIC"),
		AuditBuffer:   256,
	}
}

// ShutdownTimeout bounds graceful HTTP shutdown.
var ShutdownTimeout = 10 * time.Second
