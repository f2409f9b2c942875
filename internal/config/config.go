// Package config loads application configuration from environment
// variables.  Required variables halt startup when missing; tunables fall
// back to defaults.  Redis and RabbitMQ are optional — leaving them
// unconfigured degrades the features built on them (rate limit, response
// cache, cross-instance notifications) without affecting correctness.
package config

import (
	"log"
	"os"
	"time"
)

// Config holds all runtime configuration values.  Each field corresponds
// to an environment variable.
type Config struct {
	Env       string // application environment (e.g. "dev", "prod")
	Port      string // HTTP port to listen on
	DBUser    string // database username
	DBPass    string // database password (optional)
	DBHost    string // database host address
	DBPort    string // database port number
	DBName    string // database name
	JWTSecret string // secret used to verify bearer tokens

	LeaseTTL time.Duration // how long a reservation holds a piece

	AMQPURL    string // RabbitMQ URL; empty disables broker notifications
	PaymentURL string // payment processor base URL; empty disables checkout
}

// Load reads configuration from the environment.  Missing required
// variables cause a fatal log message, matching how the service refuses to
// run half-configured.
func Load() Config {
	return Config{
		Env:        must("APP_ENV"),
		Port:       must("APP_PORT"),
		DBUser:     must("DB_USER"),
		DBPass:     os.Getenv("DB_PASS"), // empty allowed
		DBHost:     must("DB_HOST"),
		DBPort:     must("DB_PORT"),
		DBName:     must("DB_NAME"),
		JWTSecret:  must("JWT_SECRET"),
		LeaseTTL:   time.Duration(envInt("LEASE_DURATION_MIN", 15)) * time.Minute,
		AMQPURL:    amqpURL(),
		PaymentURL: os.Getenv("PAYMENT_URL"),
	}
}

// amqpURL accepts either of the two conventional variable names.
func amqpURL() string {
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		return v
	}
	return os.Getenv("AMQP_URL")
}

// must retrieves a required environment variable or exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}
