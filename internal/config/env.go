package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

const DefaultAPIURL = "https://api.walme.io"

// Env holds the settings that come from the process environment (or a .env file).
type Env struct {
	APIURL        string
	DBUser        string
	DBPassword    string
	DBHost        string
	DBPort        string
	DBName        string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	StatusToken   string
}

// LoadEnv reads .env files when present; real environment variables win.
func LoadEnv(files ...string) Env {
	_ = godotenv.Load(files...)

	return Env{
		APIURL:        getEnv("WALME_API_URL", DefaultAPIURL),
		DBUser:        os.Getenv("DB_USER"),
		DBPassword:    os.Getenv("DB_PASSWORD"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBName:        os.Getenv("DB_NAME"),
		RedisHost:     os.Getenv("REDIS_HOST"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		StatusToken:   os.Getenv("STATUS_TOKEN"),
	}
}

func (e Env) RedisEnabled() bool {
	return e.RedisHost != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// PostgresDSN builds the connection string the pgx driver expects.
func (e Env) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		e.DBUser, e.DBPassword, e.DBHost, e.DBPort, e.DBName)
}
