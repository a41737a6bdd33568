package config

import (
	"os"
	"strings"
	"time"
)

type Config struct {
	PostgresURI         string
	RedisURI            string
	MongoURI            string
	AMQPURI             string
	JWTSecret           string
	Port                string
	FrontendURL         string
	AllowedOrigins      []string // CORS: from ALLOWED_ORIGINS or FRONTEND_URL
	CloudinaryName      string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	Environment         string // ENV: production, development, etc.

	// Session tuning. Defaults match the documented behavior; overridable
	// mostly so tests and staging can shrink the windows.
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AuthDebounce    time.Duration
	UserCacheTTL    time.Duration
}

func Load() *Config {
	env := strings.ToLower(strings.TrimSpace(getEnv("ENV", "development")))

	allowedOrigins := parseOrigins(getEnv("ALLOWED_ORIGINS", ""))
	if len(allowedOrigins) == 0 {
		for _, u := range []string{getEnv("FRONTEND_URL", "http://localhost:3000"), getEnv("FRONTEND_URL_2", "")} {
			u = strings.TrimSpace(u)
			if u != "" {
				allowedOrigins = append(allowedOrigins, u)
			}
		}
	}

	return &Config{
		PostgresURI:         getEnv("POSTGRES_URI", "postgres://localhost:5432/gasyway?sslmode=disable"),
		RedisURI:            getEnv("REDIS_URI", "redis://localhost:6379/0"),
		MongoURI:            getEnv("MONGODB_URI", getEnv("MONGO_URI", "mongodb://localhost:27017/gasyway")),
		AMQPURI:             getEnv("RABBITMQ_URL", getEnv("AMQP_URL", "")),
		JWTSecret:           getEnv("JWT_SECRET", "change-me-in-production"),
		Port:                getEnv("PORT", "8080"),
		FrontendURL:         getEnv("FRONTEND_URL", "http://localhost:3000"),
		AllowedOrigins:      allowedOrigins,
		CloudinaryName:      getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:    getEnv("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret: getEnv("CLOUDINARY_API_SECRET", ""),
		Environment:         env,
		AccessTokenTTL:      getDuration("ACCESS_TOKEN_TTL", time.Hour),
		RefreshTokenTTL:     getDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		AuthDebounce:        getDuration("AUTH_DEBOUNCE", 300*time.Millisecond),
		UserCacheTTL:        getDuration("USER_CACHE_TTL", 5*time.Minute),
	}
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func parseOrigins(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
