package utils

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// LoadEnv loads a .env file for the given environment.
// Looks for .env.<env> first, then falls back to plain .env.
func LoadEnv(env string) error {
	if env != "" {
		name := fmt.Sprintf(".env.%s", env)
		if _, err := os.Stat(name); err == nil {
			return godotenv.Load(name)
		}
	}
	return godotenv.Load()
}

// GetEnv returns the environment variable value, empty string if unset
func GetEnv(key string) string {
	return os.Getenv(key)
}

// GetEnvDefault returns the environment variable value or def if unset
func GetEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetEnvInt parses the environment variable as an int, def if unset or invalid
func GetEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return def
	}
	return n
}

// GetEnvBool parses the environment variable as a bool, false if unset or invalid
func GetEnvBool(key string) bool {
	return cast.ToBool(os.Getenv(key))
}
