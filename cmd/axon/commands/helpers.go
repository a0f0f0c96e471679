package commands

import (
	"os"
	"strconv"
)

// getEnvOrDefault returns the named environment variable, or def if unset/empty.
func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvInt returns the named environment variable parsed as an int, or def
// if unset/empty/unparseable.
func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
