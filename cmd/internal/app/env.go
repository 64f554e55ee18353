package app

import (
	"os"
	"strconv"
	"strings"
)

// EnvString reads a string env var with a default.
func EnvString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

// EnvInt reads a positive int env var with a default.
func EnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// envSet reports whether key is present, even when empty (NO_COLOR semantics).
func envSet(key string) bool {
	_, ok := os.LookupEnv(key)
	return ok
}
