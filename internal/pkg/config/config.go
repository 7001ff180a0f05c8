// Package config reads typed settings from the environment. Every getter takes
// a fallback so services start with sane local defaults, matching the
// getEnv(key, fallback) convention used by the service mains.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// String returns the value of key, or fallback when unset or empty.
func String(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

// Int parses key as a base-10 integer. Malformed values are logged and the
// fallback is used instead.
func Int(key string, fallback int) int {
	raw := String(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("invalid integer in environment, using fallback", "key", key, "value", raw, "fallback", fallback)
		return fallback
	}
	return v
}

// Duration parses key with time.ParseDuration ("250ms", "3s", "1m").
func Duration(key string, fallback time.Duration) time.Duration {
	raw := String(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("invalid duration in environment, using fallback", "key", key, "value", raw, "fallback", fallback)
		return fallback
	}
	return d
}

// Bool accepts 1/true/yes/on (case-insensitive) as true and 0/false/no/off as false.
func Bool(key string, fallback bool) bool {
	switch strings.ToLower(String(key, "")) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// CSV splits a comma separated value, dropping empty entries.
func CSV(key string) []string {
	raw := String(key, "")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
