// FILE: env.go
// Package main – environment loading helpers.
//
// .env loading goes through github.com/joho/godotenv instead of a
// hand-rolled scanner: it natively supports the `export VAR=value` prefix
// and single/double-quoted values that SPEC_FULL §6 calls out, and never
// overrides a variable already present in the process environment.
package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// loadDotEnv loads path (if present) into the process environment without
// overriding anything already set. A missing file is not an error — the
// .env file is optional per SPEC_FULL §6.
func loadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		return err
	}
	for k, v := range vars {
		if _, present := os.LookupEnv(k); present {
			continue
		}
		_ = os.Setenv(k, v)
	}
	return nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// readCredentialFile reads a plain-text credential file (r_key.txt,
// b_secret.txt, ...), trimming surrounding whitespace. Returns "" if the
// file is absent — credential presence is validated by the broker
// constructors, not here.
func readCredentialFile(path string) string {
	if path == "" {
		return ""
	}
	bs, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(bs))
}
