// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr    string
	DBPath        string
	ParseWorkers  int
	MaxPatchBytes int64
}

// Load reads configuration from environment variables and returns a
// validated Config. Optional variables with defaults:
// PATCHVAULT_LISTEN_ADDR (127.0.0.1:8484), PATCHVAULT_DB_PATH
// (patchvault.db), PATCHVAULT_PARSE_WORKERS (4), PATCHVAULT_MAX_PATCH_BYTES
// (8388608).
func Load() (*Config, error) {
	listenAddr := "127.0.0.1:8484"
	if v, ok := os.LookupEnv("PATCHVAULT_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	dbPath := "patchvault.db"
	if v, ok := os.LookupEnv("PATCHVAULT_DB_PATH"); ok {
		dbPath = v
	}

	parseWorkers := 4
	if v, ok := os.LookupEnv("PATCHVAULT_PARSE_WORKERS"); ok {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			return nil, fmt.Errorf("PATCHVAULT_PARSE_WORKERS has invalid value %q: must be a positive integer", v)
		}
		parseWorkers = parsed
	}

	maxPatchBytes := int64(8 << 20)
	if v, ok := os.LookupEnv("PATCHVAULT_MAX_PATCH_BYTES"); ok {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 1 {
			return nil, fmt.Errorf("PATCHVAULT_MAX_PATCH_BYTES has invalid value %q: must be a positive integer", v)
		}
		maxPatchBytes = parsed
	}

	return &Config{
		ListenAddr:    listenAddr,
		DBPath:        dbPath,
		ParseWorkers:  parseWorkers,
		MaxPatchBytes: maxPatchBytes,
	}, nil
}
