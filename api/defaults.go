package api

import (
	"os"
	"strconv"
	"time"
)

const (
	defaultActivityWorkers = 8
	workersPerCPU          = 10
	maxActivityWorkers     = 64
)

// workersForCPU sizes the activity dispatcher pool from the host CPU count.
func workersForCPU(cpu int) int {
	if cpu <= 0 {
		return defaultActivityWorkers
	}
	workers := cpu * workersPerCPU
	if workers > maxActivityWorkers {
		return maxActivityWorkers
	}
	return workers
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func envDur(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
