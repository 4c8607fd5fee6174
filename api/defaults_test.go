package api

import (
	"testing"
	"time"
)

func TestWorkersForCPU(t *testing.T) {
	tests := []struct {
		name string
		cpu  int
		want int
	}{
		{name: "below minimum", cpu: 0, want: defaultActivityWorkers},
		{name: "single cpu", cpu: 1, want: workersPerCPU},
		{name: "multi cpu scale", cpu: 4, want: 40},
		{name: "cap applied", cpu: 32, want: maxActivityWorkers},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := workersForCPU(tt.cpu)
			if got != tt.want {
				t.Fatalf("workersForCPU(%d) = %d, want %d", tt.cpu, got, tt.want)
			}
		})
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("ENV_INT_TEST", "12")
	if got := envInt("ENV_INT_TEST", 5); got != 12 {
		t.Fatalf("expected 12, got %d", got)
	}

	t.Setenv("ENV_INT_TEST", "-3")
	if got := envInt("ENV_INT_TEST", 5); got != 5 {
		t.Fatalf("expected fallback for negative value, got %d", got)
	}

	t.Setenv("ENV_INT_TEST", "not-a-number")
	if got := envInt("ENV_INT_TEST", 5); got != 5 {
		t.Fatalf("expected fallback for garbage value, got %d", got)
	}

	if got := envInt("ENV_INT_UNSET", 5); got != 5 {
		t.Fatalf("expected fallback for unset variable, got %d", got)
	}
}

func TestEnvDur(t *testing.T) {
	t.Setenv("ENV_DUR_TEST", "250ms")
	if got := envDur("ENV_DUR_TEST", time.Second); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %v", got)
	}

	t.Setenv("ENV_DUR_TEST", "0")
	if got := envDur("ENV_DUR_TEST", time.Second); got != 0 {
		t.Fatalf("expected explicit zero to disable the timeout, got %v", got)
	}

	t.Setenv("ENV_DUR_TEST", "later")
	if got := envDur("ENV_DUR_TEST", time.Second); got != time.Second {
		t.Fatalf("expected fallback for garbage value, got %v", got)
	}
}
