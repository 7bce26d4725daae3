package worker

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		delivered uint64
		want      time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 32 * time.Second},
		{7, time.Minute},
		{100, time.Minute},
	}
	for _, tt := range tests {
		if got := backoffDelay(tt.delivered); got != tt.want {
			t.Errorf("backoffDelay(%d) = %s, want %s", tt.delivered, got, tt.want)
		}
	}
}
