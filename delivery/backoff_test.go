package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffFloor(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{4, 80 * time.Second},
		{5, 160 * time.Second},
		{6, 240 * time.Second},
		{10, 240 * time.Second},
		{0, 10 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, BackoffFloor(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := Backoff(3)
		assert.GreaterOrEqual(t, d, 40*time.Second)
		assert.Less(t, d, 42*time.Second)
	}
}
