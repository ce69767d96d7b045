package worker

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/havenvest/engine/internal/config"
)

func TestCalculateDesiredWorkers(t *testing.T) {
	cfg := config.Config{MinWorkers: 2, MaxWorkers: 16}
	m := NewManager(cfg, nil, nil, nil, nil, zerolog.Nop())
	defer m.cancel()

	cases := []struct {
		name        string
		queueLength int
		want        int
	}{
		{"empty queue floors at min", 0, 2},
		{"small queue floors at min", 15, 2},
		{"one worker per ten queued", 50, 5},
		{"large queue caps at max", 1000, 16},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, m.calculateDesiredWorkers(tc.queueLength))
		})
	}
}
