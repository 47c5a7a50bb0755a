package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/radieske/prediction-rounds/internal/shared/config"
	ctopics "github.com/radieske/prediction-rounds/pkg/contracts/topics"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SERVICE_NAME", "settlement-worker")

	cfg := config.Load()

	assert.Equal(t, "settlement-worker", cfg.ServiceName)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 15*time.Second, cfg.ResolveBufferDelay)
	assert.Equal(t, ctopics.RoundResolved, cfg.TopicRoundResolved)
	assert.Equal(t, "", cfg.HTTPPort)
	assert.Equal(t, "9097", cfg.MetricsPort)
	assert.False(t, cfg.StatsCountRefunds)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVICE_NAME", "round-service")
	t.Setenv("RESOLVE_BUFFER_DELAY", "30")
	t.Setenv("SCHEDULER_INTERVAL", "250ms")
	t.Setenv("AUTO_CREATE_MODES", "UP_DOWN, LEGENDS,")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("STATS_COUNT_REFUNDS", "true")
	t.Setenv("RATE_LIMIT_RPS", "0.5")

	cfg := config.Load()

	assert.Equal(t, 30*time.Second, cfg.ResolveBufferDelay)
	assert.Equal(t, 250*time.Millisecond, cfg.SchedulerInterval)
	assert.Equal(t, []string{"UP_DOWN", "LEGENDS"}, cfg.AutoCreateModes)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Brokers())
	assert.True(t, cfg.StatsCountRefunds)
	assert.InDelta(t, 0.5, cfg.RateLimitRPS, 1e-9)
	assert.Equal(t, "8080", cfg.HTTPPort)
}

func TestLoadBadDurationFallsBack(t *testing.T) {
	t.Setenv("PRICE_MAX_AGE", "soon")

	cfg := config.Load()

	assert.Equal(t, 30*time.Second, cfg.PriceMaxAge)
}
