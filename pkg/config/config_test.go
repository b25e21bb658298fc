package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesModelConventions(t *testing.T) {
	c := Default()

	assert.Equal(t, 60, c.Model.SequenceLength)
	assert.Equal(t, 50, c.Model.Units)
	assert.Equal(t, 25, c.Model.DenseUnits)
	assert.InDelta(t, 0.2, c.Model.Dropout, 1e-12)
	assert.Equal(t, "2y", c.Training.Period)
	assert.InDelta(t, 0.8, c.Training.TrainSplit, 1e-12)
	assert.Equal(t, 15, c.Training.EarlyStopPatience)
	assert.Equal(t, 10, c.Training.LRPatience)
	assert.InDelta(t, 1e-7, c.Training.MinLR, 1e-15)
	assert.InDelta(t, 0.85, c.Prediction.Confidence, 1e-12)
	assert.Equal(t, []string{"localhost:9092"}, c.Kafka.Brokers)
	assert.Equal(t, 5*time.Minute, c.MarketData.CacheTTL)
	require.NoError(t, c.Validate())
}

func TestParseOverridesDefaults(t *testing.T) {
	c, err := Parse([]byte(`
environment: test
model:
  sequence_length: 20
training:
  epochs: 5
market_data:
  provider: clickhouse
`))
	require.NoError(t, err)
	assert.Equal(t, "test", c.Environment)
	assert.Equal(t, 20, c.Model.SequenceLength)
	assert.Equal(t, 5, c.Training.Epochs)
	assert.Equal(t, 32, c.Training.BatchSize)
	assert.Equal(t, "clickhouse", c.MarketData.Provider)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"split":      "training:\n  train_split: 1.5\n",
		"provider":   "market_data:\n  provider: bloomberg\n",
		"confidence": "prediction:\n  confidence: 2\n",
		"queue":      "queue:\n  backend: redis\n",
		"records":    "records:\n  store: postgres\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadWithEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment: dev\n"), 0o644))

	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("FINCAST_MODEL_DIR", "/var/models")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, "cache", c.Redis.Host)
	assert.Equal(t, 6380, c.Redis.Port)
	assert.Equal(t, "/var/models", c.Model.Dir)
}
