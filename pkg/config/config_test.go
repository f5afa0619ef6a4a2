package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8001, c.Server.Port)
	assert.Equal(t, "competition19", c.App.Competition)
	assert.Equal(t, "65", c.App.TopicID)
	assert.Equal(t, "BTC", c.App.Token)
	assert.Equal(t, "8h", c.App.Timeframe)
	assert.Equal(t, 365, c.App.TrainingDays)
	assert.Equal(t, 0.01, c.Model.VarianceThreshold)
	assert.Equal(t, 0.25, c.Model.CorrThreshold)
	assert.Equal(t, 20, c.Tuning.Trials)
	assert.True(t, c.Tuning.Enabled)
	assert.Equal(t, DefaultFeatures, c.Model.Features)
	assert.Equal(t, []string{"localhost:9092"}, c.Kafka.Brokers)
	assert.Equal(t, -1, c.Kafka.RequiredAcks)
	assert.Equal(t, 15*time.Second, c.Server.ReadTimeout)
	assert.Empty(t, c.APIKeys.CoinGecko)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	p := writeYAML(t, `
environment: production
server:
  port: 9100
  shutdown_timeout: 3s
tuning:
  trials: 5
  enabled: false
model:
  features: [a, b]
`)
	c, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "production", c.Environment)
	assert.Equal(t, 9100, c.Server.Port)
	assert.Equal(t, 3*time.Second, c.Server.ShutdownTimeout)
	assert.Equal(t, 5, c.Tuning.Trials)
	assert.False(t, c.Tuning.Enabled)
	assert.Equal(t, []string{"a", "b"}, c.Model.Features)
	assert.Equal(t, "random", c.Tuning.Objective)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad objective":     "tuning:\n  objective: grid\n",
		"remote no url":     "tuning:\n  objective: remote\n",
		"short history":     "app:\n  training_days: 30\n",
		"corr out of range": "model:\n  corr_threshold: 1.5\n",
		"bad port":          "server:\n  port: 70000\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeYAML(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("TOKEN", "ETH")
	t.Setenv("TIMEFRAME", "1h")
	t.Setenv("FLASK_PORT", "8100")
	t.Setenv("MCP_PORT", "8200")
	t.Setenv("TRAINING_DAYS", "400")
	t.Setenv("CG_API_KEY", "cg-key")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("USE_OPTIMIZER", "false")
	t.Setenv("WRITE_ROOT", "/tmp/sandbox")

	c, err := LoadWithEnv(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "ETH", c.App.Token)
	assert.Equal(t, "1h", c.App.Timeframe)
	assert.Equal(t, 8200, c.Server.Port)
	assert.Equal(t, 400, c.App.TrainingDays)
	assert.Equal(t, "cg-key", c.APIKeys.CoinGecko)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.False(t, c.Tuning.Enabled)
	assert.Equal(t, "/tmp/sandbox", c.Tools.WriteRoot)
}

func TestLoadWithEnvRejectsShortTrainingWindow(t *testing.T) {
	t.Setenv("TRAINING_DAYS", "10")
	_, err := LoadWithEnv("")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	a := AppConfig{Competition: "competition19", TopicID: "65", Token: "BTC", Timeframe: "8h"}
	now := time.Date(2025, 3, 4, 23, 30, 0, 0, time.FixedZone("X", -5*3600))
	assert.Equal(t, "2025-03-05-competition19-topic65-app-btc-8h", a.Version(now))
}

func TestDataPath(t *testing.T) {
	d := DataConfig{Dir: "/srv/data"}
	assert.Equal(t, "/srv/data/best_model.json", d.BestModelFile())
	assert.Equal(t, "/srv/data/selected_features.json", d.SelectedFeaturesFile())

	rel := DataConfig{Dir: "data"}
	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "data", "x.csv"), rel.Path("x.csv"))
}
