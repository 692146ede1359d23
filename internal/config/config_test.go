package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"finadvisor/backend/pkg/models"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFile(t *testing.T, yaml string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	v.AddConfigPath(t.TempDir())
	v.SetConfigName("config")
	cfg, err := load(v)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, "memory", cfg.Queue.Bus)
	assert.Equal(t, 4, cfg.Queue.Worker.Concurrency)
	assert.Equal(t, "finadvisor:chat-events", cfg.Queue.Redis.Stream)
	assert.Equal(t, 4, cfg.Workflow.Retry.MaxAttempts)
	assert.Equal(t, 2, cfg.Analysis.Dependents)
	assert.Equal(t, models.AgentGeneralQA, cfg.Pipeline.FallbackAgent)
	assert.Equal(t, 180*24*time.Hour, cfg.Pipeline.TransactionWindow)
	assert.Equal(t, "corpus", cfg.Knowledge.Source)
	assert.Equal(t, 5, cfg.Knowledge.TopK)
}

func TestLoad_FileAndEnv(t *testing.T) {
	t.Setenv("LLM_ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("QUEUE_WORKER_CONCURRENCY", "9")

	cfg, err := loadFile(t, `
store: postgres
db:
  host: db.internal
  port: 6543
  user: app
  password: secret
  name: advice
  sslmode: require
queue:
  bus: redis
workflow:
  run_timeout: 90s
auth:
  issuer: "https://login.example.com/oauth2/default/"
  client_id: web
`)
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.LLM.Anthropic.APIKey)
	assert.Equal(t, 9, cfg.Queue.Worker.Concurrency)
	assert.Equal(t, "redis", cfg.Queue.Bus)
	assert.Equal(t, 90*time.Second, cfg.Workflow.RunTimeout)
	assert.Equal(t, "https://login.example.com/oauth2/default", cfg.Auth.Issuer)
	assert.Equal(t, "host=db.internal port=6543 user=app password=secret dbname=advice sslmode=require", cfg.DB.DSN())
}

func TestLoad_RejectsUnknownChoices(t *testing.T) {
	cases := map[string]string{
		"store":     "store: sqlite\n",
		"bus":       "queue:\n  bus: kafka\n",
		"provider":  "llm:\n  provider: openai\n",
		"knowledge": "knowledge:\n  source: http\n",
	}
	for name, yaml := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadFile(t, yaml)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingEnvFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.env"))
	assert.Error(t, err)
}

func TestNormalizeIssuer(t *testing.T) {
	assert.Equal(t, "https://a.example.com", normalizeIssuer(" https://a.example.com/ "))
	assert.Equal(t, "https://a.example.com/oauth2/default", normalizeIssuer("https://a.example.com/oauth2/default"))
}
