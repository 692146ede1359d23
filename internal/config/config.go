package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"finadvisor/backend/internal/analysis"
	"finadvisor/backend/internal/pipeline"
	"finadvisor/backend/internal/queue"
	"finadvisor/backend/internal/workflow"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Server struct {
		Addr            string        `mapstructure:"addr"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		// RunWaitLimit caps the ?wait= long-poll on run status.
		RunWaitLimit time.Duration `mapstructure:"run_wait_limit"`
	} `mapstructure:"server"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	// Store selects the persistence backend: memory or postgres.
	Store string `mapstructure:"store"`
	DB    DB     `mapstructure:"db"`
	Redis struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"redis"`
	Queue struct {
		// Bus is memory or redis.
		Bus    string             `mapstructure:"bus"`
		Worker queue.WorkerConfig `mapstructure:"worker"`
		Redis  queue.RedisConfig  `mapstructure:"redis"`
	} `mapstructure:"queue"`
	LLM struct {
		// Provider is anthropic or ollama.
		Provider  string `mapstructure:"provider"`
		Anthropic struct {
			APIKey    string        `mapstructure:"api_key"`
			BaseURL   string        `mapstructure:"base_url"`
			Model     string        `mapstructure:"model"`
			MaxTokens int           `mapstructure:"max_tokens"`
			Timeout   time.Duration `mapstructure:"timeout"`
		} `mapstructure:"anthropic"`
		Ollama struct {
			URL           string        `mapstructure:"url"`
			Model         string        `mapstructure:"model"`
			ContextLength int           `mapstructure:"context_length"`
			Timeout       time.Duration `mapstructure:"timeout"`
		} `mapstructure:"ollama"`
	} `mapstructure:"llm"`
	Knowledge struct {
		// Source is http (vector search service) or corpus (local YAML).
		Source     string        `mapstructure:"source"`
		URL        string        `mapstructure:"url"`
		APIKey     string        `mapstructure:"api_key"`
		Timeout    time.Duration `mapstructure:"timeout"`
		CorpusPath string        `mapstructure:"corpus_path"`
		CacheSize  int64         `mapstructure:"cache_size"`
		CacheTTL   time.Duration `mapstructure:"cache_ttl"`
		TopK       int           `mapstructure:"top_k"`
	} `mapstructure:"knowledge"`
	Workflow struct {
		Retry       workflow.RetryPolicy `mapstructure:"retry"`
		RunTimeout  time.Duration        `mapstructure:"run_timeout"`
		Concurrency int                  `mapstructure:"concurrency"`
	} `mapstructure:"workflow"`
	Analysis  analysis.Defaults `mapstructure:"analysis"`
	Pipeline  pipeline.Config   `mapstructure:"pipeline"`
	Auth      Auth              `mapstructure:"auth"`
	TLS       TLS               `mapstructure:"tls"`
	Scheduler struct {
		Enable bool `mapstructure:"enable"`
		// Spec is a robfig/cron expression.
		Spec       string        `mapstructure:"spec"`
		StaleAfter time.Duration `mapstructure:"stale_after"`
		BatchSize  int           `mapstructure:"batch_size"`
	} `mapstructure:"scheduler"`
	Observability struct {
		ServiceName string `mapstructure:"service_name"`
		// OTLPEndpoint enables trace export when set, e.g. localhost:4318.
		OTLPEndpoint string `mapstructure:"otlp_endpoint"`
		OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	} `mapstructure:"observability"`
}

// DB is the Postgres connection.
type DB struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// DSN renders the keyword/value connection string pgx accepts.
func (d DB) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// Auth configures the OpenID Connect provider.
type Auth struct {
	Issuer          string `mapstructure:"issuer"`
	ClientID        string `mapstructure:"client_id"`
	ClientSecret    string `mapstructure:"client_secret"`
	RedirectURL     string `mapstructure:"redirect_url"`
	SwaggerClientID string `mapstructure:"swagger_client_id"`
	SecureCookies   bool   `mapstructure:"secure_cookies"`
}

// TLS configures HTTPS serving.
type TLS struct {
	Enable    bool     `mapstructure:"enable"`
	CertFile  string   `mapstructure:"cert_file"`
	KeyFile   string   `mapstructure:"key_file"`
	Hostnames []string `mapstructure:"hostnames"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.run_wait_limit", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("store", "memory")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "finadvisor")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "finadvisor")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_conns", 10)

	v.SetDefault("redis.url", "redis://localhost:6379/0")

	wc := queue.DefaultWorkerConfig()
	rc := queue.DefaultRedisConfig()
	v.SetDefault("queue.bus", "memory")
	v.SetDefault("queue.worker.concurrency", wc.Concurrency)
	v.SetDefault("queue.worker.max_deliveries", wc.MaxDeliveries)
	v.SetDefault("queue.worker.error_backoff", wc.ErrorBackoff)
	v.SetDefault("queue.redis.stream", rc.Stream)
	v.SetDefault("queue.redis.group", rc.Group)
	v.SetDefault("queue.redis.consumer", rc.Consumer)
	v.SetDefault("queue.redis.guard_ttl", rc.GuardTTL)
	v.SetDefault("queue.redis.min_idle", rc.MinIdle)
	v.SetDefault("queue.redis.block", rc.Block)

	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.anthropic.api_key", "")
	v.SetDefault("llm.anthropic.base_url", "")
	v.SetDefault("llm.anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("llm.anthropic.max_tokens", 2048)
	v.SetDefault("llm.anthropic.timeout", 60*time.Second)
	v.SetDefault("llm.ollama.url", "http://localhost:11434")
	v.SetDefault("llm.ollama.model", "llama3.1")
	v.SetDefault("llm.ollama.context_length", 8192)
	v.SetDefault("llm.ollama.timeout", 120*time.Second)

	v.SetDefault("knowledge.source", "corpus")
	v.SetDefault("knowledge.url", "")
	v.SetDefault("knowledge.api_key", "")
	v.SetDefault("knowledge.timeout", 10*time.Second)
	v.SetDefault("knowledge.corpus_path", "config/knowledge/corpus.yaml")
	v.SetDefault("knowledge.cache_size", 1000)
	v.SetDefault("knowledge.cache_ttl", 10*time.Minute)
	v.SetDefault("knowledge.top_k", 5)

	rp := workflow.DefaultRetryPolicy()
	v.SetDefault("workflow.retry.max_attempts", rp.MaxAttempts)
	v.SetDefault("workflow.retry.initial_backoff", rp.InitialBackoff)
	v.SetDefault("workflow.retry.max_backoff", rp.MaxBackoff)
	v.SetDefault("workflow.retry.multiplier", rp.Multiplier)
	v.SetDefault("workflow.retry.attempt_timeout", rp.AttemptTimeout)
	v.SetDefault("workflow.run_timeout", 5*time.Minute)
	v.SetDefault("workflow.concurrency", 4)

	ad := analysis.DefaultDefaults()
	v.SetDefault("analysis.age", ad.Age)
	v.SetDefault("analysis.monthly_expenses", ad.MonthlyExpenses)
	v.SetDefault("analysis.monthly_income", ad.MonthlyIncome)
	v.SetDefault("analysis.dependents", ad.Dependents)
	v.SetDefault("analysis.old_regime_deductions", ad.OldRegimeDeductions)

	pc := pipeline.DefaultConfig()
	v.SetDefault("pipeline.transaction_window", pc.TransactionWindow)
	v.SetDefault("pipeline.fallback_agent", string(pc.FallbackAgent))

	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.client_id", "")
	v.SetDefault("auth.client_secret", "")
	v.SetDefault("auth.redirect_url", "http://localhost:8080/auth/callback")
	v.SetDefault("auth.swagger_client_id", "")
	v.SetDefault("auth.secure_cookies", false)

	v.SetDefault("tls.enable", false)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("tls.hostnames", []string{"localhost"})

	v.SetDefault("scheduler.enable", true)
	v.SetDefault("scheduler.spec", "@every 1m")
	v.SetDefault("scheduler.stale_after", 10*time.Minute)
	v.SetDefault("scheduler.batch_size", 50)

	v.SetDefault("observability.service_name", "finadvisor")
	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_insecure", true)
}

// LoadConfig loads the configuration from config.yaml (in . or ./config)
// and the environment. envFile, when set, is loaded into the environment
// first. Keys map to env vars by upper-casing and replacing dots, e.g.
// LLM_ANTHROPIC_API_KEY.
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// normalize issuer url (strip trailing slash if any)
	config.Auth.Issuer = normalizeIssuer(config.Auth.Issuer)

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	switch c.Store {
	case "memory", "postgres":
	default:
		return fmt.Errorf("store must be memory or postgres, got %q", c.Store)
	}
	switch c.Queue.Bus {
	case "memory", "redis":
	default:
		return fmt.Errorf("queue.bus must be memory or redis, got %q", c.Queue.Bus)
	}
	switch c.LLM.Provider {
	case "anthropic", "ollama":
	default:
		return fmt.Errorf("llm.provider must be anthropic or ollama, got %q", c.LLM.Provider)
	}
	switch c.Knowledge.Source {
	case "corpus":
	case "http":
		if c.Knowledge.URL == "" {
			return errors.New("knowledge.url is required when knowledge.source is http")
		}
	default:
		return fmt.Errorf("knowledge.source must be http or corpus, got %q", c.Knowledge.Source)
	}
	return nil
}

// normalizeIssuer ensures the provided issuer string is in a predictable
// form. It removes any trailing slash and leaves the scheme and path intact,
// so the URL can be pasted from the provider's admin console as-is.
func normalizeIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
