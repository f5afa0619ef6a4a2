package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// MinimumTrainingDays is the smallest history window a training run accepts.
const MinimumTrainingDays = 180

// DefaultFeatures is the model's feature list in priority order.
var DefaultFeatures = []string{
	"log_return_lag1",
	"volume_change",
	"volatility_8h",
	"vader_sentiment",
	"rsi_14",
	"macd",
	"bollinger_width",
	"on_chain_volume",
	"social_volume",
	"market_cap_rank",
}

type Config struct {
	Environment string           `yaml:"environment" default:"development"`
	Server      ServerConfig     `yaml:"server"`
	Log         LogConfig        `yaml:"log"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	App         AppConfig        `yaml:"app"`
	APIKeys     APIKeysConfig    `yaml:"api_keys"`
	Data        DataConfig       `yaml:"data"`
	Model       ModelConfig      `yaml:"model"`
	Tuning      TuningConfig     `yaml:"tuning"`
	Tools       ToolsConfig      `yaml:"tools"`
	Redis       RedisConfig      `yaml:"redis"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Kafka       KafkaConfig      `yaml:"kafka"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" default:"8001"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	CORS            bool          `yaml:"cors" default:"true"`
	RateLimit       struct {
		Enabled bool    `yaml:"enabled" default:"true"`
		RPS     float64 `yaml:"rps" default:"5"`
		Burst   int     `yaml:"burst" default:"10"`
	} `yaml:"rate_limit"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"console"`
	Output string `yaml:"output" default:"stdout"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

// AppConfig identifies the deployment; it feeds the version banner.
type AppConfig struct {
	Competition  string `yaml:"competition" default:"competition19"`
	TopicID      string `yaml:"topic_id" default:"65"`
	Token        string `yaml:"token" default:"BTC"`
	Timeframe    string `yaml:"timeframe" default:"8h"`
	TrainingDays int    `yaml:"training_days" default:"365"`
	Region       string `yaml:"region" default:"com"`
	DataProvider string `yaml:"data_provider" default:"binance"`
	Model        string `yaml:"model" default:"LSTM_Hybrid"`
}

type APIKeysConfig struct {
	CoinGecko    string `yaml:"coingecko"`
	Helius       string `yaml:"helius"`
	HeliusRPCURL string `yaml:"helius_rpc_url" default:"https://mainnet.helius-rpc.com"`
	Bitquery     string `yaml:"bitquery"`
}

type DataConfig struct {
	Dir             string `yaml:"dir" default:"data"`
	SolSource       string `yaml:"sol_source" default:"raw_sol.csv"`
	EthSource       string `yaml:"eth_source" default:"raw_eth.csv"`
	FeaturesPath    string `yaml:"features_path" default:"features_sol.csv"`
	FeaturesPathETH string `yaml:"features_path_eth" default:"features_eth.csv"`
}

type ModelConfig struct {
	Features          []string `yaml:"features"`
	VarianceThreshold float64  `yaml:"variance_threshold" default:"0.01"`
	CorrThreshold     float64  `yaml:"corr_threshold" default:"0.25"`
	R2Target          float64  `yaml:"r2_target" default:"0.1"`
	MaxDepth          int      `yaml:"max_depth" default:"5"`
	NumLeaves         int      `yaml:"num_leaves" default:"20"`
	RegAlpha          float64  `yaml:"reg_alpha" default:"0.1"`
	RegLambda         float64  `yaml:"reg_lambda" default:"0.1"`
	UseSentiment      bool     `yaml:"use_sentiment" default:"true"`
	EnsembleMethod    string   `yaml:"ensemble_method" default:"average"`
	Smoothing         string   `yaml:"smoothing" default:"exponential"`
}

type TuningConfig struct {
	Enabled      bool          `yaml:"enabled" default:"true"`
	Trials       int           `yaml:"trials" default:"20"`
	Parallelism  int           `yaml:"parallelism" default:"1"`
	Seed         int64         `yaml:"seed"`
	Objective    string        `yaml:"objective" default:"random"`
	EvaluatorURL string        `yaml:"evaluator_url"`
	Timeout      time.Duration `yaml:"timeout" default:"3s"`
	Retries      int           `yaml:"retries" default:"2"`
	ResultTTL    time.Duration `yaml:"result_ttl" default:"24h"`
}

type ToolsConfig struct {
	WriteRoot    string `yaml:"write_root"`
	MaxCodeBytes int64  `yaml:"max_code_bytes" default:"1048576"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix" default:"forecastmcp"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"forecast"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
}

type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
	EventsTopic   string   `yaml:"events_topic" default:"forecast.tuning.events"`
	RequestsTopic string   `yaml:"requests_topic" default:"forecast.tuning.requests"`
	LogsTopic     string   `yaml:"logs_topic"`
	RequiredAcks  int      `yaml:"required_acks" default:"-1"`
	Compression   string   `yaml:"compression" default:"gzip"`
	Producer      struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		Linger       time.Duration `yaml:"linger" default:"200ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		Enabled    bool          `yaml:"enabled"`
		GroupID    string        `yaml:"group_id" default:"forecastmcp"`
		Workers    int           `yaml:"workers" default:"1"`
		BufferSize int           `yaml:"buffer_size" default:"10"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
		DLQTopic   string        `yaml:"dlq_topic"`
		MinBytes   int           `yaml:"min_bytes" default:"1"`
		MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
	} `yaml:"consumer"`
	Pipeline struct {
		BufferSize int `yaml:"buffer_size" default:"1000"`
	} `yaml:"pipeline"`
}

// envOverrides lists the variables the deployment scripts set directly.
type envOverrides struct {
	Environment     string   `envconfig:"ENVIRONMENT"`
	Competition     string   `envconfig:"COMPETITION"`
	TopicID         string   `envconfig:"TOPIC_ID"`
	Token           string   `envconfig:"TOKEN"`
	Timeframe       string   `envconfig:"TIMEFRAME"`
	FlaskPort       *int     `envconfig:"FLASK_PORT"`
	MCPPort         *int     `envconfig:"MCP_PORT"`
	TrainingDays    *int     `envconfig:"TRAINING_DAYS"`
	Region          string   `envconfig:"REGION"`
	DataProvider    string   `envconfig:"DATA_PROVIDER"`
	Model           string   `envconfig:"MODEL"`
	CGAPIKey        string   `envconfig:"CG_API_KEY"`
	HeliusAPIKey    string   `envconfig:"HELIUS_API_KEY"`
	HeliusRPCURL    string   `envconfig:"HELIUS_RPC_URL"`
	BitqueryAPIKey  string   `envconfig:"BITQUERY_API_KEY"`
	SolSource       string   `envconfig:"SOL_SOURCE"`
	EthSource       string   `envconfig:"ETH_SOURCE"`
	FeaturesPath    string   `envconfig:"FEATURES_PATH"`
	FeaturesPathETH string   `envconfig:"FEATURES_PATH_ETH"`
	LogLevel        string   `envconfig:"LOG_LEVEL"`
	WriteRoot       *string  `envconfig:"WRITE_ROOT"`
	UseOptimizer    *bool    `envconfig:"USE_OPTIMIZER"`
	KafkaBrokers    []string `envconfig:"KAFKA_BROKERS"`
	RedisHost       string   `envconfig:"REDIS_HOST"`
	ClickHouseHost  string   `envconfig:"CLICKHOUSE_HOST"`
}

// Load reads and parses a YAML configuration file on top of the struct defaults.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	if len(c.Model.Features) == 0 {
		c.Model.Features = append([]string(nil), DefaultFeatures...)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads .env (if present), the YAML config, then applies environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("read env: %w", err)
	}

	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setString(&c.Environment, env.Environment)
	setString(&c.App.Competition, env.Competition)
	setString(&c.App.TopicID, env.TopicID)
	setString(&c.App.Token, env.Token)
	setString(&c.App.Timeframe, env.Timeframe)
	setString(&c.App.Region, env.Region)
	setString(&c.App.DataProvider, env.DataProvider)
	setString(&c.App.Model, env.Model)
	setString(&c.APIKeys.CoinGecko, env.CGAPIKey)
	setString(&c.APIKeys.Helius, env.HeliusAPIKey)
	setString(&c.APIKeys.HeliusRPCURL, env.HeliusRPCURL)
	setString(&c.APIKeys.Bitquery, env.BitqueryAPIKey)
	setString(&c.Data.SolSource, env.SolSource)
	setString(&c.Data.EthSource, env.EthSource)
	setString(&c.Data.FeaturesPath, env.FeaturesPath)
	setString(&c.Data.FeaturesPathETH, env.FeaturesPathETH)
	setString(&c.Log.Level, env.LogLevel)
	setString(&c.Redis.Host, env.RedisHost)
	setString(&c.ClickHouse.Host, env.ClickHouseHost)

	// MCP_PORT wins over the legacy FLASK_PORT.
	if env.FlaskPort != nil {
		c.Server.Port = *env.FlaskPort
	}
	if env.MCPPort != nil {
		c.Server.Port = *env.MCPPort
	}
	if env.TrainingDays != nil {
		c.App.TrainingDays = *env.TrainingDays
	}
	if env.WriteRoot != nil {
		c.Tools.WriteRoot = *env.WriteRoot
	}
	if env.UseOptimizer != nil {
		c.Tuning.Enabled = *env.UseOptimizer
	}
	if len(env.KafkaBrokers) > 0 {
		c.Kafka.Brokers = env.KafkaBrokers
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.App.Token == "" {
		return fmt.Errorf("app.token is required")
	}
	if c.App.Timeframe == "" {
		return fmt.Errorf("app.timeframe is required")
	}
	if c.App.TrainingDays < MinimumTrainingDays {
		return fmt.Errorf("app.training_days must be >= %d, got %d", MinimumTrainingDays, c.App.TrainingDays)
	}
	if c.Model.VarianceThreshold < 0 {
		return fmt.Errorf("model.variance_threshold must be >= 0")
	}
	if c.Model.CorrThreshold < 0 || c.Model.CorrThreshold >= 1 {
		return fmt.Errorf("model.corr_threshold must be in [0,1)")
	}
	if c.Tuning.Trials <= 0 {
		return fmt.Errorf("tuning.trials must be > 0")
	}
	if c.Tuning.Parallelism <= 0 {
		return fmt.Errorf("tuning.parallelism must be > 0")
	}
	switch c.Tuning.Objective {
	case "random":
	case "remote":
		if c.Tuning.EvaluatorURL == "" {
			return fmt.Errorf("tuning.evaluator_url is required for the remote objective")
		}
	default:
		return fmt.Errorf("tuning.objective must be 'random' or 'remote', got '%s'", c.Tuning.Objective)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}

// Version renders the banner served on GET /.
func (a AppConfig) Version(now time.Time) string {
	return fmt.Sprintf("%s-%s-topic%s-app-%s-%s",
		now.UTC().Format("2006-01-02"),
		a.Competition,
		a.TopicID,
		strings.ToLower(a.Token),
		a.Timeframe,
	)
}

// Path resolves name under the data directory; relative directories are anchored at the working directory.
func (d DataConfig) Path(name string) string {
	dir := d.Dir
	if !filepath.IsAbs(dir) {
		if wd, err := os.Getwd(); err == nil {
			dir = filepath.Join(wd, dir)
		}
	}
	return filepath.Join(dir, name)
}

func (d DataConfig) SelectedFeaturesFile() string { return d.Path("selected_features.json") }
func (d DataConfig) BestModelFile() string        { return d.Path("best_model.json") }
