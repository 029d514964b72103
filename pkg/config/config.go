package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config represents the application configuration
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	Redis          RedisConfig          `yaml:"redis"`
	Logging        LoggingConfig        `yaml:"logging"`
	Monitoring     MonitoringConfig     `yaml:"monitoring"`
	Notification   NotificationConfig   `yaml:"notification"`
	Solana         SolanaNetworkConfig  `yaml:"solana"`
	Wallet         WalletConfig         `yaml:"wallet"`
	Aggregator     AggregatorConfig     `yaml:"aggregator"`
	FlashLoan      FlashLoanConfig      `yaml:"flash_loan"`
	Finder         FinderConfig         `yaml:"finder"`
	Economics      EconomicsConfig      `yaml:"economics"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Bundle         BundleConfig         `yaml:"bundle"`
	BlockEngine    BlockEngineConfig    `yaml:"block_engine"`
	Execution      ExecutionConfig      `yaml:"execution"`
	Assets         map[string]AssetConfig `yaml:"assets"`
	ALT            ALTConfig            `yaml:"alt"`
}

// AssetConfig names one tradeable mint by its on-chain address and
// decimals, keyed by symbol everywhere else in the configuration
// (finder.input_assets, finder.bridge_assets, flash_loan.preheat_assets).
type AssetConfig struct {
	Mint     string `yaml:"mint"`
	Decimals uint8  `yaml:"decimals"`
}

// ALTConfig points the ALT Manager at its managed lookup table and any
// well-known tables worth preloading at startup (§4.6).
type ALTConfig struct {
	ExistingAddress      string   `yaml:"existing_address"`
	WellKnownAddresses   []string `yaml:"well_known_addresses"`
}

// ServerConfig represents the HTTP server configuration (health/metrics endpoint)
type ServerConfig struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	Environment    string        `yaml:"environment"`
	Timeout        time.Duration `yaml:"timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
	GRPCPort       int           `yaml:"grpc_port"`
}

// DatabaseConfig represents the database configuration
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Enabled         bool          `yaml:"enabled"`
}

// RedisConfig represents the Redis configuration
type RedisConfig struct {
	Addresses              []string      `yaml:"addresses"`
	Host                   string        `yaml:"host"`
	Port                   int           `yaml:"port"`
	Password               string        `yaml:"password"`
	DB                     int           `yaml:"db"`
	PoolSize               int           `yaml:"pool_size"`
	MinIdleConns           int           `yaml:"min_idle_conns"`
	DialTimeout            time.Duration `yaml:"dial_timeout"`
	ReadTimeout            time.Duration `yaml:"read_timeout"`
	WriteTimeout           time.Duration `yaml:"write_timeout"`
	PoolTimeout            time.Duration `yaml:"pool_timeout"`
	IdleTimeout            time.Duration `yaml:"idle_timeout"`
	IdleCheckFrequency     time.Duration `yaml:"idle_check_frequency"`
	MaxRetries             int           `yaml:"max_retries"`
	MinRetryBackoff        time.Duration `yaml:"min_retry_backoff"`
	MaxRetryBackoff        time.Duration `yaml:"max_retry_backoff"`
	EnableCluster          bool          `yaml:"enable_cluster"`
	RouteByLatency         bool          `yaml:"route_by_latency"`
	RouteRandomly          bool          `yaml:"route_randomly"`
	EnableReadFromReplicas bool          `yaml:"enable_read_from_replicas"`
	Enabled                bool          `yaml:"enabled"`
}

// SolanaNetworkConfig represents the configuration for the Solana network
type SolanaNetworkConfig struct {
	Network            string `yaml:"network"`
	RPCURL             string `yaml:"rpc_url"`
	WSURL              string `yaml:"ws_url"`
	Cluster            string `yaml:"cluster"`
	Commitment         string `yaml:"commitment"`
	Timeout            string `yaml:"timeout"`
	MaxRetries         int    `yaml:"max_retries"`
	ConfirmationBlocks int    `yaml:"confirmation_blocks"`
	BlockhashCacheTTL  string `yaml:"blockhash_cache_ttl"`
}

// WalletConfig describes where the executor's signing keypair comes from.
// Precedence is environment variable over config-declared file path (§6).
type WalletConfig struct {
	KeypairPath  string `yaml:"keypair_path"`
	SecretEnvVar string `yaml:"secret_env_var"`
	MinBalanceSOL float64 `yaml:"min_balance_sol"`
}

// LoggingConfig represents the logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"`
	MaxAge     int    `yaml:"max_age"`
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
}

// MonitoringConfig represents the monitoring configuration
type MonitoringConfig struct {
	Prometheus  PrometheusConfig  `yaml:"prometheus"`
	HealthCheck HealthCheckConfig `yaml:"health_check"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// PrometheusConfig represents the Prometheus configuration
type PrometheusConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// HealthCheckConfig represents the health check configuration
type HealthCheckConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// MetricsConfig represents the metrics configuration
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// NotificationConfig represents fire-and-forget notification sinks
type NotificationConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
}

// KafkaConfig configures the fire-and-forget event sink
type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	WriteTimeout string   `yaml:"write_timeout"`
}

// AggregatorConfig configures the swap-route aggregator client (Jupiter-shaped, §6)
type AggregatorConfig struct {
	BaseURL              string `yaml:"base_url"`
	RequestTimeout       string `yaml:"request_timeout"`
	RetryAttempts        int    `yaml:"retry_attempts"`
	RetryBaseBackoff     string `yaml:"retry_base_backoff"`
	SlippageBps          int    `yaml:"slippage_bps"`
	RestrictIntermediate bool   `yaml:"restrict_intermediate_tokens"`
	DefaultDexes         []string `yaml:"default_dexes"`
}

// FlashLoanConfig configures the flash-loan adapter (§4.7)
type FlashLoanConfig struct {
	Provider         string  `yaml:"provider"` // "aave" (nonzero fee) or "zerofee"
	FeeBps           int     `yaml:"fee_bps"`
	MinBorrow        uint64  `yaml:"min_borrow_lamports"`
	MaxBorrow        uint64  `yaml:"max_borrow_lamports"`
	MinMultiplier    float64 `yaml:"min_multiplier"`
	MaxMultiplier    float64 `yaml:"max_multiplier"`
	SafetyFactor     float64 `yaml:"safety_factor"`
	TemplateTTL      string  `yaml:"template_ttl"`
	PreheatAssets    []string `yaml:"preheat_assets"`
	ProgramID        string            `yaml:"program_id"`
	LiquidityVault   string            `yaml:"liquidity_vault"`
	AuthorityPDA     string            `yaml:"authority_pda"`
	ReserveAccounts  map[string]string `yaml:"reserve_accounts"` // asset symbol -> reserve account
}

// FinderConfig configures the opportunity finder worker pool (§4.1)
type FinderConfig struct {
	WorkerCount      int      `yaml:"worker_count"`
	QueryIntervalMs  int      `yaml:"query_interval_ms"`
	InputAssets      []string `yaml:"input_assets"`
	BridgeAssets     []string `yaml:"bridge_assets"`
	MinProfitLamports uint64  `yaml:"min_profit_lamports"`
	QuoteSizeLamports uint64  `yaml:"quote_size_lamports"`
}

// EconomicsConfig configures the fee decomposition and profit model (§4.2)
type EconomicsConfig struct {
	BaseFeeLamports       uint64  `yaml:"base_fee_lamports"`
	SignatureCount        int     `yaml:"signature_count"`
	PriorityFeeLamports   uint64  `yaml:"priority_fee_lamports"`
	TipPercent            float64 `yaml:"tip_percent"`
	SlippageBufferBps     int     `yaml:"slippage_buffer_bps"`
	EnableNetProfitCheck  bool    `yaml:"enable_net_profit_check"`
	AbnormalROIThreshold  float64 `yaml:"abnormal_roi_threshold"`
}

// CircuitBreakerConfig configures the trading circuit breaker (§4.2)
type CircuitBreakerConfig struct {
	MaxConsecutiveFailures int     `yaml:"max_consecutive_failures"`
	MaxHourlyLossLamports  uint64  `yaml:"max_hourly_loss_lamports"`
	MinSuccessRate         float64 `yaml:"min_success_rate"`
	MinSampleSize          int     `yaml:"min_sample_size"`
	CooldownPeriod         string  `yaml:"cooldown_period"`
}

// BundleConfig configures size limits and the single-tx/bundle split (§4.3, §4.5)
type BundleConfig struct {
	MaxRawBytes     int `yaml:"max_raw_bytes"`
	MaxBase64Bytes  int `yaml:"max_base64_bytes"`
	MaxDexes        int `yaml:"max_dexes"`          // active provider charges a fee
	MaxDexesZeroFee int `yaml:"max_dexes_zero_fee"` // looser bound when the provider is free
	MaxAccounts     int `yaml:"max_accounts"`
}

// BlockEngineConfig configures submission to the block-engine (§4.8)
type BlockEngineConfig struct {
	Endpoint       string `yaml:"endpoint"`
	TipAccount     string `yaml:"tip_account"`
	MinTipLamports uint64 `yaml:"min_tip_lamports"`
	MaxTipLamports uint64 `yaml:"max_tip_lamports"`
	ConfirmTimeout string `yaml:"confirm_timeout"`
	PollInterval   string `yaml:"poll_interval"`
	RequestTimeout string `yaml:"request_timeout"`
}

// ExecutionConfig carries the top-level safety gates (§4.8, §6)
type ExecutionConfig struct {
	DryRun           bool `yaml:"dry_run"`
	SimulateToBundle bool `yaml:"simulate_to_bundle"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

// Load loads the configuration from a file (alias for LoadConfig)
func Load(configPath string) (*Config, error) {
	return LoadConfig(configPath)
}
