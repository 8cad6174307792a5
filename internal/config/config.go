package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	DB struct {
		DSN      string `yaml:"dsn"`
		MaxConns int    `yaml:"max_conns"`
		MinConns int    `yaml:"min_conns"`
	} `yaml:"db"`
	Gateway struct {
		StripeAPIKey   string `yaml:"stripe_api_key"`
		NativeCurrency string `yaml:"native_currency"`
	} `yaml:"gateway"`
	Chain struct {
		ChainID              int64    `yaml:"chain_id"`
		RPCEndpoints         []string `yaml:"rpc_endpoints"`
		WSEndpoint           string   `yaml:"ws_endpoint"`
		RegistryAddress      string   `yaml:"registry_address"`
		TreasuryAddress      string   `yaml:"treasury_address"`
		SignerEndpoint       string   `yaml:"signer_endpoint"`
		SignerAPIKey         string   `yaml:"signer_api_key"`
		SignerAddress        string   `yaml:"signer_address"`
		ConfirmTimeoutSecs   int      `yaml:"confirm_timeout_seconds"`
		ConfirmPollMillis    int      `yaml:"confirm_poll_ms"`
		RPCFailoverThreshold int      `yaml:"rpc_failover_threshold"`
	} `yaml:"chain"`
	Issuance struct {
		LockTTLMinutes   int    `yaml:"lock_ttl_minutes"`
		KeyDurationHours int    `yaml:"key_duration_hours"`
		ReferralTag      string `yaml:"referral_tag"`
	} `yaml:"issuance"`
	Retry struct {
		MaxAttempts       int     `yaml:"max_attempts"`
		InitialDelayMs    int     `yaml:"initial_delay_ms"`
		BackoffMultiplier float64 `yaml:"backoff_multiplier"`
		MaxDelayMs        int     `yaml:"max_delay_ms"`
	} `yaml:"retry"`
	Worker struct {
		IntervalSeconds int `yaml:"interval_seconds"`
		BatchSize       int `yaml:"batch_size"`
	} `yaml:"worker"`
	Notify struct {
		WebhookURL string `yaml:"webhook_url"`
	} `yaml:"notify"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	// Chain and signer settings are validated per invocation so that a
	// misconfigured deployment surfaces as a recorded issuance error on the
	// order rather than a dead process.
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Issuance.LockTTLMinutes <= 0 {
		cfg.Issuance.LockTTLMinutes = 10
	}
	if cfg.Issuance.KeyDurationHours <= 0 {
		cfg.Issuance.KeyDurationHours = 24 * 30
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialDelayMs <= 0 {
		cfg.Retry.InitialDelayMs = 500
	}
	if cfg.Retry.BackoffMultiplier <= 1 {
		cfg.Retry.BackoffMultiplier = 2
	}
	if cfg.Retry.MaxDelayMs <= 0 {
		cfg.Retry.MaxDelayMs = 10000
	}
	if cfg.Chain.ConfirmTimeoutSecs <= 0 {
		cfg.Chain.ConfirmTimeoutSecs = 90
	}
	if cfg.Chain.ConfirmPollMillis <= 0 {
		cfg.Chain.ConfirmPollMillis = 2000
	}
	if cfg.Worker.IntervalSeconds <= 0 {
		cfg.Worker.IntervalSeconds = 30
	}
	if cfg.Worker.BatchSize <= 0 {
		cfg.Worker.BatchSize = 20
	}
	if cfg.Gateway.NativeCurrency == "" {
		cfg.Gateway.NativeCurrency = "ETH"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("DB_MAX_CONNS"); v != "" {
		cfg.DB.MaxConns = atoiOr(cfg.DB.MaxConns, v)
	}
	if v := os.Getenv("DB_MIN_CONNS"); v != "" {
		cfg.DB.MinConns = atoiOr(cfg.DB.MinConns, v)
	}
	if v := os.Getenv("STRIPE_API_KEY"); v != "" {
		cfg.Gateway.StripeAPIKey = v
	}
	if v := os.Getenv("NATIVE_CURRENCY"); v != "" {
		cfg.Gateway.NativeCurrency = v
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		cfg.Chain.ChainID = atoi64Or(cfg.Chain.ChainID, v)
	}
	if v := os.Getenv("RPC_ENDPOINTS"); v != "" {
		cfg.Chain.RPCEndpoints = splitCommaList(v)
	}
	if v := os.Getenv("WS_ENDPOINT"); v != "" {
		cfg.Chain.WSEndpoint = v
	}
	if v := os.Getenv("REGISTRY_ADDRESS"); v != "" {
		cfg.Chain.RegistryAddress = v
	}
	if v := os.Getenv("TREASURY_ADDRESS"); v != "" {
		cfg.Chain.TreasuryAddress = v
	}
	if v := os.Getenv("SIGNER_ENDPOINT"); v != "" {
		cfg.Chain.SignerEndpoint = v
	}
	if v := os.Getenv("SIGNER_API_KEY"); v != "" {
		cfg.Chain.SignerAPIKey = v
	}
	if v := os.Getenv("SIGNER_ADDRESS"); v != "" {
		cfg.Chain.SignerAddress = v
	}
	if v := os.Getenv("CONFIRM_TIMEOUT_SECONDS"); v != "" {
		cfg.Chain.ConfirmTimeoutSecs = atoiOr(cfg.Chain.ConfirmTimeoutSecs, v)
	}
	if v := os.Getenv("CONFIRM_POLL_MS"); v != "" {
		cfg.Chain.ConfirmPollMillis = atoiOr(cfg.Chain.ConfirmPollMillis, v)
	}
	if v := os.Getenv("RPC_FAILOVER_THRESHOLD"); v != "" {
		cfg.Chain.RPCFailoverThreshold = atoiOr(cfg.Chain.RPCFailoverThreshold, v)
	}
	if v := os.Getenv("LOCK_TTL_MINUTES"); v != "" {
		cfg.Issuance.LockTTLMinutes = atoiOr(cfg.Issuance.LockTTLMinutes, v)
	}
	if v := os.Getenv("KEY_DURATION_HOURS"); v != "" {
		cfg.Issuance.KeyDurationHours = atoiOr(cfg.Issuance.KeyDurationHours, v)
	}
	if v := os.Getenv("REFERRAL_TAG"); v != "" {
		cfg.Issuance.ReferralTag = v
	}
	if v := os.Getenv("RETRY_MAX_ATTEMPTS"); v != "" {
		cfg.Retry.MaxAttempts = atoiOr(cfg.Retry.MaxAttempts, v)
	}
	if v := os.Getenv("RETRY_INITIAL_DELAY_MS"); v != "" {
		cfg.Retry.InitialDelayMs = atoiOr(cfg.Retry.InitialDelayMs, v)
	}
	if v := os.Getenv("RETRY_MAX_DELAY_MS"); v != "" {
		cfg.Retry.MaxDelayMs = atoiOr(cfg.Retry.MaxDelayMs, v)
	}
	if v := os.Getenv("WORKER_INTERVAL_SECONDS"); v != "" {
		cfg.Worker.IntervalSeconds = atoiOr(cfg.Worker.IntervalSeconds, v)
	}
	if v := os.Getenv("WORKER_BATCH_SIZE"); v != "" {
		cfg.Worker.BatchSize = atoiOr(cfg.Worker.BatchSize, v)
	}
	if v := os.Getenv("NOTIFY_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
