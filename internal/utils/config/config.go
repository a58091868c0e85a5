package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/dwarvesf/escrow-backend/internal/consts"
	"github.com/dwarvesf/escrow-backend/internal/types/environments"
)

type AppConfig struct {
	Environment environments.Environment
	ApiServer   ApiServerConfig
	Database    DBConnection
	Builder     BuilderConfig
	Escrow      EscrowConfig
	Webhook     WebhookConfig
	Poller      PollerConfig
	Vault       VaultConfig
	Monitoring  MonitoringConfig
}

type ApiServerConfig struct {
	Port           string
	AllowedOrigins string
}

type DBConnection struct {
	Driver string
	// Path is the sqlite database file.
	Path string

	Host string
	Port string
	User string
	Name string
	Pass string

	SSLMode      string
	AutoMigrate  bool
	MaxOpenConns int
}

type BuilderConfig struct {
	APIURL  string
	APIKey  string
	Timeout time.Duration
}

type EscrowConfig struct {
	ScriptValidator string
	UnlockHoldTTL   time.Duration
	HoldSweepSpec   string
}

type WebhookConfig struct {
	Secret             string
	EnforceSignature   bool
	SignatureTolerance time.Duration
	DedupTTL           time.Duration
}

type PollerConfig struct {
	Interval time.Duration
}

// VaultConfig is optional; secrets found there replace the environment values.
type VaultConfig struct {
	Addr         string
	KVSecretPath string
	Role         string
	Token        string
}

type MonitoringConfig struct {
	UptimeWebhookURL string
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func New() *AppConfig {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	// this will not override env variables if they already exist
	godotenv.Load(".env." + env)

	return &AppConfig{
		Environment: environments.Environment(env),
		ApiServer: ApiServerConfig{
			Port:           envVarOrDefault("API_SERVER_PORT", "8080"),
			AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),
		},
		Database: DBConnection{
			Driver:       envVarOrDefault("DB_DRIVER", DriverSQLite),
			Path:         envVarOrDefault("DB_PATH", "escrow.db"),
			Host:         os.Getenv("DB_HOST"),
			Port:         os.Getenv("DB_PORT"),
			User:         os.Getenv("DB_USER"),
			Name:         os.Getenv("DB_NAME"),
			Pass:         os.Getenv("DB_PASS"),
			SSLMode:      os.Getenv("DB_SSL_MODE"),
			AutoMigrate:  envVarAsBool("DB_AUTO_MIGRATE"),
			MaxOpenConns: envVarAtoi("DB_MAX_OPEN_CONNS", 10),
		},
		Builder: BuilderConfig{
			APIURL:  os.Getenv("BUILDER_API_URL"),
			APIKey:  os.Getenv("BUILDER_API_KEY"),
			Timeout: envVarAsDuration("BUILDER_TIMEOUT", consts.DefaultBuilderTimeout),
		},
		Escrow: EscrowConfig{
			ScriptValidator: os.Getenv("SCRIPT_VALIDATOR"),
			UnlockHoldTTL:   envVarAsDuration("UNLOCK_HOLD_TTL", consts.DefaultUnlockHoldTTL),
			HoldSweepSpec:   envVarOrDefault("UNLOCK_HOLD_SWEEP", consts.DefaultHoldSweepSpec),
		},
		Webhook: WebhookConfig{
			Secret:             os.Getenv("WEBHOOK_SECRET"),
			EnforceSignature:   envVarAsBool("WEBHOOK_ENFORCE_SIGNATURE"),
			SignatureTolerance: envVarAsDuration("WEBHOOK_SIGNATURE_TOLERANCE", consts.DefaultSignatureSkew),
			DedupTTL:           envVarAsDuration("WEBHOOK_DEDUP_TTL", consts.DefaultDedupTTL),
		},
		Poller: PollerConfig{
			Interval: envVarAsDuration("POLL_INTERVAL", consts.DefaultPollInterval),
		},
		Vault: VaultConfig{
			Addr:         os.Getenv("VAULT_ADDR"),
			KVSecretPath: os.Getenv("VAULT_KV_SECRET_PATH"),
			Role:         os.Getenv("VAULT_ROLE"),
			Token:        os.Getenv("VAULT_TOKEN"),
		},
		Monitoring: MonitoringConfig{
			UptimeWebhookURL: os.Getenv("UPTIME_WEBHOOK_URL"),
		},
	}
}

// ApplySecrets overrides credentials with the non-empty values in secrets,
// keyed by their environment variable names.
func (c *AppConfig) ApplySecrets(secrets map[string]string) []string {
	targets := map[string]*string{
		"DB_PASS":         &c.Database.Pass,
		"BUILDER_API_KEY": &c.Builder.APIKey,
		"WEBHOOK_SECRET":  &c.Webhook.Secret,
	}

	var applied []string
	for _, key := range []string{"DB_PASS", "BUILDER_API_KEY", "WEBHOOK_SECRET"} {
		if value := secrets[key]; value != "" {
			*targets[key] = value
			applied = append(applied, key)
		}
	}
	return applied
}

func envVarOrDefault(envName, fallback string) string {
	if v := os.Getenv(envName); v != "" {
		return v
	}
	return fallback
}

func envVarAtoi(envName string, fallback int) int {
	valueStr := os.Getenv(envName)
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return fallback
	}

	return value
}

func envVarAsBool(envName string) bool {
	valueStr := os.Getenv(envName)
	return valueStr == "true"
}

func envVarAsDuration(envName string, fallback time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(envName))
	if err != nil || value <= 0 {
		return fallback
	}

	return value
}
