package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

const (
	// DatabaseSchemePostgres is the postgres database scheme identifier
	DatabaseSchemePostgres = "postgres"
	// DatabaseSchemeSQLite is used for local runs and tests
	DatabaseSchemeSQLite = "sqlite"

	envPrefix = "QF_"
)

type Config struct {
	RPCURL               string        `koanf:"rpc_url"`
	ChainID              int64         `koanf:"chain_id"`
	RoundID              string        `koanf:"round_id"`
	RoundEndTime         int64         `koanf:"round_end_time"` // unix seconds
	StrategyAddress      string        `koanf:"strategy_address"`
	FactoryAddress       string        `koanf:"factory_address"` // optional: QV factory to follow
	VoterRegisterAddress string        `koanf:"voter_register_address"`
	PayoutAddress        string        `koanf:"payout_address"`
	OperatorKey          string        `koanf:"operator_key"` // hex private key used for payout transactions
	StartBlock           uint64        `koanf:"start_block"`
	VoteCredits          uint64        `koanf:"vote_credits"` // per-voter credit budget, 0 = unlimited
	MatchingPool         string        `koanf:"matching_pool"`
	Token                string        `koanf:"token"`
	IPFSAPIURL           string        `koanf:"ipfs_api_url"` // optional: empty keeps blobs in the database
	HTTPAddr             string        `koanf:"http_addr"`
	PollInterval         time.Duration `koanf:"poll_interval"`
	RetryMaxAttempts     uint64        `koanf:"retry_max_attempts"`
	DatabaseURL          string        `koanf:"database_url"`
	Debug                bool          `koanf:"debug"`

	DBDialect string `koanf:"-"` // postgres or sqlite
	DBDsn     string `koanf:"-"` // DSN string passed to GORM driver
}

func defaults() Config {
	return Config{
		RPCURL:           "http://localhost:8545",
		ChainID:          1,
		VoteCredits:      100,
		MatchingPool:     "0",
		HTTPAddr:         ":8080",
		PollInterval:     5 * time.Second,
		RetryMaxAttempts: 5,
	}
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

// parseDatabaseURL interprets DATABASE_URL and returns (dialect, dsn).
// Supported schemes: postgres, postgresql, sqlite.
func parseDatabaseURL(databaseURL string) (string, string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", "", err
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case DatabaseSchemePostgres, "postgresql":
		// GORM postgres driver accepts URL DSN as-is
		return DatabaseSchemePostgres, databaseURL, nil
	case DatabaseSchemeSQLite:
		path := strings.TrimPrefix(databaseURL[len(u.Scheme):], "://")
		path = strings.TrimPrefix(path, ":")
		if path == "" {
			return "", "", fmt.Errorf("sqlite DATABASE_URL without a path")
		}
		return DatabaseSchemeSQLite, path, nil
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_URL scheme: %s", u.Scheme)
	}
}

// Load layers struct defaults, an optional YAML file named by QF_CONFIG_FILE
// and QF_* environment variables. DATABASE_URL and DEBUG are read unprefixed.
func Load() (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if path := os.Getenv(envPrefix + "CONFIG_FILE"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.DatabaseURL = strings.TrimSpace(getenv("DATABASE_URL", cfg.DatabaseURL))
	cfg.Debug = getenvBool("DEBUG", cfg.Debug)

	if cfg.DatabaseURL != "" {
		if dialect, dsn, err := parseDatabaseURL(cfg.DatabaseURL); err == nil {
			cfg.DBDialect = dialect
			cfg.DBDsn = dsn
		} else {
			fmt.Fprintf(os.Stderr, "warning: invalid DATABASE_URL, disabling persistence: %v\n", err)
		}
	}

	return cfg, nil
}

// Validate checks the settings every round command depends on.
func (c Config) Validate() error {
	if c.RoundID == "" {
		return fmt.Errorf("round_id is required")
	}
	if _, err := c.MatchingPoolAmount(); err != nil {
		return err
	}
	if c.RetryMaxAttempts == 0 {
		return fmt.Errorf("retry_max_attempts must be positive")
	}
	return nil
}

// MatchingPoolAmount parses the configured pool size.
func (c Config) MatchingPoolAmount() (decimal.Decimal, error) {
	pool, err := decimal.NewFromString(c.MatchingPool)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid matching_pool %q: %w", c.MatchingPool, err)
	}
	if pool.IsNegative() {
		return decimal.Zero, fmt.Errorf("matching_pool must not be negative")
	}
	return pool, nil
}

func (c Config) RoundEnd() time.Time {
	return time.Unix(c.RoundEndTime, 0).UTC()
}

func (c Config) String() string {
	return fmt.Sprintf("rpc=%s round=%s db=%s", c.RPCURL, c.RoundID, c.DBDialect)
}

// DebugString returns a human-friendly configuration string with masked secrets.
func (c Config) DebugString() string {
	key := ""
	if c.OperatorKey != "" {
		key = "***"
	}
	return fmt.Sprintf(
		"rpc=%s chain=%d round=%s strategy=%s payout=%s register=%s db=%s dsn=%s ipfs=%s http=%s operator_key=%s",
		c.RPCURL,
		c.ChainID,
		c.RoundID,
		c.StrategyAddress,
		c.PayoutAddress,
		c.VoterRegisterAddress,
		c.DBDialect,
		maskDSN(c.DBDialect, c.DBDsn),
		c.IPFSAPIURL,
		c.HTTPAddr,
		key,
	)
}

func maskDSN(dialect, dsn string) string {
	switch strings.ToLower(dialect) {
	case DatabaseSchemePostgres:
		if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
			if u.User != nil {
				username := u.User.Username()
				u.User = url.User(username)
			}
			return u.String()
		}
		// Fallback for DSN as key-value list
		parts := strings.Fields(dsn)
		for i, p := range parts {
			lower := strings.ToLower(p)
			if strings.HasPrefix(lower, "password=") {
				parts[i] = "password=***"
			}
		}
		return strings.Join(parts, " ")
	default:
		return dsn
	}
}
