// Package config provides application configuration loaded from environment variables.
// Use the package-level Get() function to obtain the singleton Config instance.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port                 string        `env:"SERVER_PORT"            envDefault:"8080"`
	BackofficePort       string        `env:"BACKOFFICE_PORT"        envDefault:"8081"`
	Env                  string        `env:"ENVIRONMENT"            envDefault:"development"` // "development" | "production"
	ReadTimeout          time.Duration `env:"SERVER_READ_TIMEOUT"    envDefault:"10s"`
	WriteTimeout         time.Duration `env:"SERVER_WRITE_TIMEOUT"   envDefault:"10s"`
	BackofficeAllowedIPs string        `env:"BACKOFFICE_ALLOWED_IPS"` // comma-separated IPs; "" = allow all
	AllowedOrigins       []string      `env:"ALLOWED_ORIGINS"        envSeparator:","`
	RateLimitRPS         int           `env:"RATE_LIMIT_RPS"         envDefault:"30"`
}

// DBConfig holds database connection settings.
type DBConfig struct {
	Driver          string        `env:"DB_DRIVER"            envDefault:"postgres"` // "postgres" | "sqlite"
	DSN             string        `env:"DATABASE_DSN"`                               // postgres DSN or sqlite file path
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS"    envDefault:"25"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS"    envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
}

// JWTConfig holds the session-token verification settings. Tokens are issued
// by the identity provider; this service only verifies them.
type JWTConfig struct {
	AccessSecret string        `env:"JWT_ACCESS_SECRET"`
	Issuer       string        `env:"JWT_ISSUER"`
	DevTokenTTL  time.Duration `env:"JWT_DEV_TOKEN_TTL" envDefault:"15m"`
}

// AuctionConfig holds lifecycle and concurrency policy.
type AuctionConfig struct {
	GracePeriod        time.Duration `env:"AUCTION_GRACE_PERIOD"         envDefault:"168h"`
	SweepInterval      time.Duration `env:"AUCTION_SWEEP_INTERVAL"       envDefault:"5s"`
	StoreTimeout       time.Duration `env:"AUCTION_STORE_TIMEOUT"        envDefault:"3s"`
	SweepRecordTimeout time.Duration `env:"AUCTION_SWEEP_RECORD_TIMEOUT" envDefault:"2s"`
	SweepWorkers       int           `env:"AUCTION_SWEEP_WORKERS"        envDefault:"8"`
	BidRetries         int           `env:"AUCTION_BID_RETRIES"          envDefault:"3"`
	MinDuration        time.Duration `env:"AUCTION_MIN_DURATION"         envDefault:"60s"`
	MaxDuration        time.Duration `env:"AUCTION_MAX_DURATION"         envDefault:"720h"`
}

// RedisConfig enables the pub/sub event publisher and the sweep lease.
// Empty Addr disables both.
type RedisConfig struct {
	Addr     string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB"        envDefault:"0"`
	LeaseTTL time.Duration `env:"SWEEP_LEASE_TTL" envDefault:"30s"`
}

// NATSConfig enables the JetStream archival publisher. Empty URL disables it.
type NATSConfig struct {
	URL    string        `env:"NATS_URL"`
	Stream string        `env:"NATS_STREAM"  envDefault:"AUCTION_EVENTS"`
	MaxAge time.Duration `env:"NATS_MAX_AGE" envDefault:"720h"`
}

// AMQPConfig enables the settlement-notification consumer. Empty URL disables it.
type AMQPConfig struct {
	URL        string `env:"AMQP_URL"`
	Exchange   string `env:"AMQP_EXCHANGE"    envDefault:"auction_exchange"`
	Queue      string `env:"AMQP_QUEUE"       envDefault:"auction.settlements"`
	RoutingKey string `env:"AMQP_ROUTING_KEY" envDefault:"settlement.confirmed"`
	Prefetch   int    `env:"AMQP_PREFETCH"    envDefault:"16"`
}

// ChainConfig enables the on-chain ERC-721 ownership oracle. Empty RPCURL
// makes the service trust the seller's claim.
type ChainConfig struct {
	RPCURL          string        `env:"CHAIN_RPC_URL"`
	ContractAddress string        `env:"CHAIN_NFT_CONTRACT"`
	CallTimeout     time.Duration `env:"CHAIN_CALL_TIMEOUT" envDefault:"5s"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server  ServerConfig
	DB      DBConfig
	JWT     JWTConfig
	Auction AuctionConfig
	Redis   RedisConfig
	NATS    NATSConfig
	AMQP    AMQPConfig
	Chain   ChainConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Validate checks that all required configuration values are present and
// valid. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.AccessSecret == "" {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET must be set"))
	}

	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DB.Driver))
	}
	if c.DB.DSN == "" && (c.IsProd() || c.DB.Driver == "sqlite") {
		errs = append(errs, errors.New("DATABASE_DSN must be set"))
	}

	a := c.Auction
	if a.GracePeriod <= 0 {
		errs = append(errs, fmt.Errorf("AUCTION_GRACE_PERIOD must be positive, got %s", a.GracePeriod))
	}
	if a.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("AUCTION_SWEEP_INTERVAL must be positive, got %s", a.SweepInterval))
	}
	if a.SweepWorkers < 1 {
		errs = append(errs, fmt.Errorf("AUCTION_SWEEP_WORKERS must be at least 1, got %d", a.SweepWorkers))
	}
	if a.BidRetries < 1 {
		errs = append(errs, fmt.Errorf("AUCTION_BID_RETRIES must be at least 1, got %d", a.BidRetries))
	}
	if a.MinDuration <= 0 || a.MaxDuration < a.MinDuration {
		errs = append(errs, fmt.Errorf(
			"auction duration bounds invalid: min=%s max=%s", a.MinDuration, a.MaxDuration))
	}

	if c.Chain.RPCURL != "" && !common.IsHexAddress(c.Chain.ContractAddress) {
		errs = append(errs, fmt.Errorf("CHAIN_NFT_CONTRACT must be a hex address, got %q", c.Chain.ContractAddress))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once from environment variables.
// Panics if loading fails; call this early in main() to catch misconfigurations
// at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Loaders
// ──────────────────────────────────────────────────────────────────────────────

// load reads an optional .env file, then the process environment. Variables
// already set in the environment win over the file.
func load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	normalize(cfg)
	return cfg, nil
}

// LoadFrom builds a Config from an explicit variable map instead of the
// process environment. Defaults apply to every key not present.
func LoadFrom(vars map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	normalize(cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	cfg.DB.Driver = strings.ToLower(strings.TrimSpace(cfg.DB.Driver))
	origins := cfg.Server.AllowedOrigins[:0]
	for _, o := range cfg.Server.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	cfg.Server.AllowedOrigins = origins
}
