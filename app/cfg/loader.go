package cfg

import (
	"cmp"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Database configuration
	DBDriver   string `long:"db-driver" env:"DB_DRIVER" default:"postgres" choice:"postgres" choice:"sqlite" description:"Ledger database driver"`
	DBHost     string `long:"db-host" env:"DB_HOST" default:"localhost" description:"Database host"`
	DBPort     string `long:"db-port" env:"DB_PORT" default:"5432" description:"Database port"`
	DBUser     string `long:"db-user" env:"DB_USER" default:"rss_user" description:"Database user"`
	DBPassword string `long:"db-password" env:"DB_PASSWORD" description:"Database password (required for postgres)"`
	DBName     string `long:"db-name" env:"DB_NAME" default:"rss_sieve" description:"Database name"`
	DBSSLMode  string `long:"db-sslmode" env:"DB_SSLMODE" default:"disable" description:"Postgres SSL mode"`
	SQLitePath string `long:"sqlite-path" env:"SQLITE_PATH" default:"./rss-sieve.db" description:"SQLite database file (sqlite driver only)"`

	// Bus configuration
	BusBackend        string `long:"bus-backend" env:"BUS_BACKEND" default:"kafka" choice:"kafka" choice:"redis" description:"Message bus backend"`
	BusTopic          string `long:"bus-topic" env:"BUS_TOPIC" default:"feed-entries" description:"Topic (Kafka) or stream (Redis) new entries are published to"`
	KafkaBrokers      string `long:"kafka-brokers" env:"KAFKA_BROKERS" default:"localhost:9092" description:"Comma separated list of Kafka brokers"`
	RedisAddr         string `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" description:"Redis address"`
	RedisStreamMaxLen int64  `long:"redis-stream-max-len" env:"REDIS_STREAM_MAX_LEN" default:"0" description:"Approximate Redis stream length cap (0 keeps everything)"`

	// Pipeline configuration
	FetchTimeout       time.Duration `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"30s" description:"Default per-attempt feed fetch timeout"`
	OperationTimeout   time.Duration `long:"operation-timeout" env:"OPERATION_TIMEOUT" default:"30s" description:"Timeout for a single publish or ledger commit"`
	ShutdownGrace      time.Duration `long:"shutdown-grace" env:"SHUTDOWN_GRACE" default:"30s" description:"How long to wait for running cycles on shutdown"`
	PublishMaxAttempts int           `long:"publish-max-attempts" env:"PUBLISH_MAX_ATTEMPTS" default:"5" description:"Attempts per entry publish on transport errors"`
	LedgerMaxAttempts  int           `long:"ledger-max-attempts" env:"LEDGER_MAX_ATTEMPTS" default:"3" description:"Attempts per ledger operation on storage errors"`

	// Application configuration
	FeedsDir     string `long:"feeds-dir" env:"FEEDS_DIR" default:"./feeds" description:"Directory containing feed configuration files"`
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"RSS Sieve/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

func Load() (*Cfg, error) {
	cfg, err := parse(os.Args[1:])
	if err != nil || cfg == nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	return cfg, nil
}

func parse(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBDriver:           raw.DBDriver,
		DBHost:             raw.DBHost,
		DBPort:             raw.DBPort,
		DBUser:             raw.DBUser,
		DBPassword:         raw.DBPassword,
		DBName:             raw.DBName,
		DBSSLMode:          raw.DBSSLMode,
		SQLitePath:         raw.SQLitePath,
		BusBackend:         raw.BusBackend,
		BusTopic:           raw.BusTopic,
		KafkaBrokers:       splitList(raw.KafkaBrokers),
		RedisAddr:          raw.RedisAddr,
		RedisStreamMaxLen:  raw.RedisStreamMaxLen,
		FetchTimeout:       raw.FetchTimeout,
		OperationTimeout:   raw.OperationTimeout,
		ShutdownGrace:      raw.ShutdownGrace,
		PublishMaxAttempts: raw.PublishMaxAttempts,
		LedgerMaxAttempts:  raw.LedgerMaxAttempts,
		FeedsDir:           raw.FeedsDir,
		Port:               raw.Port,
		APIAccessKey:       raw.APIAccessKey,
		UserAgent:          raw.UserAgent,
		Timezone:           raw.Timezone,
		Debug:              raw.Debug,
		Version:            GetVersion(),
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func validate(cfg *Cfg) error {
	if cfg.DBDriver == "postgres" && cfg.DBPassword == "" {
		return fmt.Errorf("db-password is required for the postgres driver")
	}
	if cfg.BusBackend == "kafka" && len(cfg.KafkaBrokers) == 0 {
		return fmt.Errorf("kafka-brokers is required for the kafka backend")
	}
	if cfg.BusTopic == "" {
		return fmt.Errorf("bus-topic is required")
	}

	positiveFields := map[string]int{
		"publish-max-attempts": cfg.PublishMaxAttempts,
		"ledger-max-attempts":  cfg.LedgerMaxAttempts,
	}
	for name, value := range positiveFields {
		if value < 1 {
			return fmt.Errorf("%s must be at least 1", name)
		}
	}

	positiveDurations := map[string]time.Duration{
		"fetch-timeout":     cfg.FetchTimeout,
		"operation-timeout": cfg.OperationTimeout,
		"shutdown-grace":    cfg.ShutdownGrace,
	}
	for name, value := range positiveDurations {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	return nil
}

func splitList(list string) []string {
	var items []string
	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			fmt.Printf("Timezone configured: %s\n", timezone)
		}
	}
	return nil
}
