package cfg

import "time"

type Cfg struct {
	// Database configuration
	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	SQLitePath string

	// Bus configuration
	BusBackend        string
	BusTopic          string
	KafkaBrokers      []string
	RedisAddr         string
	RedisStreamMaxLen int64

	// Pipeline configuration
	FetchTimeout       time.Duration
	OperationTimeout   time.Duration
	ShutdownGrace      time.Duration
	PublishMaxAttempts int
	LedgerMaxAttempts  int

	// Application configuration
	FeedsDir     string
	Port         string
	APIAccessKey string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
