package configuration

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/medtrail/casesync/pkg/logging"
)

const Production = "production"

var singleton = sync.OnceValue(func() *Configuration {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		c.Unload()
		panic(err)
	}
	return c
})

func LoadEnv(envFiles []string) (int, error) {
	existingFiles := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existingFiles = append(existingFiles, file)
		}
	}
	if len(existingFiles) == 0 {
		return 0, nil
	}
	return len(existingFiles), godotenv.Load(existingFiles...)
}

// DatabaseOptions configures the connection to the authoritative backend.
type DatabaseOptions struct {
	Opts     string `env:"-"`
	Name     string `env:"DB_NAME" envDefault:"casesync"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Name, d.Password,
	)
}

// LocalStoreOptions configures the durable on-device store holding case
// snapshots and the pending-operation queue.
type LocalStoreOptions struct {
	Path string `env:"LOCAL_STORE_PATH" envDefault:"./data/casesync.db"`
}

// SyncOptions configures queue draining.
type SyncOptions struct {
	PollInterval    time.Duration `env:"SYNC_POLL_INTERVAL" envDefault:"15s"`
	BatchSize       int           `env:"SYNC_BATCH_SIZE" envDefault:"50"`
	MaxAttempts     int           `env:"SYNC_MAX_ATTEMPTS" envDefault:"5"`
	MaxBackoff      time.Duration `env:"SYNC_MAX_BACKOFF" envDefault:"60s"`
	JitterMax       time.Duration `env:"SYNC_JITTER_MAX" envDefault:"200ms"`
	DispatchTimeout time.Duration `env:"SYNC_DISPATCH_TIMEOUT" envDefault:"30s"`
	Concurrency     int           `env:"SYNC_CONCURRENCY" envDefault:"4"`

	LastErrorMaxBytes int `env:"SYNC_LAST_ERROR_MAX_BYTES" envDefault:"2048"`

	// MaxPending bounds the not-yet-committed backlog; zero means unbounded.
	MaxPending int `env:"SYNC_MAX_PENDING" envDefault:"0"`

	CleanerEnabled       bool          `env:"SYNC_CLEANER_ENABLED" envDefault:"true"`
	CleanerInterval      time.Duration `env:"SYNC_CLEANER_INTERVAL" envDefault:"1m"`
	CleanerRetention     time.Duration `env:"SYNC_CLEANER_RETENTION" envDefault:"168h"`
	CleanerDeadRetention time.Duration `env:"SYNC_CLEANER_DEAD_RETENTION" envDefault:"0"`
}

func (s *SyncOptions) Validate() error {
	if s.MaxAttempts <= 0 {
		return fmt.Errorf("sync MaxAttempts must be positive, got %d", s.MaxAttempts)
	}
	if s.BatchSize <= 0 {
		return fmt.Errorf("sync BatchSize must be positive, got %d", s.BatchSize)
	}
	if s.Concurrency <= 0 {
		return fmt.Errorf("sync Concurrency must be positive, got %d", s.Concurrency)
	}
	return nil
}

// MonitorOptions configures backend reachability probing. Transitions are
// debounced: a state change requires the configured number of consecutive
// probe results.
type MonitorOptions struct {
	ProbeInterval    time.Duration `env:"MONITOR_PROBE_INTERVAL" envDefault:"10s"`
	ProbeTimeout     time.Duration `env:"MONITOR_PROBE_TIMEOUT" envDefault:"3s"`
	OfflineThreshold int           `env:"MONITOR_OFFLINE_THRESHOLD" envDefault:"2"`
	OnlineThreshold  int           `env:"MONITOR_ONLINE_THRESHOLD" envDefault:"1"`
}

func (m *MonitorOptions) Validate() error {
	if m.OfflineThreshold <= 0 {
		return fmt.Errorf("monitor OfflineThreshold must be positive, got %d", m.OfflineThreshold)
	}
	if m.OnlineThreshold <= 0 {
		return fmt.Errorf("monitor OnlineThreshold must be positive, got %d", m.OnlineThreshold)
	}
	return nil
}

// ReferenceOptions configures case reference number formatting.
type ReferenceOptions struct {
	Prefix string `env:"REFERENCE_PREFIX" envDefault:"TMC"`
}

type Configuration struct {
	Database   DatabaseOptions
	LocalStore LocalStoreOptions
	Sync       SyncOptions
	Monitor    MonitorOptions
	Reference  ReferenceOptions

	GoAppEnvironment string `env:"GO_APP_ENV" envDefault:"development"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"error"`
	LogPath          string `env:"LOG_PATH" envDefault:"./logs/casesync.log"`

	logFile *os.File
	logger  *logrus.Logger
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.ErrorLevel
	}
}

func Use() *Configuration {
	return singleton()
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := env.Parse(c); err != nil {
		return err
	}

	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync configuration error: %w", err)
	}
	if err := c.Monitor.Validate(); err != nil {
		return fmt.Errorf("monitor configuration error: %w", err)
	}

	f, logger, err := logging.FileLogger(c.LogrusLogLevel(), c.LogPath)
	if err != nil {
		return err
	}
	c.logFile = f
	c.logger = logger

	c.Database.Opts = c.Database.ConnectionString()
	return nil
}

// Unload handles a graceful shutdown.
func (c *Configuration) Unload() {
	if c.logFile != nil {
		_ = c.logFile.Close()
	}
}
